/*
Package backend defines the interface between the orchestration core and
cloud providers.

The core never imports a cloud SDK. Providers implement Backend and Compute,
register a Factory at init (the database/sql driver pattern), and the server
adds the configured instances to a Registry that planners and reconcilers
consult.

Error contract: a *Error (or ErrNotSupported) from Compute is recoverable;
provisioning logs it and tries the next offer. NoCapacityError additionally
feeds the planner's unavailable-offerings cache. Any other error is treated
as fatal for the operation that triggered the call.
*/
package backend
