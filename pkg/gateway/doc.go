/*
Package gateway publishes runs through a reverse proxy on a gateway host.

Each service run gets its own domain under the configured wildcard,
backed by one site file in the proxy's sites directory. The Controller
is the single writer of that directory: it keeps an in-memory map of
applied site configs and serializes every change on one mutex, so the
files on disk always correspond to exactly what was registered.

Changes follow a fixed sequence: obtain a certificate (CertIssuer),
render the site config, write the file, reload the proxy. A failed
reload restores the previous file contents byte for byte before the
error is returned, which keeps a later unrelated reload from picking up
a rejected config. Upstream changes clone the applied config, mutate
the clone, and swap it in only after the proxy accepted it.

The System interface isolates host access. SudoSystem drives a root
owned nginx sites directory via sudo and systemctl; LocalSystem writes
directly for setups where the process owns the directory. Certificates
come from certbot (CertbotIssuer), an ACME directory via HTTP-01
(ACMEIssuer), or are assumed present (NoopIssuer).

Service is the orchestrator-facing layer: it mints the run's domain,
registers it with the controller, and adds or removes replica upstreams
as the run's jobs start and stop.
*/
package gateway
