/*
Package security generates the SSH credentials instances are provisioned
with.

Every project owns one ed25519 keypair, generated at project creation
and never rotated; backends install the public half on each instance
they launch so the server and the project's users can reach it. Keys
use OpenSSH encodings end to end: authorized_keys format for the public
half, OpenSSH PEM for the private half.
*/
package security
