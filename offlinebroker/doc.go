// Package offlinebroker implements the client side of the store-and-forward
// protocol used when the connection manager reports a peer Unreachable: an
// encrypted envelope is POSTed to a broker service, polled back by the
// recipient on every online transition and on a periodic jittered schedule,
// and acknowledged (deleted) once consumed.
//
// The broker never inspects the envelope payload; it is an opaque blob to
// this package as much as to the broker itself. A small reference in-memory
// Server implementation is included for tests and local demos, not as a
// production broker deployment.
package offlinebroker
