// Package worker implements worker execution contexts: isolated units of
// execution that accept request envelopes, run one operation per request
// and emit exactly one response envelope for each.
//
// Two implementations are provided. LocalContext runs operations on a
// bounded pool of goroutines inside the current process. NATSContext sends
// envelopes over NATS to one or more worker processes running a
// NATSService. Both dispatch requests through a Mux that maps every
// Operation to its Handler.
//
// A failure while computing one operation becomes a failure response tied
// to that request's correlation id. A fault, reported once through
// OnFault, is reserved for failures that make the whole context unusable.
package worker
