// Package bootstrap implements the protocol by which a node that is new,
// restarting, or far behind copies the final state and the consensus graph of
// a running node, while that node keeps finalizing slots.
//
// Server
//
// A Server accepts connections on a StreamLayer and runs one session per
// connection, in its own goroutine. A session moves through fixed phases:
//
//	Handshake -> StreamConsensusGraph -> StreamLedger -> StreamAsyncPool ->
//	StreamPoS -> StreamExecutedOps -> Finalizing -> Done
//
// Each streaming phase records the final slot at its start (its cutoff), then
// sends batches read from the live state, one at a time, waiting for the
// client to acknowledge each of them. Batches reflect the state at the time
// they are read, which may be later than the cutoff. In the Finalizing phase
// the server sends every change finalized after the earliest cutoff, which
// brings the copy to a consistent state, then Done.
//
// Client
//
// A Client tries candidate servers in order. It keeps a cursor per stream and
// the earliest cutoff it has seen, and sends them in its hello when it
// reconnects after a transient failure, so that the server resumes where the
// previous session stopped. Batches are checked (key order, content
// identifiers) and written into a fresh FinalState. Once the changes are
// applied and the fingerprint of the copy matches the one of the server, the
// copy is handed to the Consumer, exactly once.
package bootstrap
