// Package graph holds the export of the consensus graph: the active blocks,
// ordered by slot and id, and the fork-choice metadata that goes with them.
//
// The graph construction algorithm lives elsewhere. This package only stores
// what it produces, serves it to bootstrap sessions in batches, and accepts
// it back on the receiving side.
package graph
