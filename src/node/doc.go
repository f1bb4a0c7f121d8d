// Package node runs a bootsync node.
//
// A node holds a final state and a consensus graph. It is started in one of
// two ways:
//
//	- from its own storage: the final state is reopened from the badger
//	  database (or starts empty in memory) and the graph is read back from the
//	  export written at the last bootstrap.
//	- from other nodes: the bootstrap client copies the state of one of the
//	  candidate servers, and the node commits it as its live state.
//
// Once it holds a live state, the node serves it to other nodes through a
// bootstrap server, and keeps applying the slots it finalizes. Node implements
// a small state machine (Starting, Bootstrapping, Serving, Shutdown).
package node
