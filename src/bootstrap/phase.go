package bootstrap

import (
	"sync/atomic"
)

// Phase is the state of a server session.
type Phase uint32

const (
	// Handshake is the exchange of hellos.
	Handshake Phase = iota
	// StreamConsensusGraph sends the exported blocks and graph metadata.
	StreamConsensusGraph
	// StreamLedger sends the ledger entries.
	StreamLedger
	// StreamAsyncPool sends the pending asynchronous messages.
	StreamAsyncPool
	// StreamPoS sends the cycle infos, then the deferred credits.
	StreamPoS
	// StreamExecutedOps sends the executed operation records, then the
	// executed denunciation records.
	StreamExecutedOps
	// Finalizing sends the changes finalized since the earliest cutoff.
	Finalizing
	// Done is the end of a successful session.
	Done
	// Error is the end of a failed session.
	Error
)

// String ...
func (p Phase) String() string {
	switch p {
	case Handshake:
		return "Handshake"
	case StreamConsensusGraph:
		return "StreamConsensusGraph"
	case StreamLedger:
		return "StreamLedger"
	case StreamAsyncPool:
		return "StreamAsyncPool"
	case StreamPoS:
		return "StreamPoS"
	case StreamExecutedOps:
		return "StreamExecutedOps"
	case Finalizing:
		return "Finalizing"
	case Done:
		return "Done"
	case Error:
		return "Error"
	default:
		return "Unknown"
	}
}

// phaseManager wraps a Phase with atomic get and set methods, so that the
// phase of a session can be observed from outside its goroutine.
type phaseManager struct {
	phase Phase
}

func (m *phaseManager) getPhase() Phase {
	return Phase(atomic.LoadUint32((*uint32)(&m.phase)))
}

func (m *phaseManager) setPhase(p Phase) {
	atomic.StoreUint32((*uint32)(&m.phase), uint32(p))
}
