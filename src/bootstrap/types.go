package bootstrap

import (
	"time"

	"github.com/mosaicnetworks/bootsync/src/cursor"
	"github.com/mosaicnetworks/bootsync/src/graph"
	"github.com/mosaicnetworks/bootsync/src/models"
	"github.com/mosaicnetworks/bootsync/src/peers"
	"github.com/mosaicnetworks/bootsync/src/state"
)

// ChangeSource exposes the final slot of the live state and the changes
// finalized after a given slot.
type ChangeSource interface {
	FinalSlot() models.Slot
	ChangesSince(cutoff models.Slot) (models.StateDelta, error)
}

// StateProvider is the live final state as seen by a server. It is
// implemented by *state.FinalState.
type StateProvider interface {
	ChangeSource
	Ledger() cursor.Provider[models.Address, models.LedgerItem]
	AsyncPool() cursor.Provider[models.AsyncMessageID, models.AsyncMessage]
	Cycles() cursor.Provider[uint64, models.CycleInfo]
	Credits() cursor.Provider[models.Slot, models.SlotCredits]
	ExecutedOps() cursor.Provider[models.ExecKey, models.ExecutedOp]
	ExecutedDenunciations() cursor.Provider[models.DenunciationIndex, models.DenunciationIndex]
}

// GraphProvider is the consensus graph export. It is implemented by
// *graph.Store.
type GraphProvider interface {
	cursor.Provider[models.BlockKey, models.ExportedBlock]
	Meta() models.GraphMeta
}

// Bootstrapped is the outcome of a successful bootstrap.
type Bootstrapped struct {
	State *state.FinalState
	Graph *graph.Store

	// Peer is the server the state was copied from, and Peers the bootstrap
	// list it advertised.
	Peer  peers.Peer
	Peers []peers.Peer

	// ClockOffset is the estimated offset of the server clock relative to
	// the local clock; ServerTime is the local time of completion corrected by
	// it.
	ClockOffset time.Duration
	ServerTime  time.Time
}

// Consumer receives the bootstrapped state.
type Consumer interface {
	// CommitBootstrappedState installs the state as the node's live state.
	// It is called at most once per Bootstrap call, and the state is not
	// modified by the client afterwards.
	CommitBootstrappedState(b *Bootstrapped) error
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc func(b *Bootstrapped) error

// CommitBootstrappedState implements Consumer.
func (f ConsumerFunc) CommitBootstrappedState(b *Bootstrapped) error {
	return f(b)
}

// ServerConfig ...
type ServerConfig struct {
	// MessageTimeout bounds every read and write, acknowledgements included.
	MessageTimeout time.Duration
	// SessionTimeout bounds a whole session.
	SessionTimeout time.Duration

	MaxBatchItems int
	MaxBatchBytes int
	MaxFrameSize  int

	// SendRetries is the number of times a write that timed out is resumed.
	SendRetries int
	// ProviderRetries is the number of times a failed batch read is retried.
	ProviderRetries int
	// ProviderRetryPause is the pause before retrying a batch read.
	ProviderRetryPause time.Duration

	// MaxSessions caps concurrent sessions.
	MaxSessions int
	// PerIPCooldown is the minimum interval between two sessions from the same
	// IP address. Zero disables the check.
	PerIPCooldown time.Duration
	// BatchPause is a pause between two batches.
	BatchPause time.Duration

	Limits models.Limits
}

// ClientConfig ...
type ClientConfig struct {
	MessageTimeout time.Duration
	SessionTimeout time.Duration
	DialTimeout    time.Duration

	MaxFrameSize int
	SendRetries  int

	// MaxClockDelta is the largest tolerated offset between the local clock
	// and the clock of a server.
	MaxClockDelta time.Duration

	// AttemptsPerPeer is the number of consecutive attempts on a candidate
	// while failures are transient. MaxAttempts caps attempts overall.
	AttemptsPerPeer int
	MaxAttempts     int

	// BackoffBase and BackoffMax shape the exponential pause between attempts.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	Limits models.Limits
}
