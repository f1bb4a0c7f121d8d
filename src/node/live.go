package node

import (
	"sync/atomic"

	"github.com/mosaicnetworks/bootsync/src/cursor"
	"github.com/mosaicnetworks/bootsync/src/graph"
	"github.com/mosaicnetworks/bootsync/src/models"
	fstate "github.com/mosaicnetworks/bootsync/src/state"
)

// live is the state served by the node. The final state and the graph are
// swapped as a whole when a bootstrapped state is committed; sessions that
// already hold a provider keep reading the previous one.
type live struct {
	state atomic.Pointer[fstate.FinalState]
	graph atomic.Pointer[graph.Store]
}

func (l *live) FinalSlot() models.Slot {
	return l.state.Load().FinalSlot()
}

func (l *live) ChangesSince(cutoff models.Slot) (models.StateDelta, error) {
	return l.state.Load().ChangesSince(cutoff)
}

func (l *live) Ledger() cursor.Provider[models.Address, models.LedgerItem] {
	return l.state.Load().Ledger()
}

func (l *live) AsyncPool() cursor.Provider[models.AsyncMessageID, models.AsyncMessage] {
	return l.state.Load().AsyncPool()
}

func (l *live) Cycles() cursor.Provider[uint64, models.CycleInfo] {
	return l.state.Load().Cycles()
}

func (l *live) Credits() cursor.Provider[models.Slot, models.SlotCredits] {
	return l.state.Load().Credits()
}

func (l *live) ExecutedOps() cursor.Provider[models.ExecKey, models.ExecutedOp] {
	return l.state.Load().ExecutedOps()
}

func (l *live) ExecutedDenunciations() cursor.Provider[models.DenunciationIndex, models.DenunciationIndex] {
	return l.state.Load().ExecutedDenunciations()
}

// liveGraph serves the current consensus graph.
type liveGraph struct {
	*live
}

func (g liveGraph) ReadBatch(c cursor.Cursor[models.BlockKey], lim cursor.Limits) ([]models.ExportedBlock, cursor.Cursor[models.BlockKey], error) {
	return g.graph.Load().ReadBatch(c, lim)
}

func (g liveGraph) Meta() models.GraphMeta {
	return g.graph.Load().Meta()
}
