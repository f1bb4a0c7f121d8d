package bootstrap

import (
	"bytes"
	"context"
	"crypto/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/bootsync/src/common"
	"github.com/mosaicnetworks/bootsync/src/crypto/keys"
	"github.com/mosaicnetworks/bootsync/src/cursor"
	"github.com/mosaicnetworks/bootsync/src/graph"
	"github.com/mosaicnetworks/bootsync/src/messages"
	"github.com/mosaicnetworks/bootsync/src/models"
	bnet "github.com/mosaicnetworks/bootsync/src/net"
	"github.com/mosaicnetworks/bootsync/src/peers"
	"github.com/mosaicnetworks/bootsync/src/state"
)

// Client copies the state of a bootstrap server.
type Client struct {
	conf     ClientConfig
	dialer   bnet.Dialer
	consumer Consumer
	newState func() (*state.FinalState, error)
	logger   *logrus.Entry
}

// NewClient creates a Client. newState returns the empty FinalState that a
// bootstrap attempt writes into.
func NewClient(
	conf ClientConfig,
	dialer bnet.Dialer,
	consumer Consumer,
	newState func() (*state.FinalState, error),
	logger *logrus.Entry,
) *Client {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Client{
		conf:     conf,
		dialer:   dialer,
		consumer: consumer,
		newState: newState,
		logger:   logger,
	}
}

// progress is what a client has received from one candidate so far. It
// survives transient failures so that the next session resumes from it.
type progress struct {
	peer    peers.Peer
	cursors messages.Cursors

	// resume is the earliest cutoff of the batches received.
	resume *models.Slot

	state *state.FinalState
	graph *graph.Store
}

func (c *Client) newProgress(peer peers.Peer) (*progress, error) {
	st, err := c.newState()
	if err != nil {
		return nil, err
	}
	return &progress{
		peer: peer,
		cursors: messages.Cursors{
			Graph:       cursor.Start[models.BlockKey](),
			Ledger:      cursor.Start[models.Address](),
			AsyncPool:   cursor.Start[models.AsyncMessageID](),
			Cycles:      cursor.Start[uint64](),
			Credits:     cursor.Start[models.Slot](),
			ExecutedOps: cursor.Start[models.ExecKey](),

			Denunciations: cursor.Start[models.DenunciationIndex](),
		},
		state: st,
		graph: graph.NewStore(),
	}, nil
}

// discard releases a partial state that will not be committed.
func (p *progress) discard() {
	p.state.Close()
}

func (p *progress) noteCutoff(slot models.Slot) {
	if p.resume == nil || slot.Before(*p.resume) {
		p.resume = &slot
	}
}

// expected returns the kind of the next message of the session.
func (p *progress) expected(gotDelta bool) messages.Kind {
	c := p.cursors
	switch {
	case !c.Graph.IsFinished():
		return messages.GraphBatchKind
	case !c.Ledger.IsFinished():
		return messages.LedgerBatchKind
	case !c.AsyncPool.IsFinished():
		return messages.AsyncPoolBatchKind
	case !c.Cycles.IsFinished():
		return messages.CycleBatchKind
	case !c.Credits.IsFinished():
		return messages.CreditsBatchKind
	case !c.ExecutedOps.IsFinished():
		return messages.ExecutedOpsBatchKind
	case !c.Denunciations.IsFinished():
		return messages.ExecutedDenunciationsBatchKind
	case !gotDelta:
		return messages.StateDeltaKind
	default:
		return messages.DoneKind
	}
}

// advance checks the keys of a batch against a cursor and moves it.
func advance[K, T any](c *cursor.Cursor[K], items []T, finished bool, key func(T) K, cmp func(a, b K) int) error {
	keys := make([]K, len(items))
	for i, it := range items {
		keys[i] = key(it)
	}
	next, err := c.Advance(keys, finished, cmp)
	if err != nil {
		return err
	}
	*c = next
	return nil
}

func compareUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (p *progress) applyGraph(m *messages.GraphBatch) error {
	for _, b := range m.Blocks {
		if err := b.Verify(); err != nil {
			return err
		}
	}
	err := advance(&p.cursors.Graph, m.Blocks, m.Finished,
		models.ExportedBlock.Key, models.BlockKey.Compare)
	if err != nil {
		return err
	}
	for _, b := range m.Blocks {
		p.graph.AddBlock(b)
	}
	if m.Finished {
		p.graph.SetMeta(*m.Meta)
	}
	return nil
}

func (p *progress) applyLedger(m *messages.LedgerBatch) error {
	err := advance(&p.cursors.Ledger, m.Items, m.Finished,
		func(it models.LedgerItem) models.Address { return it.Address }, models.Address.Compare)
	if err != nil {
		return err
	}
	return p.state.Load(models.StateChanges{LedgerSets: m.Items})
}

func (p *progress) applyAsyncPool(m *messages.AsyncPoolBatch) error {
	for _, msg := range m.Messages {
		if err := msg.Verify(); err != nil {
			return err
		}
	}
	err := advance(&p.cursors.AsyncPool, m.Messages, m.Finished,
		models.AsyncMessage.ID, models.AsyncMessageID.Compare)
	if err != nil {
		return err
	}
	return p.state.Load(models.StateChanges{AsyncSets: m.Messages})
}

func (p *progress) applyCycles(m *messages.CycleBatch) error {
	err := advance(&p.cursors.Cycles, m.Cycles, m.Finished,
		func(ci models.CycleInfo) uint64 { return ci.Cycle }, compareUint64)
	if err != nil {
		return err
	}
	return p.state.Load(models.StateChanges{CycleSets: m.Cycles})
}

func (p *progress) applyCredits(m *messages.CreditsBatch) error {
	err := advance(&p.cursors.Credits, m.Credits, m.Finished,
		func(sc models.SlotCredits) models.Slot { return sc.Slot }, models.Slot.Compare)
	if err != nil {
		return err
	}
	return p.state.Load(models.StateChanges{CreditSets: m.Credits})
}

func (p *progress) applyExecutedOps(m *messages.ExecutedOpsBatch) error {
	err := advance(&p.cursors.ExecutedOps, m.Ops, m.Finished,
		func(op models.ExecutedOp) models.ExecKey { return op.Key }, models.ExecKey.Compare)
	if err != nil {
		return err
	}
	return p.state.Load(models.StateChanges{OpSets: m.Ops})
}

func (p *progress) applyDenunciations(m *messages.ExecutedDenunciationsBatch) error {
	err := advance(&p.cursors.Denunciations, m.Denunciations, m.Finished,
		func(d models.DenunciationIndex) models.DenunciationIndex { return d }, models.DenunciationIndex.Compare)
	if err != nil {
		return err
	}
	return p.state.Load(models.StateChanges{DenunciationSets: m.Denunciations})
}

// applyDelta brings the copy to the end slot of the delta and checks its
// fingerprint against the one of the server.
func (p *progress) applyDelta(d models.StateDelta) error {
	if p.resume == nil || p.resume.Before(d.FromSlot) {
		return common.NewBootstrapErr(common.ProtocolViolation,
			"state delta starts at %s, after the earliest cutoff %v", d.FromSlot, p.resume)
	}
	for _, sc := range d.Slots {
		if err := sc.Changes.Verify(); err != nil {
			return err
		}
	}
	if err := p.state.ApplyDelta(d); err != nil {
		return err
	}
	if fp := p.state.Fingerprint(); fp != d.Fingerprint {
		return common.NewBootstrapErr(common.IntegrityMismatch,
			"state fingerprint at %s is %s, server has %s", d.EndSlot, fp, d.Fingerprint)
	}
	return nil
}

// attempt runs one session against p.peer. On success the returned value is
// ready to be committed.
func (c *Client) attempt(ctx context.Context, p *progress) (*Bootstrapped, error) {
	raw, err := c.dialer.Dial(p.peer.NetAddr, c.conf.DialTimeout)
	if err != nil {
		return nil, common.WrapBootstrapErr(common.ProviderUnavailable, err, "dialing %s", p.peer.NetAddr)
	}

	conn := bnet.NewConn(raw, c.conf.MaxFrameSize, c.conf.SendRetries)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(c.conf.SessionTimeout))

	// unblock pending reads on cancellation
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	w := &wire{
		conn:    conn,
		lim:     c.conf.Limits,
		timeout: c.conf.MessageTimeout,
	}

	b, err := c.session(w, p)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		w.sendError(err)
		return nil, err
	}
	return b, nil
}

func (c *Client) session(w *wire, p *progress) (*Bootstrapped, error) {
	hello, offset, err := c.handshake(w, p)
	if err != nil {
		return nil, err
	}

	logger := c.logger.WithField("server", p.peer.String())
	gotDelta := false

	for {
		msg, err := w.receive()
		if err != nil {
			return nil, err
		}
		if m, ok := msg.(*messages.Error); ok {
			return nil, remoteError(m)
		}
		if exp := p.expected(gotDelta); msg.Kind() != exp {
			return nil, unexpected(msg, exp)
		}

		switch m := msg.(type) {
		case *messages.GraphBatch:
			err = p.applyGraph(m)
			p.noteCutoff(m.Cutoff)
		case *messages.LedgerBatch:
			err = p.applyLedger(m)
			p.noteCutoff(m.Cutoff)
		case *messages.AsyncPoolBatch:
			err = p.applyAsyncPool(m)
			p.noteCutoff(m.Cutoff)
		case *messages.CycleBatch:
			err = p.applyCycles(m)
			p.noteCutoff(m.Cutoff)
		case *messages.CreditsBatch:
			err = p.applyCredits(m)
			p.noteCutoff(m.Cutoff)
		case *messages.ExecutedOpsBatch:
			err = p.applyExecutedOps(m)
			p.noteCutoff(m.Cutoff)
		case *messages.ExecutedDenunciationsBatch:
			err = p.applyDenunciations(m)
			p.noteCutoff(m.Cutoff)
		case *messages.StateDelta:
			err = p.applyDelta(m.Delta)
			gotDelta = true
			logger.WithFields(logrus.Fields{
				"from":  m.Delta.FromSlot,
				"end":   m.Delta.EndSlot,
				"slots": len(m.Delta.Slots),
			}).Debug("Applied state delta")
		case *messages.Done:
		default:
			return nil, unexpected(msg, p.expected(gotDelta))
		}
		if err != nil {
			return nil, err
		}

		if err := w.send(&messages.Ack{Tag: msg.Kind().Tag()}); err != nil {
			return nil, err
		}

		if _, ok := msg.(*messages.Done); ok {
			return &Bootstrapped{
				State:       p.state,
				Graph:       p.graph,
				Peer:        p.peer,
				Peers:       hello.Peers,
				ClockOffset: offset,
				ServerTime:  time.Now().Add(offset),
			}, nil
		}
	}
}

// handshake exchanges hellos, authenticates the server and estimates its
// clock offset from the midpoint of the round trip.
func (c *Client) handshake(w *wire, p *progress) (*messages.ServerHello, time.Duration, error) {
	hello := &messages.ClientHello{
		Version:    messages.ProtocolVersion,
		Cursors:    p.cursors,
		ResumeSlot: p.resume,
	}
	if _, err := rand.Read(hello.Nonce[:]); err != nil {
		return nil, 0, err
	}

	sent := time.Now()
	if err := w.send(hello); err != nil {
		return nil, 0, err
	}
	msg, err := w.receive()
	if err != nil {
		return nil, 0, err
	}
	received := time.Now()

	var sh *messages.ServerHello
	switch m := msg.(type) {
	case *messages.ServerHello:
		sh = m
	case *messages.Error:
		return nil, 0, remoteError(m)
	default:
		return nil, 0, unexpected(msg, messages.ServerHelloKind)
	}

	if sh.Version != messages.ProtocolVersion {
		return nil, 0, common.NewBootstrapErr(common.IncompatibleVersion,
			"server version %d, client version %d", sh.Version, messages.ProtocolVersion)
	}

	if !keys.VerifyEncoded(sh.PubKey, sh.SigningDigest(hello.Nonce), sh.Signature) {
		return nil, 0, common.NewBootstrapErr(common.IntegrityMismatch, "invalid server hello signature")
	}
	expected, err := p.peer.PubKeyBytes()
	if err != nil {
		return nil, 0, err
	}
	if expected != nil && !bytes.Equal(expected, sh.PubKey) {
		return nil, 0, common.NewBootstrapErr(common.IntegrityMismatch,
			"server key %X differs from the known key of %s", sh.PubKey, p.peer.String())
	}

	midpoint := sent.Add(received.Sub(sent) / 2)
	offset := time.Unix(0, sh.Time).Sub(midpoint)
	if offset > c.conf.MaxClockDelta || offset < -c.conf.MaxClockDelta {
		return nil, 0, common.NewBootstrapErr(common.ClockTooFarOff,
			"server clock is off by %s, tolerance is %s", offset, c.conf.MaxClockDelta)
	}

	c.logger.WithFields(logrus.Fields{
		"server":       p.peer.String(),
		"final_slot":   sh.FinalSlot,
		"clock_offset": offset,
		"resume":       p.resume,
	}).Debug("Handshake")

	return sh, offset, nil
}
