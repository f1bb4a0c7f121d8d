package bootstrap

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/bootsync/src/common"
	"github.com/mosaicnetworks/bootsync/src/crypto/keys"
	"github.com/mosaicnetworks/bootsync/src/cursor"
	"github.com/mosaicnetworks/bootsync/src/messages"
	"github.com/mosaicnetworks/bootsync/src/models"
	bnet "github.com/mosaicnetworks/bootsync/src/net"
	"github.com/mosaicnetworks/bootsync/src/peers"
	"github.com/mosaicnetworks/bootsync/src/state"
)

// Server serves bootstrap sessions from the live state of a node.
type Server struct {
	conf   ServerConfig
	layer  bnet.StreamLayer
	state  StateProvider
	graph  GraphProvider
	key    *ecdsa.PrivateKey
	peers  []peers.Peer
	logger *logrus.Entry

	l        sync.Mutex
	sessions map[net.Conn]*session
	lastSeen map[string]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a Server. advertised is the bootstrap list sent to
// clients in the server hello.
func NewServer(
	conf ServerConfig,
	layer bnet.StreamLayer,
	st StateProvider,
	gr GraphProvider,
	key *ecdsa.PrivateKey,
	advertised []peers.Peer,
	logger *logrus.Entry,
) *Server {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		conf:     conf,
		layer:    layer,
		state:    st,
		graph:    gr,
		key:      key,
		peers:    advertised,
		logger:   logger,
		sessions: make(map[net.Conn]*session),
		lastSeen: make(map[string]time.Time),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Listen accepts connections until the server is closed, and handles each of
// them in a dedicated goroutine.
func (s *Server) Listen() {
	for {
		conn, err := s.layer.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.WithField("error", err).Error("Failed to accept connection")
			continue
		}
		s.logger.WithFields(logrus.Fields{
			"node": s.layer.AdvertiseAddr(),
			"from": conn.RemoteAddr(),
		}).Debug("accepted connection")

		sess, reason, ok := s.admit(conn)
		switch {
		case !ok:
			conn.Close()
			return
		case sess == nil:
			go s.reject(conn, reason)
		default:
			go s.handleSession(sess)
		}
	}
}

// Close stops accepting connections, terminates running sessions and waits
// for them.
func (s *Server) Close() error {
	s.l.Lock()
	s.cancel()
	s.l.Unlock()

	err := s.layer.Close()

	s.l.Lock()
	for conn := range s.sessions {
		conn.Close()
	}
	s.l.Unlock()

	s.wg.Wait()
	return err
}

// Sessions returns the number of running sessions.
func (s *Server) Sessions() int {
	s.l.Lock()
	defer s.l.Unlock()
	return len(s.sessions)
}

// admit registers a session for conn, or returns the reason to refuse it. ok
// is false once the server is closed. Goroutines are only added to the wait
// group under the lock, so that Close does not miss them.
func (s *Server) admit(conn net.Conn) (sess *session, reason string, ok bool) {
	s.l.Lock()
	defer s.l.Unlock()

	if s.ctx.Err() != nil {
		return nil, "", false
	}
	s.wg.Add(1)

	if len(s.sessions) >= s.conf.MaxSessions {
		return nil, "server busy", true
	}

	if s.conf.PerIPCooldown > 0 {
		now := time.Now()
		for ip, t := range s.lastSeen {
			if now.Sub(t) >= s.conf.PerIPCooldown {
				delete(s.lastSeen, ip)
			}
		}
		ip := remoteIP(conn)
		if _, seen := s.lastSeen[ip]; seen {
			return nil, "too many sessions from " + ip, true
		}
		s.lastSeen[ip] = now
	}

	sess = s.newSession(conn)
	s.sessions[conn] = sess
	return sess, "", true
}

func remoteIP(conn net.Conn) string {
	addr := conn.RemoteAddr().String()
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// reject reads the client hello, so that closing the connection does not
// discard the answer, and answers with ProviderUnavailable.
func (s *Server) reject(conn net.Conn, reason string) {
	defer s.wg.Done()
	defer conn.Close()

	s.logger.WithFields(logrus.Fields{
		"from":   conn.RemoteAddr(),
		"reason": reason,
	}).Debug("Refusing bootstrap session")

	w := &wire{
		conn:    bnet.NewConn(conn, s.conf.MaxFrameSize, 0),
		lim:     s.conf.Limits,
		timeout: s.conf.MessageTimeout,
	}
	if _, err := w.receive(); err != nil {
		return
	}
	w.sendError(common.NewBootstrapErr(common.ProviderUnavailable, "%s", reason))
}

func (s *Server) handleSession(sess *session) {
	defer s.wg.Done()
	defer func() {
		s.l.Lock()
		delete(s.sessions, sess.raw)
		s.l.Unlock()
		sess.raw.Close()
	}()

	start := time.Now()
	err := sess.run()

	fields := logrus.Fields{
		"from":     sess.raw.RemoteAddr(),
		"duration": time.Since(start),
		"phase":    sess.getPhase(),
	}
	if err != nil {
		s.logger.WithFields(fields).WithError(err).Warn("Bootstrap session failed")
		return
	}
	s.logger.WithFields(fields).Info("Bootstrap session completed")
}

// session is the server side of one bootstrap session. It only reads from
// the providers.
type session struct {
	phaseManager
	srv *Server
	raw net.Conn
	w   *wire

	batchLimits cursor.Limits

	// cutoff is the earliest phase cutoff, or the client resume slot if
	// earlier.
	cutoff *models.Slot

	logger *logrus.Entry
}

func (s *Server) newSession(conn net.Conn) *session {
	return &session{
		srv: s,
		raw: conn,
		w: &wire{
			conn:    bnet.NewConn(conn, s.conf.MaxFrameSize, s.conf.SendRetries),
			lim:     s.conf.Limits,
			timeout: s.conf.MessageTimeout,
		},
		batchLimits: cursor.Limits{
			MaxItems: s.conf.MaxBatchItems,
			MaxBytes: s.conf.MaxBatchBytes,
		},
		logger: s.logger.WithField("client", conn.RemoteAddr().String()),
	}
}

func (ss *session) run() error {
	ss.w.conn.SetDeadline(time.Now().Add(ss.srv.conf.SessionTimeout))

	err := ss.serve()
	if err != nil {
		ss.setPhase(Error)
		ss.w.sendError(err)
	}
	return err
}

func (ss *session) serve() error {
	ss.setPhase(Handshake)
	hello, err := ss.handshake()
	if err != nil {
		return err
	}

	if hello.ResumeSlot != nil {
		ss.noteCutoff(*hello.ResumeSlot)
	}

	c := hello.Cursors

	err = stream[models.BlockKey, models.ExportedBlock](ss, StreamConsensusGraph, c.Graph, ss.srv.graph,
		func(cutoff models.Slot, blocks []models.ExportedBlock, finished bool) messages.Message {
			m := &messages.GraphBatch{Cutoff: cutoff, Blocks: blocks, Finished: finished}
			if finished {
				meta := ss.srv.graph.Meta()
				m.Meta = &meta
			}
			return m
		})
	if err != nil {
		return err
	}

	err = stream(ss, StreamLedger, c.Ledger, ss.srv.state.Ledger(),
		func(cutoff models.Slot, items []models.LedgerItem, finished bool) messages.Message {
			return &messages.LedgerBatch{Cutoff: cutoff, Items: items, Finished: finished}
		})
	if err != nil {
		return err
	}

	err = stream(ss, StreamAsyncPool, c.AsyncPool, ss.srv.state.AsyncPool(),
		func(cutoff models.Slot, msgs []models.AsyncMessage, finished bool) messages.Message {
			return &messages.AsyncPoolBatch{Cutoff: cutoff, Messages: msgs, Finished: finished}
		})
	if err != nil {
		return err
	}

	err = stream(ss, StreamPoS, c.Cycles, ss.srv.state.Cycles(),
		func(cutoff models.Slot, cycles []models.CycleInfo, finished bool) messages.Message {
			return &messages.CycleBatch{Cutoff: cutoff, Cycles: cycles, Finished: finished}
		})
	if err != nil {
		return err
	}

	err = stream(ss, StreamPoS, c.Credits, ss.srv.state.Credits(),
		func(cutoff models.Slot, credits []models.SlotCredits, finished bool) messages.Message {
			return &messages.CreditsBatch{Cutoff: cutoff, Credits: credits, Finished: finished}
		})
	if err != nil {
		return err
	}

	err = stream(ss, StreamExecutedOps, c.ExecutedOps, ss.srv.state.ExecutedOps(),
		func(cutoff models.Slot, ops []models.ExecutedOp, finished bool) messages.Message {
			return &messages.ExecutedOpsBatch{Cutoff: cutoff, Ops: ops, Finished: finished}
		})
	if err != nil {
		return err
	}

	err = stream(ss, StreamExecutedOps, c.Denunciations, ss.srv.state.ExecutedDenunciations(),
		func(cutoff models.Slot, ds []models.DenunciationIndex, finished bool) messages.Message {
			return &messages.ExecutedDenunciationsBatch{Cutoff: cutoff, Denunciations: ds, Finished: finished}
		})
	if err != nil {
		return err
	}

	return ss.finalize()
}

func (ss *session) handshake() (*messages.ClientHello, error) {
	msg, err := ss.w.receive()
	if err != nil {
		return nil, err
	}
	hello, ok := msg.(*messages.ClientHello)
	if !ok {
		return nil, unexpected(msg, messages.ClientHelloKind)
	}
	if hello.Version != messages.ProtocolVersion {
		return nil, common.NewBootstrapErr(common.IncompatibleVersion,
			"client version %d, server version %d", hello.Version, messages.ProtocolVersion)
	}

	reply := &messages.ServerHello{
		Version:   messages.ProtocolVersion,
		Time:      time.Now().UnixNano(),
		FinalSlot: ss.srv.state.FinalSlot(),
		PubKey:    keys.FromPublicKey(&ss.srv.key.PublicKey),
		Peers:     ss.srv.peers,
	}
	reply.Signature, err = keys.SignEncoded(ss.srv.key, reply.SigningDigest(hello.Nonce))
	if err != nil {
		return nil, err
	}
	if err := ss.w.send(reply); err != nil {
		return nil, err
	}

	ss.logger.WithFields(logrus.Fields{
		"final_slot": reply.FinalSlot,
		"resume":     hello.ResumeSlot,
	}).Debug("Handshake")

	return hello, nil
}

func (ss *session) noteCutoff(slot models.Slot) {
	if ss.cutoff == nil || slot.Before(*ss.cutoff) {
		ss.cutoff = &slot
	}
}

// stream runs one streaming phase: it sends the batches following c, each
// acknowledged before the next one is read, until the provider is exhausted.
// A stream the client already finished is skipped.
func stream[K, T any](
	ss *session,
	phase Phase,
	c cursor.Cursor[K],
	p cursor.Provider[K, T],
	batch func(cutoff models.Slot, items []T, finished bool) messages.Message,
) error {

	if c.IsFinished() {
		return nil
	}
	ss.setPhase(phase)

	cutoff := ss.srv.state.FinalSlot()
	ss.noteCutoff(cutoff)

	for n := 0; ; n++ {
		if err := ss.srv.ctx.Err(); err != nil {
			return bnet.ErrTransportShutdown
		}

		items, next, err := readBatch(ss, p, c)
		if err != nil {
			return err
		}

		msg := batch(cutoff, items, next.IsFinished())
		if err := ss.w.send(msg); err != nil {
			return err
		}
		if err := ss.awaitAck(msg.Kind()); err != nil {
			return err
		}

		if next.IsFinished() {
			ss.logger.WithFields(logrus.Fields{
				"phase":   phase,
				"batches": n + 1,
				"cutoff":  cutoff,
			}).Debug("Stream finished")
			return nil
		}
		c = next

		if err := ss.pause(ss.srv.conf.BatchPause); err != nil {
			return err
		}
	}
}

// readBatch reads a batch, retrying when the provider is temporarily
// unavailable.
func readBatch[K, T any](ss *session, p cursor.Provider[K, T], c cursor.Cursor[K]) ([]T, cursor.Cursor[K], error) {
	for attempt := 0; ; attempt++ {
		items, next, err := p.ReadBatch(c, ss.batchLimits)
		if err == nil ||
			!common.Is(err, common.ProviderUnavailable) ||
			attempt >= ss.srv.conf.ProviderRetries {
			return items, next, err
		}

		ss.logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"cursor":  c,
		}).WithError(err).Warn("Provider unavailable, retrying")

		if err := ss.pause(ss.srv.conf.ProviderRetryPause); err != nil {
			return nil, c, err
		}
	}
}

func (ss *session) pause(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ss.srv.ctx.Done():
		return bnet.ErrTransportShutdown
	}
}

func (ss *session) awaitAck(kind messages.Kind) error {
	msg, err := ss.w.receive()
	if err != nil {
		return err
	}
	switch m := msg.(type) {
	case *messages.Ack:
		if m.Tag != kind.Tag() {
			return common.NewBootstrapErr(common.ProtocolViolation,
				"acknowledgement for tag %#x while waiting for %s", m.Tag, kind)
		}
		return nil
	case *messages.Error:
		return remoteError(m)
	default:
		return unexpected(msg, messages.AckKind)
	}
}

// finalize sends the changes finalized since the earliest cutoff, computed
// once for the session, then Done.
func (ss *session) finalize() error {
	ss.setPhase(Finalizing)

	if ss.cutoff == nil {
		return common.NewBootstrapErr(common.ProtocolViolation,
			"every stream finished but no resume slot was given")
	}

	delta, err := ss.srv.state.ChangesSince(*ss.cutoff)
	if err != nil {
		if errors.Is(err, state.ErrHistoryPruned) {
			return common.WrapBootstrapErr(common.ProviderUnavailable, err, "computing state delta")
		}
		return err
	}

	ss.logger.WithFields(logrus.Fields{
		"from":  delta.FromSlot,
		"end":   delta.EndSlot,
		"slots": len(delta.Slots),
	}).Debug("Sending state delta")

	msg := &messages.StateDelta{Delta: delta}
	if err := ss.w.send(msg); err != nil {
		return err
	}
	if err := ss.awaitAck(msg.Kind()); err != nil {
		return err
	}

	ss.setPhase(Done)
	done := &messages.Done{}
	if err := ss.w.send(done); err != nil {
		return err
	}
	return ss.awaitAck(done.Kind())
}
