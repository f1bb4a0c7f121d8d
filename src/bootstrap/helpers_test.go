package bootstrap

import (
	"crypto/ecdsa"
	"fmt"
	"net"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mosaicnetworks/bootsync/src/common"
	"github.com/mosaicnetworks/bootsync/src/crypto/keys"
	"github.com/mosaicnetworks/bootsync/src/cursor"
	"github.com/mosaicnetworks/bootsync/src/graph"
	"github.com/mosaicnetworks/bootsync/src/models"
	bnet "github.com/mosaicnetworks/bootsync/src/net"
	"github.com/mosaicnetworks/bootsync/src/peers"
	"github.com/mosaicnetworks/bootsync/src/state"
)

const threadCount = 32

func testServerConfig() ServerConfig {
	return ServerConfig{
		MessageTimeout:     2 * time.Second,
		SessionTimeout:     20 * time.Second,
		MaxBatchItems:      7,
		MaxBatchBytes:      64 * 1024,
		MaxFrameSize:       1 << 20,
		SendRetries:        2,
		ProviderRetries:    2,
		ProviderRetryPause: 5 * time.Millisecond,
		MaxSessions:        8,
		Limits:             models.DefaultLimits(),
	}
}

func testClientConfig() ClientConfig {
	return ClientConfig{
		MessageTimeout:  2 * time.Second,
		SessionTimeout:  20 * time.Second,
		DialTimeout:     time.Second,
		MaxFrameSize:    1 << 20,
		SendRetries:     2,
		MaxClockDelta:   5 * time.Second,
		AttemptsPerPeer: 2,
		MaxAttempts:     6,
		BackoffBase:     5 * time.Millisecond,
		BackoffMax:      20 * time.Millisecond,
		Limits:          models.DefaultLimits(),
	}
}

// fixture is the live state of a server.
type fixture struct {
	state *state.FinalState
	graph *graph.Store
	key   *ecdsa.PrivateKey
}

func ledgerEntry(i int) models.LedgerItem {
	e := models.LedgerEntry{Balance: models.Amount(1000 + i)}
	if i%3 == 0 {
		e.Bytecode = []byte(fmt.Sprintf("code-%d", i))
		e.Datastore = []models.DatastoreEntry{
			{Key: []byte("a"), Value: []byte(fmt.Sprintf("%d", i))},
			{Key: []byte("b"), Value: []byte("v")},
		}
	}
	return models.LedgerItem{Address: models.AddressFromUint64(uint64(i)), Entry: e}
}

func asyncMessage(i int) models.AsyncMessage {
	m := models.AsyncMessage{
		EmissionSlot:  models.Slot{Period: uint64(i / 4), Thread: uint8(i % 4)},
		EmissionIndex: uint64(i),
		Sender:        models.AddressFromUint64(uint64(i)),
		Destination:   models.AddressFromUint64(uint64(i + 1)),
		Handler:       "receive",
		MaxGas:        100000,
		Fee:           models.Amount(i % 5),
		Coins:         models.Amount(i),
		ValidityEnd:   models.Slot{Period: 1000},
		Data:          []byte(fmt.Sprintf("payload-%d", i)),
	}
	m.Seal()
	return m
}

func newFixture(t *testing.T, size int) *fixture {
	logger := common.NewTestEntry(t, "live")
	st, err := state.NewFinalState(state.NewInmemKV(), models.DefaultLimits(), 1000, logger)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	changes := models.StateChanges{}
	for i := 0; i < size; i++ {
		changes.LedgerSets = append(changes.LedgerSets, ledgerEntry(i))
	}
	for i := 0; i < size/2; i++ {
		changes.AsyncSets = append(changes.AsyncSets, asyncMessage(i))
	}
	for c := uint64(0); c < 4; c++ {
		changes.CycleSets = append(changes.CycleSets, models.CycleInfo{
			Cycle:      c,
			Complete:   c < 3,
			RollCounts: []models.RollCount{{Address: models.AddressFromUint64(1), Rolls: c + 1}},
			ProductionStats: []models.ProductionStats{
				{Address: models.AddressFromUint64(1), Ok: 10 * c, Nok: c},
			},
		})
	}
	for p := uint64(0); p < 10; p++ {
		changes.CreditSets = append(changes.CreditSets, models.SlotCredits{
			Slot:    models.Slot{Period: 100 + p},
			Credits: []models.Credit{{Address: models.AddressFromUint64(p), Amount: models.Amount(p)}},
		})
	}
	for i := 0; i < size/4; i++ {
		changes.OpSets = append(changes.OpSets, models.ExecutedOp{
			Key: models.ExecKey{
				Expiration: models.Slot{Period: uint64(50 + i%7)},
				ID:         models.IdentifierFromString(fmt.Sprintf("op-%d", i)),
			},
			Success: i%2 == 0,
		})
	}
	for i := 0; i < size/10; i++ {
		changes.DenunciationSets = append(changes.DenunciationSets, models.DenunciationIndex{
			Slot:  models.Slot{Period: uint64(40 + i/4), Thread: uint8(i % 4)},
			Kind:  models.DenunciationKind(i % 2),
			Index: uint32(i%2) * uint32(i),
		})
	}

	f := &fixture{state: st, graph: graph.NewStore()}
	f.finalize(t, changes)

	// a few more slots, so that there is history to serve
	for i := 0; i < 5; i++ {
		f.finalize(t, models.StateChanges{
			LedgerSets: []models.LedgerItem{ledgerEntry(size + i)},
		})
	}

	var parents []models.Identifier
	for p := uint64(0); p < 5; p++ {
		for th := uint8(0); th < 4; th++ {
			b := models.NewExportedBlock(models.BlockHeader{
				Slot:    models.Slot{Period: p, Thread: th},
				Parents: parents,
				Creator: models.AddressFromUint64(uint64(th)),
			}, p < 3)
			f.graph.AddBlock(b)
			if th == 0 {
				parents = []models.Identifier{b.ID}
			}
		}
	}
	f.graph.SetMeta(models.GraphMeta{
		BestParents:        []models.BestParent{{ID: parents[0], Period: 4}},
		LatestFinalPeriods: []uint64{2, 2, 2, 2},
		MaxCliques:         []models.Clique{{Blocks: parents, Fitness: 12, IsBlockclique: true}},
	})

	f.key, err = keys.GenerateECDSAKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	return f
}

// newBareFixture is a live state holding only changes, with an empty graph.
func newBareFixture(t *testing.T, changes models.StateChanges) *fixture {
	st, err := state.NewFinalState(state.NewInmemKV(), models.DefaultLimits(), 1000, common.NewTestEntry(t, "live"))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	f := &fixture{state: st, graph: graph.NewStore()}
	f.finalize(t, changes)

	f.key, err = keys.GenerateECDSAKey()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	return f
}

func (f *fixture) finalize(t *testing.T, changes models.StateChanges) {
	slot := f.state.FinalSlot().Next(threadCount)
	if err := f.state.Finalize(slot, changes); err != nil {
		t.Fatalf("err: %v", err)
	}
}

func (f *fixture) peer(addr string) peers.Peer {
	return peers.Peer{NetAddr: addr, PubKeyHex: keys.PublicKeyHex(&f.key.PublicKey)}
}

func startServer(t *testing.T, layer bnet.StreamLayer, st StateProvider, f *fixture, conf ServerConfig) *Server {
	srv := NewServer(conf, layer, st, f.graph, f.key,
		[]peers.Peer{{NetAddr: "10.0.0.7:1337", Moniker: "seed"}},
		common.NewTestEntry(t, "server"))
	go srv.Listen()
	return srv
}

// recorder is a Consumer that keeps what it is given.
type recorder struct {
	l       sync.Mutex
	commits []*Bootstrapped
}

func (r *recorder) CommitBootstrappedState(b *Bootstrapped) error {
	r.l.Lock()
	defer r.l.Unlock()
	r.commits = append(r.commits, b)
	return nil
}

func (r *recorder) count() int {
	r.l.Lock()
	defer r.l.Unlock()
	return len(r.commits)
}

func newTestClient(t *testing.T, dialer bnet.Dialer, consumer Consumer, conf ClientConfig) *Client {
	newState := func() (*state.FinalState, error) {
		return state.NewFinalState(state.NewInmemKV(), models.DefaultLimits(), 1000, common.NewTestEntry(t, "copy"))
	}
	return NewClient(conf, dialer, consumer, newState, common.NewTestEntry(t, "client"))
}

func readAll[K, T any](t *testing.T, p cursor.Provider[K, T]) []T {
	var res []T
	c := cursor.Start[K]()
	for !c.IsFinished() {
		items, next, err := p.ReadBatch(c, cursor.Limits{MaxItems: 100, MaxBytes: 1 << 20})
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		res = append(res, items...)
		c = next
	}
	return res
}

// checkSameState compares the content of two final states, item by item.
func checkSameState(t *testing.T, got, expected *state.FinalState) {
	if !reflect.DeepEqual(readAll(t, got.Ledger()), readAll(t, expected.Ledger())) {
		t.Fatalf("ledgers differ")
	}
	if !reflect.DeepEqual(readAll(t, got.AsyncPool()), readAll(t, expected.AsyncPool())) {
		t.Fatalf("async pools differ")
	}
	if !reflect.DeepEqual(readAll(t, got.Cycles()), readAll(t, expected.Cycles())) {
		t.Fatalf("cycles differ")
	}
	if !reflect.DeepEqual(readAll(t, got.Credits()), readAll(t, expected.Credits())) {
		t.Fatalf("deferred credits differ")
	}
	if !reflect.DeepEqual(readAll(t, got.ExecutedOps()), readAll(t, expected.ExecutedOps())) {
		t.Fatalf("executed ops differ")
	}
	if !reflect.DeepEqual(readAll(t, got.ExecutedDenunciations()), readAll(t, expected.ExecutedDenunciations())) {
		t.Fatalf("executed denunciations differ")
	}
	if got.FinalSlot() != expected.FinalSlot() {
		t.Fatalf("final slot %s, expected %s", got.FinalSlot(), expected.FinalSlot())
	}
	if got.Fingerprint() != expected.Fingerprint() {
		t.Fatalf("fingerprint %s, expected %s", got.Fingerprint(), expected.Fingerprint())
	}
	fp, err := got.ComputeFingerprint()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if fp != got.Fingerprint() {
		t.Fatalf("fingerprint does not match content")
	}
}

// hookedState overrides some providers of a live state.
type hookedState struct {
	StateProvider
	ledger cursor.Provider[models.Address, models.LedgerItem]
	async  cursor.Provider[models.AsyncMessageID, models.AsyncMessage]
}

func (h *hookedState) Ledger() cursor.Provider[models.Address, models.LedgerItem] {
	if h.ledger != nil {
		return h.ledger
	}
	return h.StateProvider.Ledger()
}

func (h *hookedState) AsyncPool() cursor.Provider[models.AsyncMessageID, models.AsyncMessage] {
	if h.async != nil {
		return h.async
	}
	return h.StateProvider.AsyncPool()
}

// countingState counts the batches read from each provider of a live state
// and keeps the deltas it computes.
type countingState struct {
	StateProvider
	l       sync.Mutex
	batches map[string]int
	deltas  []models.StateDelta
}

func newCountingState(st StateProvider) *countingState {
	return &countingState{StateProvider: st, batches: make(map[string]int)}
}

func counted[K, T any](s *countingState, name string, p cursor.Provider[K, T]) cursor.Provider[K, T] {
	return providerFunc[K, T](func(c cursor.Cursor[K], lim cursor.Limits) ([]T, cursor.Cursor[K], error) {
		s.l.Lock()
		s.batches[name]++
		s.l.Unlock()
		return p.ReadBatch(c, lim)
	})
}

func (s *countingState) Ledger() cursor.Provider[models.Address, models.LedgerItem] {
	return counted(s, "ledger", s.StateProvider.Ledger())
}

func (s *countingState) AsyncPool() cursor.Provider[models.AsyncMessageID, models.AsyncMessage] {
	return counted(s, "async", s.StateProvider.AsyncPool())
}

func (s *countingState) Cycles() cursor.Provider[uint64, models.CycleInfo] {
	return counted(s, "cycles", s.StateProvider.Cycles())
}

func (s *countingState) Credits() cursor.Provider[models.Slot, models.SlotCredits] {
	return counted(s, "credits", s.StateProvider.Credits())
}

func (s *countingState) ExecutedOps() cursor.Provider[models.ExecKey, models.ExecutedOp] {
	return counted(s, "ops", s.StateProvider.ExecutedOps())
}

func (s *countingState) ExecutedDenunciations() cursor.Provider[models.DenunciationIndex, models.DenunciationIndex] {
	return counted(s, "denunciations", s.StateProvider.ExecutedDenunciations())
}

func (s *countingState) ChangesSince(cutoff models.Slot) (models.StateDelta, error) {
	d, err := s.StateProvider.ChangesSince(cutoff)
	if err == nil {
		s.l.Lock()
		s.deltas = append(s.deltas, d)
		s.l.Unlock()
	}
	return d, err
}

func (s *countingState) counts() (map[string]int, []models.StateDelta) {
	s.l.Lock()
	defer s.l.Unlock()
	res := make(map[string]int, len(s.batches))
	for k, v := range s.batches {
		res[k] = v
	}
	return res, append([]models.StateDelta(nil), s.deltas...)
}

// countingGraph counts the graph batches read.
type countingGraph struct {
	GraphProvider
	batches int32
}

func (g *countingGraph) ReadBatch(c cursor.Cursor[models.BlockKey], lim cursor.Limits) ([]models.ExportedBlock, cursor.Cursor[models.BlockKey], error) {
	atomic.AddInt32(&g.batches, 1)
	return g.GraphProvider.ReadBatch(c, lim)
}

// countingDialer counts the bytes read from the connections it opens.
type countingDialer struct {
	bnet.Dialer
	read int64
}

func (d *countingDialer) Dial(address string, timeout time.Duration) (net.Conn, error) {
	c, err := d.Dialer.Dial(address, timeout)
	if err != nil {
		return nil, err
	}
	return &countingConn{Conn: c, read: &d.read}, nil
}

type countingConn struct {
	net.Conn
	read *int64
}

func (c *countingConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	atomic.AddInt64(c.read, int64(n))
	return n, err
}

type providerFunc[K, T any] func(c cursor.Cursor[K], lim cursor.Limits) ([]T, cursor.Cursor[K], error)

func (f providerFunc[K, T]) ReadBatch(c cursor.Cursor[K], lim cursor.Limits) ([]T, cursor.Cursor[K], error) {
	return f(c, lim)
}

// fakeServer accepts TCP connections and hands them to handle. Connections
// stay open until the returned function is called.
type fakeServer struct {
	listener net.Listener
	accepts  int32
	l        sync.Mutex
	conns    []net.Conn
}

func newFakeServer(t *testing.T, handle func(c *bnet.Conn)) *fakeServer {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	fs := &fakeServer{listener: ln}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			atomic.AddInt32(&fs.accepts, 1)
			fs.l.Lock()
			fs.conns = append(fs.conns, c)
			fs.l.Unlock()
			go handle(bnet.NewConn(c, 1<<20, 0))
		}
	}()
	return fs
}

func (fs *fakeServer) addr() string {
	return fs.listener.Addr().String()
}

func (fs *fakeServer) acceptCount() int {
	return int(atomic.LoadInt32(&fs.accepts))
}

func (fs *fakeServer) close() {
	fs.listener.Close()
	fs.l.Lock()
	defer fs.l.Unlock()
	for _, c := range fs.conns {
		c.Close()
	}
}

// recordingDialer remembers the connections it opens.
type recordingDialer struct {
	bnet.Dialer
	l     sync.Mutex
	conns []net.Conn
}

func (d *recordingDialer) Dial(address string, timeout time.Duration) (net.Conn, error) {
	c, err := d.Dialer.Dial(address, timeout)
	if err != nil {
		return nil, err
	}
	d.l.Lock()
	d.conns = append(d.conns, c)
	d.l.Unlock()
	return c, nil
}

func (d *recordingDialer) dials() int {
	d.l.Lock()
	defer d.l.Unlock()
	return len(d.conns)
}

func (d *recordingDialer) closeFirst() {
	d.l.Lock()
	defer d.l.Unlock()
	d.conns[0].Close()
}
