package node

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/bootsync/src/bootstrap"
	"github.com/mosaicnetworks/bootsync/src/config"
	"github.com/mosaicnetworks/bootsync/src/graph"
	"github.com/mosaicnetworks/bootsync/src/models"
	"github.com/mosaicnetworks/bootsync/src/net"
	"github.com/mosaicnetworks/bootsync/src/peers"
	fstate "github.com/mosaicnetworks/bootsync/src/state"
)

//Node holds the final state and consensus graph of a ledger node. It either
//starts from its own storage or bootstraps from other nodes, then serves its
//state to nodes that bootstrap from it.
type Node struct {
	state

	conf   *config.Config
	logger *logrus.Entry

	validator *Validator

	live live

	layer  net.StreamLayer
	dialer net.Dialer
	server *bootstrap.Server

	bootstrapped *bootstrap.Bootstrapped

	shutdownCh chan struct{}

	start time.Time
}

//NewNode is a factory method that returns a Node instance. layer may be nil
//when the node does not serve; dialer is used to reach bootstrap servers.
func NewNode(conf *config.Config,
	validator *Validator,
	layer net.StreamLayer,
	dialer net.Dialer,
) *Node {

	return &Node{
		conf:       conf,
		logger:     conf.Logger().WithField("moniker", validator.Moniker),
		validator:  validator,
		layer:      layer,
		dialer:     dialer,
		shutdownCh: make(chan struct{}),
		start:      time.Now(),
	}
}

//Init installs the live state. With no candidates, the state is loaded from
//the node's own storage, or empty. Otherwise it is bootstrapped from one of
//the candidates.
func (n *Node) Init(ctx context.Context, candidates []peers.Peer) error {
	if len(candidates) == 0 {
		n.logger.Debug("Loading state from storage")
		return n.load()
	}

	n.setState(Bootstrapping)
	client := bootstrap.NewClient(
		n.conf.ClientConfig(),
		n.dialer,
		n,
		n.newState,
		n.logger.WithField("component", "bootstrap-client"),
	)
	_, err := client.Bootstrap(ctx, candidates)
	if err != nil {
		n.setState(Starting)
		return err
	}
	return nil
}

func (n *Node) load() error {
	st, err := n.openState(false)
	if err != nil {
		return err
	}

	gr := graph.NewStore()
	data, err := ioutil.ReadFile(n.conf.GraphFile())
	switch {
	case err == nil:
		if err := gr.Unmarshal(data, n.conf.Limits); err != nil {
			st.Close()
			return fmt.Errorf("loading %s: %w", n.conf.GraphFile(), err)
		}
	case !os.IsNotExist(err):
		st.Close()
		return err
	}

	n.install(st, gr)
	return nil
}

// openState opens the final state storage, emptied first when reset is set.
func (n *Node) openState(reset bool) (*fstate.FinalState, error) {
	logger := n.logger.WithField("component", "final-state")
	if !n.conf.Store {
		return fstate.NewFinalState(fstate.NewInmemKV(), n.conf.Limits, n.conf.HistoryLength, logger)
	}

	if reset {
		if err := os.RemoveAll(n.conf.DatabaseDir); err != nil {
			return nil, err
		}
	}
	kv, err := fstate.NewBadgerKV(n.conf.DatabaseDir, logger)
	if err != nil {
		return nil, err
	}
	st, err := fstate.NewFinalState(kv, n.conf.Limits, n.conf.HistoryLength, logger)
	if err != nil {
		kv.Close()
		return nil, err
	}
	return st, nil
}

// newState returns the empty state a bootstrap attempt writes into. The
// previous attempt, if any, has released the storage.
func (n *Node) newState() (*fstate.FinalState, error) {
	return n.openState(true)
}

func (n *Node) install(st *fstate.FinalState, gr *graph.Store) {
	old := n.live.state.Swap(st)
	n.live.graph.Store(gr)
	if old != nil && old != st {
		old.Close()
	}
	n.setState(Serving)

	n.logger.WithFields(logrus.Fields{
		"final_slot":   st.FinalSlot(),
		"fingerprint":  st.Fingerprint(),
		"graph_blocks": gr.Len(),
	}).Info("Live state installed")
}

//CommitBootstrappedState installs a bootstrapped state as the live state and
//exports the consensus graph to the data directory.
func (n *Node) CommitBootstrappedState(b *bootstrap.Bootstrapped) error {
	if n.getState() == Shutdown {
		return errors.New("node is shut down")
	}

	data, err := b.Graph.Marshal()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(n.conf.DataDir, 0700); err != nil {
		return err
	}
	if err := ioutil.WriteFile(n.conf.GraphFile(), data, 0600); err != nil {
		return err
	}

	n.bootstrapped = b
	n.install(b.State, b.Graph)

	n.logger.WithFields(logrus.Fields{
		"server":       b.Peer.String(),
		"clock_offset": b.ClockOffset,
		"peers":        len(b.Peers),
	}).Info("Bootstrapped")
	return nil
}

//Serve starts the bootstrap server in the background.
func (n *Node) Serve() error {
	if n.layer == nil {
		return errors.New("no stream layer to serve on")
	}
	if n.getState() != Serving {
		return fmt.Errorf("cannot serve in state %s", n.getState())
	}

	advertised := []peers.Peer{n.validator.Peer(n.layer.AdvertiseAddr())}
	if n.bootstrapped != nil {
		advertised = append(advertised, n.bootstrapped.Peers...)
	}

	n.server = bootstrap.NewServer(
		n.conf.ServerConfig(),
		n.layer,
		&n.live,
		liveGraph{&n.live},
		n.validator.Key,
		advertised,
		n.logger.WithField("component", "bootstrap-server"),
	)
	n.goFunc(n.server.Listen)

	n.logger.WithField("addr", n.layer.AdvertiseAddr()).Info("Serving bootstrap sessions")
	return nil
}

//Finalize applies the changes of a newly finalized slot to the live state.
func (n *Node) Finalize(slot models.Slot, changes models.StateChanges) error {
	if n.getState() != Serving {
		return fmt.Errorf("cannot finalize in state %s", n.getState())
	}
	return n.live.state.Load().Finalize(slot, changes)
}

//State returns the live final state, nil until Init succeeds.
func (n *Node) State() *fstate.FinalState {
	return n.live.state.Load()
}

//Graph returns the live consensus graph, nil until Init succeeds.
func (n *Node) Graph() *graph.Store {
	return n.live.graph.Load()
}

//Bootstrapped returns the outcome of the bootstrap, nil if the node started
//from its own storage.
func (n *Node) Bootstrapped() *bootstrap.Bootstrapped {
	return n.bootstrapped
}

//Shutdown stops the server and closes the live state
func (n *Node) Shutdown() {
	if n.getState() != Shutdown {
		n.logger.Debug("Shutdown")

		n.setState(Shutdown)
		close(n.shutdownCh)

		if n.server != nil {
			n.server.Close()
		} else if n.layer != nil {
			n.layer.Close()
		}

		n.waitRoutines()

		if st := n.live.state.Load(); st != nil {
			st.Close()
		}
	}
}

//ShutdownCh is closed when the node shuts down
func (n *Node) ShutdownCh() <-chan struct{} {
	return n.shutdownCh
}

//GetStats returns stats
func (n *Node) GetStats() map[string]string {
	s := map[string]string{
		"state":   n.getState().String(),
		"moniker": n.validator.Moniker,
		"uptime":  time.Since(n.start).Round(time.Second).String(),
	}
	if st := n.live.state.Load(); st != nil {
		s["final_slot"] = st.FinalSlot().String()
		s["fingerprint"] = st.Fingerprint().String()
	}
	if gr := n.live.graph.Load(); gr != nil {
		s["graph_blocks"] = strconv.Itoa(gr.Len())
	}
	if n.server != nil {
		s["sessions"] = strconv.Itoa(n.server.Sessions())
	}
	if n.bootstrapped != nil {
		s["bootstrap_server"] = n.bootstrapped.Peer.String()
		s["clock_offset"] = n.bootstrapped.ClockOffset.String()
	}
	return s
}

func (n *Node) logStats() {
	fields := logrus.Fields{}
	for k, v := range n.GetStats() {
		fields[k] = v
	}
	n.logger.WithFields(fields).Debug("Stats")
}

//Run blocks until the context is cancelled or the node shuts down, logging
//stats at the given interval.
func (n *Node) Run(ctx context.Context, statsInterval time.Duration) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.logStats()
		case <-ctx.Done():
			n.Shutdown()
			return
		case <-n.shutdownCh:
			return
		}
	}
}
