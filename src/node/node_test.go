package node

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/bootsync/src/common"
	"github.com/mosaicnetworks/bootsync/src/config"
	"github.com/mosaicnetworks/bootsync/src/crypto/keys"
	"github.com/mosaicnetworks/bootsync/src/models"
	"github.com/mosaicnetworks/bootsync/src/peers"
)

func tempDir(t *testing.T) string {
	dir, err := os.MkdirTemp("", "bootsync-node")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	return dir
}

func newTestConfig(t *testing.T, dataDir string, store bool) *config.Config {
	conf := config.NewTestConfig(t, logrus.DebugLevel)
	conf.SetDataDir(dataDir)
	conf.DatabaseDir = filepath.Join(dataDir, config.DefaultBadgerFile)
	conf.Store = store
	return conf
}

// newTestNode creates a node listening on the configured transport. A new key
// is generated when key is nil.
func newTestNode(t *testing.T, conf *config.Config, moniker string, key *ecdsa.PrivateKey) *Node {
	if key == nil {
		var err error
		if key, err = keys.GenerateECDSAKey(); err != nil {
			t.Fatalf("err: %v", err)
		}
	}
	layer, err := NewStreamLayer(conf, conf.Logger())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	dialer, err := NewDialer(conf)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	return NewNode(conf, NewValidator(key, moniker), layer, dialer)
}

// populate finalizes a few slots and builds a small graph on a serving node.
func populate(t *testing.T, n *Node, slots int) {
	for i := 0; i < slots; i++ {
		changes := models.StateChanges{
			LedgerSets: []models.LedgerItem{{
				Address: models.AddressFromUint64(uint64(i)),
				Entry:   models.LedgerEntry{Balance: models.Amount(100 * i)},
			}},
			OpSets: []models.ExecutedOp{{
				Key: models.ExecKey{
					Expiration: models.Slot{Period: uint64(i + 10)},
					ID:         models.IdentifierFromString(fmt.Sprintf("op-%d", i)),
				},
				Success: true,
			}},
		}
		if i > 0 && i%5 == 0 {
			changes.LedgerDeletes = []models.Address{models.AddressFromUint64(uint64(i - 1))}
		}
		slot := n.State().FinalSlot().Next(n.conf.Limits.ThreadCount)
		if err := n.Finalize(slot, changes); err != nil {
			t.Fatalf("err: %v", err)
		}
	}

	for p := uint64(0); p < 3; p++ {
		n.Graph().AddBlock(models.NewExportedBlock(models.BlockHeader{
			Slot:    models.Slot{Period: p},
			Creator: models.AddressFromUint64(p),
		}, true))
	}
	n.Graph().SetMeta(models.GraphMeta{LatestFinalPeriods: []uint64{2}})
}

func checkSameNodeState(t *testing.T, got, expected *Node) {
	if got.State().FinalSlot() != expected.State().FinalSlot() {
		t.Fatalf("final slot %s, expected %s", got.State().FinalSlot(), expected.State().FinalSlot())
	}
	if got.State().Fingerprint() != expected.State().Fingerprint() {
		t.Fatalf("fingerprints differ")
	}
	if got.Graph().Len() != expected.Graph().Len() {
		t.Fatalf("graph has %d blocks, expected %d", got.Graph().Len(), expected.Graph().Len())
	}
}

func TestNodeBootstrapAndRestart(t *testing.T) {
	ctx := context.Background()

	server := newTestNode(t, newTestConfig(t, tempDir(t), false), "server", nil)
	defer server.Shutdown()

	if err := server.Finalize(models.Slot{Period: 1}, models.StateChanges{}); err == nil {
		t.Fatalf("Finalize should fail before Init")
	}
	if err := server.Init(ctx, nil); err != nil {
		t.Fatalf("err: %v", err)
	}
	populate(t, server, 20)
	if err := server.Serve(); err != nil {
		t.Fatalf("err: %v", err)
	}

	clientConf := newTestConfig(t, tempDir(t), true)
	client := newTestNode(t, clientConf, "client", nil)

	candidate := server.validator.Peer(server.layer.AdvertiseAddr())
	if err := client.Init(ctx, []peers.Peer{candidate}); err != nil {
		t.Fatalf("err: %v", err)
	}
	checkSameNodeState(t, client, server)

	if _, err := os.Stat(clientConf.GraphFile()); err != nil {
		t.Fatalf("graph export: %v", err)
	}
	stats := client.GetStats()
	if stats["state"] != "Serving" || stats["bootstrap_server"] != candidate.String() {
		t.Fatalf("stats: %v", stats)
	}

	// the bootstrapped node serves in turn, and advertises its own server
	if err := client.Serve(); err != nil {
		t.Fatalf("err: %v", err)
	}
	last := newTestNode(t, newTestConfig(t, tempDir(t), false), "last", nil)
	defer last.Shutdown()
	clientPeer := client.validator.Peer(client.layer.AdvertiseAddr())
	if err := last.Init(ctx, []peers.Peer{clientPeer}); err != nil {
		t.Fatalf("err: %v", err)
	}
	checkSameNodeState(t, last, server)
	if advertised := last.Bootstrapped().Peers; len(advertised) < 2 || advertised[0].NetAddr != clientPeer.NetAddr {
		t.Fatalf("advertised peers: %+v", advertised)
	}

	// the committed state survives a restart
	slot, fp := client.State().FinalSlot(), client.State().Fingerprint()
	client.Shutdown()

	clientConf.BindAddr = "127.0.0.1:0"
	restarted := newTestNode(t, clientConf, "client", client.validator.Key)
	defer restarted.Shutdown()
	if err := restarted.Init(ctx, nil); err != nil {
		t.Fatalf("err: %v", err)
	}
	if restarted.State().FinalSlot() != slot || restarted.State().Fingerprint() != fp {
		t.Fatalf("restarted state: %s %s", restarted.State().FinalSlot(), restarted.State().Fingerprint())
	}
	if restarted.Graph().Len() != server.Graph().Len() {
		t.Fatalf("restarted graph has %d blocks", restarted.Graph().Len())
	}
}

func TestNodeBootstrapFailure(t *testing.T) {
	conf := newTestConfig(t, tempDir(t), false)
	conf.MaxAttempts = 2
	n := newTestNode(t, conf, "lonely", nil)
	defer n.Shutdown()

	// nothing listens there
	err := n.Init(context.Background(), []peers.Peer{{NetAddr: "127.0.0.1:1"}})
	if !common.Is(err, common.NoBootstrapSource) {
		t.Fatalf("expected NoBootstrapSource, got %v", err)
	}
	if n.getState() != Starting {
		t.Fatalf("state %s", n.getState())
	}
	if err := n.Serve(); err == nil {
		t.Fatalf("Serve should fail without a live state")
	}
}

func TestNodeQUIC(t *testing.T) {
	ctx := context.Background()
	serverConf := newTestConfig(t, tempDir(t), false)
	serverConf.Transport = config.QUIC
	server := newTestNode(t, serverConf, "server", nil)
	defer server.Shutdown()
	if err := server.Init(ctx, nil); err != nil {
		t.Fatalf("err: %v", err)
	}
	populate(t, server, 10)
	if err := server.Serve(); err != nil {
		t.Fatalf("err: %v", err)
	}

	clientConf := newTestConfig(t, tempDir(t), false)
	clientConf.Transport = config.QUIC
	client := newTestNode(t, clientConf, "client", nil)
	defer client.Shutdown()

	candidate := server.validator.Peer(server.layer.AdvertiseAddr())
	if err := client.Init(ctx, []peers.Peer{candidate}); err != nil {
		t.Fatalf("err: %v", err)
	}
	checkSameNodeState(t, client, server)
}
