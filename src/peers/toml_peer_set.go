package peers

import (
	"bytes"
	"io/ioutil"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

const tomlPeerSetPath = "peers.toml"

type tomlPeerFile struct {
	Peers []*Peer `toml:"peers"`
}

// TOMLPeerSet reads and writes the bootstrap list as a peers.toml file:
//
//	[[peers]]
//	net_addr = "10.0.0.1:31244"
//	pub_key = "0X04..."
//	moniker = "alice"
type TOMLPeerSet struct {
	l    sync.Mutex
	path string
}

// NewTOMLPeerSet ...
func NewTOMLPeerSet(base string) *TOMLPeerSet {
	return &TOMLPeerSet{
		path: filepath.Join(base, tomlPeerSetPath),
	}
}

// PeerSet parses the underlying TOML file.
func (t *TOMLPeerSet) PeerSet() (*PeerSet, error) {
	t.l.Lock()
	defer t.l.Unlock()

	var file tomlPeerFile
	if _, err := toml.DecodeFile(t.path, &file); err != nil {
		return nil, err
	}
	if len(file.Peers) == 0 {
		return nil, nil
	}

	cleansePeers(file.Peers)

	return NewPeerSet(file.Peers), nil
}

// Write persists a list of peers to the TOML file.
func (t *TOMLPeerSet) Write(peers []*Peer) error {
	t.l.Lock()
	defer t.l.Unlock()

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(tomlPeerFile{Peers: peers}); err != nil {
		return err
	}
	return ioutil.WriteFile(t.path, buf.Bytes(), 0644)
}

// Load reads the peer file found in dir, peers.json first, then peers.toml.
func Load(dir string) (*PeerSet, error) {
	ps, err := NewJSONPeerSet(dir).PeerSet()
	if err == nil {
		return ps, nil
	}
	ps, tErr := NewTOMLPeerSet(dir).PeerSet()
	if tErr == nil {
		return ps, nil
	}
	return nil, err
}
