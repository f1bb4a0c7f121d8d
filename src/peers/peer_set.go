package peers

import (
	"strings"
)

// PeerSet is an ordered list of bootstrap candidates, without duplicate
// network addresses.
type PeerSet struct {
	Peers     []*Peer          `json:"peers" toml:"peers"`
	ByNetAddr map[string]*Peer `json:"-" toml:"-"`
}

// NewPeerSet creates a new PeerSet from a list of Peers. Later duplicates of
// a network address are dropped.
func NewPeerSet(peers []*Peer) *PeerSet {
	peerSet := &PeerSet{
		ByNetAddr: make(map[string]*Peer),
	}

	for _, peer := range peers {
		if _, ok := peerSet.ByNetAddr[peer.NetAddr]; ok {
			continue
		}
		peerSet.ByNetAddr[peer.NetAddr] = peer
		peerSet.Peers = append(peerSet.Peers, peer)
	}

	return peerSet
}

// NewPeerSetFromAddrs builds a PeerSet from a comma separated list of
// addresses, as given on the command line.
func NewPeerSetFromAddrs(addrs string) *PeerSet {
	peers := []*Peer{}
	for _, a := range strings.Split(addrs, ",") {
		if a = strings.TrimSpace(a); a != "" {
			peers = append(peers, NewPeer("", a, ""))
		}
	}
	return NewPeerSet(peers)
}

// WithNewPeers returns a new PeerSet with the peers appended, skipping those
// that are already known.
func (peerSet *PeerSet) WithNewPeers(peers []*Peer) *PeerSet {
	all := make([]*Peer, 0, len(peerSet.Peers)+len(peers))
	all = append(all, peerSet.Peers...)
	all = append(all, peers...)
	return NewPeerSet(all)
}

// WithRemovedPeer returns a new PeerSet without the given address.
func (peerSet *PeerSet) WithRemovedPeer(netAddr string) *PeerSet {
	_, others := ExcludePeer(peerSet.Peers, netAddr)
	return NewPeerSet(others)
}

// Len returns the number of Peers in the PeerSet.
func (peerSet *PeerSet) Len() int {
	return len(peerSet.Peers)
}

// NetAddrs ...
func (peerSet *PeerSet) NetAddrs() []string {
	res := []string{}
	for _, peer := range peerSet.Peers {
		res = append(res, peer.NetAddr)
	}
	return res
}
