package peers

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mosaicnetworks/bootsync/src/codec"
)

const (
	maxNetAddrLength = 255
	maxPubKeyLength  = 256
	maxMonikerLength = 64
)

// Peer is a bootstrap server.
type Peer struct {
	NetAddr   string `json:"NetAddr" toml:"net_addr"`
	PubKeyHex string `json:"PubKeyHex" toml:"pub_key"`
	Moniker   string `json:"Moniker" toml:"moniker"`
}

// NewPeer ...
func NewPeer(pubKeyHex, netAddr, moniker string) *Peer {
	return &Peer{
		PubKeyHex: pubKeyHex,
		NetAddr:   netAddr,
		Moniker:   moniker,
	}
}

// PubKeyBytes decodes the 0X prefixed hex public key. It returns nil when
// the peer has no known key.
func (p *Peer) PubKeyBytes() ([]byte, error) {
	if p.PubKeyHex == "" {
		return nil, nil
	}
	return hex.DecodeString(strings.TrimPrefix(strings.ToUpper(p.PubKeyHex), "0X"))
}

// String ...
func (p *Peer) String() string {
	if p.Moniker != "" {
		return fmt.Sprintf("%s(%s)", p.Moniker, p.NetAddr)
	}
	return p.NetAddr
}

// Encode ...
func (p Peer) Encode(w *codec.Writer) {
	w.WriteString(p.NetAddr)
	w.WriteString(p.PubKeyHex)
	w.WriteString(p.Moniker)
}

// DecodePeer ...
func DecodePeer(r *codec.Reader) (Peer, error) {
	var p Peer
	var err error
	if p.NetAddr, err = r.String(maxNetAddrLength); err != nil {
		return p, err
	}
	if p.PubKeyHex, err = r.String(maxPubKeyLength); err != nil {
		return p, err
	}
	p.Moniker, err = r.String(maxMonikerLength)
	return p, err
}

// ExcludePeer is used to exclude a single peer from a list of peers.
func ExcludePeer(peers []*Peer, netAddr string) (int, []*Peer) {
	index := -1
	otherPeers := make([]*Peer, 0, len(peers))
	for i, p := range peers {
		if p.NetAddr != netAddr {
			otherPeers = append(otherPeers, p)
		} else {
			index = i
		}
	}
	return index, otherPeers
}
