package node

import (
	"crypto/ecdsa"

	"github.com/mosaicnetworks/bootsync/src/crypto/keys"
	"github.com/mosaicnetworks/bootsync/src/peers"
)

//Validator holds the identity of a node: the key that signs server hellos
//and a friendly name
type Validator struct {
	Key     *ecdsa.PrivateKey
	Moniker string

	pubHex string
}

//NewValidator is a factory method for a Validator
func NewValidator(key *ecdsa.PrivateKey, moniker string) *Validator {
	return &Validator{
		Key:     key,
		Moniker: moniker,
	}
}

//PublicKeyHex returns the validator's public key as a hex string
func (v *Validator) PublicKeyHex() string {
	if len(v.pubHex) == 0 {
		v.pubHex = keys.PublicKeyHex(&v.Key.PublicKey)
	}
	return v.pubHex
}

//Peer describes the validator as a bootstrap server reachable at netAddr
func (v *Validator) Peer(netAddr string) peers.Peer {
	return peers.Peer{
		NetAddr:   netAddr,
		PubKeyHex: v.PublicKeyHex(),
		Moniker:   v.Moniker,
	}
}
