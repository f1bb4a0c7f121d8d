// Package messages defines the closed set of messages exchanged during a
// bootstrap session and the registry that maps them to wire tags.
package messages

import (
	"github.com/mosaicnetworks/bootsync/src/common"
)

// ProtocolVersion is the version of the bootstrap protocol spoken by this
// implementation.
const ProtocolVersion uint32 = 1

// Kind enumerates the message variants.
type Kind uint8

const (
	ClientHelloKind Kind = iota
	ServerHelloKind
	GraphBatchKind
	LedgerBatchKind
	AsyncPoolBatchKind
	CycleBatchKind
	CreditsBatchKind
	ExecutedOpsBatchKind
	ExecutedDenunciationsBatchKind
	StateDeltaKind
	DoneKind
	AckKind
	ErrorKind

	numKinds
)

type kindInfo struct {
	tag   uint8
	name  string
	since uint32
}

var registry = [numKinds]kindInfo{
	ClientHelloKind:                {0x01, "ClientHello", 1},
	ServerHelloKind:                {0x02, "ServerHello", 1},
	GraphBatchKind:                 {0x10, "GraphBatch", 1},
	LedgerBatchKind:                {0x11, "LedgerBatch", 1},
	AsyncPoolBatchKind:             {0x12, "AsyncPoolBatch", 1},
	CycleBatchKind:                 {0x13, "CycleBatch", 1},
	CreditsBatchKind:               {0x14, "CreditsBatch", 1},
	ExecutedOpsBatchKind:           {0x15, "ExecutedOpsBatch", 1},
	ExecutedDenunciationsBatchKind: {0x16, "ExecutedDenunciationsBatch", 1},
	StateDeltaKind:                 {0x20, "StateDelta", 1},
	DoneKind:                       {0x21, "Done", 1},
	AckKind:                        {0x30, "Ack", 1},
	ErrorKind:                      {0x7F, "Error", 1},
}

var byTag map[uint8]Kind

func init() {
	byTag = make(map[uint8]Kind, numKinds)
	for k, info := range registry {
		if _, dup := byTag[info.tag]; dup || info.name == "" {
			panic("messages: invalid registry")
		}
		byTag[info.tag] = Kind(k)
	}
}

// Tag returns the wire tag of the kind.
func (k Kind) Tag() uint8 {
	return registry[k].tag
}

// Since returns the protocol version that introduced the kind.
func (k Kind) Since() uint32 {
	return registry[k].since
}

// String ...
func (k Kind) String() string {
	if k >= numKinds {
		return "Unknown"
	}
	return registry[k].name
}

// KindOf resolves a wire tag. Tags outside the registry, or introduced after
// ProtocolVersion, fail with UnknownMessageType.
func KindOf(tag uint8) (Kind, error) {
	k, ok := byTag[tag]
	if !ok || k.Since() > ProtocolVersion {
		return 0, common.NewBootstrapErr(common.UnknownMessageType, "tag 0x%02X", tag)
	}
	return k, nil
}

// Kinds returns every registered kind.
func Kinds() []Kind {
	res := make([]Kind, 0, numKinds)
	for k := Kind(0); k < numKinds; k++ {
		res = append(res, k)
	}
	return res
}
