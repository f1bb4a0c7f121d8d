package messages

import (
	"lukechampine.com/blake3"

	"github.com/mosaicnetworks/bootsync/src/codec"
	"github.com/mosaicnetworks/bootsync/src/common"
	"github.com/mosaicnetworks/bootsync/src/cursor"
	"github.com/mosaicnetworks/bootsync/src/models"
	"github.com/mosaicnetworks/bootsync/src/peers"
)

const (
	// NonceSize is the size of the client nonce signed by the server.
	NonceSize = 32

	maxErrorLength     = 1024
	maxSignatureLength = 256
	maxPubKeyLength    = 65
	maxPeers           = 64
)

// Message is implemented by every message variant.
type Message interface {
	Kind() Kind
	codec.Encoder
}

// Cursors holds the position of the client in every stream.
type Cursors struct {
	Graph       cursor.Cursor[models.BlockKey]
	Ledger      cursor.Cursor[models.Address]
	AsyncPool   cursor.Cursor[models.AsyncMessageID]
	Cycles      cursor.Cursor[uint64]
	Credits     cursor.Cursor[models.Slot]
	ExecutedOps cursor.Cursor[models.ExecKey]

	Denunciations cursor.Cursor[models.DenunciationIndex]
}

// ClientHello opens a session. Cursors and ResumeSlot are those of a previous
// interrupted session with the same server, if any.
type ClientHello struct {
	Version    uint32
	Nonce      [NonceSize]byte
	Cursors    Cursors
	ResumeSlot *models.Slot
}

// ServerHello answers a ClientHello. Signature signs SigningDigest with the
// server's key.
type ServerHello struct {
	Version   uint32
	Time      int64
	FinalSlot models.Slot
	PubKey    []byte
	Signature string
	Peers     []peers.Peer
}

// SigningDigest is the digest signed by the server: it binds the client
// nonce to the server time and version.
func (m *ServerHello) SigningDigest(nonce [NonceSize]byte) []byte {
	w := codec.NewWriter()
	w.WriteFixed(nonce[:])
	w.WriteUint32(m.Version)
	w.WriteInt64(m.Time)
	m.FinalSlot.Encode(w)
	d := blake3.Sum256(w.Bytes())
	return d[:]
}

// GraphBatch carries consensus graph blocks. Meta is sent with the last batch.
type GraphBatch struct {
	Cutoff   models.Slot
	Blocks   []models.ExportedBlock
	Finished bool
	Meta     *models.GraphMeta
}

// LedgerBatch ...
type LedgerBatch struct {
	Cutoff   models.Slot
	Items    []models.LedgerItem
	Finished bool
}

// AsyncPoolBatch ...
type AsyncPoolBatch struct {
	Cutoff   models.Slot
	Messages []models.AsyncMessage
	Finished bool
}

// CycleBatch carries PoS cycle infos.
type CycleBatch struct {
	Cutoff   models.Slot
	Cycles   []models.CycleInfo
	Finished bool
}

// CreditsBatch carries PoS deferred credits.
type CreditsBatch struct {
	Cutoff   models.Slot
	Credits  []models.SlotCredits
	Finished bool
}

// ExecutedOpsBatch ...
type ExecutedOpsBatch struct {
	Cutoff   models.Slot
	Ops      []models.ExecutedOp
	Finished bool
}

// ExecutedDenunciationsBatch carries executed denunciation records. It
// follows the executed operations in the same phase.
type ExecutedDenunciationsBatch struct {
	Cutoff        models.Slot
	Denunciations []models.DenunciationIndex
	Finished      bool
}

// StateDelta carries the changes finalized since the earliest cutoff of the
// session.
type StateDelta struct {
	Delta models.StateDelta
}

// Done ends a successful session.
type Done struct{}

// Ack acknowledges the message with the given tag.
type Ack struct {
	Tag uint8
}

// Error aborts a session.
type Error struct {
	Code    common.ErrKind
	Message string
}

func (*ClientHello) Kind() Kind                { return ClientHelloKind }
func (*ServerHello) Kind() Kind                { return ServerHelloKind }
func (*GraphBatch) Kind() Kind                 { return GraphBatchKind }
func (*LedgerBatch) Kind() Kind                { return LedgerBatchKind }
func (*AsyncPoolBatch) Kind() Kind             { return AsyncPoolBatchKind }
func (*CycleBatch) Kind() Kind                 { return CycleBatchKind }
func (*CreditsBatch) Kind() Kind               { return CreditsBatchKind }
func (*ExecutedOpsBatch) Kind() Kind           { return ExecutedOpsBatchKind }
func (*ExecutedDenunciationsBatch) Kind() Kind { return ExecutedDenunciationsBatchKind }
func (*StateDelta) Kind() Kind                 { return StateDeltaKind }
func (*Done) Kind() Kind                       { return DoneKind }
func (*Ack) Kind() Kind                        { return AckKind }
func (*Error) Kind() Kind                      { return ErrorKind }
