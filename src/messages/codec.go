package messages

import (
	"github.com/mosaicnetworks/bootsync/src/codec"
	"github.com/mosaicnetworks/bootsync/src/common"
	"github.com/mosaicnetworks/bootsync/src/cursor"
	"github.com/mosaicnetworks/bootsync/src/models"
	"github.com/mosaicnetworks/bootsync/src/peers"
)

// Encode returns the tag and payload of msg.
func Encode(msg Message) (uint8, []byte, error) {
	payload, err := codec.Serialize(msg)
	if err != nil {
		return 0, nil, err
	}
	return msg.Kind().Tag(), payload, nil
}

// Decode resolves tag and decodes payload into the corresponding message. The
// whole payload must be consumed.
func Decode(tag uint8, payload []byte, lim models.Limits) (Message, error) {
	kind, err := KindOf(tag)
	if err != nil {
		return nil, err
	}

	r := codec.NewReader(payload)

	var msg Message
	switch kind {
	case ClientHelloKind:
		msg, err = decodeClientHello(r, lim)
	case ServerHelloKind:
		msg, err = decodeServerHello(r, lim)
	case GraphBatchKind:
		msg, err = decodeGraphBatch(r, lim)
	case LedgerBatchKind:
		msg, err = decodeLedgerBatch(r, lim)
	case AsyncPoolBatchKind:
		msg, err = decodeAsyncPoolBatch(r, lim)
	case CycleBatchKind:
		msg, err = decodeCycleBatch(r, lim)
	case CreditsBatchKind:
		msg, err = decodeCreditsBatch(r, lim)
	case ExecutedOpsBatchKind:
		msg, err = decodeExecutedOpsBatch(r, lim)
	case ExecutedDenunciationsBatchKind:
		msg, err = decodeExecutedDenunciationsBatch(r, lim)
	case StateDeltaKind:
		msg, err = decodeStateDelta(r, lim)
	case DoneKind:
		msg = &Done{}
	case AckKind:
		msg, err = decodeAck(r)
	case ErrorKind:
		msg, err = decodeError(r)
	default:
		return nil, common.NewBootstrapErr(common.UnknownMessageType, "kind %d", kind)
	}
	if err != nil {
		return nil, err
	}
	if err := r.Done(); err != nil {
		return nil, err
	}
	return msg, nil
}

/*******************************************************************************
Cursors
*******************************************************************************/

func writeCursor[K any](w *codec.Writer, c cursor.Cursor[K], encode func(*codec.Writer, K)) {
	w.WriteUint8(uint8(c.Status))
	if c.Status == cursor.InProgress {
		encode(w, c.Last)
	}
}

func readCursor[K any](r *codec.Reader, decode func(*codec.Reader) (K, error)) (cursor.Cursor[K], error) {
	s, err := r.Uint8()
	if err != nil {
		return cursor.Cursor[K]{}, err
	}
	switch cursor.Status(s) {
	case cursor.NotStarted:
		return cursor.Start[K](), nil
	case cursor.InProgress:
		k, err := decode(r)
		if err != nil {
			return cursor.Cursor[K]{}, err
		}
		return cursor.InProgressAt(k), nil
	case cursor.Finished:
		return cursor.Done[K](), nil
	default:
		return cursor.Cursor[K]{}, common.NewBootstrapErr(common.DecodeError, "invalid cursor status %d", s)
	}
}

func encodeWith[K codec.Encoder](w *codec.Writer, k K) {
	k.Encode(w)
}

// Encode ...
func (c Cursors) Encode(w *codec.Writer) {
	writeCursor(w, c.Graph, encodeWith[models.BlockKey])
	writeCursor(w, c.Ledger, encodeWith[models.Address])
	writeCursor(w, c.AsyncPool, encodeWith[models.AsyncMessageID])
	writeCursor(w, c.Cycles, func(w *codec.Writer, k uint64) { w.WriteUint64(k) })
	writeCursor(w, c.Credits, encodeWith[models.Slot])
	writeCursor(w, c.ExecutedOps, encodeWith[models.ExecKey])
	writeCursor(w, c.Denunciations, encodeWith[models.DenunciationIndex])
}

func decodeCursors(r *codec.Reader, lim models.Limits) (Cursors, error) {
	var c Cursors
	var err error
	if c.Graph, err = readCursor(r, models.WithLimits(lim, models.DecodeBlockKey)); err != nil {
		return c, err
	}
	if c.Ledger, err = readCursor(r, models.DecodeAddress); err != nil {
		return c, err
	}
	if c.AsyncPool, err = readCursor(r, models.WithLimits(lim, models.DecodeAsyncMessageID)); err != nil {
		return c, err
	}
	if c.Cycles, err = readCursor(r, func(r *codec.Reader) (uint64, error) { return r.Uint64() }); err != nil {
		return c, err
	}
	if c.Credits, err = readCursor(r, models.WithLimits(lim, models.DecodeSlot)); err != nil {
		return c, err
	}
	if c.ExecutedOps, err = readCursor(r, models.WithLimits(lim, models.DecodeExecKey)); err != nil {
		return c, err
	}
	c.Denunciations, err = readCursor(r, models.WithLimits(lim, models.DecodeDenunciationIndex))
	return c, err
}

/*******************************************************************************
Handshake
*******************************************************************************/

// Encode ...
func (m *ClientHello) Encode(w *codec.Writer) {
	w.WriteUint32(m.Version)
	w.WriteFixed(m.Nonce[:])
	m.Cursors.Encode(w)
	codec.WriteOption(w, m.ResumeSlot, encodeWith[models.Slot])
}

func decodeClientHello(r *codec.Reader, lim models.Limits) (*ClientHello, error) {
	m := &ClientHello{}
	var err error
	if m.Version, err = r.Uint32(); err != nil {
		return nil, err
	}
	if err = r.FixedInto(m.Nonce[:]); err != nil {
		return nil, err
	}
	if m.Cursors, err = decodeCursors(r, lim); err != nil {
		return nil, err
	}
	if m.ResumeSlot, err = codec.ReadOption(r, models.WithLimits(lim, models.DecodeSlot)); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode ...
func (m *ServerHello) Encode(w *codec.Writer) {
	w.WriteUint32(m.Version)
	w.WriteInt64(m.Time)
	m.FinalSlot.Encode(w)
	w.WriteBytes(m.PubKey)
	w.WriteString(m.Signature)
	codec.WriteItems(w, m.Peers)
}

func decodeServerHello(r *codec.Reader, lim models.Limits) (*ServerHello, error) {
	m := &ServerHello{}
	var err error
	if m.Version, err = r.Uint32(); err != nil {
		return nil, err
	}
	if m.Time, err = r.Int64(); err != nil {
		return nil, err
	}
	if m.FinalSlot, err = models.DecodeSlot(r, lim); err != nil {
		return nil, err
	}
	if m.PubKey, err = r.Bytes(maxPubKeyLength); err != nil {
		return nil, err
	}
	if m.Signature, err = r.String(maxSignatureLength); err != nil {
		return nil, err
	}
	if m.Peers, err = codec.ReadList(r, maxPeers, peers.DecodePeer); err != nil {
		return nil, err
	}
	return m, nil
}

/*******************************************************************************
Batches
*******************************************************************************/

// Encode ...
func (m *GraphBatch) Encode(w *codec.Writer) {
	m.Cutoff.Encode(w)
	codec.WriteItems(w, m.Blocks)
	w.WriteBool(m.Finished)
	codec.WriteOption(w, m.Meta, encodeWith[models.GraphMeta])
}

func decodeGraphBatch(r *codec.Reader, lim models.Limits) (*GraphBatch, error) {
	m := &GraphBatch{}
	var err error
	if m.Cutoff, err = models.DecodeSlot(r, lim); err != nil {
		return nil, err
	}
	if m.Blocks, err = codec.ReadList(r, lim.MaxListLength, models.WithLimits(lim, models.DecodeExportedBlock)); err != nil {
		return nil, err
	}
	if m.Finished, err = r.Bool(); err != nil {
		return nil, err
	}
	if m.Meta, err = codec.ReadOption(r, models.WithLimits(lim, models.DecodeGraphMeta)); err != nil {
		return nil, err
	}
	if (m.Meta != nil) != m.Finished {
		return nil, common.NewBootstrapErr(common.DecodeError, "graph metadata must come with the last batch only")
	}
	return m, nil
}

func encodeBatch[T codec.Encoder](w *codec.Writer, cutoff models.Slot, items []T, finished bool) {
	cutoff.Encode(w)
	codec.WriteItems(w, items)
	w.WriteBool(finished)
}

func decodeBatch[T any](r *codec.Reader, lim models.Limits,
	decode func(*codec.Reader, models.Limits) (T, error)) (models.Slot, []T, bool, error) {

	cutoff, err := models.DecodeSlot(r, lim)
	if err != nil {
		return cutoff, nil, false, err
	}
	items, err := codec.ReadList(r, lim.MaxListLength, models.WithLimits(lim, decode))
	if err != nil {
		return cutoff, nil, false, err
	}
	finished, err := r.Bool()
	return cutoff, items, finished, err
}

// Encode ...
func (m *LedgerBatch) Encode(w *codec.Writer) {
	encodeBatch(w, m.Cutoff, m.Items, m.Finished)
}

func decodeLedgerBatch(r *codec.Reader, lim models.Limits) (*LedgerBatch, error) {
	m := &LedgerBatch{}
	var err error
	if m.Cutoff, m.Items, m.Finished, err = decodeBatch(r, lim, models.DecodeLedgerItem); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode ...
func (m *AsyncPoolBatch) Encode(w *codec.Writer) {
	encodeBatch(w, m.Cutoff, m.Messages, m.Finished)
}

func decodeAsyncPoolBatch(r *codec.Reader, lim models.Limits) (*AsyncPoolBatch, error) {
	m := &AsyncPoolBatch{}
	var err error
	if m.Cutoff, m.Messages, m.Finished, err = decodeBatch(r, lim, models.DecodeAsyncMessage); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode ...
func (m *CycleBatch) Encode(w *codec.Writer) {
	encodeBatch(w, m.Cutoff, m.Cycles, m.Finished)
}

func decodeCycleBatch(r *codec.Reader, lim models.Limits) (*CycleBatch, error) {
	m := &CycleBatch{}
	var err error
	if m.Cutoff, m.Cycles, m.Finished, err = decodeBatch(r, lim, models.DecodeCycleInfo); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode ...
func (m *CreditsBatch) Encode(w *codec.Writer) {
	encodeBatch(w, m.Cutoff, m.Credits, m.Finished)
}

func decodeCreditsBatch(r *codec.Reader, lim models.Limits) (*CreditsBatch, error) {
	m := &CreditsBatch{}
	var err error
	if m.Cutoff, m.Credits, m.Finished, err = decodeBatch(r, lim, models.DecodeSlotCredits); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode ...
func (m *ExecutedOpsBatch) Encode(w *codec.Writer) {
	encodeBatch(w, m.Cutoff, m.Ops, m.Finished)
}

func decodeExecutedOpsBatch(r *codec.Reader, lim models.Limits) (*ExecutedOpsBatch, error) {
	m := &ExecutedOpsBatch{}
	var err error
	if m.Cutoff, m.Ops, m.Finished, err = decodeBatch(r, lim, models.DecodeExecutedOp); err != nil {
		return nil, err
	}
	return m, nil
}

// Encode ...
func (m *ExecutedDenunciationsBatch) Encode(w *codec.Writer) {
	encodeBatch(w, m.Cutoff, m.Denunciations, m.Finished)
}

func decodeExecutedDenunciationsBatch(r *codec.Reader, lim models.Limits) (*ExecutedDenunciationsBatch, error) {
	m := &ExecutedDenunciationsBatch{}
	var err error
	if m.Cutoff, m.Denunciations, m.Finished, err = decodeBatch(r, lim, models.DecodeDenunciationIndex); err != nil {
		return nil, err
	}
	return m, nil
}

/*******************************************************************************
Control
*******************************************************************************/

// Encode ...
func (m *StateDelta) Encode(w *codec.Writer) {
	m.Delta.Encode(w)
}

func decodeStateDelta(r *codec.Reader, lim models.Limits) (*StateDelta, error) {
	d, err := models.DecodeStateDelta(r, lim)
	if err != nil {
		return nil, err
	}
	return &StateDelta{Delta: d}, nil
}

// Encode ...
func (m *Done) Encode(w *codec.Writer) {}

// Encode ...
func (m *Ack) Encode(w *codec.Writer) {
	w.WriteUint8(m.Tag)
}

func decodeAck(r *codec.Reader) (*Ack, error) {
	tag, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	return &Ack{Tag: tag}, nil
}

// Encode ...
func (m *Error) Encode(w *codec.Writer) {
	w.WriteUint8(uint8(m.Code))
	if len(m.Message) > maxErrorLength {
		w.WriteString(m.Message[:maxErrorLength])
		return
	}
	w.WriteString(m.Message)
}

func decodeError(r *codec.Reader) (*Error, error) {
	code, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	msg, err := r.String(maxErrorLength)
	if err != nil {
		return nil, err
	}
	return &Error{Code: common.ErrKind(code), Message: msg}, nil
}
