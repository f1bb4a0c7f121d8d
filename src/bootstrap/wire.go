package bootstrap

import (
	"errors"
	"time"

	"github.com/mosaicnetworks/bootsync/src/common"
	"github.com/mosaicnetworks/bootsync/src/messages"
	"github.com/mosaicnetworks/bootsync/src/models"
	bnet "github.com/mosaicnetworks/bootsync/src/net"
)

// errAborted marks errors caused by an Error message from the remote side,
// which are not answered.
var errAborted = errors.New("session aborted by remote")

// wire exchanges messages over a framed connection.
type wire struct {
	conn    *bnet.Conn
	lim     models.Limits
	timeout time.Duration
}

func (w *wire) send(msg messages.Message) error {
	tag, payload, err := messages.Encode(msg)
	if err != nil {
		return err
	}
	return w.conn.WriteFrame(tag, payload, w.timeout)
}

func (w *wire) receive() (messages.Message, error) {
	tag, payload, err := w.conn.ReadFrame(w.timeout)
	if err != nil {
		return nil, err
	}
	return messages.Decode(tag, payload, w.lim)
}

// sendError reports err to the remote side, unless the remote side reported
// it first. Failures are ignored: the connection is closed right after.
func (w *wire) sendError(err error) {
	if errors.Is(err, errAborted) {
		return
	}
	code, ok := common.KindOf(err)
	if !ok {
		code = common.RemoteError
	}
	w.send(&messages.Error{Code: code, Message: err.Error()})
}

// remoteError converts an Error message into a local error. Transient
// conditions on the remote side keep their kind so that the retry policy
// applies to them.
func remoteError(m *messages.Error) error {
	switch m.Code {
	case common.IncompatibleVersion, common.Timeout, common.ProviderUnavailable:
		return common.WrapBootstrapErr(m.Code, errAborted, "remote: %s", m.Message)
	default:
		return common.WrapBootstrapErr(common.RemoteError, errAborted, "remote %s: %s", m.Code, m.Message)
	}
}

func unexpected(got messages.Message, expected messages.Kind) error {
	return common.NewBootstrapErr(common.ProtocolViolation, "expected %s, received %s", expected, got.Kind())
}
