package net

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"time"

	"github.com/mosaicnetworks/bootsync/src/common"
)

const (
	bufSize    = 64 * 1024
	headerSize = 4
)

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")

	// ErrFrameTooLarge is returned when a length prefix exceeds the maximum
	// frame size.
	ErrFrameTooLarge = errors.New("frame too large")
)

// Conn frames messages over a net.Conn. Every operation is bounded by a
// per-operation timeout and by an optional overall deadline. Conn is not safe
// for concurrent use by multiple readers or multiple writers.
type Conn struct {
	conn         net.Conn
	r            *bufio.Reader
	maxFrameSize int
	sendRetries  int
	deadline     time.Time
}

// NewConn wraps c. Frames longer than maxFrameSize bytes, tag included, are
// rejected in both directions. A write that times out after sending part of
// a frame is resumed up to sendRetries times.
func NewConn(c net.Conn, maxFrameSize int, sendRetries int) *Conn {
	return &Conn{
		conn:         c,
		r:            bufio.NewReaderSize(c, bufSize),
		maxFrameSize: maxFrameSize,
		sendRetries:  sendRetries,
	}
}

// SetDeadline sets an overall deadline that caps the timeout of every
// subsequent operation. The zero value removes it.
func (c *Conn) SetDeadline(t time.Time) {
	c.deadline = t
}

// RemoteAddr ...
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

func (c *Conn) opDeadline(timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if !c.deadline.IsZero() && c.deadline.Before(d) {
		return c.deadline
	}
	return d
}

func (c *Conn) pastDeadline() bool {
	return !c.deadline.IsZero() && !time.Now().Before(c.deadline)
}

// WriteFrame sends one frame.
func (c *Conn) WriteFrame(tag uint8, payload []byte, timeout time.Duration) error {
	size := len(payload) + 1
	if size > c.maxFrameSize {
		return common.WrapBootstrapErr(common.DecodeError, ErrFrameTooLarge,
			"sending %d bytes, limit is %d", size, c.maxFrameSize)
	}

	buf := make([]byte, headerSize+size)
	binary.BigEndian.PutUint32(buf, uint32(size))
	buf[headerSize] = tag
	copy(buf[headerSize+1:], payload)

	written := 0
	for attempt := 0; ; attempt++ {
		c.conn.SetWriteDeadline(c.opDeadline(timeout))
		n, err := c.conn.Write(buf[written:])
		written += n
		if err == nil {
			return nil
		}
		if !isTimeout(err) {
			return c.ioErr(err, "sending frame")
		}
		if attempt >= c.sendRetries || c.pastDeadline() {
			return common.WrapBootstrapErr(common.Timeout, err,
				"sending frame %#x, %d of %d bytes written", tag, written, len(buf))
		}
	}
}

// ReadFrame receives one frame and returns its tag and payload.
func (c *Conn) ReadFrame(timeout time.Duration) (uint8, []byte, error) {
	c.conn.SetReadDeadline(c.opDeadline(timeout))

	var header [headerSize]byte
	if _, err := io.ReadFull(c.r, header[:]); err != nil {
		return 0, nil, c.ioErr(err, "reading frame header")
	}

	size := binary.BigEndian.Uint32(header[:])
	if size == 0 {
		return 0, nil, common.NewBootstrapErr(common.DecodeError, "empty frame")
	}
	if uint64(size) > uint64(c.maxFrameSize) {
		return 0, nil, common.WrapBootstrapErr(common.DecodeError, ErrFrameTooLarge,
			"received length %d, limit is %d", size, c.maxFrameSize)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return 0, nil, c.ioErr(err, "reading frame body")
	}
	return buf[0], buf[1:], nil
}

// ioErr classifies a failed read or write. A lost connection is reported as
// ProviderUnavailable so that the client resumes the session.
func (c *Conn) ioErr(err error, what string) error {
	if isTimeout(err) {
		return common.WrapBootstrapErr(common.Timeout, err, "%s", what)
	}
	return common.WrapBootstrapErr(common.ProviderUnavailable, err, "%s from %s", what, c.conn.RemoteAddr())
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
