package net

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	quic "github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
)

const (
	quicProto = "bootsync/1"

	// quicLinger bounds how long Close waits for the peer to finish its side
	// of the stream before tearing down the connection.
	quicLinger = 2 * time.Second
)

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

// devTLSCert derives a fixed self-signed certificate. QUIC requires TLS but
// peers authenticate each other with node keys at the protocol level.
func devTLSCert() (tls.Certificate, error) {
	seed := sha256.Sum256([]byte("bootsync-quic-dev-key"))
	priv := ed25519.NewKeyFromSeed(seed[:])
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(100 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(zeroReader{}, &template, &template, priv.Public(), priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}, nil
}

func quicConfig(timeout time.Duration) *quic.Config {
	return &quic.Config{
		HandshakeIdleTimeout: timeout,
		KeepAlivePeriod:      timeout / 2,
	}
}

// QUICDialer dials QUIC connections and opens one stream on each.
type QUICDialer struct{}

// Dial implements the Dialer interface.
func (QUICDialer) Dial(address string, timeout time.Duration) (net.Conn, error) {
	tlsConf := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{quicProto},
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	conn, err := quic.DialAddr(ctx, address, tlsConf, quicConfig(timeout))
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "")
		return nil, err
	}
	return &quicConn{Stream: stream, conn: conn}, nil
}

// QUICStreamLayer implements the StreamLayer interface over QUIC. Every
// accepted connection yields the first stream opened by the dialer.
type QUICStreamLayer struct {
	QUICDialer
	advertise string
	listener  *quic.Listener
	logger    *logrus.Entry

	acceptCh chan net.Conn
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewQUICStreamLayer listens for QUIC connections on bindAddr (UDP).
func NewQUICStreamLayer(bindAddr string, advertise string, timeout time.Duration, logger *logrus.Entry) (*QUICStreamLayer, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	cert, err := devTLSCert()
	if err != nil {
		return nil, err
	}
	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{quicProto},
	}

	listener, err := quic.ListenAddr(bindAddr, tlsConf, quicConfig(timeout))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &QUICStreamLayer{
		advertise: advertise,
		listener:  listener,
		logger:    logger,
		acceptCh:  make(chan net.Conn),
		ctx:       ctx,
		cancel:    cancel,
	}

	l.wg.Add(1)
	go l.acceptLoop(timeout)

	return l, nil
}

func (l *QUICStreamLayer) acceptLoop(timeout time.Duration) {
	defer l.wg.Done()
	for {
		conn, err := l.listener.Accept(l.ctx)
		if err != nil {
			if l.ctx.Err() == nil {
				l.logger.WithError(err).Error("QUIC accept")
			}
			return
		}

		l.wg.Add(1)
		go func(conn *quic.Conn) {
			defer l.wg.Done()

			ctx, cancel := context.WithTimeout(l.ctx, timeout)
			defer cancel()

			stream, err := conn.AcceptStream(ctx)
			if err != nil {
				l.logger.WithError(err).WithField("from", conn.RemoteAddr()).Debug("QUIC accept stream")
				conn.CloseWithError(0, "")
				return
			}

			select {
			case l.acceptCh <- &quicConn{Stream: stream, conn: conn}:
			case <-l.ctx.Done():
				conn.CloseWithError(0, "")
			}
		}(conn)
	}
}

// Accept implements the net.Listener interface.
func (l *QUICStreamLayer) Accept() (net.Conn, error) {
	select {
	case c := <-l.acceptCh:
		return c, nil
	case <-l.ctx.Done():
		return nil, ErrTransportShutdown
	}
}

// Close implements the net.Listener interface.
func (l *QUICStreamLayer) Close() error {
	l.cancel()
	err := l.listener.Close()
	l.wg.Wait()
	return err
}

// Addr implements the net.Listener interface.
func (l *QUICStreamLayer) Addr() net.Addr {
	return l.listener.Addr()
}

// AdvertiseAddr implements the StreamLayer interface.
func (l *QUICStreamLayer) AdvertiseAddr() string {
	if l.advertise != "" {
		return l.advertise
	}
	return l.listener.Addr().String()
}

// quicConn adapts a QUIC stream to net.Conn. It owns the connection the
// stream belongs to.
type quicConn struct {
	*quic.Stream
	conn      *quic.Conn
	closeOnce sync.Once
}

func (c *quicConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

func (c *quicConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close finishes the send side of the stream, drains the receive side until
// the peer finishes too, then closes the connection. Closing the connection
// right away would discard frames still in flight.
func (c *quicConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.Stream.Close()
		c.Stream.SetReadDeadline(time.Now().Add(quicLinger))
		io.Copy(io.Discard, c.Stream)
		c.conn.CloseWithError(0, "")
	})
	return err
}
