package net

import (
	"crypto/rand"
	"fmt"
	"net"
	"sync"
	"time"
)

// NewInmemAddr returns a new in-memory addr with
// a randomly generate UUID as the ID.
func NewInmemAddr() string {
	return generateUUID()
}

// generateUUID is used to generate a random UUID.
func generateUUID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Errorf("failed to read random bytes: %v", err))
	}

	return fmt.Sprintf("%08x-%04x-%04x-%04x-%12x",
		buf[0:4],
		buf[4:6],
		buf[6:8],
		buf[8:10],
		buf[10:16])
}

type inmemAddr string

func (a inmemAddr) Network() string { return "inmem" }
func (a inmemAddr) String() string  { return string(a) }

// InmemNetwork is a registry of in-memory stream layers that can dial each
// other.
type InmemNetwork struct {
	sync.RWMutex
	layers map[string]*InmemStreamLayer
}

// NewInmemNetwork ...
func NewInmemNetwork() *InmemNetwork {
	return &InmemNetwork{
		layers: make(map[string]*InmemStreamLayer),
	}
}

// Dial implements the Dialer interface. Connections are synchronous pipes.
func (n *InmemNetwork) Dial(address string, timeout time.Duration) (net.Conn, error) {
	n.RLock()
	target, ok := n.layers[address]
	n.RUnlock()
	if !ok {
		return nil, fmt.Errorf("failed to connect to peer: %v", address)
	}

	local, remote := net.Pipe()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case target.acceptCh <- remote:
		return local, nil
	case <-target.shutdownCh:
		local.Close()
		remote.Close()
		return nil, ErrTransportShutdown
	case <-timer.C:
		local.Close()
		remote.Close()
		return nil, fmt.Errorf("dial %s: timed out", address)
	}
}

// InmemStreamLayer implements the StreamLayer interface in memory, to allow
// sessions to be tested without going over a network.
type InmemStreamLayer struct {
	*InmemNetwork
	addr         string
	acceptCh     chan net.Conn
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

// NewInmemStreamLayer registers a new stream layer on the network and
// generates a random local address if none is specified.
func (n *InmemNetwork) NewInmemStreamLayer(addr string) *InmemStreamLayer {
	if addr == "" {
		addr = NewInmemAddr()
	}
	l := &InmemStreamLayer{
		InmemNetwork: n,
		addr:         addr,
		acceptCh:     make(chan net.Conn),
		shutdownCh:   make(chan struct{}),
	}

	n.Lock()
	n.layers[addr] = l
	n.Unlock()

	return l
}

// Accept implements the net.Listener interface.
func (l *InmemStreamLayer) Accept() (net.Conn, error) {
	select {
	case c := <-l.acceptCh:
		return c, nil
	case <-l.shutdownCh:
		return nil, ErrTransportShutdown
	}
}

// Close implements the net.Listener interface.
func (l *InmemStreamLayer) Close() error {
	l.shutdownOnce.Do(func() {
		l.Lock()
		delete(l.layers, l.addr)
		l.Unlock()
		close(l.shutdownCh)
	})
	return nil
}

// Addr implements the net.Listener interface.
func (l *InmemStreamLayer) Addr() net.Addr {
	return inmemAddr(l.addr)
}

// AdvertiseAddr implements the StreamLayer interface.
func (l *InmemStreamLayer) AdvertiseAddr() string {
	return l.addr
}
