// Package net carries bootstrap sessions between nodes.
//
// A StreamLayer provides connections. There are three implementations:
//
// - TCP: plain TCP sockets
//
// - QUIC: one bidirectional QUIC stream per session, over UDP
//
// - Inmem: synchronous in-memory pipes, used for testing
//
// Conn wraps a connection with length-prefixed framing. Every frame is a 4 byte
// big-endian length followed by a one byte message tag and the payload. The
// length is checked against a maximum before anything is allocated, so a
// misbehaving peer cannot make a node buffer an arbitrary amount of data.
//
// TCP
//
// To use a TCP stream layer, set the following configuration options (cf
// config package):
//
// - BindAddr: the IP:PORT of the TCP socket that the node binds to.
//
// - AdvertiseAddr: (optional) The address that is advertised to other nodes. If
// BindAddr is a local address not reachable by other peers, it is useful to
// set AdvertiseAddr to the reachable public address.
//
// QUIC
//
// The QUIC stream layer listens on the same BindAddr over UDP. Connections use
// TLS 1.3 with a development certificate; server authenticity is established
// by the signature carried in the server hello, not by the certificate.
package net
