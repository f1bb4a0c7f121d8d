// Package peers manages the list of bootstrap servers a node may synchronize
// from.
//
// A peer is identified by the network address where its bootstrap server
// listens and, optionally, by its public key. When the public key is known,
// the client checks that the server hello was signed by the corresponding
// private key. The moniker is a non-unique user-friendly name.
//
// Upon starting up, the node looks for a peers.json or a peers.toml file in
// its data directory. The order of the peers in the file is the order in
// which they are tried. Servers also advertise their own peer list in the
// handshake, which the client appends to its candidates after the configured
// ones.
package peers
