// Package keys implements the public key cryptography of bootstrap servers.
//
// Every node owns a secp256k1 key-pair. A bootstrap server signs the nonce
// sent by the client in its hello, so a client that knows the public key of a
// peer can tell it is talking to that peer and not to an impostor relaying
// someone else's state.
package keys
