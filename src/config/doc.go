// Package config defines the configuration of a bootsync node.
//
// Regardless of how the node is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. On top of these
// options, the node relies on a data directory, defined by Config.DataDir,
// where it expects to find a few additional files:
//
//	priv_key // a plain text file containing the raw private key (cf. bootsync keygen).
//	bootsync.toml // (optional) the configuration file read by the command line.
//	peers.json or peers.toml // (optional) the bootstrap list, when no peers are given.
//	graph.json // written on bootstrap: the consensus graph export.
package config
