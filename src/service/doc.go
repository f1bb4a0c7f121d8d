// Package service exposes the status of a node over HTTP: /stats returns the
// node stats, /graph a summary of the consensus graph, and /peers the
// bootstrap list advertised by the server the node bootstrapped from.
package service
