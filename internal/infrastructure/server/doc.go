// Package server wires configuration, the terminal manager and the HTTP and
// WebSocket surfaces into one process.
package server
