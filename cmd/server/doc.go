// Package main is the entry point for the Squadron terminal server.
//
// The server runs the shell and AI CLI sessions behind the terminal grid:
//
//	Grid UI (xterm.js) <-- HTTP + WebSocket --> squadron-term --> pty sessions
//	                                                   |
//	                                                   +--> credential store
//
// Commands:
//   - serve: start the HTTP and WebSocket server
//   - providers: print the provider table
//   - preflight <provider>: check and install a provider CLI
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	squadron-term serve --port 8000
//	squadron-term serve --dev
//
// Signals:
//   - SIGINT, SIGTERM: kill every session, then exit
package main
