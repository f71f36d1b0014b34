// Package http provides the REST surface of the terminal server.
//
// Endpoints:
//   - GET    /health                   liveness and manager counters
//   - GET    /providers                provider table in display order
//   - GET    /providers/:id            one provider
//   - POST   /providers/:id/preflight  probe and install a provider CLI
//   - GET    /terminals                sessions, grid slots and stats
//   - GET    /terminals/:id            one session
//   - PUT    /terminals/:id            ensure the session runs a provider/model
//   - POST   /terminals/:id/input      write to the session
//   - POST   /terminals/:id/resize     resize the session's terminal
//   - DELETE /terminals/:id            kill the session
//
// Output is only available on the WebSocket stream (package ws).
package http
