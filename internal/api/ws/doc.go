// Package ws streams a terminal session over a WebSocket.
//
// GET /terminals/:id/stream upgrades to a socket that becomes the session's
// single subscriber. Any earlier subscriber of the same id stops receiving.
//
// Server to client:
//   - binary frames: raw terminal output, in order
//   - text frames: JSON control events (exit, ensured, error, pong)
//
// Client to server:
//   - binary frames: raw input, written to the session unchanged
//   - text frames: JSON control messages (input, resize, ensure, kill, ping)
//
// Optional query parameters provider, model, cwd, cols and rows ensure the
// session as soon as the socket is open.
//
// Example Usage:
//
//	handler := ws.NewHandler(manager, metrics, logger)
//	router.GET("/terminals/:id/stream", handler.HandleStream)
package ws
