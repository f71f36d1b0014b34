package ws

import "github.com/GriffinCanCode/squadron/backend/internal/domain/terminal"

// Control message types, client to server
const (
	TypeInput  = "input"
	TypeResize = "resize"
	TypeEnsure = "ensure"
	TypeKill   = "kill"
	TypePing   = "ping"
)

// Event types, server to client
const (
	TypeExit    = "exit"
	TypeEnsured = "ensured"
	TypeError   = "error"
	TypePong    = "pong"
)

// ControlMessage is a client to server text frame
type ControlMessage struct {
	Type     string            `json:"type"`
	Data     string            `json:"data,omitempty"`
	Cols     int               `json:"cols,omitempty"`
	Rows     int               `json:"rows,omitempty"`
	Provider string            `json:"provider,omitempty"`
	Model    string            `json:"model,omitempty"`
	Cwd      string            `json:"cwd,omitempty"`
	Env      map[string]string `json:"env,omitempty"`
}

func (m ControlMessage) config() terminal.Config {
	return terminal.Config{
		ProviderID: m.Provider,
		ModelID:    m.Model,
		Cwd:        m.Cwd,
		Env:        m.Env,
		Cols:       m.Cols,
		Rows:       m.Rows,
	}
}

// Event is a server to client text frame
type Event struct {
	Type      string           `json:"type"`
	SessionID string           `json:"session_id"`
	Code      *int             `json:"code,omitempty"`
	Signal    string           `json:"signal,omitempty"`
	Error     string           `json:"error,omitempty"`
	Kind      string           `json:"kind,omitempty"`
	Result    *terminal.Result `json:"result,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

func exitEvent(id string, status terminal.ExitStatus) Event {
	code := status.Code
	return Event{Type: TypeExit, SessionID: id, Code: &code, Signal: status.Signal}
}
