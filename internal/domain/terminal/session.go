package terminal

import (
	"sync"
	"time"
)

// State is a session lifecycle state
type State string

const (
	StateUninitialized State = "uninitialized"
	StateSpawning      State = "spawning"
	StateRunning       State = "running"
	StateRespawning    State = "respawning"
	StateExited        State = "exited"
	StateKilled        State = "killed"
)

// Config is what a caller asks a session to run
type Config struct {
	ProviderID string            `json:"provider"`
	ModelID    string            `json:"model"`
	Cwd        string            `json:"cwd"`
	Env        map[string]string `json:"env,omitempty"`
	Cols       int               `json:"cols,omitempty"`
	Rows       int               `json:"rows,omitempty"`
}

// sameBinding reports whether c and o run the same provider and model.
// Only those two fields force a respawn.
func (c Config) sameBinding(o Config) bool {
	return c.ProviderID == o.ProviderID && c.ModelID == o.ModelID
}

// ExitStatus describes how a session's process ended
type ExitStatus struct {
	Code   int    `json:"code"`
	Signal string `json:"signal,omitempty"`
}

// Signaled reports whether the process was ended by a signal
func (e ExitStatus) Signaled() bool {
	return e.Signal != ""
}

// Session is one terminal slot's current incarnation
type Session struct {
	ID        string
	Provider  ProviderDescriptor
	Config    Config
	StartedAt time.Time

	mu       sync.RWMutex
	state    State
	proc     *process
	dir      string
	cols     int
	rows     int
	lastExit *ExitStatus
}

func newSession(id string, provider ProviderDescriptor, cfg Config) *Session {
	return &Session{
		ID:       id,
		Provider: provider,
		Config:   cfg,
		state:    StateUninitialized,
		cols:     cfg.Cols,
		rows:     cfg.Rows,
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// running returns the live process, or nil unless the session is Running
func (s *Session) running() *process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateRunning {
		return nil
	}
	return s.proc
}

// process returns the current process handle in any state
func (s *Session) process() *process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.proc
}

// reconfigure points the session at a new provider and drops the retired
// handle. Only called under the session's registry lock.
func (s *Session) reconfigure(provider ProviderDescriptor, cfg Config) {
	s.mu.Lock()
	s.Provider = provider
	s.Config = cfg
	s.proc = nil
	if cfg.Cols > 0 && cfg.Rows > 0 {
		s.cols, s.rows = cfg.Cols, cfg.Rows
	}
	s.mu.Unlock()
}

func (s *Session) size() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cols, s.rows
}

func (s *Session) setSize(cols, rows int) {
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.mu.Unlock()
}

func (s *Session) attach(p *process, dir string) {
	s.mu.Lock()
	s.proc = p
	s.dir = dir
	s.state = StateRunning
	s.StartedAt = time.Now()
	s.mu.Unlock()
}

// finish records the terminal state and exit status and releases the handle
func (s *Session) finish(state State, status *ExitStatus) {
	s.mu.Lock()
	s.state = state
	s.proc = nil
	if status != nil {
		exit := *status
		s.lastExit = &exit
	}
	s.mu.Unlock()
}

// Info is the public snapshot of a session
type Info struct {
	ID         string      `json:"id"`
	State      State       `json:"state"`
	ProviderID string      `json:"provider"`
	ModelID    string      `json:"model"`
	Executable string      `json:"executable,omitempty"`
	Cwd        string      `json:"cwd"`
	Cols       int         `json:"cols"`
	Rows       int         `json:"rows"`
	PID        int         `json:"pid,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	LastExit   *ExitStatus `json:"last_exit,omitempty"`
}

// Info returns a snapshot of the session
func (s *Session) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{
		ID:         s.ID,
		State:      s.state,
		ProviderID: s.Config.ProviderID,
		ModelID:    s.Config.ModelID,
		Cwd:        s.Config.Cwd,
		Cols:       s.cols,
		Rows:       s.rows,
		StartedAt:  s.StartedAt,
	}
	if s.dir != "" {
		info.Cwd = s.dir
	}
	if s.proc != nil {
		info.Executable = s.proc.path
		info.PID = s.proc.pid()
	}
	if s.lastExit != nil {
		exit := *s.lastExit
		info.LastExit = &exit
	}
	return info
}
