package http

import "github.com/GriffinCanCode/squadron/backend/internal/domain/terminal"

// EnsureRequest is the body of PUT /terminals/:id
type EnsureRequest struct {
	Provider string            `json:"provider"`
	Model    string            `json:"model"`
	Cwd      string            `json:"cwd"`
	Env      map[string]string `json:"env"`
	Cols     int               `json:"cols" binding:"omitempty,min=1,max=65535"`
	Rows     int               `json:"rows" binding:"omitempty,min=1,max=65535"`
}

// Config converts the request to a session config
func (r EnsureRequest) Config() terminal.Config {
	return terminal.Config{
		ProviderID: r.Provider,
		ModelID:    r.Model,
		Cwd:        r.Cwd,
		Env:        r.Env,
		Cols:       r.Cols,
		Rows:       r.Rows,
	}
}

// InputRequest is the body of POST /terminals/:id/input
type InputRequest struct {
	Data string `json:"data" binding:"required"`
}

// ResizeRequest is the body of POST /terminals/:id/resize
type ResizeRequest struct {
	Cols int `json:"cols" binding:"required,min=1,max=65535"`
	Rows int `json:"rows" binding:"required,min=1,max=65535"`
}
