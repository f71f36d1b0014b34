package terminal

import (
	"path/filepath"
	"runtime"
	"strings"
)

// Platform identifies the host family for executable resolution.
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformPOSIX   Platform = "posix"
)

// HostPlatform returns the platform of the running process
func HostPlatform() Platform {
	return PlatformFor(runtime.GOOS)
}

// PlatformFor maps a GOOS value to a Platform
func PlatformFor(goos string) Platform {
	if goos == "windows" {
		return PlatformWindows
	}
	return PlatformPOSIX
}

// DefaultShellCommand is the sentinel a caller passes to ask for the platform shell.
const DefaultShellCommand = "shell"

// windowsExecExtensions are the suffixes Windows will launch without help
var windowsExecExtensions = []string{".exe", ".cmd", ".bat"}

// nodeLaunchers are installed as .cmd shims by npm on Windows
var nodeLaunchers = map[string]bool{
	"npx":      true,
	"npm":      true,
	"pnpm":     true,
	"pnpx":     true,
	"yarn":     true,
	"corepack": true,
	"claude":   true,
	"gemini":   true,
	"codex":    true,
}

// Resolve maps a requested command to an executable and an argument prefix.
// It never fails: anything it cannot map is returned unchanged so the spawn
// reports the problem.
func Resolve(command string, platform Platform) (string, []string) {
	command = strings.TrimSpace(command)

	if isDefaultShell(command) {
		if platform == PlatformWindows {
			return "powershell.exe", []string{"-NoLogo"}
		}
		return "zsh", nil
	}

	if platform == PlatformWindows && needsCmdShim(command) {
		return command + ".cmd", nil
	}

	return command, nil
}

// Resolver applies an optional default-shell override on top of Resolve
type Resolver struct {
	Platform     Platform
	DefaultShell string
}

// NewResolver creates a resolver for the host platform
func NewResolver(defaultShell string) *Resolver {
	return &Resolver{
		Platform:     HostPlatform(),
		DefaultShell: strings.TrimSpace(defaultShell),
	}
}

// Resolve resolves command for the resolver's platform
func (r *Resolver) Resolve(command string) (string, []string) {
	if isDefaultShell(command) && r.DefaultShell != "" {
		return Resolve(r.DefaultShell, r.Platform)
	}
	return Resolve(command, r.Platform)
}

func isDefaultShell(command string) bool {
	switch strings.ToLower(strings.TrimSpace(command)) {
	case "", DefaultShellCommand, "default":
		return true
	}
	return false
}

func needsCmdShim(command string) bool {
	ext := strings.ToLower(filepath.Ext(command))
	for _, known := range windowsExecExtensions {
		if ext == known {
			return false
		}
	}
	// Only bare launcher names; a path like C:\tools\npx is left alone.
	if strings.ContainsAny(command, `/\`) {
		return false
	}
	return nodeLaunchers[strings.ToLower(command)]
}
