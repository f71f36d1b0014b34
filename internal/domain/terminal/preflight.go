package terminal

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultInstallTimeout bounds a one-time CLI install
	DefaultInstallTimeout = 5 * time.Minute

	lookupHitTTL   = 30 * time.Second
	lookupMissTTL  = 5 * time.Second
	installLogSize = 16 * 1024
)

// PreflightResult reports whether a provider's CLI can be spawned
type PreflightResult struct {
	Ready            bool   `json:"ready"`
	Skipped          bool   `json:"skipped,omitempty"`
	Path             string `json:"path,omitempty"`
	InstallAttempted bool   `json:"install_attempted,omitempty"`
	InstallCommand   string `json:"install_command,omitempty"`
	InstallOutput    string `json:"install_output,omitempty"`
	TimedOut         bool   `json:"timed_out,omitempty"`
}

// ProgressFunc receives human readable preflight progress lines
type ProgressFunc func(line string)

// Preflight checks for provider CLIs on PATH and installs missing ones
type Preflight struct {
	platform Platform
	timeout  time.Duration
	lookPath func(string) (string, error)
	lookups  *gocache.Cache
	installs singleflight.Group
	logger   *zap.Logger
}

// NewPreflight creates a preflight checker for the host platform
func NewPreflight(logger *zap.Logger, installTimeout time.Duration) *Preflight {
	if logger == nil {
		logger = zap.NewNop()
	}
	if installTimeout <= 0 {
		installTimeout = DefaultInstallTimeout
	}
	return &Preflight{
		platform: HostPlatform(),
		timeout:  installTimeout,
		lookPath: exec.LookPath,
		lookups:  gocache.New(lookupHitTTL, time.Minute),
		logger:   logger,
	}
}

// Run checks provider and, if its CLI is missing, runs the install command.
// progress may be nil.
func (p *Preflight) Run(ctx context.Context, provider ProviderDescriptor, progress ProgressFunc) PreflightResult {
	if progress == nil {
		progress = func(string) {}
	}

	if provider.IsShell() || provider.Executable == PackageRunner {
		return PreflightResult{Ready: true, Skipped: true}
	}

	executable, _ := Resolve(provider.Executable, p.platform)
	if path, ok := p.lookup(executable); ok {
		return PreflightResult{Ready: true, Path: path}
	}

	command := provider.Install.For(p.platform)
	if command == "" {
		p.logger.Info("Provider CLI missing and no install command",
			zap.String("provider", provider.ID),
			zap.String("executable", executable))
		return PreflightResult{Ready: false}
	}

	progress(fmt.Sprintf("%s CLI not found. Installing...", provider.Name))
	progress("$ " + command)

	ch := p.installs.DoChan(provider.ID, func() (interface{}, error) {
		return p.install(ctx, provider, executable, command), nil
	})

	select {
	case <-ctx.Done():
		return PreflightResult{
			InstallAttempted: true,
			InstallCommand:   command,
			InstallOutput:    ctx.Err().Error(),
		}
	case res := <-ch:
		return res.Val.(PreflightResult)
	}
}

func (p *Preflight) install(ctx context.Context, provider ProviderDescriptor, executable, command string) PreflightResult {
	result := PreflightResult{
		InstallAttempted: true,
		InstallCommand:   command,
	}

	installCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	output := NewBuffer(installLogSize)
	cmd := installCommand(installCtx, p.platform, command)
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	err := cmd.Run()
	result.InstallOutput = strings.TrimSpace(string(output.ReadAll()))

	switch {
	case errors.Is(installCtx.Err(), context.DeadlineExceeded):
		result.TimedOut = true
		result.InstallOutput = strings.TrimSpace(result.InstallOutput + "\ninstall timed out after " + p.timeout.String())
	case err != nil:
		// non-zero exit or failure to start
	default:
		result.Ready = true
	}

	p.lookups.Delete(executable)
	if result.Ready {
		if path, ok := p.lookup(executable); ok {
			result.Path = path
		}
	}

	p.logger.Info("Provider CLI install finished",
		zap.String("provider", provider.ID),
		zap.Bool("success", result.Ready),
		zap.Bool("timed_out", result.TimedOut),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))

	return result
}

func (p *Preflight) lookup(executable string) (string, bool) {
	if cached, found := p.lookups.Get(executable); found {
		path, _ := cached.(string)
		return path, path != ""
	}

	path, err := p.lookPath(executable)
	if err != nil {
		p.lookups.Set(executable, "", lookupMissTTL)
		return "", false
	}
	p.lookups.Set(executable, path, lookupHitTTL)
	return path, true
}

func installCommand(ctx context.Context, platform Platform, command string) *exec.Cmd {
	var cmd *exec.Cmd
	if platform == PlatformWindows {
		cmd = exec.CommandContext(ctx, "cmd.exe", "/C", command)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", command)
	}
	setProcessGroup(cmd)
	cmd.Cancel = func() error {
		return killProcessGroup(cmd.Process)
	}
	return cmd
}
