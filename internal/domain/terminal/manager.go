package terminal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/squadron/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/squadron/backend/internal/infrastructure/monitoring"
	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultCols         = 80
	DefaultRows         = 24
	DefaultMaxSessions  = 32
	DefaultKillGrace    = 3 * time.Second
	DefaultBacklogBytes = 64 * 1024

	// MaxIDLength bounds caller supplied session ids. Ids also travel in
	// URL paths and log fields, so they are limited to a safe charset.
	MaxIDLength = 128
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

const (
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiReset  = "\x1b[0m"
)

// CredentialSource supplies provider API keys at spawn time
type CredentialSource interface {
	APIKey(ctx context.Context, providerID string) (string, error)
}

// Options configures a Manager. Zero values fall back to the defaults above.
type Options struct {
	Registry    *Registry
	Preflight   *Preflight
	Resolver    *Resolver
	Credentials CredentialSource
	Logger      *logging.Logger

	Cols         int
	Rows         int
	MaxSessions  int
	KillGrace    time.Duration
	BacklogBytes int
	DefaultCwd   string
	AllowedDirs  []string
	Slots        []string
}

// Result describes what EnsureRunning did
type Result struct {
	Session   Info             `json:"session"`
	Spawned   bool             `json:"spawned"`
	Respawned bool             `json:"respawned"`
	Preflight *PreflightResult `json:"preflight,omitempty"`
}

// Stats is a point-in-time view of the manager
type Stats struct {
	Sessions    int `json:"sessions"`
	Subscribers int `json:"subscribers"`
	Spawning    int `json:"spawning"`
	MaxSessions int `json:"max_sessions"`
}

// Manager is the session registry. It is the only component that creates,
// replaces or destroys sessions, and it serializes those changes per id.
type Manager struct {
	opts      Options
	registry  *Registry
	preflight *Preflight
	resolver  *Resolver
	creds     CredentialSource
	logger    *logging.Logger
	metrics   *monitoring.Metrics

	locks *keyLock

	mu       sync.Mutex
	sessions map[string]*Session            // Protected by mu
	bindings map[string]*binding            // Protected by mu
	spawning map[string]context.CancelFunc // Protected by mu

	closing bool // Protected by mu
}

// NewManager creates a session manager
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Registry == nil {
		opts.Registry = DefaultRegistry()
	}
	if opts.Preflight == nil {
		opts.Preflight = NewPreflight(opts.Logger.Logger, DefaultInstallTimeout)
	}
	if opts.Resolver == nil {
		opts.Resolver = NewResolver("")
	}
	if opts.Cols <= 0 {
		opts.Cols = DefaultCols
	}
	if opts.Rows <= 0 {
		opts.Rows = DefaultRows
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.KillGrace <= 0 {
		opts.KillGrace = DefaultKillGrace
	}
	if opts.BacklogBytes <= 0 {
		opts.BacklogBytes = DefaultBacklogBytes
	}

	return &Manager{
		opts:      opts,
		registry:  opts.Registry,
		preflight: opts.Preflight,
		resolver:  opts.Resolver,
		creds:     opts.Credentials,
		logger:    opts.Logger,
		locks:     newKeyLock(),
		sessions:  make(map[string]*Session),
		bindings:  make(map[string]*binding),
		spawning:  make(map[string]context.CancelFunc),
	}
}

// WithMetrics adds metrics tracking to the manager
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// Registry returns the provider table the manager spawns from
func (m *Manager) Registry() *Registry {
	return m.registry
}

// ValidateID checks a caller supplied session id
func ValidateID(id string) error {
	if id == "" || len(id) > MaxIDLength || !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// EnsureRunning makes sure session id runs cfg's provider and model. It is a
// no-op when it already does, respawns when the provider or model differs,
// and spawns when the session does not exist.
//
// Spawn failures are written to the subscriber as a diagnostic line and
// returned as a *SpawnError; the session ends in Exited.
func (m *Manager) EnsureRunning(ctx context.Context, id string, cfg Config) (Result, error) {
	if err := ValidateID(id); err != nil {
		return Result{}, err
	}
	if m.isClosing() {
		return Result{}, ErrShuttingDown
	}

	unlock := m.locks.Lock(id)
	defer unlock()

	spawnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// closing and spawning change together under mu: either Shutdown's
	// snapshot includes id or this call refuses.
	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return Result{}, ErrShuttingDown
	}
	m.spawning[id] = cancel
	s := m.sessions[id]
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.spawning, id)
		m.mu.Unlock()
	}()

	provider, cfg := m.normalize(cfg)
	log := m.logger.Session(id).With(zap.String("provider", provider.ID))

	// A process that already ended but whose exit is still queued behind
	// this lock is finished here so the session can be recreated.
	if s != nil {
		if p := s.process(); p != nil && p.exited() {
			m.finishExit(s, p)
			s = nil
		}
	}

	respawned := false
	if s != nil {
		if s.Config.sameBinding(cfg) {
			return Result{Session: s.Info()}, nil
		}

		log.Info("Respawning terminal",
			zap.String("from_provider", s.Config.ProviderID),
			zap.String("from_model", s.Config.ModelID),
			zap.String("to_model", cfg.ModelID))

		s.setState(StateRespawning)
		if p := s.process(); p != nil {
			m.retire(p)
		}
		if m.metrics != nil {
			m.metrics.RecordRespawn(s.Config.ProviderID, cfg.ProviderID)
		}
		s.reconfigure(provider, cfg)
		respawned = true
	} else {
		m.mu.Lock()
		if len(m.sessions) >= m.opts.MaxSessions {
			m.mu.Unlock()
			log.Warn("Refusing terminal, session limit reached", zap.Int("max_sessions", m.opts.MaxSessions))
			return Result{}, ErrTooManySessions
		}
		s = newSession(id, provider, cfg)
		if cfg.Cols <= 0 || cfg.Rows <= 0 {
			s.setSize(m.opts.Cols, m.opts.Rows)
		}
		m.sessions[id] = s
		m.mu.Unlock()
	}

	res, err := m.spawn(spawnCtx, s, log)
	res.Respawned = respawned
	return res, err
}

func (m *Manager) isClosing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closing
}

func (m *Manager) normalize(cfg Config) (ProviderDescriptor, Config) {
	provider := m.registry.GetOrShell(cfg.ProviderID)
	if cfg.ProviderID != "" && provider.ID != cfg.ProviderID {
		m.logger.Warn("Unknown provider, using shell", zap.String("provider", cfg.ProviderID))
	}

	out := cfg
	out.ProviderID = provider.ID
	if !provider.HasModel(out.ModelID) {
		if out.ModelID != "" {
			m.logger.Warn("Unknown model, using default",
				zap.String("provider", provider.ID),
				zap.String("model", out.ModelID))
		}
		out.ModelID = provider.DefaultModel()
	}
	if cfg.Env != nil {
		out.Env = make(map[string]string, len(cfg.Env))
		for k, v := range cfg.Env {
			out.Env[k] = v
		}
	}
	return provider, out
}

// spawn runs preflight, resolves the executable and starts the process.
// The caller holds the session's lock.
func (m *Manager) spawn(ctx context.Context, s *Session, log *zap.Logger) (Result, error) {
	start := time.Now()
	s.setState(StateSpawning)

	provider, cfg := s.Provider, s.Config
	res := Result{}

	fail := func(kind ErrorKind, err error, installOutput string) (Result, error) {
		m.mu.Lock()
		s.finish(StateExited, nil)
		if m.sessions[s.ID] == s {
			delete(m.sessions, s.ID)
		}
		live := len(m.sessions)
		m.mu.Unlock()

		if m.metrics != nil {
			m.metrics.RecordSpawn(provider.ID, string(kind), time.Since(start))
			m.metrics.SetSessionsActive(live)
		}
		log.Warn("Terminal spawn failed", zap.String("kind", string(kind)), zap.Error(err))

		res.Session = s.Info()
		return res, &SpawnError{
			Kind:          kind,
			SessionID:     s.ID,
			ProviderID:    provider.ID,
			InstallOutput: installOutput,
			Err:           err,
		}
	}

	dir, err := m.workingDir(cfg.Cwd)
	if err != nil {
		m.diagnose(s.ID, ansiRed, fmt.Sprintf("Cannot start %s: %v", provider.Name, err))
		return fail(KindSpawn, err, "")
	}

	pf := m.preflight.Run(ctx, provider, func(line string) {
		m.diagnose(s.ID, ansiYellow, line)
	})
	res.Preflight = &pf
	if pf.InstallAttempted && m.metrics != nil {
		m.metrics.RecordInstall(provider.ID, pf.Ready, pf.TimedOut)
	}

	if err := ctx.Err(); err != nil {
		return fail(KindCanceled, err, pf.InstallOutput)
	}

	if !pf.Ready {
		if pf.InstallAttempted {
			m.diagnose(s.ID, ansiRed, fmt.Sprintf("Failed to install %s. Please install manually: %s", provider.Name, pf.InstallCommand))
			if pf.InstallOutput != "" {
				m.diagnoseRaw(s.ID, pf.InstallOutput)
			}
		} else {
			m.diagnose(s.ID, ansiRed, fmt.Sprintf("%s CLI (%s) not found and no install command is known", provider.Name, provider.Executable))
		}
		return fail(KindPreflight, ErrNotReady, pf.InstallOutput)
	}
	if pf.InstallAttempted {
		m.diagnose(s.ID, ansiGreen, fmt.Sprintf("%s CLI installed successfully", provider.Name))
	}

	exe, prefix := m.resolver.Resolve(provider.Executable)
	args := append(prefix, provider.Args(cfg.ModelID)...)

	cols, rows := s.size()
	r := newRouter(m.opts.BacklogBytes)
	p, err := startProcess(launch{
		path: exe,
		args: args,
		dir:  dir,
		env:  m.environment(ctx, provider, cfg, log),
		cols: cols,
		rows: rows,
	}, r, log)
	if err != nil {
		kind := KindSpawn
		if errors.Is(err, exec.ErrNotFound) {
			kind = KindResolution
		}
		m.diagnose(s.ID, ansiRed, fmt.Sprintf("Failed to start %s: %v", exe, err))
		return fail(kind, err, "")
	}

	if m.metrics != nil {
		p.onOutput = func(n int) { m.metrics.AddTerminalBytes("out", n) }
		p.onInput = func(n int) { m.metrics.AddTerminalBytes("in", n) }
	}

	m.mu.Lock()
	s.attach(p, dir)
	r.bind(m.bindings[s.ID])
	live := len(m.sessions)
	m.mu.Unlock()

	go p.pump()
	go p.writeLoop()
	go m.monitor(s, p)

	if m.metrics != nil {
		m.metrics.RecordSpawn(provider.ID, "running", time.Since(start))
		m.metrics.SetSessionsActive(live)
	}
	log.Info("Terminal running",
		zap.Int("pid", p.pid()),
		zap.String("executable", exe),
		zap.String("model", cfg.ModelID),
		zap.String("cwd", dir))

	res.Session = s.Info()
	res.Spawned = true
	return res, nil
}

// environment builds the child environment. The credential value is only
// ever placed in the returned slice.
func (m *Manager) environment(ctx context.Context, provider ProviderDescriptor, cfg Config, log *zap.Logger) []string {
	env := append(os.Environ(), "TERM=xterm-256color", "COLORTERM=truecolor")

	keys := make([]string, 0, len(cfg.Env))
	for k := range cfg.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+cfg.Env[k])
	}

	if provider.EnvKey == "" || m.creds == nil {
		return env
	}
	if _, set := cfg.Env[provider.EnvKey]; set {
		return env
	}

	key, err := m.creds.APIKey(ctx, provider.ID)
	switch {
	case err != nil:
		log.Debug("No API key for provider", zap.String("env_key", provider.EnvKey), zap.Error(err))
	case key != "":
		env = append(env, provider.EnvKey+"="+key)
	}
	return env
}

// workingDir resolves and checks the directory a session starts in
func (m *Manager) workingDir(cwd string) (string, error) {
	dir := strings.TrimSpace(cwd)
	if dir == "" {
		dir = m.opts.DefaultCwd
	}
	if dir == "" || dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(dir, "~"), "/"))
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve working directory: %w", err)
	}

	if len(m.opts.AllowedDirs) > 0 && !m.allowedDir(abs) {
		return "", fmt.Errorf("%w: %s", ErrCwdNotAllowed, abs)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("working directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("working directory %s: not a directory", abs)
	}
	return abs, nil
}

func (m *Manager) allowedDir(abs string) bool {
	for _, pattern := range m.opts.AllowedDirs {
		if ok, err := doublestar.PathMatch(pattern, abs); err == nil && ok {
			return true
		}
	}
	return false
}

// monitor waits for p to end on its own and reports the exit
func (m *Manager) monitor(s *Session, p *process) {
	p.wait()

	unlock := m.locks.Lock(s.ID)
	defer unlock()

	// Killed or respawned in the meantime
	if s.process() != p {
		return
	}
	m.finishExit(s, p)
}

// finishExit records a natural exit, removes the entry and notifies the
// subscriber. The binding is kept so a later EnsureRunning with the same id
// streams to the same subscriber. The caller holds the session's lock.
func (m *Manager) finishExit(s *Session, p *process) {
	p.awaitPump()
	status := p.exit

	m.mu.Lock()
	s.finish(StateExited, &status)
	if m.sessions[s.ID] == s {
		delete(m.sessions, s.ID)
	}
	b := m.bindings[s.ID]
	live := len(m.sessions)
	m.mu.Unlock()

	if b != nil {
		b.push(event{exit: &status})
	}

	if m.metrics != nil {
		m.metrics.RecordExit(s.Provider.ID, status.Code, status.Signal)
		m.metrics.SetSessionsActive(live)
	}
	m.logger.Session(s.ID).Info("Terminal process exited",
		zap.String("provider", s.Provider.ID),
		zap.Int("code", status.Code),
		zap.String("signal", status.Signal))
}

// retire detaches p's output, stops it and waits for its pump. Nothing p
// produced after this call starts is delivered. It returns the signal that
// ended the process, or "" if it had already exited.
func (m *Manager) retire(p *process) string {
	p.router.discard()

	sig := p.terminate(m.opts.KillGrace)
	if sig != "" && m.metrics != nil {
		m.metrics.RecordKill(sig)
	}

	p.awaitPump()
	p.closePTY()
	return sig
}

// Kill terminates session id, removes it and releases its subscriber after
// delivering the exit. A spawn in progress for id is canceled. When nothing
// was running the subscriber stays bound. It reports whether a process was
// stopped.
func (m *Manager) Kill(id string) bool {
	m.mu.Lock()
	if cancel, ok := m.spawning[id]; ok {
		cancel()
	}
	m.mu.Unlock()

	unlock := m.locks.Lock(id)
	defer unlock()

	m.mu.Lock()
	s := m.sessions[id]
	m.mu.Unlock()

	var status *ExitStatus
	if s != nil {
		if p := s.process(); p != nil {
			exit := ExitStatus{Code: -1, Signal: m.retire(p)}
			if exit.Signal == "" {
				exit = p.exit
			}
			status = &exit
		}
	}

	m.mu.Lock()
	if s != nil {
		s.finish(StateKilled, status)
		if m.sessions[id] == s {
			delete(m.sessions, id)
		}
	}
	var b *binding
	if status != nil {
		b = m.bindings[id]
		delete(m.bindings, id)
	}
	live := len(m.sessions)
	m.mu.Unlock()

	if status == nil {
		m.logger.Session(id).Debug("Kill on idle terminal")
		return false
	}

	if b != nil {
		b.push(event{exit: status})
		b.closeAfterDrain()
	}

	if m.metrics != nil {
		m.metrics.SetSessionsActive(live)
	}
	m.logger.Session(id).Info("Terminal killed", zap.String("signal", status.Signal))
	return true
}

// Write queues data for session id's process. It is a no-op when nothing is
// running under id.
func (m *Manager) Write(id string, data []byte) {
	if len(data) == 0 {
		return
	}

	p := m.live(id)
	if p == nil {
		m.logger.Session(id).Debug("Write to idle terminal dropped", zap.Int("bytes", len(data)))
		return
	}
	p.send(data)
}

// Resize forwards the window size to session id's pty. It is a no-op when
// nothing is running under id or the size is not positive.
func (m *Manager) Resize(id string, cols, rows int) {
	if cols <= 0 || rows <= 0 || cols > 0xFFFF || rows > 0xFFFF {
		return
	}

	m.mu.Lock()
	s := m.sessions[id]
	m.mu.Unlock()
	if s == nil {
		return
	}

	p := s.running()
	if p == nil {
		return
	}
	if err := p.resize(cols, rows); err != nil {
		m.logger.Session(id).Debug("Resize failed", zap.Error(err))
		return
	}
	s.setSize(cols, rows)
}

func (m *Manager) live(id string) *process {
	m.mu.Lock()
	s := m.sessions[id]
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.running()
}

// Subscribe binds onData and onExit as the single subscriber of session id,
// replacing any previous one. The session does not need to exist yet. Output
// buffered while nobody was subscribed is delivered first.
func (m *Manager) Subscribe(id string, onData func([]byte), onExit func(ExitStatus)) func() {
	b := newBinding(onData, onExit)

	m.mu.Lock()
	old := m.bindings[id]
	m.bindings[id] = b
	if s := m.sessions[id]; s != nil {
		if p := s.process(); p != nil {
			p.router.bind(b)
		}
	}
	m.mu.Unlock()

	if old != nil {
		old.close()
	}

	return func() {
		m.mu.Lock()
		if m.bindings[id] == b {
			delete(m.bindings, id)
			if s := m.sessions[id]; s != nil {
				if p := s.process(); p != nil {
					p.router.unbind(b)
				}
			}
		}
		m.mu.Unlock()
		b.close()
	}
}

// diagnose writes a colored [squadron] line to session id's subscriber
func (m *Manager) diagnose(id, color, line string) {
	m.push(id, []byte(color+"[squadron] "+line+ansiReset+"\r\n"))
}

// diagnoseRaw writes captured command output to session id's subscriber
func (m *Manager) diagnoseRaw(id, text string) {
	text = strings.ReplaceAll(strings.TrimRight(text, "\n"), "\n", "\r\n")
	m.push(id, []byte(text+"\r\n"))
}

func (m *Manager) push(id string, data []byte) {
	m.mu.Lock()
	b := m.bindings[id]
	m.mu.Unlock()
	if b != nil {
		b.push(event{data: data})
	}
}

// Preflight checks, and installs if needed, the CLI of providerID
func (m *Manager) Preflight(ctx context.Context, providerID string, progress ProgressFunc) (PreflightResult, error) {
	provider, ok := m.registry.Get(providerID)
	if !ok {
		return PreflightResult{}, fmt.Errorf("unknown provider %q", providerID)
	}
	res := m.preflight.Run(ctx, provider, progress)
	if res.InstallAttempted && m.metrics != nil {
		m.metrics.RecordInstall(provider.ID, res.Ready, res.TimedOut)
	}
	return res, nil
}

// Get returns a snapshot of session id
func (m *Manager) Get(id string) (Info, bool) {
	m.mu.Lock()
	s := m.sessions[id]
	m.mu.Unlock()
	if s == nil {
		return Info{}, false
	}
	return s.Info(), true
}

// List returns snapshots of all sessions ordered by id
func (m *Manager) List() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Slots returns one entry per configured grid slot, in grid order. Slots with
// no session report StateUninitialized.
func (m *Manager) Slots() []Info {
	infos := make([]Info, 0, len(m.opts.Slots))
	for _, slot := range m.opts.Slots {
		if info, ok := m.Get(slot); ok {
			infos = append(infos, info)
			continue
		}
		infos = append(infos, Info{ID: slot, State: StateUninitialized})
	}
	return infos
}

// Stats returns counters describing the manager
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		Sessions:    len(m.sessions),
		Subscribers: len(m.bindings),
		Spawning:    len(m.spawning),
		MaxSessions: m.opts.MaxSessions,
	}
}

// Shutdown refuses new sessions, then kills and reaps every live one in
// parallel. It returns ctx's error if ctx ends first.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closing = true
	ids := make(map[string]struct{}, len(m.sessions)+len(m.spawning))
	for id := range m.sessions {
		ids[id] = struct{}{}
	}
	for id := range m.spawning {
		ids[id] = struct{}{}
	}
	m.mu.Unlock()

	m.logger.Info("Shutting down terminals", zap.Int("sessions", len(ids)))

	var g errgroup.Group
	for id := range ids {
		g.Go(func() error {
			m.Kill(id)
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case <-ctx.Done():
		return fmt.Errorf("terminal shutdown: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return err
		}
	}

	m.mu.Lock()
	bindings := m.bindings
	m.bindings = make(map[string]*binding)
	m.mu.Unlock()
	for _, b := range bindings {
		b.close()
	}
	return nil
}
