// Package terminal runs the pseudo-terminal sessions behind the terminal grid.
//
// Each session is a caller-named slot (term-1, term-2, ...) bound to the
// plain shell or to an AI CLI provider. The Manager owns every session and
// serializes changes per id; different ids never wait on each other.
//
// Lifecycle:
//
//	Uninitialized -> Spawning -> Running -> Exited
//	                    ^           |
//	                    +- Respawning (provider or model changed)
//	any live state -> Killed (explicit Kill)
//
// Architecture:
//   - Resolver maps a requested command to a platform executable
//   - Registry holds the immutable provider table (embedded providers.yaml)
//   - Preflight probes PATH and runs one-time CLI installs
//   - Each process has an output pump, an input writer and a reaper goroutine
//   - A router per process forwards output to the session's single subscriber;
//     a respawn or kill discards the router first so a retired process can
//     never write into its successor's stream
//
// Example Usage:
//
//	m := terminal.NewManager(terminal.Options{Logger: logger})
//	stop := m.Subscribe("term-1", onData, onExit)
//	defer stop()
//
//	res, err := m.EnsureRunning(ctx, "term-1", terminal.Config{ProviderID: "anthropic"})
//	m.Write("term-1", []byte("ls\n"))
//	m.Resize("term-1", 120, 40)
//	m.Kill("term-1")
package terminal
