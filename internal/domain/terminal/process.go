package terminal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"
)

const (
	readChunkSize = 4096
	inputQueueLen = 256

	// How long a finished process's pump may keep draining the pty
	drainTimeout = 2 * time.Second
)

// launch is everything needed to start one process
type launch struct {
	path string
	args []string
	dir  string
	env  []string
	cols int
	rows int
}

// process is one OS process attached to a pseudo-terminal. It is owned by a
// single Session and never shared.
type process struct {
	path   string
	cmd    *exec.Cmd
	ptmx   *os.File
	router *router
	logger *zap.Logger

	input    chan []byte
	done     chan struct{} // closed once Wait has returned
	pumpDone chan struct{} // closed when the output pump stops
	exit     ExitStatus

	closeOnce sync.Once

	onOutput func(n int)
	onInput  func(n int)
}

func startProcess(l launch, r *router, logger *zap.Logger) (*process, error) {
	cmd := exec.Command(l.path, l.args...)
	cmd.Dir = l.dir
	cmd.Env = l.env

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(l.rows),
		Cols: uint16(l.cols),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start PTY: %w", err)
	}

	return &process{
		path:     l.path,
		cmd:      cmd,
		ptmx:     ptmx,
		router:   r,
		logger:   logger.With(zap.Int("pid", cmd.Process.Pid)),
		input:    make(chan []byte, inputQueueLen),
		done:     make(chan struct{}),
		pumpDone: make(chan struct{}),
	}, nil
}

func (p *process) pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// pump copies pty output to the router until the pty closes
func (p *process) pump() {
	defer close(p.pumpDone)

	buf := make([]byte, readChunkSize)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if p.onOutput != nil {
				p.onOutput(n)
			}
			p.router.route(chunk)
		}
		if err != nil {
			// EIO is how Linux reports the slave side going away
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				p.logger.Debug("PTY read ended", zap.Error(err))
			}
			return
		}
	}
}

// writeLoop applies queued input to the pty in submission order
func (p *process) writeLoop() {
	for {
		select {
		case <-p.done:
			return
		case data := <-p.input:
			if _, err := p.ptmx.Write(data); err != nil {
				p.logger.Debug("PTY write failed", zap.Error(err))
				continue
			}
			if p.onInput != nil {
				p.onInput(len(data))
			}
		}
	}
}

// send queues data for the pty. It gives up, without error, once the
// process has exited.
func (p *process) send(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case p.input <- buf:
	case <-p.done:
	}
}

func (p *process) resize(cols, rows int) error {
	return pty.Setsize(p.ptmx, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}

// wait reaps the process, lets the pump drain what the process left in the
// pty, then closes the pty
func (p *process) wait() {
	err := p.cmd.Wait()
	p.exit = exitStatusFrom(p.cmd.ProcessState)
	if err != nil && p.cmd.ProcessState == nil {
		p.logger.Warn("Wait failed", zap.Error(err))
	}
	close(p.done)

	select {
	case <-p.pumpDone:
	case <-time.After(drainTimeout):
		// a grandchild still holds the slave side open
	}
	p.closePTY()
}

func (p *process) closePTY() {
	p.closeOnce.Do(func() {
		p.ptmx.Close()
	})
}

func (p *process) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// terminate stops the process group: hangup first, then a forced kill once
// grace has elapsed. It returns after the process has been reaped, reporting
// the signal that ended it.
func (p *process) terminate(grace time.Duration) string {
	if p.exited() {
		return ""
	}

	if err := hangupProcessGroup(p.cmd.Process); err != nil {
		p.logger.Debug("Hangup failed", zap.Error(err))
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.done:
		return signalHangup
	case <-timer.C:
	}

	p.logger.Info("Process ignored hangup, killing", zap.Duration("grace", grace))
	if err := killProcessGroup(p.cmd.Process); err != nil {
		p.logger.Warn("Kill failed", zap.Error(err))
	}
	<-p.done
	return signalKilled
}

// awaitPump blocks until the output pump has stopped. A pump stuck on a pty
// that a detached grandchild keeps open is abandoned after a second timeout;
// its router is already discarded so nothing it reads is delivered.
func (p *process) awaitPump() bool {
	select {
	case <-p.pumpDone:
		return true
	case <-time.After(drainTimeout):
	}

	p.closePTY()
	select {
	case <-p.pumpDone:
		return true
	case <-time.After(drainTimeout):
		p.logger.Warn("Output pump did not stop after PTY close")
		return false
	}
}
