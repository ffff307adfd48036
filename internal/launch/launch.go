// Package launch starts scan and plugin runs as child processes of the
// memtriage binary and tracks them so the dashboard can report status.
package launch

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/memtriage/memtriage/internal/logging"
)

// Status is the coarse state reported for a tool.
type Status string

const (
	StatusReady   Status = "ready"
	StatusRunning Status = "running"
	StatusFailed  Status = "failed"
)

// Handle tracks one started process.
type Handle struct {
	ID      string    `json:"id"`
	Tool    string    `json:"tool"`
	Args    []string  `json:"args"`
	Started time.Time `json:"started"`

	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Wait blocks until the process exits and returns its error.
func (h *Handle) Wait() error {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Done is closed when the process exits.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel kills the process if it is still running.
func (h *Handle) Cancel() { h.cancel() }

func (h *Handle) Status() Status {
	select {
	case <-h.done:
	default:
		return StatusRunning
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return StatusFailed
	}
	return StatusReady
}

// Err returns the exit error once the process is done.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Launcher starts child processes and keeps a registry of their handles.
type Launcher struct {
	exe    string
	dir    string
	logger zerolog.Logger

	mu      sync.Mutex
	handles map[string]*Handle
	latest  map[string]*Handle
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithExecutable overrides the program started for each run.
func WithExecutable(path string) Option {
	return func(l *Launcher) { l.exe = path }
}

// WithDir sets the working directory of started processes.
func WithDir(dir string) Option {
	return func(l *Launcher) { l.dir = dir }
}

// New creates a Launcher for the running executable.
func New(opts ...Option) (*Launcher, error) {
	l := &Launcher{
		logger:  logging.GetLogger("launch"),
		handles: map[string]*Handle{},
		latest:  map[string]*Handle{},
	}
	for _, o := range opts {
		o(l)
	}
	if l.exe == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate executable: %w", err)
		}
		l.exe = exe
	}
	return l, nil
}

// Start runs the executable with args and returns without waiting. The
// process is killed when ctx is cancelled.
func (l *Launcher) Start(ctx context.Context, tool string, args ...string) (*Handle, error) {
	cctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(cctx, l.exe, args...)
	cmd.Dir = l.dir
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to launch %s: %w", tool, err)
	}

	h := &Handle{
		ID:      uuid.NewString(),
		Tool:    tool,
		Args:    append([]string(nil), args...),
		Started: time.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	l.mu.Lock()
	l.handles[h.ID] = h
	l.latest[tool] = h
	l.mu.Unlock()

	l.logger.Info().Str("id", h.ID).Str("tool", tool).Int("pid", cmd.Process.Pid).Strs("args", args).Msg("Process started")

	go func() {
		err := cmd.Wait()
		cancel()
		h.mu.Lock()
		h.err = err
		h.mu.Unlock()
		close(h.done)
		if err != nil {
			l.logger.Warn().Err(err).Str("id", h.ID).Str("tool", tool).Msg("Process failed")
			return
		}
		l.logger.Info().Str("id", h.ID).Str("tool", tool).Dur("elapsed", time.Since(h.Started)).Msg("Process finished")
	}()
	return h, nil
}

// Get returns the handle with id.
func (l *Launcher) Get(id string) (*Handle, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.handles[id]
	return h, ok
}

// Latest returns the most recently started handle for tool, or nil.
func (l *Launcher) Latest(tool string) *Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latest[tool]
}

// StatusOf reports the state of the latest run of tool. A tool that was
// never started is ready.
func (l *Launcher) StatusOf(tool string) Status {
	h := l.Latest(tool)
	if h == nil {
		return StatusReady
	}
	return h.Status()
}
