// Package terminal hosts shell sessions on pseudo-terminals. Output of
// each shell is decoded to UTF-8 and delivered to the engine session of
// the same id; only the display text is buffered for clients.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/uiblocks/internal/infrastructure/logging"
	"github.com/GriffinCanCode/uiblocks/internal/shared/id"
)

const (
	DefaultBufferSize = 1024 * 1024
	DefaultCols       = 80
	DefaultRows       = 24

	readSize     = 4096
	drainTimeout = 2 * time.Second
)

var (
	ErrNotFound = errors.New("terminal not found")
	ErrExited   = errors.New("terminal has exited")
)

// Sink consumes raw terminal output and returns what should be shown.
// engine.Directory satisfies it.
type Sink interface {
	Deliver(ctx context.Context, sessionID, text string) string
}

// Spec describes a shell to spawn. Zero fields take defaults.
type Spec struct {
	Shell      string            `json:"shell"`
	Args       []string          `json:"args"`
	WorkingDir string            `json:"working_dir"`
	Cols       int               `json:"cols"`
	Rows       int               `json:"rows"`
	Env        map[string]string `json:"env"`
}

// Info is the public view of a terminal.
type Info struct {
	ID         string    `json:"id"`
	Shell      string    `json:"shell"`
	WorkingDir string    `json:"working_dir"`
	Cols       int       `json:"cols"`
	Rows       int       `json:"rows"`
	Charset    string    `json:"charset"`
	StartedAt  time.Time `json:"started_at"`
	Active     bool      `json:"active"`
	ExitCode   int       `json:"exit_code"`
}

type terminal struct {
	id         string
	shell      string
	workingDir string
	startedAt  time.Time
	cmd        *exec.Cmd
	ptmx       *os.File
	output     *Buffer
	dec        decoder
	done       chan struct{}

	mu       sync.RWMutex
	charset  string
	cols     int
	rows     int
	exited   bool
	exitCode int
}

// Options configures a Manager.
type Options struct {
	Sink       Sink
	BufferSize int
	Logger     *logging.Logger
	// OnExit runs after a shell exits and its output is drained, before
	// Wait returns.
	OnExit func(terminalID string, exitCode int)
}

// Manager owns every spawned terminal.
type Manager struct {
	opts  Options
	log   *logging.Logger
	terms sync.Map // id -> *terminal
}

// NewManager creates a manager. A nil Sink shows output unchanged.
func NewManager(opts Options) *Manager {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Manager{opts: opts, log: opts.Logger.Component("terminal")}
}

// Spawn starts a shell on a new PTY. Its id doubles as the engine
// session id.
func (m *Manager) Spawn(spec Spec) (*Info, error) {
	if spec.Shell == "" {
		spec.Shell = os.Getenv("SHELL")
		if spec.Shell == "" {
			spec.Shell = "/bin/sh"
		}
	}
	if spec.WorkingDir == "" {
		spec.WorkingDir = os.Getenv("HOME")
		if spec.WorkingDir == "" {
			spec.WorkingDir = os.TempDir()
		}
	}
	if spec.Cols <= 0 {
		spec.Cols = DefaultCols
	}
	if spec.Rows <= 0 {
		spec.Rows = DefaultRows
	}

	cmd := exec.Command(spec.Shell, spec.Args...)
	cmd.Dir = spec.WorkingDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(spec.Rows), Cols: uint16(spec.Cols)})
	if err != nil {
		return nil, fmt.Errorf("failed to start PTY: %w", err)
	}

	t := &terminal{
		id:         id.NewTerminalID().String(),
		shell:      spec.Shell,
		workingDir: spec.WorkingDir,
		startedAt:  time.Now(),
		cmd:        cmd,
		ptmx:       ptmx,
		output:     NewBuffer(m.opts.BufferSize),
		done:       make(chan struct{}),
		charset:    "utf-8",
		cols:       spec.Cols,
		rows:       spec.Rows,
	}
	m.terms.Store(t.id, t)

	read := make(chan struct{})
	go m.readOutput(t, read)
	go m.monitor(t, read)

	m.log.Info("terminal spawned", logging.TerminalID(t.id), zap.String("shell", t.shell))
	info := t.info()
	return &info, nil
}

// readOutput pumps PTY output through the sink into the display buffer.
func (m *Manager) readOutput(t *terminal, read chan<- struct{}) {
	defer close(read)
	buf := make([]byte, readSize)
	for {
		n, err := t.ptmx.Read(buf)
		if n > 0 {
			text := t.dec.Decode(buf[:n])
			t.mu.Lock()
			t.charset = t.dec.Charset()
			t.mu.Unlock()
			m.emit(t, text)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				m.log.Debug("terminal read ended", logging.TerminalID(t.id), zap.Error(err))
			}
			break
		}
	}
	m.emit(t, t.dec.Flush())
}

func (m *Manager) emit(t *terminal, text string) {
	if text == "" {
		return
	}
	if m.opts.Sink != nil {
		text = m.opts.Sink.Deliver(context.Background(), t.id, text)
	}
	_, _ = t.output.Write([]byte(text))
}

// monitor reaps the shell and closes the PTY.
func (m *Manager) monitor(t *terminal, read <-chan struct{}) {
	err := t.cmd.Wait()
	code := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	// Linux PTYs report EIO once every holder of the slave is gone; a
	// stray background child may keep it open.
	select {
	case <-read:
	case <-time.After(drainTimeout):
	}
	_ = t.ptmx.Close()

	t.mu.Lock()
	t.exited = true
	t.exitCode = code
	t.mu.Unlock()

	m.log.Info("terminal exited", logging.TerminalID(t.id), zap.Int("exit_code", code))
	if m.opts.OnExit != nil {
		m.opts.OnExit(t.id, code)
	}
	close(t.done)
}

func (m *Manager) lookup(terminalID string) (*terminal, error) {
	v, ok := m.terms.Load(terminalID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, terminalID)
	}
	return v.(*terminal), nil
}

// Write sends input to a terminal.
func (m *Manager) Write(terminalID string, input []byte) error {
	t, err := m.lookup(terminalID)
	if err != nil {
		return err
	}
	t.mu.RLock()
	exited := t.exited
	t.mu.RUnlock()
	if exited {
		return fmt.Errorf("%w: %s", ErrExited, terminalID)
	}
	_, err = t.ptmx.Write(input)
	return err
}

// Read returns and clears the buffered display output.
func (m *Manager) Read(terminalID string) ([]byte, error) {
	t, err := m.lookup(terminalID)
	if err != nil {
		return nil, err
	}
	return t.output.ReadAll(), nil
}

// Resize changes the terminal dimensions.
func (m *Manager) Resize(terminalID string, cols, rows int) error {
	t, err := m.lookup(terminalID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.exited {
		return fmt.Errorf("%w: %s", ErrExited, terminalID)
	}
	t.cols, t.rows = cols, rows
	return pty.Setsize(t.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// Wait blocks until the shell exits or ctx is done.
func (m *Manager) Wait(ctx context.Context, terminalID string) (int, error) {
	t, err := m.lookup(terminalID)
	if err != nil {
		return 0, err
	}
	select {
	case <-t.done:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.exitCode, nil
}

// Kill terminates a terminal and forgets it.
func (m *Manager) Kill(terminalID string) error {
	t, err := m.lookup(terminalID)
	if err != nil {
		return err
	}
	m.terms.Delete(terminalID)

	t.mu.RLock()
	exited := t.exited
	t.mu.RUnlock()
	if !exited && t.cmd.Process != nil {
		_ = t.cmd.Process.Kill()
	}
	return nil
}

// Get returns the info of one terminal.
func (m *Manager) Get(terminalID string) (*Info, error) {
	t, err := m.lookup(terminalID)
	if err != nil {
		return nil, err
	}
	info := t.info()
	return &info, nil
}

// List returns every terminal ordered by id.
func (m *Manager) List() []Info {
	var out []Info
	m.terms.Range(func(_, v interface{}) bool {
		out = append(out, v.(*terminal).info())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Close kills every terminal.
func (m *Manager) Close() error {
	for _, info := range m.List() {
		_ = m.Kill(info.ID)
	}
	return nil
}

func (t *terminal) info() Info {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Info{
		ID:         t.id,
		Shell:      t.shell,
		WorkingDir: t.workingDir,
		Cols:       t.cols,
		Rows:       t.rows,
		Charset:    t.charset,
		StartedAt:  t.startedAt,
		Active:     !t.exited,
		ExitCode:   t.exitCode,
	}
}
