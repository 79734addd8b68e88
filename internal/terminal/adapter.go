package terminal

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/termmux/internal/infrastructure/resilience"
)

const (
	readBufferSize = 32 * 1024
	inputQueueSize = 1024

	// drainTimeout bounds how long output is drained after the shell exits while
	// a background child still holds the pty open.
	drainTimeout = 500 * time.Millisecond
)

// Handle identifies a process owned by an Adapter.
type Handle interface {
	ID() string
	PID() int
}

// Adapter starts and drives pseudo-terminal processes.
type Adapter interface {
	Spawn(opts SpawnOptions, cb Callbacks) (Handle, error)
	Write(h Handle, data []byte) error
	Resize(h Handle, cols, rows uint16) error
	Kill(h Handle) error
	Close() error
}

// PTYAdapterConfig configures a PTYAdapter.
type PTYAdapterConfig struct {
	// KillGrace is the delay between SIGHUP and SIGKILL.
	KillGrace time.Duration
	// Breaker guards spawn attempts. Optional.
	Breaker *resilience.Breaker
	Logger  *zap.Logger
}

// PTYAdapter runs shells on pseudo-terminals using creack/pty.
type PTYAdapter struct {
	killGrace time.Duration
	breaker   *resilience.Breaker
	logger    *zap.Logger

	mu    sync.Mutex
	procs map[string]*ptyProcess
}

// NewPTYAdapter creates an adapter with the given configuration.
func NewPTYAdapter(cfg PTYAdapterConfig) *PTYAdapter {
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 3 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &PTYAdapter{
		killGrace: cfg.KillGrace,
		breaker:   cfg.Breaker,
		logger:    cfg.Logger,
		procs:     make(map[string]*ptyProcess),
	}
}

// ptyProcess is the Handle implementation for PTYAdapter.
type ptyProcess struct {
	id   string
	cmd  *exec.Cmd
	ptmx *os.File

	input      chan []byte
	readerDone chan struct{}
	done       chan struct{}

	mu        sync.Mutex
	killTimer *time.Timer
	killed    bool
	closeOnce sync.Once
}

func (p *ptyProcess) ID() string { return p.id }

func (p *ptyProcess) PID() int {
	if p.cmd.Process == nil {
		return -1
	}
	return p.cmd.Process.Pid
}

func (p *ptyProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *ptyProcess) closePTY() {
	p.closeOnce.Do(func() {
		_ = p.ptmx.Close()
	})
}

// Spawn starts opts.Shell on a new pty sized opts.Cols x opts.Rows.
func (a *PTYAdapter) Spawn(opts SpawnOptions, cb Callbacks) (Handle, error) {
	if opts.Cols == 0 || opts.Rows == 0 {
		return nil, ErrInvalidSize
	}
	if a.breaker != nil {
		if err := a.breaker.Allow(); err != nil {
			return nil, err
		}
	}

	p, err := a.start(opts)
	if a.breaker != nil {
		a.breaker.Record(err == nil)
	}
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.procs[p.id] = p
	a.mu.Unlock()

	go a.readLoop(p, cb)
	go a.writeLoop(p)
	go a.waitLoop(p, cb)

	a.logger.Debug("pty process started",
		zap.String("handle", p.id),
		zap.Int("pid", p.PID()),
		zap.String("shell", opts.Shell),
	)
	return p, nil
}

func (a *PTYAdapter) start(opts SpawnOptions) (*ptyProcess, error) {
	argv, err := shellquote.Split(opts.Shell)
	if err != nil {
		return nil, fmt.Errorf("parse shell command %q: %w", opts.Shell, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: empty shell command", ErrShellNotFound)
	}

	path, err := exec.LookPath(argv[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrShellNotFound, argv[0])
	}

	cmd := exec.Command(path, argv[1:]...)
	cmd.Dir = opts.WorkingDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	for key, value := range opts.Env {
		cmd.Env = append(cmd.Env, key+"="+value)
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Cols: opts.Cols,
		Rows: opts.Rows,
	})
	if err != nil {
		return nil, fmt.Errorf("start pty: %w", err)
	}

	return &ptyProcess{
		id:         uuid.NewString(),
		cmd:        cmd,
		ptmx:       ptmx,
		input:      make(chan []byte, inputQueueSize),
		readerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}, nil
}

// readLoop forwards pty output until the pty reports an error (EIO on exit).
func (a *PTYAdapter) readLoop(p *ptyProcess, cb Callbacks) {
	defer close(p.readerDone)

	buf := make([]byte, readBufferSize)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 && cb.OnOutput != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			cb.OnOutput(p, chunk)
		}
		if err != nil {
			return
		}
	}
}

// writeLoop performs blocking pty writes so callers only ever enqueue.
func (a *PTYAdapter) writeLoop(p *ptyProcess) {
	for {
		select {
		case data := <-p.input:
			if _, err := p.ptmx.Write(data); err != nil {
				a.logger.Debug("pty write failed", zap.String("handle", p.id), zap.Error(err))
			}
		case <-p.done:
			return
		}
	}
}

// waitLoop reaps the process and reports the exit after all output was delivered.
func (a *PTYAdapter) waitLoop(p *ptyProcess, cb Callbacks) {
	_ = p.cmd.Wait()
	code := exitStatus(p.cmd.ProcessState)

	select {
	case <-p.readerDone:
	case <-time.After(drainTimeout):
		p.closePTY()
		<-p.readerDone
	}

	p.mu.Lock()
	if p.killTimer != nil {
		p.killTimer.Stop()
	}
	close(p.done)
	p.mu.Unlock()
	p.closePTY()

	a.mu.Lock()
	delete(a.procs, p.id)
	a.mu.Unlock()

	a.logger.Debug("pty process exited", zap.String("handle", p.id), zap.Int("exit_code", code))
	if cb.OnExit != nil {
		cb.OnExit(p, code)
	}
}

func (a *PTYAdapter) process(h Handle) (*ptyProcess, error) {
	p, ok := h.(*ptyProcess)
	if !ok || p == nil {
		return nil, fmt.Errorf("foreign terminal handle %T", h)
	}
	return p, nil
}

// Write queues data for the process input.
func (a *PTYAdapter) Write(h Handle, data []byte) error {
	p, err := a.process(h)
	if err != nil {
		return err
	}
	if p.exited() {
		return ErrClosedHandle
	}

	buf := append([]byte(nil), data...)
	select {
	case p.input <- buf:
		return nil
	case <-p.done:
		return ErrClosedHandle
	}
}

// Resize updates the pty window size.
func (a *PTYAdapter) Resize(h Handle, cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return ErrInvalidSize
	}
	p, err := a.process(h)
	if err != nil {
		return err
	}
	if p.exited() {
		return ErrClosedHandle
	}

	if err := pty.Setsize(p.ptmx, &pty.Winsize{Cols: cols, Rows: rows}); err != nil {
		if p.exited() || errors.Is(err, os.ErrClosed) {
			return ErrClosedHandle
		}
		return fmt.Errorf("resize pty: %w", err)
	}
	return nil
}

// Kill sends SIGHUP to the process group and escalates to SIGKILL after the
// grace period. Killing an exited or already killed handle is a no-op.
func (a *PTYAdapter) Kill(h Handle) error {
	p, err := a.process(h)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exited() || p.killed {
		return nil
	}
	p.killed = true

	if err := hangup(p.cmd.Process); err != nil {
		a.logger.Debug("hangup failed", zap.String("handle", p.id), zap.Error(err))
	}
	p.killTimer = time.AfterFunc(a.killGrace, func() {
		if p.exited() {
			return
		}
		a.logger.Warn("process ignored hangup, sending SIGKILL",
			zap.String("handle", p.id),
			zap.Int("pid", p.PID()),
		)
		_ = forceKill(p.cmd.Process)
	})
	return nil
}

// Close force-kills every live process. Exit callbacks still fire.
func (a *PTYAdapter) Close() error {
	a.mu.Lock()
	procs := make([]*ptyProcess, 0, len(a.procs))
	for _, p := range a.procs {
		procs = append(procs, p)
	}
	a.mu.Unlock()

	for _, p := range procs {
		if err := forceKill(p.cmd.Process); err != nil {
			a.logger.Debug("force kill failed", zap.String("handle", p.id), zap.Error(err))
		}
	}
	return nil
}

// Live returns the number of processes that have not been reaped.
func (a *PTYAdapter) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.procs)
}
