package terminal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/termmux/internal/shared/paths"
)

var errUnknownRequest = errors.New("unknown request type")

// Config holds multiplexer defaults.
type Config struct {
	// Shell is used when a create request names none. Defaults to $SHELL or /bin/sh.
	Shell string
	// WorkingDir is used when a create request names none. Defaults to $HOME.
	WorkingDir string
	Cols       uint16
	Rows       uint16
	// Scrollback is the per-session output retention in bytes.
	Scrollback int
	// ShutdownTimeout bounds how long teardown waits for processes to exit
	// before force-killing them.
	ShutdownTimeout time.Duration
	// NotificationBuffer is the capacity of the notification channel.
	NotificationBuffer int
}

func (c *Config) applyDefaults() {
	if c.Shell == "" {
		c.Shell = os.Getenv("SHELL")
		if c.Shell == "" {
			c.Shell = "/bin/sh"
		}
	}
	if c.WorkingDir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.WorkingDir = home
		}
	}
	if c.Cols == 0 {
		c.Cols = 80
	}
	if c.Rows == 0 {
		c.Rows = 24
	}
	if c.Scrollback == 0 {
		c.Scrollback = 256 * 1024
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.NotificationBuffer <= 0 {
		c.NotificationBuffer = 1024
	}
}

type eventKind int

const (
	eventOutput eventKind = iota
	eventExit
)

// event is pushed by adapter callbacks onto the loop's FIFO channel. A single
// reader goroutine produces all events for one handle, so per-session order
// is preserved.
type event struct {
	kind   eventKind
	id     string
	handle Handle
	data   []byte
	code   int
}

type queryKind int

const (
	querySessions queryKind = iota
	queryScrollback
)

type query struct {
	kind  queryKind
	id    string
	reply chan queryResult
}

type queryResult struct {
	entries []Entry
	data    []byte
	err     error
}

// Multiplexer routes identifier-tagged requests to sessions and emits
// notifications. All session state is owned by the goroutine running Run.
type Multiplexer struct {
	cfg      Config
	adapter  Adapter
	registry *Registry
	logger   *zap.Logger
	observer Observer

	requests chan Request
	queries  chan query
	events   chan event
	notify   chan Notification
	done     chan struct{}
	started  atomic.Bool

	// closing is set by the loop once teardown has begun.
	closing bool
}

// Option customizes a Multiplexer.
type Option func(*Multiplexer)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Multiplexer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(m *Multiplexer) {
		if o != nil {
			m.observer = o
		}
	}
}

// NewMultiplexer creates a multiplexer driving processes through adapter.
func NewMultiplexer(adapter Adapter, cfg Config, opts ...Option) *Multiplexer {
	cfg.applyDefaults()
	m := &Multiplexer{
		cfg:      cfg,
		adapter:  adapter,
		registry: NewRegistry(cfg.Scrollback),
		logger:   zap.NewNop(),
		observer: nopObserver{},
		requests: make(chan Request, 64),
		queries:  make(chan query),
		events:   make(chan event, 4096),
		notify:   make(chan Notification, cfg.NotificationBuffer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Notifications returns the outbound channel. It is closed when Run returns.
// Consumers must drain it; the loop blocks while it is full.
func (m *Multiplexer) Notifications() <-chan Notification {
	return m.notify
}

// Done is closed once Run has returned.
func (m *Multiplexer) Done() <-chan struct{} {
	return m.done
}

// Submit queues a request for the loop.
func (m *Multiplexer) Submit(ctx context.Context, req Request) error {
	select {
	case <-m.done:
		return ErrMultiplexerClosed
	default:
	}
	select {
	case m.requests <- req:
		return nil
	case <-m.done:
		return ErrMultiplexerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sessions returns a consistent snapshot of live sessions in creation order.
func (m *Multiplexer) Sessions(ctx context.Context) ([]Entry, error) {
	res, err := m.ask(ctx, query{kind: querySessions})
	if err != nil {
		return nil, err
	}
	return res.entries, nil
}

// Scrollback returns the retained output of a live session.
func (m *Multiplexer) Scrollback(ctx context.Context, id string) ([]byte, error) {
	res, err := m.ask(ctx, query{kind: queryScrollback, id: id})
	if err != nil {
		return nil, err
	}
	return res.data, nil
}

func (m *Multiplexer) ask(ctx context.Context, q query) (queryResult, error) {
	q.reply = make(chan queryResult, 1)
	select {
	case m.queries <- q:
	case <-m.done:
		return queryResult{}, ErrMultiplexerClosed
	case <-ctx.Done():
		return queryResult{}, ctx.Err()
	}
	select {
	case res := <-q.reply:
		return res, res.err
	case <-ctx.Done():
		return queryResult{}, ctx.Err()
	}
}

// Run processes requests and process events until ctx is cancelled, then kills
// every live session and waits for them to exit before returning.
func (m *Multiplexer) Run(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("terminal multiplexer already running")
	}
	defer close(m.done)
	defer close(m.notify)

	m.logger.Info("terminal multiplexer started",
		zap.String("default_shell", m.cfg.Shell),
		zap.String("default_cwd", m.cfg.WorkingDir),
	)

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case req := <-m.requests:
			m.dispatch(req)
		case q := <-m.queries:
			q.reply <- m.answer(q)
		case ev := <-m.events:
			m.handleEvent(ev)
		}
	}
}

func (m *Multiplexer) dispatch(req Request) {
	var err error
	switch req.Type {
	case RequestCreate:
		err = m.create(req)
	case RequestWrite:
		err = m.write(req.ID, req.Data)
	case RequestExecute:
		err = m.write(req.ID, []byte(req.Command+LineTerminator))
	case RequestClear:
		err = m.clear(req.ID)
	case RequestResize:
		err = m.resize(req.ID, req.Cols, req.Rows)
	case RequestKill:
		err = m.kill(req.ID)
	case RequestList:
		m.emit(Notification{Type: NotifyListResponse, Entries: m.registry.List()})
	default:
		err = fmt.Errorf("%w: %q", errUnknownRequest, req.Type)
	}
	m.report(req, err)
}

// report logs the outcome of a request and surfaces failures on the
// notification channel. Failures never stop the loop.
func (m *Multiplexer) report(req Request, err error) {
	switch {
	case err == nil:
		m.observer.RequestHandled(req.Type, OutcomeOK)
		return
	case IsBenign(err):
		m.observer.RequestHandled(req.Type, OutcomeClosed)
		m.logger.Debug("request raced with process exit",
			zap.String("type", string(req.Type)),
			zap.String("id", req.ID),
		)
		return
	}

	m.observer.RequestHandled(req.Type, OutcomeError)
	m.logger.Warn("terminal request failed",
		zap.String("type", string(req.Type)),
		zap.String("id", req.ID),
		zap.String("request_id", req.RequestID),
		zap.Error(err),
	)

	// Kill failures are already answered with terminal-killed.
	if req.Type == RequestKill {
		return
	}
	id := req.ID
	var spawnErr *SpawnError
	if errors.As(err, &spawnErr) {
		id = spawnErr.ID
	}
	m.emit(Notification{
		Type:    NotifyError,
		ID:      id,
		Request: req.Type,
		Error:   err.Error(),
	})
}

func (m *Multiplexer) create(req Request) error {
	shell := req.Shell
	if shell == "" {
		shell = m.cfg.Shell
	}
	workDir, err := paths.ResolveWorkingDir(req.WorkingDir, m.cfg.WorkingDir)
	if err != nil {
		return fmt.Errorf("working directory: %w", err)
	}
	cols, rows := req.Cols, req.Rows
	if cols == 0 {
		cols = m.cfg.Cols
	}
	if rows == 0 {
		rows = m.cfg.Rows
	}

	sess, err := m.registry.Create(req.ID, shell, workDir, cols, rows)
	if err != nil {
		return err
	}
	sess.Env = req.Env

	start := time.Now()
	h, err := m.adapter.Spawn(SpawnOptions{
		Shell:      shell,
		WorkingDir: workDir,
		Cols:       cols,
		Rows:       rows,
		Env:        req.Env,
	}, m.callbacks(sess.ID))
	m.observer.SpawnObserved(time.Since(start), err)
	if err != nil {
		m.registry.Remove(sess.ID)
		return &SpawnError{ID: sess.ID, Shell: shell, Err: err}
	}
	if err := sess.attach(h); err != nil {
		_ = m.adapter.Kill(h)
		m.registry.Remove(sess.ID)
		return err
	}

	m.observer.SessionStarted()
	m.logger.Info("terminal created",
		zap.String("id", sess.ID),
		zap.String("shell", shell),
		zap.String("cwd", workDir),
		zap.Int("pid", h.PID()),
	)
	m.emit(Notification{Type: NotifyCreated, ID: sess.ID})
	return nil
}

func (m *Multiplexer) lookup(id string) (*Session, error) {
	sess, ok := m.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSession, id)
	}
	return sess, nil
}

func (m *Multiplexer) running(id string) (*Session, error) {
	sess, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	if sess.State() != StateRunning {
		return nil, ErrClosedHandle
	}
	return sess, nil
}

func (m *Multiplexer) write(id string, data []byte) error {
	sess, err := m.running(id)
	if err != nil {
		return err
	}
	if err := m.adapter.Write(sess.Handle(), data); err != nil {
		return err
	}
	m.observer.InputBytes(len(data))
	return nil
}

func (m *Multiplexer) clear(id string) error {
	sess, err := m.lookup(id)
	if err != nil {
		return err
	}
	if sess.State() != StateRunning {
		return ErrClosedHandle
	}
	return m.adapter.Write(sess.Handle(), []byte(ClearSequence))
}

func (m *Multiplexer) resize(id string, cols, rows uint16) error {
	sess, err := m.running(id)
	if err != nil {
		return err
	}
	if err := m.adapter.Resize(sess.Handle(), cols, rows); err != nil {
		return err
	}
	sess.Cols, sess.Rows = cols, rows
	return nil
}

// kill asks the adapter to terminate the process. The entry is removed and
// terminal-killed is emitted once the exit event arrives.
func (m *Multiplexer) kill(id string) error {
	sess, err := m.lookup(id)
	if err != nil {
		m.emit(Notification{Type: NotifyKilled, ID: id, Success: false, Error: err.Error()})
		return err
	}
	if sess.State() != StateRunning {
		m.emit(Notification{Type: NotifyKilled, ID: id, Success: false, Error: "terminal is already exiting"})
		return nil
	}

	// The session only leaves Running once the signal is delivered; a failed
	// kill leaves it usable and killable again.
	if err := m.adapter.Kill(sess.Handle()); err != nil {
		m.emit(Notification{Type: NotifyKilled, ID: id, Success: false, Error: err.Error()})
		return err
	}
	sess.killRequested = true
	return sess.transition(StateExiting)
}

func (m *Multiplexer) answer(q query) queryResult {
	switch q.kind {
	case querySessions:
		return queryResult{entries: m.registry.List()}
	case queryScrollback:
		sess, err := m.lookup(q.id)
		if err != nil {
			return queryResult{err: err}
		}
		return queryResult{data: sess.scrollback.Bytes()}
	default:
		return queryResult{err: fmt.Errorf("unknown query %d", q.kind)}
	}
}

func (m *Multiplexer) callbacks(id string) Callbacks {
	return Callbacks{
		OnOutput: func(h Handle, data []byte) {
			m.post(event{kind: eventOutput, id: id, handle: h, data: data})
		},
		OnExit: func(h Handle, code int) {
			m.post(event{kind: eventExit, id: id, handle: h, code: code})
		},
	}
}

func (m *Multiplexer) post(ev event) {
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

func (m *Multiplexer) handleEvent(ev event) {
	sess, ok := m.registry.Get(ev.id)
	if !ok || sess.Handle() != ev.handle {
		m.logger.Debug("dropping event for stale handle", zap.String("id", ev.id))
		return
	}

	switch ev.kind {
	case eventOutput:
		_, _ = sess.scrollback.Write(ev.data)
		m.observer.OutputBytes(len(ev.data))
		m.emit(Notification{Type: NotifyData, ID: ev.id, Data: ev.data})
	case eventExit:
		m.finish(sess, ev.code)
	}
}

// finish records termination, removes the entry, and emits exactly one exit.
func (m *Multiplexer) finish(sess *Session, code int) {
	if sess.State() == StateRunning {
		_ = sess.transition(StateExiting)
	}
	if err := sess.terminate(code); err != nil {
		m.logger.Error("terminal exit processed twice", zap.String("id", sess.ID), zap.Error(err))
		return
	}
	m.registry.Remove(sess.ID)

	reason := EndExited
	if m.closing {
		reason = EndShutdown
	}
	if sess.killRequested {
		reason = EndKilled
		m.emit(Notification{Type: NotifyKilled, ID: sess.ID, Success: true})
	}
	m.observer.SessionEnded(reason)
	m.logger.Info("terminal exited",
		zap.String("id", sess.ID),
		zap.Int("exit_code", code),
		zap.String("reason", reason),
	)
	m.emit(Notification{Type: NotifyExit, ID: sess.ID, ExitCode: code})
}

func (m *Multiplexer) emit(n Notification) {
	m.notify <- n
}

// shutdown kills every live session and keeps draining process events until
// the registry is empty. Leaving a session behind would leak an OS process.
func (m *Multiplexer) shutdown() {
	m.closing = true
	sessions := m.registry.Sessions()
	if len(sessions) == 0 {
		return
	}
	m.logger.Info("terminating terminal sessions", zap.Int("count", len(sessions)))

	for _, sess := range sessions {
		if sess.State() != StateRunning {
			continue
		}
		_ = sess.transition(StateExiting)
		if err := m.adapter.Kill(sess.Handle()); err != nil {
			m.logger.Warn("kill during shutdown failed", zap.String("id", sess.ID), zap.Error(err))
		}
	}

	timer := time.NewTimer(m.cfg.ShutdownTimeout)
	defer timer.Stop()
	forced := false

	for m.registry.Len() > 0 {
		select {
		case ev := <-m.events:
			m.handleEvent(ev)
		case req := <-m.requests:
			m.logger.Debug("dropping request during shutdown", zap.String("type", string(req.Type)))
		case q := <-m.queries:
			q.reply <- queryResult{err: ErrMultiplexerClosed}
		case <-timer.C:
			if forced {
				for _, sess := range m.registry.Sessions() {
					m.logger.Error("terminal process did not exit", zap.String("id", sess.ID))
				}
				return
			}
			forced = true
			m.logger.Warn("shutdown timeout elapsed, force killing", zap.Int("remaining", m.registry.Len()))
			_ = m.adapter.Close()
			timer.Reset(m.cfg.ShutdownTimeout)
		}
	}
}
