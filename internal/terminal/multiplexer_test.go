package terminal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

type testMux struct {
	*Multiplexer
	adapter *fakeAdapter
	cancel  context.CancelFunc
	errc    chan error
}

func startMux(t *testing.T, adapter *fakeAdapter, cfg Config, opts ...Option) *testMux {
	t.Helper()
	if cfg.Shell == "" {
		cfg.Shell = "/bin/sh"
	}
	if cfg.WorkingDir == "" {
		cfg.WorkingDir = t.TempDir()
	}
	mux := NewMultiplexer(adapter, cfg, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- mux.Run(ctx) }()

	tm := &testMux{Multiplexer: mux, adapter: adapter, cancel: cancel, errc: errc}
	t.Cleanup(func() {
		cancel()
		for range mux.Notifications() {
		}
	})
	return tm
}

func (m *testMux) submit(t *testing.T, req Request) {
	t.Helper()
	require.NoError(t, m.Submit(context.Background(), req))
}

func (m *testMux) next(t *testing.T) Notification {
	t.Helper()
	select {
	case n, ok := <-m.Notifications():
		require.True(t, ok, "notification channel closed")
		return n
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for notification")
		return Notification{}
	}
}

func (m *testMux) expect(t *testing.T, typ NotificationType, id string) Notification {
	t.Helper()
	n := m.next(t)
	require.Equal(t, typ, n.Type, "notification %+v", n)
	assert.Equal(t, id, n.ID)
	return n
}

func (m *testMux) create(t *testing.T, id string) string {
	t.Helper()
	m.submit(t, Request{Type: RequestCreate, ID: id})
	n := m.next(t)
	require.Equal(t, NotifyCreated, n.Type, "notification %+v", n)
	return n.ID
}

func (m *testMux) sessions(t *testing.T) []Entry {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	entries, err := m.Sessions(ctx)
	require.NoError(t, err)
	return entries
}

func TestCreateAssignsSequentialIDs(t *testing.T) {
	m := startMux(t, newFakeAdapter(), Config{Cols: 100, Rows: 30})

	assert.Equal(t, "terminal-1", m.create(t, ""))
	assert.Equal(t, "terminal-2", m.create(t, ""))
	assert.Equal(t, "work", m.create(t, "work"))

	entries := m.sessions(t)
	assert.Equal(t, []string{"terminal-1", "terminal-2", "work"}, ids(entries))
	for _, e := range entries {
		assert.Equal(t, StateRunning, e.State)
		assert.Equal(t, uint16(100), e.Cols)
		assert.Equal(t, uint16(30), e.Rows)
		assert.NotZero(t, e.PID)
	}
}

func TestCreateUsesRequestOptions(t *testing.T) {
	adapter := newFakeAdapter()
	m := startMux(t, adapter, Config{})

	m.submit(t, Request{
		Type:       RequestCreate,
		Shell:      "/bin/bash -l",
		WorkingDir: "/srv",
		Cols:       132,
		Rows:       43,
		Env:        map[string]string{"FOO": "bar"},
	})
	m.expect(t, NotifyCreated, "terminal-1")

	opts := adapter.proc(0).opts
	assert.Equal(t, "/bin/bash -l", opts.Shell)
	assert.Equal(t, "/srv", opts.WorkingDir)
	assert.Equal(t, uint16(132), opts.Cols)
	assert.Equal(t, uint16(43), opts.Rows)
	assert.Equal(t, "bar", opts.Env["FOO"])
}

func TestCreateResolvesRelativeWorkingDir(t *testing.T) {
	adapter := newFakeAdapter()
	m := startMux(t, adapter, Config{WorkingDir: "/srv/work"})

	m.submit(t, Request{Type: RequestCreate, WorkingDir: "project/../app"})
	m.expect(t, NotifyCreated, "terminal-1")

	assert.Equal(t, "/srv/work/app", adapter.proc(0).opts.WorkingDir)
	assert.Equal(t, "/srv/work/app", m.sessions(t)[0].WorkingDir)
}

func TestCreateDuplicateID(t *testing.T) {
	m := startMux(t, newFakeAdapter(), Config{})
	m.create(t, "main")

	m.submit(t, Request{Type: RequestCreate, ID: "main"})
	n := m.expect(t, NotifyError, "main")
	assert.Equal(t, RequestCreate, n.Request)
	assert.Contains(t, n.Error, ErrDuplicateID.Error())

	assert.Len(t, m.sessions(t), 1)
}

func TestSpawnFailureRemovesEntry(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.spawnErr = errors.New("no such shell")
	m := startMux(t, adapter, Config{})

	m.submit(t, Request{Type: RequestCreate})
	n := m.expect(t, NotifyError, "terminal-1")
	assert.Contains(t, n.Error, "no such shell")

	assert.Empty(t, m.sessions(t))
}

func TestWriteForwardsInput(t *testing.T) {
	adapter := newFakeAdapter()
	m := startMux(t, adapter, Config{})
	id := m.create(t, "")

	m.submit(t, Request{Type: RequestWrite, ID: id, Data: []byte("ls\r")})
	n := m.expect(t, NotifyData, id)
	assert.Equal(t, "ls\r", string(n.Data))
	assert.Equal(t, []string{"ls\r"}, adapter.writesTo(0))
}

func TestExecuteAppendsTerminator(t *testing.T) {
	adapter := newFakeAdapter()
	m := startMux(t, adapter, Config{})
	id := m.create(t, "")

	m.submit(t, Request{Type: RequestExecute, ID: id, Command: "echo hi"})
	m.expect(t, NotifyData, id)
	assert.Equal(t, []string{"echo hi" + LineTerminator}, adapter.writesTo(0))
}

func TestClearWritesFormFeed(t *testing.T) {
	adapter := newFakeAdapter()
	m := startMux(t, adapter, Config{})
	id := m.create(t, "")

	m.submit(t, Request{Type: RequestClear, ID: id})
	m.expect(t, NotifyData, id)
	assert.Equal(t, []string{ClearSequence}, adapter.writesTo(0))
}

func TestResizeUpdatesEntry(t *testing.T) {
	adapter := newFakeAdapter()
	m := startMux(t, adapter, Config{})
	id := m.create(t, "")

	m.submit(t, Request{Type: RequestResize, ID: id, Cols: 200, Rows: 50})
	entries := m.sessions(t)
	require.Len(t, entries, 1)
	assert.Equal(t, uint16(200), entries[0].Cols)
	assert.Equal(t, uint16(50), entries[0].Rows)
	assert.Equal(t, uint16(200), adapter.proc(0).cols)

	m.submit(t, Request{Type: RequestResize, ID: id, Cols: 0, Rows: 50})
	n := m.expect(t, NotifyError, id)
	assert.Equal(t, RequestResize, n.Request)
	assert.Contains(t, n.Error, ErrInvalidSize.Error())
}

func TestUnknownSessionReportsError(t *testing.T) {
	adapter := newFakeAdapter()
	m := startMux(t, adapter, Config{Cols: 80, Rows: 24})
	live := m.create(t, "")

	for _, typ := range []RequestType{RequestWrite, RequestExecute, RequestClear, RequestResize} {
		m.submit(t, Request{Type: typ, ID: "ghost", Data: []byte("x"), Command: "x", Cols: 1, Rows: 1})
		n := m.expect(t, NotifyError, "ghost")
		assert.Equal(t, typ, n.Request)
		assert.Contains(t, n.Error, ErrUnknownSession.Error())
	}

	// Requests for a missing id never reach another session.
	assert.Empty(t, adapter.writesTo(0))
	assert.Zero(t, adapter.resizeCount(0))
	entries := m.sessions(t)
	require.Len(t, entries, 1)
	assert.Equal(t, live, entries[0].ID)
	assert.Equal(t, uint16(80), entries[0].Cols)
	assert.Equal(t, uint16(24), entries[0].Rows)
}

func TestConcurrentSessionsKeepOutputApart(t *testing.T) {
	adapter := newFakeAdapter()
	m := startMux(t, adapter, Config{})
	one := m.create(t, "")
	two := m.create(t, "")

	const rounds = 50
	go func() {
		for i := 0; i < rounds; i++ {
			_ = m.Submit(context.Background(), Request{Type: RequestExecute, ID: one, Command: "one"})
		}
	}()
	go func() {
		for i := 0; i < rounds; i++ {
			_ = m.Submit(context.Background(), Request{Type: RequestExecute, ID: two, Command: "two"})
		}
	}()

	seen := map[string]int{}
	for seen[one]+seen[two] < 2*rounds {
		n := m.next(t)
		require.Equal(t, NotifyData, n.Type, "notification %+v", n)
		switch n.ID {
		case one:
			assert.Equal(t, "one"+LineTerminator, string(n.Data))
		case two:
			assert.Equal(t, "two"+LineTerminator, string(n.Data))
		default:
			t.Fatalf("data for unexpected session %q", n.ID)
		}
		seen[n.ID]++
	}
	assert.Equal(t, rounds, seen[one])
	assert.Equal(t, rounds, seen[two])
}

func TestUnknownRequestType(t *testing.T) {
	m := startMux(t, newFakeAdapter(), Config{})

	m.submit(t, Request{Type: "terminal-dance", ID: "x"})
	n := m.expect(t, NotifyError, "x")
	assert.Contains(t, n.Error, "unknown request type")
}

func TestKillEmitsKilledThenExit(t *testing.T) {
	adapter := newFakeAdapter()
	m := startMux(t, adapter, Config{})
	id := m.create(t, "")

	m.submit(t, Request{Type: RequestKill, ID: id})
	killed := m.expect(t, NotifyKilled, id)
	assert.True(t, killed.Success)
	exit := m.expect(t, NotifyExit, id)
	assert.Equal(t, 129, exit.ExitCode)

	assert.Empty(t, m.sessions(t))

	m.submit(t, Request{Type: RequestKill, ID: id})
	again := m.expect(t, NotifyKilled, id)
	assert.False(t, again.Success)
	assert.NotEmpty(t, again.Error)
	assert.Equal(t, 1, adapter.killCount(0))
}

func TestFailedKillLeavesSessionRunning(t *testing.T) {
	adapter := newFakeAdapter()
	m := startMux(t, adapter, Config{})
	id := m.create(t, "")

	adapter.failKills(errors.New("operation not permitted"))
	m.submit(t, Request{Type: RequestKill, ID: id})
	n := m.expect(t, NotifyKilled, id)
	assert.False(t, n.Success)
	assert.Contains(t, n.Error, "operation not permitted")

	entries := m.sessions(t)
	require.Len(t, entries, 1)
	assert.Equal(t, StateRunning, entries[0].State)

	m.submit(t, Request{Type: RequestWrite, ID: id, Data: []byte("still here")})
	assert.Equal(t, "still here", string(m.expect(t, NotifyData, id).Data))

	adapter.failKills(nil)
	m.submit(t, Request{Type: RequestKill, ID: id})
	assert.True(t, m.expect(t, NotifyKilled, id).Success)
	assert.Equal(t, 129, m.expect(t, NotifyExit, id).ExitCode)
	assert.Empty(t, m.sessions(t))
}

func TestKillWhileExiting(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.ignoreKill = true
	m := startMux(t, adapter, Config{})
	id := m.create(t, "")

	m.submit(t, Request{Type: RequestKill, ID: id})
	m.submit(t, Request{Type: RequestKill, ID: id})
	n := m.expect(t, NotifyKilled, id)
	assert.False(t, n.Success)

	entries := m.sessions(t)
	require.Len(t, entries, 1)
	assert.Equal(t, StateExiting, entries[0].State)

	// Input is refused once a kill is pending.
	m.submit(t, Request{Type: RequestWrite, ID: id, Data: []byte("x")})
	m.submit(t, Request{Type: RequestList})
	list := m.next(t)
	assert.Equal(t, NotifyListResponse, list.Type)
	assert.Empty(t, adapter.writesTo(0))

	adapter.exit(adapter.proc(0), 0)
	assert.True(t, m.expect(t, NotifyKilled, id).Success)
	m.expect(t, NotifyExit, id)
}

func TestProcessExitRemovesSession(t *testing.T) {
	adapter := newFakeAdapter()
	m := startMux(t, adapter, Config{})
	id := m.create(t, "")

	adapter.exit(adapter.proc(0), 3)
	n := m.expect(t, NotifyExit, id)
	assert.Equal(t, 3, n.ExitCode)

	m.submit(t, Request{Type: RequestList})
	list := m.next(t)
	require.Equal(t, NotifyListResponse, list.Type)
	assert.Empty(t, list.Entries)
}

func TestOutputPrecedesExit(t *testing.T) {
	adapter := newFakeAdapter()
	m := startMux(t, adapter, Config{})
	id := m.create(t, "")

	p := adapter.proc(0)
	go func() {
		for i := 0; i < 50; i++ {
			p.cb.OnOutput(p.handle, []byte{byte('a' + i%26)})
		}
		adapter.exit(p, 0)
	}()

	var got []byte
	for {
		n := m.next(t)
		require.Equal(t, id, n.ID)
		if n.Type == NotifyExit {
			break
		}
		require.Equal(t, NotifyData, n.Type)
		got = append(got, n.Data...)
	}
	assert.Len(t, got, 50)
	assert.Equal(t, byte('a'), got[0])
}

func TestStaleHandleEventsDropped(t *testing.T) {
	adapter := newFakeAdapter()
	m := startMux(t, adapter, Config{})
	id := m.create(t, "dup")

	adapter.exit(adapter.proc(0), 0)
	m.expect(t, NotifyExit, id)

	require.Equal(t, id, m.create(t, "dup"))

	// Output from the first process must not leak into the new session.
	old := adapter.proc(0)
	old.cb.OnOutput(old.handle, []byte("stale"))
	m.submit(t, Request{Type: RequestList})
	assert.Equal(t, NotifyListResponse, m.next(t).Type)
}

func TestScrollback(t *testing.T) {
	adapter := newFakeAdapter()
	m := startMux(t, adapter, Config{Scrollback: 8})
	id := m.create(t, "")

	m.submit(t, Request{Type: RequestWrite, ID: id, Data: []byte("hello ")})
	m.expect(t, NotifyData, id)
	m.submit(t, Request{Type: RequestWrite, ID: id, Data: []byte("world")})
	m.expect(t, NotifyData, id)

	data, err := m.Scrollback(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "lo world", string(data))

	_, err = m.Scrollback(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestListResponse(t *testing.T) {
	m := startMux(t, newFakeAdapter(), Config{})

	m.submit(t, Request{Type: RequestList})
	n := m.next(t)
	require.Equal(t, NotifyListResponse, n.Type)
	assert.Empty(t, n.Entries)

	m.create(t, "a")
	m.create(t, "b")
	m.submit(t, Request{Type: RequestList})
	n = m.next(t)
	assert.Equal(t, []string{"a", "b"}, ids(n.Entries))
}

func TestShutdownKillsSessions(t *testing.T) {
	adapter := newFakeAdapter()
	m := startMux(t, adapter, Config{})
	m.create(t, "a")
	m.create(t, "b")

	m.cancel()

	var exits []string
	for n := range m.Notifications() {
		if n.Type == NotifyExit {
			exits = append(exits, n.ID)
		}
		assert.NotEqual(t, NotifyKilled, n.Type)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, exits)
	require.NoError(t, <-m.errc)

	assert.Equal(t, 1, adapter.killCount(0))
	assert.Equal(t, 1, adapter.killCount(1))
	assert.Zero(t, adapter.closeCount())

	err := m.Submit(context.Background(), Request{Type: RequestList})
	assert.ErrorIs(t, err, ErrMultiplexerClosed)
	_, err = m.Sessions(context.Background())
	assert.ErrorIs(t, err, ErrMultiplexerClosed)
}

func TestShutdownForcesStubbornProcesses(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.ignoreKill = true
	m := startMux(t, adapter, Config{ShutdownTimeout: 20 * time.Millisecond})
	id := m.create(t, "")

	m.cancel()

	n := m.expect(t, NotifyExit, id)
	assert.Equal(t, 137, n.ExitCode)

	select {
	case _, ok := <-m.Notifications():
		assert.False(t, ok)
	case <-time.After(waitTimeout):
		t.Fatal("notifications not closed")
	}
	assert.Equal(t, 1, adapter.closeCount())
}

func TestRunTwice(t *testing.T) {
	m := startMux(t, newFakeAdapter(), Config{})
	// Sessions round-trips through the loop, so Run has started.
	m.sessions(t)
	assert.Error(t, m.Run(context.Background()))
}

type mockObserver struct {
	mock.Mock
}

func (o *mockObserver) RequestHandled(req RequestType, outcome string) { o.Called(req, outcome) }
func (o *mockObserver) SpawnObserved(d time.Duration, err error)       { o.Called(err) }
func (o *mockObserver) SessionStarted()                                { o.Called() }
func (o *mockObserver) SessionEnded(reason string)                     { o.Called(reason) }
func (o *mockObserver) InputBytes(n int)                               { o.Called(n) }
func (o *mockObserver) OutputBytes(n int)                              { o.Called(n) }

func TestObserverReceivesActivity(t *testing.T) {
	obs := &mockObserver{}
	obs.On("SpawnObserved", nil).Once()
	obs.On("SessionStarted").Once()
	obs.On("RequestHandled", RequestCreate, OutcomeOK).Once()
	obs.On("InputBytes", 3).Once()
	obs.On("OutputBytes", 3).Once()
	obs.On("RequestHandled", RequestWrite, OutcomeOK).Once()
	obs.On("RequestHandled", RequestKill, OutcomeOK).Once()
	obs.On("SessionEnded", EndKilled).Once()
	obs.On("RequestHandled", RequestWrite, OutcomeError).Once()

	m := startMux(t, newFakeAdapter(), Config{}, WithObserver(obs))
	id := m.create(t, "")

	m.submit(t, Request{Type: RequestWrite, ID: id, Data: []byte("abc")})
	m.expect(t, NotifyData, id)
	m.submit(t, Request{Type: RequestKill, ID: id})
	m.expect(t, NotifyKilled, id)
	m.expect(t, NotifyExit, id)
	m.submit(t, Request{Type: RequestWrite, ID: id, Data: []byte("abc")})
	m.expect(t, NotifyError, id)

	m.sessions(t)
	obs.AssertExpectations(t)
}
