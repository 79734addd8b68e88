package terminal

import (
	"errors"
	"strconv"
	"sync"
)

type fakeProc struct {
	handle  *stubHandle
	cb      Callbacks
	opts    SpawnOptions
	writes  []string
	cols    uint16
	rows    uint16
	exited  bool
	killed  int
	resizes int
	echoing bool
}

// fakeAdapter drives Callbacks synchronously so tests observe a deterministic
// event order. Kill reports exit code 129 unless ignoreKill is set.
type fakeAdapter struct {
	mu         sync.Mutex
	next       int
	procs      []*fakeProc
	spawnErr   error
	killErr    error
	ignoreKill bool
	echo       bool
	closed     int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{echo: true}
}

func (a *fakeAdapter) Spawn(opts SpawnOptions, cb Callbacks) (Handle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.spawnErr != nil {
		return nil, a.spawnErr
	}
	a.next++
	p := &fakeProc{
		handle:  &stubHandle{id: "h" + strconv.Itoa(a.next), pid: 1000 + a.next},
		cb:      cb,
		opts:    opts,
		cols:    opts.Cols,
		rows:    opts.Rows,
		echoing: a.echo,
	}
	a.procs = append(a.procs, p)
	return p.handle, nil
}

func (a *fakeAdapter) find(h Handle) (*fakeProc, error) {
	for _, p := range a.procs {
		if p.handle == h {
			if p.exited {
				return nil, ErrClosedHandle
			}
			return p, nil
		}
	}
	return nil, errors.New("unknown handle")
}

func (a *fakeAdapter) Write(h Handle, data []byte) error {
	a.mu.Lock()
	p, err := a.find(h)
	if err != nil {
		a.mu.Unlock()
		return err
	}
	p.writes = append(p.writes, string(data))
	echo := p.echoing
	a.mu.Unlock()

	if echo {
		p.cb.OnOutput(h, append([]byte(nil), data...))
	}
	return nil
}

func (a *fakeAdapter) Resize(h Handle, cols, rows uint16) error {
	if cols == 0 || rows == 0 {
		return ErrInvalidSize
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	p, err := a.find(h)
	if err != nil {
		return err
	}
	p.cols, p.rows = cols, rows
	p.resizes++
	return nil
}

func (a *fakeAdapter) Kill(h Handle) error {
	a.mu.Lock()
	p, err := a.find(h)
	if err != nil {
		a.mu.Unlock()
		if errors.Is(err, ErrClosedHandle) {
			return nil
		}
		return err
	}
	if a.killErr != nil {
		a.mu.Unlock()
		return a.killErr
	}
	p.killed++
	ignore := a.ignoreKill
	a.mu.Unlock()

	if !ignore {
		a.exit(p, 129)
	}
	return nil
}

func (a *fakeAdapter) Close() error {
	a.mu.Lock()
	a.closed++
	live := make([]*fakeProc, 0, len(a.procs))
	for _, p := range a.procs {
		if !p.exited {
			live = append(live, p)
		}
	}
	a.mu.Unlock()

	for _, p := range live {
		a.exit(p, 137)
	}
	return nil
}

func (a *fakeAdapter) exit(p *fakeProc, code int) {
	a.mu.Lock()
	if p.exited {
		a.mu.Unlock()
		return
	}
	p.exited = true
	a.mu.Unlock()
	p.cb.OnExit(p.handle, code)
}

// proc returns the n-th spawned process, starting at 0.
func (a *fakeAdapter) proc(n int) *fakeProc {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.procs[n]
}

func (a *fakeAdapter) writesTo(n int) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.procs[n].writes...)
}

func (a *fakeAdapter) killCount(n int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.procs[n].killed
}

func (a *fakeAdapter) resizeCount(n int) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.procs[n].resizes
}

func (a *fakeAdapter) failKills(err error) {
	a.mu.Lock()
	a.killErr = err
	a.mu.Unlock()
}

func (a *fakeAdapter) closeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}
