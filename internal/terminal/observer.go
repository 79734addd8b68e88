package terminal

import "time"

// Observer receives multiplexer activity for metrics collection.
type Observer interface {
	RequestHandled(req RequestType, outcome string)
	SpawnObserved(d time.Duration, err error)
	SessionStarted()
	SessionEnded(reason string)
	InputBytes(n int)
	OutputBytes(n int)
}

// Request outcomes reported to Observer.RequestHandled.
const (
	OutcomeOK     = "ok"
	OutcomeClosed = "closed"
	OutcomeError  = "error"
)

// Session end reasons reported to Observer.SessionEnded.
const (
	EndExited   = "exited"
	EndKilled   = "killed"
	EndShutdown = "shutdown"
)

type nopObserver struct{}

func (nopObserver) RequestHandled(RequestType, string) {}
func (nopObserver) SpawnObserved(time.Duration, error) {}
func (nopObserver) SessionStarted()                    {}
func (nopObserver) SessionEnded(string)                {}
func (nopObserver) InputBytes(int)                     {}
func (nopObserver) OutputBytes(int)                    {}
