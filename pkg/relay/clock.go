package relay

import "time"

// Clock abstracts time-related operations so sweeps and the capture
// timeout can be driven manually in tests.
type Clock interface {
	Now() time.Time
	Ticker(d time.Duration) Ticker
	AfterFunc(d time.Duration, f func()) Timer
}

// Ticker abstracts the ticker behavior.
type Ticker interface {
	Chan() <-chan time.Time
	Stop()
}

// Timer is a cancellable one-shot timer.
type Timer interface {
	Stop() bool
}

// realClock implements Clock using the real time package.
type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Ticker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) Chan() <-chan time.Time {
	return r.t.C
}

func (r *realTicker) Stop() {
	r.t.Stop()
}
