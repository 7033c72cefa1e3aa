package monitor

import "time"

// Timer is a scheduled callback.
type Timer interface {
	Stop() bool
}

// Clock supplies time and deferred execution; tests substitute a manual one.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
