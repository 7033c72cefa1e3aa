package monitor

import "time"

// Policy bounds automatic reconnection. Delays grow linearly with the
// attempt number and are capped at MaxDelay.
type Policy struct {
	MaxAttempts int
	Step        time.Duration
	MaxDelay    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Step:        time.Second,
		MaxDelay:    5 * time.Second,
	}
}

// Delay returns the wait before reconnect number attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(attempt) * p.Step
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Exhausted reports whether failures consecutive failed connections use up
// the policy.
func (p Policy) Exhausted(failures int) bool {
	return failures >= p.MaxAttempts
}
