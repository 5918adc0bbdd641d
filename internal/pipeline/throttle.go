package pipeline

import "time"

// throttle admits timestamps no closer than interval to the last admitted one.
// Not safe for concurrent use; the pipeline holds its mutex.
type throttle struct {
	interval time.Duration
	last     time.Time
	started  bool
}

// allow reports whether ts may be admitted. It does not change state.
func (t *throttle) allow(ts time.Time) bool {
	if t.interval <= 0 || !t.started {
		return true
	}
	return ts.Sub(t.last) >= t.interval
}

// commit records ts as admitted and returns the instantaneous fps.
// The first admission, and a timestamp that does not move forward, report 0.
func (t *throttle) commit(ts time.Time) float64 {
	prev, had := t.last, t.started
	t.last, t.started = ts, true
	if !had {
		return 0
	}
	diff := ts.Sub(prev)
	if diff <= 0 {
		return 0
	}
	return float64(time.Second) / float64(diff)
}
