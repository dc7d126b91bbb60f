package ratelimit

import (
	"fmt"
	"time"
)

// Window is a single sliding-window budget: at most Limit calls in any
// trailing Duration.
type Window struct {
	Limit    int
	Duration time.Duration
}

func (w Window) String() string { return fmt.Sprintf("%d/%s", w.Limit, w.Duration) }

// window tracks the recorded call timestamps for one Window, oldest first.
type window struct {
	Window
	stamps []time.Time
}

// evict drops timestamps that have left the trailing interval (now-d, now].
func (w *window) evict(now time.Time) {
	i := 0
	for i < len(w.stamps) && now.Sub(w.stamps[i]) >= w.Duration {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// wait returns how long until a new call fits. Zero means now.
func (w *window) wait(now time.Time) time.Duration {
	if len(w.stamps) < w.Limit {
		return 0
	}
	// The call that has to expire before there is room again.
	oldest := w.stamps[len(w.stamps)-w.Limit]
	return oldest.Add(w.Duration).Sub(now)
}

func (w *window) record(now time.Time) { w.stamps = append(w.stamps, now) }
