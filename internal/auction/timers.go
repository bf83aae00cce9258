package auction

import (
	"sync"
	"time"
)

type timerState int

const (
	timerArmed timerState = iota + 1
	timerFired
)

type countdown struct {
	timer *time.Timer
	state timerState
}

// TimerRegistry keeps at most one live countdown per item key. Arm, Cancel
// and the expiry transition all hold the registry lock, so a cancel that wins
// the race fully suppresses the callback while an expiry that has already
// committed runs exactly once and can no longer be cancelled.
type TimerRegistry struct {
	mu      sync.Mutex
	pending map[string]*countdown
}

func NewTimerRegistry() *TimerRegistry {
	return &TimerRegistry{pending: make(map[string]*countdown)}
}

// Arm replaces any existing countdown for key and schedules onFire after d.
// onFire runs on the timer goroutine, outside the registry lock.
func (r *TimerRegistry) Arm(key string, d time.Duration, onFire func(key string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.pending[key]; ok {
		prev.timer.Stop()
	}
	cd := &countdown{state: timerArmed}
	cd.timer = time.AfterFunc(d, func() {
		r.mu.Lock()
		if r.pending[key] != cd || cd.state != timerArmed {
			// Cancelled or replaced before we took the lock.
			r.mu.Unlock()
			return
		}
		cd.state = timerFired
		delete(r.pending, key)
		r.mu.Unlock()
		onFire(key)
	})
	r.pending[key] = cd
}

// Cancel disarms key's countdown. No-op when nothing is armed or the
// countdown already fired.
func (r *TimerRegistry) Cancel(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cd, ok := r.pending[key]; ok {
		cd.timer.Stop()
		delete(r.pending, key)
	}
}

// Armed reports whether key currently has a live countdown.
func (r *TimerRegistry) Armed(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[key]
	return ok
}

// Drain cancels every outstanding countdown. Called at shutdown.
func (r *TimerRegistry) Drain() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, cd := range r.pending {
		cd.timer.Stop()
		delete(r.pending, key)
	}
}
