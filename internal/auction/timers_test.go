package auction

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTimerFires(t *testing.T) {
	r := NewTimerRegistry()
	fired := make(chan string, 1)
	r.Arm("nova", 10*time.Millisecond, func(key string) { fired <- key })
	select {
	case key := <-fired:
		if key != "nova" {
			t.Fatalf("fired key = %q", key)
		}
	case <-time.After(time.Second):
		t.Fatal("countdown never fired")
	}
	if r.Armed("nova") {
		t.Fatal("key should be unarmed after firing")
	}
}

func TestRearmReplacesPriorCountdown(t *testing.T) {
	r := NewTimerRegistry()
	var fires int32
	for i := 0; i < 5; i++ {
		r.Arm("nova", 30*time.Millisecond, func(string) { atomic.AddInt32(&fires, 1) })
	}
	time.Sleep(150 * time.Millisecond)
	if n := atomic.LoadInt32(&fires); n != 1 {
		t.Fatalf("fires = %d, want exactly 1", n)
	}
}

func TestCancelSuppressesCallback(t *testing.T) {
	r := NewTimerRegistry()
	var fires int32
	r.Arm("nova", 30*time.Millisecond, func(string) { atomic.AddInt32(&fires, 1) })
	r.Cancel("nova")
	if r.Armed("nova") {
		t.Fatal("key should be unarmed after cancel")
	}
	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&fires); n != 0 {
		t.Fatalf("cancelled countdown fired %d time(s)", n)
	}
}

func TestCancelAfterFireIsNoop(t *testing.T) {
	r := NewTimerRegistry()
	fired := make(chan struct{})
	r.Arm("nova", 5*time.Millisecond, func(string) { close(fired) })
	<-fired
	r.Cancel("nova")
	r.Cancel("nova")
	if r.Armed("nova") {
		t.Fatal("key should stay unarmed")
	}
}

func TestDrainCancelsEverything(t *testing.T) {
	r := NewTimerRegistry()
	var fires int32
	for _, key := range []string{"nova", "orion", "comet"} {
		r.Arm(key, 30*time.Millisecond, func(string) { atomic.AddInt32(&fires, 1) })
	}
	r.Drain()
	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt32(&fires); n != 0 {
		t.Fatalf("drained countdowns fired %d time(s)", n)
	}
	if r.Armed("nova") || r.Armed("orion") || r.Armed("comet") {
		t.Fatal("keys should be unarmed after drain")
	}
}
