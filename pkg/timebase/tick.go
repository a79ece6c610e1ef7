// Package timebase provides the millisecond tick used for delays and
// flash operation timeouts.
package timebase

import (
	"runtime"
	"sync/atomic"
	"time"
)

// MaxDelay is the timeout value meaning "wait forever".
const MaxDelay uint32 = 0xFFFFFFFF

// Clock is a monotonic millisecond source.
type Clock interface {
	// Tick returns milliseconds since start, wrapping at 2^32.
	Tick() uint32
	// Delay busy-waits for at least ms milliseconds.
	Delay(ms uint32)
}

// Counter is incremented once per millisecond by the timer interrupt.
// Foreground reads are atomic so a read never observes a torn value.
type Counter struct {
	ticks uint32
}

// Increment advances the counter by one tick. Call it from the timer ISR.
func (c *Counter) Increment() {
	atomic.AddUint32(&c.ticks, 1)
}

// Tick implements Clock.
func (c *Counter) Tick() uint32 {
	return atomic.LoadUint32(&c.ticks)
}

// Delay implements Clock. One extra tick is added so the wait is never
// shorter than requested.
func (c *Counter) Delay(ms uint32) {
	start := c.Tick()
	wait := ms
	if wait < MaxDelay {
		wait++
	}
	for c.Tick()-start < wait {
		runtime.Gosched()
	}
}

// Elapsed reports whether more than timeout ticks passed since start.
// MaxDelay never elapses.
func Elapsed(clk Clock, start, timeout uint32) bool {
	if timeout == MaxDelay {
		return false
	}
	return timeout == 0 || clk.Tick()-start > timeout
}

// Run drives the counter from a ticker until stop is closed. It stands in
// for the timer interrupt on hosts.
func (c *Counter) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.Increment()
		}
	}
}
