package channel

import (
	"sync/atomic"
	"time"
)

// Stats is a snapshot of one channel's runtime counters.
type Stats struct {
	FramesSent    int64
	FramesGated   int64
	AudioChunks   int64
	Fragments     int64
	Recoveries    int64
	FirstResponse time.Duration
}

// counters backs Stats with lock-free accumulation from the channel loops.
type counters struct {
	framesSent  atomic.Int64
	framesGated atomic.Int64
	audioChunks atomic.Int64
	fragments   atomic.Int64
	recoveries  atomic.Int64

	startedAt     time.Time
	firstResponse atomic.Int64 // nanoseconds since startedAt, set once
}

// markResponse records first-result latency; later calls are no-ops.
func (c *counters) markResponse(now time.Time) {
	latency := now.Sub(c.startedAt)
	if latency <= 0 {
		latency = time.Nanosecond
	}
	c.firstResponse.CompareAndSwap(0, int64(latency))
}

// snapshot copies the counters into an exported Stats value.
func (c *counters) snapshot() Stats {
	return Stats{
		FramesSent:    c.framesSent.Load(),
		FramesGated:   c.framesGated.Load(),
		AudioChunks:   c.audioChunks.Load(),
		Fragments:     c.fragments.Load(),
		Recoveries:    c.recoveries.Load(),
		FirstResponse: time.Duration(c.firstResponse.Load()),
	}
}
