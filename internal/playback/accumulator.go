// Package playback absorbs decoded PCM chunks and feeds them to hardware
// output sinks in exactly-sized frames, zero-filling on underrun.
package playback

import "sync"

// Accumulator is a bounded, lock-guarded queue of interleaved float32 samples
// with one consuming read cursor (primary) and one non-consuming read cursor
// (monitor). The monitor always observes the same front region the primary
// will consume next, so it can never run ahead of the primary.
type Accumulator struct {
	mu       sync.Mutex
	samples  []float32
	capacity int
	channels int

	dropped   int64
	underruns int64
}

// NewAccumulator builds an accumulator holding at most capacity samples of
// interleaved audio with the given channel count.
func NewAccumulator(capacity, channels int) *Accumulator {
	if channels <= 0 {
		channels = 1
	}
	if capacity < channels {
		capacity = channels
	}
	return &Accumulator{capacity: capacity, channels: channels}
}

// Write appends decoded samples, dropping the oldest queued samples when the
// capacity is exceeded. It returns the number of samples dropped.
func (a *Accumulator) Write(chunk []float32) int {
	if len(chunk) == 0 {
		return 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.samples = append(a.samples, chunk...)
	over := len(a.samples) - a.capacity
	if over <= 0 {
		return 0
	}
	a.samples = append(a.samples[:0], a.samples[over:]...)
	a.dropped += int64(over)
	return over
}

// ReadPrimary fills out with queued samples, consuming them. A shortfall is
// emitted as whole frames followed by silence, and clears the queue.
// The returned count is the number of real (non-silence) samples emitted.
func (a *Accumulator) ReadPrimary(out []float32) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	requested := len(out)
	if requested == 0 {
		return 0
	}

	if len(a.samples) >= requested {
		copy(out, a.samples[:requested])
		remaining := copy(a.samples, a.samples[requested:])
		a.samples = a.samples[:remaining]
		return requested
	}

	emitted := a.fillPartial(out)
	a.samples = a.samples[:0]
	a.underruns++
	return emitted
}

// ReadMonitor fills out with a copy of the front of the queue without
// consuming anything.
func (a *Accumulator) ReadMonitor(out []float32) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	requested := len(out)
	if requested == 0 {
		return 0
	}

	if len(a.samples) >= requested {
		copy(out, a.samples[:requested])
		return requested
	}
	return a.fillPartial(out)
}

// fillPartial emits the queued samples aligned down to whole frames and
// zero-fills the rest of out; callers hold a.mu.
func (a *Accumulator) fillPartial(out []float32) int {
	emit := (len(a.samples) / a.channels) * a.channels
	if emit > 0 {
		copy(out[:emit], a.samples[:emit])
	}
	for i := emit; i < len(out); i++ {
		out[i] = 0
	}
	return emit
}

// Len reports the number of queued samples.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.samples)
}

// Dropped reports the total samples discarded by the overflow policy.
func (a *Accumulator) Dropped() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Underruns reports how many primary reads found fewer samples than requested.
func (a *Accumulator) Underruns() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.underruns
}
