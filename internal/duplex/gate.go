// Package duplex arbitrates two-way conversations with an opponent-priority
// policy: while the remote side is speaking, local transmission pauses.
package duplex

import (
	"sync"
	"time"
)

const (
	defaultPauseThreshold = 500 * time.Millisecond
	defaultHistorySize    = 10

	// defaultSpeakingRatio is the fraction of recent samples that must be
	// active before the smoothed detector reports speech.
	defaultSpeakingRatio = 0.7
)

// Stats is a snapshot of gate activity counters.
type Stats struct {
	Interruptions    int
	TotalPause       time.Duration
	LastInterruption time.Time
	Paused           bool
}

// Gate tracks remote voice activity and decides when local audio may be sent.
// The remote side always wins: transmission resumes only after it has been
// silent for the pause threshold.
type Gate struct {
	pauseThreshold time.Duration
	historySize    int
	speakingRatio  float64

	mu               sync.Mutex
	opponentSpeaking bool
	lastActivity     time.Time
	pauseStart       time.Time
	history          []bool
	stats            Stats
}

// NewGate builds a gate; non-positive arguments select the defaults.
func NewGate(pauseThreshold time.Duration, historySize int, speakingRatio float64) *Gate {
	if pauseThreshold <= 0 {
		pauseThreshold = defaultPauseThreshold
	}
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	if speakingRatio <= 0 || speakingRatio > 1 {
		speakingRatio = defaultSpeakingRatio
	}
	return &Gate{
		pauseThreshold: pauseThreshold,
		historySize:    historySize,
		speakingRatio:  speakingRatio,
	}
}

// Update records one remote voice-activity observation at the given time.
func (g *Gate) Update(speaking bool, now time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.history = append(g.history, speaking)
	if len(g.history) > g.historySize {
		g.history = g.history[len(g.history)-g.historySize:]
	}

	if speaking {
		g.lastActivity = now
		if !g.opponentSpeaking {
			g.opponentSpeaking = true
			g.pauseStart = now
			g.stats.Interruptions++
			g.stats.LastInterruption = now
			g.stats.Paused = true
		}
		return
	}

	if g.opponentSpeaking && now.Sub(g.lastActivity) >= g.pauseThreshold {
		g.opponentSpeaking = false
		g.stats.TotalPause += now.Sub(g.pauseStart)
		g.stats.Paused = false
	}
}

// ShouldTransmit reports whether local audio may be sent right now.
func (g *Gate) ShouldTransmit() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.opponentSpeaking
}

// LikelySpeaking smooths the recent observation window to filter one-off
// detection blips.
func (g *Gate) LikelySpeaking() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.history) == 0 {
		return false
	}
	active := 0
	for _, speaking := range g.history {
		if speaking {
			active++
		}
	}
	return float64(active)/float64(len(g.history)) >= g.speakingRatio
}

// Stats returns a snapshot of the gate counters.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// ResetStats clears the counters without touching the speaking state.
func (g *Gate) ResetStats() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats = Stats{}
}
