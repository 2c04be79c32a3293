// Package subtitle converts a self-correcting stream of transcript fragments
// into a stable, bounded display history.
package subtitle

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// flushScanLimit bounds how many trailing entries a language-switch flush
// may remove in one pass.
const flushScanLimit = 10

// mergeOverlapRatio is the minimum length overlap required to merge fragments.
const mergeOverlapRatio = 0.6

// Entry is one line of the deduplicated display history.
type Entry struct {
	Text string
	At   time.Time
}

// Engine deduplicates and merges incoming fragments into a bounded display
// log, keeping every fragment verbatim in a larger raw log for diagnostics.
// All mutation is serialized behind one mutex.
type Engine struct {
	displayCap int
	rawCap     int
	timestamps bool

	mu      sync.Mutex
	display []Entry
	raw     []string
}

// NewEngine builds an engine with the given display and raw log capacities.
func NewEngine(displayCapacity, rawCapacity int, timestamps bool) *Engine {
	if displayCapacity <= 0 {
		displayCapacity = 10
	}
	if rawCapacity < displayCapacity {
		rawCapacity = displayCapacity * 100
	}
	return &Engine{
		displayCap: displayCapacity,
		rawCap:     rawCapacity,
		timestamps: timestamps,
		display:    make([]Entry, 0, displayCapacity),
	}
}

// Push ingests one fragment. Empty or whitespace-only input is a no-op.
func (e *Engine) Push(text string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.appendRaw(text)

	if e.flushShortSourceFragments(trimmed) {
		return
	}
	if e.mergeFragments(trimmed) {
		return
	}
	if e.dedupeAgainstLast(trimmed) {
		return
	}
	e.appendDisplay(trimmed)
}

// Entries returns a snapshot of the display log in order.
func (e *Engine) Entries() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Entry, len(e.display))
	copy(out, e.display)
	return out
}

// RawLog returns a snapshot of the bounded raw ingestion history.
func (e *Engine) RawLog() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.raw))
	copy(out, e.raw)
	return out
}

// Render formats the display log as newline-separated lines, prefixed with
// receive timestamps when enabled.
func (e *Engine) Render() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var b strings.Builder
	for i, entry := range e.display {
		if i > 0 {
			b.WriteByte('\n')
		}
		if e.timestamps {
			b.WriteString(fmt.Sprintf("[%s] ", entry.At.Format("15:04:05")))
		}
		b.WriteString(entry.Text)
	}
	return b.String()
}

// flushShortSourceFragments handles the language switch at the end of an
// utterance: when a target-language fragment arrives, trailing short
// source-language partials are replaced wholesale by the incoming fragment.
// Scanning stops at the first target-language entry or complete sentence.
func (e *Engine) flushShortSourceFragments(incoming string) bool {
	if !isTargetLanguage(incoming) {
		return false
	}

	removed := 0
	for i := len(e.display) - 1; i >= 0 && removed < flushScanLimit; i-- {
		text := e.display[i].Text
		if isTargetLanguage(text) || isCompleteSentence(text) {
			break
		}
		removed++
	}
	if removed == 0 {
		return false
	}

	e.display = e.display[:len(e.display)-removed]
	e.appendDisplay(incoming)
	return true
}

// mergeFragments collapses runs of partial fragments that the incoming
// fragment subsumes. Only entries newer than the last complete sentence are
// candidates; the largest window passing containment plus the length-overlap
// ratio wins.
func (e *Engine) mergeFragments(incoming string) bool {
	start := len(e.display)
	for start > 0 && !isCompleteSentence(e.display[start-1].Text) {
		start--
	}
	candidates := e.display[start:]

	incomingStripped := stripWhitespace(incoming)
	if incomingStripped == "" {
		return false
	}

	for window := len(candidates); window >= 2; window-- {
		var b strings.Builder
		for _, entry := range candidates[len(candidates)-window:] {
			b.WriteString(stripWhitespace(entry.Text))
		}
		concat := b.String()
		if concat == "" {
			continue
		}

		contained := strings.Contains(incomingStripped, concat) || strings.Contains(concat, incomingStripped)
		concatLen := utf8.RuneCountInString(concat)
		incomingLen := utf8.RuneCountInString(incomingStripped)
		longest := concatLen
		if incomingLen > longest {
			longest = incomingLen
		}
		if contained && float64(concatLen)/float64(longest) >= mergeOverlapRatio {
			e.display = e.display[:len(e.display)-window]
			e.appendDisplay(incoming)
			return true
		}
	}
	return false
}

// dedupeAgainstLast resolves the incoming fragment against the single most
// recent entry: exact duplicates are dropped, similar fragments keep the
// longer text.
func (e *Engine) dedupeAgainstLast(incoming string) bool {
	if len(e.display) == 0 {
		return false
	}
	last := &e.display[len(e.display)-1]
	if incoming == last.Text {
		return true
	}
	if !similar(incoming, last.Text) {
		return false
	}
	if utf8.RuneCountInString(incoming) >= utf8.RuneCountInString(last.Text) {
		last.Text = incoming
		last.At = time.Now()
	}
	return true
}

// appendDisplay adds an entry, evicting the oldest past capacity.
func (e *Engine) appendDisplay(text string) {
	e.display = append(e.display, Entry{Text: text, At: time.Now()})
	if overflow := len(e.display) - e.displayCap; overflow > 0 {
		e.display = append(e.display[:0], e.display[overflow:]...)
	}
}

// appendRaw records a fragment verbatim, evicting the oldest past capacity.
func (e *Engine) appendRaw(text string) {
	e.raw = append(e.raw, text)
	if overflow := len(e.raw) - e.rawCap; overflow > 0 {
		e.raw = append(e.raw[:0], e.raw[overflow:]...)
	}
}
