// Copyright (c) 2025 GoldenGlimmer
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package analytics keeps lightweight in-process usage counters.
//
// The tracker records one entry per completed chat turn and exposes a
// running summary. Nothing leaves the process; this exists so the REPL
// can answer "how much have I used this session".
package analytics

import (
	"sync"
	"time"
)

// Turn describes one completed request/response exchange.
type Turn struct {
	ModelID     string
	Duration    time.Duration
	PromptChars int
	Tokens      int
	Cost        float64
	Failed      bool
}

// Summary is a point-in-time snapshot of the session counters.
type Summary struct {
	Turns         int
	FailedTurns   int
	TotalTokens   int64
	TotalCost     float64
	TotalDuration time.Duration
	PromptChars   int64
	StartedAt     time.Time
}

// AvgDuration is the mean turn latency, zero when nothing was recorded.
func (s Summary) AvgDuration() time.Duration {
	if s.Turns == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Turns)
}

// Tracker accumulates per-turn usage counters. Safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	summary Summary
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{summary: Summary{StartedAt: time.Now()}}
}

// Record folds one turn into the running totals.
func (t *Tracker) Record(turn Turn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.summary.Turns++
	if turn.Failed {
		t.summary.FailedTurns++
	}
	t.summary.TotalTokens += int64(turn.Tokens)
	t.summary.TotalCost += turn.Cost
	t.summary.TotalDuration += turn.Duration
	t.summary.PromptChars += int64(turn.PromptChars)
}

// Snapshot returns a copy of the current counters.
func (t *Tracker) Snapshot() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summary
}

// Reset zeroes the counters and restarts the session clock.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.summary = Summary{StartedAt: time.Now()}
}
