// Copyright (c) 2025 GoldenGlimmer
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package expense computes cost-over-time aggregates from the chat history.
//
// The aggregator is a dependent reactive component: the orchestrator pokes
// Refresh after every costed turn, the aggregator recomputes its breakdown
// from the history store, and UI code observes the cached result.
package expense

import (
	"context"
	"sync"
	"time"

	"github.com/GoldenGlimmer/aichat/internal/history"
)

// DefaultWindowDays is how far back the breakdown looks by default.
const DefaultWindowDays = 30

// =============================================================================
// TYPES
// =============================================================================

// DailyCost is one day's spending.
type DailyCost struct {
	Date  time.Time
	Cost  float64
	Turns int
}

// Breakdown is the aggregated cost-over-time view.
type Breakdown struct {
	WindowDays int
	TotalCost  float64
	TotalTurns int
	Daily      []DailyCost
	ComputedAt time.Time
}

// CostSource is the slice of the history store the aggregator reads.
type CostSource interface {
	DailyCosts(ctx context.Context, days int) ([]history.DailyCost, error)
}

// =============================================================================
// AGGREGATOR
// =============================================================================

// Aggregator caches the latest cost breakdown and fans out change
// notifications to subscribers.
type Aggregator struct {
	source     CostSource
	windowDays int

	mu        sync.RWMutex
	breakdown Breakdown

	subMu   sync.Mutex
	subs    map[int]func()
	nextSub int
}

// New creates an aggregator over the given cost source.
func New(source CostSource) *Aggregator {
	return &Aggregator{
		source:     source,
		windowDays: DefaultWindowDays,
		subs:       make(map[int]func()),
	}
}

// WithWindow sets the look-back window in days.
func (a *Aggregator) WithWindow(days int) *Aggregator {
	if days > 0 {
		a.windowDays = days
	}
	return a
}

// Refresh recomputes the breakdown from the cost source.
// Subscribers are notified after the cached result is replaced.
func (a *Aggregator) Refresh(ctx context.Context) error {
	daily, err := a.source.DailyCosts(ctx, a.windowDays)
	if err != nil {
		return err
	}

	breakdown := Breakdown{
		WindowDays: a.windowDays,
		Daily:      make([]DailyCost, 0, len(daily)),
		ComputedAt: time.Now(),
	}
	for _, d := range daily {
		breakdown.Daily = append(breakdown.Daily, DailyCost{
			Date:  d.Date,
			Cost:  d.Cost,
			Turns: d.Turns,
		})
		breakdown.TotalCost += d.Cost
		breakdown.TotalTurns += d.Turns
	}

	a.mu.Lock()
	a.breakdown = breakdown
	a.mu.Unlock()

	a.notify()
	return nil
}

// Breakdown returns a copy of the latest computed breakdown.
func (a *Aggregator) Breakdown() Breakdown {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := a.breakdown
	out.Daily = make([]DailyCost, len(a.breakdown.Daily))
	copy(out.Daily, a.breakdown.Daily)
	return out
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// Subscribe registers a callback invoked after each refresh.
// The returned function removes the subscription.
func (a *Aggregator) Subscribe(fn func()) func() {
	a.subMu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	a.subMu.Unlock()

	return func() {
		a.subMu.Lock()
		delete(a.subs, id)
		a.subMu.Unlock()
	}
}

func (a *Aggregator) notify() {
	a.subMu.Lock()
	callbacks := make([]func(), 0, len(a.subs))
	for _, fn := range a.subs {
		callbacks = append(callbacks, fn)
	}
	a.subMu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}
