// Copyright (c) 2025 GoldenGlimmer
// SPDX-License-Identifier: AGPL-3.0-or-later

package analytics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTracker_Accumulates(t *testing.T) {
	tracker := NewTracker()

	tracker.Record(Turn{
		ModelID: "a/model", Duration: 2 * time.Second,
		PromptChars: 20, Tokens: 100, Cost: 0.10,
	})
	tracker.Record(Turn{
		ModelID: "a/model", Duration: 4 * time.Second,
		PromptChars: 30, Tokens: 50, Cost: 0.03, Failed: true,
	})

	s := tracker.Snapshot()
	assert.Equal(t, 2, s.Turns)
	assert.Equal(t, 1, s.FailedTurns)
	assert.EqualValues(t, 150, s.TotalTokens)
	assert.InDelta(t, 0.13, s.TotalCost, 1e-9)
	assert.EqualValues(t, 50, s.PromptChars)
	assert.Equal(t, 3*time.Second, s.AvgDuration())
}

func TestTracker_Reset(t *testing.T) {
	tracker := NewTracker()
	tracker.Record(Turn{Tokens: 10, Cost: 0.01})
	tracker.Reset()

	s := tracker.Snapshot()
	assert.Zero(t, s.Turns)
	assert.Zero(t, s.TotalTokens)
	assert.Zero(t, s.TotalCost)
	assert.Zero(t, s.AvgDuration())
}

func TestTracker_ConcurrentRecord(t *testing.T) {
	tracker := NewTracker()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.Record(Turn{Tokens: 2, Cost: 0.001})
		}()
	}
	wg.Wait()

	s := tracker.Snapshot()
	assert.Equal(t, 50, s.Turns)
	assert.EqualValues(t, 100, s.TotalTokens)
	assert.InDelta(t, 0.05, s.TotalCost, 1e-9)
}
