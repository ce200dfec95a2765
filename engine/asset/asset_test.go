// Copyright 2024 Gustavo C. Viegas. All rights reserved.

package asset

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ferrum3d/core/internal/wait"
)

func TestStatusString(t *testing.T) {
	require.Equal(t, "HeaderLoaded", HeaderLoaded.String())
	require.Equal(t, "CompletelyLoaded", CompletelyLoaded.String())
	require.Equal(t, "!asset.Status", Status(99).String())
}

func TestStatusBox(t *testing.T) {
	var b statusBox
	require.Equal(t, Uninitialized, b.load())
	b.store(HeaderLoaded)
	require.Equal(t, HeaderLoaded, b.load())
}

func TestMaskLockCompletesOnLastBit(t *testing.T) {
	var m maskLock
	m.n = 3
	require.False(t, m.setBit(0, 3))
	require.False(t, m.setBit(1, 3))
	require.True(t, m.setBit(2, 3))
}

func TestMaskLockIdempotent(t *testing.T) {
	var m maskLock
	m.n = 1
	require.True(t, m.setBit(0, 1))
	// Setting the same bit again must not double-count.
	require.True(t, m.setBit(0, 1))
}

func TestFailSignalsAndMarksStatus(t *testing.T) {
	g := wait.New(1)
	var b statusBox
	fail(g, &b)
	require.True(t, g.Signaled())
	require.True(t, g.Failed())
	require.Equal(t, Failed, b.load())
}

func TestMarkCompleteSignalsAndMarksStatus(t *testing.T) {
	g := wait.New(1)
	var b statusBox
	track(g, &b)
	markComplete(g, &b, CompletelyLoaded)
	require.True(t, g.Signaled())
	require.False(t, g.Failed())
	require.Equal(t, CompletelyLoaded, b.load())

	outstandingMu.Lock()
	_, stillTracked := outstanding[g]
	outstandingMu.Unlock()
	require.False(t, stillTracked)
}

func TestFailOutstandingFailsOnlyTrackedRequests(t *testing.T) {
	g1, g2 := wait.New(1), wait.New(1)
	var b1, b2 statusBox
	track(g1, &b1)
	track(g2, &b2)
	markComplete(g2, &b2, CompletelyLoaded) // g2 reaches a terminal status before the sweep

	FailOutstanding()

	require.True(t, g1.Failed())
	require.Equal(t, Failed, b1.load())
	require.False(t, g2.Failed())
	require.Equal(t, CompletelyLoaded, b2.load())
}
