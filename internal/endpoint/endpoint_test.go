// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package endpoint_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tether-dev/tether/internal/endpoint"
	tetherr "github.com/tether-dev/tether/pkg/errors"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNewValidates(t *testing.T) {
	e, err := endpoint.New("ws://a:9222", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Weight())
	assert.True(t, e.Healthy())

	_, err = endpoint.New("ws://a:9222", -2)
	assert.True(t, tetherr.IsInvalidInput(err))

	_, err = endpoint.New("not a url", 1)
	assert.True(t, tetherr.IsInvalidInput(err))
}

func TestQuarantineAfterConsecutiveFailures(t *testing.T) {
	e, err := endpoint.New("ws://a", 1)
	require.NoError(t, err)

	for i := range 2 {
		e.Begin()
		assert.Equal(t, endpoint.Unchanged, e.End(false, 0, "boom", 3, time.Minute, t0.Add(time.Duration(i)*time.Second)))
	}
	e.Begin()
	assert.Equal(t, endpoint.Quarantined, e.End(false, 0, "boom", 3, time.Minute, t0.Add(2*time.Second)))

	assert.False(t, e.Healthy())
	assert.False(t, e.Available(t0.Add(30*time.Second)))
	assert.True(t, e.Available(t0.Add(63*time.Second)), "cooldown elapsed")

	snap := e.Snapshot(t0.Add(30 * time.Second))
	require.NotNil(t, snap.QuarantinedUntil)
	assert.Equal(t, t0.Add(62*time.Second), *snap.QuarantinedUntil)
	assert.Equal(t, 3, snap.ConsecutiveFailures)
	assert.Equal(t, "boom", snap.LastFailureReason)
	assert.Equal(t, int64(0), snap.Active)
}

func TestSuccessResetsFailureStreak(t *testing.T) {
	e, err := endpoint.New("ws://a", 1)
	require.NoError(t, err)

	e.End(false, 0, "x", 3, time.Minute, t0)
	e.End(false, 0, "x", 3, time.Minute, t0)
	e.End(true, 10*time.Millisecond, "", 3, time.Minute, t0)
	assert.Equal(t, 0, e.ConsecutiveFailures())

	assert.Equal(t, endpoint.Unchanged, e.End(false, 0, "x", 3, time.Minute, t0))
	assert.True(t, e.Healthy())
}

func TestSuccessAfterCooldownRecovers(t *testing.T) {
	e, err := endpoint.New("ws://a", 1)
	require.NoError(t, err)

	e.Begin()
	require.Equal(t, endpoint.Quarantined, e.End(false, 0, "boom", 1, time.Minute, t0))

	e.Begin()
	assert.Equal(t, endpoint.Unchanged, e.End(true, 0, "", 1, time.Minute, t0.Add(30*time.Second)),
		"a success inside the cooldown does not lift quarantine")
	assert.False(t, e.Healthy())

	e.Begin()
	assert.Equal(t, endpoint.Recovered, e.End(true, 0, "", 1, time.Minute, t0.Add(2*time.Minute)))
	assert.True(t, e.Healthy())

	snap := e.Snapshot(t0.Add(2 * time.Minute))
	assert.True(t, snap.Healthy)
	assert.Nil(t, snap.QuarantinedUntil)
	assert.Zero(t, snap.ConsecutiveFailures)

	e.Begin()
	assert.Equal(t, endpoint.Unchanged, e.End(true, 0, "", 1, time.Minute, t0.Add(3*time.Minute)))
}

func TestApplyIsLastWriteWins(t *testing.T) {
	e, err := endpoint.New("ws://a", 1)
	require.NoError(t, err)

	assert.True(t, e.Apply(false, "probe failed", t0.Add(2*time.Second)))
	assert.False(t, e.Apply(true, "", t0.Add(time.Second)), "older check is ignored")
	assert.False(t, e.Healthy())

	assert.True(t, e.Apply(true, "", t0.Add(3*time.Second)))
	assert.True(t, e.Healthy())
	assert.Nil(t, e.Snapshot(t0).QuarantinedUntil)
}

func TestLatencyAndSuccessRate(t *testing.T) {
	e, err := endpoint.New("ws://a", 1)
	require.NoError(t, err)

	e.End(true, 10*time.Millisecond, "", 0, 0, t0)
	e.End(true, 30*time.Millisecond, "", 0, 0, t0)
	e.End(false, 0, "x", 0, 0, t0)
	e.End(true, 0, "", 0, 0, t0)

	snap := e.Snapshot(t0)
	assert.Equal(t, 20*time.Millisecond, snap.AvgLatency)
	assert.InDelta(t, 0.75, snap.SuccessRate, 0.001)
	assert.True(t, snap.Healthy, "quarantine disabled when max failures is zero")
}
