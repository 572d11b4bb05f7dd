// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tether Contributors

package ring_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tether-dev/tether/internal/ring"
)

func TestBufferEvictsOldest(t *testing.T) {
	b := ring.New[int](3)
	for i := 1; i <= 5; i++ {
		b.Push(i)
	}

	assert.Equal(t, 3, b.Len())
	assert.Equal(t, []int{3, 4, 5}, b.Items())

	latest, ok := b.Latest()
	require.True(t, ok)
	assert.Equal(t, 5, latest)
}

func TestBufferLast(t *testing.T) {
	b := ring.New[int](10)
	for i := 1; i <= 4; i++ {
		b.Push(i)
	}

	assert.Equal(t, []int{3, 4}, b.Last(2))
	assert.Equal(t, []int{1, 2, 3, 4}, b.Last(20))
}

func TestBufferEmpty(t *testing.T) {
	b := ring.New[string](0)
	assert.Equal(t, 1, b.Cap())

	_, ok := b.Latest()
	assert.False(t, ok)
	assert.Empty(t, b.Items())

	b.Push("a")
	b.Reset()
	assert.Equal(t, 0, b.Len())
}
