package streamsplit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRingRejectsEmptyCapacity(t *testing.T) {
	t.Parallel()

	_, err := newRing(0)
	require.ErrorIs(t, err, ErrAllocation)
}

func TestRingDistance(t *testing.T) {
	t.Parallel()

	r, err := newRing(10)
	require.NoError(t, err)

	tests := []struct {
		from, to, want int
	}{
		{0, 0, 0},
		{0, 7, 7},
		{3, 9, 6},
		{7, 2, 5},
		{9, 0, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.distance(tt.from, tt.to), "distance(%d, %d)", tt.from, tt.to)
	}
}

func TestRingWrapAroundWriteAndRead(t *testing.T) {
	t.Parallel()

	r, err := newRing(10)
	require.NoError(t, err)

	r.write([]byte{1, 2, 3, 4, 5, 6, 7})
	assert.Equal(t, 7, r.tail)

	first := make([]byte, 7)
	r.readAt(0, first)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7}, first)

	// Crosses the end of the buffer: 3 bytes at the end, 3 at the start.
	r.write([]byte{8, 9, 10, 11, 12, 13})
	assert.Equal(t, 3, r.tail)

	second := make([]byte, 6)
	r.readAt(7, second)
	assert.Equal(t, []byte{8, 9, 10, 11, 12, 13}, second)
}

func TestRingWriteLongerThanCapacityKeepsNewest(t *testing.T) {
	t.Parallel()

	r, err := newRing(4)
	require.NoError(t, err)

	r.write([]byte{1, 2, 3, 4, 5, 6})
	assert.Equal(t, 0, r.tail)

	out := make([]byte, 4)
	r.readAt(0, out)
	assert.Equal(t, []byte{3, 4, 5, 6}, out)
}

func TestRingWithinSegment(t *testing.T) {
	t.Parallel()

	r, err := newRing(10)
	require.NoError(t, err)

	// Plain segment 2..6
	assert.True(t, r.withinSegment(2, 2, 6))
	assert.True(t, r.withinSegment(4, 2, 6))
	assert.True(t, r.withinSegment(6, 2, 6))
	assert.False(t, r.withinSegment(7, 2, 6))
	assert.False(t, r.withinSegment(1, 2, 6))

	// Wrapped segment 8..3
	assert.True(t, r.withinSegment(8, 8, 3))
	assert.True(t, r.withinSegment(9, 8, 3))
	assert.True(t, r.withinSegment(0, 8, 3))
	assert.True(t, r.withinSegment(3, 8, 3))
	assert.False(t, r.withinSegment(5, 8, 3))
}
