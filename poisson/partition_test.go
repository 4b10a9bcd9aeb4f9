/*
This file contains the unit tests for the block layout every drone
derives locally from the grid size and the hive size.
*/
package poisson

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionCoversEveryPoint(t *testing.T) {
	cases := []struct{ n, p int }{
		{1, 1},
		{10, 1},
		{10, 2},
		{10, 5},
		{12, 4},
		{20, 3},
		{7, 3},
		{65536, 7},
	}
	for _, c := range cases {
		next := 0
		total := 0
		for r := 0; r < c.p; r++ {
			pt, err := NewPartition(c.n, c.p, r)
			require.NoError(t, err, "n=%d p=%d rank=%d", c.n, c.p, r)
			assert.Equal(t, next, pt.Lo, "n=%d p=%d rank=%d leaves a gap", c.n, c.p, r)
			assert.Greater(t, pt.Count(), 0, "n=%d p=%d rank=%d owns nothing", c.n, c.p, r)
			next = pt.Hi
			total += pt.Count()
		}
		assert.Equal(t, c.n, total, "n=%d p=%d blocks do not cover the domain", c.n, c.p)
		assert.Equal(t, c.n, next, "n=%d p=%d blocks overrun the domain", c.n, c.p)
	}
}

func TestPartitionTenPointsTwoDrones(t *testing.T) {
	lo, err := NewPartition(10, 2, 0)
	require.NoError(t, err)
	hi, err := NewPartition(10, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, lo.Lo)
	assert.Equal(t, 5, lo.Hi)
	assert.Equal(t, 5, hi.Lo)
	assert.Equal(t, 10, hi.Hi)
}

func TestPartitionBoundaryOwnership(t *testing.T) {
	for r := 0; r < 4; r++ {
		pt, err := NewPartition(12, 4, r)
		require.NoError(t, err)
		assert.Equal(t, r == 0, pt.OwnsLow(), "rank %d", r)
		assert.Equal(t, r == 3, pt.OwnsHigh(), "rank %d", r)
		assert.Equal(t, r > 0, pt.HasLower(), "rank %d", r)
		assert.Equal(t, r < 3, pt.HasUpper(), "rank %d", r)
	}

	//a hive of one owns both ends and has no neighbors
	pt, err := NewPartition(10, 1, 0)
	require.NoError(t, err)
	assert.True(t, pt.OwnsLow())
	assert.True(t, pt.OwnsHigh())
	assert.False(t, pt.HasLower())
	assert.False(t, pt.HasUpper())
}

func TestPartitionRejectsDegenerateSplits(t *testing.T) {
	cases := []struct{ n, p int }{
		{10, 7},
		{2, 3},
		{1, 2},
		{5, 4},
	}
	for _, c := range cases {
		for r := 0; r < c.p; r++ {
			_, err := NewPartition(c.n, c.p, r)
			var dp *DegeneratePartition
			require.Error(t, err, "n=%d p=%d rank=%d", c.n, c.p, r)
			require.True(t, errors.As(err, &dp), "n=%d p=%d: %v", c.n, c.p, err)
			assert.Equal(t, c.n, dp.N)
			assert.Equal(t, c.p, dp.P)
		}
	}

	//one point per drone is the tightest split that still works
	for r := 0; r < 3; r++ {
		pt, err := NewPartition(3, 3, r)
		require.NoError(t, err)
		assert.Equal(t, 1, pt.Count())
	}
}

func TestPartitionRejectsBadRequests(t *testing.T) {
	cases := []struct{ n, p, rank int }{
		{0, 1, 0},
		{10, 0, 0},
		{10, 2, 2},
		{10, 2, -1},
	}
	for _, c := range cases {
		_, err := NewPartition(c.n, c.p, c.rank)
		assert.Error(t, err, "n=%d p=%d rank=%d", c.n, c.p, c.rank)
	}
}
