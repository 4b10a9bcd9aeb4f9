/*
Package poisson implements a distributed Jacobi solver for the Poisson
equation on a line and on a plane.

The grid never exists in one place. Each drone owns a contiguous block
of interior points padded with one ghost layer per shared border. A
sweep snapshots the current iterate, trades the outermost owned values
with the neighboring drones, relaxes every owned point from the
snapshot, and then agrees with the rest of the hive on the largest
change anywhere before deciding to stop.
*/
package poisson

import "fmt"

// Partition is one drone's contiguous share of the N interior points.
// The indices are global and 0-based; Lo is owned, Hi is not.
type Partition struct {
	Rank int
	Size int
	Lo   int
	Hi   int
}

// NewPartition splits n interior points across p drones and returns the
// share of the given rank. Every drone derives the identical layout
// from the same n and p, so no messages are spent agreeing on it. Each
// drone takes ceil(n/p) points in rank order with the last one
// absorbing the shortfall; a split that would leave any drone with an
// empty block is refused outright instead of letting that drone idle
// into the collective calls.
func NewPartition(n, p, rank int) (Partition, error) {
	if n < 1 || p < 1 || rank < 0 || rank >= p {
		return Partition{}, fmt.Errorf("Poisson: bad partition request n=[%d] p=[%d] rank=[%d]", n, p, rank)
	}
	per := (n + p - 1) / p
	if (p-1)*per >= n {
		return Partition{}, &DegeneratePartition{N: n, P: p}
	}
	lo := rank * per
	hi := lo + per
	if hi > n {
		hi = n
	}
	return Partition{Rank: rank, Size: p, Lo: lo, Hi: hi}, nil
}

// Count returns the number of points this drone owns.
func (pt Partition) Count() int {
	return pt.Hi - pt.Lo
}

// OwnsLow reports whether this drone's block touches the low physical
// boundary of the domain.
func (pt Partition) OwnsLow() bool {
	return pt.Rank == 0
}

// OwnsHigh reports whether this drone's block touches the high physical
// boundary of the domain.
func (pt Partition) OwnsHigh() bool {
	return pt.Rank == pt.Size-1
}

// HasLower reports whether a neighbor drone owns the points below Lo.
func (pt Partition) HasLower() bool {
	return pt.Rank > 0
}

// HasUpper reports whether a neighbor drone owns the points from Hi up.
func (pt Partition) HasUpper() bool {
	return pt.Rank < pt.Size-1
}
