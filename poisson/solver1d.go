/*
This file implements the line solver. Each drone relaxes its block of
the interval with the Jacobi update and trades single boundary points
with its neighbors between sweeps.
*/
package poisson

import (
	"fmt"
	"math"

	"github.com/dashaylan/Honeycomb/swarm"
)

// block1d is one drone's share of the line. Local index 0 and
// Count()+1 are the ghost slots; the owned points sit at 1..Count().
// On the edge drones the outer ghost slot holds the physical boundary
// value and is never written again.
type block1d struct {
	part Partition
	a    float64
	dx   float64
	u    []float64
	uold []float64
	f    []float64
}

func newBlock1D(prob Problem1D, part Partition, n int) *block1d {
	b := &block1d{
		part: part,
		a:    prob.A,
		dx:   (prob.B - prob.A) / float64(n+1),
		u:    make([]float64, part.Count()+2),
		uold: make([]float64, part.Count()+2),
		f:    make([]float64, part.Count()+2),
	}
	for i := 1; i <= part.Count(); i++ {
		x := b.x(i)
		b.f[i] = prob.F(x)
		b.u[i] = prob.Alpha + (x-prob.A)/(prob.B-prob.A)*(prob.Beta-prob.Alpha)
	}
	if part.OwnsLow() {
		b.u[0] = prob.Alpha
	}
	if part.OwnsHigh() {
		b.u[part.Count()+1] = prob.Beta
	}
	return b
}

// x maps a local index to its physical coordinate. Local index i holds
// global interior point Lo+i-1, and interior point g sits at
// A+(g+1)*dx.
func (b *block1d) x(i int) float64 {
	return b.a + float64(b.part.Lo+i)*b.dx
}

// snapshot freezes the current iterate as the previous sweep. The
// relaxation reads only the snapshot, so the update stays a true
// Jacobi sweep whatever order the points are visited in.
func (b *block1d) snapshot() {
	copy(b.uold, b.u)
}

// exchange trades boundary points with the neighbor drones so the
// ghost slots hold the neighbors' outermost values from the snapshot.
// Both sends are posted before either receive, and the receives then
// complete in a fixed order with the upper neighbor first. Every
// transfer carries the sweep number so a drone that drifts out of step
// fails loudly instead of relaxing against stale data.
func (b *block1d) exchange(sw *swarm.Swarm, sweep int) error {
	r := b.part.Rank
	n := b.part.Count()
	if b.part.HasLower() {
		if err := sw.SendEdge(uint8(r-1), swarm.EDGELEFT, sweep, b.uold[1:2]); err != nil {
			return err
		}
	}
	if b.part.HasUpper() {
		if err := sw.SendEdge(uint8(r+1), swarm.EDGERIGHT, sweep, b.uold[n:n+1]); err != nil {
			return err
		}
	}
	if b.part.HasUpper() {
		vals, err := sw.RecvEdge(uint8(r+1), swarm.EDGELEFT, sweep)
		if err != nil {
			return err
		}
		if len(vals) != 1 {
			return fmt.Errorf("Poisson: edge from drone [%d] has [%d] points, want 1", r+1, len(vals))
		}
		b.uold[n+1] = vals[0]
	}
	if b.part.HasLower() {
		vals, err := sw.RecvEdge(uint8(r-1), swarm.EDGERIGHT, sweep)
		if err != nil {
			return err
		}
		if len(vals) != 1 {
			return fmt.Errorf("Poisson: edge from drone [%d] has [%d] points, want 1", r-1, len(vals))
		}
		b.uold[0] = vals[0]
	}
	return nil
}

// relax applies one Jacobi sweep over the owned points and returns the
// largest absolute change on this drone.
func (b *block1d) relax() float64 {
	dx2 := b.dx * b.dx
	du := 0.0
	for i := 1; i <= b.part.Count(); i++ {
		b.u[i] = 0.5 * (b.uold[i-1] + b.uold[i+1] - dx2*b.f[i])
		du = math.Max(du, math.Abs(b.u[i]-b.uold[i]))
	}
	return du
}

// Result1D is the solved block a drone hands back, owned points only.
type Result1D struct {
	X     []float64
	U     []float64
	Part  Partition
	Stats Stats
}

// Solve1D runs distributed Jacobi over the line problem on n interior
// points until the hive agrees the largest per-sweep change fell below
// tolerance, or the sweep cap runs out. Every drone of the hive must
// call it with the same problem, n and settings. On a hive of one the
// solve degenerates to the serial method and produces the same values
// sweep for sweep.
func Solve1D(sw *swarm.Swarm, prob Problem1D, n int, set Settings) (*Result1D, error) {
	part, err := NewPartition(n, int(sw.Size()), int(sw.Rank()))
	if err != nil {
		return nil, err
	}
	b := newBlock1D(prob, part, n)
	sw.LogInfo("Rank %d owns points [%d, %d)", part.Rank, part.Lo, part.Hi)

	duMax := math.Inf(1)
	sweeps := 0
	for sweep := 0; sweep < set.MaxSweeps; sweep++ {
		b.snapshot()
		if err := b.exchange(sw, sweep); err != nil {
			return nil, err
		}
		local := b.relax()
		duMax, err = sw.AllReduceMax(local)
		if err != nil {
			return nil, err
		}
		sweeps = sweep + 1
		if set.Progress > 0 && sweep%set.Progress == 0 && sw.Rank() == 0 {
			sw.LogInfo("After %d iterations, du_max = %f", sweep, duMax)
		}
		if duMax < set.Tolerance {
			break
		}
	}
	sw.LogInfo("Rank %d finished after %d iterations, du_max = %f", sw.Rank(), sweeps, duMax)
	if !(duMax < set.Tolerance) {
		return nil, &NotConverged{Sweeps: sweeps, Delta: duMax, Tolerance: set.Tolerance}
	}

	res := &Result1D{
		X:     make([]float64, 0, part.Count()),
		U:     make([]float64, 0, part.Count()),
		Part:  part,
		Stats: Stats{Sweeps: sweeps, Delta: duMax},
	}
	for i := 1; i <= part.Count(); i++ {
		res.X = append(res.X, b.x(i))
		res.U = append(res.U, b.u[i])
	}
	return res, nil
}
