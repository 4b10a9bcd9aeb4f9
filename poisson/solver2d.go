/*
This file implements the plane solver. The square is cut into
horizontal bands of rows, one band per drone, and whole ghost rows
travel between neighbors each sweep. The row relaxation itself fans
out over the local cores, with each band of rows reducing its own
largest change.
*/
package poisson

import (
	"fmt"
	"math"

	"github.com/dashaylan/Honeycomb/swarm"
	"github.com/exascience/pargo/parallel"
	"gonum.org/v1/gonum/mat"
)

// block2d is one drone's band of the plane, Count()+2 rows by nx+2
// columns. Row 0 and Count()+1 are the ghost rows; columns 0 and nx+1
// hold the side boundaries on every row. The edge drones keep the
// bottom and top boundary profiles in their outer ghost row.
type block2d struct {
	part Partition
	nx   int
	dx   float64
	u    *mat.Dense
	uold *mat.Dense
	f    *mat.Dense
}

func newBlock2D(prob Problem2D, part Partition, nx int) *block2d {
	rows, cols := part.Count()+2, nx+2
	b := &block2d{
		part: part,
		nx:   nx,
		dx:   math.Pi / float64(nx+1),
		u:    mat.NewDense(rows, cols, nil),
		uold: mat.NewDense(rows, cols, nil),
		f:    mat.NewDense(rows, cols, nil),
	}
	for j := 0; j < rows; j++ {
		y := b.y(j)
		urow := b.u.RawRowView(j)
		frow := b.f.RawRowView(j)
		for i := 0; i < cols; i++ {
			frow[i] = prob.F(float64(i)*b.dx, y)
			urow[i] = prob.Guess
		}
		urow[0] = 0
		urow[cols-1] = 0
	}
	if part.OwnsLow() {
		row := b.u.RawRowView(0)
		for i := 0; i < cols; i++ {
			row[i] = prob.Bottom(float64(i) * b.dx)
		}
	}
	if part.OwnsHigh() {
		row := b.u.RawRowView(rows - 1)
		for i := 0; i < cols; i++ {
			row[i] = prob.Top(float64(i) * b.dx)
		}
	}
	return b
}

// y maps a local row index to its physical coordinate. Local row j
// holds global interior row Lo+j-1, and interior row g sits at
// (g+1)*dx; the spacing is the same in both directions.
func (b *block2d) y(j int) float64 {
	return float64(b.part.Lo+j) * b.dx
}

// snapshot freezes the current iterate, ghost rows included, fanned out
// over the band the same way the relaxation is.
func (b *block2d) snapshot() {
	parallel.Range(0, b.part.Count()+2, 0, func(low, high int) {
		for j := low; j < high; j++ {
			copy(b.uold.RawRowView(j), b.u.RawRowView(j))
		}
	})
}

// exchange trades whole rows with the neighbor drones so the ghost
// rows hold the neighbors' outermost rows from the snapshot. As on the
// line, both sends are posted before either receive and the receives
// complete upper neighbor first. Each row travels in its own frame, so
// the two directions never share a buffer.
func (b *block2d) exchange(sw *swarm.Swarm, sweep int) error {
	r := b.part.Rank
	count := b.part.Count()
	if b.part.HasLower() {
		if err := sw.SendEdge(uint8(r-1), swarm.EDGELEFT, sweep, b.uold.RawRowView(1)); err != nil {
			return err
		}
	}
	if b.part.HasUpper() {
		if err := sw.SendEdge(uint8(r+1), swarm.EDGERIGHT, sweep, b.uold.RawRowView(count)); err != nil {
			return err
		}
	}
	if b.part.HasUpper() {
		vals, err := sw.RecvEdge(uint8(r+1), swarm.EDGELEFT, sweep)
		if err != nil {
			return err
		}
		if len(vals) != b.nx+2 {
			return fmt.Errorf("Poisson: ghost row from drone [%d] has [%d] points, want [%d]", r+1, len(vals), b.nx+2)
		}
		copy(b.uold.RawRowView(count+1), vals)
	}
	if b.part.HasLower() {
		vals, err := sw.RecvEdge(uint8(r-1), swarm.EDGERIGHT, sweep)
		if err != nil {
			return err
		}
		if len(vals) != b.nx+2 {
			return fmt.Errorf("Poisson: ghost row from drone [%d] has [%d] points, want [%d]", r-1, len(vals), b.nx+2)
		}
		copy(b.uold.RawRowView(0), vals)
	}
	return nil
}

// relax applies one Jacobi sweep over the owned rows in parallel and
// returns the largest absolute change on this drone. Rows only ever
// read the snapshot and write their own slots, so the bands are free
// to run in any interleaving, and the max-fold gives the same delta
// for every split.
func (b *block2d) relax() float64 {
	dx2 := b.dx * b.dx
	return parallel.RangeReduceFloat64(1, b.part.Count()+1, 0,
		func(low, high int) (du float64) {
			for j := low; j < high; j++ {
				cur := b.u.RawRowView(j)
				mid := b.uold.RawRowView(j)
				below := b.uold.RawRowView(j - 1)
				above := b.uold.RawRowView(j + 1)
				frow := b.f.RawRowView(j)
				for i := 1; i <= b.nx; i++ {
					v := 0.25 * (mid[i-1] + mid[i+1] + below[i] + above[i] - dx2*frow[i])
					du = math.Max(du, math.Abs(v-mid[i]))
					cur[i] = v
				}
			}
			return du
		},
		math.Max)
}

// Result2D is the solved band a drone hands back. Rows holds the owned
// rows bottom to top, each spanning the full x extent including the
// two side boundary values, and Y holds the matching coordinates.
type Result2D struct {
	Y     []float64
	Rows  [][]float64
	Part  Partition
	Stats Stats
}

// Solve2D runs distributed Jacobi over the plane problem on an n by n
// interior grid. Every drone of the hive must call it with the same
// problem, n and settings. A hive of one is refused: the band cut is
// the whole point of the plane solver, and a lone drone would only
// masquerade as a serial run.
func Solve2D(sw *swarm.Swarm, prob Problem2D, n int, set Settings) (*Result2D, error) {
	if sw.Size() < 2 {
		return nil, &TooFewDrones{P: int(sw.Size())}
	}
	part, err := NewPartition(n, int(sw.Size()), int(sw.Rank()))
	if err != nil {
		return nil, err
	}
	b := newBlock2D(prob, part, n)
	sw.LogInfo("Rank %d owns rows [%d, %d)", part.Rank, part.Lo, part.Hi)

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

	res := &Result2D{
		Y:     make([]float64, 0, part.Count()),
		Rows:  make([][]float64, 0, part.Count()),
		Part:  part,
		Stats: Stats{Sweeps: sweeps, Delta: duMax},
	}
	for j := 1; j <= part.Count(); j++ {
		row := make([]float64, n+2)
		copy(row, b.u.RawRowView(j))
		res.Y = append(res.Y, b.y(j))
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}
