/*
This file contains the unit tests for the line solver. The distributed
runs spin a whole hive of drones inside the test process, one goroutine
per drone over localhost, and are checked against a plain serial sweep
of the same method.
*/
package poisson

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dashaylan/Honeycomb/swarm"
)

//runs body as every drone of an n-hive over localhost
func runHive(t *testing.T, n int, base int, body func(s *swarm.Swarm) error) {
	t.Helper()
	addrs := make([]string, n)
	swarms := make([]*swarm.Swarm, n)
	for r := 0; r < n; r++ {
		swarms[r] = swarm.New(uint8(r), uint8(n), base)
		require.NoError(t, swarms[r].Startup(""))
		swarms[r].SetRecvWait(10 * time.Second)
		addrs[r] = fmt.Sprintf("127.0.0.1:%d", base+r)
	}
	t.Cleanup(func() {
		for _, s := range swarms {
			s.Exit()
		}
	})

	var wg sync.WaitGroup
	errs := make([]error, n)
	for r := 0; r < n; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			if err := swarms[r].Connect(addrs); err != nil {
				errs[r] = err
				return
			}
			errs[r] = body(swarms[r])
		}(r)
	}
	wg.Wait()

	for r, err := range errs {
		require.NoError(t, err, "drone %d", r)
	}
}

//refLine runs the same method serially on the full grid and returns
//the interior values with the sweep count and the convergence verdict
func refLine(prob Problem1D, n int, set Settings) ([]float64, int, bool) {
	dx := (prob.B - prob.A) / float64(n+1)
	dx2 := dx * dx
	u := make([]float64, n+2)
	uold := make([]float64, n+2)
	f := make([]float64, n+2)
	for i := 1; i <= n; i++ {
		x := prob.A + float64(i)*dx
		f[i] = prob.F(x)
		u[i] = prob.Alpha + (x-prob.A)/(prob.B-prob.A)*(prob.Beta-prob.Alpha)
	}
	u[0] = prob.Alpha
	u[n+1] = prob.Beta

	du := math.Inf(1)
	sweeps := 0
	for s := 0; s < set.MaxSweeps; s++ {
		copy(uold, u)
		du = 0
		for i := 1; i <= n; i++ {
			u[i] = 0.5 * (uold[i-1] + uold[i+1] - dx2*f[i])
			du = math.Max(du, math.Abs(u[i]-uold[i]))
		}
		sweeps = s + 1
		if du < set.Tolerance {
			break
		}
	}
	return u[1 : n+1], sweeps, du < set.Tolerance
}

func TestLineSerialMatchesReference(t *testing.T) {
	prob := LineProblem()
	set := DefaultSettings1D(prob, 10)
	want, sweeps, ok := refLine(prob, 10, set)
	require.True(t, ok)

	runHive(t, 1, 7500, func(s *swarm.Swarm) error {
		res, err := Solve1D(s, prob, 10, set)
		if err != nil {
			return err
		}
		if res.Stats.Sweeps != sweeps {
			return fmt.Errorf("took %d sweeps, serial reference took %d", res.Stats.Sweeps, sweeps)
		}
		for i, u := range res.U {
			if u != want[i] {
				return fmt.Errorf("point %d is %v, serial reference says %v", i, u, want[i])
			}
		}
		return nil
	})
}

func TestLineDistributedMatchesSerial(t *testing.T) {
	prob := LineProblem()
	set := DefaultSettings1D(prob, 10)
	want, refSweeps, ok := refLine(prob, 10, set)
	require.True(t, ok)

	dir := t.TempDir()
	var mut sync.Mutex
	stats := make(map[uint8]Stats)
	runHive(t, 2, 7510, func(s *swarm.Swarm) error {
		res, err := Solve1D(s, prob, 10, set)
		if err != nil {
			return err
		}
		mut.Lock()
		stats[s.Rank()] = res.Stats
		mut.Unlock()
		return WriteLine(dir, prob, res)
	})

	//both drones converge on the same sweep with the same global delta
	require.Len(t, stats, 2)
	assert.Equal(t, stats[0], stats[1])
	assert.Equal(t, refSweeps, stats[0].Sweeps, "splitting the line changed the sweep count")

	xs, us, err := AssembleLine(dir, 2)
	require.NoError(t, err)
	require.Len(t, xs, 12, "assembled artifacts must cover boundaries plus 10 interior points")
	for i := 1; i < len(xs); i++ {
		assert.Greater(t, xs[i], xs[i-1], "artifact rows out of order at %d", i)
	}
	assert.InDelta(t, prob.A, xs[0], 1e-9)
	assert.InDelta(t, prob.Alpha, us[0], 1e-9)
	assert.InDelta(t, prob.B, xs[11], 1e-9)
	assert.InDelta(t, prob.Beta, us[11], 1e-9)
	for i, w := range want {
		assert.InDelta(t, w, us[i+1], 1e-5, "interior point %d drifted from the serial run", i)
	}
}

func TestLineZeroSweepCapReportsNonConvergence(t *testing.T) {
	prob := LineProblem()
	set := DefaultSettings1D(prob, 10)
	set.MaxSweeps = 0

	var reported int32
	var mut sync.Mutex
	runHive(t, 2, 7520, func(s *swarm.Swarm) error {
		res, err := Solve1D(s, prob, 10, set)
		if res != nil {
			return fmt.Errorf("drone %d produced a result with a zero sweep cap", s.Rank())
		}
		var nc *NotConverged
		if !errors.As(err, &nc) {
			return fmt.Errorf("drone %d: %v", s.Rank(), err)
		}
		if nc.Sweeps != 0 || !math.IsInf(nc.Delta, 1) {
			return fmt.Errorf("drone %d verdict %+v", s.Rank(), nc)
		}
		mut.Lock()
		reported++
		mut.Unlock()
		return nil
	})
	assert.Equal(t, int32(2), reported, "every drone must report the failed run")
}

func TestLineSweepCapHonored(t *testing.T) {
	prob := LineProblem()
	set := DefaultSettings1D(prob, 10)
	set.MaxSweeps = 3

	runHive(t, 1, 7530, func(s *swarm.Swarm) error {
		_, err := Solve1D(s, prob, 10, set)
		var nc *NotConverged
		if !errors.As(err, &nc) {
			return fmt.Errorf("want a non-convergence verdict, got %v", err)
		}
		if nc.Sweeps != 3 {
			return fmt.Errorf("cap of 3 ran %d sweeps", nc.Sweeps)
		}
		if math.IsInf(nc.Delta, 1) || nc.Delta <= 0 {
			return fmt.Errorf("delta after 3 sweeps is %v", nc.Delta)
		}
		return nil
	})
}

func TestLineDegenerateSplitRefused(t *testing.T) {
	prob := LineProblem()
	set := DefaultSettings1D(prob, 2)

	//three drones cannot split two points; every drone must refuse
	//before any traffic, so no hive is needed
	for r := 0; r < 3; r++ {
		s := swarm.New(uint8(r), 3, 7540)
		_, err := Solve1D(s, prob, 2, set)
		var dp *DegeneratePartition
		require.True(t, errors.As(err, &dp), "rank %d: %v", r, err)
	}
}

func TestLineDeltaOrderInvariance(t *testing.T) {
	prob := LineProblem()
	part, err := NewPartition(10, 1, 0)
	require.NoError(t, err)
	b := newBlock1D(prob, part, 10)
	b.snapshot()
	fwd := b.relax()

	//the same sweep replayed backwards over the snapshot
	dx2 := b.dx * b.dx
	rev := 0.0
	for i := part.Count(); i >= 1; i-- {
		v := 0.5 * (b.uold[i-1] + b.uold[i+1] - dx2*b.f[i])
		rev = math.Max(rev, math.Abs(v-b.uold[i]))
	}
	assert.Equal(t, fwd, rev, "visitation order leaked into the delta")
}

func TestLineRunFinishesEveryDrone(t *testing.T) {
	prob := LineProblem()
	set := DefaultSettings1D(prob, 10)
	dir := t.TempDir()

	//each drone runs the whole lifecycle including its own teardown; the
	//first drone out must not strand a neighbor still in the protocol
	runHive(t, 2, 7580, func(s *swarm.Swarm) error {
		res, err := Solve1D(s, prob, 10, set)
		if err != nil {
			return err
		}
		if err := s.Barrier(0); err != nil {
			return err
		}
		if err := WriteLine(dir, prob, res); err != nil {
			return err
		}
		s.Exit()
		return nil
	})

	xs, _, err := AssembleLine(dir, 2)
	require.NoError(t, err)
	require.Len(t, xs, 12, "every drone must deliver its artifact")
}
