/*
This file describes the two problem instances the solvers accept and
the knobs controlling a run. The instances are plain value types so
the tests can swap in their own right-hand sides and boundary data.
*/
package poisson

import "math"

// Problem1D describes u'' = f on [A,B] with u(A)=Alpha and u(B)=Beta.
type Problem1D struct {
	A, B  float64
	Alpha float64
	Beta  float64
	F     func(x float64) float64
}

// LineProblem returns the canonical line instance, u'' = e^x on [0,1]
// with u(0)=0 and u(1)=3. The first iterate is the straight line
// between the boundary values.
func LineProblem() Problem1D {
	return Problem1D{A: 0, B: 1, Alpha: 0, Beta: 3, F: math.Exp}
}

// Problem2D describes u_xx + u_yy = f on the square [0,pi]^2. The
// bottom and top edges carry Dirichlet profiles in x, the two sides
// are held at zero, and Guess fills every interior point of the first
// iterate.
type Problem2D struct {
	Bottom func(x float64) float64
	Top    func(x float64) float64
	F      func(x, y float64) float64
	Guess  float64
}

// PlaneProblem returns the canonical plane instance, f = -20 sin(x)
// cos(3y) with u(x,0) = 2 sin(x), u(x,pi) = -2 sin(x) and an initial
// guess of -20 everywhere.
func PlaneProblem() Problem2D {
	return Problem2D{
		Bottom: func(x float64) float64 { return 2 * math.Sin(x) },
		Top:    func(x float64) float64 { return -2 * math.Sin(x) },
		F:      func(x, y float64) float64 { return -20 * math.Sin(x) * math.Cos(3*y) },
		Guess:  -20,
	}
}

// Run limits shared by both solvers.
const (
	MaxSweeps1D      = 10000
	MaxSweeps2D      = 1 << 16
	ProgressInterval = 1000
)

// Settings control a solve. The solvers honor the fields exactly as
// given, including a zero sweep cap, so build them through the
// DefaultSettings helpers and override from there.
type Settings struct {
	Tolerance float64
	MaxSweeps int
	Progress  int
}

// DefaultSettings1D derives the canonical line settings for a grid of
// n interior points: tolerance one tenth of the squared spacing and
// the standard sweep cap.
func DefaultSettings1D(prob Problem1D, n int) Settings {
	dx := (prob.B - prob.A) / float64(n+1)
	return Settings{Tolerance: 0.1 * dx * dx, MaxSweeps: MaxSweeps1D, Progress: ProgressInterval}
}

// DefaultSettings2D derives the canonical plane settings for a grid of
// n interior points per side.
func DefaultSettings2D(n int) Settings {
	dx := math.Pi / float64(n+1)
	return Settings{Tolerance: 0.1 * dx * dx, MaxSweeps: MaxSweeps2D, Progress: ProgressInterval}
}

// Stats describe how a solve went on the drone reporting them. The
// delta is the hive-wide maximum of the final sweep, so every drone
// reports the same value.
type Stats struct {
	Sweeps int
	Delta  float64
}
