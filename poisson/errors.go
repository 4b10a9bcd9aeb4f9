/*
This file contains the error values a solve can surface. Every fatal
condition of a run maps to one of these so the drones can exit with a
verdict callers tell apart from success.
*/
package poisson

import "fmt"

////////////////////////////////////////////////////////////////////////////////////////////
// <ERROR DEFINITIONS>

// These type definitions allow the application to explicitly check
// for the kind of error that occurred. Every drone of a hive observes
// the same verdict for a run, since the values deciding these are
// shared by the convergence reduction before anyone acts on them.

// NotConverged reports a run that exhausted its sweep cap while the
// largest per-sweep change still sat above tolerance.
type NotConverged struct {
	Sweeps    int
	Delta     float64
	Tolerance float64
}

func (e *NotConverged) Error() string {
	return fmt.Sprintf("Poisson: no convergence after [%d] sweeps, du_max [%g] over tolerance [%g]", e.Sweeps, e.Delta, e.Tolerance)
}

// DegeneratePartition reports a split that would leave some drone
// without any points to own.
type DegeneratePartition struct {
	N, P int
}

func (e *DegeneratePartition) Error() string {
	return fmt.Sprintf("Poisson: cannot split [%d] points across [%d] drones without an empty block", e.N, e.P)
}

// TooFewDrones reports a plane solve attempted without a hive to
// decompose over.
type TooFewDrones struct {
	P int
}

func (e *TooFewDrones) Error() string {
	return fmt.Sprintf("Poisson: the plane solver needs at least two drones, got [%d]", e.P)
}

// </ERROR DEFINITIONS>
////////////////////////////////////////////////////////////////////////////////////////////
