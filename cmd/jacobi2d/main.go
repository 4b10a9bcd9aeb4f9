/*
* Drone binary for the distributed Jacobi solver on the plane:
*
*   u_xx + u_yy = -20 sin(x) cos(3y) on [0,pi]^2,
*   u(x,0) = 2 sin(x), u(x,pi) = -2 sin(x), sides held at zero.
*
* The square is cut into one band of rows per drone, so a hive of one
* is refused before any socket opens. Each drone writes its band to
* jacobi_<rank>.txt, bottom row first.
*
* Exit codes: 0 converged, 1 ran out of sweeps, 2 configuration or
* communication fault.
 */

package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/dashaylan/Honeycomb/configs"
	"github.com/dashaylan/Honeycomb/poisson"
	"github.com/dashaylan/Honeycomb/swarm"
)

const (
	exitConverged   = 0
	exitNoConverge  = 1
	exitConfigFault = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		rank   = flag.Int("rank", 0, "this drone's rank")
		hive   = flag.Int("hive", 2, "hive size when no config file is given")
		port   = flag.Int("port", 6000, "base port, drone r listens on port+r")
		conf   = flag.String("conf", "", "hive configuration file")
		points = flag.Int("n", 20, "interior grid points per side")
		sweeps = flag.Int("sweeps", 0, "sweep cap override, 0 keeps the default")
		debug  = flag.Int("debug", 0, "log level 0..4")
		gvec   = flag.Bool("gvec", false, "write vector clock traces")
		out    = flag.String("out", ".", "artifact directory")
	)
	flag.Parse()

	cfg := configs.Config{
		Cluster: configs.LocalCluster(*hive, *port),
		Run: configs.RunConfig{
			Points:    *points,
			MaxSweeps: *sweeps,
			Debug:     *debug,
			GoVec:     *gvec,
			OutDir:    *out,
		},
	}
	if *conf != "" {
		var err error
		cfg, err = configs.ReadConfig(*conf)
		if err != nil {
			fmt.Fprintln(os.Stderr, "jacobi2d:", err)
			return exitConfigFault
		}
		//flags given explicitly still win over the file
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "n":
				cfg.Run.Points = *points
			case "sweeps":
				cfg.Run.MaxSweeps = *sweeps
			case "debug":
				cfg.Run.Debug = *debug
			case "gvec":
				cfg.Run.GoVec = *gvec
			case "out":
				cfg.Run.OutDir = *out
			}
		})
	}
	if cfg.Run.OutDir == "" {
		cfg.Run.OutDir = "."
	}
	if cfg.Run.Points < 1 {
		cfg.Run.Points = 20
	}
	if err := cfg.Cluster.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "jacobi2d:", err)
		return exitConfigFault
	}
	nrProc := len(cfg.Cluster.Drones)
	if *rank < 0 || *rank >= nrProc {
		fmt.Fprintf(os.Stderr, "jacobi2d: rank %d outside hive of %d\n", *rank, nrProc)
		return exitConfigFault
	}

	//refuse the degenerate hives before any socket opens
	if nrProc < 2 {
		fmt.Fprintln(os.Stderr, "jacobi2d:", &poisson.TooFewDrones{P: nrProc})
		return exitConfigFault
	}
	n := cfg.Run.Points
	if _, err := poisson.NewPartition(n, nrProc, *rank); err != nil {
		fmt.Fprintln(os.Stderr, "jacobi2d:", err)
		return exitConfigFault
	}

	prob := poisson.PlaneProblem()

	s := swarm.New(uint8(*rank), uint8(nrProc), cfg.Cluster.BasePort)
	s.SetDebug(cfg.Run.Debug)
	go swarm.DumpLog()

	trace := ""
	if cfg.Run.GoVec {
		trace = "jacobi2d"
	}
	if err := s.Startup(trace); err != nil {
		fmt.Fprintln(os.Stderr, "jacobi2d:", err)
		return exitConfigFault
	}
	defer s.Exit()
	if err := s.Connect(cfg.Cluster.Addresses()); err != nil {
		fmt.Fprintln(os.Stderr, "jacobi2d:", err)
		return exitConfigFault
	}

	set := poisson.DefaultSettings2D(n)
	if cfg.Run.MaxSweeps > 0 {
		set.MaxSweeps = cfg.Run.MaxSweeps
	}

	res, err := poisson.Solve2D(s, prob, n, set)
	if err != nil {
		var nc *poisson.NotConverged
		if errors.As(err, &nc) {
			if s.Rank() == 0 {
				fmt.Println("*** Jacobi failed to converge!")
				fmt.Printf("***   Reached du_max = %f\n", nc.Delta)
				fmt.Printf("***   Tolerance = %f\n", nc.Tolerance)
			}
			return exitNoConverge
		}
		fmt.Fprintf(os.Stderr, "jacobi2d: drone %d: %v\n", s.Rank(), err)
		return exitConfigFault
	}

	//synchronize before output so nobody tears the fabric down while
	//a neighbor is still finishing its last sweep
	if err := s.Barrier(0); err != nil {
		fmt.Fprintf(os.Stderr, "jacobi2d: drone %d: %v\n", s.Rank(), err)
		return exitConfigFault
	}
	if err := poisson.WritePlane(cfg.Run.OutDir, prob, n, res); err != nil {
		fmt.Fprintf(os.Stderr, "jacobi2d: drone %d: %v\n", s.Rank(), err)
		return exitConfigFault
	}
	if s.Rank() == 0 {
		fmt.Printf("Converged after %d iterations, du_max = %f\n", res.Stats.Sweeps, res.Stats.Delta)
	}
	return exitConverged
}
