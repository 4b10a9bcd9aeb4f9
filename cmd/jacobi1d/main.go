/*
* Drone binary for the distributed Jacobi solver on the line:
*
*   u'' = e^x on [0,1], u(0) = 0, u(1) = 3.
*
* One process per drone. Rank 0 asks for the grid size when none is
* given and broadcasts it to the hive; every drone then relaxes its
* block until the hive agrees on convergence and writes its share of
* the solution to jacobi_<rank>.txt.
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
		hive   = flag.Int("hive", 1, "hive size when no config file is given")
		port   = flag.Int("port", 6000, "base port, drone r listens on port+r")
		conf   = flag.String("conf", "", "hive configuration file")
		points = flag.Int("n", 0, "interior grid points, rank 0 asks when 0")
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
			fmt.Fprintln(os.Stderr, "jacobi1d:", err)
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
	if err := cfg.Cluster.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "jacobi1d:", err)
		return exitConfigFault
	}
	nrProc := len(cfg.Cluster.Drones)
	if *rank < 0 || *rank >= nrProc {
		fmt.Fprintf(os.Stderr, "jacobi1d: rank %d outside hive of %d\n", *rank, nrProc)
		return exitConfigFault
	}

	prob := poisson.LineProblem()

	s := swarm.New(uint8(*rank), uint8(nrProc), cfg.Cluster.BasePort)
	s.SetDebug(cfg.Run.Debug)
	go swarm.DumpLog()

	trace := ""
	if cfg.Run.GoVec {
		trace = "jacobi1d"
	}
	if err := s.Startup(trace); err != nil {
		fmt.Fprintln(os.Stderr, "jacobi1d:", err)
		return exitConfigFault
	}
	defer s.Exit()
	if err := s.Connect(cfg.Cluster.Addresses()); err != nil {
		fmt.Fprintln(os.Stderr, "jacobi1d:", err)
		return exitConfigFault
	}

	//rank 0 resolves the grid size and the whole hive follows it
	n := cfg.Run.Points
	if s.Rank() == 0 && n < 1 {
		fmt.Println("How many points to use?")
		if _, err := fmt.Scan(&n); err != nil {
			fmt.Fprintln(os.Stderr, "jacobi1d:", err)
			return exitConfigFault
		}
	}
	n, err := s.BcastInt(0, n)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jacobi1d: drone %d: %v\n", s.Rank(), err)
		return exitConfigFault
	}
	if n < 1 {
		fmt.Fprintf(os.Stderr, "jacobi1d: need at least one grid point, got %d\n", n)
		return exitConfigFault
	}

	set := poisson.DefaultSettings1D(prob, n)
	if cfg.Run.MaxSweeps > 0 {
		set.MaxSweeps = cfg.Run.MaxSweeps
	}

	res, err := poisson.Solve1D(s, prob, n, set)
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
		fmt.Fprintf(os.Stderr, "jacobi1d: drone %d: %v\n", s.Rank(), err)
		return exitConfigFault
	}

	//synchronize before output so nobody tears the fabric down while
	//a neighbor is still finishing its last sweep
	if err := s.Barrier(0); err != nil {
		fmt.Fprintf(os.Stderr, "jacobi1d: drone %d: %v\n", s.Rank(), err)
		return exitConfigFault
	}
	if err := poisson.WriteLine(cfg.Run.OutDir, prob, res); err != nil {
		fmt.Fprintf(os.Stderr, "jacobi1d: drone %d: %v\n", s.Rank(), err)
		return exitConfigFault
	}
	if s.Rank() == 0 {
		fmt.Printf("Converged after %d iterations, du_max = %f\n", res.Stats.Sweeps, res.Stats.Delta)
	}
	return exitConverged
}
