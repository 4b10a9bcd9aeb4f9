/*
* Hive launcher. Local mode spawns one drone process per rank on this
* machine with sequential ports, the quickest way to run or debug a
* hive:
*
*   combrun -hive 4 ./jacobi1d -n 100
*
* Remote mode reads a cluster config with remote machines in it, stages
* the drone binary on each over scp, starts drones 1..P-1 there and
* runs the rank 0 drone in place:
*
*   combrun -conf hive.json ./jacobi2d -n 50
*
* The launcher exits with the worst exit code any drone produced, so a
* run that failed anywhere fails here too.
 */

package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/dashaylan/Honeycomb/configs"
	"github.com/dashaylan/Honeycomb/ipc"
)

const exitFault = 2

func main() {
	os.Exit(run())
}

func run() int {
	var (
		hive = flag.Int("hive", 2, "local hive size when no config file is given")
		port = flag.Int("port", 6000, "base port, drone r listens on port+r")
		conf = flag.String("conf", "", "cluster config, remote machines in it select remote mode")
	)
	flag.Parse()
	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: combrun [flags] <drone-binary> [drone flags]")
		flag.PrintDefaults()
		return exitFault
	}
	bin := flag.Arg(0)
	droneArgs := flag.Args()[1:]

	cfg := configs.Config{Cluster: configs.LocalCluster(*hive, *port)}
	if *conf != "" {
		var err error
		cfg, err = configs.ReadConfig(*conf)
		if err != nil {
			fmt.Fprintln(os.Stderr, "combrun:", err)
			return exitFault
		}
	}
	if err := cfg.Cluster.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "combrun:", err)
		return exitFault
	}
	if len(cfg.Cluster.Drones) == 0 {
		fmt.Fprintln(os.Stderr, "combrun: the hive has no drones")
		return exitFault
	}

	if len(cfg.Cluster.Remotes) > 0 {
		return runRemote(cfg, *conf, bin, droneArgs)
	}
	return runLocal(cfg.Cluster, bin, droneArgs)
}

//runLocal spawns every drone on this machine and copies each one's
//output through a rank-prefixed pipe so the interleaved lines stay
//attributable. Rank 0 keeps stdin for the interactive prompt.
func runLocal(cluster configs.ClusterConfig, bin string, droneArgs []string) int {
	nrProc := len(cluster.Drones)
	codes := make([]int, nrProc)
	var wg sync.WaitGroup
	for r := 0; r < nrProc; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			args := append([]string{}, droneArgs...)
			args = append(args,
				"-rank", strconv.Itoa(r),
				"-hive", strconv.Itoa(nrProc),
				"-port", strconv.Itoa(cluster.BasePort),
			)
			cmd := exec.Command(bin, args...)
			cmd.Stderr = os.Stderr
			if r == 0 {
				cmd.Stdin = os.Stdin
			}
			out, err := cmd.StdoutPipe()
			if err != nil {
				fmt.Fprintf(os.Stderr, "combrun: drone %d: %v\n", r, err)
				codes[r] = exitFault
				return
			}
			if err := cmd.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "combrun: drone %d: %v\n", r, err)
				codes[r] = exitFault
				return
			}
			sc := bufio.NewScanner(out)
			for sc.Scan() {
				fmt.Printf("[%d] %s\n", r, sc.Text())
			}
			codes[r] = waitCode(cmd, r)
		}(r)
	}
	wg.Wait()

	worst := 0
	for _, c := range codes {
		if c > worst {
			worst = c
		}
	}
	return worst
}

//runRemote stages and starts drones 1..P-1 on the configured remote
//machines, then runs the rank 0 drone right here so the operator keeps
//the prompt and the manager's output.
func runRemote(cfg configs.Config, conf, bin string, droneArgs []string) int {
	cluster := cfg.Cluster
	if len(cluster.Remotes) != len(cluster.Drones)-1 {
		fmt.Fprintf(os.Stderr, "combrun: %d remotes cannot host a hive of %d, need one per rank past 0\n",
			len(cluster.Remotes), len(cluster.Drones))
		return exitFault
	}

	//the remotes must be able to dial back to rank 0; fill the address
	//in for the operator when the config leaves it open
	if cluster.Drones[0].Address == "" {
		ip, err := ipc.OutboundIP()
		if err != nil {
			fmt.Fprintln(os.Stderr, "combrun:", err)
			return exitFault
		}
		cluster.Drones[0].Address = ip
		cfg.Cluster = cluster
		patched := filepath.Join(os.TempDir(), "hive.json")
		if err := configs.WriteConfig(patched, cfg); err != nil {
			fmt.Fprintln(os.Stderr, "combrun:", err)
			return exitFault
		}
		conf = patched
	}

	argsFor := func(rank uint8) []string {
		dir := path.Dir(cluster.Remotes[rank-1].BinPath)
		args := append([]string{}, droneArgs...)
		return append(args,
			"-rank", strconv.Itoa(int(rank)),
			"-conf", path.Join(dir, "hive.json"),
		)
	}
	started, err := ipc.StartDrones(cluster.Remotes, bin, conf, argsFor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "combrun: %v (%d drones up)\n", err, started)
		return exitFault
	}

	//rank 0 runs here, wired straight to the operator's terminal
	args := append([]string{}, droneArgs...)
	args = append(args, "-rank", "0", "-conf", conf)
	cmd := exec.Command(bin, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "combrun:", err)
		return exitFault
	}
	return waitCode(cmd, 0)
}

//waitCode waits a spawned drone out and maps its outcome to an exit
//code, folding start and wait failures into a fault
func waitCode(cmd *exec.Cmd, rank int) int {
	err := cmd.Wait()
	if err == nil {
		return 0
	}
	var xe *exec.ExitError
	if errors.As(err, &xe) {
		return xe.ExitCode()
	}
	fmt.Fprintf(os.Stderr, "combrun: drone %d: %v\n", rank, err)
	return exitFault
}
