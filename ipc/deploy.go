/*
This file contains remote deployment of drones. The launcher stages the
drone binary on each machine over scp and starts it through an ssh
session, the same steps an operator would run by hand to bring a hive
up across a cluster.
*/
package ipc

import (
	"context"
	"fmt"
	"net"
	"os"
	"path"
	"strings"
	"time"

	scp "github.com/bramvdbogaerde/go-scp"
	"golang.org/x/crypto/ssh"

	"github.com/dashaylan/Honeycomb/configs"
)

//DroneCommand assembles the shell command that starts a drone binary
//with its per-rank arguments.
func DroneCommand(bin string, args []string) string {
	return strings.Join(append([]string{bin}, args...), " ")
}

//OutboundIP reports the address other machines can reach this one on.
func OutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

//runs one command on an established ssh connection
func remoteComm(connection *ssh.Client, command string) error {
	session, err := connection.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,     // disable echoing
		ssh.TTY_OP_ISPEED: 14400, // input speed = 14.4kbaud
		ssh.TTY_OP_OSPEED: 14400, // output speed = 14.4kbaud
	}

	if err := session.RequestPty("xterm", 80, 40, modes); err != nil {
		return err
	}

	return session.Run(command)
}

//copies a local file onto the remote over scp
func stage(addr string, cfg *ssh.ClientConfig, local, remote, perm string) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := scp.NewClient(addr, cfg)
	if err := sc.Connect(); err != nil {
		return err
	}
	defer sc.Close()
	return sc.CopyFile(context.Background(), f, remote, perm)
}

func deployDrone(rc configs.RemoteConfig, bin, conf string, args []string) error {
	sshConfig := &ssh.ClientConfig{
		User:            rc.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(rc.Password)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         15 * time.Second,
	}

	addr := rc.Address
	if !strings.Contains(addr, ":") {
		addr += ":22"
	}
	client, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return fmt.Errorf("ssh dial: %w", err)
	}
	defer client.Close()

	//clean staging directory, kill any drone from an earlier run
	dir := path.Dir(rc.BinPath)
	if err := remoteComm(client, fmt.Sprintf("pkill -f %s; rm -rf %s && mkdir -p %s", rc.BinPath, dir, dir)); err != nil {
		return fmt.Errorf("prepare %s: %w", dir, err)
	}

	if err := stage(addr, sshConfig, bin, rc.BinPath, "0755"); err != nil {
		return fmt.Errorf("stage binary: %w", err)
	}
	if conf != "" {
		if err := stage(addr, sshConfig, conf, path.Join(dir, "hive.json"), "0644"); err != nil {
			return fmt.Errorf("stage config: %w", err)
		}
	}

	//nohup keeps the drone alive after the pty session closes
	cmd := DroneCommand(rc.BinPath, args)
	return remoteComm(client, fmt.Sprintf("nohup %s > %s/drone.log 2>&1 &", cmd, dir))
}

//StartDrones deploys the drone binary onto every remote machine and
//starts it. Remote i hosts rank i+1; rank 0 is the deploying process
//itself. conf may name a hive config to stage next to the binary, and
//args builds the command line for a given rank. Returns how many drones
//started.
func StartDrones(remotes []configs.RemoteConfig, bin, conf string, args func(rank uint8) []string) (int, error) {
	resChan := make(chan uint8, len(remotes))
	for i, rc := range remotes {
		rank := uint8(i + 1)
		go func(rc configs.RemoteConfig, rank uint8) {
			fmt.Println("[IPC] StartDrones: deploying drone", rank, "on", rc.Address)
			if err := deployDrone(rc, bin, conf, args(rank)); err != nil {
				fmt.Println("[IPC] StartDrones: drone", rank, "failed:", err)
				resChan <- 0
				return
			}
			fmt.Println("[IPC] StartDrones: drone", rank, "running on", rc.Address)
			resChan <- rank
		}(rc, rank)
	}

	started := 0
	for range remotes {
		select {
		case r := <-resChan:
			if r > 0 {
				started++
			}
		case <-time.After(60 * time.Second):
			return started, fmt.Errorf("ipc: deployment timed out with %d of %d drones started", started, len(remotes))
		}
	}
	if started < len(remotes) {
		return started, fmt.Errorf("ipc: only %d of %d drones started", started, len(remotes))
	}
	return started, nil
}
