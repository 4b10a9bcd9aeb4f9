/*
This file contains the unit tests for the deployment helpers that do not
need a live cluster.
*/
package ipc

import (
	"testing"
)

func TestDroneCommand(t *testing.T) {
	cmd := DroneCommand("/tmp/honeycomb/jacobi1d", []string{"-rank", "2", "-conf", "/tmp/honeycomb/hive.json"})
	want := "/tmp/honeycomb/jacobi1d -rank 2 -conf /tmp/honeycomb/hive.json"
	if cmd != want {
		t.Errorf("[TEST] Drone command got %q expected %q", cmd, want)
	}
}

func TestDroneCommandNoArgs(t *testing.T) {
	if cmd := DroneCommand("/tmp/hive/drone", nil); cmd != "/tmp/hive/drone" {
		t.Errorf("[TEST] Drone command got %q expected bare binary path", cmd)
	}
}
