/*
Package configs tests: JSON round trip, rank validation, and the
address table the fabric dials from.
*/
package configs

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hive.json")

	c := Config{
		Cluster: ClusterConfig{
			BasePort: 7100,
			Drones: []DroneConfig{
				{Address: "10.0.0.1", Rank: 0},
				{Address: "10.0.0.2", Rank: 1},
			},
			Remotes: []RemoteConfig{
				{Address: "10.0.0.2:22", Username: "hive", Password: "comb", BinPath: "/tmp/jacobi1d"},
			},
		},
		Run: RunConfig{Points: 100, MaxSweeps: 500, Debug: 2, GoVec: true, OutDir: "out"},
	}

	require.NoError(t, WriteConfig(path, c))

	got, err := ReadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, c, got)
}

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err == nil {
		t.Errorf("[TEST] Expected an error reading a missing config")
	}
}

func TestAddressesRankOrder(t *testing.T) {
	c := ClusterConfig{
		BasePort: 7000,
		Drones: []DroneConfig{
			{Address: "hostb", Rank: 1},
			{Address: "hosta", Rank: 0},
		},
	}

	addrs := c.Addresses()

	if addrs[0] != "hosta:7000" {
		t.Errorf("[TEST] Invalid address for rank 0 got %s expected %s", addrs[0], "hosta:7000")
	}
	if addrs[1] != "hostb:7001" {
		t.Errorf("[TEST] Invalid address for rank 1 got %s expected %s", addrs[1], "hostb:7001")
	}
}

func TestValidate(t *testing.T) {
	good := LocalCluster(3, 7000)
	if err := good.Validate(); err != nil {
		t.Errorf("[TEST] Valid cluster rejected: %s", err.Error())
	}

	dup := ClusterConfig{Drones: []DroneConfig{{Rank: 0}, {Rank: 0}}}
	if err := dup.Validate(); err == nil {
		t.Errorf("[TEST] Duplicate rank not rejected")
	}

	hole := ClusterConfig{Drones: []DroneConfig{{Rank: 0}, {Rank: 2}}}
	if err := hole.Validate(); err == nil {
		t.Errorf("[TEST] Out of range rank not rejected")
	}
}

func TestValidateHiveSizeCap(t *testing.T) {
	//256 drones carry distinct byte ranks, so only the cap stands
	//between them and a wrapped uint8 hive size downstream
	if err := LocalCluster(256, 7000).Validate(); err == nil {
		t.Errorf("[TEST] Hive of 256 not rejected")
	}
	if err := LocalCluster(255, 7000).Validate(); err != nil {
		t.Errorf("[TEST] Hive of 255 rejected: %s", err.Error())
	}
}

func TestLocalCluster(t *testing.T) {
	c := LocalCluster(4, 6000)

	require.Len(t, c.Drones, 4)
	require.NoError(t, c.Validate())

	addrs := c.Addresses()
	assert.Equal(t, "127.0.0.1:6000", addrs[0])
	assert.Equal(t, "127.0.0.1:6003", addrs[3])
}
