/*
Package configs holds the cluster and run configuration for a Honeycomb
hive.

A hive is described by a JSON file: the TCP base port, the drone list in
rank order, and optionally the remote machines to deploy drones onto.
Run parameters every drone must agree on before startup live here too.
*/
package configs

import (
	"encoding/json"
	"fmt"
	"os"
)

//for each remote machine we deploy a drone on,
//we need these to reach it over ssh
type RemoteConfig struct {
	Address  string //host:port of the ssh daemon
	Username string
	Password string
	BinPath  string //where the drone binary is staged on the remote
}

//these are the drones as seen by other drones
type DroneConfig struct {
	Address string //host the drone listens on, without the port
	Rank    uint8
}

type ClusterConfig struct {
	BasePort int           //drone r listens on BasePort + r
	Drones   []DroneConfig //one entry per rank
	Remotes  []RemoteConfig
}

type RunConfig struct {
	Points    int    //interior grid points per dimension, 0 means prompt or default
	MaxSweeps int    //0 means the solver default
	Debug     int    //log level 0..4
	GoVec     bool   //enable vector clock tracing
	OutDir    string //where the per-rank artifacts go
}

type Config struct {
	Cluster ClusterConfig
	Run     RunConfig
}

//reads a hive configuration from the given JSON file
func ReadConfig(path string) (Config, error) {
	c := Config{}
	cfFile, err := os.ReadFile(path)
	if err != nil {
		//fail to read config
		return c, err
	}
	err = json.Unmarshal(cfFile, &c)
	if err != nil {
		//unable to decode the config
		return c, err
	}
	return c, nil
}

//the launcher prepares one config ahead of a run and hands the same
//file to every drone; this writes it out
func WriteConfig(path string, c Config) error {
	cfArr, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		//failed to encode the config
		return err
	}
	return os.WriteFile(path, cfArr, 0644)
}

//Validate checks that the hive fits single byte ranks and that the
//drone ranks form exactly 0..len-1 so the address table can be indexed
//by rank.
func (c ClusterConfig) Validate() error {
	if len(c.Drones) > 255 {
		return fmt.Errorf("configs: hive of %d drones exceeds the byte rank limit of 255", len(c.Drones))
	}
	seen := make([]bool, len(c.Drones))
	for _, d := range c.Drones {
		if int(d.Rank) >= len(c.Drones) {
			return fmt.Errorf("configs: drone rank %d out of range for hive of %d", d.Rank, len(c.Drones))
		}
		if seen[d.Rank] {
			return fmt.Errorf("configs: duplicate drone rank %d", d.Rank)
		}
		seen[d.Rank] = true
	}
	return nil
}

//Addresses returns the drone endpoints in rank order, ready for the
//fabric to dial: host with the rank offset applied to the base port.
func (c ClusterConfig) Addresses() []string {
	addrs := make([]string, len(c.Drones))
	for _, d := range c.Drones {
		addrs[d.Rank] = fmt.Sprintf("%s:%d", d.Address, c.BasePort+int(d.Rank))
	}
	return addrs
}

//LocalCluster builds the all-localhost cluster the launcher and the
//tests use: n drones on 127.0.0.1 starting at base.
func LocalCluster(n int, base int) ClusterConfig {
	c := ClusterConfig{BasePort: base}
	for r := 0; r < n; r++ {
		c.Drones = append(c.Drones, DroneConfig{Address: "127.0.0.1", Rank: uint8(r)})
	}
	return c
}
