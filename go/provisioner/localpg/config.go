// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package localpg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Config describes a replica set of local PostgreSQL servers. Field tags
// match the executor fixture parameters of a suite file.
type Config struct {
	// DataRoot holds one data directory and one log file per node.
	DataRoot string `mapstructure:"data_root"`
	// BasePort is the port of the primary; node i listens on BasePort+i.
	BasePort int `mapstructure:"base_port"`
	// NumNodes counts the primary and its standbys, not the initial sync
	// node.
	NumNodes int `mapstructure:"num_nodes"`
	// StartInitialSyncNode adds a standby that initial sync hooks keep
	// re-cloning from the primary.
	StartInitialSyncNode bool `mapstructure:"start_initial_sync_node"`
	// BinDir is where initdb, pg_ctl and pg_basebackup live. Empty means
	// look them up in PATH.
	BinDir   string `mapstructure:"bin_dir"`
	User     string `mapstructure:"user"`
	Database string `mapstructure:"database"`
	// AwaitReadyTimeout bounds how long AwaitReady waits for one node.
	AwaitReadyTimeout time.Duration `mapstructure:"await_ready_timeout"`
	// PreserveData keeps existing data directories on Setup. Resync always
	// discards data.
	PreserveData bool `mapstructure:"preserve_data"`
}

// DefaultConfig returns a two node replica set rooted in the temp dir.
func DefaultConfig() Config {
	return Config{
		DataRoot:          filepath.Join(os.TempDir(), "initsync"),
		BasePort:          25432,
		NumNodes:          2,
		User:              "postgres",
		Database:          "postgres",
		AwaitReadyTimeout: 2 * time.Minute,
	}
}

// Validate checks the config for values that cannot work.
func (c Config) Validate() error {
	var merr *multierror.Error
	if c.DataRoot == "" {
		merr = multierror.Append(merr, errors.New("data_root is required"))
	}
	if c.NumNodes < 1 {
		merr = multierror.Append(merr, fmt.Errorf("num_nodes must be at least 1, got %d", c.NumNodes))
	}
	if c.BasePort < 1 || c.BasePort+c.totalNodes() > 65536 {
		merr = multierror.Append(merr, fmt.Errorf("base_port %d leaves no room for %d nodes", c.BasePort, c.totalNodes()))
	}
	if c.User == "" {
		merr = multierror.Append(merr, errors.New("user is required"))
	}
	if c.Database == "" {
		merr = multierror.Append(merr, errors.New("database is required"))
	}
	if c.AwaitReadyTimeout <= 0 {
		merr = multierror.Append(merr, fmt.Errorf("await_ready_timeout must be positive, got %s", c.AwaitReadyTimeout))
	}
	return merr.ErrorOrNil()
}

func (c Config) totalNodes() int {
	if c.StartInitialSyncNode {
		return c.NumNodes + 1
	}
	return c.NumNodes
}

func (c Config) binary(name string) string {
	if c.BinDir == "" {
		return name
	}
	return filepath.Join(c.BinDir, name)
}
