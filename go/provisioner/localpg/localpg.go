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

// Package localpg runs a PostgreSQL replica set on the local machine as a
// test fixture: a primary, streaming standbys cloned with pg_basebackup and
// optionally an initial sync node that hooks keep re-cloning.
package localpg

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/multigres/initsync/go/harness/fixture"
	"github.com/multigres/initsync/go/viperutil"
)

// Class is the fixture class name used in suite files.
const Class = "LocalReplicaSet"

const defaultPollInterval = 100 * time.Millisecond

// ReplicaSet is a fixture.ReplicaSet of local PostgreSQL servers.
type ReplicaSet struct {
	logger       *slog.Logger
	cfg          Config
	fs           afero.Fs
	runner       Runner
	processAlive func(pid int) bool
	pollInterval time.Duration

	nodes    []*Node
	syncNode *Node
}

var _ fixture.ReplicaSet = (*ReplicaSet)(nil)

// Option configures a ReplicaSet.
type Option func(*ReplicaSet)

// WithFs replaces the filesystem used for data directories.
func WithFs(fs afero.Fs) Option {
	return func(rs *ReplicaSet) { rs.fs = fs }
}

// WithRunner replaces the runner of PostgreSQL binaries.
func WithRunner(r Runner) Option {
	return func(rs *ReplicaSet) { rs.runner = r }
}

// WithProcessCheck replaces the liveness check of postmaster PIDs.
func WithProcessCheck(alive func(pid int) bool) Option {
	return func(rs *ReplicaSet) { rs.processAlive = alive }
}

// WithPollInterval sets how often readiness is polled.
func WithPollInterval(d time.Duration) Option {
	return func(rs *ReplicaSet) { rs.pollInterval = d }
}

// New validates cfg and lays out the nodes. Nothing is started until Setup.
func New(logger *slog.Logger, cfg Config, opts ...Option) (*ReplicaSet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", Class, err)
	}

	rs := &ReplicaSet{
		logger:       logger,
		cfg:          cfg,
		fs:           afero.NewOsFs(),
		runner:       execRunner{},
		processAlive: processRunning,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(rs)
	}

	rs.nodes = append(rs.nodes, newNode(rs, "primary", rolePrimary, cfg.BasePort))
	for i := 1; i < cfg.NumNodes; i++ {
		rs.nodes = append(rs.nodes, newNode(rs, fmt.Sprintf("standby%d", i), roleStandby, cfg.BasePort+i))
	}
	if cfg.StartInitialSyncNode {
		rs.syncNode = newNode(rs, "initsync", roleInitialSync, cfg.BasePort+cfg.NumNodes)
		rs.nodes = append(rs.nodes, rs.syncNode)
	}
	return rs, nil
}

// Register adds the LocalReplicaSet class to r.
func Register(r *fixture.Registry) {
	r.Register(Class, func(logger *slog.Logger, params map[string]any) (fixture.Fixture, error) {
		cfg := DefaultConfig()
		if err := viperutil.DecodeParams(params, &cfg); err != nil {
			return nil, err
		}
		return New(logger, cfg)
	})
}

func (rs *ReplicaSet) Name() string { return Class }

// Nodes returns all nodes, primary first and the initial sync node last.
func (rs *ReplicaSet) Nodes() []*Node { return slices.Clone(rs.nodes) }

// Primary implements fixture.ReplicaSet.
func (rs *ReplicaSet) Primary() fixture.Node { return rs.nodes[0] }

// SyncTarget implements fixture.ReplicaSet.
func (rs *ReplicaSet) SyncTarget() (fixture.Node, error) {
	if rs.syncNode == nil {
		return nil, fmt.Errorf("%w: start_initial_sync_node is false", fixture.ErrNoSyncTarget)
	}
	return rs.syncNode, nil
}

// Setup starts the primary, waits for it and then clones and starts every
// other node.
func (rs *ReplicaSet) Setup(ctx context.Context) error {
	if err := rs.fs.MkdirAll(rs.cfg.DataRoot, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", rs.cfg.DataRoot, err)
	}

	primary := rs.nodes[0]
	if err := primary.Setup(ctx); err != nil {
		return err
	}
	if err := primary.AwaitReady(ctx); err != nil {
		return err
	}
	for _, n := range rs.nodes[1:] {
		if err := n.Setup(ctx); err != nil {
			return err
		}
	}
	return nil
}

// AwaitReady waits for every node to accept connections.
func (rs *ReplicaSet) AwaitReady(ctx context.Context) error {
	for _, n := range rs.nodes {
		if err := n.AwaitReady(ctx); err != nil {
			return err
		}
	}
	rs.logger.InfoContext(ctx, "replica set ready", "nodes", len(rs.nodes))
	return nil
}

// Teardown stops the nodes in reverse order. Every node is attempted and
// the errors are combined.
func (rs *ReplicaSet) Teardown(ctx context.Context) error {
	var merr *multierror.Error
	for _, n := range slices.Backward(rs.nodes) {
		if err := n.Teardown(ctx); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}

// IsRunning reports whether every node is running.
func (rs *ReplicaSet) IsRunning() bool {
	for _, n := range rs.nodes {
		if !n.IsRunning() {
			return false
		}
	}
	return true
}

func processRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
