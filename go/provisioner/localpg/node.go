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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/multigres/initsync/go/harness/fixture"
	"github.com/multigres/initsync/go/postgres/pgadmin"
)

type role int

const (
	rolePrimary role = iota
	roleStandby
	roleInitialSync
)

func (r role) String() string {
	switch r {
	case rolePrimary:
		return "primary"
	case roleInitialSync:
		return "initial_sync"
	default:
		return "standby"
	}
}

// Node is one PostgreSQL server of a ReplicaSet. Standbys are cloned from
// the primary with pg_basebackup and stream from it.
type Node struct {
	rs      *ReplicaSet
	logger  *slog.Logger
	name    string
	role    role
	port    int
	dataDir string
	logFile string

	// bg tracks a resync started with wait=false. Lifecycle calls wait for
	// it before touching the data directory.
	bg        sync.WaitGroup
	mu        sync.Mutex
	resyncing bool
	bgErr     error
}

var (
	_ fixture.Node     = (*Node)(nil)
	_ pgadmin.Resyncer = (*Node)(nil)
)

func newNode(rs *ReplicaSet, name string, r role, port int) *Node {
	return &Node{
		rs:      rs,
		logger:  rs.logger.With("node", name),
		name:    name,
		role:    r,
		port:    port,
		dataDir: filepath.Join(rs.cfg.DataRoot, name),
		logFile: filepath.Join(rs.cfg.DataRoot, name+".log"),
	}
}

func (n *Node) Name() string    { return n.name }
func (n *Node) Port() int       { return n.port }
func (n *Node) DataDir() string { return n.dataDir }

// DSN implements fixture.Node.
func (n *Node) DSN() string {
	return fmt.Sprintf("host=localhost port=%d user=%s dbname=%s sslmode=disable connect_timeout=5",
		n.port, n.rs.cfg.User, n.rs.cfg.Database)
}

// Setup creates the node's data directory, unless it exists and the replica
// set preserves data, and starts the server. Standbys need the primary to
// be running.
func (n *Node) Setup(ctx context.Context) error {
	if err := n.awaitResync(); err != nil {
		n.logger.WarnContext(ctx, "background resync failed before setup", "error", err)
	}

	if !n.rs.cfg.PreserveData {
		if err := n.wipe(); err != nil {
			return err
		}
	}
	if !n.hasData() {
		if err := n.initData(ctx); err != nil {
			return err
		}
	}
	return n.start(ctx)
}

// AwaitReady implements fixture.Node.
func (n *Node) AwaitReady(ctx context.Context) error {
	if err := n.awaitResync(); err != nil {
		return fmt.Errorf("resync of %s failed: %w", n.name, err)
	}
	return waitForReady(ctx, n.rs.fs, n.dataDir, n.rs.cfg.AwaitReadyTimeout, n.rs.pollInterval)
}

// Teardown stops the server with a fast shutdown. Its data is kept.
func (n *Node) Teardown(ctx context.Context) error {
	var merr *multierror.Error
	if err := n.awaitResync(); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("resync of %s failed: %w", n.name, err))
	}
	if err := n.stop(ctx); err != nil {
		merr = multierror.Append(merr, err)
	}
	return merr.ErrorOrNil()
}

// Discard removes the node's data directory even when the replica set
// preserves data. The primary's data cannot be discarded.
func (n *Node) Discard(ctx context.Context) error {
	if n.role == rolePrimary {
		return errors.New("the primary's data cannot be discarded")
	}
	if err := n.awaitResync(); err != nil {
		n.logger.WarnContext(ctx, "background resync failed before discard", "error", err)
	}
	if n.IsRunning() {
		return fmt.Errorf("%s must be stopped before its data is discarded", n.name)
	}
	n.logger.InfoContext(ctx, "discarding data directory", "data_dir", n.dataDir)
	return n.wipe()
}

// IsRunning reports whether the postmaster is alive. A node being resynced
// in the background counts as running.
func (n *Node) IsRunning() bool {
	n.mu.Lock()
	resyncing := n.resyncing
	n.mu.Unlock()
	if resyncing {
		return true
	}

	p, err := readPIDFile(n.rs.fs, n.dataDir)
	return err == nil && n.rs.processAlive(p.PID)
}

// Admin implements fixture.Node. Resync on the returned connection re-clones
// this node.
func (n *Node) Admin(ctx context.Context) (fixture.Admin, error) {
	conn, err := pgadmin.Open(n.DSN(), pgadmin.WithResyncer(n), pgadmin.WithLogger(n.logger))
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Resync stops the node, discards its data, clones it again from the
// primary and starts it. With wait the node is ready when Resync returns.
// Otherwise Resync returns once the old instance is stopped and its data
// removed, and the clone continues in the background. Until the new
// instance is up the node reports itself unavailable.
func (n *Node) Resync(ctx context.Context, wait bool) error {
	if n.role == rolePrimary {
		return errors.New("the primary cannot be resynced")
	}
	if err := n.awaitResync(); err != nil {
		n.logger.WarnContext(ctx, "previous background resync failed", "error", err)
	}

	n.logger.InfoContext(ctx, "resyncing from primary", "wait", wait)
	if err := n.stop(ctx); err != nil {
		return err
	}
	if err := n.wipe(); err != nil {
		return err
	}

	if wait {
		if err := n.cloneAndStart(ctx); err != nil {
			return err
		}
		return n.AwaitReady(ctx)
	}

	n.mu.Lock()
	n.resyncing = true
	n.mu.Unlock()

	// The clone outlives the hook call that started it.
	bgCtx := context.WithoutCancel(ctx)
	n.bg.Add(1)
	go func() {
		defer n.bg.Done()
		err := n.cloneAndStart(bgCtx)
		if err != nil {
			n.logger.ErrorContext(bgCtx, "background resync failed", "error", err)
		}
		n.mu.Lock()
		n.resyncing = false
		n.bgErr = err
		n.mu.Unlock()
	}()
	return nil
}

func (n *Node) cloneAndStart(ctx context.Context) error {
	if err := n.clone(ctx); err != nil {
		return err
	}
	return n.start(ctx)
}

// awaitResync waits for a background resync and returns its error once.
func (n *Node) awaitResync() error {
	n.bg.Wait()
	n.mu.Lock()
	defer n.mu.Unlock()
	err := n.bgErr
	n.bgErr = nil
	return err
}

func (n *Node) hasData() bool {
	ok, err := afero.Exists(n.rs.fs, filepath.Join(n.dataDir, "PG_VERSION"))
	return err == nil && ok
}

func (n *Node) wipe() error {
	if err := n.rs.fs.RemoveAll(n.dataDir); err != nil {
		return fmt.Errorf("removing data directory of %s: %w", n.name, err)
	}
	return nil
}

func (n *Node) initData(ctx context.Context) error {
	if err := n.rs.fs.MkdirAll(n.rs.cfg.DataRoot, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", n.rs.cfg.DataRoot, err)
	}
	if n.role != rolePrimary {
		return n.clone(ctx)
	}

	n.logger.InfoContext(ctx, "initializing data directory", "data_dir", n.dataDir)
	if err := n.rs.runner.Run(ctx, n.rs.cfg.binary("initdb"),
		"-D", n.dataDir,
		"-U", n.rs.cfg.User,
		"--auth=trust",
		"--no-sync",
	); err != nil {
		return fmt.Errorf("initdb for %s: %w", n.name, err)
	}
	return nil
}

// clone copies the primary with pg_basebackup. -R writes the standby
// configuration, so the clone streams from the primary once started.
func (n *Node) clone(ctx context.Context) error {
	primary := n.rs.Primary().(*Node)
	n.logger.InfoContext(ctx, "cloning from primary", "primary_port", primary.port)
	if err := n.rs.runner.Run(ctx, n.rs.cfg.binary("pg_basebackup"),
		"-D", n.dataDir,
		"-h", "localhost",
		"-p", fmt.Sprint(primary.port),
		"-U", n.rs.cfg.User,
		"-R",
		"-X", "stream",
		"-c", "fast",
	); err != nil {
		return fmt.Errorf("pg_basebackup for %s: %w", n.name, err)
	}
	return nil
}

func (n *Node) start(ctx context.Context) error {
	opts := fmt.Sprintf("-c port=%d -c listen_addresses=localhost -c unix_socket_directories='' -c hot_standby=on", n.port)
	n.logger.InfoContext(ctx, "starting postgres", "port", n.port, "role", n.role)
	if err := n.rs.runner.Run(ctx, n.rs.cfg.binary("pg_ctl"),
		"start",
		"-D", n.dataDir,
		"-o", opts,
		"-l", n.logFile,
		"-W",
	); err != nil {
		return fmt.Errorf("starting %s: %w", n.name, err)
	}
	return nil
}

func (n *Node) stop(ctx context.Context) error {
	if _, err := readPIDFile(n.rs.fs, n.dataDir); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	n.logger.InfoContext(ctx, "stopping postgres", "mode", "fast")
	if err := n.rs.runner.Run(ctx, n.rs.cfg.binary("pg_ctl"),
		"stop",
		"-D", n.dataDir,
		"-m", "fast",
		"-w",
	); err != nil {
		return fmt.Errorf("stopping %s: %w", n.name, err)
	}
	return nil
}
