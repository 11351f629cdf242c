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

// Package pgadmin implements fixture.Admin for PostgreSQL standbys.
//
// PostgreSQL has no member states, so they are derived from the recovery
// and WAL receiver status of the node:
//
//   - not in recovery: StateOther (the node is a primary)
//   - in recovery, WAL receiver streaming and everything received has been
//     replayed: StateSecondary
//   - otherwise in recovery: StateStartup2
//   - refusing connections while starting up: fixture.ErrStateUnavailable
package pgadmin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"syscall"
	"time"

	"github.com/lib/pq"

	"github.com/multigres/initsync/go/harness/fixture"
	"github.com/multigres/initsync/go/tools/retry"
)

// ErrResyncUnsupported is returned by Resync when no Resyncer was supplied.
var ErrResyncUnsupported = errors.New("resync is not supported by this node")

// cannotConnectNow is the SQLSTATE sent while the server is starting up or
// shutting down.
const cannotConnectNow = "57P03"

// Resyncer restarts initial sync of a node. PostgreSQL has no command for
// it, so the fixture that owns the node's data directory provides it.
type Resyncer interface {
	Resync(ctx context.Context, wait bool) error
}

// Conn is an administrative connection to one node.
type Conn struct {
	logger   *slog.Logger
	db       *sql.DB
	resyncer Resyncer
	newRetry func() *retry.Retry

	// queryState defaults to (*Conn).queryReplicationState and is
	// replaced in tests.
	queryState func(ctx context.Context) (fixture.MemberState, error)
}

var _ fixture.Admin = (*Conn)(nil)

// Option configures a Conn.
type Option func(*Conn)

// WithResyncer sets the Resyncer used by Resync.
func WithResyncer(r Resyncer) Option {
	return func(c *Conn) { c.resyncer = r }
}

// WithLogger sets the logger used for wait progress. Defaults to
// slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conn) { c.logger = logger }
}

// WithRetry sets how WaitForMemberState backs off between polls.
func WithRetry(newRetry func() *retry.Retry) Option {
	return func(c *Conn) { c.newRetry = newRetry }
}

// Open prepares a connection to dsn. No connection is made until the first
// query.
func Open(dsn string, opts ...Option) (*Conn, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening admin connection: %w", err)
	}
	// Every query should observe the node as it is now.
	db.SetMaxIdleConns(0)

	c := &Conn{
		logger: slog.Default(),
		db:     db,
		newRetry: func() *retry.Retry {
			return retry.New(100*time.Millisecond, 5*time.Second)
		},
	}
	c.queryState = c.queryReplicationState
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

const replicationStateQuery = `SELECT
	pg_is_in_recovery(),
	coalesce((SELECT status FROM pg_stat_wal_receiver LIMIT 1), ''),
	coalesce(pg_wal_lsn_diff(pg_last_wal_receive_lsn(), pg_last_wal_replay_lsn()), 0)`

// ReplicationState implements fixture.Admin.
func (c *Conn) ReplicationState(ctx context.Context) (fixture.MemberState, error) {
	return c.queryState(ctx)
}

func (c *Conn) queryReplicationState(ctx context.Context) (fixture.MemberState, error) {
	var (
		inRecovery     bool
		receiverStatus string
		lagBytes       float64
	)
	err := c.db.QueryRowContext(ctx, replicationStateQuery).Scan(&inRecovery, &receiverStatus, &lagBytes)
	if err != nil {
		if IsUnavailable(err) {
			return fixture.StateStartup, fmt.Errorf("%w: %v", fixture.ErrStateUnavailable, err)
		}
		return fixture.StateOther, fmt.Errorf("querying replication state: %w", err)
	}
	return memberState(inRecovery, receiverStatus, lagBytes), nil
}

func memberState(inRecovery bool, receiverStatus string, lagBytes float64) fixture.MemberState {
	switch {
	case !inRecovery:
		return fixture.StateOther
	case receiverStatus == "streaming" && lagBytes <= 0:
		return fixture.StateSecondary
	default:
		return fixture.StateStartup2
	}
}

// IsUnavailable reports whether err means the server cannot answer yet:
// it is starting up, or not accepting connections at all.
func IsUnavailable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == cannotConnectNow {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ENOENT)
}

// WaitForMemberState implements fixture.Admin. The node is polled until it
// reports state; unavailable and failed polls are retried. If timeout
// elapses first the returned error wraps fixture.ErrWaitTimeout.
func (c *Conn) WaitForMemberState(ctx context.Context, state fixture.MemberState, timeout time.Duration) error {
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	last := "no response"
	for attempt, err := range c.newRetry().Attempts(ctx) {
		if err != nil {
			// A deadline or cancellation inherited from the caller is not
			// a timeout of this wait.
			if perr := parent.Err(); perr != nil {
				return fmt.Errorf("waiting for %s: %w", state, perr)
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%w: wanted %s within %s, after %d attempts last saw %s",
					fixture.ErrWaitTimeout, state, timeout, attempt, last)
			}
			return err
		}

		got, err := c.queryState(ctx)
		switch {
		case err != nil:
			last = err.Error()
		case got == state:
			return nil
		default:
			last = got.String()
		}
		c.logger.DebugContext(ctx, "waiting for member state", "want", state, "last", last, "attempt", attempt)
	}
	return ctx.Err()
}

// Resync implements fixture.Admin by delegating to the Resyncer.
func (c *Conn) Resync(ctx context.Context, wait bool) error {
	if c.resyncer == nil {
		return ErrResyncUnsupported
	}
	return c.resyncer.Resync(ctx, wait)
}

// Close implements fixture.Admin.
func (c *Conn) Close() error {
	return c.db.Close()
}
