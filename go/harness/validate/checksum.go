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

// Package validate compares a synced replica with its primary.
package validate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/lib/pq"

	"github.com/multigres/initsync/go/harness/fixture"
	"github.com/multigres/initsync/go/tools/retry"
)

// DefaultReplayTimeout bounds how long Validate waits for the sync target to
// replay everything the primary had written when validation started.
const DefaultReplayTimeout = 5 * time.Minute

// Table identifies a user table.
type Table struct {
	Schema string
	Name   string
}

func (t Table) String() string {
	return t.Schema + "." + t.Name
}

// quoted returns the table name quoted for use in SQL.
func (t Table) quoted() string {
	return pq.QuoteIdentifier(t.Schema) + "." + pq.QuoteIdentifier(t.Name)
}

// Sum is the content summary of one table.
type Sum struct {
	Rows int64
	MD5  string
}

// Checksum validates a replica set by comparing, table by table, the row
// count and an md5 of the ordered row texts on the primary and the sync
// target.
type Checksum struct {
	logger        *slog.Logger
	rs            fixture.ReplicaSet
	replayTimeout time.Duration
	newRetry      func() *retry.Retry
}

// Option configures a Checksum.
type Option func(*Checksum)

// WithReplayTimeout overrides DefaultReplayTimeout.
func WithReplayTimeout(d time.Duration) Option {
	return func(c *Checksum) { c.replayTimeout = d }
}

// NewChecksum creates a validator for rs. Nodes are resolved on every
// Validate call, so rs need not be running yet.
func NewChecksum(logger *slog.Logger, rs fixture.ReplicaSet, opts ...Option) *Checksum {
	c := &Checksum{
		logger:        logger,
		rs:            rs,
		replayTimeout: DefaultReplayTimeout,
		newRetry: func() *retry.Retry {
			return retry.New(50*time.Millisecond, 2*time.Second)
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Validate implements fixture.Validator.
func (c *Checksum) Validate(ctx context.Context) error {
	target, err := c.rs.SyncTarget()
	if err != nil {
		return err
	}
	primary := c.rs.Primary()

	primaryDB, err := sql.Open("postgres", primary.DSN())
	if err != nil {
		return fmt.Errorf("opening %s: %w", primary.Name(), err)
	}
	defer primaryDB.Close()
	targetDB, err := sql.Open("postgres", target.DSN())
	if err != nil {
		return fmt.Errorf("opening %s: %w", target.Name(), err)
	}
	defer targetDB.Close()

	var lsn string
	if err := primaryDB.QueryRowContext(ctx, "SELECT pg_current_wal_lsn()::text").Scan(&lsn); err != nil {
		return fmt.Errorf("reading current WAL position of %s: %w", primary.Name(), err)
	}

	replayCtx, cancel := context.WithTimeout(ctx, c.replayTimeout)
	defer cancel()
	err = waitFor(replayCtx, c.newRetry(), func(ctx context.Context) (bool, error) {
		var replayed bool
		err := targetDB.QueryRowContext(ctx,
			"SELECT coalesce(pg_wal_lsn_diff(pg_last_wal_replay_lsn(), $1::pg_lsn) >= 0, false)", lsn).Scan(&replayed)
		return replayed, err
	})
	if err != nil {
		return fmt.Errorf("%s did not replay up to %s: %w", target.Name(), lsn, err)
	}

	primarySums, err := tableSums(ctx, primaryDB)
	if err != nil {
		return fmt.Errorf("summarizing %s: %w", primary.Name(), err)
	}
	targetSums, err := tableSums(ctx, targetDB)
	if err != nil {
		return fmt.Errorf("summarizing %s: %w", target.Name(), err)
	}

	c.logger.InfoContext(ctx, "comparing table checksums",
		"primary", primary.Name(), "sync_target", target.Name(), "tables", len(primarySums), "lsn", lsn)
	return Compare(primarySums, targetSums)
}

// waitFor polls check until it reports true. Query errors are retried
// since the node may be restarting; the last one is returned if ctx ends
// first.
func waitFor(ctx context.Context, r *retry.Retry, check func(ctx context.Context) (bool, error)) error {
	var lastErr error
	for _, err := range r.Attempts(ctx) {
		if err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return err
		}
		ok, err := check(ctx)
		if err == nil && ok {
			return nil
		}
		lastErr = err
	}
	return ctx.Err()
}

const listTablesQuery = `SELECT schemaname, tablename FROM pg_catalog.pg_tables
WHERE schemaname NOT IN ('pg_catalog', 'information_schema')
ORDER BY schemaname, tablename`

func listTables(ctx context.Context, db *sql.DB) ([]Table, error) {
	rows, err := db.QueryContext(ctx, listTablesQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.Schema, &t.Name); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// sumQuery returns a query computing the Sum of t. Rows are ordered by
// their text form so the md5 does not depend on physical order.
func sumQuery(t Table) string {
	return fmt.Sprintf(
		"SELECT count(*), coalesce(md5(string_agg(r::text, E'\\n' ORDER BY r::text)), '') FROM %s AS r",
		t.quoted())
}

func tableSums(ctx context.Context, db *sql.DB) (map[Table]Sum, error) {
	tables, err := listTables(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	sums := make(map[Table]Sum, len(tables))
	for _, t := range tables {
		var s Sum
		if err := db.QueryRowContext(ctx, sumQuery(t)).Scan(&s.Rows, &s.MD5); err != nil {
			return nil, fmt.Errorf("summarizing %s: %w", t, err)
		}
		sums[t] = s
	}
	return sums, nil
}

// Compare reports every table that is missing on either side or whose
// summary differs.
func Compare(primary, target map[Table]Sum) error {
	var merr *multierror.Error
	for _, t := range sortedTables(primary) {
		got, ok := target[t]
		switch {
		case !ok:
			merr = multierror.Append(merr, fmt.Errorf("table %s missing on sync target", t))
		case got.Rows != primary[t].Rows:
			merr = multierror.Append(merr, fmt.Errorf("table %s: %d rows on primary, %d on sync target", t, primary[t].Rows, got.Rows))
		case got.MD5 != primary[t].MD5:
			merr = multierror.Append(merr, fmt.Errorf("table %s: checksum %s on primary, %s on sync target", t, primary[t].MD5, got.MD5))
		}
	}
	for _, t := range sortedTables(target) {
		if _, ok := primary[t]; !ok {
			merr = multierror.Append(merr, fmt.Errorf("table %s missing on primary", t))
		}
	}
	return merr.ErrorOrNil()
}

func sortedTables(m map[Table]Sum) []Table {
	tables := make([]Table, 0, len(m))
	for t := range m {
		tables = append(tables, t)
	}
	slices.SortFunc(tables, func(a, b Table) int {
		return strings.Compare(a.String(), b.String())
	})
	return tables
}
