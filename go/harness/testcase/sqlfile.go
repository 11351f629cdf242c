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

package testcase

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	_ "github.com/lib/pq" // PostgreSQL driver
	pg_query "github.com/pganalyze/pg_query_go/v6"
	"github.com/spf13/afero"

	"github.com/multigres/initsync/go/harness/failure"
	"github.com/multigres/initsync/go/harness/fixture"
)

// SQLFile is a suite test: a SQL script run statement by statement against
// the primary of the fixture. A statement that fails is a test failure; not
// being able to read the file or reach the primary is an error.
type SQLFile struct {
	logger *slog.Logger
	fs     afero.Fs
	path   string
	dsn    string
}

// NewSQLFile creates a test case for the script at path.
func NewSQLFile(logger *slog.Logger, fs afero.Fs, path string) *SQLFile {
	return &SQLFile{
		logger: logger.With("test", filepath.Base(path)),
		fs:     fs,
		path:   path,
	}
}

// Name implements TestCase.
func (s *SQLFile) Name() string { return s.path }

// ShortName implements TestCase.
func (s *SQLFile) ShortName() string { return filepath.Base(s.path) }

// Configure points the test at the fixture's primary.
func (s *SQLFile) Configure(fx fixture.Fixture) error {
	rs, ok := fx.(fixture.ReplicaSet)
	if !ok {
		return failure.Configf("SQL tests need a replica set fixture, got %T", fx)
	}
	s.dsn = rs.Primary().DSN()
	return nil
}

// Statements reads and splits the script. The whole script must parse
// before any of it runs.
func (s *SQLFile) Statements() ([]string, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}
	script := string(data)
	if _, err := pg_query.Parse(script); err != nil {
		return nil, failure.TestFailuref("%s does not parse: %v", s.ShortName(), err)
	}
	split, err := pg_query.SplitWithScanner(script, true)
	if err != nil {
		return nil, failure.TestFailuref("splitting %s: %v", s.ShortName(), err)
	}
	stmts := split[:0]
	for _, stmt := range split {
		if strings.TrimSpace(stmt) != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts, nil
}

// Run implements TestCase.
func (s *SQLFile) Run(ctx context.Context) error {
	if s.dsn == "" {
		return failure.Configf("%s was not configured with a fixture", s.ShortName())
	}
	stmts, err := s.Statements()
	if err != nil {
		return err
	}

	db, err := sql.Open("postgres", s.dsn)
	if err != nil {
		return fmt.Errorf("opening connection to primary: %w", err)
	}
	defer db.Close()

	// Statements share session state, so keep them on one connection.
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("connecting to primary: %w", err)
	}
	defer conn.Close()

	for i, stmt := range stmts {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return failure.TestFailuref("%s: statement %d failed: %v", s.ShortName(), i+1, err)
		}
	}
	s.logger.Debug("script finished", "statements", len(stmts))
	return nil
}
