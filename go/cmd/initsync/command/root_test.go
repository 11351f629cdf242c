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

package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multigres/initsync/go/harness/fixture"
)

type stubFixture struct{}

func (stubFixture) Name() string                     { return "StubFixture" }
func (stubFixture) Setup(context.Context) error      { return nil }
func (stubFixture) AwaitReady(context.Context) error { return nil }
func (stubFixture) Teardown(context.Context) error   { return nil }
func (stubFixture) IsRunning() bool                  { return true }

func execute(t *testing.T, fs afero.Fs, register func(ic *InitSyncCommand), args ...string) (string, error) {
	t.Helper()
	root, ic := GetRootCommand()
	if fs != nil {
		ic.fs = fs
	}
	if register != nil {
		register(ic)
	}
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs(append(args, "--config-file-not-found-handling", "ignore", "--log-output", "stderr"))
	err := root.Execute()
	return out.String(), err
}

func TestListCommands(t *testing.T) {
	out, err := execute(t, nil, nil, "hooks")
	require.NoError(t, err)
	assert.Equal(t, "BackgroundInitialSync\nIntermediateInitialSync\n", out)

	out, err = execute(t, nil, nil, "fixtures")
	require.NoError(t, err)
	assert.Equal(t, "LocalReplicaSet\n", out)
}

func TestRunMissingSuite(t *testing.T) {
	_, err := execute(t, afero.NewMemMapFs(), nil, "run", "/suites/missing.yml")
	require.Error(t, err)
	var exitErr *ExitError
	assert.False(t, errors.As(err, &exitErr))
}

func TestRunWritesReport(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/tests/a.sql", []byte("SELECT 1;\n"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/suites/stub.yml", []byte(`
selector:
  roots: [/tests/*.sql]
executor:
  fixture:
    class: StubFixture
`), 0o644))

	register := func(ic *InitSyncCommand) {
		ic.fixtures.Register("StubFixture", func(*slog.Logger, map[string]any) (fixture.Fixture, error) {
			return stubFixture{}, nil
		})
	}
	out, err := execute(t, fs, register, "run", "/suites/stub.yml", "--report-file", "/out/report.json")

	// SQL tests need a replica set, so configuring the test fails.
	require.Error(t, err)
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 2, exitErr.Code)
	assert.Contains(t, out, "did not")
	assert.Contains(t, out, "/tests/a.sql")

	data, err := afero.ReadFile(fs, "/out/report.json")
	require.NoError(t, err)
	var rep struct {
		RunID   string `json:"run_id"`
		Results []struct {
			TestFile string `json:"test_file"`
			Status   string `json:"status"`
			ExitCode int    `json:"exit_code"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(data, &rep))
	assert.NotEmpty(t, rep.RunID)

	byFile := map[string]int{}
	for _, r := range rep.Results {
		byFile[r.TestFile] = r.ExitCode
	}
	assert.Equal(t, 2, byFile["/tests/a.sql"])
	assert.Equal(t, 0, byFile["job0:StubFixture:setup"])
	assert.Equal(t, 0, byFile["job0:StubFixture:teardown"])
}
