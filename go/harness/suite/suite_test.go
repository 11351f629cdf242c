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

package suite

import (
	"context"
	"log/slog"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multigres/initsync/go/harness/failure"
	"github.com/multigres/initsync/go/harness/fixture"
	"github.com/multigres/initsync/go/harness/hooks"
	"github.com/multigres/initsync/go/harness/report"
	"github.com/multigres/initsync/go/harness/testcase"
)

const suiteYAML = `
selector:
  roots:
    - /tests/*.sql
    - /tests/a.sql
  exclude_files:
    - /tests/skip_*.sql
executor:
  fail_fast: true
  fixture:
    class: FakeFixture
    num_nodes: 3
  hooks:
    - class: FakeHook
      n: 5
      use_resync: true
    - class: FakeHook
`

func testFs(t *testing.T, files ...string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	for _, f := range files {
		require.NoError(t, afero.WriteFile(fs, f, []byte("SELECT 1;\n"), 0o644))
	}
	return fs
}

func TestLoad(t *testing.T) {
	fs := testFs(t)
	require.NoError(t, afero.WriteFile(fs, "suites/initial_sync.yml", []byte(suiteYAML), 0o644))

	s, err := Load(fs, "suites/initial_sync.yml")
	require.NoError(t, err)

	assert.Equal(t, "initial_sync", s.Name)
	assert.Equal(t, SQLTestKind, s.TestKind)
	assert.Equal(t, []string{"/tests/*.sql", "/tests/a.sql"}, s.Selector.Roots)
	assert.True(t, s.Executor.FailFast)
	assert.Equal(t, "FakeFixture", s.Executor.Fixture.Class)
	assert.Equal(t, map[string]any{"num_nodes": 3}, s.Executor.Fixture.Params)
	require.Len(t, s.Executor.Hooks, 2)
	assert.Equal(t, map[string]any{"n": 5, "use_resync": true}, s.Executor.Hooks[0].Params)
	assert.Empty(t, s.Executor.Hooks[1].Params)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(afero.NewMemMapFs(), "nope.yml")
	require.Error(t, err)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "empty",
			yaml: "test_kind: sql_test\n",
			want: []string{"selector.roots is empty", "executor.fixture.class is required"},
		},
		{
			name: "unknown kind",
			yaml: "test_kind: js_test\nselector: {roots: [a.sql]}\nexecutor: {fixture: {class: X}}\n",
			want: []string{`unsupported test_kind "js_test"`},
		},
		{
			name: "unknown top-level key",
			yaml: "selectr: {roots: [a.sql]}\n",
			want: []string{"selectr"},
		},
		{
			name: "hook without class",
			yaml: "selector: {roots: [a.sql]}\nexecutor: {fixture: {class: X}, hooks: [{n: 3}]}\n",
			want: []string{"executor.hooks[0].class is required"},
		},
		{
			name: "bad pattern",
			yaml: "selector: {roots: ['[']}\nexecutor: {fixture: {class: X}}\n",
			want: []string{"bad pattern"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("s", []byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, failure.IsConfig(err))
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}

func TestSelectTests(t *testing.T) {
	fs := testFs(t, "/tests/b.sql", "/tests/a.sql", "/tests/skip_me.sql", "/tests/readme.md")
	s, err := Parse("s", []byte(suiteYAML))
	require.NoError(t, err)

	files, err := s.SelectTests(fs)
	require.NoError(t, err)
	assert.Equal(t, []string{"/tests/a.sql", "/tests/b.sql"}, files)
}

func TestSelectTestsUnmatchedExclude(t *testing.T) {
	fs := testFs(t, "/tests/a.sql")
	s, err := Parse("s", []byte(suiteYAML))
	require.NoError(t, err)

	_, err = s.SelectTests(fs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/tests/skip_*.sql")
}

func TestSelectTestsNone(t *testing.T) {
	s, err := Parse("s", []byte("selector: {roots: [/tests/*.sql]}\nexecutor: {fixture: {class: X}}\n"))
	require.NoError(t, err)

	_, err = s.SelectTests(afero.NewMemMapFs())
	require.Error(t, err)
	assert.True(t, failure.IsConfig(err))
}

func TestMakeTests(t *testing.T) {
	fs := testFs(t, "/tests/a.sql", "/tests/skip_x.sql")
	s, err := Parse("s", []byte(suiteYAML))
	require.NoError(t, err)

	tests, err := s.MakeTests(slog.Default(), fs)
	require.NoError(t, err)
	require.Len(t, tests, 1)
	assert.Equal(t, "/tests/a.sql", tests[0].Name())
	assert.Equal(t, "a.sql", tests[0].ShortName())
	_, ok := tests[0].(testcase.Configurable)
	assert.True(t, ok)
}

type stubFixture struct {
	params map[string]any
}

func (*stubFixture) Name() string                     { return "FakeFixture" }
func (*stubFixture) Setup(context.Context) error      { return nil }
func (*stubFixture) AwaitReady(context.Context) error { return nil }
func (*stubFixture) Teardown(context.Context) error   { return nil }
func (*stubFixture) IsRunning() bool                  { return true }

type stubHook struct {
	hooks.Base
	fx     fixture.Fixture
	params map[string]any
}

func (*stubHook) Description() string { return "stub" }

func (*stubHook) AfterTest(context.Context, testcase.TestCase, *report.Report) error { return nil }

func TestMakeFixtureAndHooks(t *testing.T) {
	s, err := Parse("s", []byte(suiteYAML))
	require.NoError(t, err)

	fixtures := fixture.NewRegistry()
	fixtures.Register("FakeFixture", func(_ *slog.Logger, params map[string]any) (fixture.Fixture, error) {
		return &stubFixture{params: params}, nil
	})
	hookReg := hooks.NewRegistry()
	hookReg.Register("FakeHook", func(_ *slog.Logger, fx fixture.Fixture, params map[string]any) (hooks.Hook, error) {
		return &stubHook{fx: fx, params: params}, nil
	})

	fx, err := s.MakeFixture(slog.Default(), fixtures)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"num_nodes": 3}, fx.(*stubFixture).params)

	hks, err := s.MakeHooks(slog.Default(), hookReg, fx)
	require.NoError(t, err)
	require.Len(t, hks, 2)
	first := hks[0].(*stubHook)
	assert.Same(t, fx, first.fx)
	assert.Equal(t, 5, first.params["n"])
}

func TestMakeHooksUnknownClass(t *testing.T) {
	s, err := Parse("s", []byte(suiteYAML))
	require.NoError(t, err)

	_, err = s.MakeHooks(slog.Default(), hooks.NewRegistry(), &stubFixture{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown hook class "FakeHook"`)
}
