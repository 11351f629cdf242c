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

// Package suite loads suite definitions: which tests to run, against which
// fixture and with which hooks.
//
// A suite file looks like:
//
//	test_kind: sql_test
//	selector:
//	  roots:
//	    - tests/*.sql
//	  exclude_files:
//	    - tests/slow_*.sql
//	executor:
//	  fail_fast: false
//	  fixture:
//	    class: LocalReplicaSet
//	    start_initial_sync_node: true
//	  hooks:
//	    - class: BackgroundInitialSync
//	      n: 20
//
// Every key of a fixture or hook entry other than class is passed to the
// class factory as a parameter.
package suite

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/multigres/initsync/go/harness/failure"
	"github.com/multigres/initsync/go/harness/fixture"
	"github.com/multigres/initsync/go/harness/hooks"
	"github.com/multigres/initsync/go/harness/testcase"
)

// SQLTestKind runs every selected file as a SQL script against the primary.
const SQLTestKind = "sql_test"

// Suite is a parsed suite file.
type Suite struct {
	// Name is the file name without extension.
	Name     string   `yaml:"-"`
	TestKind string   `yaml:"test_kind"`
	Selector Selector `yaml:"selector"`
	Executor Executor `yaml:"executor"`
}

// Selector picks test files.
type Selector struct {
	// Roots are glob patterns of test files.
	Roots []string `yaml:"roots"`
	// ExcludeFiles are glob patterns removed from the files matched by
	// Roots. A pattern that excludes nothing is an error.
	ExcludeFiles []string `yaml:"exclude_files"`
}

// Executor describes how the selected tests run.
type Executor struct {
	Fixture  Class   `yaml:"fixture"`
	Hooks    []Class `yaml:"hooks"`
	FailFast bool    `yaml:"fail_fast"`
}

// Class names a registered fixture or hook class and its parameters.
type Class struct {
	Class  string         `yaml:"class"`
	Params map[string]any `yaml:",inline"`
}

// Load reads and validates the suite file at path.
func Load(fs afero.Fs, path string) (*Suite, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading suite: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Parse(name, data)
}

// Parse parses and validates a suite definition.
func Parse(name string, data []byte) (*Suite, error) {
	s := &Suite{Name: name, TestKind: SQLTestKind}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil {
		return nil, failure.Configf("parsing suite %s: %v", name, err)
	}
	if err := s.Validate(); err != nil {
		return nil, failure.Configf("invalid suite %s: %v", name, err)
	}
	return s, nil
}

// Validate checks that the suite names a test kind, a fixture class and at
// least one test root.
func (s *Suite) Validate() error {
	var merr *multierror.Error
	if s.TestKind != SQLTestKind {
		merr = multierror.Append(merr, fmt.Errorf("unsupported test_kind %q", s.TestKind))
	}
	if len(s.Selector.Roots) == 0 {
		merr = multierror.Append(merr, errors.New("selector.roots is empty"))
	}
	if s.Executor.Fixture.Class == "" {
		merr = multierror.Append(merr, errors.New("executor.fixture.class is required"))
	}
	for i, h := range s.Executor.Hooks {
		if h.Class == "" {
			merr = multierror.Append(merr, fmt.Errorf("executor.hooks[%d].class is required", i))
		}
	}
	for _, pattern := range slices.Concat(s.Selector.Roots, s.Selector.ExcludeFiles) {
		if _, err := filepath.Match(pattern, ""); err != nil {
			merr = multierror.Append(merr, fmt.Errorf("bad pattern %q: %w", pattern, err))
		}
	}
	return merr.ErrorOrNil()
}

// SelectTests returns the sorted, de-duplicated files matched by the roots
// minus the excluded ones.
func (s *Suite) SelectTests(fs afero.Fs) ([]string, error) {
	var files []string
	for _, root := range s.Selector.Roots {
		matches, err := afero.Glob(fs, root)
		if err != nil {
			return nil, fmt.Errorf("expanding %q: %w", root, err)
		}
		files = append(files, matches...)
	}
	slices.Sort(files)
	files = slices.Compact(files)

	var unmatched []string
	for _, pattern := range s.Selector.ExcludeFiles {
		before := len(files)
		files = slices.DeleteFunc(files, func(f string) bool {
			ok, _ := filepath.Match(pattern, f)
			return ok
		})
		if len(files) == before {
			unmatched = append(unmatched, pattern)
		}
	}
	if len(unmatched) > 0 {
		return nil, failure.Configf("exclude_files did not match any selected test: %s", strings.Join(unmatched, ", "))
	}
	if len(files) == 0 {
		return nil, failure.Configf("suite %s selected no tests", s.Name)
	}
	return files, nil
}

// MakeTests builds a test case for every selected file.
func (s *Suite) MakeTests(logger *slog.Logger, fs afero.Fs) ([]testcase.TestCase, error) {
	files, err := s.SelectTests(fs)
	if err != nil {
		return nil, err
	}
	tests := make([]testcase.TestCase, 0, len(files))
	for _, f := range files {
		tests = append(tests, testcase.NewSQLFile(logger, fs, f))
	}
	return tests, nil
}

// MakeFixture builds the executor fixture from reg.
func (s *Suite) MakeFixture(logger *slog.Logger, reg *fixture.Registry) (fixture.Fixture, error) {
	f := s.Executor.Fixture
	return reg.Make(f.Class, logger.With("fixture", f.Class), f.Params)
}

// MakeHooks builds the executor hooks from reg, in suite order.
func (s *Suite) MakeHooks(logger *slog.Logger, reg *hooks.Registry, fx fixture.Fixture) ([]hooks.Hook, error) {
	hks := make([]hooks.Hook, 0, len(s.Executor.Hooks))
	for _, h := range s.Executor.Hooks {
		hook, err := reg.Make(h.Class, logger, fx, h.Params)
		if err != nil {
			return nil, err
		}
		hks = append(hks, hook)
	}
	return hks, nil
}
