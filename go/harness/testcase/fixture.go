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
	"fmt"

	"github.com/multigres/initsync/go/harness/fixture"
)

// FixtureSetup records starting the fixture as a test case.
type FixtureSetup struct {
	fx  fixture.Fixture
	job string
}

// NewFixtureSetup creates the setup test case for the given job.
func NewFixtureSetup(fx fixture.Fixture, job string) *FixtureSetup {
	return &FixtureSetup{fx: fx, job: job}
}

func (f *FixtureSetup) Name() string      { return fmt.Sprintf("%s:%s:setup", f.job, f.fx.Name()) }
func (f *FixtureSetup) ShortName() string { return f.Name() }

// Run sets up the fixture and waits for it to be usable.
func (f *FixtureSetup) Run(ctx context.Context) error {
	if err := f.fx.Setup(ctx); err != nil {
		return fmt.Errorf("setting up %s: %w", f.fx.Name(), err)
	}
	if err := f.fx.AwaitReady(ctx); err != nil {
		return fmt.Errorf("waiting for %s: %w", f.fx.Name(), err)
	}
	return nil
}

// FixtureTeardown records stopping the fixture as a test case.
type FixtureTeardown struct {
	fx  fixture.Fixture
	job string
}

// NewFixtureTeardown creates the teardown test case for the given job.
func NewFixtureTeardown(fx fixture.Fixture, job string) *FixtureTeardown {
	return &FixtureTeardown{fx: fx, job: job}
}

func (f *FixtureTeardown) Name() string      { return fmt.Sprintf("%s:%s:teardown", f.job, f.fx.Name()) }
func (f *FixtureTeardown) ShortName() string { return f.Name() }

func (f *FixtureTeardown) Run(ctx context.Context) error {
	return f.fx.Teardown(ctx)
}
