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

// Package harness runs the tests of a suite against a fixture, calling the
// configured hooks around every test and recording everything in a report.
package harness

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"github.com/multigres/initsync/go/harness/failure"
	"github.com/multigres/initsync/go/harness/fixture"
	"github.com/multigres/initsync/go/harness/hooks"
	"github.com/multigres/initsync/go/harness/report"
	"github.com/multigres/initsync/go/harness/testcase"
)

// Job runs tests one after another against a single fixture.
type Job struct {
	logger   *slog.Logger
	name     string
	fx       fixture.Fixture
	hooks    []hooks.Hook
	rep      *report.Report
	failFast bool
}

// JobOption configures a Job.
type JobOption func(*Job)

// WithFailFast stops the job after the first test that does not pass.
func WithFailFast(failFast bool) JobOption {
	return func(j *Job) { j.failFast = failFast }
}

// WithJobName sets the prefix of the fixture setup and teardown test names.
func WithJobName(name string) JobOption {
	return func(j *Job) { j.name = name }
}

// NewJob creates a job. Hooks run in the given order.
func NewJob(logger *slog.Logger, fx fixture.Fixture, hks []hooks.Hook, rep *report.Report, opts ...JobOption) *Job {
	j := &Job{
		logger: logger,
		name:   "job0",
		fx:     fx,
		hooks:  hks,
		rep:    rep,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run sets up the fixture, runs tests and tears the fixture down. The
// fixture is torn down even when setup fails or execution stops early. The
// returned error is the reason execution stopped, combined with a teardown
// failure; nil means every test ran, whatever its outcome.
func (j *Job) Run(ctx context.Context, tests []testcase.TestCase) error {
	var merr *multierror.Error
	if err := j.runFixture(ctx, testcase.NewFixtureSetup(j.fx, j.name)); err != nil {
		j.logger.ErrorContext(ctx, "fixture setup failed", "fixture", j.fx.Name(), "error", err)
		merr = multierror.Append(merr, err)
	} else if err := j.run(ctx, tests); err != nil {
		j.logger.ErrorContext(ctx, "stopping execution", "error", err)
		merr = multierror.Append(merr, err)
	}

	if err := j.runFixture(context.WithoutCancel(ctx), testcase.NewFixtureTeardown(j.fx, j.name)); err != nil {
		j.logger.ErrorContext(ctx, "fixture teardown failed", "fixture", j.fx.Name(), "error", err)
		merr = multierror.Append(merr, err)
	}
	return merr.ErrorOrNil()
}

func (j *Job) runFixture(ctx context.Context, tc testcase.TestCase) error {
	if err := testcase.Run(ctx, j.logger, j.rep, tc); err != nil {
		return fmt.Errorf("%s: %w", tc.Name(), err)
	}
	return nil
}

func (j *Job) run(ctx context.Context, tests []testcase.TestCase) error {
	for _, h := range j.hooks {
		if err := h.BeforeSuite(ctx, j.rep); err != nil {
			return fmt.Errorf("%s before suite: %w", h.Description(), err)
		}
	}

	for _, test := range tests {
		if err := ctx.Err(); err != nil {
			return failure.WrapStopExecution(err, "interrupted before %s", test.ShortName())
		}
		if err := j.executeTest(ctx, test); err != nil {
			return err
		}
	}

	for _, h := range j.hooks {
		if err := h.AfterSuite(ctx, j.rep); err != nil {
			return fmt.Errorf("%s after suite: %w", h.Description(), err)
		}
	}
	return nil
}

func (j *Job) executeTest(ctx context.Context, test testcase.TestCase) error {
	if c, ok := test.(testcase.Configurable); ok {
		if err := c.Configure(j.fx); err != nil {
			j.recordUnstarted(test, report.StatusError, 2, err)
			return fmt.Errorf("configuring %s: %w", test.ShortName(), err)
		}
	}

	if err := j.runHooksBeforeTest(ctx, test); err != nil {
		return err
	}

	if err := testcase.Run(ctx, j.logger, j.rep, test); err != nil {
		j.logger.InfoContext(ctx, "test did not pass", "test", test.ShortName(), "error", err)
	}

	// Only the status of test itself matters here: a hook running in the
	// background may have recorded its own failure.
	if j.failFast && !j.passed(test) {
		return failure.StopExecutionf("%s failed", test.ShortName())
	}

	if !j.fx.IsRunning() {
		j.logger.ErrorContext(ctx, "marking test failed because the fixture crashed during it", "test", test.ShortName())
		j.recordErr(j.rep.SetFailure(test.Name(), 2))
		return failure.StopExecutionf("%s not running after %s", j.fx.Name(), test.ShortName())
	}

	return j.runHooksAfterTest(ctx, test)
}

// runHooksBeforeTest runs every BeforeTest. The test has not started yet,
// so failures are recorded as a finished test of their own.
func (j *Job) runHooksBeforeTest(ctx context.Context, test testcase.TestCase) error {
	for _, h := range j.hooks {
		err := h.BeforeTest(ctx, test, j.rep)
		if err == nil {
			continue
		}

		switch {
		case failure.IsStopExecution(err):
			return err
		case failure.IsServerFailure(err):
			j.logger.ErrorContext(ctx, "test marked as a failure by a hook's before test", "test", test.ShortName(), "hook", h.Description(), "error", err)
			j.recordUnstarted(test, report.StatusFail, 2, err)
			return failure.WrapStopExecution(err, "a hook's before test failed")
		case failure.IsTestFailure(err):
			j.logger.ErrorContext(ctx, "test marked as a failure by a hook's before test", "test", test.ShortName(), "hook", h.Description(), "error", err)
			j.recordUnstarted(test, report.StatusFail, 1, err)
			if j.failFast {
				return failure.WrapStopExecution(err, "a hook's before test failed")
			}
			return nil
		default:
			j.recordUnstarted(test, report.StatusError, 2, err)
			return fmt.Errorf("%s before %s: %w", h.Description(), test.ShortName(), err)
		}
	}
	return nil
}

// runHooksAfterTest runs every AfterTest. The remaining hooks are skipped
// after the first error.
func (j *Job) runHooksAfterTest(ctx context.Context, test testcase.TestCase) error {
	for _, h := range j.hooks {
		err := h.AfterTest(ctx, test, j.rep)
		if err == nil {
			continue
		}

		switch {
		case failure.IsStopExecution(err):
			return err
		case failure.IsServerFailure(err):
			j.logger.ErrorContext(ctx, "test marked as a failure by a hook's after test", "test", test.ShortName(), "hook", h.Description(), "error", err)
			j.recordErr(j.rep.SetFailure(test.Name(), 2))
			return failure.WrapStopExecution(err, "a hook's after test failed")
		case failure.IsTestFailure(err):
			j.logger.ErrorContext(ctx, "test marked as a failure by a hook's after test", "test", test.ShortName(), "hook", h.Description(), "error", err)
			j.recordErr(j.rep.SetFailure(test.Name(), 1))
			if j.failFast {
				return failure.WrapStopExecution(err, "a hook's after test failed")
			}
			return nil
		default:
			j.recordErr(j.rep.SetError(test.Name()))
			return fmt.Errorf("%s after %s: %w", h.Description(), test.ShortName(), err)
		}
	}
	return nil
}

func (j *Job) passed(test testcase.TestCase) bool {
	info, err := j.rep.Find(test.Name())
	return err == nil && info.Status == report.StatusPass
}

// recordUnstarted records test, which never ran, with the given outcome.
func (j *Job) recordUnstarted(test testcase.TestCase, status report.Status, returnCode int, cause error) {
	j.rep.StartTest(test.Name(), false)
	if status == report.StatusError {
		j.recordErr(j.rep.AddError(test.Name(), returnCode, cause))
	} else {
		j.recordErr(j.rep.AddFailure(test.Name(), returnCode, cause))
	}
	j.recordErr(j.rep.StopTest(test.Name()))
}

func (j *Job) recordErr(err error) {
	if err != nil {
		j.logger.Error("failed to update report", "error", err)
	}
}

// ExitCode maps the outcome of a run to the process exit code: 0 when every
// recorded test passed and execution was not stopped, otherwise the highest
// return code among the tests that did not pass.
func ExitCode(rep *report.Report, runErr error) int {
	if runErr == nil && rep.WasSuccessful() {
		return 0
	}
	code := 0
	for _, info := range rep.TestInfos() {
		if info.Status != report.StatusPass && info.ReturnCode > code {
			code = info.ReturnCode
		}
	}
	switch {
	case code > 0:
		return code
	case runErr != nil:
		return 2
	}
	return 1
}
