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

// Package testcase defines the units of work the harness records in a
// report: suite tests, fixture lifecycle steps and the dynamic test cases
// that hooks run between tests.
package testcase

import (
	"context"
	"log/slog"

	"github.com/multigres/initsync/go/harness/failure"
	"github.com/multigres/initsync/go/harness/fixture"
	"github.com/multigres/initsync/go/harness/report"
)

// TestCase is anything the harness can run and record.
type TestCase interface {
	// Name identifies the test in the report.
	Name() string
	// ShortName is used in log messages.
	ShortName() string
	Run(ctx context.Context) error
}

// Configurable is implemented by test cases that need the fixture before
// they run.
type Configurable interface {
	Configure(fx fixture.Fixture) error
}

// Run runs tc and records it in rep. A TestFailure is recorded as a failure
// with return code 1; any other error is recorded as an error with return
// code 2. The error from tc is returned unchanged.
func Run(ctx context.Context, logger *slog.Logger, rep *report.Report, tc TestCase) error {
	rep.StartTest(tc.Name(), false)
	defer stopTest(logger, rep, tc)

	err := tc.Run(ctx)
	switch {
	case err == nil:
		recordErr(logger, rep.AddSuccess(tc.Name()))
	case failure.IsTestFailure(err) && !failure.IsServerFailure(err):
		recordErr(logger, rep.AddFailure(tc.Name(), 1, err))
	default:
		recordErr(logger, rep.AddError(tc.Name(), 2, err))
	}
	return err
}

func stopTest(logger *slog.Logger, rep *report.Report, tc TestCase) {
	recordErr(logger, rep.StopTest(tc.Name()))
}

// recordErr only fails if a test was never started, which is a harness bug.
func recordErr(logger *slog.Logger, err error) {
	if err != nil {
		logger.Error("failed to update report", "error", err)
	}
}
