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
	"log/slog"

	"github.com/multigres/initsync/go/harness/failure"
	"github.com/multigres/initsync/go/harness/report"
)

// Dynamic is a test case created by a hook while the suite runs. It is
// named after the test it follows and the hook class that created it, for
// example "t1.sql:BackgroundInitialSync".
type Dynamic struct {
	baseName  string
	hookClass string
	run       func(ctx context.Context) error
}

// NewDynamic creates a dynamic test case that runs fn after base.
func NewDynamic(base TestCase, hookClass string, fn func(ctx context.Context) error) *Dynamic {
	return &Dynamic{
		baseName:  base.ShortName(),
		hookClass: hookClass,
		run:       fn,
	}
}

// Name implements TestCase.
func (d *Dynamic) Name() string {
	return d.baseName + ":" + d.hookClass
}

// ShortName implements TestCase.
func (d *Dynamic) ShortName() string {
	return d.Name()
}

// BaseName is the short name of the test the hook ran after.
func (d *Dynamic) BaseName() string {
	return d.baseName
}

// Run implements TestCase.
func (d *Dynamic) Run(ctx context.Context) error {
	return d.run(ctx)
}

// RunDynamic runs d and records it in rep as a dynamic test case. Every
// error is recorded as a failure: a TestFailure with return code 1, and
// anything else, ServerFailure included, with return code 2. The error is
// returned so the caller can blame the test that ran before the hook.
func RunDynamic(ctx context.Context, logger *slog.Logger, rep *report.Report, d *Dynamic) error {
	rep.StartTest(d.Name(), true)
	defer stopTest(logger, rep, d)

	err := d.Run(ctx)
	if err == nil {
		recordErr(logger, rep.AddSuccess(d.Name()))
		return nil
	}

	returnCode := failure.ReturnCode(err)
	logger.Error("dynamic test case failed", "test", d.Name(), "error", err)
	recordErr(logger, rep.AddFailure(d.Name(), returnCode, err))
	return err
}
