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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/multigres/initsync/go/harness"
	"github.com/multigres/initsync/go/harness/report"
	"github.com/multigres/initsync/go/harness/suite"
)

// AddRunCommand adds the run subcommand to the root command.
func AddRunCommand(root *cobra.Command, ic *InitSyncCommand) {
	root.AddCommand(&cobra.Command{
		Use:   "run SUITE_FILE",
		Short: "Run a suite",
		Long: `Run the tests selected by a suite file against its fixture, calling the
suite's hooks around every test.

The exit code is 0 when every test passed, 1 when a test failed and 2 when
the fixture or a hook reported a server failure or an error.

Examples:
  # Run a suite and write the report
  initsync run suites/initial_sync.yml --report-file report.json`,
		Args: cobra.ExactArgs(1),
		RunE: ic.runSuite,
	})
}

func (ic *InitSyncCommand) runSuite(cmd *cobra.Command, args []string) error {
	logger := ic.GetLogger()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := suite.Load(ic.fs, args[0])
	if err != nil {
		return err
	}
	logger = logger.With("suite", s.Name)

	tests, err := s.MakeTests(logger, ic.fs)
	if err != nil {
		return err
	}
	fx, err := s.MakeFixture(logger, ic.fixtures)
	if err != nil {
		return err
	}
	hks, err := s.MakeHooks(logger, ic.hooks, fx)
	if err != nil {
		return err
	}

	rep := report.New(logger)
	logger.InfoContext(ctx, "starting suite", "run_id", rep.RunID(), "tests", len(tests), "fixture", fx.Name())

	failFast := s.Executor.FailFast || ic.failFast.Get()
	runErr := harness.NewJob(logger, fx, hks, rep, harness.WithFailFast(failFast)).Run(ctx, tests)

	if path := ic.reportFile.Get(); path != "" {
		if err := rep.WriteJSON(ic.fs, path); err != nil {
			logger.ErrorContext(ctx, "failed to write report", "path", path, "error", err)
		}
	}

	passed, notPassed := rep.Summary()
	logger.InfoContext(ctx, "suite finished",
		"passed", passed,
		"not_passed", notPassed,
		"dynamic", rep.NumDynamic(),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "%d test(s) passed, %d did not\n", passed, len(notPassed))
	for _, name := range notPassed {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", name)
	}

	if code := harness.ExitCode(rep, runErr); code != 0 {
		return &ExitError{Code: code, Err: runErr}
	}
	return nil
}
