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
	"log/slog"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/multigres/initsync/go/harness/fixture"
	"github.com/multigres/initsync/go/harness/hooks"
	"github.com/multigres/initsync/go/harness/hooks/initialsync"
	"github.com/multigres/initsync/go/provisioner/localpg"
	"github.com/multigres/initsync/go/servenv"
	"github.com/multigres/initsync/go/viperutil"
)

// InitSyncCommand holds the configuration shared by the initsync commands.
type InitSyncCommand struct {
	reg        *viperutil.Registry
	reportFile viperutil.Value[string]
	failFast   viperutil.Value[bool]
	vc         *viperutil.ViperConfig
	lg         *servenv.Logger

	fs       afero.Fs
	fixtures *fixture.Registry
	hooks    *hooks.Registry
}

// ExitError carries the exit code of a suite run that did not pass.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exit code %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// GetRootCommand creates the root command with all subcommands and the
// built-in fixture and hook classes registered.
func GetRootCommand() (*cobra.Command, *InitSyncCommand) {
	reg := viperutil.NewRegistry()
	ic := &InitSyncCommand{
		reg: reg,
		reportFile: viperutil.Configure(reg, "report-file", viperutil.Options[string]{
			Default:  "",
			FlagName: "report-file",
			EnvVars:  []string{"INITSYNC_REPORT_FILE"},
		}),
		failFast: viperutil.Configure(reg, "fail-fast", viperutil.Options[bool]{
			Default:  false,
			FlagName: "fail-fast",
		}),
		vc:       viperutil.NewViperConfig(reg),
		lg:       servenv.NewLogger(reg),
		fs:       afero.NewOsFs(),
		fixtures: fixture.NewRegistry(),
		hooks:    hooks.NewRegistry(),
	}
	localpg.Register(ic.fixtures)
	initialsync.Register(ic.hooks)

	root := &cobra.Command{
		Use:   "initsync",
		Short: "Initial sync verification for replicated PostgreSQL test runs",
		Long: `initsync runs a suite of SQL tests against a PostgreSQL replica set. Hooks
configured in the suite keep an initial sync node cloning from the primary
between tests and check that it catches up with the same data.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := ic.vc.LoadConfig(ic.reg); err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			ic.lg.SetupLogging()
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return ic.lg.Close()
		},
	}

	root.PersistentFlags().String("report-file", ic.reportFile.Default(), "Write report.json to this path")
	root.PersistentFlags().Bool("fail-fast", ic.failFast.Default(), "Stop after the first test that does not pass, whatever the suite says")
	ic.vc.RegisterFlags(root.PersistentFlags())
	ic.lg.RegisterFlags(root.PersistentFlags())

	viperutil.BindFlags(root.PersistentFlags(),
		ic.reportFile,
		ic.failFast,
	)

	AddRunCommand(root, ic)
	AddListCommands(root, ic)

	return root, ic
}

// GetLogger returns the configured logger instance.
func (ic *InitSyncCommand) GetLogger() *slog.Logger {
	return ic.lg.GetLogger()
}
