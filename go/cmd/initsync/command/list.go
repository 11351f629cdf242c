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

	"github.com/spf13/cobra"
)

// AddListCommands adds the hooks and fixtures subcommands, which print the
// registered class names.
func AddListCommands(root *cobra.Command, ic *InitSyncCommand) {
	root.AddCommand(&cobra.Command{
		Use:   "hooks",
		Short: "List the hook classes a suite can use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, class := range ic.hooks.Classes() {
				fmt.Fprintln(cmd.OutOrStdout(), class)
			}
			return nil
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "fixtures",
		Short: "List the fixture classes a suite can use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, class := range ic.fixtures.Classes() {
				fmt.Fprintln(cmd.OutOrStdout(), class)
			}
			return nil
		},
	})
}
