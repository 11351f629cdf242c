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

// initsync runs a suite of SQL tests against a local PostgreSQL replica set
// while hooks keep an initial sync node cloning from the primary and verify
// that it catches up with consistent data.
package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/multigres/initsync/go/cmd/initsync/command"
)

func main() {
	root, _ := command.GetRootCommand()
	if err := root.Execute(); err != nil {
		var exitErr *command.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}
