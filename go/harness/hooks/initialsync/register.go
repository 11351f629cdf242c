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

package initialsync

import (
	"log/slog"

	"github.com/multigres/initsync/go/harness/failure"
	"github.com/multigres/initsync/go/harness/fixture"
	"github.com/multigres/initsync/go/harness/hooks"
	"github.com/multigres/initsync/go/harness/validate"
	"github.com/multigres/initsync/go/viperutil"
)

// Register adds both hook classes to r. Hooks built from the registry
// validate with a checksum comparison between the primary and the sync
// target.
func Register(r *hooks.Registry) {
	r.Register(BackgroundClass, func(logger *slog.Logger, fx fixture.Fixture, params map[string]any) (hooks.Hook, error) {
		opts, err := optionsFor(logger, fx, params)
		if err != nil {
			return nil, err
		}
		return NewContinuousSyncMonitor(logger, fx, opts)
	})
	r.Register(IntermediateClass, func(logger *slog.Logger, fx fixture.Fixture, params map[string]any) (hooks.Hook, error) {
		opts, err := optionsFor(logger, fx, params)
		if err != nil {
			return nil, err
		}
		return NewPeriodicSyncDriver(logger, fx, opts)
	})
}

func optionsFor(logger *slog.Logger, fx fixture.Fixture, params map[string]any) (Options, error) {
	opts := DefaultOptions()
	if err := viperutil.DecodeParams(params, &opts); err != nil {
		return opts, failure.Configf("%v", err)
	}
	if rs, ok := fx.(fixture.ReplicaSet); ok {
		opts.Validator = validate.NewChecksum(logger, rs)
	}
	return opts, nil
}
