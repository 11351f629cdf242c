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
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/multigres/initsync/go/harness/fixture"
	"github.com/multigres/initsync/go/harness/hooks"
	"github.com/multigres/initsync/go/harness/report"
	"github.com/multigres/initsync/go/harness/testcase"
)

// IntermediateClass is the hook class of PeriodicSyncDriver.
const IntermediateClass = "IntermediateInitialSync"

// PeriodicSyncDriver runs a full sync cycle after every N tests: restart
// initial sync, wait up to CatchUpTimeout for it to finish, validate.
type PeriodicSyncDriver struct {
	hooks.Base
	*hookState
}

// NewPeriodicSyncDriver creates the hook for fx, which must be a
// fixture.ReplicaSet.
func NewPeriodicSyncDriver(logger *slog.Logger, fx fixture.Fixture, opts Options, extra ...Option) (*PeriodicSyncDriver, error) {
	s, err := newHookState(logger, fx, opts, extra)
	if err != nil {
		return nil, err
	}
	return &PeriodicSyncDriver{hookState: s}, nil
}

// Description implements hooks.Hook.
func (d *PeriodicSyncDriver) Description() string {
	return "Intermediate Initial Sync"
}

// AfterTest implements hooks.Hook. Only every Nth call does any work, and
// only those calls are recorded in rep.
func (d *PeriodicSyncDriver) AfterTest(ctx context.Context, test testcase.TestCase, rep *report.Report) error {
	d.beginCheck()
	d.enter(PhaseWaitingThreshold)
	d.testsRun++
	if d.testsRun < d.n {
		d.enter(PhaseIdle)
		return nil
	}
	d.testsRun = 0

	dyn := testcase.NewDynamic(test, IntermediateClass, func(ctx context.Context) error {
		return d.cycle(ctx, test.ShortName())
	})
	return testcase.RunDynamic(ctx, d.logger, rep, dyn)
}

func (d *PeriodicSyncDriver) cycle(ctx context.Context, after string) error {
	node, err := d.rs.SyncTarget()
	if err != nil {
		return err
	}

	d.enter(PhaseCycling)
	if err := d.restartSync(ctx, node, true); err != nil {
		return err
	}

	// The node may be a new process, so connect after the restart.
	admin, err := node.Admin(ctx)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", node.Name(), err)
	}
	defer admin.Close()

	d.logger.InfoContext(ctx, "waiting for initial sync node to go into SECONDARY state", "node", node.Name())
	if err := admin.WaitForMemberState(ctx, fixture.StateSecondary, CatchUpTimeout); err != nil {
		if errors.Is(err, fixture.ErrWaitTimeout) {
			d.enter(PhaseFailed)
			return notCaughtUp(node)
		}
		return fmt.Errorf("waiting for %s to catch up: %w", node.Name(), err)
	}

	d.enter(PhaseCaughtUp)
	return d.validate(ctx, node, after)
}
