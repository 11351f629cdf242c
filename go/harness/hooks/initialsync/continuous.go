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

// BackgroundClass is the hook class of ContinuousSyncMonitor.
const BackgroundClass = "BackgroundInitialSync"

// ContinuousSyncMonitor checks the sync target after every test. When it
// has caught up, its data is validated and initial sync is restarted.
//
// Every N tests the monitor waits up to CatchUpTimeout for the sync target
// to catch up; not catching up in that time fails the test that just ran.
// Between those checkpoints, if sync is still in progress, the monitor
// restarts it with a 20% chance, at most once per validation.
type ContinuousSyncMonitor struct {
	hooks.Base
	*hookState
}

// NewContinuousSyncMonitor creates the hook for fx, which must be a
// fixture.ReplicaSet.
func NewContinuousSyncMonitor(logger *slog.Logger, fx fixture.Fixture, opts Options, extra ...Option) (*ContinuousSyncMonitor, error) {
	s, err := newHookState(logger, fx, opts, extra)
	if err != nil {
		return nil, err
	}
	return &ContinuousSyncMonitor{hookState: s}, nil
}

// Description implements hooks.Hook.
func (m *ContinuousSyncMonitor) Description() string {
	return "Background Initial Sync"
}

// AfterTest implements hooks.Hook. The check is recorded in rep as a
// dynamic test case named after test.
func (m *ContinuousSyncMonitor) AfterTest(ctx context.Context, test testcase.TestCase, rep *report.Report) error {
	m.testsRun++
	m.beginCheck()

	d := testcase.NewDynamic(test, BackgroundClass, func(ctx context.Context) error {
		return m.check(ctx, test.ShortName())
	})
	return testcase.RunDynamic(ctx, m.logger, rep, d)
}

func (m *ContinuousSyncMonitor) check(ctx context.Context, after string) error {
	node, err := m.rs.SyncTarget()
	if err != nil {
		return err
	}
	admin, err := node.Admin(ctx)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", node.Name(), err)
	}
	defer admin.Close()

	m.enter(PhaseWaitingThreshold)
	thresholdFired := false
	if m.testsRun >= m.n {
		m.logger.InfoContext(ctx, "waiting for initial sync node to go into SECONDARY state",
			"tests_run", m.testsRun, "node", node.Name())
		// Reset first so a failed wait does not leave the counter at n.
		m.testsRun = 0
		thresholdFired = true

		if err := admin.WaitForMemberState(ctx, fixture.StateSecondary, CatchUpTimeout); err != nil {
			if errors.Is(err, fixture.ErrWaitTimeout) {
				m.enter(PhaseFailed)
				return notCaughtUp(node)
			}
			return fmt.Errorf("waiting for %s to catch up: %w", node.Name(), err)
		}
	}

	state, err := admin.ReplicationState(ctx)
	switch {
	case errors.Is(err, fixture.ErrStateUnavailable):
		// The node is still in STARTUP and will report a state after a
		// later test.
		m.enter(PhaseUnavailable)
		m.logger.InfoContext(ctx, "replication state unavailable, skipping check", "test", after, "node", node.Name())
		return nil
	case err != nil:
		return fmt.Errorf("querying replication state of %s: %w", node.Name(), err)
	}

	if state != fixture.StateSecondary {
		if thresholdFired {
			m.enter(PhaseFailed)
			return notCaughtUp(node)
		}
		m.enter(PhaseNotCaughtUp)
		m.logger.InfoContext(ctx, "initial sync node is not SECONDARY, skipping check",
			"state", state, "test", after, "node", node.Name())
		return m.maybeInjectFault(ctx, node)
	}

	m.enter(PhaseCaughtUp)
	m.randomRestarts = 0
	if err := m.validate(ctx, node, after); err != nil {
		return err
	}

	m.enter(PhaseCycling)
	return m.restartSync(ctx, node, false)
}

// maybeInjectFault restarts an unfinished sync at most once per validation.
func (m *ContinuousSyncMonitor) maybeInjectFault(ctx context.Context, node fixture.Node) error {
	if m.randomRestarts >= 1 || m.rng.Float64() >= faultInjectionRate {
		return nil
	}

	m.enter(PhaseFaultInjected)
	m.logger.InfoContext(ctx, "randomly restarting initial sync in the middle of initial sync",
		"mode", m.mode, "node", node.Name())
	m.enter(PhaseCycling)
	if err := m.restartSync(ctx, node, false); err != nil {
		return err
	}
	m.randomRestarts++
	return nil
}
