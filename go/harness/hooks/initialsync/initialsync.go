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

// Package initialsync provides hooks that verify initial sync of a replica
// while a suite runs against its replica set.
//
// Both hooks act on the replica set's sync target, a replica that keeps
// re-running initial sync from the primary:
//
//   - ContinuousSyncMonitor (class BackgroundInitialSync) checks after
//     every test whether the sync target has caught up. Once it has, the
//     hook validates the data and restarts initial sync. Every N tests it
//     waits for the sync target to catch up, and while sync is still in
//     progress it occasionally restarts sync to exercise resumption.
//   - PeriodicSyncDriver (class IntermediateInitialSync) restarts initial
//     sync after every N tests, waits for it to finish and validates.
package initialsync

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/multigres/initsync/go/harness/failure"
	"github.com/multigres/initsync/go/harness/fixture"
	"github.com/multigres/initsync/go/harness/hooks"
)

const (
	// DefaultN is the default number of tests between sync checkpoints.
	// Suites that also clean the fixture periodically should use the same
	// value for both.
	DefaultN = 20

	// CatchUpTimeout bounds every wait for the sync target to catch up.
	// Reaching it is a failure, not a condition to retry.
	CatchUpTimeout = 20 * time.Minute

	// faultInjectionRate is the chance of restarting an in-progress sync
	// after a test.
	faultInjectionRate = 0.2
)

// Mode selects how a sync cycle is restarted.
type Mode int

const (
	// ModeRestart tears the sync target down, discards its data and starts a
	// fresh instance.
	ModeRestart Mode = iota
	// ModeResync asks the running sync target to resync in place.
	ModeResync
)

func (m Mode) String() string {
	if m == ModeResync {
		return "resync"
	}
	return "restart"
}

// Phase is a state of the per-test check.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseWaitingThreshold
	PhaseCaughtUp
	PhaseNotCaughtUp
	PhaseUnavailable
	PhaseValidating
	PhaseFaultInjected
	PhaseCycling
	PhaseFailed
)

var phaseNames = [...]string{
	PhaseIdle:             "IDLE",
	PhaseWaitingThreshold: "WAITING_THRESHOLD",
	PhaseCaughtUp:         "CAUGHT_UP",
	PhaseNotCaughtUp:      "NOT_CAUGHT_UP",
	PhaseUnavailable:      "UNAVAILABLE",
	PhaseValidating:       "VALIDATING",
	PhaseFaultInjected:    "FAULT_INJECTED",
	PhaseCycling:          "CYCLING",
	PhaseFailed:           "FAILED",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

// Options are the per-suite hook parameters.
type Options struct {
	// N is the number of tests between sync checkpoints.
	N int `mapstructure:"n"`
	// UseResync selects ModeResync instead of ModeRestart.
	UseResync bool `mapstructure:"use_resync"`
	// Validator checks the sync target's data once it has caught up.
	Validator fixture.Validator `mapstructure:"-"`
}

// DefaultOptions returns Options with N set to DefaultN.
func DefaultOptions() Options {
	return Options{N: DefaultN}
}

// Option configures a hook beyond its suite parameters.
type Option func(*hookState)

// WithRand sets the random source used for fault injection.
func WithRand(rng *rand.Rand) Option {
	return func(s *hookState) {
		s.rng = rng
	}
}

// SyncHook is implemented by ContinuousSyncMonitor and PeriodicSyncDriver
// only.
type SyncHook interface {
	hooks.Hook
	// Phase returns the last phase reached by the most recent AfterTest.
	Phase() Phase
	// Phases returns every phase the most recent AfterTest went through,
	// starting with PhaseIdle.
	Phases() []Phase
	TestsRun() int
	Mode() Mode
	syncHook()
}

var (
	_ SyncHook = (*ContinuousSyncMonitor)(nil)
	_ SyncHook = (*PeriodicSyncDriver)(nil)
)

// hookState is owned by a single hook and only touched from AfterTest,
// which the harness never calls concurrently.
type hookState struct {
	logger    *slog.Logger
	rs        fixture.ReplicaSet
	validator fixture.Validator
	rng       *rand.Rand
	n         int
	mode      Mode

	testsRun       int
	randomRestarts int
	phases         []Phase
}

func newHookState(logger *slog.Logger, fx fixture.Fixture, opts Options, extra []Option) (*hookState, error) {
	rs, ok := fx.(fixture.ReplicaSet)
	if !ok {
		return nil, failure.Configf("fixture must be a replica set, not %T", fx)
	}
	if opts.N < 1 {
		return nil, failure.Configf("n must be positive, got %d", opts.N)
	}
	if opts.Validator == nil {
		return nil, failure.Configf("a validator is required")
	}

	s := &hookState{
		logger:    logger,
		rs:        rs,
		validator: opts.Validator,
		rng:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(time.Now().UnixNano()))),
		n:         opts.N,
		mode:      ModeRestart,
	}
	if opts.UseResync {
		s.mode = ModeResync
	}
	for _, opt := range extra {
		opt(s)
	}
	return s, nil
}

func (s *hookState) Phase() Phase {
	if len(s.phases) == 0 {
		return PhaseIdle
	}
	return s.phases[len(s.phases)-1]
}

func (s *hookState) Phases() []Phase { return slices.Clone(s.phases) }
func (s *hookState) TestsRun() int   { return s.testsRun }
func (s *hookState) Mode() Mode      { return s.mode }

// beginCheck starts a new phase trail.
func (s *hookState) beginCheck() {
	s.phases = append(s.phases[:0], PhaseIdle)
}

func (s *hookState) enter(p Phase) {
	s.phases = append(s.phases, p)
}

// RandomRestarts is the number of sync restarts injected since the last
// successful validation.
func (s *hookState) RandomRestarts() int { return s.randomRestarts }

func (s *hookState) syncHook() {}

// restartSync starts initial sync over on node. In ModeResync, wait is
// passed through to the resync command. In ModeRestart the node is always
// ready when restartSync returns.
func (s *hookState) restartSync(ctx context.Context, node fixture.Node, wait bool) error {
	if s.mode == ModeResync {
		s.logger.InfoContext(ctx, "calling resync on initial sync node", "node", node.Name(), "wait", wait)
		admin, err := node.Admin(ctx)
		if err != nil {
			return fmt.Errorf("connecting to %s: %w", node.Name(), err)
		}
		defer admin.Close()
		if err := admin.Resync(ctx, wait); err != nil {
			return fmt.Errorf("resync of %s: %w", node.Name(), err)
		}
		return nil
	}

	if err := node.Teardown(ctx); err != nil {
		return fmt.Errorf("tearing down %s: %w", node.Name(), err)
	}
	if err := node.Discard(ctx); err != nil {
		return fmt.Errorf("discarding data of %s: %w", node.Name(), err)
	}
	s.logger.InfoContext(ctx, "starting the initial sync node back up again", "node", node.Name())
	if err := node.Setup(ctx); err != nil {
		return fmt.Errorf("setting up %s: %w", node.Name(), err)
	}
	if err := node.AwaitReady(ctx); err != nil {
		return fmt.Errorf("waiting for %s: %w", node.Name(), err)
	}
	return nil
}

// validate runs the validator and blames a failure on the data, not on the
// hook.
func (s *hookState) validate(ctx context.Context, node fixture.Node, after string) error {
	s.enter(PhaseValidating)
	if err := s.validator.Validate(ctx); err != nil {
		s.enter(PhaseFailed)
		return failure.WrapServerFailure(err, "validation of %s failed after %s", node.Name(), after)
	}
	return nil
}

func notCaughtUp(node fixture.Node) error {
	return failure.TestFailuref("initial sync node %s did not catch up after waiting %s", node.Name(), CatchUpTimeout)
}
