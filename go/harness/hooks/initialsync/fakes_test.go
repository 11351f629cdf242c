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
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/multigres/initsync/go/harness/fixture"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// constSource makes rand.Float64 return a fixed value: 0 for constSource(0)
// and just under 1 for constSource(^uint64(0)).
type constSource uint64

func (c constSource) Uint64() uint64 { return uint64(c) }

func alwaysInject() *rand.Rand { return rand.New(constSource(0)) }
func neverInject() *rand.Rand  { return rand.New(constSource(^uint64(0))) }

type stateResult struct {
	state fixture.MemberState
	err   error
}

// fakeCluster is a replica set whose sync target is scripted by the test.
// Every call made on the node, its admin connections and the validator is
// appended to calls.
type fakeCluster struct {
	calls []string

	// states are returned by ReplicationState in order. Once exhausted,
	// defaultState is returned.
	states       []stateResult
	defaultState stateResult

	waitErr        error
	resyncErr      error
	adminErr       error
	teardownErr    error
	discardErr     error
	validateErr    error
	syncTargetErr  error
	lastWaitTarget fixture.MemberState
	lastWaitLimit  time.Duration
}

func newFakeCluster(def fixture.MemberState) *fakeCluster {
	return &fakeCluster{defaultState: stateResult{state: def}}
}

func (c *fakeCluster) record(call string) { c.calls = append(c.calls, call) }

func (c *fakeCluster) count(call string) int {
	n := 0
	for _, got := range c.calls {
		if got == call {
			n++
		}
	}
	return n
}

// cycles returns the number of restart cycles run in either mode.
func (c *fakeCluster) cycles() int {
	return c.count("teardown") + c.count("resync(wait=false)") + c.count("resync(wait=true)")
}

func (c *fakeCluster) Name() string                     { return "rs0" }
func (c *fakeCluster) Setup(context.Context) error      { return nil }
func (c *fakeCluster) AwaitReady(context.Context) error { return nil }
func (c *fakeCluster) Teardown(context.Context) error   { return nil }
func (c *fakeCluster) IsRunning() bool                  { return true }
func (c *fakeCluster) Primary() fixture.Node            { return &fakeNode{c: c, name: "primary"} }

func (c *fakeCluster) SyncTarget() (fixture.Node, error) {
	if c.syncTargetErr != nil {
		return nil, c.syncTargetErr
	}
	return &fakeNode{c: c, name: "sync"}, nil
}

func (c *fakeCluster) Validate(context.Context) error {
	c.record("validate")
	return c.validateErr
}

type fakeNode struct {
	c    *fakeCluster
	name string
}

func (n *fakeNode) Name() string { return n.name }
func (n *fakeNode) DSN() string  { return "host=/tmp dbname=" + n.name }

func (n *fakeNode) Setup(context.Context) error {
	n.c.record("setup")
	return nil
}

func (n *fakeNode) AwaitReady(context.Context) error {
	n.c.record("await")
	return nil
}

func (n *fakeNode) Teardown(context.Context) error {
	n.c.record("teardown")
	return n.c.teardownErr
}

func (n *fakeNode) Discard(context.Context) error {
	n.c.record("discard")
	return n.c.discardErr
}

func (n *fakeNode) Admin(context.Context) (fixture.Admin, error) {
	n.c.record("admin")
	if n.c.adminErr != nil {
		return nil, n.c.adminErr
	}
	return &fakeAdmin{c: n.c}, nil
}

type fakeAdmin struct {
	c *fakeCluster
}

func (a *fakeAdmin) ReplicationState(context.Context) (fixture.MemberState, error) {
	a.c.record("state")
	res := a.c.defaultState
	if len(a.c.states) > 0 {
		res, a.c.states = a.c.states[0], a.c.states[1:]
	}
	return res.state, res.err
}

func (a *fakeAdmin) WaitForMemberState(_ context.Context, state fixture.MemberState, timeout time.Duration) error {
	a.c.record("wait")
	a.c.lastWaitTarget = state
	a.c.lastWaitLimit = timeout
	return a.c.waitErr
}

func (a *fakeAdmin) Resync(_ context.Context, wait bool) error {
	a.c.record(fmt.Sprintf("resync(wait=%t)", wait))
	return a.c.resyncErr
}

func (a *fakeAdmin) Close() error {
	a.c.record("close")
	return nil
}

// plainFixture is not a replica set.
type plainFixture struct{}

func (plainFixture) Name() string                     { return "standalone" }
func (plainFixture) Setup(context.Context) error      { return nil }
func (plainFixture) AwaitReady(context.Context) error { return nil }
func (plainFixture) Teardown(context.Context) error   { return nil }
func (plainFixture) IsRunning() bool                  { return true }

type namedTest string

func (t namedTest) Name() string              { return string(t) }
func (t namedTest) ShortName() string         { return string(t) }
func (t namedTest) Run(context.Context) error { return nil }
