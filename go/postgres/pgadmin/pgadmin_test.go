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

package pgadmin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multigres/initsync/go/harness/fixture"
	"github.com/multigres/initsync/go/tools/retry"
)

type instantTimer struct{}

func (instantTimer) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

type blockingTimer struct{}

func (blockingTimer) After(time.Duration) <-chan time.Time {
	return make(chan time.Time)
}

func newTestConn(t *testing.T, timer retry.Timer, states ...func() (fixture.MemberState, error)) *Conn {
	t.Helper()
	c, err := Open("host=/nonexistent dbname=postgres", WithRetry(func() *retry.Retry {
		return retry.New(time.Millisecond, time.Millisecond, retry.WithTimer(timer))
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	i := 0
	c.queryState = func(context.Context) (fixture.MemberState, error) {
		f := states[min(i, len(states)-1)]
		i++
		return f()
	}
	return c
}

func state(s fixture.MemberState) func() (fixture.MemberState, error) {
	return func() (fixture.MemberState, error) { return s, nil }
}

func failing(err error) func() (fixture.MemberState, error) {
	return func() (fixture.MemberState, error) { return fixture.StateOther, err }
}

func TestMemberState(t *testing.T) {
	tests := []struct {
		name       string
		inRecovery bool
		status     string
		lag        float64
		want       fixture.MemberState
	}{
		{name: "primary", inRecovery: false, status: "", want: fixture.StateOther},
		{name: "no receiver yet", inRecovery: true, status: "", want: fixture.StateStartup2},
		{name: "receiver starting", inRecovery: true, status: "startup", want: fixture.StateStartup2},
		{name: "streaming behind", inRecovery: true, status: "streaming", lag: 8192, want: fixture.StateStartup2},
		{name: "streaming caught up", inRecovery: true, status: "streaming", lag: 0, want: fixture.StateSecondary},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, memberState(tt.inRecovery, tt.status, tt.lag))
		})
	}
}

func TestIsUnavailable(t *testing.T) {
	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	noSocket := &net.OpError{Op: "dial", Net: "unix", Err: os.NewSyscallError("connect", syscall.ENOENT)}

	assert.True(t, IsUnavailable(&pq.Error{Code: "57P03", Message: "the database system is starting up"}))
	assert.True(t, IsUnavailable(fmt.Errorf("query: %w", refused)))
	assert.True(t, IsUnavailable(noSocket))
	assert.False(t, IsUnavailable(&pq.Error{Code: "42501", Message: "permission denied"}))
	assert.False(t, IsUnavailable(errors.New("boom")))
	assert.False(t, IsUnavailable(nil))
}

func TestWaitForMemberStateReachesState(t *testing.T) {
	c := newTestConn(t, instantTimer{},
		failing(fixture.ErrStateUnavailable),
		state(fixture.StateStartup2),
		failing(errors.New("connection reset")),
		state(fixture.StateSecondary),
	)
	require.NoError(t, c.WaitForMemberState(t.Context(), fixture.StateSecondary, time.Minute))
}

func TestWaitForMemberStateTimeout(t *testing.T) {
	c := newTestConn(t, blockingTimer{}, state(fixture.StateStartup2))

	err := c.WaitForMemberState(t.Context(), fixture.StateSecondary, 20*time.Millisecond)
	require.ErrorIs(t, err, fixture.ErrWaitTimeout)
	assert.Contains(t, err.Error(), "last saw STARTUP2")
}

func TestWaitForMemberStateCancelled(t *testing.T) {
	c := newTestConn(t, blockingTimer{}, state(fixture.StateStartup2))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := c.WaitForMemberState(ctx, fixture.StateSecondary, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, fixture.ErrWaitTimeout)
}

func TestWaitForMemberStateCallerDeadline(t *testing.T) {
	c := newTestConn(t, blockingTimer{}, state(fixture.StateStartup2))

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	err := c.WaitForMemberState(ctx, fixture.StateSecondary, time.Minute)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, fixture.ErrWaitTimeout, "the caller's deadline is not this wait's timeout")
}

type recordingResyncer struct {
	waits []bool
}

func (r *recordingResyncer) Resync(_ context.Context, wait bool) error {
	r.waits = append(r.waits, wait)
	return nil
}

func TestResync(t *testing.T) {
	c, err := Open("host=/nonexistent")
	require.NoError(t, err)
	defer c.Close()
	require.ErrorIs(t, c.Resync(t.Context(), true), ErrResyncUnsupported)

	r := &recordingResyncer{}
	c2, err := Open("host=/nonexistent", WithResyncer(r))
	require.NoError(t, err)
	defer c2.Close()
	require.NoError(t, c2.Resync(t.Context(), false))
	require.NoError(t, c2.Resync(t.Context(), true))
	assert.Equal(t, []bool{false, true}, r.waits)
}
