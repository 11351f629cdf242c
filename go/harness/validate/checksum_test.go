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

package validate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

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

func TestSumQueryQuotesIdentifiers(t *testing.T) {
	q := sumQuery(Table{Schema: "public", Name: `Weird "name"`})
	assert.Contains(t, q, `FROM "public"."Weird ""name""" AS r`)
	assert.Contains(t, q, "ORDER BY r::text")
}

func TestCompare(t *testing.T) {
	users := Table{Schema: "public", Name: "users"}
	orders := Table{Schema: "public", Name: "orders"}
	audit := Table{Schema: "audit", Name: "log"}

	primary := map[Table]Sum{
		users:  {Rows: 10, MD5: "aaa"},
		orders: {Rows: 5, MD5: "bbb"},
	}

	t.Run("identical", func(t *testing.T) {
		target := map[Table]Sum{
			users:  {Rows: 10, MD5: "aaa"},
			orders: {Rows: 5, MD5: "bbb"},
		}
		assert.NoError(t, Compare(primary, target))
	})

	t.Run("empty", func(t *testing.T) {
		assert.NoError(t, Compare(map[Table]Sum{}, map[Table]Sum{}))
	})

	t.Run("every kind of difference", func(t *testing.T) {
		target := map[Table]Sum{
			users: {Rows: 9, MD5: "aaa"},
			audit: {Rows: 1, MD5: "ccc"},
		}
		err := Compare(primary, target)
		require.Error(t, err)
		msg := err.Error()
		assert.Contains(t, msg, "3 errors occurred")
		assert.Contains(t, msg, "table public.orders missing on sync target")
		assert.Contains(t, msg, "table public.users: 10 rows on primary, 9 on sync target")
		assert.Contains(t, msg, "table audit.log missing on primary")
	})

	t.Run("same count different content", func(t *testing.T) {
		target := map[Table]Sum{
			users:  {Rows: 10, MD5: "zzz"},
			orders: {Rows: 5, MD5: "bbb"},
		}
		err := Compare(primary, target)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "checksum aaa on primary, zzz on sync target")
	})
}

func TestWaitFor(t *testing.T) {
	t.Run("succeeds after retries", func(t *testing.T) {
		calls := 0
		err := waitFor(t.Context(), retry.New(time.Millisecond, time.Millisecond, retry.WithTimer(instantTimer{})),
			func(context.Context) (bool, error) {
				calls++
				switch calls {
				case 1:
					return false, errors.New("connection refused")
				case 2:
					return false, nil
				}
				return true, nil
			})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("deadline reports last error", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
		defer cancel()
		err := waitFor(ctx, retry.New(time.Millisecond, time.Millisecond, retry.WithTimer(blockingTimer{})),
			func(context.Context) (bool, error) {
				return false, errors.New("recovery is in progress")
			})
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Contains(t, err.Error(), "recovery is in progress")
	})
}

type noSyncTarget struct{}

func (noSyncTarget) Name() string                      { return "rs0" }
func (noSyncTarget) Setup(context.Context) error       { return nil }
func (noSyncTarget) AwaitReady(context.Context) error  { return nil }
func (noSyncTarget) Teardown(context.Context) error    { return nil }
func (noSyncTarget) IsRunning() bool                   { return true }
func (noSyncTarget) Primary() fixture.Node             { return nil }
func (noSyncTarget) SyncTarget() (fixture.Node, error) { return nil, fixture.ErrNoSyncTarget }

func TestValidateWithoutSyncTarget(t *testing.T) {
	c := NewChecksum(slog.New(slog.NewTextHandler(io.Discard, nil)), noSyncTarget{}, WithReplayTimeout(time.Second))
	assert.Equal(t, time.Second, c.replayTimeout)
	require.ErrorIs(t, c.Validate(t.Context()), fixture.ErrNoSyncTarget)
}
