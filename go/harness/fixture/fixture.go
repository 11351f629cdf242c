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

// Package fixture defines the cluster handles the harness and its hooks
// operate on. Concrete fixtures live in go/provisioner.
package fixture

import (
	"context"
	"errors"
	"time"
)

// MemberState is the replication state reported by a node.
type MemberState int

const (
	// StateStartup means the node has not loaded its configuration yet.
	// Nodes in this state usually cannot answer a state query at all, so
	// Admin implementations report it as ErrStateUnavailable.
	StateStartup MemberState = iota
	// StateStartup2 means the node is performing initial sync.
	StateStartup2
	// StateSecondary means the node has caught up with its source.
	StateSecondary
	// StateOther covers every state not relevant to initial sync.
	StateOther
)

func (s MemberState) String() string {
	switch s {
	case StateStartup:
		return "STARTUP"
	case StateStartup2:
		return "STARTUP2"
	case StateSecondary:
		return "SECONDARY"
	default:
		return "OTHER"
	}
}

var (
	// ErrStateUnavailable is returned by ReplicationState when the node is
	// still starting up and cannot report a state.
	ErrStateUnavailable = errors.New("replication state unavailable")

	// ErrWaitTimeout is returned by WaitForMemberState when the node did not
	// reach the requested state in time.
	ErrWaitTimeout = errors.New("timed out waiting for member state")

	// ErrNoSyncTarget is returned by ReplicaSet.SyncTarget when the fixture
	// was not configured with an initial sync node.
	ErrNoSyncTarget = errors.New("replica set has no initial sync node")
)

// Fixture is a cluster the harness runs tests against.
type Fixture interface {
	Name() string
	Setup(ctx context.Context) error
	AwaitReady(ctx context.Context) error
	Teardown(ctx context.Context) error
	// IsRunning reports whether every process of the fixture is alive.
	IsRunning() bool
}

// ReplicaSet is a fixture made of one primary and some replicas, one of
// which may be designated as the initial sync node.
type ReplicaSet interface {
	Fixture
	Primary() Node
	SyncTarget() (Node, error)
}

// Node is a single server process inside a fixture.
type Node interface {
	Name() string
	// DSN is the connection string for the node's admin database.
	DSN() string
	// Setup starts a fresh instance of the node. Any on-disk state from a
	// previous instance is discarded unless the fixture preserves data.
	Setup(ctx context.Context) error
	AwaitReady(ctx context.Context) error
	Teardown(ctx context.Context) error
	// Discard removes the node's on-disk state regardless of the fixture's
	// data preservation, so the next Setup syncs from scratch. The node
	// must be torn down.
	Discard(ctx context.Context) error
	// Admin opens an administrative connection to the node. The caller must
	// Close it.
	Admin(ctx context.Context) (Admin, error)
}

// Admin issues administrative commands against a node.
type Admin interface {
	// ReplicationState returns a fresh snapshot of the node's state, or
	// ErrStateUnavailable if the node cannot report one yet.
	ReplicationState(ctx context.Context) (MemberState, error)
	// WaitForMemberState blocks until the node reports state or timeout
	// elapses. Expiry is reported as an error wrapping ErrWaitTimeout.
	WaitForMemberState(ctx context.Context, state MemberState, timeout time.Duration) error
	// Resync throws away the node's data and restarts initial sync without
	// restarting the process from the caller's point of view. With wait set
	// it returns once the resync has been started and the node is reachable.
	Resync(ctx context.Context, wait bool) error
	Close() error
}

// Validator checks data consistency once a node has caught up.
type Validator interface {
	Validate(ctx context.Context) error
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context) error

// Validate calls f(ctx).
func (f ValidatorFunc) Validate(ctx context.Context) error {
	return f(ctx)
}
