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

// Package hooks defines the callbacks the harness runs around every test
// and the registry that builds them from suite configuration.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/multigres/initsync/go/harness/fixture"
	"github.com/multigres/initsync/go/harness/report"
	"github.com/multigres/initsync/go/harness/testcase"
)

// Hook is run by the harness around every test. Errors returned from
// BeforeTest and AfterTest are classified with the failure package: a
// TestFailure marks test as failed, a ServerFailure also stops the run, and
// any other error stops the run and marks test as errored.
type Hook interface {
	Description() string
	BeforeSuite(ctx context.Context, rep *report.Report) error
	AfterSuite(ctx context.Context, rep *report.Report) error
	BeforeTest(ctx context.Context, test testcase.TestCase, rep *report.Report) error
	AfterTest(ctx context.Context, test testcase.TestCase, rep *report.Report) error
}

// Base implements every Hook method as a no-op. Embed it and override what
// the hook needs.
type Base struct{}

func (Base) BeforeSuite(context.Context, *report.Report) error                   { return nil }
func (Base) AfterSuite(context.Context, *report.Report) error                    { return nil }
func (Base) BeforeTest(context.Context, testcase.TestCase, *report.Report) error { return nil }
func (Base) AfterTest(context.Context, testcase.TestCase, *report.Report) error  { return nil }

// Factory builds a hook for fx from its class parameters.
type Factory func(logger *slog.Logger, fx fixture.Fixture, params map[string]any) (Hook, error)

// Registry maps hook class names to factories.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for class. Registering the same class twice
// panics.
func (r *Registry) Register(class string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[class]; ok {
		panic(fmt.Sprintf("hooks: class %q registered twice", class))
	}
	r.factories[class] = f
}

// Make builds a hook of the given class. The logger passed to the factory
// is tagged with the class name.
func (r *Registry) Make(class string, logger *slog.Logger, fx fixture.Fixture, params map[string]any) (Hook, error) {
	r.mu.Lock()
	f, ok := r.factories[class]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown hook class %q (known: %v)", class, r.Classes())
	}
	h, err := f(logger.With("hook", class), fx, params)
	if err != nil {
		return nil, fmt.Errorf("creating hook %s: %w", class, err)
	}
	return h, nil
}

// Classes returns the registered class names in sorted order.
func (r *Registry) Classes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	classes := make([]string, 0, len(r.factories))
	for c := range r.factories {
		classes = append(classes, c)
	}
	slices.Sort(classes)
	return classes
}
