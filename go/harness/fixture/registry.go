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

package fixture

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Factory builds a fixture from its class parameters, usually decoded from
// the executor section of a suite file.
type Factory func(logger *slog.Logger, params map[string]any) (Fixture, error)

// Registry maps fixture class names to factories.
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
		panic(fmt.Sprintf("fixture: class %q registered twice", class))
	}
	r.factories[class] = f
}

// Make builds a fixture of the given class.
func (r *Registry) Make(class string, logger *slog.Logger, params map[string]any) (Fixture, error) {
	r.mu.Lock()
	f, ok := r.factories[class]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown fixture class %q (known: %v)", class, r.Classes())
	}
	fx, err := f(logger, params)
	if err != nil {
		return nil, fmt.Errorf("creating fixture %s: %w", class, err)
	}
	return fx, nil
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
