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
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFixture struct{ name string }

func (s *stubFixture) Name() string                     { return s.name }
func (s *stubFixture) Setup(context.Context) error      { return nil }
func (s *stubFixture) AwaitReady(context.Context) error { return nil }
func (s *stubFixture) Teardown(context.Context) error   { return nil }
func (s *stubFixture) IsRunning() bool                  { return true }

func TestMemberStateString(t *testing.T) {
	assert.Equal(t, "STARTUP", StateStartup.String())
	assert.Equal(t, "STARTUP2", StateStartup2.String())
	assert.Equal(t, "SECONDARY", StateSecondary.String())
	assert.Equal(t, "OTHER", StateOther.String())
	assert.Equal(t, "OTHER", MemberState(42).String())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("Stub", func(_ *slog.Logger, params map[string]any) (Fixture, error) {
		name, _ := params["name"].(string)
		if name == "" {
			return nil, errors.New("name is required")
		}
		return &stubFixture{name: name}, nil
	})
	r.Register("Another", func(*slog.Logger, map[string]any) (Fixture, error) {
		return &stubFixture{name: "another"}, nil
	})

	assert.Equal(t, []string{"Another", "Stub"}, r.Classes())

	fx, err := r.Make("Stub", slog.Default(), map[string]any{"name": "rs0"})
	require.NoError(t, err)
	assert.Equal(t, "rs0", fx.Name())

	_, err = r.Make("Stub", slog.Default(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "creating fixture Stub")

	_, err = r.Make("Missing", slog.Default(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown fixture class "Missing"`)

	assert.Panics(t, func() {
		r.Register("Stub", nil)
	})
}

func TestValidatorFunc(t *testing.T) {
	want := errors.New("checksum mismatch")
	var v Validator = ValidatorFunc(func(context.Context) error { return want })
	assert.ErrorIs(t, v.Validate(t.Context()), want)
}
