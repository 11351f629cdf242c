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

// Package failure defines the error kinds the harness uses to decide how a
// failing test or hook affects the rest of a suite run.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a harness error.
type Kind int

const (
	// KindTestFailure marks the test that just ran as failed.
	KindTestFailure Kind = iota
	// KindServerFailure marks the test as failed because the cluster under
	// test misbehaved (crashed, diverged data). It also counts as a test failure.
	KindServerFailure
	// KindStopExecution asks the harness to stop running further tests.
	KindStopExecution
	// KindConfig reports invalid configuration detected at construction time.
	KindConfig
)

// String returns the identifier used in error messages.
func (k Kind) String() string {
	switch k {
	case KindTestFailure:
		return "IS1001"
	case KindServerFailure:
		return "IS1002"
	case KindStopExecution:
		return "IS1003"
	case KindConfig:
		return "IS1004"
	}
	return "IS1000"
}

// Error is a classified harness error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	msg := format
	if len(args) != 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// TestFailuref returns a KindTestFailure error.
func TestFailuref(format string, args ...any) error {
	return newError(KindTestFailure, nil, format, args...)
}

// ServerFailuref returns a KindServerFailure error.
func ServerFailuref(format string, args ...any) error {
	return newError(KindServerFailure, nil, format, args...)
}

// WrapServerFailure classifies err as a server failure.
func WrapServerFailure(err error, format string, args ...any) error {
	return newError(KindServerFailure, err, format, args...)
}

// StopExecutionf returns a KindStopExecution error.
func StopExecutionf(format string, args ...any) error {
	return newError(KindStopExecution, nil, format, args...)
}

// WrapStopExecution asks the harness to stop because of err.
func WrapStopExecution(err error, format string, args ...any) error {
	return newError(KindStopExecution, err, format, args...)
}

// Configf returns a KindConfig error.
func Configf(format string, args ...any) error {
	return newError(KindConfig, nil, format, args...)
}

func kindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// IsTestFailure reports whether err is a test failure. Server failures are
// test failures too.
func IsTestFailure(err error) bool {
	k, ok := kindOf(err)
	return ok && (k == KindTestFailure || k == KindServerFailure)
}

// IsServerFailure reports whether err is a server failure.
func IsServerFailure(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindServerFailure
}

// IsStopExecution reports whether err asks the harness to stop.
func IsStopExecution(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindStopExecution
}

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindConfig
}

// ReturnCode maps an error to the exit code recorded for a test:
// 0 on success, 1 for a test failure, 2 for everything else.
func ReturnCode(err error) int {
	switch {
	case err == nil:
		return 0
	case IsServerFailure(err):
		return 2
	case IsTestFailure(err):
		return 1
	}
	return 2
}
