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

// Package report records the outcome and timing of every test case the
// harness runs, including the dynamic test cases recorded by hooks.
package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/multigres/initsync/go/tools/fileutil"
)

// Status is the recorded outcome of a test case.
type Status string

const (
	StatusNone  Status = ""
	StatusPass  Status = "pass"
	StatusFail  Status = "fail"
	StatusError Status = "error"
)

// InterruptedReturnCode is assigned by Combine to tests that never finished.
const InterruptedReturnCode = -2

// TestInfo is the status and timing information of one test case.
type TestInfo struct {
	TestID     string
	Dynamic    bool
	Start      time.Time
	End        time.Time
	Status     Status
	ReturnCode int
}

// Elapsed returns the test's run time, or zero if it has not stopped.
func (ti TestInfo) Elapsed() time.Duration {
	if ti.End.IsZero() {
		return 0
	}
	return ti.End.Sub(ti.Start)
}

// Report is safe for concurrent use. Hooks that run in the background may
// record dynamic test cases while the harness records regular ones.
type Report struct {
	logger *slog.Logger
	now    func() time.Time
	runID  uuid.UUID

	mu         sync.Mutex
	infos      []*TestInfo
	numDynamic int
}

// Option configures a Report.
type Option func(*Report)

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Report) { r.now = now }
}

// WithRunID sets the run identifier instead of generating a random one.
func WithRunID(id uuid.UUID) Option {
	return func(r *Report) { r.runID = id }
}

// New creates an empty report.
func New(logger *slog.Logger, opts ...Option) *Report {
	r := &Report{
		logger: logger,
		now:    time.Now,
		runID:  uuid.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunID identifies the run in report.json.
func (r *Report) RunID() uuid.UUID {
	return r.runID
}

// StartTest is called immediately before a test case runs.
func (r *Report) StartTest(testID string, dynamic bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.infos = append(r.infos, &TestInfo{
		TestID:  testID,
		Dynamic: dynamic,
		Start:   r.now(),
	})
	if dynamic {
		r.numDynamic++
		r.logger.Info("running dynamic test case", "test", testID)
	} else {
		r.logger.Info("running test", "test", testID)
	}
}

// StopTest is called immediately after a test case has run.
func (r *Report) StopTest(testID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ti, err := r.find(testID)
	if err != nil {
		return err
	}
	ti.End = r.now()
	r.logger.Info("test finished", "test", testID, "elapsed", ti.Elapsed().Round(10*time.Millisecond))
	return nil
}

// AddSuccess records that the test passed.
func (r *Report) AddSuccess(testID string) error {
	return r.record(testID, StatusPass, 0, nil)
}

// AddFailure records that the test failed with the given return code.
func (r *Report) AddFailure(testID string, returnCode int, cause error) error {
	return r.record(testID, StatusFail, returnCode, cause)
}

// AddError records that the test could not run to completion.
func (r *Report) AddError(testID string, returnCode int, cause error) error {
	return r.record(testID, StatusError, returnCode, cause)
}

func (r *Report) record(testID string, status Status, returnCode int, cause error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ti, err := r.find(testID)
	if err != nil {
		return err
	}
	ti.Status = status
	ti.ReturnCode = returnCode
	if cause != nil {
		r.logger.Error("test did not pass", "test", testID, "status", status, "return_code", returnCode, "error", cause)
	}
	return nil
}

// SetFailure changes the outcome of a finished test to a failure. A hook
// uses this to blame the test that ran before it.
func (r *Report) SetFailure(testID string, returnCode int) error {
	return r.override(testID, returnCode)
}

// SetError changes the outcome of a finished test to an error.
func (r *Report) SetError(testID string) error {
	return r.override(testID, 2)
}

// Both overrides are recorded as errors so they show up in Errored; report
// consumers do not distinguish them from failures.
func (r *Report) override(testID string, returnCode int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ti, err := r.find(testID)
	if err != nil {
		return err
	}
	if ti.End.IsZero() {
		return fmt.Errorf("StopTest was not called on %s", testID)
	}
	ti.Status = StatusError
	ti.ReturnCode = returnCode
	return nil
}

// Find returns a copy of the most recent record for testID.
func (r *Report) Find(testID string) (TestInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ti, err := r.find(testID)
	if err != nil {
		return TestInfo{}, err
	}
	return *ti, nil
}

// find searches backwards since the test being updated is usually the one
// started last.
func (r *Report) find(testID string) (*TestInfo, error) {
	for i := len(r.infos) - 1; i >= 0; i-- {
		if r.infos[i].TestID == testID {
			return r.infos[i], nil
		}
	}
	return nil, fmt.Errorf("details for %s not found in the report", testID)
}

// TestInfos returns a snapshot of every record in start order.
func (r *Report) TestInfos() []TestInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]TestInfo, len(r.infos))
	for i, ti := range r.infos {
		out[i] = *ti
	}
	return out
}

func (r *Report) withStatus(status Status) []TestInfo {
	var out []TestInfo
	for _, ti := range r.TestInfos() {
		if ti.Status == status {
			out = append(out, ti)
		}
	}
	return out
}

// Successful returns the tests that passed.
func (r *Report) Successful() []TestInfo { return r.withStatus(StatusPass) }

// Failed returns the tests that failed.
func (r *Report) Failed() []TestInfo { return r.withStatus(StatusFail) }

// Errored returns the tests that errored or were marked as failed after
// the fact.
func (r *Report) Errored() []TestInfo { return r.withStatus(StatusError) }

// NumDynamic returns how many dynamic test cases were started.
func (r *Report) NumDynamic() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.numDynamic
}

// WasSuccessful reports whether no test failed or errored.
func (r *Report) WasSuccessful() bool {
	return len(r.Failed()) == 0 && len(r.Errored()) == 0
}

// Combine merges reports into a new one. Tests that never recorded an
// outcome are marked as failed with InterruptedReturnCode, and tests that
// never stopped are given the combining time as their end.
func Combine(logger *slog.Logger, reports ...*Report) *Report {
	combined := New(logger)
	now := combined.now()

	for _, rep := range reports {
		for _, ti := range rep.TestInfos() {
			if ti.Status == StatusNone {
				ti.Status = StatusFail
				ti.ReturnCode = InterruptedReturnCode
			}
			if ti.End.IsZero() {
				ti.End = now
			}
			combined.infos = append(combined.infos, &ti)
		}
		combined.numDynamic += rep.NumDynamic()
	}
	return combined
}

type jsonResult struct {
	TestFile string  `json:"test_file"`
	Status   Status  `json:"status"`
	ExitCode int     `json:"exit_code"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Elapsed  float64 `json:"elapsed"`
	Dynamic  bool    `json:"dynamic,omitempty"`
}

type jsonReport struct {
	RunID    string       `json:"run_id"`
	Results  []jsonResult `json:"results"`
	Failures int          `json:"failures"`
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// MarshalJSON renders the report in report.json shape. Failures and errors
// are both reported as "fail".
func (r *Report) MarshalJSON() ([]byte, error) {
	infos := r.TestInfos()
	out := jsonReport{
		RunID:   r.runID.String(),
		Results: make([]jsonResult, 0, len(infos)),
	}
	for _, ti := range infos {
		status := StatusFail
		if ti.Status == StatusPass {
			status = StatusPass
		}
		if ti.Status == StatusFail || ti.Status == StatusError {
			out.Failures++
		}
		out.Results = append(out.Results, jsonResult{
			TestFile: ti.TestID,
			Status:   status,
			ExitCode: ti.ReturnCode,
			Start:    unixSeconds(ti.Start),
			End:      unixSeconds(ti.End),
			Elapsed:  ti.Elapsed().Seconds(),
			Dynamic:  ti.Dynamic,
		})
	}
	return json.Marshal(out)
}

// WriteJSON writes the report to path, creating parent directories.
func (r *Report) WriteJSON(fs afero.Fs, path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating report directory: %w", err)
		}
	}
	if err := fileutil.AtomicWriteFile(fs, path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

// Summary counts the passing tests and returns the IDs of the others in
// start order.
func (r *Report) Summary() (passed int, notPassed []string) {
	for _, ti := range r.TestInfos() {
		if ti.Status == StatusPass {
			passed++
			continue
		}
		if !slices.Contains(notPassed, ti.TestID) {
			notPassed = append(notPassed, ti.TestID)
		}
	}
	return passed, notPassed
}
