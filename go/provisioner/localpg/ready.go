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

package localpg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

const pidFileName = "postmaster.pid"

// Line numbers (1-based) of postmaster.pid, see pidfile.h.
const (
	pidLinePID    = 1
	pidLinePort   = 4
	pidLineStatus = 8
)

// pidFile is the parsed content of postmaster.pid.
type pidFile struct {
	PID    int
	Port   int
	Status string
}

// ready reports whether the postmaster accepts connections. Standbys report
// "standby" once they accept read-only connections.
func (p pidFile) ready() bool {
	return p.Status == "ready" || p.Status == "standby"
}

func readPIDFile(fs afero.Fs, dataDir string) (pidFile, error) {
	content, err := afero.ReadFile(fs, filepath.Join(dataDir, pidFileName))
	if err != nil {
		return pidFile{}, err
	}
	return parsePIDFile(string(content))
}

func parsePIDFile(content string) (pidFile, error) {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return pidFile{}, errors.New("empty postmaster.pid file")
	}

	var p pidFile
	pid, err := strconv.Atoi(strings.TrimSpace(lines[pidLinePID-1]))
	if err != nil {
		return pidFile{}, fmt.Errorf("invalid PID in postmaster.pid: %s", lines[0])
	}
	p.PID = pid

	// The remaining lines are written as startup progresses.
	if len(lines) >= pidLinePort {
		p.Port, _ = strconv.Atoi(strings.TrimSpace(lines[pidLinePort-1]))
	}
	if len(lines) >= pidLineStatus {
		p.Status = strings.TrimSpace(lines[pidLineStatus-1])
	}
	return p, nil
}

// waitForReady blocks until postmaster.pid in dataDir reports ready, the
// timeout elapses or ctx ends. Changes to the data directory are watched
// with fsnotify; the file is also polled every pollInterval since watches
// can fail (the directory may not exist yet) and are not supported by
// every afero.Fs.
func waitForReady(ctx context.Context, fs afero.Fs, dataDir string, timeout, pollInterval time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var events <-chan fsnotify.Event
	if _, isOs := fs.(*afero.OsFs); isOs {
		if w, err := fsnotify.NewWatcher(); err == nil {
			defer w.Close()
			if err := w.Add(dataDir); err == nil {
				events = w.Events
			}
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	last := "no postmaster.pid"
	for {
		p, err := readPIDFile(fs, dataDir)
		switch {
		case err == nil && p.ready():
			return nil
		case err == nil:
			last = "status " + strconv.Quote(p.Status)
		case !errors.Is(err, os.ErrNotExist):
			last = err.Error()
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres in %s not ready after %s (%s): %w", dataDir, timeout, last, ctx.Err())
		case _, ok := <-events:
			if !ok {
				events = nil
			}
		case <-ticker.C:
		}
	}
}
