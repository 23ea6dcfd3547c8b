// Package tracker computes which watched files changed between two builds.
//
// The tracker compares the modification timestamps reported for a build
// against the timestamps recorded at the end of the previous build. Files
// that existed before the host started are never reported on the first
// build because every previous timestamp defaults to the start time.
package tracker

import (
	"maps"
	"path"
	"path/filepath"
	"sort"
	"time"
)

// State is the timestamp memory owned by one build host. It is created once
// when the host starts and updated by Commit after every build.
type State struct {
	// StartTime is the host start in Unix milliseconds.
	StartTime int64

	// Previous maps a watched path to the timestamp recorded by the last
	// committed build.
	Previous map[string]int64
}

// NewState returns an empty state anchored at start.
func NewState(start time.Time) *State {
	return &State{
		StartTime: start.UnixMilli(),
		Previous:  make(map[string]int64),
	}
}

// Change is a single file reported as changed by a build.
type Change struct {
	Path      string
	Timestamp int64
}

// Tracker classifies changed files against a State.
type Tracker struct {
	state *State
}

// New returns a tracker operating on state. A nil state is replaced by a
// state anchored at the current time.
func New(state *State) *Tracker {
	if state == nil {
		state = NewState(time.Now())
	}

	if state.Previous == nil {
		state.Previous = make(map[string]int64)
	}

	return &Tracker{state: state}
}

// State returns the tracker's state.
func (t *Tracker) State() *State {
	return t.state
}

// Changes returns the files in current whose timestamp is newer than both
// the previously committed timestamp and the tracker start time. Paths
// without an extension are treated as directories and skipped. A zero or
// negative timestamp means the build could not stat the file; such files are
// always reported. The result is sorted by path.
func (t *Tracker) Changes(current map[string]int64) []Change {
	var changes []Change

	for p, ts := range current {
		if !hasExtension(p) {
			continue
		}

		if isChanged(ts, t.baseline(p)) {
			changes = append(changes, Change{Path: p, Timestamp: ts})
		}
	}

	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Path < changes[j].Path
	})

	return changes
}

// Commit replaces the recorded timestamps with current. Files missing from
// current are forgotten.
func (t *Tracker) Commit(current map[string]int64) {
	t.state.Previous = maps.Clone(current)
	if t.state.Previous == nil {
		t.state.Previous = make(map[string]int64)
	}
}

func (t *Tracker) baseline(p string) int64 {
	prev, ok := t.state.Previous[p]
	if !ok || prev <= 0 {
		return t.state.StartTime
	}

	return max(prev, t.state.StartTime)
}

func isChanged(ts, baseline int64) bool {
	if ts <= 0 {
		return true
	}

	return ts > baseline
}

func hasExtension(p string) bool {
	return path.Ext(filepath.ToSlash(p)) != ""
}
