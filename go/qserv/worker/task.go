/*
Copyright 2026 The Qserv Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package worker holds the task representation and per-query
// bookkeeping on a worker node. Scheduling lives in worker/sched and
// memory management in worker/memman.
package worker

import (
	"fmt"
	"sync"
	"time"

	"github.com/idies/qserv/go/qserv/wire"
	"github.com/idies/qserv/go/qserv/worker/memman"
)

// State tracks a task through its lifecycle.
type State int

const (
	StateCreated State = iota
	StateQueued
	StateRunning
	StateFinished
	StateBooted
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateBooted:
		return "booted"
	}
	return "unknown"
}

// TaskScheduler is the slice of a scheduler the tracker needs: enough
// to evict a task and to know the time budget it ran under.
type TaskScheduler interface {
	Name() string
	RemoveTask(t *Task) *Task
	MaxRuntime() time.Duration
}

// Task is one per-chunk query fragment set on the worker. A task sits
// in at most one scheduler's queue or runs on at most one thread.
type Task struct {
	QueryID     uint64
	JobID       int
	ChunkID     int
	Rating      int
	Fingerprint string
	Fragments   []wire.Fragment

	mu        sync.Mutex
	state     State
	createdAt time.Time
	queuedAt  time.Time
	startedAt time.Time
	doneAt    time.Time
	cancelled bool
	memHandle memman.Handle
	sched     TaskScheduler
}

// NewTask builds the worker-side task for one inbound message.
func NewTask(msg *wire.TaskMsg) *Task {
	return &Task{
		QueryID:     msg.QueryID,
		JobID:       msg.JobID,
		ChunkID:     msg.ChunkID,
		Rating:      msg.Rating,
		Fingerprint: msg.Fingerprint,
		Fragments:   msg.Fragments,
		createdAt:   time.Now(),
	}
}

// IDStr labels the task in logs.
func (t *Task) IDStr() string {
	return fmt.Sprintf("QI=%d:%d ch=%d", t.QueryID, t.JobID, t.ChunkID)
}

// Files lists the table files the task's fragments read, for the
// memory manager.
func (t *Task) Files() []memman.FileInfo {
	var out []memman.FileInfo
	seen := make(map[string]bool)
	for _, f := range t.Fragments {
		for _, ref := range f.Tables {
			if seen[ref.Path] {
				continue
			}
			seen[ref.Path] = true
			out = append(out, memman.FileInfo{Path: ref.Path, SizeBytes: ref.SizeBytes})
		}
	}
	return out
}

// State returns the current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Queued records that a scheduler took ownership.
func (t *Task) Queued(now time.Time, sched TaskScheduler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateQueued
	t.queuedAt = now
	t.sched = sched
}

// Started records dispatch to a thread.
func (t *Task) Started(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateRunning
	t.startedAt = now
}

// Finished records completion and returns the run duration.
func (t *Task) Finished(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateFinished
	t.doneAt = now
	return t.doneAt.Sub(t.startedAt)
}

// Booted marks the task as evicted for exceeding its budget.
func (t *Task) Booted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateBooted
	t.sched = nil
}

// RunTime returns how long the task has been running as of now; zero
// unless running.
func (t *Task) RunTime(now time.Time) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateRunning {
		return 0
	}
	return now.Sub(t.startedAt)
}

// Scheduler returns the scheduler owning the task, or nil.
func (t *Task) Scheduler() TaskScheduler {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sched
}

// Cancel flags the task; an in-flight cancelled task unwinds and must
// not be re-scheduled.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelled = true
}

// Cancelled reports whether Cancel was called.
func (t *Task) Cancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// MemHandle returns the memory-manager handle, InvalidHandle until the
// file set has been prepared.
func (t *Task) MemHandle() memman.Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.memHandle
}

// SetMemHandle attaches the prepared handle.
func (t *Task) SetMemHandle(h memman.Handle) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.memHandle = h
}
