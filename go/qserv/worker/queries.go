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

package worker

import (
	"context"
	"sync"
	"time"

	"github.com/idies/qserv/go/qserv/log"
)

// QueryStatistics accumulates per-user-query counters on a worker.
// It has its own lock. The tracker takes a statistics lock under its
// map lock only when reaping, and never the other way round.
type QueryStatistics struct {
	mu      sync.Mutex
	queryID uint64
	touched time.Time

	size           int
	tasksCompleted int
	tasksRunning   int
	tasksBooted    int
	tasksFailed    int
	totalRunTime   time.Duration

	tasks map[int]*Task
}

func newQueryStatistics(queryID uint64) *QueryStatistics {
	return &QueryStatistics{
		queryID: queryID,
		touched: time.Now(),
		tasks:   make(map[int]*Task),
	}
}

// Snapshot is a consistent copy of the counters.
type Snapshot struct {
	QueryID        uint64
	Size           int
	TasksCompleted int
	TasksRunning   int
	TasksBooted    int
	TasksFailed    int
	TotalRunTime   time.Duration
}

// Snapshot returns the counters under the statistics lock.
func (q *QueryStatistics) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Snapshot{
		QueryID:        q.queryID,
		Size:           q.size,
		TasksCompleted: q.tasksCompleted,
		TasksRunning:   q.tasksRunning,
		TasksBooted:    q.tasksBooted,
		TasksFailed:    q.tasksFailed,
		TotalRunTime:   q.totalRunTime,
	}
}

func (q *QueryStatistics) runningTasks() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*Task
	for _, t := range q.tasks {
		if t.State() == StateRunning {
			out = append(out, t)
		}
	}
	return out
}

func (q *QueryStatistics) allTasks() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Task, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, t)
	}
	return out
}

// mostlyDead reports whether every task of the query has completed.
// Callers hold q.mu.
func (q *QueryStatistics) mostlyDead() bool {
	return q.tasksCompleted >= q.size
}

// BlendOps is what the tracker needs from the blend scheduler to
// migrate chronically slow queries.
type BlendOps interface {
	IsScanSnail(s TaskScheduler) bool
	MoveTasksToSnail(tasks []*Task, from TaskScheduler)
}

// Tracker registers every task a worker accepts and enforces the
// per-scheduler run-time budget: a running task past its budget is
// booted, and a query booted too often is migrated wholesale to the
// snail scan.
type Tracker struct {
	mu      sync.Mutex
	queries map[uint64]*QueryStatistics

	blend          BlendOps
	deadAfter      time.Duration
	examineEvery   time.Duration
	maxTasksBooted int
}

// NewTracker builds a tracker. deadAfter bounds how long a finished
// query's statistics linger; examineEvery paces the boot loop.
func NewTracker(blend BlendOps, deadAfter, examineEvery time.Duration, maxTasksBooted int) *Tracker {
	return &Tracker{
		queries:        make(map[uint64]*QueryStatistics),
		blend:          blend,
		deadAfter:      deadAfter,
		examineEvery:   examineEvery,
		maxTasksBooted: maxTasksBooted,
	}
}

// Start runs the examine and reap loops until ctx is cancelled.
func (tr *Tracker) Start(ctx context.Context) {
	go tr.loop(ctx, tr.examineEvery, tr.ExamineAll)
	go tr.loop(ctx, tr.deadAfter, tr.reapDead)
}

func (tr *Tracker) loop(ctx context.Context, every time.Duration, fn func()) {
	if every <= 0 {
		return
	}
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			fn()
		}
	}
}

func (tr *Tracker) stats(queryID uint64, create bool) *QueryStatistics {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	q := tr.queries[queryID]
	if q == nil && create {
		q = newQueryStatistics(queryID)
		tr.queries[queryID] = q
	}
	return q
}

// AddTask registers a task, creating the query's statistics if needed.
func (tr *Tracker) AddTask(t *Task) {
	q := tr.stats(t.QueryID, true)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks[t.JobID] = t
	q.size++
	q.touched = time.Now()
}

// StartedTask updates counters for a task entering a thread.
func (tr *Tracker) StartedTask(t *Task) {
	tasksRunning.Inc()
	q := tr.stats(t.QueryID, false)
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasksRunning++
	q.touched = time.Now()
}

// FinishedTask updates counters for a completed task.
func (tr *Tracker) FinishedTask(t *Task, runTime time.Duration) {
	tasksRunning.Dec()
	tasksCompleted.Inc()
	q := tr.stats(t.QueryID, false)
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasksRunning--
	q.tasksCompleted++
	q.totalRunTime += runTime
	q.touched = time.Now()
}

// FailedTask records an execution failure. Failures never abort the
// worker; they are typed results the czar learns about through the
// completion record.
func (tr *Tracker) FailedTask(t *Task, err error) {
	log.Errorf("%s failed: %v", t.IDStr(), err)
	q := tr.stats(t.QueryID, false)
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasksFailed++
	q.touched = time.Now()
}

// GetStats returns the statistics for a query, nil when unknown.
func (tr *Tracker) GetStats(queryID uint64) *QueryStatistics {
	return tr.stats(queryID, false)
}

// ExamineAll boots every running task that has exceeded its
// scheduler's budget. A booted task may be re-admitted on a scheduler
// with a looser budget; a query over the boot threshold moves to the
// snail scan entirely.
func (tr *Tracker) ExamineAll() {
	tr.mu.Lock()
	queries := make([]*QueryStatistics, 0, len(tr.queries))
	for _, q := range tr.queries {
		queries = append(queries, q)
	}
	tr.mu.Unlock()

	now := time.Now()
	for _, q := range queries {
		for _, t := range q.runningTasks() {
			sched := t.Scheduler()
			if sched == nil {
				continue
			}
			budget := sched.MaxRuntime()
			if budget <= 0 || t.RunTime(now) <= budget {
				continue
			}
			tr.bootTask(q, t, sched)
		}
	}
}

func (tr *Tracker) bootTask(q *QueryStatistics, t *Task, sched TaskScheduler) {
	log.Infof("%s taking too long, booting from %s", t.IDStr(), sched.Name())
	sched.RemoveTask(t)
	t.Booted()
	tasksBooted.Inc()

	q.mu.Lock()
	q.tasksBooted++
	booted := q.tasksBooted
	q.mu.Unlock()

	if tr.blend == nil || booted <= tr.maxTasksBooted {
		return
	}
	if tr.blend.IsScanSnail(sched) {
		log.Warningf("%s query exceeds its budget on the snail scan, needs cancellation", t.IDStr())
		return
	}
	log.Infof("query %d booted %d tasks, moving to snail scan", q.queryID, booted)
	tr.blend.MoveTasksToSnail(q.allTasks(), sched)
}

// RemoveQuery cancels a user query: every one of its tasks is removed
// from its scheduler. Queued tasks are returned so the caller can fail
// them; in-flight tasks unwind on their own.
func (tr *Tracker) RemoveQuery(queryID uint64) []*Task {
	q := tr.stats(queryID, false)
	if q == nil {
		return nil
	}
	var removed []*Task
	for _, t := range q.allTasks() {
		t.Cancel()
		if sched := t.Scheduler(); sched != nil {
			if rt := sched.RemoveTask(t); rt != nil {
				removed = append(removed, rt)
			}
		}
	}
	return removed
}

// reapDead drops statistics of queries whose tasks all completed and
// that have not been touched for deadAfter.
func (tr *Tracker) reapDead() {
	cutoff := time.Now().Add(-tr.deadAfter)
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for id, q := range tr.queries {
		q.mu.Lock()
		dead := q.mostlyDead() && q.touched.Before(cutoff)
		q.mu.Unlock()
		if dead {
			delete(tr.queries, id)
		}
	}
}
