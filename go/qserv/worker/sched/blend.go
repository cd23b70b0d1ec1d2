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

package sched

import (
	"sort"
	"sync"

	"github.com/idies/qserv/go/qserv/log"
	"github.com/idies/qserv/go/qserv/qerror"
	"github.com/idies/qserv/go/qserv/worker"
)

// BlendScheduler sits above a small fixed roster of scan schedulers
// partitioned by task rating. It routes inbound tasks to the scheduler
// whose band covers their rating, lets worker threads pull from the
// roster in priority order, and redistributes the thread pool whenever
// the head-of-queue chunk changes anywhere, since the new bucket may
// alter contention.
//
// The roster is ordered by descending priority; the last entry is the
// "snail" scan: the loosest-budget scheduler that absorbs queries
// booted elsewhere.
type BlendScheduler struct {
	poolSize int
	scheds   []*ScanScheduler

	mu      sync.Mutex
	cond    *sync.Cond
	version uint64
	closed  bool
}

// NewBlendScheduler builds a blend over the given schedulers.
// poolSize is the worker's thread-pool size the adjusted caps must sum
// to under contention.
func NewBlendScheduler(poolSize int, scheds []*ScanScheduler) (*BlendScheduler, error) {
	if len(scheds) == 0 {
		return nil, qerror.New(qerror.Internal, "blend scheduler needs at least one scheduler")
	}
	if poolSize < 1 {
		return nil, qerror.New(qerror.Internal, "blend scheduler needs a positive pool size")
	}
	ordered := append([]*ScanScheduler(nil), scheds...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority() > ordered[j].Priority()
	})
	b := &BlendScheduler{poolSize: poolSize, scheds: ordered}
	b.cond = sync.NewCond(&b.mu)
	for _, s := range ordered {
		s.onHeadChunkChange = b.ApplyPriority
		s.onEvent = b.bump
	}
	b.ApplyPriority()
	return b, nil
}

// bump wakes blended waiters after any child state change.
func (b *BlendScheduler) bump() {
	b.mu.Lock()
	b.version++
	b.cond.Broadcast()
	b.mu.Unlock()
}

// QueueCmd routes a task to the scheduler whose rating band covers it;
// tasks no band covers go to the snail scan.
func (b *BlendScheduler) QueueCmd(t *worker.Task) {
	for _, s := range b.scheds {
		if s.AcceptsRating(t.Rating) {
			s.QueueCmd(t)
			return
		}
	}
	snail := b.scheds[len(b.scheds)-1]
	log.Warningf("%s rating %d matches no scheduler band, using %s",
		t.IDStr(), t.Rating, snail.Name())
	snail.QueueCmd(t)
}

// GetCmd polls the roster in priority order; with wait it blocks until
// some scheduler has an admissible task or Shutdown runs.
func (b *BlendScheduler) GetCmd(wait bool) *worker.Task {
	for {
		b.mu.Lock()
		v := b.version
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return nil
		}
		for _, s := range b.scheds {
			if t := s.GetCmd(false); t != nil {
				return t
			}
		}
		if !wait {
			return nil
		}
		b.mu.Lock()
		for b.version == v && !b.closed {
			b.cond.Wait()
		}
		b.mu.Unlock()
	}
}

// Shutdown unblocks all waiters on the blend and its schedulers.
func (b *BlendScheduler) Shutdown() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
	for _, s := range b.scheds {
		s.Shutdown()
	}
}

// ApplyPriority redistributes the pool: schedulers are visited in
// priority order and granted up to their configured maximum, but never
// so much that lower-priority schedulers lose their reserve. Every
// scheduler keeps at least its reserve, so the sum of adjusted caps
// stays within the pool size unless the reserves alone exceed it.
func (b *BlendScheduler) ApplyPriority() {
	total := 0
	for _, s := range b.scheds {
		total += s.cfg.MaxThreads
	}
	if total <= b.poolSize {
		for _, s := range b.scheds {
			s.setMaxThreadsAdj(s.cfg.MaxThreads)
		}
		return
	}

	remaining := b.poolSize
	for i, s := range b.scheds {
		reserveBelow := 0
		for _, lower := range b.scheds[i+1:] {
			reserveBelow += lower.cfg.MaxReserve
		}
		adj := remaining - reserveBelow
		if adj > s.cfg.MaxThreads {
			adj = s.cfg.MaxThreads
		}
		if adj < s.cfg.MaxReserve {
			adj = s.cfg.MaxReserve
		}
		s.setMaxThreadsAdj(adj)
		remaining -= adj
		if remaining < 0 {
			remaining = 0
		}
	}
}

// IsScanSnail reports whether s is the loosest-budget scheduler.
func (b *BlendScheduler) IsScanSnail(s worker.TaskScheduler) bool {
	return s == worker.TaskScheduler(b.scheds[len(b.scheds)-1])
}

// MoveTasksToSnail evicts the given tasks from `from` and re-queues
// the ones that were still waiting on the snail scan. Running tasks
// keep running; a booted query's future work just lands on the snail.
func (b *BlendScheduler) MoveTasksToSnail(tasks []*worker.Task, from worker.TaskScheduler) {
	snail := b.scheds[len(b.scheds)-1]
	for _, t := range tasks {
		if t.Scheduler() != from {
			continue
		}
		if removed := from.RemoveTask(t); removed != nil {
			snail.QueueCmd(removed)
		}
	}
}
