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

// Package sched implements the worker's shared-scan scheduling: tasks
// from many user queries are ordered so that tasks reading the same
// chunk pack together, amortizing the cost of locking that chunk's
// tables in memory.
package sched

import (
	"time"

	"github.com/gammazero/deque"

	"github.com/idies/qserv/go/qserv/worker"
	"github.com/idies/qserv/go/qserv/worker/memman"
)

// TaskQueue is the queue contract a scan scheduler drives. It is not
// safe for concurrent use: the owning scheduler's mutex guards it.
// ChunkTasksQueue is the implementation; which variant a scheduler
// gets is a configuration knob.
type TaskQueue interface {
	QueueTask(t *worker.Task)
	RemoveTask(t *worker.Task) bool
	TaskComplete(t *worker.Task)
	Ready(useFlexibleLock bool) bool
	GetTask(useFlexibleLock bool) *worker.Task
	GetSize() int
	NextTaskDifferentChunkID() bool
	NextChunkID() (int, bool)
	Empty() bool
}

// chunkBucket holds the pending tasks of one chunk id.
type chunkBucket struct {
	chunkID      int
	pending      deque.Deque[*worker.Task]
	inFlight     int
	firstEnqueue time.Time
}

// ChunkTasksQueue buckets tasks by chunk id and drains one bucket at a
// time through an active pointer. When the active bucket empties, the
// pointer advances to the waiting bucket with the earliest enqueue
// time, ties broken on ascending chunk id, which keeps the dispatch
// order deterministic.
type ChunkTasksQueue struct {
	mm      memman.Manager
	buckets map[int]*chunkBucket
	active  *chunkBucket

	// lastChunkID is the chunk of the most recently popped task.
	lastChunkID int
	hasPopped   bool

	// now is replaceable for tests.
	now func() time.Time
}

// NewChunkTasksQueue builds a queue gated by the given memory manager.
func NewChunkTasksQueue(mm memman.Manager) *ChunkTasksQueue {
	return &ChunkTasksQueue{
		mm:      mm,
		buckets: make(map[int]*chunkBucket),
		now:     time.Now,
	}
}

// QueueTask is part of the TaskQueue interface.
func (q *ChunkTasksQueue) QueueTask(t *worker.Task) {
	b := q.buckets[t.ChunkID]
	if b == nil {
		b = &chunkBucket{chunkID: t.ChunkID, firstEnqueue: q.now()}
		q.buckets[t.ChunkID] = b
	}
	b.pending.PushBack(t)
}

// RemoveTask is part of the TaskQueue interface. It reports whether
// the queue held the task; an in-flight task is not the queue's to
// evict.
func (q *ChunkTasksQueue) RemoveTask(t *worker.Task) bool {
	b := q.buckets[t.ChunkID]
	if b == nil {
		return false
	}
	for i := 0; i < b.pending.Len(); i++ {
		if b.pending.At(i) == t {
			b.pending.Remove(i)
			q.reapBucket(b)
			return true
		}
	}
	return false
}

// TaskComplete is part of the TaskQueue interface.
func (q *ChunkTasksQueue) TaskComplete(t *worker.Task) {
	b := q.buckets[t.ChunkID]
	if b == nil {
		return
	}
	b.inFlight--
	q.reapBucket(b)
}

// reapBucket drops a drained bucket so a later task on the same chunk
// starts a fresh waiting clock.
func (q *ChunkTasksQueue) reapBucket(b *chunkBucket) {
	if b.pending.Len() == 0 && b.inFlight <= 0 {
		delete(q.buckets, b.chunkID)
		if q.active == b {
			q.active = nil
		}
	}
}

// activeBucket returns the bucket the pointer rests on, advancing it
// when the current one has drained.
func (q *ChunkTasksQueue) activeBucket() *chunkBucket {
	if q.active != nil && q.active.pending.Len() > 0 {
		return q.active
	}
	var best *chunkBucket
	for _, b := range q.buckets {
		if b.pending.Len() == 0 {
			continue
		}
		if best == nil ||
			b.firstEnqueue.Before(best.firstEnqueue) ||
			(b.firstEnqueue.Equal(best.firstEnqueue) && b.chunkID < best.chunkID) {
			best = b
		}
	}
	q.active = best
	return best
}

// Ready is part of the TaskQueue interface: it asks the memory manager
// whether the head task's file set can be locked now. useFlexibleLock
// is passed through; it means the caller is otherwise idle so the
// manager may reserve memory speculatively. On refusal the pointer
// does not advance.
func (q *ChunkTasksQueue) Ready(useFlexibleLock bool) bool {
	b := q.activeBucket()
	if b == nil {
		return false
	}
	t := b.pending.Front()
	h := t.MemHandle()
	if h == memman.InvalidHandle {
		h = q.mm.Prepare(t.Files())
		t.SetMemHandle(h)
	}
	return q.mm.Lock(h, useFlexibleLock) == nil
}

// GetTask is part of the TaskQueue interface. It pops the head task if
// Ready; nil otherwise.
func (q *ChunkTasksQueue) GetTask(useFlexibleLock bool) *worker.Task {
	if !q.Ready(useFlexibleLock) {
		return nil
	}
	b := q.active
	t := b.pending.PopFront()
	b.inFlight++
	q.lastChunkID = t.ChunkID
	q.hasPopped = true
	return t
}

// GetSize is part of the TaskQueue interface.
func (q *ChunkTasksQueue) GetSize() int {
	n := 0
	for _, b := range q.buckets {
		n += b.pending.Len()
	}
	return n
}

// NextChunkID returns the chunk the head task belongs to.
func (q *ChunkTasksQueue) NextChunkID() (int, bool) {
	b := q.activeBucket()
	if b == nil {
		return 0, false
	}
	return b.chunkID, true
}

// NextTaskDifferentChunkID is part of the TaskQueue interface: true
// when the head task belongs to a different chunk than the most
// recently dispatched one.
func (q *ChunkTasksQueue) NextTaskDifferentChunkID() bool {
	next, ok := q.NextChunkID()
	if !ok {
		return false
	}
	return !q.hasPopped || next != q.lastChunkID
}

// Empty is part of the TaskQueue interface.
func (q *ChunkTasksQueue) Empty() bool { return q.GetSize() == 0 }
