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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idies/qserv/go/qserv/worker"
	"github.com/idies/qserv/go/qserv/worker/memman"
)

// Scenario: tasks with chunk ids [10,20,10,20,10,30] must dispatch in
// chunk-affinity runs, draining one chunk before moving on.
func TestChunkAffinityOrder(t *testing.T) {
	mm := newRecordingMemMan()
	s := newTestScheduler(t, Config{MaxThreads: 2, MaxActiveChunks: 2}, mm)

	for i, chunk := range []int{10, 20, 10, 20, 10, 30} {
		s.QueueCmd(newTask(1, i, chunk))
	}

	var order []int
	for {
		task := s.GetCmd(false)
		if task == nil {
			break
		}
		s.CommandStart(task)
		order = append(order, task.ChunkID)
		task.Finished(time.Now())
		s.CommandFinish(task)
	}
	assert.Equal(t, []int{10, 10, 10, 20, 20, 30}, order)
}

// Scenario: the finishing task's memory handle is parked, and a
// back-to-back task on the same chunk locks before the parked handle
// is released. Draining leaves nothing locked.
func TestDeferredUnlock(t *testing.T) {
	mm := newRecordingMemMan()
	s := newTestScheduler(t, Config{}, mm)

	t1 := newTask(1, 0, 5)
	s.QueueCmd(t1)
	got := s.GetCmd(false)
	require.Same(t, t1, got)
	s.CommandStart(t1)

	// Second task on the same chunk arrives before t1 completes.
	t2 := newTask(1, 1, 5)
	s.QueueCmd(t2)

	t1.Finished(time.Now())
	s.CommandFinish(t1)
	assert.Equal(t, 0, mm.count("unlock"), "finish with work queued must defer the unlock")

	got = s.GetCmd(false)
	require.Same(t, t2, got)
	s.CommandStart(t2)
	t2.Finished(time.Now())
	s.CommandFinish(t2)

	// Event order: t2's lock precedes t1's deferred unlock, and the
	// final finish on an empty queue released immediately.
	assert.Equal(t, []string{"lock:chunk", "lock:chunk", "unlock:chunk", "unlock:chunk"},
		mm.snapshot())
	assert.Equal(t, 2, mm.count("unlock"))
	assert.Equal(t, uint64(0), mm.LockedBytes(), "no handle may remain held at quiescence")
}

func TestMaxThreadsAdmission(t *testing.T) {
	mm := newRecordingMemMan()
	s := newTestScheduler(t, Config{MaxThreads: 2, MaxActiveChunks: 4}, mm)

	for i := 0; i < 4; i++ {
		s.QueueCmd(newTask(1, i, 10))
	}
	t1 := s.GetCmd(false)
	t2 := s.GetCmd(false)
	require.NotNil(t, t1)
	require.NotNil(t, t2)
	assert.Equal(t, 2, s.InFlight())

	// The cap holds until something finishes.
	assert.Nil(t, s.GetCmd(false))
	t1.Finished(time.Now())
	s.CommandFinish(t1)
	assert.NotNil(t, s.GetCmd(false))
}

func TestMaxActiveChunksAdmission(t *testing.T) {
	mm := newRecordingMemMan()
	s := newTestScheduler(t, Config{MaxThreads: 8, MaxActiveChunks: 1}, mm)

	s.QueueCmd(newTask(1, 0, 10))
	s.QueueCmd(newTask(1, 1, 20))

	t1 := s.GetCmd(false)
	require.NotNil(t, t1)
	assert.Equal(t, 10, t1.ChunkID)

	// Chunk 20 is a new chunk id and the active-chunk cap is reached.
	assert.Nil(t, s.GetCmd(false))

	t1.Finished(time.Now())
	s.CommandFinish(t1)
	t2 := s.GetCmd(false)
	require.NotNil(t, t2)
	assert.Equal(t, 20, t2.ChunkID)
	t2.Finished(time.Now())
	s.CommandFinish(t2)
}

func TestMemoryRefusalHoldsTask(t *testing.T) {
	inner := memman.NewBudgeted(0) // nothing fits strictly
	s := newTestScheduler(t, Config{MaxThreads: 2}, inner)

	s.QueueCmd(newTask(1, 0, 10))

	// With inFlight == 0 the lock is flexible, so the idle scheduler
	// still makes progress by reserving.
	t1 := s.GetCmd(false)
	require.NotNil(t, t1)

	// A second task now faces a strict lock and must wait.
	s.QueueCmd(newTask(1, 1, 10))
	assert.Nil(t, s.GetCmd(false))

	t1.Finished(time.Now())
	s.CommandFinish(t1)
	t2 := s.GetCmd(false)
	require.NotNil(t, t2)
	t2.Finished(time.Now())
	s.CommandFinish(t2)
	assert.Equal(t, uint64(0), inner.LockedBytes())
}

func TestRemoveQueuedTask(t *testing.T) {
	mm := newRecordingMemMan()
	s := newTestScheduler(t, Config{}, mm)

	t1 := newTask(1, 0, 10)
	t2 := newTask(1, 1, 20)
	s.QueueCmd(t1)
	s.QueueCmd(t2)

	removed := s.RemoveTask(t1)
	require.Same(t, t1, removed)

	// Cancellation closure: t1 is neither queued nor dispatchable.
	got := s.GetCmd(false)
	require.Same(t, t2, got)
	got.Finished(time.Now())
	s.CommandFinish(got)
	assert.Nil(t, s.GetCmd(false))
}

func TestRemoveInFlightTask(t *testing.T) {
	mm := newRecordingMemMan()
	s := newTestScheduler(t, Config{}, mm)

	t1 := newTask(1, 0, 10)
	s.QueueCmd(t1)
	got := s.GetCmd(false)
	require.Same(t, t1, got)
	s.CommandStart(t1)

	// In flight: not returned, flagged for its thread to unwind.
	assert.Nil(t, s.RemoveTask(t1))
	assert.True(t, t1.Cancelled())

	t1.Finished(time.Now())
	s.CommandFinish(t1)
	assert.Equal(t, uint64(0), mm.LockedBytes())
}

func TestGetCmdBlocksUntilQueue(t *testing.T) {
	mm := newRecordingMemMan()
	s := newTestScheduler(t, Config{}, mm)

	done := make(chan *worker.Task)
	go func() {
		done <- s.GetCmd(true)
	}()

	t1 := newTask(1, 0, 10)
	s.QueueCmd(t1)
	got := <-done
	require.Same(t, t1, got)
	got.Finished(time.Now())
	s.CommandFinish(got)
}

func TestShutdownUnblocks(t *testing.T) {
	mm := newRecordingMemMan()
	s := newTestScheduler(t, Config{}, mm)

	done := make(chan *worker.Task)
	go func() {
		done <- s.GetCmd(true)
	}()
	s.Shutdown()
	assert.Nil(t, <-done)
}

func TestConfigValidation(t *testing.T) {
	mm := newRecordingMemMan()
	q := NewChunkTasksQueue(mm)

	_, err := NewScanScheduler(Config{Name: "bad", MaxThreads: 2, MaxReserve: 3,
		MaxActiveChunks: 1}, q, mm)
	require.Error(t, err)

	_, err = NewScanScheduler(Config{Name: "bad", MaxThreads: 2, MinRating: 5,
		MaxRating: 1, MaxActiveChunks: 1}, q, mm)
	require.Error(t, err)
}
