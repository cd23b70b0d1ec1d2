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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idies/qserv/go/qserv/wire"
	"github.com/idies/qserv/go/qserv/worker"
)

func newTestBlend(t *testing.T, poolSize int) (*BlendScheduler, *ScanScheduler, *ScanScheduler) {
	t.Helper()
	mm := newRecordingMemMan()
	fast, err := NewScanScheduler(Config{
		Name: "fast", MaxThreads: 8, MaxReserve: 2, Priority: 2,
		MaxActiveChunks: 4, MinRating: 0, MaxRating: 10,
	}, NewChunkTasksQueue(mm), mm)
	require.NoError(t, err)
	snail, err := NewScanScheduler(Config{
		Name: "snail", MaxThreads: 8, MaxReserve: 2, Priority: 1,
		MaxActiveChunks: 4, MinRating: 11, MaxRating: 100,
	}, NewChunkTasksQueue(mm), mm)
	require.NoError(t, err)
	b, err := NewBlendScheduler(poolSize, []*ScanScheduler{snail, fast})
	require.NoError(t, err)
	return b, fast, snail
}

func ratedTask(jobID, chunkID, rating int) *worker.Task {
	return worker.NewTask(&wire.TaskMsg{
		QueryID: 1, JobID: jobID, ChunkID: chunkID, Rating: rating,
		Fragments: []wire.Fragment{{Query: "select 1"}},
	})
}

func TestBlendRoutesByRating(t *testing.T) {
	b, fast, snail := newTestBlend(t, 16)

	b.QueueCmd(ratedTask(0, 10, 5))
	b.QueueCmd(ratedTask(1, 10, 50))
	assert.Equal(t, 1, fast.GetSize())
	assert.Equal(t, 1, snail.GetSize())

	// A rating outside every band lands on the snail scan.
	b.QueueCmd(ratedTask(2, 10, 999))
	assert.Equal(t, 2, snail.GetSize())

	for {
		task := b.GetCmd(false)
		if task == nil {
			break
		}
		task.Finished(time.Now())
		sched := task.Scheduler().(*ScanScheduler)
		sched.CommandFinish(task)
	}
}

func TestBlendPriorityOrder(t *testing.T) {
	b, fast, snail := newTestBlend(t, 16)

	b.QueueCmd(ratedTask(0, 10, 50)) // snail
	b.QueueCmd(ratedTask(1, 20, 5))  // fast

	// The higher-priority scheduler's task comes out first.
	t1 := b.GetCmd(false)
	require.NotNil(t, t1)
	assert.Same(t, worker.TaskScheduler(fast), t1.Scheduler())
	t2 := b.GetCmd(false)
	require.NotNil(t, t2)
	assert.Same(t, worker.TaskScheduler(snail), t2.Scheduler())

	for _, task := range []*worker.Task{t1, t2} {
		task.Finished(time.Now())
		task.Scheduler().(*ScanScheduler).CommandFinish(task)
	}
}

func TestApplyPriorityAdjustsCaps(t *testing.T) {
	// Pool smaller than the sum of maxima: the high-priority scheduler
	// is granted the pool minus the reserves below it, capped at its
	// maximum (min(8, 10-2) = 8); the snail keeps the remaining 2.
	b, fast, snail := newTestBlend(t, 10)
	b.ApplyPriority()
	assert.Equal(t, 8, fast.maxThreadsAdjusted())
	assert.Equal(t, 2, snail.maxThreadsAdjusted())

	// A pool that fits everything restores the configured maxima.
	b2, fast2, snail2 := newTestBlend(t, 16)
	b2.ApplyPriority()
	assert.Equal(t, 8, fast2.maxThreadsAdjusted())
	assert.Equal(t, 8, snail2.maxThreadsAdjusted())
}

func TestMoveTasksToSnail(t *testing.T) {
	b, fast, snail := newTestBlend(t, 16)

	tasks := []*worker.Task{
		ratedTask(0, 10, 5),
		ratedTask(1, 10, 5),
	}
	for _, task := range tasks {
		b.QueueCmd(task)
	}
	require.Equal(t, 2, fast.GetSize())
	assert.False(t, b.IsScanSnail(fast))
	assert.True(t, b.IsScanSnail(snail))

	b.MoveTasksToSnail(tasks, fast)
	assert.Equal(t, 0, fast.GetSize())
	assert.Equal(t, 2, snail.GetSize())
}

func TestForemanRunsTasks(t *testing.T) {
	b, _, _ := newTestBlend(t, 16)

	var mu sync.Mutex
	ran := make(map[int]bool)
	var wg sync.WaitGroup

	tracker := worker.NewTracker(b, time.Hour, 0, 3)
	runner := func(ctx context.Context, task *worker.Task) error {
		mu.Lock()
		ran[task.JobID] = true
		mu.Unlock()
		wg.Done()
		return nil
	}
	foreman := NewForeman(b, tracker, runner, 4)
	foreman.Start(context.Background())

	const n = 20
	for i := 0; i < n; i++ {
		task := ratedTask(i, i%3, (i%2)*50)
		tracker.AddTask(task)
		wg.Add(1)
		b.QueueCmd(task)
	}
	wg.Wait()
	foreman.Stop()

	assert.Len(t, ran, n)
	stats := tracker.GetStats(1).Snapshot()
	assert.Equal(t, n, stats.TasksCompleted)
	assert.Equal(t, 0, stats.TasksRunning)
}
