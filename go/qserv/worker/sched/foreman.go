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
	"time"

	"github.com/idies/qserv/go/qserv/log"
	"github.com/idies/qserv/go/qserv/worker"
)

// TaskRunner executes one task's fragments. It is the boundary to the
// SQL engine, which is out of scope here; a runner error is a typed
// result recorded against the query, never a worker abort.
type TaskRunner func(ctx context.Context, t *worker.Task) error

// Foreman owns the worker's bounded thread pool. Each thread
// repeatedly pulls from the blend scheduler, runs the task, and
// reports completion. A thread whose task was cancelled leaves the
// pool after the task unwinds; a replacement is started so the pool
// size holds steady.
type Foreman struct {
	blend   *BlendScheduler
	tracker *worker.Tracker
	run     TaskRunner
	threads int

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewForeman wires a pool of the given size to blend and tracker.
func NewForeman(blend *BlendScheduler, tracker *worker.Tracker, run TaskRunner, threads int) *Foreman {
	return &Foreman{blend: blend, tracker: tracker, run: run, threads: threads}
}

// Start launches the pool.
func (f *Foreman) Start(ctx context.Context) {
	f.ctx, f.cancel = context.WithCancel(ctx)
	for i := 0; i < f.threads; i++ {
		f.spawn()
	}
}

// Stop shuts the schedulers down and waits for the pool to drain.
func (f *Foreman) Stop() {
	f.cancel()
	f.blend.Shutdown()
	f.wg.Wait()
}

func (f *Foreman) spawn() {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.threadLoop()
	}()
}

func (f *Foreman) threadLoop() {
	for {
		t := f.blend.GetCmd(true)
		if t == nil {
			return
		}
		leave := f.runOne(t)
		if f.ctx.Err() != nil {
			return
		}
		if leave {
			// The scheduler asked this thread out of the pool; keep
			// the pool at size.
			f.spawn()
			return
		}
	}
}

// runOne executes one task; it reports whether the thread should leave
// the pool (a cancelled task unwound on it).
func (f *Foreman) runOne(t *worker.Task) bool {
	sched, _ := t.Scheduler().(*ScanScheduler)
	if sched == nil {
		log.Errorf("%s dispatched without a scheduler", t.IDStr())
		return false
	}
	sched.CommandStart(t)
	f.tracker.StartedTask(t)

	var err error
	if !t.Cancelled() {
		err = f.run(f.ctx, t)
	}
	runTime := t.Finished(time.Now())

	sched.CommandFinish(t)
	f.tracker.FinishedTask(t, runTime)
	if err != nil {
		f.tracker.FailedTask(t, err)
	}
	return t.Cancelled()
}
