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
	"sync"
	"time"

	"github.com/idies/qserv/go/qserv/log"
	"github.com/idies/qserv/go/qserv/qerror"
	"github.com/idies/qserv/go/qserv/worker"
	"github.com/idies/qserv/go/qserv/worker/memman"
)

// Config parameterizes one scan scheduler.
type Config struct {
	Name string

	// MaxThreads is the hard ceiling on in-flight tasks.
	MaxThreads int
	// MaxReserve is the thread count the scheduler keeps under
	// contention. MaxReserve <= MaxThreads.
	MaxReserve int
	// Priority ranks the scheduler within a blend; higher wins.
	Priority int
	// MaxActiveChunks caps distinct chunk ids concurrently in flight.
	MaxActiveChunks int

	// MinRating/MaxRating is the band of task ratings this scheduler
	// accepts. MinRating <= MaxRating.
	MinRating int
	MaxRating int

	// MaxRuntime is the wall-clock budget after which a running task
	// is booted. Zero disables booting.
	MaxRuntime time.Duration
}

func (c Config) validate() error {
	if c.MaxThreads < 1 {
		return qerror.Errorf(qerror.Internal, "scheduler %s: MaxThreads must be positive", c.Name)
	}
	if c.MaxReserve > c.MaxThreads {
		return qerror.Errorf(qerror.Internal,
			"scheduler %s: MaxReserve %d > MaxThreads %d", c.Name, c.MaxReserve, c.MaxThreads)
	}
	if c.MinRating > c.MaxRating {
		return qerror.Errorf(qerror.Internal,
			"scheduler %s: MinRating %d > MaxRating %d", c.Name, c.MinRating, c.MaxRating)
	}
	if c.MaxActiveChunks < 1 {
		return qerror.Errorf(qerror.Internal,
			"scheduler %s: MaxActiveChunks must be positive", c.Name)
	}
	return nil
}

// ScanScheduler wraps a chunk-tasks queue with admission control.
// One mutex guards the queue, the counters and the priority state; it
// is held only for the duration of a single operation. The memory
// manager is the only call made while holding it and never blocks or
// calls back.
//
// Invariants, at every instant:
//
//	0 <= inFlight <= maxThreadsAdj <= MaxThreads
//	len(activeChunks) <= MaxActiveChunks
type ScanScheduler struct {
	cfg   Config
	queue TaskQueue
	mm    memman.Manager

	mu   sync.Mutex
	cond *sync.Cond

	maxThreadsAdj int
	inFlight      int
	closed        bool
	// activeChunks refcounts in-flight tasks per chunk id.
	activeChunks map[int]int

	// handleToUnlock delays releasing a finished task's memory by one
	// step: a back-to-back task on the same chunk needs the same
	// tables, and holding the lock across the gap avoids a thrash.
	// At most one deferred handle is outstanding at quiescence.
	handleToUnlock memman.Handle

	// onHeadChunkChange is installed by the blend scheduler; invoked
	// without the mutex when the head-of-queue chunk id changes on a
	// finish.
	onHeadChunkChange func()
	// onEvent wakes the blend's own waiters; invoked without the
	// mutex.
	onEvent func()
}

// NewScanScheduler builds a scheduler over queue, gated by mm.
func NewScanScheduler(cfg Config, queue TaskQueue, mm memman.Manager) (*ScanScheduler, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &ScanScheduler{
		cfg:           cfg,
		queue:         queue,
		mm:            mm,
		maxThreadsAdj: cfg.MaxThreads,
		activeChunks:  make(map[int]int),
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Name identifies the scheduler in logs and statistics.
func (s *ScanScheduler) Name() string { return s.cfg.Name }

// Priority returns the configured priority.
func (s *ScanScheduler) Priority() int { return s.cfg.Priority }

// MaxRuntime is the per-task wall-clock budget.
func (s *ScanScheduler) MaxRuntime() time.Duration { return s.cfg.MaxRuntime }

// AcceptsRating reports whether a task rating falls in this
// scheduler's band.
func (s *ScanScheduler) AcceptsRating(rating int) bool {
	return rating >= s.cfg.MinRating && rating <= s.cfg.MaxRating
}

// QueueCmd enqueues a task.
func (s *ScanScheduler) QueueCmd(t *worker.Task) {
	s.mu.Lock()
	t.Queued(time.Now(), s)
	s.queue.QueueTask(t)
	s.cond.Broadcast()
	s.mu.Unlock()
	s.fireEvent()
}

// GetCmd returns the next admissible task, blocking when wait is true
// until one exists or Shutdown runs. With wait=false a nil return
// means nothing is admissible now.
func (s *ScanScheduler) GetCmd(wait bool) *worker.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.closed {
			return nil
		}
		if s.admitLocked() {
			useFlex := s.inFlight == 0
			if t := s.queue.GetTask(useFlex); t != nil {
				// Release the parked handle only now that the new
				// task's tables are locked: a back-to-back task on
				// the same chunk never sees its tables unpinned.
				s.releaseDeferredLocked()
				s.inFlight++
				s.activeChunks[t.ChunkID]++
				return t
			}
		}
		if s.queue.Empty() {
			s.releaseDeferredLocked()
		}
		if !wait {
			return nil
		}
		s.cond.Wait()
	}
}

// Shutdown unblocks every waiter in GetCmd. Queued tasks stay queued;
// the caller decides whether to drain or fail them.
func (s *ScanScheduler) Shutdown() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Ready reports whether a task is admissible right now.
func (s *ScanScheduler) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyLocked()
}

// readyLocked is the admission rule. Callers hold s.mu.
func (s *ScanScheduler) readyLocked() bool {
	// An idle scheduler may pre-reserve memory.
	return s.admitLocked() && s.queue.Ready(s.inFlight == 0)
}

// admitLocked applies the thread and active-chunk caps of the
// admission rule; the memory check is left to the queue, so that
// GetCmd locks each task's file set once. Callers hold s.mu.
func (s *ScanScheduler) admitLocked() bool {
	if s.inFlight >= s.maxThreadsAdj {
		return false
	}
	next, ok := s.queue.NextChunkID()
	if !ok {
		return false
	}
	if _, active := s.activeChunks[next]; !active && len(s.activeChunks) >= s.cfg.MaxActiveChunks {
		return false
	}
	return true
}

// CommandStart records that a thread began executing t.
func (s *ScanScheduler) CommandStart(t *worker.Task) {
	t.Started(time.Now())
	if log.V(1) {
		log.Infof("%s started on %s", t.IDStr(), s.cfg.Name)
	}
}

// CommandFinish releases t's admission slots. The task's memory handle
// is parked for one step rather than unlocked, unless the queue is
// empty, in which case everything unlocks immediately.
func (s *ScanScheduler) CommandFinish(t *worker.Task) {
	s.mu.Lock()
	s.inFlight--
	s.queue.TaskComplete(t)
	if n := s.activeChunks[t.ChunkID] - 1; n > 0 {
		s.activeChunks[t.ChunkID] = n
	} else {
		delete(s.activeChunks, t.ChunkID)
	}

	s.releaseDeferredLocked()
	s.handleToUnlock = t.MemHandle()
	if s.queue.Empty() {
		s.releaseDeferredLocked()
	}

	headChanged := s.queue.NextTaskDifferentChunkID()
	s.cond.Broadcast()
	s.mu.Unlock()

	if headChanged && s.onHeadChunkChange != nil {
		s.onHeadChunkChange()
	}
	s.fireEvent()
}

// releaseDeferredLocked unlocks the parked handle. Callers hold s.mu.
func (s *ScanScheduler) releaseDeferredLocked() {
	if s.handleToUnlock != memman.InvalidHandle {
		s.mm.Unlock(s.handleToUnlock)
		s.handleToUnlock = memman.InvalidHandle
	}
}

// RemoveTask evicts t. If the queue held it, the task is returned for
// the caller to fail or re-admit elsewhere. If t is in flight it is
// cancelled instead and nil is returned: it must not be re-scheduled,
// and its thread leaves the pool once the task unwinds.
func (s *ScanScheduler) RemoveTask(t *worker.Task) *worker.Task {
	s.mu.Lock()
	removed := s.queue.RemoveTask(t)
	s.mu.Unlock()
	if removed {
		if h := t.MemHandle(); h != memman.InvalidHandle {
			s.mm.Unlock(h)
			t.SetMemHandle(memman.InvalidHandle)
		}
		return t
	}
	t.Cancel()
	return nil
}

// GetSize returns the number of queued tasks.
func (s *ScanScheduler) GetSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.GetSize()
}

// InFlight returns the number of dispatched, unfinished tasks.
func (s *ScanScheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// setMaxThreadsAdj lowers or restores the dynamic thread ceiling; the
// blend scheduler calls it when redistributing the pool.
func (s *ScanScheduler) setMaxThreadsAdj(n int) {
	s.mu.Lock()
	if n > s.cfg.MaxThreads {
		n = s.cfg.MaxThreads
	}
	if n < 0 {
		n = 0
	}
	s.maxThreadsAdj = n
	s.cond.Broadcast()
	s.mu.Unlock()
	s.fireEvent()
}

func (s *ScanScheduler) maxThreadsAdjusted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxThreadsAdj
}

func (s *ScanScheduler) fireEvent() {
	if s.onEvent != nil {
		s.onEvent()
	}
}
