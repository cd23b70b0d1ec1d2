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

package memman

import (
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/idies/qserv/go/qserv/log"
	"github.com/idies/qserv/go/qserv/qerror"
)

type lockState int

const (
	statePrepared lockState = iota
	stateLocked
	stateReserved
)

type fileSet struct {
	files []FileInfo
	bytes uint64
	state lockState
}

// Budgeted is a Manager that enforces a byte budget. A strict lock
// that would exceed the budget is refused; a flexible lock reserves
// the memory speculatively and succeeds, letting an otherwise idle
// scheduler make progress.
type Budgeted struct {
	mu     sync.Mutex
	budget uint64
	next   Handle
	sets   map[Handle]*fileSet
	locked uint64
}

// NewBudgeted returns a manager with the given byte budget.
func NewBudgeted(budgetBytes uint64) *Budgeted {
	return &Budgeted{
		budget: budgetBytes,
		sets:   make(map[Handle]*fileSet),
	}
}

// Prepare is part of the Manager interface.
func (m *Budgeted) Prepare(files []FileInfo) Handle {
	var bytes uint64
	for _, f := range files {
		bytes += f.SizeBytes
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	h := m.next
	m.sets[h] = &fileSet{files: files, bytes: bytes}
	return h
}

// Lock is part of the Manager interface.
func (m *Budgeted) Lock(h Handle, flexible bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fs, ok := m.sets[h]
	if !ok {
		return ErrNoSuchHandle
	}
	if fs.state != statePrepared {
		return nil
	}
	if m.locked+fs.bytes > m.budget {
		if !flexible {
			return qerror.Errorf(qerror.ResourceRefused,
				"cannot lock %s, %s of %s in use",
				humanize.IBytes(fs.bytes), humanize.IBytes(m.locked), humanize.IBytes(m.budget))
		}
		fs.state = stateReserved
		m.locked += fs.bytes
		if log.V(1) {
			log.Infof("flexible reservation of %s puts usage at %s (budget %s)",
				humanize.IBytes(fs.bytes), humanize.IBytes(m.locked), humanize.IBytes(m.budget))
		}
		return nil
	}
	fs.state = stateLocked
	m.locked += fs.bytes
	return nil
}

// Unlock is part of the Manager interface.
func (m *Budgeted) Unlock(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fs, ok := m.sets[h]
	if !ok {
		return
	}
	if fs.state != statePrepared {
		m.locked -= fs.bytes
	}
	delete(m.sets, h)
}

// LockedBytes is part of the Manager interface.
func (m *Budgeted) LockedBytes() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.locked
}
