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

// Package memman manages the table files a task needs locked in RAM
// before it may run. The contract is pure request/release: no implicit
// ordering between schedulers, and no call blocks.
package memman

import (
	"github.com/idies/qserv/go/qserv/qerror"
)

// Handle identifies one prepared file set. The zero Handle is invalid.
type Handle uint64

// InvalidHandle is the zero value; a task's handle is invalid until
// its file set has been prepared.
const InvalidHandle Handle = 0

// FileInfo describes one table file to lock.
type FileInfo struct {
	Path      string
	SizeBytes uint64
}

// Manager is the memory-manager contract the schedulers rely on.
//
// Lock with flexible=true is the flexible-reservation mode: it is
// granted when the requester is otherwise idle, and the manager may
// reserve memory speculatively rather than refuse. A failed strict
// Lock carries the RESOURCE_REFUSED code and the caller retries later.
type Manager interface {
	// Prepare registers a file set and returns its handle. Preparing
	// locks nothing.
	Prepare(files []FileInfo) Handle

	// Lock pins the file set in memory. Idempotent on a locked handle.
	Lock(h Handle, flexible bool) error

	// Unlock releases the file set. Unknown handles are ignored so
	// release paths need no bookkeeping of their own.
	Unlock(h Handle)

	// LockedBytes reports the total bytes currently pinned or
	// reserved.
	LockedBytes() uint64
}

// ErrNoSuchHandle is returned by Lock for a handle never prepared.
var ErrNoSuchHandle = qerror.New(qerror.Internal, "no such memory handle")
