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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idies/qserv/go/qserv/qerror"
)

func files(sizes ...uint64) []FileInfo {
	var out []FileInfo
	for i, s := range sizes {
		out = append(out, FileInfo{Path: string(rune('a' + i)), SizeBytes: s})
	}
	return out
}

func TestBudgetedLockUnlock(t *testing.T) {
	m := NewBudgeted(100)

	h1 := m.Prepare(files(40, 20))
	require.NotEqual(t, InvalidHandle, h1)
	require.NoError(t, m.Lock(h1, false))
	assert.Equal(t, uint64(60), m.LockedBytes())

	// Idempotent on a locked handle.
	require.NoError(t, m.Lock(h1, false))
	assert.Equal(t, uint64(60), m.LockedBytes())

	m.Unlock(h1)
	assert.Equal(t, uint64(0), m.LockedBytes())
}

func TestBudgetedStrictRefusal(t *testing.T) {
	m := NewBudgeted(100)

	h1 := m.Prepare(files(80))
	require.NoError(t, m.Lock(h1, false))

	h2 := m.Prepare(files(30))
	err := m.Lock(h2, false)
	require.Error(t, err)
	assert.Equal(t, qerror.ResourceRefused, qerror.CodeOf(err))
	assert.True(t, qerror.IsRetryable(err))
	assert.Equal(t, uint64(80), m.LockedBytes())

	// Once memory frees up the retry succeeds.
	m.Unlock(h1)
	require.NoError(t, m.Lock(h2, false))
	assert.Equal(t, uint64(30), m.LockedBytes())
	m.Unlock(h2)
}

func TestBudgetedFlexibleReservation(t *testing.T) {
	m := NewBudgeted(100)

	h1 := m.Prepare(files(80))
	require.NoError(t, m.Lock(h1, false))

	// A flexible request over budget reserves instead of refusing.
	h2 := m.Prepare(files(50))
	require.NoError(t, m.Lock(h2, true))
	assert.Equal(t, uint64(130), m.LockedBytes())

	m.Unlock(h2)
	m.Unlock(h1)
	assert.Equal(t, uint64(0), m.LockedBytes())
}

func TestBudgetedUnknownHandle(t *testing.T) {
	m := NewBudgeted(100)
	assert.Error(t, m.Lock(Handle(42), false))
	m.Unlock(Handle(42)) // ignored
	assert.Equal(t, uint64(0), m.LockedBytes())
}
