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

// Package wire defines the task message the czar sends to a worker.
// The transport itself is out of scope; messages are JSON so any
// transport that moves bytes can carry them.
package wire

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/idies/qserv/go/qserv/qerror"
)

// FileRef names one on-disk table file a fragment reads, with its size
// so the worker's memory manager can budget before locking.
type FileRef struct {
	Path      string `json:"path"`
	SizeBytes uint64 `json:"sizeBytes"`
}

// Fragment is one executable query plus the table files it touches.
type Fragment struct {
	Query  string    `json:"query"`
	Tables []FileRef `json:"tables"`
}

// TaskMsg is one per-chunk unit of work. Rating is the expected I/O
// cost and is used only to pick the worker scheduler whose band covers
// it. Fingerprint identifies the originating user query for
// cancellation.
type TaskMsg struct {
	QueryID     uint64     `json:"queryId"`
	JobID       int        `json:"jobId"`
	ChunkID     int        `json:"chunkId"`
	Rating      int        `json:"rating"`
	Fingerprint string     `json:"fingerprint"`
	Fragments   []Fragment `json:"fragments"`
}

// NewFingerprint returns a fresh user-query fingerprint.
func NewFingerprint() string { return uuid.NewString() }

// Marshal encodes the message.
func (m *TaskMsg) Marshal() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, qerror.Wrap(err, "encoding task message")
	}
	return b, nil
}

// Unmarshal decodes a message received from a czar.
func Unmarshal(b []byte) (*TaskMsg, error) {
	var m TaskMsg
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, qerror.Wrap(err, "decoding task message")
	}
	if len(m.Fragments) == 0 {
		return nil, qerror.New(qerror.Internal, "task message carries no fragments")
	}
	return &m, nil
}
