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

package planner

import (
	"strconv"
	"strings"
)

// ChunkQuerySpec is the concrete dispatchable unit for one chunk: the
// fragment queries of its first sub-chunk batch, with further batches
// chained through NextFragment. Each fragment becomes one worker task.
// Tables lists the concrete chunk tables the fragment's queries scan
// (overlap variants included); the worker's memory manager locks them
// before the task may run.
type ChunkQuerySpec struct {
	Db           string
	ChunkID      int
	SubChunkIDs  []int
	Queries      []string
	Tables       []string
	NextFragment *ChunkQuerySpec
}

// Iter walks the session's chunk coverage producing one ChunkQuerySpec
// per chunk. The spec is built lazily: Next marks the cache dirty and
// Spec rebuilds it from the parallel template on first dereference.
// An iterator can be rebuilt after AddChunk extends coverage, up to
// the point Finalize is called.
type Iter struct {
	s     *Session
	pos   int
	dirty bool
	cache *ChunkQuerySpec
}

// ChunkQueries returns a fresh iterator. It is empty when the session
// is terminal.
func (s *Session) ChunkQueries() *Iter {
	return &Iter{s: s, pos: -1}
}

// Next advances to the next chunk, invalidating the cached spec.
func (it *Iter) Next() bool {
	if it.s.err != nil {
		return false
	}
	if it.pos+1 >= len(it.s.chunks) {
		return false
	}
	it.pos++
	it.dirty = true
	return true
}

// Spec returns the spec for the current chunk, rebuilding the cache if
// a mutation invalidated it.
func (it *Iter) Spec() *ChunkQuerySpec {
	if it.dirty {
		it.cache = it.s.buildSpec(it.s.chunks[it.pos])
		it.dirty = false
	}
	return it.cache
}

// buildSpec materializes the per-chunk queries by substituting %CC%
// and, per sub-chunk, %SS% into the parallel template.
func (s *Session) buildSpec(cs ChunkSpec) *ChunkQuerySpec {
	frags := cs.fragments(s.factory.opts.MaxSubChunksPerFragment)
	head := s.buildFragment(frags[0])
	tail := head
	for _, f := range frags[1:] {
		tail.NextFragment = s.buildFragment(f)
		tail = tail.NextFragment
	}
	return head
}

func (s *Session) buildFragment(cs ChunkSpec) *ChunkQuerySpec {
	spec := &ChunkQuerySpec{
		Db:      s.state.dominantDb,
		ChunkID: cs.ChunkID,
	}
	cc := strconv.Itoa(cs.ChunkID)
	tmpl := strings.ReplaceAll(s.tmpl.parallel, ChunkToken, cc)
	if !s.state.hasSubChunks {
		spec.Queries = []string{tmpl}
		for _, st := range s.state.scanTables {
			spec.Tables = append(spec.Tables,
				st.db+"/"+strings.ReplaceAll(st.name, ChunkToken, cc))
		}
		return spec
	}
	spec.SubChunkIDs = append(spec.SubChunkIDs, cs.SubChunks...)
	for _, ss := range cs.SubChunks {
		sub := strconv.Itoa(ss)
		spec.Queries = append(spec.Queries,
			strings.ReplaceAll(tmpl, SubChunkToken, sub))
		for _, st := range s.state.scanTables {
			name := strings.ReplaceAll(st.name, ChunkToken, cc)
			spec.Tables = append(spec.Tables,
				st.db+"/"+strings.ReplaceAll(name, SubChunkToken, sub))
		}
	}
	return spec
}
