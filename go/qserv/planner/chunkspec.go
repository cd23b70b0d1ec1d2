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
	"fmt"
	"sort"
)

// ChunkSpec names one chunk a query covers and, for sub-chunked
// queries, the sub-chunks within it. SubChunks is kept sorted and
// unique.
type ChunkSpec struct {
	ChunkID   int
	SubChunks []int
}

func (c ChunkSpec) String() string {
	return fmt.Sprintf("ChunkSpec(%d; %v)", c.ChunkID, c.SubChunks)
}

// normalize sorts and de-duplicates the sub-chunk list.
func (c *ChunkSpec) normalize() {
	if len(c.SubChunks) < 2 {
		return
	}
	sort.Ints(c.SubChunks)
	out := c.SubChunks[:1]
	for _, id := range c.SubChunks[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	c.SubChunks = out
}

// fragments splits the sub-chunk list into batches of at most max;
// each batch becomes one worker task.
func (c ChunkSpec) fragments(max int) []ChunkSpec {
	if len(c.SubChunks) <= max {
		return []ChunkSpec{c}
	}
	var out []ChunkSpec
	for lo := 0; lo < len(c.SubChunks); lo += max {
		hi := lo + max
		if hi > len(c.SubChunks) {
			hi = len(c.SubChunks)
		}
		out = append(out, ChunkSpec{ChunkID: c.ChunkID, SubChunks: c.SubChunks[lo:hi]})
	}
	return out
}
