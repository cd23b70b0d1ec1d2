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

// Package css implements the metadata catalog ("central state service")
// consulted by the query planner. The catalog is a read-only
// hierarchical key-value tree:
//
//	/DBS/<db>
//	/DBS/<db>/TABLES/<table>
//	/DBS/<db>/TABLES/<table>/partitioning/{raCol,declCol,dirCol,subChunks,overlap}
//	/DBS/<db>/striping/{stripes,subStripes}
//	/DBS/<db>/emptyChunks
//
// Two backends are provided: an in-memory map for tests and embedded
// use, and an etcd-backed one for production. The Facade wraps a
// backend with typed accessors and a cache whose entries live for the
// facade's TTL (for the facade's lifetime when the TTL is zero).
package css

import (
	"context"
	"sort"
	"strings"

	"github.com/idies/qserv/go/qserv/qerror"
)

// ErrNoNode is returned when a key does not exist.
var ErrNoNode = qerror.New(qerror.NoSuchKey, "node doesn't exist")

// KV is the read surface of a catalog backend. All paths are absolute,
// slash-separated, with no trailing slash.
type KV interface {
	// Exists reports whether the key or any key below it exists.
	Exists(ctx context.Context, path string) (bool, error)

	// Get returns the value stored at path.
	// Returns ErrNoNode if the key doesn't exist.
	Get(ctx context.Context, path string) (string, error)

	// ListDir returns the sorted names of the immediate children of
	// path. Returns ErrNoNode if there are none.
	ListDir(ctx context.Context, path string) ([]string, error)

	// Close releases the backend connection.
	Close() error
}

// childNames extracts sorted, de-duplicated immediate child names from
// full key paths under dir. Shared by the backends.
func childNames(dir string, keys []string) []string {
	prefix := dir + "/"
	seen := make(map[string]bool)
	var names []string
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[:i]
		}
		if rest == "" || seen[rest] {
			continue
		}
		seen[rest] = true
		names = append(names, rest)
	}
	sort.Strings(names)
	return names
}
