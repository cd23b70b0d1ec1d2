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

// Package planner turns a user SQL statement into the per-chunk form a
// worker can execute plus, when needed, a statement that merges the
// concatenated partial results.
//
// A statement moves through a fixed pipeline: parse, alias extraction,
// name resolution and chunk classification against the metadata
// catalog, spatial restriction, aggregate rewriting, template emission
// and merge synthesis. Each stage reads the previous stage's output;
// shared lookups live in a planState value threaded through the
// stages. The emitted parallel template carries the substitution
// points %CC% (chunk id) and %SS% (sub-chunk id).
package planner

import (
	"strings"

	"vitess.io/vitess/go/vt/sqlparser"

	"github.com/idies/qserv/go/qserv/css"
	"github.com/idies/qserv/go/qserv/log"
	"github.com/idies/qserv/go/qserv/qerror"
)

// Substitution points understood by workers.
const (
	ChunkToken    = "%CC%"
	SubChunkToken = "%SS%"
)

// DummyChunkID is dispatched when a query covers no real chunk, so
// that every query produces at least one (empty) result set.
const DummyChunkID = 1234567890

// MungePolicy decides what to do when two table references disagree on
// the referent of one templated ("munged") name.
type MungePolicy int

const (
	// MungeReject fails the query. The default: the only safe option.
	MungeReject MungePolicy = iota
	// MungeFirst keeps the first mapping seen.
	MungeFirst
	// MungeLast keeps the last mapping seen.
	MungeLast
)

// Options configures a planner factory. The option names in
// configuration files map as: table.defaultdb → DefaultDb,
// table.alloweddbs → AllowedDbs, query.hints → Hints.
type Options struct {
	// DefaultDb qualifies unqualified table references. May be empty,
	// in which case unqualified references are an error.
	DefaultDb string

	// AllowedDbs is the database allow-list. Empty means "LSST only"
	// (legacy default) and logs a warning.
	AllowedDbs []string

	// Hints holds spatial restrictor tuples, semicolon separated:
	// "box,ra,dec,w,h;circle,ra,dec,r".
	Hints string

	// MungeConflictPolicy resolves conflicting munged spatial
	// mappings. Defaults to MungeReject.
	MungeConflictPolicy MungePolicy

	// MaxSubChunksPerFragment bounds how many sub-chunks one worker
	// task covers. Zero means the default of 16.
	MaxSubChunksPerFragment int
}

const defaultMaxSubChunksPerFragment = 16

// Factory builds query sessions sharing one parser, one catalog facade
// and one set of options.
type Factory struct {
	facade      *css.Facade
	parser      *sqlparser.Parser
	opts        Options
	allowed     map[string]bool
	restrictors []Restrictor
}

// New returns a session factory. The facade is read-only from the
// planner's view and may be shared across factories.
func New(facade *css.Facade, opts Options) (*Factory, error) {
	parser, err := sqlparser.New(sqlparser.Options{})
	if err != nil {
		return nil, qerror.Wrap(err, "creating SQL parser")
	}
	if len(opts.AllowedDbs) == 0 {
		log.Warning("no dbs in allow-list, using LSST")
		opts.AllowedDbs = []string{"LSST"}
	}
	if opts.MaxSubChunksPerFragment <= 0 {
		opts.MaxSubChunksPerFragment = defaultMaxSubChunksPerFragment
	}
	allowed := make(map[string]bool, len(opts.AllowedDbs))
	for _, db := range opts.AllowedDbs {
		allowed[strings.TrimSpace(db)] = true
	}
	restrictors, err := ParseHints(opts.Hints)
	if err != nil {
		return nil, err
	}
	return &Factory{
		facade:      facade,
		parser:      parser,
		opts:        opts,
		allowed:     allowed,
		restrictors: restrictors,
	}, nil
}

// NewSession returns a fresh session for one user query.
func (f *Factory) NewSession() *Session {
	return &Session{factory: f}
}
