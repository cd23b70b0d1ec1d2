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
	"context"

	"vitess.io/vitess/go/vt/sqlparser"

	"github.com/idies/qserv/go/qserv/log"
	"github.com/idies/qserv/go/qserv/qerror"
)

// Session holds the analysis state of one user query. A session is
// single-threaded: concurrency across user queries is handled by the
// layer that owns one session per query.
//
// Once Finalize returns, the parallel template and the chunk coverage
// are immutable.
type Session struct {
	factory  *Factory
	original string

	err   error
	state *planState
	tmpl  *templates

	emptyChunks map[int]bool
	chunks      []ChunkSpec
	final       bool
	isDummy     bool
}

// AnalyzeQuery runs the planner pipeline on sql. Any failure is
// captured on the session: the session turns terminal, Error reports
// the first rule violated, and the chunk-query iterator is empty.
func (s *Session) AnalyzeQuery(ctx context.Context, sql string) {
	s.original = sql
	s.err = nil
	s.state = &planState{}
	s.tmpl = nil

	f := s.factory
	stmt, err := f.parser.Parse(sql)
	if err != nil {
		s.fail(qerror.Errorf(qerror.Syntax, "parse error: %v", err))
		return
	}
	sel, ok := stmt.(*sqlparser.Select)
	if !ok {
		s.fail(qerror.Errorf(qerror.UnsupportedSyntax,
			"only SELECT statements are supported, got %T", stmt))
		return
	}

	extractAliases(sel, s.state)
	if err := f.resolveNames(ctx, sel, s.state); err != nil {
		s.fail(err)
		return
	}
	tmpl, err := f.emit(ctx, sel, s.state)
	if err != nil {
		s.fail(err)
		return
	}
	s.tmpl = tmpl

	if s.state.hasChunks {
		empty, err := f.facade.GetEmptyChunks(ctx, s.state.dominantDb)
		if err != nil {
			s.fail(err)
			return
		}
		s.emptyChunks = empty
	}
	if log.V(2) {
		log.Infof("analyzed %q: parallel=%q needsMerge=%v dominantDb=%s",
			sql, tmpl.parallel, tmpl.needsMerge, s.state.dominantDb)
	}
}

func (s *Session) fail(err error) {
	s.err = err
	log.Warningf("query analysis failed: %v (query: %s)", err, s.original)
}

// Error returns the planner error, nil if analysis succeeded.
func (s *Session) Error() error { return s.err }

// Original returns the SQL as submitted.
func (s *Session) Original() string { return s.original }

// ParallelTemplate returns the per-chunk statement with %CC% and %SS%
// substitution points. Empty when the session is terminal.
func (s *Session) ParallelTemplate() string {
	if s.err != nil || s.tmpl == nil {
		return ""
	}
	return s.tmpl.parallel
}

// NeedsMerge reports whether partial results require a merge
// statement rather than plain concatenation.
func (s *Session) NeedsMerge() bool {
	return s.err == nil && s.tmpl != nil && s.tmpl.needsMerge
}

// MergeStatement renders the merge statement over the named result
// table. Empty when no merge is needed.
func (s *Session) MergeStatement(resultTable string) string {
	if !s.NeedsMerge() {
		return ""
	}
	return s.tmpl.mergePrefix + resultTable + s.tmpl.mergeSuffix
}

// ProxyOrderBy returns the ORDER BY clause the front end applies when
// handing rows to the client, or "".
func (s *Session) ProxyOrderBy() string {
	if s.err != nil || s.tmpl == nil {
		return ""
	}
	return s.tmpl.proxyOrderBy
}

// DominantDb returns the database whose worker pool serves the query.
func (s *Session) DominantDb() string {
	if s.state == nil {
		return ""
	}
	return s.state.dominantDb
}

// HasChunks reports whether any referenced table is chunked.
func (s *Session) HasChunks() bool { return s.state != nil && s.state.hasChunks }

// HasSubChunks reports whether the query runs over sub-chunks.
func (s *Session) HasSubChunks() bool { return s.state != nil && s.state.hasSubChunks }

// Constraints returns the spatial restrictors for the external index
// that computes chunk coverage.
func (s *Session) Constraints() []Constraint { return s.factory.constraints() }

// IsDummy reports whether coverage collapsed to the dummy chunk.
func (s *Session) IsDummy() bool { return s.isDummy }

// Chunks returns the current coverage.
func (s *Session) Chunks() []ChunkSpec { return s.chunks }

// AddChunk extends the chunk coverage. Chunks in the dominant
// database's empty-chunk set are pruned silently. Coverage is frozen
// once Finalize has run.
func (s *Session) AddChunk(cs ChunkSpec) error {
	if s.err != nil {
		return s.err
	}
	if s.final {
		return qerror.New(qerror.Internal, "coverage extended after finalize")
	}
	if s.emptyChunks[cs.ChunkID] {
		if log.V(2) {
			log.Infof("pruning empty chunk %d", cs.ChunkID)
		}
		return nil
	}
	if s.HasSubChunks() && len(cs.SubChunks) == 0 {
		return qerror.Errorf(qerror.Internal,
			"sub-chunked query requires sub-chunk coverage for chunk %d", cs.ChunkID)
	}
	cs.normalize()
	s.chunks = append(s.chunks, cs)
	return nil
}

// Finalize freezes the template and coverage. A query that covers no
// real chunk gets the dummy chunk so it still produces a result set.
func (s *Session) Finalize() {
	if s.final || s.err != nil {
		return
	}
	if len(s.chunks) == 0 {
		s.isDummy = true
		s.chunks = []ChunkSpec{{ChunkID: DummyChunkID, SubChunks: []int{1}}}
	}
	s.final = true
}

// IsFinal reports whether Finalize has completed.
func (s *Session) IsFinal() bool { return s.final }
