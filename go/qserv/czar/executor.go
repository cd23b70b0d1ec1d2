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

// Package czar dispatches a finalized query session to workers. The
// RPC transport is a collaborator behind the QueryService interface;
// everything here is transport-agnostic fan-out.
package czar

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/idies/qserv/go/qserv/log"
	"github.com/idies/qserv/go/qserv/planner"
	"github.com/idies/qserv/go/qserv/wire"
)

// QueryService carries one task to the worker pool serving a database.
// Implementations stream results elsewhere; Dispatch returns once the
// task is accepted.
type QueryService interface {
	Dispatch(ctx context.Context, db string, msg *wire.TaskMsg) error
}

// Executor fans the per-chunk queries of one user query out to
// workers.
type Executor struct {
	// Concurrency bounds in-flight dispatches. Zero means 8.
	Concurrency int

	// Rating is attached to every task of this query; workers use it
	// to pick a scheduler band.
	Rating int

	// TableBytes, when set, supplies the on-disk size of a chunk table
	// (path "db/Table_<chunk>[_<subchunk>]") so workers can budget
	// memory before locking. Sizes default to zero: the storage layout
	// lives with the workers, and a zero-sized file still names what
	// must be locked.
	TableBytes func(path string) uint64
}

// ResultTable names the merge target for a user query.
func ResultTable(queryID uint64) string {
	return fmt.Sprintf("result_%d_m", queryID)
}

// Submit finalizes the session and dispatches one task message per
// fragment of every covered chunk. The first dispatch error cancels
// the remaining fan-out.
func (e *Executor) Submit(ctx context.Context, queryID uint64, s *planner.Session, svc QueryService) error {
	if err := s.Error(); err != nil {
		return err
	}
	s.Finalize()

	concurrency := e.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	fingerprint := wire.NewFingerprint()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	jobID := 0
	it := s.ChunkQueries()
	for it.Next() {
		for frag := it.Spec(); frag != nil; frag = frag.NextFragment {
			msg := &wire.TaskMsg{
				QueryID:     queryID,
				JobID:       jobID,
				ChunkID:     frag.ChunkID,
				Rating:      e.Rating,
				Fingerprint: fingerprint,
			}
			jobID++
			tables := make([]wire.FileRef, 0, len(frag.Tables))
			for _, path := range frag.Tables {
				ref := wire.FileRef{Path: path}
				if e.TableBytes != nil {
					ref.SizeBytes = e.TableBytes(path)
				}
				tables = append(tables, ref)
			}
			for _, q := range frag.Queries {
				msg.Fragments = append(msg.Fragments, wire.Fragment{Query: q, Tables: tables})
			}
			db := frag.Db
			g.Go(func() error {
				return svc.Dispatch(ctx, db, msg)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Infof("query %d dispatched %d jobs to db %s (needsMerge=%v)",
		queryID, jobID, s.DominantDb(), s.NeedsMerge())
	return nil
}
