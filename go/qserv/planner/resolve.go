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
	"strings"

	"vitess.io/vitess/go/vt/sqlparser"

	"github.com/idies/qserv/go/qserv/qerror"
)

// resolveNames looks every table reference up in the catalog, fixes
// its classification, and picks the dominant database and the spatial
// reference. It reports the first rule the query violates.
func (f *Factory) resolveNames(ctx context.Context, sel *sqlparser.Select, st *planState) error {
	tableExprs, err := collectTableExprs(sel.From)
	if err != nil {
		return err
	}

	var noDefault bool
	var prohibited []string
	seenProhibited := make(map[string]bool)
	seenRef := make(map[string]bool)

	for _, ate := range tableExprs {
		tn := ate.Expr.(sqlparser.TableName)
		ref := &tableRef{
			db:    tn.Qualifier.String(),
			table: tn.Name.String(),
			alias: ate.As.String(),
		}
		if ref.db == "" {
			ref.db = f.opts.DefaultDb
		}
		if ref.db == "" {
			noDefault = true
			st.refs = append(st.refs, ref)
			continue
		}
		if !f.allowed[ref.db] {
			if !seenProhibited[ref.db] {
				seenProhibited[ref.db] = true
				prohibited = append(prohibited, ref.db)
			}
			st.refs = append(st.refs, ref)
			continue
		}
		key := ref.db + "." + ref.table + "/" + ref.alias
		if seenRef[key] {
			return qerror.Errorf(qerror.UnsupportedSyntax,
				"self join of %s.%s requires distinct table aliases", ref.db, ref.table)
		}
		seenRef[key] = true
		st.refs = append(st.refs, ref)
	}

	// Bad-db reporting mirrors the user-facing wording: a missing
	// default db and prohibited dbs can both occur in one statement.
	if noDefault {
		msg := "No database selected"
		if len(prohibited) > 0 {
			msg += ". Query references prohibited dbs: " + strings.Join(prohibited, ",")
		}
		return qerror.New(qerror.NoDBSelected, msg)
	}
	if len(prohibited) > 0 {
		return qerror.New(qerror.ProhibitedDB,
			"Query references prohibited dbs: "+strings.Join(prohibited, ","))
	}

	// Catalog resolution and classification.
	for _, ref := range st.refs {
		ok, err := f.facade.ContainsDb(ctx, ref.db)
		if err != nil {
			return err
		}
		if !ok {
			return qerror.Errorf(qerror.InvalidTable, "no such database: %s", ref.db)
		}
		ok, err = f.facade.ContainsTable(ctx, ref.db, ref.table)
		if err != nil {
			return err
		}
		if !ok {
			return qerror.Errorf(qerror.InvalidTable,
				"no such table: %s.%s", ref.db, ref.table)
		}
		chunked, err := f.facade.TableIsChunked(ctx, ref.db, ref.table)
		if err != nil {
			return err
		}
		if !chunked {
			continue
		}
		ref.class = classChunked
		st.hasChunks = true
		if ref.pcols, err = f.facade.GetPartitionCols(ctx, ref.db, ref.table); err != nil {
			return err
		}
		if ref.subCapable, err = f.facade.TableIsSubChunked(ctx, ref.db, ref.table); err != nil {
			return err
		}
	}

	// A join of two sub-chunk-capable references (self join or
	// near-neighbour join) promotes them to sub-chunked so overlap
	// partitions can stand in for cross-partition joins.
	var subRefs []*tableRef
	for _, ref := range st.refs {
		if ref.subCapable {
			subRefs = append(subRefs, ref)
		}
	}
	if len(subRefs) >= 2 {
		if len(subRefs) > 2 {
			return qerror.New(qerror.UnsupportedSyntax,
				"joins of more than two sub-chunked tables are not supported")
		}
		for _, ref := range subRefs {
			ref.class = classSubChunked
		}
		st.hasSubChunks = true
	}

	// Dominant db: the first chunked table lexically in FROM.
	for _, ref := range st.refs {
		if ref.class != classPlain {
			st.dominantDb = ref.db
			st.spatial = ref
			break
		}
	}
	if st.dominantDb == "" {
		st.dominantDb = f.opts.DefaultDb
	}
	return nil
}
