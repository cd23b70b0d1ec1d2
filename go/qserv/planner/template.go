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

// templates is what emission produces: the parallel template string
// with %CC%/%SS% substitution points, and the merge statement in two
// halves around the result-table name.
type templates struct {
	parallel     string
	mergePrefix  string
	mergeSuffix  string
	needsMerge   bool
	proxyOrderBy string
}

// emit walks the analyzed statement and produces the dispatchable
// forms. baseSel is not modified.
func (f *Factory) emit(ctx context.Context, baseSel *sqlparser.Select, st *planState) (*templates, error) {
	if sel := baseSel.Having; sel != nil && sqlparser.ContainsAggregation(sel.Expr) {
		return nil, qerror.New(qerror.UnsupportedSyntax,
			"HAVING over aggregates cannot be split across chunks")
	}

	split, err := f.splitAggregates(baseSel, st)
	if err != nil {
		return nil, err
	}

	par := sqlparser.CloneRefOfSelect(baseSel)
	if err := f.applyRestrictors(par, st); err != nil {
		return nil, err
	}
	par.SelectExprs = split.parallel
	// Ordering of partial results is meaningless; the merge statement
	// re-applies it. A bare LIMIT (no ORDER BY, no offset) however may
	// ride along per chunk as a row-count cap, unless partial
	// aggregates must see every row.
	par.OrderBy = nil
	if split.hasAggregate || len(baseSel.OrderBy) > 0 ||
		(par.Limit != nil && par.Limit.Offset != nil) {
		par.Limit = nil
	}

	if err := f.substituteTables(par, st); err != nil {
		return nil, err
	}

	t := &templates{parallel: sqlparser.String(par)}
	if st.hasSubChunks {
		overlap, err := f.overlapVariant(ctx, par, st)
		if err != nil {
			return nil, err
		}
		t.parallel += " union " + sqlparser.String(overlap)
	}

	t.needsMerge = split.hasAggregate || len(baseSel.OrderBy) > 0 ||
		baseSel.Limit != nil || baseSel.Distinct
	f.emitMerge(baseSel, st, split, t)
	return t, nil
}

// substituteTables rewrites every classified table reference in place
// to its templated form, qualified by its database.
func (f *Factory) substituteTables(sel *sqlparser.Select, st *planState) error {
	tableExprs, err := collectTableExprs(sel.From)
	if err != nil {
		return err
	}
	if len(tableExprs) != len(st.refs) {
		return qerror.Errorf(qerror.Internal,
			"table count changed between analysis (%d) and emission (%d)",
			len(st.refs), len(tableExprs))
	}
	for i, ate := range tableExprs {
		ref := st.refs[i]
		name := ref.table
		switch ref.class {
		case classChunked:
			name = ref.table + "_" + ChunkToken
		case classSubChunked:
			name = ref.table + "_" + ChunkToken + "_" + SubChunkToken
		}
		if ref.class != classPlain {
			referent := ref.db + "." + ref.table
			if err := st.registerMunged(name, referent, f.opts.MungeConflictPolicy); err != nil {
				return err
			}
			st.addScanTable(ref.db, name)
		}
		ate.Expr = sqlparser.TableName{
			Qualifier: sqlparser.NewIdentifierCS(ref.db),
			Name:      sqlparser.NewIdentifierCS(name),
		}
	}
	return nil
}

// overlapVariant clones the parallel statement and points its second
// sub-chunked reference at the overlap partition, so that the union of
// both variants covers near-neighbour pairs straddling a sub-chunk
// boundary.
func (f *Factory) overlapVariant(ctx context.Context, par *sqlparser.Select, st *planState) (*sqlparser.Select, error) {
	overlap := sqlparser.CloneRefOfSelect(par)
	tableExprs, err := collectTableExprs(overlap.From)
	if err != nil {
		return nil, err
	}
	second := -1
	seen := 0
	for i, ref := range st.refs {
		if ref.class == classSubChunked {
			seen++
			if seen == 2 {
				second = i
			}
		}
	}
	if second < 0 {
		return nil, qerror.New(qerror.Internal,
			"sub-chunked query without a second sub-chunked reference")
	}
	ref := st.refs[second]
	overlapBase, err := f.facade.GetOverlapTable(ctx, ref.db, ref.table)
	if err != nil {
		return nil, err
	}
	overlapName := overlapBase + "_" + ChunkToken + "_" + SubChunkToken
	tableExprs[second].Expr = sqlparser.TableName{
		Qualifier: sqlparser.NewIdentifierCS(ref.db),
		Name:      sqlparser.NewIdentifierCS(overlapName),
	}
	st.addScanTable(ref.db, overlapName)
	return overlap, nil
}

// emitMerge assembles the merge statement around the result-table
// name, and the ORDER BY the proxy applies at final retrieval.
func (f *Factory) emitMerge(baseSel *sqlparser.Select, st *planState, split *aggSplit, t *templates) {
	var b strings.Builder
	b.WriteString("select ")
	if baseSel.Distinct {
		b.WriteString("distinct ")
	}
	b.WriteString(strings.Join(split.merge, ", "))
	b.WriteString(" from ")
	t.mergePrefix = b.String()

	var suffix strings.Builder
	if len(baseSel.GroupBy) > 0 {
		cols := make([]string, 0, len(baseSel.GroupBy))
		for _, gb := range baseSel.GroupBy {
			cols = append(cols, mergeColString(gb, st))
		}
		suffix.WriteString(" group by ")
		suffix.WriteString(strings.Join(cols, ", "))
	}
	if len(baseSel.OrderBy) > 0 {
		cols := make([]string, 0, len(baseSel.OrderBy))
		for _, o := range baseSel.OrderBy {
			cols = append(cols, mergeColString(o.Expr, st)+" "+orderDir(o))
		}
		ob := strings.Join(cols, ", ")
		suffix.WriteString(" order by ")
		suffix.WriteString(ob)
		t.proxyOrderBy = "ORDER BY " + ob
	}
	if l := baseSel.Limit; l != nil {
		suffix.WriteString(" limit ")
		if l.Offset != nil {
			suffix.WriteString(sqlparser.String(l.Offset))
			suffix.WriteString(", ")
		}
		suffix.WriteString(sqlparser.String(l.Rowcount))
	}
	t.mergeSuffix = suffix.String()
}

func orderDir(o *sqlparser.Order) string {
	if o.Direction == sqlparser.DescOrder {
		return "desc"
	}
	return "asc"
}
