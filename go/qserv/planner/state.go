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
	"vitess.io/vitess/go/vt/sqlparser"

	"github.com/idies/qserv/go/qserv/css"
	"github.com/idies/qserv/go/qserv/qerror"
)

type tableClass int

const (
	classPlain tableClass = iota
	classChunked
	classSubChunked
)

func (c tableClass) String() string {
	switch c {
	case classPlain:
		return "plain"
	case classChunked:
		return "chunked"
	case classSubChunked:
		return "subchunked"
	}
	return "unknown"
}

// tableRef is one table reference from the FROM clause, in lexical
// order. Classification is fixed once the catalog resolves it.
type tableRef struct {
	db    string
	table string
	alias string
	class tableClass

	// pcols is non-empty for every chunked reference.
	pcols css.PartitionCols

	// subCapable means the catalog says the table has sub-chunks; the
	// reference only becomes classSubChunked when the query joins two
	// such references.
	subCapable bool
}

// qualifier returns the name WHERE-clause predicates should use for
// this reference: the alias when present, the table name otherwise.
func (r *tableRef) qualifier() string {
	if r.alias != "" {
		return r.alias
	}
	return r.table
}

// scanTable is one templated table a chunk query scans, still
// carrying the %CC%/%SS% substitution points. The iterator turns it
// into the concrete per-chunk names the worker's memory manager must
// lock.
type scanTable struct {
	db   string
	name string
}

// planState is the shared state threaded through the pipeline stages.
// Stages only append; nothing mutates what an earlier stage produced.
type planState struct {
	refs []*tableRef

	// scanTables lists the templated chunk tables the parallel
	// statement reads, overlap variant included; plain tables are not
	// memory-locked and stay out.
	scanTables []scanTable

	// invColAliases maps a rendered select expression to the alias the
	// user gave it; merge-side references use the alias since it names
	// the column of the result table.
	invColAliases map[string]string

	// mungeMap maps a templated table name to its referent "db.table";
	// used to detect conflicting spatial mappings.
	mungeMap map[string]string

	hasChunks    bool
	hasSubChunks bool
	dominantDb   string

	// spatial is the reference spatial predicates bind to: the first
	// chunked table in FROM order.
	spatial *tableRef
}

// collectTableExprs returns the AliasedTableExprs of a FROM clause in
// lexical order, descending into joins. Derived tables and other
// non-name table expressions are unsupported.
func collectTableExprs(from []sqlparser.TableExpr) ([]*sqlparser.AliasedTableExpr, error) {
	var out []*sqlparser.AliasedTableExpr
	var walk func(te sqlparser.TableExpr) error
	walk = func(te sqlparser.TableExpr) error {
		switch t := te.(type) {
		case *sqlparser.AliasedTableExpr:
			if _, ok := t.Expr.(sqlparser.TableName); !ok {
				return qerror.New(qerror.UnsupportedSyntax,
					"subqueries in FROM are not supported")
			}
			out = append(out, t)
		case *sqlparser.JoinTableExpr:
			if err := walk(t.LeftExpr); err != nil {
				return err
			}
			return walk(t.RightExpr)
		case *sqlparser.ParenTableExpr:
			for _, inner := range t.Exprs {
				if err := walk(inner); err != nil {
					return err
				}
			}
		default:
			return qerror.Errorf(qerror.UnsupportedSyntax,
				"unsupported table expression %T", te)
		}
		return nil
	}
	for _, te := range from {
		if err := walk(te); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// extractAliases records column aliases from the select list. Table
// aliases are picked up during name resolution, ref by ref.
func extractAliases(sel *sqlparser.Select, st *planState) {
	st.invColAliases = make(map[string]string)
	for _, se := range sel.SelectExprs {
		ae, ok := se.(*sqlparser.AliasedExpr)
		if !ok || ae.As.IsEmpty() {
			continue
		}
		st.invColAliases[sqlparser.String(ae.Expr)] = ae.As.String()
	}
}

// addScanTable records a templated table once, in reference order.
func (st *planState) addScanTable(db, name string) {
	for _, t := range st.scanTables {
		if t.db == db && t.name == name {
			return
		}
	}
	st.scanTables = append(st.scanTables, scanTable{db: db, name: name})
}

// registerMunged records templated-name → referent and applies the
// conflict policy when two referents claim one templated name.
func (st *planState) registerMunged(munged, referent string, policy MungePolicy) error {
	if st.mungeMap == nil {
		st.mungeMap = make(map[string]string)
	}
	prev, ok := st.mungeMap[munged]
	if !ok {
		st.mungeMap[munged] = referent
		return nil
	}
	if prev == referent {
		return nil
	}
	switch policy {
	case MungeFirst:
		return nil
	case MungeLast:
		st.mungeMap[munged] = referent
		return nil
	default:
		return qerror.Errorf(qerror.UnsupportedSyntax,
			"conflicting munged referent: %s -> %s (existing), %s (new)",
			munged, prev, referent)
	}
}
