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

	"vitess.io/vitess/go/vt/sqlparser"

	"github.com/idies/qserv/go/qserv/qerror"
)

// aggSplit is the outcome of rewriting the select list: the parallel
// form emits partial aggregates under stable synthetic names
// (QSn_SUM, QSn_COUNT, ...) and the merge form combines them.
type aggSplit struct {
	parallel     sqlparser.SelectExprs
	merge        []string
	hasAggregate bool
}

// splitAggregates rewrites every top-level aggregate of the select
// list. SUM and COUNT merge with SUM, MIN/MAX with themselves, and AVG
// splits into a COUNT/SUM pair merged as their quotient. Anything the
// rewriter cannot split is an unsupported-syntax error.
func (f *Factory) splitAggregates(sel *sqlparser.Select, st *planState) (*aggSplit, error) {
	out := &aggSplit{}
	n := 0
	next := func(suffix string) string {
		n++
		return fmt.Sprintf("QS%d_%s", n, suffix)
	}

	for _, se := range sel.SelectExprs {
		switch e := se.(type) {
		case *sqlparser.StarExpr:
			out.parallel = append(out.parallel, e)
			out.merge = append(out.merge, "*")

		case *sqlparser.AliasedExpr:
			alias := e.As.String()
			withAlias := func(mergeExpr string) string {
				if alias != "" {
					return mergeExpr + " as " + alias
				}
				return mergeExpr
			}
			switch agg := e.Expr.(type) {
			case *sqlparser.Sum:
				if agg.Distinct {
					return nil, distinctErr("sum")
				}
				name := next("SUM")
				if err := f.appendAgg(out, "sum", agg.Arg, name); err != nil {
					return nil, err
				}
				out.merge = append(out.merge, withAlias("sum("+name+")"))

			case *sqlparser.Count:
				if agg.Distinct {
					return nil, distinctErr("count")
				}
				if len(agg.Args) != 1 {
					return nil, qerror.New(qerror.UnsupportedSyntax,
						"count over multiple expressions cannot be split")
				}
				name := next("COUNT")
				if err := f.appendAgg(out, "count", agg.Args[0], name); err != nil {
					return nil, err
				}
				out.merge = append(out.merge, withAlias("sum("+name+")"))

			case *sqlparser.CountStar:
				name := next("COUNT")
				expr, err := f.parser.ParseExpr("count(*)")
				if err != nil {
					return nil, qerror.Wrap(err, "building partial aggregate")
				}
				out.hasAggregate = true
				out.parallel = append(out.parallel, aliased(expr, name))
				out.merge = append(out.merge, withAlias("sum("+name+")"))

			case *sqlparser.Avg:
				if agg.Distinct {
					return nil, distinctErr("avg")
				}
				cName := next("COUNT")
				sName := next("SUM")
				if err := f.appendAgg(out, "count", agg.Arg, cName); err != nil {
					return nil, err
				}
				if err := f.appendAgg(out, "sum", agg.Arg, sName); err != nil {
					return nil, err
				}
				out.merge = append(out.merge,
					withAlias(fmt.Sprintf("sum(%s) / sum(%s)", sName, cName)))

			case *sqlparser.Min:
				if agg.Distinct {
					return nil, distinctErr("min")
				}
				name := next("MIN")
				if err := f.appendAgg(out, "min", agg.Arg, name); err != nil {
					return nil, err
				}
				out.merge = append(out.merge, withAlias("min("+name+")"))

			case *sqlparser.Max:
				if agg.Distinct {
					return nil, distinctErr("max")
				}
				name := next("MAX")
				if err := f.appendAgg(out, "max", agg.Arg, name); err != nil {
					return nil, err
				}
				out.merge = append(out.merge, withAlias("max("+name+")"))

			default:
				if sqlparser.ContainsAggregation(e.Expr) {
					return nil, qerror.Errorf(qerror.UnsupportedSyntax,
						"cannot split aggregate inside expression: %s", sqlparser.String(e.Expr))
				}
				out.parallel = append(out.parallel, e)
				out.merge = append(out.merge, f.mergeRefString(e.Expr, alias, st))
			}

		default:
			return nil, qerror.Errorf(qerror.UnsupportedSyntax,
				"unsupported select expression %T", se)
		}
	}
	return out, nil
}

// appendAgg adds one partial aggregate "fn(arg) as name" to the
// parallel select list.
func (f *Factory) appendAgg(out *aggSplit, fn string, arg sqlparser.Expr, name string) error {
	expr, err := f.parser.ParseExpr(fmt.Sprintf("%s(%s)", fn, sqlparser.String(arg)))
	if err != nil {
		return qerror.Wrap(err, "building partial aggregate")
	}
	out.hasAggregate = true
	out.parallel = append(out.parallel, aliased(expr, name))
	return nil
}

func aliased(expr sqlparser.Expr, as string) *sqlparser.AliasedExpr {
	return &sqlparser.AliasedExpr{Expr: expr, As: sqlparser.NewIdentifierCI(as)}
}

func distinctErr(fn string) error {
	return qerror.Errorf(qerror.UnsupportedSyntax,
		"%s(distinct ...) cannot be split across chunks", fn)
}

// mergeRefString renders a pass-through select expression the way the
// merge statement must reference it: by the user's alias when one was
// given (it names the result-table column), otherwise with table
// qualifiers stripped.
func (f *Factory) mergeRefString(expr sqlparser.Expr, alias string, st *planState) string {
	if alias != "" {
		return alias
	}
	return unqualify(expr)
}

// mergeColString is mergeRefString for GROUP BY / ORDER BY members,
// which carry no alias of their own but may name an aliased select
// expression.
func mergeColString(expr sqlparser.Expr, st *planState) string {
	if alias, ok := st.invColAliases[sqlparser.String(expr)]; ok {
		return alias
	}
	return unqualify(expr)
}

// unqualify renders expr with table qualifiers removed from every
// column reference; the merge statement reads a single result table.
func unqualify(expr sqlparser.Expr) string {
	cl := sqlparser.CloneExpr(expr)
	res := sqlparser.Rewrite(cl, nil, func(c *sqlparser.Cursor) bool {
		if col, ok := c.Node().(*sqlparser.ColName); ok && !col.Qualifier.IsEmpty() {
			c.Replace(sqlparser.NewColName(col.Name.String()))
		}
		return true
	})
	return sqlparser.String(res)
}
