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
	"strconv"
	"strings"

	"vitess.io/vitess/go/vt/sqlparser"

	"github.com/idies/qserv/go/qserv/qerror"
)

// Restrictor is one spatial hint tuple, e.g. {Kind: "box",
// Args: ["0","0","5","1"]}. Args stay strings end to end: converting
// through float64 would corrupt object ids that exceed its mantissa.
type Restrictor struct {
	Kind string
	Args []string
}

// Constraint is the restrictor in the form the external spatial index
// consumes to compute chunk coverage.
type Constraint struct {
	Name   string
	Params []string
}

// udfForKind maps a restrictor kind to its point-test UDF and the
// argument count it requires after the two partitioning columns. A
// count of -1 means "at least six, even" (polygon vertices).
var udfForKind = map[string]struct {
	fn    string
	nargs int
}{
	"box":     {"scisql_s2PtInBox", 4},
	"circle":  {"scisql_s2PtInCircle", 3},
	"ellipse": {"scisql_s2PtInEllipse", 5},
	"poly":    {"scisql_s2PtInCPoly", -1},
}

// ParseHints splits "box,0,0,5,1;circle,1,1,1" into restrictors.
// Empty tuples are skipped; a tuple with a kind but no arguments is an
// error.
func ParseHints(hints string) ([]Restrictor, error) {
	var out []Restrictor
	for _, tuple := range strings.Split(hints, ";") {
		tuple = strings.TrimSpace(tuple)
		if tuple == "" {
			continue
		}
		parts := strings.Split(tuple, ",")
		if len(parts) < 2 {
			return nil, qerror.Errorf(qerror.UnsupportedSyntax,
				"badly formed restrictor spec: %q", tuple)
		}
		r := Restrictor{Kind: strings.TrimSpace(parts[0])}
		for _, a := range parts[1:] {
			r.Args = append(r.Args, strings.TrimSpace(a))
		}
		spec, ok := udfForKind[r.Kind]
		if !ok {
			return nil, qerror.Errorf(qerror.UnsupportedSyntax,
				"unknown restrictor kind: %q", r.Kind)
		}
		if spec.nargs >= 0 && len(r.Args) != spec.nargs {
			return nil, qerror.Errorf(qerror.UnsupportedSyntax,
				"restrictor %s wants %d arguments, got %d", r.Kind, spec.nargs, len(r.Args))
		}
		if spec.nargs < 0 && (len(r.Args) < 6 || len(r.Args)%2 != 0) {
			return nil, qerror.Errorf(qerror.UnsupportedSyntax,
				"restrictor %s wants an even number of at least six arguments, got %d",
				r.Kind, len(r.Args))
		}
		for _, a := range r.Args {
			if _, err := strconv.ParseFloat(a, 64); err != nil {
				return nil, qerror.Errorf(qerror.UnsupportedSyntax,
					"restrictor %s: non-numeric argument %q", r.Kind, a)
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// applyRestrictors injects one point-test predicate per restrictor
// into the WHERE clause of the parallel statement, bound to the
// spatial table's partitioning columns.
func (f *Factory) applyRestrictors(sel *sqlparser.Select, st *planState) error {
	if len(f.restrictors) == 0 {
		return nil
	}
	if st.spatial == nil {
		return qerror.New(qerror.UnsupportedSyntax,
			"spatial restrictor on a query with no chunked table")
	}
	// When the spatial table has an alias the predicate binds through
	// it; unaliased references use bare column names, since the
	// templated table name is not a valid qualifier.
	prefix := ""
	if st.spatial.alias != "" {
		prefix = st.spatial.alias + "."
	}
	for _, r := range f.restrictors {
		spec := udfForKind[r.Kind]
		call := fmt.Sprintf("%s(%s%s, %s%s, %s) = 1",
			spec.fn, prefix, st.spatial.pcols.Ra, prefix, st.spatial.pcols.Decl,
			strings.Join(r.Args, ", "))
		expr, err := f.parser.ParseExpr(call)
		if err != nil {
			return qerror.Wrapf(err, "building restrictor %s", r.Kind)
		}
		sel.AddWhere(expr)
	}
	return nil
}

// constraints exposes the restrictors for chunk-coverage computation.
func (f *Factory) constraints() []Constraint {
	out := make([]Constraint, 0, len(f.restrictors))
	for _, r := range f.restrictors {
		out = append(out, Constraint{Name: r.Kind, Params: append([]string(nil), r.Args...)})
	}
	return out
}
