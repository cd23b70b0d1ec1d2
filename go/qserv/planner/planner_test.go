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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idies/qserv/go/qserv/css"
	"github.com/idies/qserv/go/qserv/qerror"
)

func testCatalog() *css.Facade {
	data := css.TestData("LSST", "Object",
		css.PartitionCols{Ra: "ra", Decl: "decl", ObjectID: "objectId"}, true)
	for k, v := range css.TestData("LSST", "Source",
		css.PartitionCols{Ra: "ra", Decl: "decl"}, false) {
		data[k] = v
	}
	for k, v := range css.TestData("LSST2", "Object",
		css.PartitionCols{Ra: "ra", Decl: "decl"}, false) {
		data[k] = v
	}
	data["/DBS/LSST/TABLES/Filter"] = ""
	data["/DBS/LSST/emptyChunks"] = "7,8,9"
	return css.NewFacade(css.NewMemKV(data), 0)
}

func newFactory(t *testing.T, opts Options) *Factory {
	t.Helper()
	if opts.AllowedDbs == nil {
		opts.AllowedDbs = []string{"LSST", "LSST2"}
	}
	f, err := New(testCatalog(), opts)
	require.NoError(t, err)
	return f
}

func analyze(t *testing.T, f *Factory, sql string) *Session {
	t.Helper()
	s := f.NewSession()
	s.AnalyzeQuery(context.Background(), sql)
	return s
}

func TestSimpleSelect(t *testing.T) {
	f := newFactory(t, Options{DefaultDb: "LSST"})
	s := analyze(t, f, "SELECT ra, decl FROM LSST.Object WHERE objectId=1")
	require.NoError(t, s.Error())

	assert.Equal(t,
		"select ra, decl from LSST.`Object_%CC%` where objectId = 1",
		s.ParallelTemplate())
	assert.False(t, s.NeedsMerge())
	assert.Empty(t, s.MergeStatement("result_1_m"))
	assert.Equal(t, "LSST", s.DominantDb())
	assert.True(t, s.HasChunks())
	assert.False(t, s.HasSubChunks())
}

func TestAggregateWithGroupBy(t *testing.T) {
	f := newFactory(t, Options{DefaultDb: "LSST"})
	s := analyze(t, f,
		"SELECT SUM(pm_declErr), AVG(pm_declErr), chunkId FROM LSST.Object WHERE bMagF>20.0 GROUP BY chunkId")
	require.NoError(t, s.Error())

	assert.Equal(t,
		"select sum(pm_declErr) as QS1_SUM, count(pm_declErr) as QS2_COUNT, "+
			"sum(pm_declErr) as QS3_SUM, chunkId from LSST.`Object_%CC%` "+
			"where bMagF > 20.0 group by chunkId",
		s.ParallelTemplate())
	assert.True(t, s.NeedsMerge())
	assert.Equal(t,
		"select sum(QS1_SUM), sum(QS3_SUM) / sum(QS2_COUNT), chunkId "+
			"from result_1_m group by chunkId",
		s.MergeStatement("result_1_m"))
}

func TestProhibitedDb(t *testing.T) {
	f := newFactory(t, Options{DefaultDb: "LSST", AllowedDbs: []string{"LSST"}})
	s := analyze(t, f, "SELECT * FROM SECRET.Foo")

	require.Error(t, s.Error())
	assert.Equal(t, qerror.ProhibitedDB, qerror.CodeOf(s.Error()))
	assert.Contains(t, s.Error().Error(), "Query references prohibited dbs: SECRET")
	assert.Empty(t, s.ParallelTemplate())
	assert.False(t, s.ChunkQueries().Next())
}

func TestNoDbSelected(t *testing.T) {
	f := newFactory(t, Options{})
	s := analyze(t, f, "SELECT * FROM Foo")

	require.Error(t, s.Error())
	assert.Equal(t, qerror.NoDBSelected, qerror.CodeOf(s.Error()))
	assert.Contains(t, s.Error().Error(), "No database selected")
}

func TestInvalidTable(t *testing.T) {
	f := newFactory(t, Options{DefaultDb: "LSST"})
	s := analyze(t, f, "SELECT * FROM LSST.Nope")

	require.Error(t, s.Error())
	assert.Equal(t, qerror.InvalidTable, qerror.CodeOf(s.Error()))
	assert.Contains(t, s.Error().Error(), "no such table: LSST.Nope")
}

func TestSyntaxError(t *testing.T) {
	f := newFactory(t, Options{DefaultDb: "LSST"})
	s := analyze(t, f, "SELECT FROM WHERE")
	require.Error(t, s.Error())
	assert.Equal(t, qerror.Syntax, qerror.CodeOf(s.Error()))
}

func TestNonSelectUnsupported(t *testing.T) {
	f := newFactory(t, Options{DefaultDb: "LSST"})
	s := analyze(t, f, "DROP TABLE LSST.Object")
	require.Error(t, s.Error())
	assert.Equal(t, qerror.UnsupportedSyntax, qerror.CodeOf(s.Error()))
}

func TestPlainTablePassthrough(t *testing.T) {
	f := newFactory(t, Options{DefaultDb: "LSST"})
	s := analyze(t, f, "SELECT * FROM LSST.Filter")
	require.NoError(t, s.Error())

	assert.Equal(t, "select * from LSST.Filter", s.ParallelTemplate())
	assert.False(t, s.HasChunks())
	assert.False(t, s.NeedsMerge())

	s.Finalize()
	assert.True(t, s.IsDummy())
}

func TestAliasesFeedMerge(t *testing.T) {
	f := newFactory(t, Options{DefaultDb: "LSST"})
	s := analyze(t, f,
		"SELECT SUM(flux) AS total, chunkId AS c FROM LSST.Object GROUP BY chunkId ORDER BY chunkId")
	require.NoError(t, s.Error())

	assert.Equal(t,
		"select sum(flux) as QS1_SUM, chunkId as c from LSST.`Object_%CC%` group by chunkId",
		s.ParallelTemplate())
	assert.Equal(t,
		"select sum(QS1_SUM) as total, c from r group by c order by c asc",
		s.MergeStatement("r"))
	assert.Equal(t, "ORDER BY c asc", s.ProxyOrderBy())
}

func TestMinMaxCountStar(t *testing.T) {
	f := newFactory(t, Options{DefaultDb: "LSST"})
	s := analyze(t, f, "SELECT MIN(r), MAX(r), COUNT(*) FROM LSST.Object")
	require.NoError(t, s.Error())

	assert.Equal(t,
		"select min(r) as QS1_MIN, max(r) as QS2_MAX, count(*) as QS3_COUNT "+
			"from LSST.`Object_%CC%`",
		s.ParallelTemplate())
	assert.Equal(t,
		"select min(QS1_MIN), max(QS2_MAX), sum(QS3_COUNT) from m",
		s.MergeStatement("m"))
}

func TestDistinctAggregateUnsupported(t *testing.T) {
	f := newFactory(t, Options{DefaultDb: "LSST"})
	s := analyze(t, f, "SELECT SUM(DISTINCT flux) FROM LSST.Object")
	require.Error(t, s.Error())
	assert.Equal(t, qerror.UnsupportedSyntax, qerror.CodeOf(s.Error()))
}

func TestAggregateInsideExpressionUnsupported(t *testing.T) {
	f := newFactory(t, Options{DefaultDb: "LSST"})
	s := analyze(t, f, "SELECT SUM(flux)+1 FROM LSST.Object")
	require.Error(t, s.Error())
	assert.Equal(t, qerror.UnsupportedSyntax, qerror.CodeOf(s.Error()))
}

func TestOrderByLimit(t *testing.T) {
	f := newFactory(t, Options{DefaultDb: "LSST"})
	s := analyze(t, f, "SELECT ra FROM LSST.Object ORDER BY ra DESC LIMIT 5")
	require.NoError(t, s.Error())

	// The parallel form drops ORDER BY, and with it the LIMIT: a
	// per-chunk cap without the ordering could lose rows of the final
	// answer. The merge applies both.
	assert.Equal(t,
		"select ra from LSST.`Object_%CC%`",
		s.ParallelTemplate())
	assert.True(t, s.NeedsMerge())
	assert.Equal(t,
		"select ra from r order by ra desc limit 5",
		s.MergeStatement("r"))
	assert.Equal(t, "ORDER BY ra desc", s.ProxyOrderBy())
}

func TestSpatialRestrictor(t *testing.T) {
	f := newFactory(t, Options{DefaultDb: "LSST", Hints: "box,0,0,5,1"})
	s := analyze(t, f, "SELECT ra, decl FROM LSST.Object o WHERE flux > 5")
	require.NoError(t, s.Error())

	assert.Equal(t,
		"select ra, decl from LSST.`Object_%CC%` as o "+
			"where flux > 5 and scisql_s2PtInBox(o.ra, o.decl, 0, 0, 5, 1) = 1",
		s.ParallelTemplate())

	cs := s.Constraints()
	require.Len(t, cs, 1)
	assert.Equal(t, "box", cs[0].Name)
	assert.Equal(t, []string{"0", "0", "5", "1"}, cs[0].Params)
}

func TestSpatialRestrictorUnaliased(t *testing.T) {
	f := newFactory(t, Options{DefaultDb: "LSST", Hints: "circle,1,1,0.5"})
	s := analyze(t, f, "SELECT ra FROM LSST.Object")
	require.NoError(t, s.Error())
	assert.Equal(t,
		"select ra from LSST.`Object_%CC%` where scisql_s2PtInCircle(ra, decl, 1, 1, 0.5) = 1",
		s.ParallelTemplate())
}

func TestSelfJoinSubChunks(t *testing.T) {
	f := newFactory(t, Options{DefaultDb: "LSST"})
	s := analyze(t, f,
		"SELECT o1.objectId, o2.objectId FROM LSST.Object o1, LSST.Object o2 WHERE o1.objectId != o2.objectId")
	require.NoError(t, s.Error())
	require.True(t, s.HasSubChunks())

	tmpl := s.ParallelTemplate()
	assert.Contains(t, tmpl, "LSST.`Object_%CC%_%SS%` as o1")
	assert.Contains(t, tmpl, "LSST.`Object_%CC%_%SS%` as o2")
	assert.Contains(t, tmpl, " union ")
	assert.Contains(t, tmpl, "LSST.`ObjectFullOverlap_%CC%_%SS%` as o2")
}

func TestSelfJoinWithoutAliases(t *testing.T) {
	f := newFactory(t, Options{DefaultDb: "LSST"})
	s := analyze(t, f, "SELECT * FROM LSST.Object, LSST.Object")
	require.Error(t, s.Error())
	assert.Equal(t, qerror.UnsupportedSyntax, qerror.CodeOf(s.Error()))
}

func TestMungeConflict(t *testing.T) {
	sql := "SELECT o1.ra, o2.ra FROM LSST.Object o1, LSST2.Object o2"

	// Two databases claim the templated name Object_%CC%; the default
	// policy rejects the query.
	f := newFactory(t, Options{DefaultDb: "LSST"})
	s := analyze(t, f, sql)
	require.Error(t, s.Error())
	assert.Equal(t, qerror.UnsupportedSyntax, qerror.CodeOf(s.Error()))
	assert.Contains(t, s.Error().Error(), "conflicting munged referent")

	f = newFactory(t, Options{DefaultDb: "LSST", MungeConflictPolicy: MungeFirst})
	s = analyze(t, f, sql)
	require.NoError(t, s.Error())
	assert.Contains(t, s.ParallelTemplate(), "LSST.`Object_%CC%`")
	assert.Contains(t, s.ParallelTemplate(), "LSST2.`Object_%CC%`")
}

func TestPlannerIdempotence(t *testing.T) {
	f := newFactory(t, Options{DefaultDb: "LSST", Hints: "box,0,0,5,1"})
	sql := "SELECT SUM(flux), AVG(flux), chunkId FROM LSST.Object WHERE bMagF>20.0 GROUP BY chunkId"

	a := analyze(t, f, sql)
	b := analyze(t, f, sql)
	require.NoError(t, a.Error())
	require.NoError(t, b.Error())
	assert.Equal(t, a.ParallelTemplate(), b.ParallelTemplate())
	assert.Equal(t, a.MergeStatement("r"), b.MergeStatement("r"))
	assert.Equal(t, a.NeedsMerge(), b.NeedsMerge())
	assert.Equal(t, a.DominantDb(), b.DominantDb())
}

func TestParseHints(t *testing.T) {
	rs, err := ParseHints("box,0,0,5,1;circle,1,1,1")
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, Restrictor{Kind: "box", Args: []string{"0", "0", "5", "1"}}, rs[0])

	rs, err = ParseHints("")
	require.NoError(t, err)
	assert.Empty(t, rs)

	_, err = ParseHints("box,1,2")
	assert.Error(t, err)

	_, err = ParseHints("blob,1,2,3,4")
	assert.Error(t, err)

	_, err = ParseHints("circle,a,b,c")
	assert.Error(t, err)
}

func TestHavingOverAggregatesUnsupported(t *testing.T) {
	f := newFactory(t, Options{DefaultDb: "LSST"})
	s := analyze(t, f,
		"SELECT chunkId FROM LSST.Object GROUP BY chunkId HAVING COUNT(*) > 5")
	require.Error(t, s.Error())
	assert.Equal(t, qerror.UnsupportedSyntax, qerror.CodeOf(s.Error()))
}
