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

package css

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/idies/qserv/go/qserv/qerror"
)

func testFacade(t *testing.T) *Facade {
	t.Helper()
	data := TestData("LSST", "Object", PartitionCols{Ra: "ra", Decl: "decl", ObjectID: "objectId"}, true)
	for k, v := range TestData("LSST", "Source", PartitionCols{Ra: "ra", Decl: "decl"}, false) {
		data[k] = v
	}
	data["/DBS/LSST/TABLES/Filter"] = ""
	data["/DBS/LSST/emptyChunks"] = "7, 8,9"
	return NewFacade(NewMemKV(data), 0)
}

func TestFacadeContains(t *testing.T) {
	ctx := context.Background()
	f := testFacade(t)

	ok, err := f.ContainsDb(ctx, "LSST")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.ContainsDb(ctx, "SECRET")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.ContainsTable(ctx, "LSST", "Object")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.ContainsTable(ctx, "LSST", "Nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFacadeClassification(t *testing.T) {
	ctx := context.Background()
	f := testFacade(t)

	chunked, err := f.TableIsChunked(ctx, "LSST", "Object")
	require.NoError(t, err)
	assert.True(t, chunked)

	chunked, err = f.TableIsChunked(ctx, "LSST", "Filter")
	require.NoError(t, err)
	assert.False(t, chunked)

	sub, err := f.TableIsSubChunked(ctx, "LSST", "Object")
	require.NoError(t, err)
	assert.True(t, sub)

	sub, err = f.TableIsSubChunked(ctx, "LSST", "Source")
	require.NoError(t, err)
	assert.False(t, sub)

	_, err = f.TableIsChunked(ctx, "LSST", "Nope")
	assert.Equal(t, qerror.InvalidTable, qerror.CodeOf(err))

	for table, want := range map[string]int{"Filter": 0, "Source": 1, "Object": 2} {
		level, err := f.GetChunkLevel(ctx, "LSST", table)
		require.NoError(t, err)
		assert.Equal(t, want, level, table)
	}
}

func TestFacadeListings(t *testing.T) {
	ctx := context.Background()
	f := testFacade(t)

	dbs, err := f.GetAllowedDbs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"LSST"}, dbs)

	chunked, err := f.GetChunkedTables(ctx, "LSST")
	require.NoError(t, err)
	assert.Equal(t, []string{"Object", "Source"}, chunked)

	sub, err := f.GetSubChunkedTables(ctx, "LSST")
	require.NoError(t, err)
	assert.Equal(t, []string{"Object"}, sub)
}

func TestFacadePartitionCols(t *testing.T) {
	ctx := context.Background()
	f := testFacade(t)

	pc, err := f.GetPartitionCols(ctx, "LSST", "Object")
	require.NoError(t, err)
	assert.Equal(t, PartitionCols{Ra: "ra", Decl: "decl", ObjectID: "objectId"}, pc)

	pc, err = f.GetPartitionCols(ctx, "LSST", "Source")
	require.NoError(t, err)
	assert.Empty(t, pc.ObjectID)
}

func TestFacadeStriping(t *testing.T) {
	ctx := context.Background()
	f := testFacade(t)

	s, err := f.GetStriping(ctx, "LSST")
	require.NoError(t, err)
	assert.Equal(t, Striping{Stripes: 60, SubStripes: 18}, s)
}

func TestFacadeEmptyChunks(t *testing.T) {
	ctx := context.Background()
	f := testFacade(t)

	empty, err := f.GetEmptyChunks(ctx, "LSST")
	require.NoError(t, err)
	assert.Equal(t, map[int]bool{7: true, 8: true, 9: true}, empty)
}

func TestMemKVListDir(t *testing.T) {
	ctx := context.Background()
	kv := NewMemKV(map[string]string{
		"/DBS/A":          "",
		"/DBS/B/TABLES/T": "",
	})
	names, err := kv.ListDir(ctx, "/DBS")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, names)

	_, err = kv.ListDir(ctx, "/NOPE")
	assert.ErrorIs(t, err, ErrNoNode)

	_, err = kv.Get(ctx, "/NOPE")
	assert.ErrorIs(t, err, ErrNoNode)
}
