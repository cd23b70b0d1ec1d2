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
	"errors"
	"strconv"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/idies/qserv/go/qserv/qerror"
)

// PartitionCols names the partitioning columns of a chunked table.
type PartitionCols struct {
	Ra       string
	Decl     string
	ObjectID string
}

// Striping holds the sky-tessellation parameters of a database.
type Striping struct {
	Stripes    int
	SubStripes int
}

// Facade provides typed, cached access to the catalog tree. It is
// read-only; the admin tools that populate the tree live elsewhere.
// Safe for concurrent use.
type Facade struct {
	kv    KV
	cache *gocache.Cache
}

// NewFacade wraps a backend. Entries are cached for ttl; a ttl of zero
// disables expiry, which is what the planner wants for the duration of
// a session (catalog updates require a new facade).
func NewFacade(kv KV, ttl time.Duration) *Facade {
	if ttl == 0 {
		ttl = gocache.NoExpiration
	}
	return &Facade{kv: kv, cache: gocache.New(ttl, 10*time.Minute)}
}

func dbKey(db string) string { return "/DBS/" + db }

func tableKey(db, table string) string { return "/DBS/" + db + "/TABLES/" + table }

func partKey(db, table, k string) string {
	return tableKey(db, table) + "/partitioning/" + k
}

// ContainsDb reports whether db is registered in the catalog.
func (f *Facade) ContainsDb(ctx context.Context, db string) (bool, error) {
	if v, ok := f.cache.Get("cdb:" + db); ok {
		return v.(bool), nil
	}
	ok, err := f.kv.Exists(ctx, dbKey(db))
	if err != nil {
		return false, err
	}
	f.cache.SetDefault("cdb:"+db, ok)
	return ok, nil
}

// ContainsTable reports whether db.table is registered.
func (f *Facade) ContainsTable(ctx context.Context, db, table string) (bool, error) {
	key := "ctb:" + db + "." + table
	if v, ok := f.cache.Get(key); ok {
		return v.(bool), nil
	}
	ok, err := f.kv.Exists(ctx, tableKey(db, table))
	if err != nil {
		return false, err
	}
	f.cache.SetDefault(key, ok)
	return ok, nil
}

// TableIsChunked reports whether db.table carries a partitioning spec.
func (f *Facade) TableIsChunked(ctx context.Context, db, table string) (bool, error) {
	if err := f.checkTable(ctx, db, table); err != nil {
		return false, err
	}
	return f.kv.Exists(ctx, tableKey(db, table)+"/partitioning")
}

// TableIsSubChunked reports whether db.table is partitioned into
// sub-chunks (and therefore has an overlap partition).
func (f *Facade) TableIsSubChunked(ctx context.Context, db, table string) (bool, error) {
	if err := f.checkTable(ctx, db, table); err != nil {
		return false, err
	}
	v, err := f.kv.Get(ctx, partKey(db, table, "subChunks"))
	if errors.Is(err, ErrNoNode) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "1", nil
}

// GetAllowedDbs returns all databases registered in the catalog.
func (f *Facade) GetAllowedDbs(ctx context.Context) ([]string, error) {
	if v, ok := f.cache.Get("dbs"); ok {
		return v.([]string), nil
	}
	dbs, err := f.kv.ListDir(ctx, "/DBS")
	if errors.Is(err, ErrNoNode) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	f.cache.SetDefault("dbs", dbs)
	return dbs, nil
}

// GetChunkedTables returns the chunked tables of db, sorted.
func (f *Facade) GetChunkedTables(ctx context.Context, db string) ([]string, error) {
	key := "chunked:" + db
	if v, ok := f.cache.Get(key); ok {
		return v.([]string), nil
	}
	if err := f.checkDb(ctx, db); err != nil {
		return nil, err
	}
	tables, err := f.kv.ListDir(ctx, dbKey(db)+"/TABLES")
	if errors.Is(err, ErrNoNode) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var chunked []string
	for _, t := range tables {
		isC, err := f.kv.Exists(ctx, tableKey(db, t)+"/partitioning")
		if err != nil {
			return nil, err
		}
		if isC {
			chunked = append(chunked, t)
		}
	}
	f.cache.SetDefault(key, chunked)
	return chunked, nil
}

// GetSubChunkedTables returns the sub-chunked tables of db, sorted.
func (f *Facade) GetSubChunkedTables(ctx context.Context, db string) ([]string, error) {
	chunked, err := f.GetChunkedTables(ctx, db)
	if err != nil {
		return nil, err
	}
	var sub []string
	for _, t := range chunked {
		isS, err := f.TableIsSubChunked(ctx, db, t)
		if err != nil {
			return nil, err
		}
		if isS {
			sub = append(sub, t)
		}
	}
	return sub, nil
}

// GetPartitionCols returns the partitioning column names of db.table.
// Every chunked table has non-empty ra/decl columns.
func (f *Facade) GetPartitionCols(ctx context.Context, db, table string) (PartitionCols, error) {
	key := "pcols:" + db + "." + table
	if v, ok := f.cache.Get(key); ok {
		return v.(PartitionCols), nil
	}
	var pc PartitionCols
	var err error
	if pc.Ra, err = f.getString(ctx, partKey(db, table, "raCol")); err != nil {
		return pc, err
	}
	if pc.Decl, err = f.getString(ctx, partKey(db, table, "declCol")); err != nil {
		return pc, err
	}
	// dirCol is optional: only director tables carry an object id.
	pc.ObjectID, err = f.getString(ctx, partKey(db, table, "dirCol"))
	if err != nil && !errors.Is(err, ErrNoNode) {
		return pc, err
	}
	if pc.Ra == "" || pc.Decl == "" {
		return pc, qerror.Errorf(qerror.Internal,
			"chunked table %s.%s has empty partitioning columns", db, table)
	}
	f.cache.SetDefault(key, pc)
	return pc, nil
}

// GetChunkLevel returns 0 for a plain table, 1 for a chunked table and
// 2 for a sub-chunked one.
func (f *Facade) GetChunkLevel(ctx context.Context, db, table string) (int, error) {
	sub, err := f.TableIsSubChunked(ctx, db, table)
	if err != nil {
		return 0, err
	}
	if sub {
		return 2, nil
	}
	chunked, err := f.TableIsChunked(ctx, db, table)
	if err != nil {
		return 0, err
	}
	if chunked {
		return 1, nil
	}
	return 0, nil
}

// GetOverlapTable returns the name of the overlap partition of a
// sub-chunked table.
func (f *Facade) GetOverlapTable(ctx context.Context, db, table string) (string, error) {
	v, err := f.kv.Get(ctx, partKey(db, table, "overlap"))
	if errors.Is(err, ErrNoNode) {
		// Convention when the catalog does not name it explicitly.
		return table + "FullOverlap", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

// GetStriping returns the striping parameters of db.
func (f *Facade) GetStriping(ctx context.Context, db string) (Striping, error) {
	key := "striping:" + db
	if v, ok := f.cache.Get(key); ok {
		return v.(Striping), nil
	}
	var s Striping
	var err error
	if s.Stripes, err = f.getInt(ctx, dbKey(db)+"/striping/stripes"); err != nil {
		return s, err
	}
	if s.SubStripes, err = f.getInt(ctx, dbKey(db)+"/striping/subStripes"); err != nil {
		return s, err
	}
	f.cache.SetDefault(key, s)
	return s, nil
}

// GetEmptyChunks returns the set of chunk ids known to hold no data
// for db. Queries never dispatch to these.
func (f *Facade) GetEmptyChunks(ctx context.Context, db string) (map[int]bool, error) {
	key := "empty:" + db
	if v, ok := f.cache.Get(key); ok {
		return v.(map[int]bool), nil
	}
	raw, err := f.kv.Get(ctx, dbKey(db)+"/emptyChunks")
	if errors.Is(err, ErrNoNode) {
		raw = ""
	} else if err != nil {
		return nil, err
	}
	set := make(map[int]bool)
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		id, err := strconv.Atoi(tok)
		if err != nil {
			return nil, qerror.Errorf(qerror.Internal,
				"bad empty-chunk entry %q for db %s", tok, db)
		}
		set[id] = true
	}
	f.cache.SetDefault(key, set)
	return set, nil
}

func (f *Facade) checkDb(ctx context.Context, db string) error {
	ok, err := f.ContainsDb(ctx, db)
	if err != nil {
		return err
	}
	if !ok {
		return qerror.Errorf(qerror.NoSuchKey, "no such database: %s", db)
	}
	return nil
}

func (f *Facade) checkTable(ctx context.Context, db, table string) error {
	if err := f.checkDb(ctx, db); err != nil {
		return err
	}
	ok, err := f.ContainsTable(ctx, db, table)
	if err != nil {
		return err
	}
	if !ok {
		return qerror.Errorf(qerror.InvalidTable,
			"no such table: %s.%s", db, table)
	}
	return nil
}

func (f *Facade) getString(ctx context.Context, key string) (string, error) {
	return f.kv.Get(ctx, key)
}

func (f *Facade) getInt(ctx context.Context, key string) (int, error) {
	v, err := f.kv.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, qerror.Errorf(qerror.Internal, "non-integer value %q at %s", v, key)
	}
	return n, nil
}

// TestData builds the KV entries for one chunked table; a convenience
// for seeding MemKV in tests and in the planctl tool.
func TestData(db, table string, pc PartitionCols, subChunked bool) map[string]string {
	m := make(map[string]string)
	m[dbKey(db)] = ""
	m[dbKey(db)+"/striping/stripes"] = "60"
	m[dbKey(db)+"/striping/subStripes"] = "18"
	m[tableKey(db, table)] = ""
	m[partKey(db, table, "raCol")] = pc.Ra
	m[partKey(db, table, "declCol")] = pc.Decl
	if pc.ObjectID != "" {
		m[partKey(db, table, "dirCol")] = pc.ObjectID
	}
	if subChunked {
		m[partKey(db, table, "subChunks")] = "1"
	}
	return m
}
