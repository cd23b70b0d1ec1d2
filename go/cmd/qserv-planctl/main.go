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

// qserv-planctl runs the query planner against a catalog dump and
// prints what would be dispatched. A developer tool: the service
// front-ends live elsewhere.
//
//	qserv-planctl --css-map css.json --defaultdb LSST \
//	    "SELECT ra, decl FROM Object WHERE objectId=1"
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/idies/qserv/go/qserv/css"
	"github.com/idies/qserv/go/qserv/log"
	"github.com/idies/qserv/go/qserv/planner"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log.Flush()
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "qserv-planctl [flags] <sql>",
		Short: "Plan a query against a catalog dump and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(v, args[0])
		},
		SilenceUsage: true,
	}
	fs := cmd.Flags()
	fs.String("css-map", "", "path to a JSON catalog dump (path -> value)")
	fs.String("etcd", "", "etcd endpoints for a live catalog (overrides --css-map)")
	fs.String("etcd-root", "/qserv/css", "catalog root when using --etcd")
	fs.String("defaultdb", "", "default database for unqualified references")
	fs.String("alloweddbs", "", "comma-separated database allow-list")
	fs.String("hints", "", "spatial restrictor tuples, e.g. box,0,0,5,1;circle,1,1,1")
	fs.String("chunks", "", "comma-separated chunk ids to cover")
	log.RegisterFlags(fs)

	// Config keys follow the planner's option names.
	v.BindPFlag("table.defaultdb", fs.Lookup("defaultdb"))
	v.BindPFlag("table.alloweddbs", fs.Lookup("alloweddbs"))
	v.BindPFlag("query.hints", fs.Lookup("hints"))
	v.BindPFlag("css.map", fs.Lookup("css-map"))
	v.BindPFlag("css.etcd", fs.Lookup("etcd"))
	v.BindPFlag("css.etcdroot", fs.Lookup("etcd-root"))
	v.BindPFlag("query.chunks", fs.Lookup("chunks"))
	v.SetEnvPrefix("QSERV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return cmd
}

func run(v *viper.Viper, sql string) error {
	kv, err := openKV(v)
	if err != nil {
		return err
	}
	defer kv.Close()

	opts := planner.Options{
		DefaultDb: v.GetString("table.defaultdb"),
		Hints:     v.GetString("query.hints"),
	}
	if dbs := v.GetString("table.alloweddbs"); dbs != "" {
		opts.AllowedDbs = strings.Split(dbs, ",")
	}
	factory, err := planner.New(css.NewFacade(kv, 0), opts)
	if err != nil {
		return err
	}

	ctx := context.Background()
	session := factory.NewSession()
	session.AnalyzeQuery(ctx, sql)
	if err := session.Error(); err != nil {
		return fmt.Errorf("planning failed: %w", err)
	}
	for _, tok := range strings.Split(v.GetString("query.chunks"), ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		id, err := strconv.Atoi(tok)
		if err != nil {
			return fmt.Errorf("bad chunk id %q", tok)
		}
		spec := planner.ChunkSpec{ChunkID: id}
		if session.HasSubChunks() {
			spec.SubChunks = []int{1, 2, 3}
		}
		if err := session.AddChunk(spec); err != nil {
			return err
		}
	}
	session.Finalize()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Field", "Value"})
	table.SetAutoWrapText(false)
	table.Append([]string{"dominant db", session.DominantDb()})
	table.Append([]string{"parallel", session.ParallelTemplate()})
	table.Append([]string{"needs merge", strconv.FormatBool(session.NeedsMerge())})
	if session.NeedsMerge() {
		table.Append([]string{"merge", session.MergeStatement("result_0_m")})
	}
	if ob := session.ProxyOrderBy(); ob != "" {
		table.Append([]string{"proxy order by", ob})
	}
	it := session.ChunkQueries()
	for it.Next() {
		for frag := it.Spec(); frag != nil; frag = frag.NextFragment {
			for _, q := range frag.Queries {
				table.Append([]string{fmt.Sprintf("chunk %d", frag.ChunkID), q})
			}
		}
	}
	table.Render()
	return nil
}

func openKV(v *viper.Viper) (css.KV, error) {
	if endpoints := v.GetString("css.etcd"); endpoints != "" {
		return css.NewEtcdKV(endpoints, v.GetString("css.etcdroot"))
	}
	path := v.GetString("css.map")
	if path == "" {
		return nil, fmt.Errorf("one of --css-map or --etcd is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data map[string]string
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return css.NewMemKV(data), nil
}
