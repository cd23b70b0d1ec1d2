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
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/idies/qserv/go/qserv/qerror"
)

// EtcdKV is the etcd-backed catalog. All catalog keys live under a
// root prefix so that several deployments can share a cluster.
type EtcdKV struct {
	cli  *clientv3.Client
	root string
}

// NewEtcdKV connects to the given comma-separated endpoints and roots
// the catalog at root (for instance "/qserv/css").
func NewEtcdKV(endpoints string, root string) (*EtcdKV, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   strings.Split(endpoints, ","),
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, qerror.Wrapf(err, "connecting to etcd at %v", endpoints)
	}
	return &EtcdKV{cli: cli, root: strings.TrimSuffix(root, "/")}, nil
}

func (e *EtcdKV) key(path string) string { return e.root + path }

// Exists is part of the KV interface.
func (e *EtcdKV) Exists(ctx context.Context, path string) (bool, error) {
	resp, err := e.cli.Get(ctx, e.key(path), clientv3.WithCountOnly())
	if err != nil {
		return false, qerror.Wrap(err, "etcd get")
	}
	if resp.Count > 0 {
		return true, nil
	}
	resp, err = e.cli.Get(ctx, e.key(path)+"/", clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return false, qerror.Wrap(err, "etcd get")
	}
	return resp.Count > 0, nil
}

// Get is part of the KV interface.
func (e *EtcdKV) Get(ctx context.Context, path string) (string, error) {
	resp, err := e.cli.Get(ctx, e.key(path))
	if err != nil {
		return "", qerror.Wrap(err, "etcd get")
	}
	if len(resp.Kvs) == 0 {
		return "", ErrNoNode
	}
	return string(resp.Kvs[0].Value), nil
}

// ListDir is part of the KV interface.
func (e *EtcdKV) ListDir(ctx context.Context, path string) ([]string, error) {
	resp, err := e.cli.Get(ctx, e.key(path)+"/",
		clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, qerror.Wrap(err, "etcd list")
	}
	keys := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		keys = append(keys, strings.TrimPrefix(string(kv.Key), e.root))
	}
	names := childNames(path, keys)
	if len(names) == 0 {
		return nil, ErrNoNode
	}
	return names, nil
}

// Close is part of the KV interface.
func (e *EtcdKV) Close() error { return e.cli.Close() }
