// Licensed to the Apache Software Foundation (ASF) under one or more
// contributor license agreements.  See the NOTICE file distributed with
// this work for additional information regarding copyright ownership.
// The ASF licenses this file to You under the Apache License, Version 2.0
// (the "License"); you may not use this file except in compliance with
// the License.  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hbaseio writes mutations to an Apache HBase table.
package hbaseio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/tsuna/gohbase"
	"github.com/tsuna/gohbase/hrpc"
	"golang.org/x/sync/errgroup"
	"lostluck.dev/beam-go"
	"lostluck.dev/eventstoios/internal/ioopts"
	"lostluck.dev/eventstoios/mutation"
)

const (
	// DefaultBatchSize is the number of puts buffered before they're sent.
	DefaultBatchSize = 100

	// DefaultTimeout bounds each batch of puts when Timeout isn't set.
	DefaultTimeout = time.Minute

	// maxInFlight bounds the concurrent puts of a batch.
	maxInFlight = 16
)

// Config identifies the target table.
type Config struct {
	ZKQuorum string // Comma separated ZooKeeper hosts.
	Table    string
}

// Options configure Write.
type Options = ioopts.Options

// Name sets the name of the transform.
func Name(name string) Options {
	return &ioopts.Struct{Name: name}
}

// BatchSize sets how many puts are buffered before they're sent.
func BatchSize(n int) Options {
	return &ioopts.Struct{BatchSize: n}
}

// Timeout bounds each batch of puts, including region lookups.
func Timeout(d time.Duration) Options {
	return &ioopts.Struct{Timeout: d}
}

// Write puts each mutation of col into the configured table.
func Write(s *beam.Scope, col beam.PCol[mutation.Mutation], cfg Config, opts ...Options) {
	opt := ioopts.Struct{BatchSize: DefaultBatchSize, Timeout: DefaultTimeout}
	opt.Join(opts...)

	beam.ParDo(s, col, &writeFn{
		ZKQuorum:  cfg.ZKQuorum,
		Table:     cfg.Table,
		BatchSize: opt.BatchSize,
		Timeout:   opt.Timeout,
	}, beam.Name(opt.NameOr("hbaseio.Write")))
}

// client is the part of gohbase.Client a writeFn uses.
type client interface {
	putter
	Close()
}

// newClient connects to the cluster behind quorum.
var newClient = func(quorum string) client {
	return gohbase.NewClient(quorum)
}

type writeFn struct {
	ZKQuorum  string
	Table     string
	BatchSize int
	Timeout   time.Duration

	Written, Failed beam.CounterInt64

	beam.OnBundleFinish
}

func (fn *writeFn) ProcessBundle(dfc *beam.DFC[mutation.Mutation]) error {
	ctx := context.Background()
	c := newClient(fn.ZKQuorum)
	release := sync.OnceFunc(c.Close)
	w := &batchWriter{client: c, table: fn.Table}

	var pending []mutation.Mutation
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		pctx, cancel := context.WithTimeout(ctx, fn.Timeout)
		defer cancel()
		written, err := w.putAll(pctx, pending)
		fn.Written.Inc(dfc, written)
		fn.Failed.Inc(dfc, int64(len(pending))-written)
		pending = pending[:0]
		return err
	}

	fn.OnBundleFinish.Do(dfc, func() error {
		defer release()
		return flush()
	})

	err := dfc.Process(func(ec beam.ElmC, m mutation.Mutation) error {
		pending = append(pending, m)
		if len(pending) >= fn.BatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		release()
	}
	return err
}

// putter is the part of gohbase.Client used for writes.
type putter interface {
	Put(p *hrpc.Mutate) (*hrpc.Result, error)
}

// batchWriter sends a batch of puts concurrently.
type batchWriter struct {
	client putter
	table  string
}

// putAll puts every mutation, returning how many succeeded and the
// first error.
func (w *batchWriter) putAll(ctx context.Context, muts []mutation.Mutation) (int64, error) {
	var written atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInFlight)
	for _, m := range muts {
		g.Go(func() error {
			put, err := ToPut(gctx, w.table, m)
			if err != nil {
				return err
			}
			if _, err := w.client.Put(put); err != nil {
				return errors.Wrapf(err, "putting row %q into %s", m.RowKey, w.table)
			}
			written.Add(1)
			return nil
		})
	}
	err := g.Wait()
	return written.Load(), err
}

// ToPut converts m into an HBase put on table.
func ToPut(ctx context.Context, table string, m mutation.Mutation) (*hrpc.Mutate, error) {
	if m.RowKey == "" {
		return nil, errors.New("mutation has an empty row key")
	}
	put, err := hrpc.NewPutStr(ctx, table, m.RowKey, m.Families())
	if err != nil {
		return nil, errors.Wrapf(err, "building put for row %q", m.RowKey)
	}
	return put, nil
}
