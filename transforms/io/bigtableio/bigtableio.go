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

// Package bigtableio writes mutations to a Cloud Bigtable table.
package bigtableio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/bigtable"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"lostluck.dev/beam-go"
	"lostluck.dev/eventstoios/internal/ioopts"
	"lostluck.dev/eventstoios/mutation"
)

const (
	// DefaultBatchSize is the number of mutations sent per ApplyBulk call
	// when BatchSize isn't set.
	DefaultBatchSize = 100

	// DefaultTimeout bounds each ApplyBulk call when Timeout isn't set.
	DefaultTimeout = time.Minute
)

// Config identifies the target table.
type Config struct {
	Project  string
	Instance string
	Table    string
}

// Options configure Write.
type Options = ioopts.Options

// Name sets the name of the transform.
func Name(name string) Options {
	return &ioopts.Struct{Name: name}
}

// BatchSize sets how many mutations are buffered before they're applied.
func BatchSize(n int) Options {
	return &ioopts.Struct{BatchSize: n}
}

// Endpoint connects to the Bigtable service at addr without
// authentication, such as a local emulator.
func Endpoint(addr string) Options {
	return &ioopts.Struct{Endpoint: addr}
}

// Timeout bounds each batch of mutations sent to the table.
func Timeout(d time.Duration) Options {
	return &ioopts.Struct{Timeout: d}
}

// Write applies each mutation of col to the configured table.
//
// Mutations are applied in batches. A bundle fails if any of its rows
// fail to apply.
func Write(s *beam.Scope, col beam.PCol[mutation.Mutation], cfg Config, opts ...Options) {
	opt := ioopts.Struct{BatchSize: DefaultBatchSize, Timeout: DefaultTimeout}
	opt.Join(opts...)

	beam.ParDo(s, col, &writeFn{
		Project:   cfg.Project,
		Instance:  cfg.Instance,
		Table:     cfg.Table,
		Endpoint:  opt.Endpoint,
		BatchSize: opt.BatchSize,
		Timeout:   opt.Timeout,
	}, beam.Name(opt.NameOr("bigtableio.Write")))
}

// NewClient returns a data client for project and instance. A non-empty
// endpoint is dialed without credentials. The returned func closes the
// client and any connection dialed for it.
func NewClient(ctx context.Context, project, instance, endpoint string) (*bigtable.Client, func(), error) {
	var (
		copts []option.ClientOption
		conn  *grpc.ClientConn
	)
	if endpoint != "" {
		var err error
		conn, err = grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, nil, errors.Wrapf(err, "dialing bigtable endpoint %s", endpoint)
		}
		copts = append(copts, option.WithGRPCConn(conn))
	}
	client, err := bigtable.NewClient(ctx, project, instance, copts...)
	if err != nil {
		if conn != nil {
			conn.Close()
		}
		return nil, nil, errors.Wrapf(err, "creating bigtable client for %s/%s", project, instance)
	}
	return client, func() {
		client.Close()
		if conn != nil {
			conn.Close()
		}
	}, nil
}

type writeFn struct {
	Project, Instance, Table string
	Endpoint                 string
	BatchSize                int
	Timeout                  time.Duration

	Written, Failed beam.CounterInt64

	beam.OnBundleFinish
}

func (fn *writeFn) ProcessBundle(dfc *beam.DFC[mutation.Mutation]) error {
	ctx := context.Background()
	client, closeClient, err := NewClient(ctx, fn.Project, fn.Instance, fn.Endpoint)
	if err != nil {
		return err
	}
	release := sync.OnceFunc(closeClient)
	tbl := client.Open(fn.Table)

	var b batch
	flush := func() error {
		if len(b.keys) == 0 {
			return nil
		}
		n := int64(len(b.keys))
		actx, cancel := context.WithTimeout(ctx, fn.Timeout)
		defer cancel()
		errs, err := tbl.ApplyBulk(actx, b.keys, b.muts)
		b.reset()
		if err != nil {
			fn.Failed.Inc(dfc, n)
			return errors.Wrapf(err, "applying %d mutations to %s", n, fn.Table)
		}
		var failed int64
		var first error
		for _, rowErr := range errs {
			if rowErr != nil {
				failed++
				if first == nil {
					first = rowErr
				}
			}
		}
		fn.Written.Inc(dfc, n-failed)
		if failed > 0 {
			fn.Failed.Inc(dfc, failed)
			return errors.Wrapf(first, "%d of %d mutations to %s failed", failed, n, fn.Table)
		}
		slog.Debug("applied mutations", slog.String("table", fn.Table), slog.Int64("count", n))
		return nil
	}

	fn.OnBundleFinish.Do(dfc, func() error {
		defer release()
		return flush()
	})

	err = dfc.Process(func(ec beam.ElmC, m mutation.Mutation) error {
		if m.RowKey == "" {
			fn.Failed.Inc(dfc, 1)
			return errors.New("mutation has an empty row key")
		}
		b.add(m.RowKey, ToBigtable(m, bigtable.Now()))
		if len(b.keys) >= fn.BatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		release()
	}
	return err
}

// batch accumulates mutations for a single ApplyBulk call.
type batch struct {
	keys []string
	muts []*bigtable.Mutation
}

func (b *batch) add(key string, m *bigtable.Mutation) {
	b.keys = append(b.keys, key)
	b.muts = append(b.muts, m)
}

func (b *batch) reset() {
	b.keys, b.muts = nil, nil
}

// ToBigtable converts m into a Bigtable mutation with every cell set at ts.
func ToBigtable(m mutation.Mutation, ts bigtable.Timestamp) *bigtable.Mutation {
	btm := bigtable.NewMutation()
	for _, c := range m.Cells {
		btm.Set(c.Family, c.Qualifier, ts, c.Value)
	}
	return btm
}
