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

// Package bigtabletest runs an in-memory Bigtable for tests.
package bigtabletest

import (
	"context"
	"testing"

	"cloud.google.com/go/bigtable"
	"cloud.google.com/go/bigtable/bttest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	Project  = "test-project"
	Instance = "test-instance"
)

// Emulator is a running in-memory Bigtable server.
type Emulator struct {
	Addr string

	conn *grpc.ClientConn
}

// Start runs an emulator for the duration of the test, holding table
// with the given column families.
func Start(t *testing.T, table string, families ...string) *Emulator {
	t.Helper()
	srv, err := bttest.NewServer("localhost:0")
	if err != nil {
		t.Fatalf("starting bigtable emulator: %v", err)
	}
	t.Cleanup(srv.Close)

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dialing bigtable emulator: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	ctx := context.Background()
	adm, err := bigtable.NewAdminClient(ctx, Project, Instance, option.WithGRPCConn(conn))
	if err != nil {
		t.Fatalf("creating admin client: %v", err)
	}
	if err := adm.CreateTable(ctx, table); err != nil {
		t.Fatalf("creating table %q: %v", table, err)
	}
	for _, fam := range families {
		if err := adm.CreateColumnFamily(ctx, table, fam); err != nil {
			t.Fatalf("creating column family %q: %v", fam, err)
		}
	}
	return &Emulator{Addr: srv.Addr, conn: conn}
}

// Rows returns every row of table, as row key to "family:qualifier" to
// the latest value.
func (e *Emulator) Rows(t *testing.T, table string) map[string]map[string]string {
	t.Helper()
	ctx := context.Background()
	client, err := bigtable.NewClient(ctx, Project, Instance, option.WithGRPCConn(e.conn))
	if err != nil {
		t.Fatalf("creating data client: %v", err)
	}
	rows := map[string]map[string]string{}
	err = client.Open(table).ReadRows(ctx, bigtable.InfiniteRange(""), func(r bigtable.Row) bool {
		cols := map[string]string{}
		for _, items := range r {
			for _, item := range items {
				// Items are newest first.
				if _, ok := cols[item.Column]; !ok {
					cols[item.Column] = string(item.Value)
				}
			}
		}
		rows[r.Key()] = cols
		return true
	}, bigtable.RowFilter(bigtable.LatestNFilter(1)))
	if err != nil {
		t.Fatalf("reading rows of %q: %v", table, err)
	}
	return rows
}
