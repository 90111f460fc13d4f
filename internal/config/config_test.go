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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultInput(t *testing.T) {
	if got, want := DefaultInput("20161002"), "http://data.gdeltproject.org/events/20161002.export.CSV.zip"; got != want {
		t.Errorf("DefaultInput() = %q, want %q", got, want)
	}
}

func TestDefault_Date(t *testing.T) {
	now := time.Date(2024, time.March, 7, 23, 59, 0, 0, time.UTC)
	cfg := Default(now)
	if got, want := cfg.Date, "20240307"; got != want {
		t.Errorf("Default().Date = %q, want %q", got, want)
	}
	cfg.Complete()
	if got, want := cfg.Input, "http://data.gdeltproject.org/events/20240307.export.CSV.zip"; got != want {
		t.Errorf("Complete() input = %q, want %q", got, want)
	}
}

func TestComplete_KeepsInput(t *testing.T) {
	cfg := Default(time.Now())
	cfg.Input = "/data/events.csv"
	cfg.Complete()
	if got, want := cfg.Input, "/data/events.csv"; got != want {
		t.Errorf("Complete() input = %q, want %q", got, want)
	}
}

func validConfig() Config {
	cfg := Default(time.Date(2016, time.October, 2, 0, 0, 0, 0, time.UTC))
	cfg.Table = "events"
	cfg.Project = "proj"
	cfg.Instance = "inst"
	cfg.Complete()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "bad_date", mutate: func(c *Config) { c.Date = "2016-10-02" }, wantErr: "invalid date"},
		{name: "no_table", mutate: func(c *Config) { c.Table = "" }, wantErr: "table is required"},
		{name: "no_input", mutate: func(c *Config) { c.Input = "" }, wantErr: "input is required"},
		{name: "zero_batch", mutate: func(c *Config) { c.BatchSize = 0 }, wantErr: "batch size"},
		{name: "no_delimiter", mutate: func(c *Config) { c.Delimiter = "" }, wantErr: "delimiter"},
		{name: "negative_key_field", mutate: func(c *Config) { c.KeyField = -1 }, wantErr: "key field"},
		{name: "negative_timeout", mutate: func(c *Config) { c.Timeout = -time.Second }, wantErr: "timeout"},
		{name: "bigtable_no_instance", mutate: func(c *Config) { c.Instance = "" }, wantErr: "project and instance"},
		{name: "hbase_no_quorum", mutate: func(c *Config) { c.Sink = SinkHBase }, wantErr: "zookeeper"},
		{name: "hbase_ok", mutate: func(c *Config) { c.Sink = SinkHBase; c.ZKQuorum = "zk1:2181" }},
		{name: "unknown_sink", mutate: func(c *Config) { c.Sink = "cassandra" }, wantErr: "unknown sink"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := validConfig()
			test.mutate(&cfg)
			err := cfg.Validate()
			if test.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), test.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, test.wantErr)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest.yaml")
	data := `
table: events
project: my-project
instance: my-instance
key_field: 2
batch_size: 500
timeout: 90s
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	cfg := Default(time.Date(2016, time.October, 2, 0, 0, 0, 0, time.UTC))
	if err := LoadFile(path, &cfg); err != nil {
		t.Fatalf("LoadFile() = %v", err)
	}
	want := Config{
		Date:      "20161002",
		Sink:      SinkBigtable,
		Table:     "events",
		Project:   "my-project",
		Instance:  "my-instance",
		KeyField:  2,
		Delimiter: "\t",
		BatchSize: 500,
		Timeout:   90 * time.Second,
		LogLevel:  "info",
	}
	if d := cmp.Diff(want, cfg); d != "" {
		t.Errorf("LoadFile() diff (-want, +got):\n%v", d)
	}
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()
	var cfg Config
	if err := LoadFile(filepath.Join(dir, "missing.yaml"), &cfg); err == nil {
		t.Error("LoadFile(missing) = nil, want error")
	}
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("tabel: typo\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := LoadFile(bad, &cfg); err == nil {
		t.Error("LoadFile(unknown key) = nil, want error")
	}
}
