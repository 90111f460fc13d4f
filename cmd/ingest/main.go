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

// ingest reads a GDELT events export and writes each line into a
// wide-column table.
//
// With no input, the export for --date (default today) is downloaded
// from the GDELT events site.
//
//	ingest --table=events --project=my-project --instance=my-instance
//	ingest --sink=hbase --zk-quorum=zk1,zk2 --table=events --input=gs://bucket/20161002.export.CSV.zip
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	ingest "lostluck.dev/eventstoios"
	"lostluck.dev/eventstoios/internal/config"
	"lostluck.dev/eventstoios/internal/logging"
)

// flags holds the command line, before it's merged with any config file.
type flags struct {
	ConfigFile string
	Config     config.Config
}

func initFlags(fs *pflag.FlagSet, now time.Time) *flags {
	f := flags{Config: config.Default(now)}
	c := &f.Config
	fs.StringVar(&f.ConfigFile, "config", "", "YAML file of options; explicit flags override it")
	fs.StringVar(&c.Date, "date", c.Date, "GDELT file date, yyyyMMdd")
	fs.StringVar(&c.Input, "input", "", "input path or URL (default: the GDELT events export for --date)")
	fs.StringVar(&c.Output, "output", "", "directory or blob URL for rejected lines and the run summary")
	fs.StringVar(&c.Sink, "sink", c.Sink, "storage to write to: bigtable or hbase")
	fs.StringVar(&c.Table, "table", "", "table to write to")
	fs.StringVar(&c.Project, "project", "", "Bigtable project")
	fs.StringVar(&c.Instance, "instance", "", "Bigtable instance")
	fs.StringVar(&c.BigtableEndpoint, "bigtable-endpoint", "", "Bigtable address to use without credentials, such as an emulator")
	fs.StringVar(&c.ZKQuorum, "zk-quorum", "", "HBase ZooKeeper quorum")
	fs.IntVar(&c.KeyField, "key-field", c.KeyField, "zero based field of each line used as the row key")
	fs.StringVar(&c.Delimiter, "delimiter", c.Delimiter, "field delimiter of input lines")
	fs.StringVar(&c.Encoding, "encoding", "", "character encoding of the input (default UTF-8)")
	fs.IntVar(&c.BatchSize, "batch-size", c.BatchSize, "mutations per storage write")
	fs.StringVar(&c.CacheDir, "cache-dir", "", "where remote archives are downloaded (default: the user cache dir)")
	fs.DurationVar(&c.Timeout, "timeout", 0, "bound on reading the input and on each batch of writes (default: per step)")
	fs.StringVar(&c.RunnerEndpoint, "endpoint", "", "job management endpoint of the Beam runner")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	return &f
}

// flagFields maps flag names to the option each one sets.
var flagFields = map[string]func(dst, src *config.Config){
	"date":              func(d, s *config.Config) { d.Date = s.Date },
	"input":             func(d, s *config.Config) { d.Input = s.Input },
	"output":            func(d, s *config.Config) { d.Output = s.Output },
	"sink":              func(d, s *config.Config) { d.Sink = s.Sink },
	"table":             func(d, s *config.Config) { d.Table = s.Table },
	"project":           func(d, s *config.Config) { d.Project = s.Project },
	"instance":          func(d, s *config.Config) { d.Instance = s.Instance },
	"bigtable-endpoint": func(d, s *config.Config) { d.BigtableEndpoint = s.BigtableEndpoint },
	"zk-quorum":         func(d, s *config.Config) { d.ZKQuorum = s.ZKQuorum },
	"key-field":         func(d, s *config.Config) { d.KeyField = s.KeyField },
	"delimiter":         func(d, s *config.Config) { d.Delimiter = s.Delimiter },
	"encoding":          func(d, s *config.Config) { d.Encoding = s.Encoding },
	"batch-size":        func(d, s *config.Config) { d.BatchSize = s.BatchSize },
	"cache-dir":         func(d, s *config.Config) { d.CacheDir = s.CacheDir },
	"timeout":           func(d, s *config.Config) { d.Timeout = s.Timeout },
	"endpoint":          func(d, s *config.Config) { d.RunnerEndpoint = s.RunnerEndpoint },
	"log-level":         func(d, s *config.Config) { d.LogLevel = s.LogLevel },
}

// resolve merges defaults, the config file and explicitly set flags,
// in increasing priority.
func (f *flags) resolve(fs *pflag.FlagSet, now time.Time) (config.Config, error) {
	if f.ConfigFile == "" {
		cfg := f.Config
		cfg.Complete()
		return cfg, nil
	}
	cfg := config.Default(now)
	if err := config.LoadFile(f.ConfigFile, &cfg); err != nil {
		return config.Config{}, err
	}
	fs.Visit(func(fl *pflag.Flag) {
		if set, ok := flagFields[fl.Name]; ok {
			set(&cfg, &f.Config)
		}
	})
	cfg.Complete()
	return cfg, nil
}

func newCommand(now time.Time) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ingest",
		Short:         "Write the lines of a GDELT events export into a wide-column table",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	f := initFlags(cmd.Flags(), now)
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := f.resolve(cmd.Flags(), now)
		if err != nil {
			return err
		}
		level, err := logging.ParseLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		slog.SetDefault(logging.New(cmd.ErrOrStderr(), level))
		if err := cfg.Validate(); err != nil {
			return err
		}
		slog.Info("resolved options", slog.Any("options", cfg))

		sum, err := ingest.Run(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %d of %d lines to %s (%d rejected, %d failed)\n",
			sum.Written, sum.Lines, cfg.Table, sum.Rejected, sum.Failed)
		return nil
	}
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newCommand(time.Now()).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "ingest:", err)
		os.Exit(1)
	}
}
