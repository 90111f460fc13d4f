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

package ingest

import (
	"context"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"lostluck.dev/beam-go"
	"lostluck.dev/eventstoios/internal/config"
	"lostluck.dev/eventstoios/internal/fetch"
	"lostluck.dev/eventstoios/mutation"
	"lostluck.dev/eventstoios/transforms/io/bigtableio"
	"lostluck.dev/eventstoios/transforms/io/hbaseio"
	"lostluck.dev/eventstoios/transforms/io/textio"
)

// Transform names, which also prefix their counters.
const (
	stepRead     = "ReadFromGDELTFile"
	stepConvert  = "ConvertToKV"
	stepFilter   = "FilterKeys"
	stepMutation = "ToMutation"
	stepBigtable = "WriteToBigtable"
	stepHBase    = "WriteToHBase"
	stepRejected = "WriteRejected"
)

// Build adds the ingest pipeline for cfg to s.
// cfg must be complete and valid.
func Build(s *beam.Scope, cfg config.Config) error {
	keys := KeyExtractor{Field: cfg.KeyField, Delimiter: cfg.Delimiter}

	lines := textio.Read(s, cfg.Input,
		textio.Name(stepRead),
		textio.Encoding(cfg.Encoding),
		textio.CacheDir(cfg.CacheDir),
		textio.Timeout(cfg.Timeout))
	kvs := beam.Map(s, lines, keys.ConvertToKV, beam.Name(stepConvert))
	filtered := beam.ParDo(s, kvs, &filterKeysFn{}, beam.Name(stepFilter))
	muts := beam.Map(s, filtered.Output, func(kv beam.KV[string, string]) mutation.Mutation {
		return mutation.MakeWrite(kv.Key, kv.Value)
	}, beam.Name(stepMutation))

	switch cfg.Sink {
	case config.SinkBigtable:
		bigtableio.Write(s, muts, bigtableio.Config{
			Project:  cfg.Project,
			Instance: cfg.Instance,
			Table:    cfg.Table,
		}, bigtableio.Name(stepBigtable),
			bigtableio.BatchSize(cfg.BatchSize),
			bigtableio.Endpoint(cfg.BigtableEndpoint),
			bigtableio.Timeout(cfg.Timeout))
	case config.SinkHBase:
		hbaseio.Write(s, muts, hbaseio.Config{
			ZKQuorum: cfg.ZKQuorum,
			Table:    cfg.Table,
		}, hbaseio.Name(stepHBase),
			hbaseio.BatchSize(cfg.BatchSize),
			hbaseio.Timeout(cfg.Timeout))
	default:
		return errors.Errorf("unknown sink %q", cfg.Sink)
	}

	if cfg.Output != "" {
		textio.Write(s, OutputPath(cfg.Output, "rejected"), filtered.Rejects, textio.Name(stepRejected))
	}
	return nil
}

// Summary reports what a run did.
type Summary struct {
	RunID string `json:"run_id"`
	Input string `json:"input"`
	Sink  string `json:"sink"`
	Table string `json:"table"`

	Lines    int64 `json:"lines"`    // Lines read.
	Keyed    int64 `json:"keyed"`    // Lines with a row key.
	Rejected int64 `json:"rejected"` // Lines without a row key.
	Written  int64 `json:"written"`  // Rows written to the table.
	Failed   int64 `json:"failed"`   // Rows the table refused.
}

func summarize(runID string, cfg config.Config, counters map[string]int64) Summary {
	sink := stepBigtable
	if cfg.Sink == config.SinkHBase {
		sink = stepHBase
	}
	return Summary{
		RunID:    runID,
		Input:    cfg.Input,
		Sink:     cfg.Sink,
		Table:    cfg.Table,
		Lines:    counters[stepRead+".Lines"],
		Keyed:    counters[stepFilter+".Keyed"],
		Rejected: counters[stepFilter+".Rejected"],
		Written:  counters[sink+".Written"],
		Failed:   counters[sink+".Failed"],
	}
}

// Run executes the ingest pipeline for cfg and waits for it to finish.
// When cfg has an output, the summary is also written there as
// summary.json.
func Run(ctx context.Context, cfg config.Config) (Summary, error) {
	cfg.Complete()
	if err := cfg.Validate(); err != nil {
		return Summary{}, errors.Wrap(err, "invalid options")
	}
	runID := uuid.NewString()
	logger := slog.Default().With(slog.String("run_id", runID))

	opts := []beam.Options{beam.Name("eventstoios-" + runID)}
	if cfg.RunnerEndpoint != "" {
		opts = append(opts, beam.Endpoint(cfg.RunnerEndpoint))
	}
	logger.Info("starting ingest", slog.String("input", cfg.Input), slog.String("sink", cfg.Sink), slog.String("table", cfg.Table))
	pr, err := beam.LaunchAndWait(ctx, func(s *beam.Scope) error {
		return Build(s, cfg)
	}, opts...)
	if err != nil {
		return Summary{}, errors.Wrap(err, "pipeline failed")
	}

	sum := summarize(runID, cfg, pr.Counters)
	logger.Info("ingest finished",
		slog.Int64("lines", sum.Lines),
		slog.Int64("written", sum.Written),
		slog.Int64("rejected", sum.Rejected),
		slog.Int64("failed", sum.Failed))

	if cfg.Output != "" {
		if err := writeSummary(ctx, OutputPath(cfg.Output, "summary.json"), sum); err != nil {
			return sum, err
		}
	}
	return sum, nil
}

func writeSummary(ctx context.Context, dst string, sum Summary) error {
	data, err := json.Marshal(sum)
	if err != nil {
		return errors.Wrap(err, "encoding summary")
	}
	bucket, key, err := fetch.OpenBucket(ctx, dst)
	if err != nil {
		return err
	}
	defer bucket.Close()
	if err := bucket.WriteAll(ctx, key, data, nil); err != nil {
		return errors.Wrapf(err, "writing summary to %s", dst)
	}
	return nil
}

// OutputPath joins name onto output, which is either a local directory
// or a blob URL.
func OutputPath(output, name string) string {
	if strings.Contains(output, "://") {
		if u, err := url.Parse(output); err == nil {
			u.Path = path.Join(u.Path, name)
			return u.String()
		}
	}
	return filepath.Join(output, name)
}
