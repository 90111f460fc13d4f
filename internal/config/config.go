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

// Package config resolves the options of an ingest run.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	// GDELTEventsURL is the prefix of the daily GDELT event exports.
	GDELTEventsURL = "http://data.gdeltproject.org/events/"

	// DateLayout formats dates as yyyyMMdd.
	DateLayout = "20060102"

	SinkBigtable = "bigtable"
	SinkHBase    = "hbase"
)

// Config holds the options of a single ingest run.
type Config struct {
	Date   string `yaml:"date"`   // GDELT file date, yyyyMMdd.
	Input  string `yaml:"input"`  // Input path or URL. Derived from Date when empty.
	Output string `yaml:"output"` // Directory or blob prefix for rejected lines and the run summary.

	Sink  string `yaml:"sink"`
	Table string `yaml:"table"`

	// Bigtable
	Project          string `yaml:"project"`
	Instance         string `yaml:"instance"`
	BigtableEndpoint string `yaml:"bigtable_endpoint"`

	// HBase
	ZKQuorum string `yaml:"zk_quorum"`

	KeyField  int    `yaml:"key_field"`
	Delimiter string `yaml:"delimiter"`
	Encoding  string `yaml:"encoding"`
	BatchSize int    `yaml:"batch_size"`
	CacheDir  string `yaml:"cache_dir"`

	// Timeout bounds reading the input and each batch of writes.
	// Zero uses the defaults of each step.
	Timeout time.Duration `yaml:"timeout"`

	RunnerEndpoint string `yaml:"runner_endpoint"`
	LogLevel       string `yaml:"log_level"`
}

// Default returns the options used when nothing else is configured.
// The date is now, in now's location.
func Default(now time.Time) Config {
	return Config{
		Date:      now.Format(DateLayout),
		Sink:      SinkBigtable,
		KeyField:  0,
		Delimiter: "\t",
		BatchSize: 100,
		LogLevel:  "info",
	}
}

// DefaultInput returns the URL of the GDELT event export for date.
func DefaultInput(date string) string {
	return GDELTEventsURL + date + ".export.CSV.zip"
}

// Complete fills in options derived from other options.
func (c *Config) Complete() {
	if c.Input == "" {
		c.Input = DefaultInput(c.Date)
	}
}

// Validate reports the first problem with the options.
func (c Config) Validate() error {
	if _, err := time.Parse(DateLayout, c.Date); err != nil {
		return errors.Errorf("invalid date %q, want yyyyMMdd", c.Date)
	}
	if c.Input == "" {
		return errors.New("input is required")
	}
	if c.Table == "" {
		return errors.New("table is required")
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.Delimiter == "" {
		return errors.New("delimiter is required")
	}
	if c.KeyField < 0 {
		return errors.Errorf("key field must not be negative, got %d", c.KeyField)
	}
	if c.Timeout < 0 {
		return errors.Errorf("timeout must not be negative, got %v", c.Timeout)
	}
	switch c.Sink {
	case SinkBigtable:
		if c.Project == "" || c.Instance == "" {
			return errors.New("bigtable sink requires project and instance")
		}
	case SinkHBase:
		if c.ZKQuorum == "" {
			return errors.New("hbase sink requires a zookeeper quorum")
		}
	default:
		return errors.Errorf("unknown sink %q, want %q or %q", c.Sink, SinkBigtable, SinkHBase)
	}
	return nil
}

// LoadFile overlays the YAML file at path onto cfg.
// Keys missing from the file keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading config")
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return errors.Wrapf(err, "parsing config %s", path)
	}
	return nil
}
