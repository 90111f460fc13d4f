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
	"log/slog"
	"strings"

	"lostluck.dev/beam-go"
	"lostluck.dev/eventstoios/internal/logging"
)

// KeyExtractor derives a row key from a delimited line.
type KeyExtractor struct {
	Field     int    // Zero based index of the key field. Negative fields produce no key.
	Delimiter string // Field separator. GDELT exports are tab separated.
}

// Extract returns the key field of line, trimmed of surrounding spaces.
// Lines without the field produce an empty key.
func (k KeyExtractor) Extract(line string) string {
	if k.Field < 0 || k.Delimiter == "" {
		return ""
	}
	fields := strings.SplitN(line, k.Delimiter, k.Field+2)
	if k.Field >= len(fields) {
		return ""
	}
	return strings.TrimSpace(fields[k.Field])
}

// ConvertToKV pairs line with its key.
func (k KeyExtractor) ConvertToKV(line string) beam.KV[string, string] {
	return beam.Pair(k.Extract(line), line)
}

// filterKeysFn separates pairs with usable row keys from those without.
// An empty row key addresses no row, so such lines are rejected rather
// than written.
type filterKeysFn struct {
	Keyed, Rejected beam.CounterInt64

	Output  beam.PCol[beam.KV[string, string]]
	Rejects beam.PCol[string]
}

func (fn *filterKeysFn) ProcessBundle(dfc *beam.DFC[beam.KV[string, string]]) error {
	logger := logging.ForTransform(slog.Default(), "FilterKeys")
	return dfc.Process(func(ec beam.ElmC, kv beam.KV[string, string]) error {
		if kv.Key == "" {
			fn.Rejected.Inc(dfc, 1)
			logger.Debug("rejected line without key", slog.Int("length", len(kv.Value)))
			fn.Rejects.Emit(ec, kv.Value)
			return nil
		}
		fn.Keyed.Inc(dfc, 1)
		fn.Output.Emit(ec, kv)
		return nil
	})
}
