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

// Package logging builds the slog loggers used by ingest runs.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/jba/slog/handlers/loghandler"
	"github.com/pkg/errors"
)

const transformKey = "transform"

// ParseLevel converts a level name (debug, info, warn, error) to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return 0, errors.Errorf("unknown log level %q", name)
	}
	return l, nil
}

// New returns a logger writing to w at the given level.
func New(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(loghandler.New(w, &slog.HandlerOptions{Level: level}))
}

// ForTransform produces a logger for the named transform, so messages
// can be matched up with the step that logged them.
func ForTransform(l *slog.Logger, name string) *slog.Logger {
	return l.With(withTransformID(name))
}

func withTransformID(name string) slog.Attr {
	return slog.String(transformKey, name)
}
