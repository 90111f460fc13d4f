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

// Package ioopts holds the options shared by the io transforms.
package ioopts

import (
	"time"

	"lostluck.dev/eventstoios/internal"
)

// Options is the common options type shared across io packages.
type Options interface {
	// IOOptions is exported so related io packages can implement Options.
	IOOptions(internal.NotForPublicUse)
}

// Struct is the combination of all options in struct form.
// This is efficient to pass down the call stack and to query.
type Struct struct {
	Name      string // The configured name of the transform. Otherwise a default per transform is used.
	Endpoint  string // The address of a storage service, usually an emulator.
	BatchSize int    // Number of mutations buffered before a flush.
	Encoding  string // Character encoding of text input.
	CacheDir  string // Directory for downloaded inputs.

	Timeout time.Duration // Bound on a single remote operation, such as a fetch or a flush.
}

func (dst *Struct) IOOptions(internal.NotForPublicUse) {}

// Join merges srcs into dst. Later sources override earlier ones,
// and zero values never override.
func (dst *Struct) Join(srcs ...Options) {
	for _, src := range srcs {
		switch src := src.(type) {
		case *Struct:
			if src.Name != "" {
				dst.Name = src.Name
			}
			if src.Endpoint != "" {
				dst.Endpoint = src.Endpoint
			}
			if src.BatchSize > 0 {
				dst.BatchSize = src.BatchSize
			}
			if src.Encoding != "" {
				dst.Encoding = src.Encoding
			}
			if src.CacheDir != "" {
				dst.CacheDir = src.CacheDir
			}
			if src.Timeout > 0 {
				dst.Timeout = src.Timeout
			}
		}
	}
}

// NameOr returns the configured name, or def when none was set.
func (dst *Struct) NameOr(def string) string {
	if dst.Name == "" {
		return def
	}
	return dst.Name
}
