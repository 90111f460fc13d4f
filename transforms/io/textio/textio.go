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

// Package textio reads and writes newline delimited text.
package textio

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gocloud.dev/blob"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
	"lostluck.dev/beam-go"
	"lostluck.dev/eventstoios/internal/fetch"
	"lostluck.dev/eventstoios/internal/ioopts"
)

// maxLineSize bounds the length of a single line.
const maxLineSize = 4 << 20

// Options configure Read and Write.
type Options = ioopts.Options

// Name sets the name of the transform.
func Name(name string) Options {
	return &ioopts.Struct{Name: name}
}

// Encoding sets the character encoding of the input, by its WHATWG
// name or alias, such as "latin1" or "windows-1252". Lines are emitted
// as UTF-8.
func Encoding(enc string) Options {
	return &ioopts.Struct{Encoding: enc}
}

// CacheDir sets where remote archives are downloaded before reading.
func CacheDir(dir string) Options {
	return &ioopts.Struct{CacheDir: dir}
}

// Timeout bounds reading the whole input, including any download.
func Timeout(d time.Duration) Options {
	return &ioopts.Struct{Timeout: d}
}

// Read emits each line of the file at path. See [fetch.Open] for the
// accepted paths and formats.
func Read(s *beam.Scope, path string, opts ...Options) beam.PCol[string] {
	var opt ioopts.Struct
	opt.Join(opts...)

	imp := beam.Impulse(s)
	return beam.ParDo(s, imp, &readFn{
		Path:     path,
		Encoding: opt.Encoding,
		CacheDir: opt.CacheDir,
		Timeout:  opt.Timeout,
	}, beam.Name(opt.NameOr("textio.Read"))).Output
}

// readFn reads a whole file on the impulse.
type readFn struct {
	Path     string
	Encoding string
	CacheDir string
	Timeout  time.Duration

	Lines beam.CounterInt64

	Output beam.PCol[string]
}

func (fn *readFn) ProcessBundle(dfc *beam.DFC[[]byte]) error {
	return dfc.Process(func(ec beam.ElmC, _ []byte) error {
		ctx, cancel := context.Background(), context.CancelFunc(func() {})
		if fn.Timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, fn.Timeout)
		}
		defer cancel()
		rc, err := fetch.Open(ctx, fn.Path, fetch.Options{CacheDir: fn.CacheDir, Timeout: fn.Timeout})
		if err != nil {
			return err
		}
		defer rc.Close()

		slog.Debug("reading input", slog.String("path", fn.Path))
		return ReadLines(rc, fn.Encoding, func(line string) {
			fn.Lines.Inc(dfc, 1)
			fn.Output.Emit(ec, line)
		})
	})
}

// ReadLines calls emit for each line of r, decoded from enc to UTF-8.
// Line terminators, including a trailing carriage return, are dropped.
// An empty enc reads r as UTF-8 unchanged.
func ReadLines(r io.Reader, enc string, emit func(string)) error {
	if enc != "" {
		e, err := htmlindex.Get(enc)
		if err != nil {
			return errors.Wrapf(err, "unknown encoding %q", enc)
		}
		r = transform.NewReader(r, e.NewDecoder())
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		emit(strings.TrimSuffix(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "reading lines")
	}
	return nil
}

// Write writes the lines of col to shards named <prefix>-<uuid>.txt,
// one shard per bundle that has lines. prefix is a local path or a
// blob URL.
func Write(s *beam.Scope, prefix string, col beam.PCol[string], opts ...Options) {
	var opt ioopts.Struct
	opt.Join(opts...)

	beam.ParDo(s, col, &writeFn{Prefix: prefix}, beam.Name(opt.NameOr("textio.Write")))
}

type writeFn struct {
	Prefix string

	Written beam.CounterInt64

	beam.OnBundleFinish
}

func (fn *writeFn) ProcessBundle(dfc *beam.DFC[string]) error {
	ctx, cancel := context.WithCancel(context.Background())

	var (
		bucket *blob.Bucket
		w      *blob.Writer
	)
	// release closes the open shard, if any. A canceled context makes
	// the close discard the shard instead of committing it.
	release := func() error {
		defer cancel()
		if w == nil {
			return nil
		}
		defer bucket.Close()
		err := w.Close()
		bucket, w = nil, nil
		if err != nil {
			return errors.Wrap(err, "closing shard")
		}
		return nil
	}
	fn.OnBundleFinish.Do(dfc, release)

	err := dfc.Process(func(ec beam.ElmC, line string) error {
		if w == nil {
			b, key, err := fetch.OpenBucket(ctx, fn.Prefix)
			if err != nil {
				return err
			}
			shard := ShardName(key, uuid.NewString())
			sw, err := b.NewWriter(ctx, shard, &blob.WriterOptions{ContentType: "text/plain"})
			if err != nil {
				b.Close()
				return errors.Wrapf(err, "creating shard %s", shard)
			}
			bucket, w = b, sw
		}
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return errors.Wrap(err, "writing line")
		}
		fn.Written.Inc(dfc, 1)
		return nil
	})
	if err != nil {
		cancel()
		release()
	}
	return err
}

// ShardName returns the object key of the shard with id.
func ShardName(key, id string) string {
	return key + "-" + id + ".txt"
}
