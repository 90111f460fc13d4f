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

package fetch

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gocloud.dev/blob/memblob"
)

func readAll(t *testing.T, rc io.ReadCloser, err error) string {
	t.Helper()
	if err != nil {
		t.Fatalf("Open() = %v", err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll() = %v", err)
	}
	return string(b)
}

func zipBytes(t *testing.T, entries ...[2]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e[0])
		if err != nil {
			t.Fatal(err)
		}
		if _, err := io.WriteString(w, e[1]); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestOpen_Local(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	plain := filepath.Join(dir, "events.csv")
	if err := os.WriteFile(plain, []byte("a\nb\n"), 0644); err != nil {
		t.Fatal(err)
	}
	rc, err := Open(ctx, plain, Options{})
	if got, want := readAll(t, rc, err), "a\nb\n"; got != want {
		t.Errorf("Open(plain) = %q, want %q", got, want)
	}

	fileURL := (&url.URL{Scheme: "file", Path: filepath.ToSlash(plain)}).String()
	rc, err = Open(ctx, fileURL, Options{})
	if got, want := readAll(t, rc, err), "a\nb\n"; got != want {
		t.Errorf("Open(%v) = %q, want %q", fileURL, got, want)
	}
}

func TestOpen_Gzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	io.WriteString(gz, "line1\nline2\n")
	gz.Close()

	file := filepath.Join(t.TempDir(), "events.csv.gz")
	if err := os.WriteFile(file, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	rc, err := Open(context.Background(), file, Options{})
	if got, want := readAll(t, rc, err), "line1\nline2\n"; got != want {
		t.Errorf("Open(gzip) = %q, want %q", got, want)
	}
}

func TestOpen_Zip(t *testing.T) {
	file := filepath.Join(t.TempDir(), "20161002.export.CSV.zip")
	data := zipBytes(t, [2]string{"first.CSV", "1\ta\n"}, [2]string{"second.CSV", "2\tb\n"})
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatal(err)
	}
	rc, err := Open(context.Background(), file, Options{})
	if got, want := readAll(t, rc, err), "1\ta\n2\tb\n"; got != want {
		t.Errorf("Open(zip) = %q, want %q", got, want)
	}
}

func TestOpen_EmptyZip(t *testing.T) {
	file := filepath.Join(t.TempDir(), "empty.zip")
	if err := os.WriteFile(file, zipBytes(t), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(context.Background(), file, Options{}); err == nil {
		t.Error("Open(empty zip) = nil error, want error")
	}
}

func TestOpen_HTTPZipIsCached(t *testing.T) {
	data := zipBytes(t, [2]string{"20161002.export.CSV", "100\tevent\n"})
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(data)
	}))
	defer srv.Close()

	opts := Options{CacheDir: t.TempDir()}
	src := srv.URL + "/events/20161002.export.CSV.zip"
	for i := 0; i < 2; i++ {
		rc, err := Open(context.Background(), src, opts)
		if got, want := readAll(t, rc, err), "100\tevent\n"; got != want {
			t.Errorf("Open(http zip) = %q, want %q", got, want)
		}
	}
	if got, want := hits.Load(), int32(1); got != want {
		t.Errorf("server hits = %v, want %v", got, want)
	}
	u, err := url.Parse(src)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(cachePath(opts.CacheDir, src, u)); err != nil {
		t.Errorf("archive not cached: %v", err)
	}
}

func TestOpen_HTTPZipCachedPerSource(t *testing.T) {
	serve := func(content string) *httptest.Server {
		data := zipBytes(t, [2]string{"x.CSV", content})
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(data)
		}))
	}
	mirrorA, mirrorB := serve("from a\n"), serve("from b\n")
	defer mirrorA.Close()
	defer mirrorB.Close()

	opts := Options{CacheDir: t.TempDir()}
	rc, err := Open(context.Background(), mirrorA.URL+"/x.zip", opts)
	if got, want := readAll(t, rc, err), "from a\n"; got != want {
		t.Errorf("Open(mirror a) = %q, want %q", got, want)
	}
	rc, err = Open(context.Background(), mirrorB.URL+"/x.zip", opts)
	if got, want := readAll(t, rc, err), "from b\n"; got != want {
		t.Errorf("Open(mirror b) = %q, want %q", got, want)
	}
}

func TestOpen_HTTPTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	opts := Options{CacheDir: t.TempDir(), Timeout: 50 * time.Millisecond}
	if _, err := Open(context.Background(), srv.URL+"/stalled.csv", opts); err == nil {
		t.Error("Open(stalled) = nil error, want error")
	}
	if _, err := Open(context.Background(), srv.URL+"/stalled.zip", opts); err == nil {
		t.Error("Open(stalled zip) = nil error, want error")
	}
}

func TestOpen_HTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	if _, err := Open(context.Background(), srv.URL+"/missing.csv", Options{}); err == nil || !strings.Contains(err.Error(), "bad status: 404") {
		t.Errorf("Open(404) = %v, want bad status error", err)
	}
	opts := Options{CacheDir: t.TempDir()}
	if _, err := Open(context.Background(), srv.URL+"/missing.zip", opts); err == nil {
		t.Error("Open(404 zip) = nil error, want error")
	}
	entries, _ := os.ReadDir(opts.CacheDir)
	if len(entries) != 0 {
		t.Errorf("failed download left %d cache entries", len(entries))
	}
}

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, filepath.Join(t.TempDir(), "missing.csv"), Options{}); err == nil {
		t.Error("Open(missing) = nil error, want error")
	}
	if _, err := Open(ctx, "ftp://example.com/events.csv", Options{}); err == nil {
		t.Error("Open(ftp) = nil error, want error")
	}
}

func TestOpenBlob(t *testing.T) {
	ctx := context.Background()
	bucket := memblob.OpenBucket(nil)
	defer bucket.Close()
	if err := bucket.WriteAll(ctx, "events/today.csv", []byte("x\ny\n"), nil); err != nil {
		t.Fatal(err)
	}
	rc, err := openBlob(ctx, bucket, "events/today.csv")
	if got, want := readAll(t, rc, err), "x\ny\n"; got != want {
		t.Errorf("openBlob() = %q, want %q", got, want)
	}
	if _, err := openBlob(ctx, bucket, "events/missing.csv"); err == nil {
		t.Error("openBlob(missing) = nil error, want error")
	}
}

func TestSplitBlobURL(t *testing.T) {
	tests := []struct {
		in, bucket, key string
	}{
		{"gs://my-bucket/events/20161002.export.CSV", "gs://my-bucket", "events/20161002.export.CSV"},
		{"s3://my-bucket/a.csv?region=us-west-1", "s3://my-bucket?region=us-west-1", "a.csv"},
		{"file:///tmp/data/a.csv", "file:///tmp/data/", "a.csv"},
	}
	for _, test := range tests {
		u, err := url.Parse(test.in)
		if err != nil {
			t.Fatal(err)
		}
		bucket, key := splitBlobURL(u)
		if bucket != test.bucket || key != test.key {
			t.Errorf("splitBlobURL(%q) = (%q, %q), want (%q, %q)", test.in, bucket, key, test.bucket, test.key)
		}
	}
}

func TestOpenBucket_Local(t *testing.T) {
	ctx := context.Background()
	dst := filepath.Join(t.TempDir(), "nested", "out", "summary.json")
	bucket, key, err := OpenBucket(ctx, dst)
	if err != nil {
		t.Fatalf("OpenBucket() = %v", err)
	}
	defer bucket.Close()
	if got, want := key, "summary.json"; got != want {
		t.Errorf("OpenBucket() key = %q, want %q", got, want)
	}
	if err := bucket.WriteAll(ctx, key, []byte("{}"), nil); err != nil {
		t.Fatalf("WriteAll() = %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("ReadFile() = %v", err)
	}
	if string(got) != "{}" {
		t.Errorf("written = %q, want %q", got, "{}")
	}
}

func TestOpenBucket_UnsupportedScheme(t *testing.T) {
	if _, _, err := OpenBucket(context.Background(), "ftp://host/out.txt"); err == nil {
		t.Error("OpenBucket(ftp) = nil error, want error")
	}
}
