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

// Package fetch opens ingest inputs, local or remote, compressed or not,
// as a single stream of bytes.
package fetch

import (
	"archive/zip"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gocloud.dev/blob"

	// Registered blob schemes.
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// DefaultTimeout bounds an HTTP fetch, including reading the body,
// when Options.Timeout isn't set.
const DefaultTimeout = 10 * time.Minute

// Options configure Open.
type Options struct {
	CacheDir string        // if specified, where remote archives are downloaded. Otherwise the user cache dir is used.
	Timeout  time.Duration // if specified, bounds an HTTP fetch. Otherwise DefaultTimeout is used.
}

func (o Options) httpClient() *http.Client {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func (o Options) cacheDir() (string, error) {
	if o.CacheDir != "" {
		return o.CacheDir, nil
	}
	userCacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", errors.Wrap(err, "locating user cache dir")
	}
	return filepath.Join(userCacheDir, "eventstoios"), nil
}

// Open returns the contents of src.
//
// src may be an http(s) URL, a URL for a registered blob scheme
// (gs, s3, file, mem), or a local path. Zip archives have every file
// entry streamed in archive order, and gzip files are decompressed.
// Remote zip archives are downloaded into the cache first, and reused
// on later calls.
func Open(ctx context.Context, src string, opts Options) (io.ReadCloser, error) {
	ext := strings.ToLower(path.Ext(sourcePath(src)))
	switch ext {
	case ".zip":
		local, err := localCopy(ctx, src, opts)
		if err != nil {
			return nil, err
		}
		return openZip(local)
	case ".gz":
		raw, err := openRaw(ctx, src, opts)
		if err != nil {
			return nil, err
		}
		gz, err := gzip.NewReader(raw)
		if err != nil {
			raw.Close()
			return nil, errors.Wrapf(err, "reading gzip %s", src)
		}
		return &multiCloser{Reader: gz, closers: []io.Closer{gz, raw}}, nil
	default:
		return openRaw(ctx, src, opts)
	}
}

// sourcePath returns the path component of src, ignoring any query.
func sourcePath(src string) string {
	if u, ok := parseRemote(src); ok {
		return u.Path
	}
	return src
}

// parseRemote returns the parsed URL if src names a remote or blob source.
func parseRemote(src string) (*url.URL, bool) {
	u, err := url.Parse(src)
	// Single letter schemes are windows drive letters.
	if err != nil || len(u.Scheme) < 2 {
		return nil, false
	}
	return u, true
}

func isHTTP(u *url.URL) bool {
	return u.Scheme == "http" || u.Scheme == "https"
}

// openRaw opens src without any decompression.
func openRaw(ctx context.Context, src string, opts Options) (io.ReadCloser, error) {
	u, ok := parseRemote(src)
	switch {
	case !ok:
		f, err := os.Open(src)
		if err != nil {
			return nil, errors.Wrap(err, "opening input")
		}
		return f, nil
	case isHTTP(u):
		return openHTTP(ctx, opts.httpClient(), src)
	case blob.DefaultURLMux().ValidBucketScheme(u.Scheme):
		bucketURL, key := splitBlobURL(u)
		bucket, err := blob.OpenBucket(ctx, bucketURL)
		if err != nil {
			return nil, errors.Wrapf(err, "opening bucket %s", bucketURL)
		}
		r, err := openBlob(ctx, bucket, key)
		if err != nil {
			bucket.Close()
			return nil, err
		}
		return &multiCloser{Reader: r, closers: []io.Closer{r, bucket}}, nil
	default:
		return nil, errors.Errorf("unsupported input scheme %q in %s", u.Scheme, src)
	}
}

func openHTTP(ctx context.Context, client *http.Client, src string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "building request for %s", src)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetching %s", src)
	}
	// Check server response
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errors.Errorf("fetching %s: bad status: %s", src, resp.Status)
	}
	return resp.Body, nil
}

func openBlob(ctx context.Context, bucket *blob.Bucket, key string) (io.ReadCloser, error) {
	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "opening blob %q", key)
	}
	return r, nil
}

// splitBlobURL splits a blob object URL into its bucket URL and object key.
// For file URLs the bucket is the containing directory.
func splitBlobURL(u *url.URL) (bucketURL, key string) {
	b := *u
	if u.Scheme == "file" {
		dir, file := path.Split(u.Path)
		b.Path = dir
		return b.String(), file
	}
	b.Path = ""
	return b.String(), strings.TrimPrefix(u.Path, "/")
}

// localCopy returns a local path holding the contents of src,
// downloading into the cache if src isn't local.
func localCopy(ctx context.Context, src string, opts Options) (string, error) {
	u, ok := parseRemote(src)
	if !ok {
		return src, nil
	}
	if u.Scheme == "file" {
		return u.Path, nil
	}
	dir, err := opts.cacheDir()
	if err != nil {
		return "", err
	}
	local := cachePath(dir, src, u)
	// Ensure the cache entry's directory exists.
	if err := os.MkdirAll(filepath.Dir(local), 0777); err != nil {
		return "", errors.Wrap(err, "creating cache dir")
	}
	// Check if the file is already in the cache.
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}
	if err := downloadToCache(ctx, src, local, opts); err != nil {
		os.Remove(filepath.Dir(local))
		return "", errors.Wrapf(err, "couldn't download %v to cache %s", src, local)
	}
	return local, nil
}

// cachePath returns where src is cached under dir. Entries are keyed
// by the full source URL, since mirrors serve the same file names.
func cachePath(dir, src string, u *url.URL) string {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(src))
	return filepath.Join(dir, id.String(), path.Base(u.Path))
}

// downloadToCache copies src into local. Partial downloads never
// land at local.
func downloadToCache(ctx context.Context, src, local string, opts Options) error {
	in, err := openRaw(ctx, src, opts)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(local), filepath.Base(local)+".part*")
	if err != nil {
		return err
	}
	defer os.Remove(out.Name())

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(out.Name(), local)
}

// zipStream reads every file entry of a zip archive in order.
type zipStream struct {
	zr    *zip.ReadCloser
	files []*zip.File
	cur   io.ReadCloser
}

func openZip(zipfile string) (io.ReadCloser, error) {
	zr, err := zip.OpenReader(zipfile)
	if err != nil {
		return nil, errors.Wrapf(err, "couldn't open archive %s", zipfile)
	}
	var files []*zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		zr.Close()
		return nil, errors.Errorf("archive %s has no files", zipfile)
	}
	return &zipStream{zr: zr, files: files}, nil
}

func (z *zipStream) Read(p []byte) (int, error) {
	for {
		if z.cur == nil {
			if len(z.files) == 0 {
				return 0, io.EOF
			}
			f := z.files[0]
			z.files = z.files[1:]
			r, err := f.Open()
			if err != nil {
				return 0, errors.Wrapf(err, "couldn't open archive entry %s", f.Name)
			}
			z.cur = r
		}
		n, err := z.cur.Read(p)
		if err == io.EOF {
			z.cur.Close()
			z.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (z *zipStream) Close() error {
	if z.cur != nil {
		z.cur.Close()
	}
	return z.zr.Close()
}

// multiCloser closes every closer in order, returning the first error.
type multiCloser struct {
	io.Reader
	closers []io.Closer
}

func (m *multiCloser) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
