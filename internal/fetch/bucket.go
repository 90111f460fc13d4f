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
	"context"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/errors"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
)

// OpenBucket opens the bucket holding the object named by dst, and
// returns the object's key within it. dst may be a blob URL or a local
// path, whose directory is created if needed.
//
// The caller must close the bucket.
func OpenBucket(ctx context.Context, dst string) (*blob.Bucket, string, error) {
	u, ok := parseRemote(dst)
	if !ok {
		dir, key := filepath.Split(dst)
		if dir == "" {
			dir = "."
		}
		if err := os.MkdirAll(dir, 0777); err != nil {
			return nil, "", errors.Wrapf(err, "creating output dir %s", dir)
		}
		bucket, err := fileblob.OpenBucket(dir, nil)
		if err != nil {
			return nil, "", errors.Wrapf(err, "opening output dir %s", dir)
		}
		return bucket, key, nil
	}
	if !blob.DefaultURLMux().ValidBucketScheme(u.Scheme) {
		return nil, "", errors.Errorf("unsupported output scheme %q in %s", u.Scheme, dst)
	}
	bucketURL, key := splitBlobURL(u)
	if u.Scheme == "file" {
		if err := os.MkdirAll(filepath.FromSlash(path.Dir(u.Path)), 0777); err != nil {
			return nil, "", errors.Wrap(err, "creating output dir")
		}
	}
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, "", errors.Wrapf(err, "opening bucket %s", bucketURL)
	}
	return bucket, key, nil
}
