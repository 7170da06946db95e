// Copyright 2025 The LUCI Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package steps

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/inplace/internal/host"
	"go.chromium.org/inplace/internal/manifest"
)

// UploadProducts copies files matching the patterns from the worker to the
// master's product directory.
func (pb *ProfileBuild) UploadProducts(action string, patterns []string) host.Step {
	return pb.uploadProducts(action+" upload products", action, patterns)
}

func (pb *ProfileBuild) uploadProducts(name, action string, patterns []string) host.Step {
	return &step{
		name: name,
		run: func(ctx context.Context, sc *host.StepContext) (host.Result, error) {
			if err := pb.bind(sc); err != nil {
				return host.Failure, err
			}
			if pb.actionFailed(sc, action) {
				return host.Skipped, nil
			}
			files, err := sc.Build.Worker.Glob(ctx, patterns)
			if err != nil {
				return host.Failure, errors.Annotate(err, "expanding %q", patterns).Err()
			}
			if len(files) == 0 {
				sc.SetSummary("no products found")
				return host.Warnings, nil
			}

			dir := pb.productDir(sc)
			if err := os.MkdirAll(dir, 0755); err != nil {
				return host.Failure, errors.Annotate(err, "creating %s", dir).Err()
			}
			l := sc.Log("uploads")
			var total int64
			count := 0
			for _, f := range files {
				dst, n, err := copyProduct(ctx, sc.Build.Worker, f, dir)
				switch {
				case errors.Is(err, host.ErrIsDirectory):
					l.Addf("%s is a directory, skipping", f)
					continue
				case err != nil:
					pb.failed.Add(action)
					return host.Failure, err
				}
				l.Addf("%s (%s)", f, humanize.Bytes(uint64(n)))
				pb.uploaded[action] = append(pb.uploaded[action], dst)
				total += n
				count++
			}
			sc.SetSummary("%d files, %s", count, humanize.Bytes(uint64(total)))
			return host.Success, nil
		},
	}
}

// productDir is where products of the build are stored on the master.
func (pb *ProfileBuild) productDir(sc *host.StepContext) string {
	return filepath.Join(sc.Build.ProductDir, pb.project.Name, sc.Build.Builder, strconv.Itoa(sc.Build.Number))
}

// copyProduct copies a worker file into dir and returns the copy's path
// and size.
func copyProduct(ctx context.Context, w host.WorkerConn, path, dir string) (string, int64, error) {
	src, err := w.Open(ctx, path)
	if err != nil {
		return "", 0, err
	}
	defer src.Close()

	dst := filepath.Join(dir, manifest.BaseName(path))
	f, err := os.Create(dst)
	if err != nil {
		return "", 0, errors.Annotate(err, "uploading %s", path).Err()
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, errors.Annotate(err, "uploading %s", path).Err()
	}
	return dst, n, nil
}

// Uploaded returns master side paths of products uploaded by the action.
func (pb *ProfileBuild) Uploaded(action string) []string {
	return pb.uploaded[action]
}
