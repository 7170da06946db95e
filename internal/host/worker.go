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

package host

import (
	"context"
	"io"

	"go.chromium.org/luci/common/errors"
)

// ErrIsDirectory is returned by WorkerConn.Open for directories.
var ErrIsDirectory = errors.New("is a directory")

// RemoteCommand is a command executed on a worker.
type RemoteCommand struct {
	Args []string
	// Dir is relative to the build directory.
	Dir string
	// Env overrides worker's environment variables.
	Env    map[string]string
	Stdout io.Writer
	Stderr io.Writer
}

// Checkout describes a repository checkout into the build directory.
type Checkout struct {
	RepoURL  string
	Branch   string
	Full     bool
	User     string
	Password string
}

// WorkerConn is a connection to a worker scoped to one builder's build
// directory. All paths are relative to that directory.
type WorkerConn interface {
	// Name is the worker name.
	Name() string
	// Run executes the command and returns its exit code.
	Run(ctx context.Context, cmd *RemoteCommand) (int, error)
	// ReadFile returns the content of a file. Missing files yield an error
	// matching os.ErrNotExist.
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// Glob expands glob patterns, "**" included.
	Glob(ctx context.Context, patterns []string) ([]string, error)
	// Open opens a file for reading. Directories yield ErrIsDirectory.
	Open(ctx context.Context, path string) (io.ReadCloser, error)
	// Checkout brings the repository to the tip of the branch.
	Checkout(ctx context.Context, co *Checkout) error
}

// Worker is a worker known to the host.
type Worker interface {
	Name() string
	// Attach returns a connection scoped to the builder's build directory.
	Attach(builder string) WorkerConn
}
