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

// Package local implements workers running on the master's machine.
//
// Every builder gets its own build directory under the worker's root.
// Commands run through the system shell named in their arguments.
package local

import (
	"context"
	"io"
	"os"
	osexec "os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/exec"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/system/environ"

	"go.chromium.org/inplace/internal/host"
)

// Worker is a local worker.
type Worker struct {
	name string
	root string
}

var _ host.Worker = (*Worker)(nil)

// New returns a worker keeping build directories under root.
func New(name, root string) *Worker {
	return &Worker{name: name, root: root}
}

// Name implements host.Worker.
func (w *Worker) Name() string { return w.name }

// Attach implements host.Worker.
func (w *Worker) Attach(builder string) host.WorkerConn {
	return &Conn{worker: w.name, dir: filepath.Join(w.root, builder)}
}

// Conn is a connection to a local build directory.
type Conn struct {
	worker string
	dir    string
}

var _ host.WorkerConn = (*Conn)(nil)

// Name implements host.WorkerConn.
func (c *Conn) Name() string { return c.worker }

// Dir is the build directory.
func (c *Conn) Dir() string { return c.dir }

// path resolves a build directory relative path.
func (c *Conn) path(p string) (string, error) {
	full := filepath.Join(c.dir, filepath.FromSlash(p))
	rel, err := filepath.Rel(c.dir, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.Reason("%q is outside of the build directory", p).Err()
	}
	return full, nil
}

// Run implements host.WorkerConn.
func (c *Conn) Run(ctx context.Context, cmd *host.RemoteCommand) (int, error) {
	if len(cmd.Args) == 0 {
		return -1, errors.Reason("no command").Err()
	}
	dir, err := c.path(cmd.Dir)
	if err != nil {
		return -1, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return -1, errors.Annotate(err, "creating %s", dir).Err()
	}

	env := environ.System()
	for k, v := range cmd.Env {
		env.Set(k, v)
	}
	proc := exec.Command(ctx, cmd.Args[0], cmd.Args[1:]...)
	proc.Dir = dir
	proc.Env = env.Sorted()
	proc.Stdout = cmd.Stdout
	proc.Stderr = cmd.Stderr

	logging.Debugf(ctx, "Running %q in %s", cmd.Args, dir)
	err = proc.Run()
	var exitErr *osexec.ExitError
	switch {
	case errors.As(err, &exitErr):
		return exitErr.ExitCode(), nil
	case err != nil:
		return -1, errors.Annotate(err, "starting %q", cmd.Args[0]).Err()
	}
	return 0, nil
}

// ReadFile implements host.WorkerConn.
func (c *Conn) ReadFile(ctx context.Context, p string) ([]byte, error) {
	full, err := c.path(p)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

// Glob implements host.WorkerConn. Matches are returned relative to the
// build directory with forward slashes, in pattern order.
func (c *Conn) Glob(ctx context.Context, patterns []string) ([]string, error) {
	var out []string
	seen := stringset.New(0)
	for _, p := range patterns {
		full, err := c.path(p)
		if err != nil {
			return nil, err
		}
		matches, err := doublestar.Glob(full)
		if err != nil {
			return nil, errors.Annotate(err, "bad pattern %q", p).Err()
		}
		sort.Strings(matches)
		for _, m := range matches {
			rel, err := filepath.Rel(c.dir, m)
			if err != nil {
				return nil, err
			}
			if rel = filepath.ToSlash(rel); seen.Add(rel) {
				out = append(out, rel)
			}
		}
	}
	return out, nil
}

// Open implements host.WorkerConn.
func (c *Conn) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	full, err := c.path(p)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(full)
	switch {
	case err != nil:
		return nil, err
	case st.IsDir():
		return nil, errors.Annotate(host.ErrIsDirectory, "%s", p).Err()
	}
	return os.Open(full)
}

// Checkout implements host.WorkerConn.
//
// Incremental checkouts pull into the existing clone. Full ones, and
// directories that are not a clone yet, are cloned from scratch.
func (c *Conn) Checkout(ctx context.Context, co *host.Checkout) error {
	var auth transport.AuthMethod
	if co.User != "" || co.Password != "" {
		auth = &githttp.BasicAuth{Username: co.User, Password: co.Password}
	}
	ref := plumbing.NewBranchReferenceName(co.Branch)

	if !co.Full {
		repo, err := git.PlainOpen(c.dir)
		switch {
		case err == nil:
			return c.pull(ctx, repo, ref, auth)
		case !errors.Is(err, git.ErrRepositoryNotExists):
			return errors.Annotate(err, "opening %s", c.dir).Err()
		}
	}

	if err := os.RemoveAll(c.dir); err != nil {
		return errors.Annotate(err, "wiping %s", c.dir).Err()
	}
	logging.Infof(ctx, "Cloning %s@%s into %s", co.RepoURL, co.Branch, c.dir)
	_, err := git.PlainCloneContext(ctx, c.dir, false, &git.CloneOptions{
		URL:               co.RepoURL,
		Auth:              auth,
		ReferenceName:     ref,
		SingleBranch:      true,
		RecurseSubmodules: git.DefaultSubmoduleRecursionDepth,
	})
	if err != nil {
		return errors.Annotate(err, "cloning %s", co.RepoURL).Err()
	}
	return nil
}

func (c *Conn) pull(ctx context.Context, repo *git.Repository, ref plumbing.ReferenceName, auth transport.AuthMethod) error {
	wt, err := repo.Worktree()
	if err != nil {
		return errors.Annotate(err, "opening the worktree of %s", c.dir).Err()
	}
	err = wt.PullContext(ctx, &git.PullOptions{
		RemoteName:        git.DefaultRemoteName,
		ReferenceName:     ref,
		SingleBranch:      true,
		Auth:              auth,
		Force:             true,
		RecurseSubmodules: git.DefaultSubmoduleRecursionDepth,
	})
	switch {
	case errors.Is(err, git.NoErrAlreadyUpToDate):
		logging.Debugf(ctx, "%s is up to date", c.dir)
		return nil
	case err != nil:
		return errors.Annotate(err, "pulling into %s", c.dir).Err()
	}
	return nil
}
