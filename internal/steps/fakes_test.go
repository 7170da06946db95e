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
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"go.chromium.org/luci/common/data/stringset"

	"go.chromium.org/inplace/internal/host"
	"go.chromium.org/inplace/internal/model"
)

// fakeConn is an in-memory worker.
type fakeConn struct {
	files map[string]string
	dirs  stringset.Set
	// run returns the exit code of a command and may write its output.
	run func(cmd *host.RemoteCommand) int

	cmds      []*host.RemoteCommand
	checkouts []*host.Checkout
}

func newFakeConn() *fakeConn {
	return &fakeConn{files: map[string]string{}, dirs: stringset.New(0)}
}

func (c *fakeConn) Name() string { return "w1" }

func (c *fakeConn) Run(ctx context.Context, cmd *host.RemoteCommand) (int, error) {
	c.cmds = append(c.cmds, cmd)
	if c.run == nil {
		return 0, nil
	}
	return c.run(cmd), nil
}

// lines returns the shell lines of all commands run so far.
func (c *fakeConn) lines() []string {
	out := make([]string, len(c.cmds))
	for i, cmd := range c.cmds {
		out[i] = cmd.Args[len(cmd.Args)-1]
	}
	return out
}

func (c *fakeConn) ReadFile(ctx context.Context, p string) ([]byte, error) {
	if s, ok := c.files[p]; ok {
		return []byte(s), nil
	}
	return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
}

func (c *fakeConn) Glob(ctx context.Context, patterns []string) ([]string, error) {
	all := c.dirs.ToSlice()
	for f := range c.files {
		all = append(all, f)
	}
	sort.Strings(all)
	var out []string
	for _, p := range patterns {
		for _, f := range all {
			if ok, _ := path.Match(p, f); ok {
				out = append(out, f)
			}
		}
	}
	return out, nil
}

func (c *fakeConn) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	if c.dirs.Has(p) {
		return nil, host.ErrIsDirectory
	}
	if s, ok := c.files[p]; ok {
		return io.NopCloser(strings.NewReader(s)), nil
	}
	return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
}

func (c *fakeConn) Checkout(ctx context.Context, co *host.Checkout) error {
	c.checkouts = append(c.checkouts, co)
	return nil
}

// fakeHost records configs and answers triggers with a fixed result.
type fakeHost struct {
	m       sync.Mutex
	configs []*host.Config
	reqs    []host.TriggerRequest
	result  host.Result
}

func (h *fakeHost) Reconfigure(ctx context.Context, cfg *host.Config) error {
	h.m.Lock()
	defer h.m.Unlock()
	h.configs = append(h.configs, cfg)
	return nil
}

func (h *fakeHost) Trigger(ctx context.Context, reqs []host.TriggerRequest) []host.TriggerResult {
	h.m.Lock()
	defer h.m.Unlock()
	h.reqs = append(h.reqs, reqs...)
	cfg := h.configs[len(h.configs)-1]
	out := make([]host.TriggerResult, len(reqs))
	for i, r := range reqs {
		s, _ := cfg.Schedulers.Get(r.Scheduler)
		out[i] = host.TriggerResult{Scheduler: r.Scheduler, Builder: s.BuilderNames[0], Number: i + 1, Result: h.result}
	}
	return out
}

type nullFactories struct{}

func (nullFactories) Spawner(*model.Project) host.BuildFactory { return host.FactoryFunc(nil) }
func (nullFactories) Profile(*model.Project) host.BuildFactory { return host.FactoryFunc(nil) }

func worker(name string, shell model.Shell, platforms, setups []string) *model.Worker {
	return &model.Worker{
		Name:      name,
		Password:  "pw",
		Shell:     shell,
		SetupDir:  "/opt/setups/",
		Platforms: stringset.NewFromSlice(platforms...),
		Setups:    stringset.NewFromSlice(setups...),
	}
}

func project(name string) *model.Project {
	return &model.Project{
		Name: name,
		Repo: model.Repo{
			Type:   "git",
			URL:    "https://git.example.com/" + name + ".git",
			Branch: model.DefaultBranch,
			Mode:   model.RepoModeIncremental,
		},
	}
}

func stepNames(b *host.Build) []string {
	var out []string
	for _, s := range b.Steps() {
		out = append(out, s.Name)
	}
	return out
}
