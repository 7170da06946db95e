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

package inplace

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/mitchellh/go-homedir"

	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"

	"go.chromium.org/inplace/internal/host"
	"go.chromium.org/inplace/internal/host/memhost"
	"go.chromium.org/inplace/internal/reconfig"
)

// memWorker serves a manifest and succeeds at every command.
type memWorker struct {
	name     string
	manifest string

	m     sync.Mutex
	lines []string
}

func (w *memWorker) Name() string { return w.name }

func (w *memWorker) Attach(builder string) host.WorkerConn { return &memConn{w} }

type memConn struct{ w *memWorker }

func (c *memConn) Name() string { return c.w.name }

func (c *memConn) Run(ctx context.Context, cmd *host.RemoteCommand) (int, error) {
	c.w.m.Lock()
	defer c.w.m.Unlock()
	c.w.lines = append(c.w.lines, cmd.Args[len(cmd.Args)-1])
	return 0, nil
}

func (c *memConn) ReadFile(ctx context.Context, p string) ([]byte, error) {
	if p == ".buildbot.yml" {
		return []byte(c.w.manifest), nil
	}
	return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
}

func (c *memConn) Glob(ctx context.Context, patterns []string) ([]string, error) { return nil, nil }

func (c *memConn) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	return nil, &fs.PathError{Op: "open", Path: p, Err: fs.ErrNotExist}
}

func (c *memConn) Checkout(ctx context.Context, co *host.Checkout) error { return nil }

func writeTree(t testing.TB, root string, files map[string]string) {
	t.Helper()
	for name, data := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(data), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

const manifestText = `
profiles:
- name: release
  platform: linux
  commands: build
  setup: gcc
- name: native
  platform: windows
  commands: build
actions:
- name: compile
  build: make
`

func TestService(t *testing.T) {
	t.Parallel()

	ftt.Run("With a service", t, func(t *ftt.Test) {
		ctx := context.Background()
		root := t.TempDir()
		writeTree(t, root, map[string]string{
			"inplace.yml":        "title: Test\nport: 8080\n",
			"workers/w1.yml":     "name: w1\npassword: p\nplatforms: [linux]\nsetups: [gcc]\n",
			"projects/tools.yml": "name: tools\nrepoUrl: https://git.example.com/tools.git\n",
			"users/users.yml":    "users:\n- name: dev\n  password: d\n  capabilities: [build]\n",
		})
		settings, err := LoadSettings(ctx, filepath.Join(root, "inplace.yml"))
		assert.Loosely(t, err, should.BeNil)

		w := &memWorker{name: "w1", manifest: manifestText}
		h := memhost.New(memhost.Options{Workers: []host.Worker{w}, ProductDir: settings.ProductsDir})
		svc := NewService(settings, h, nil)
		assert.Loosely(t, svc.Start(ctx), should.BeNil)

		baseline := []string{reconfig.DummyBuilder, "tools_Builder", reconfig.InplaceBuilder}

		t.Run("installs the baseline", func(t *ftt.Test) {
			cfg := h.Config()
			assert.Loosely(t, cfg.Builders.Names(), should.Match(baseline))
			assert.Loosely(t, cfg.Title, should.Equal("Test"))
			assert.Loosely(t, cfg.WWW.Port, should.Equal(8080))
			assert.Loosely(t, cfg.WWW.Auth.Check("dev", "d"), should.BeTrue)
			assert.Loosely(t, cfg.WWW.Authz.Allowed("dev", host.ActionForceBuild), should.BeTrue)
			assert.Loosely(t, cfg.Protocols["pb"].Port, should.Equal(9989))
			assert.Loosely(t, cfg.Workers.Names(), should.Match([]string{"w1"}))
		})

		t.Run("spawner round trip", func(t *ftt.Test) {
			res := h.Force(ctx, "Force_tools_Build", nil)
			assert.Loosely(t, res, should.HaveLength(1))
			assert.Loosely(t, res[0].Result, should.Equal(host.Success))

			builds := h.Builds()
			assert.Loosely(t, builds, should.HaveLength(2))
			profile := builds[1]
			assert.Loosely(t, profile.Builder, should.Equal("tools_linux_release"))
			assert.Loosely(t, profile.Result(), should.Equal(host.Success))
			assert.Loosely(t, profile.Step("setup gcc"), should.NotBeNil)
			assert.Loosely(t, profile.Step("compile").Result, should.Equal(host.Success))
			assert.Loosely(t, w.lines, should.Contain("make"))

			assert.Loosely(t, h.Config().Builders.Names(), should.Match(baseline))
			state, _ := svc.Engine.State()
			assert.Loosely(t, state, should.Equal(reconfig.Baseline))
		})

		t.Run("reload", func(t *ftt.Test) {
			writeTree(t, root, map[string]string{
				"projects/extra.yml": "name: extra\nrepoUrl: https://git.example.com/extra.git\n",
			})
			assert.Loosely(t, svc.Reload(ctx), should.BeNil)
			_, ok := h.Config().Builders.Get("extra_Builder")
			assert.Loosely(t, ok, should.BeTrue)
		})

		t.Run("failed reload changes nothing", func(t *ftt.Test) {
			live := h.Config()
			writeTree(t, root, map[string]string{
				"projects/extra.yml": "name: extra\nrepoUrl: https://git.example.com/extra.git\n",
				"workers/bad.yml":    "name: w2\npassword: p\nshell: zsh\n",
			})
			assert.Loosely(t, svc.Reload(ctx), should.ErrLike("loading workers"))
			assert.Loosely(t, h.Config(), should.Equal(live))
			_, ok := svc.Registry.Project("extra")
			assert.Loosely(t, ok, should.BeFalse)
		})
	})
}

func TestSettings(t *testing.T) {
	t.Parallel()

	ftt.Run("LoadSettings", t, func(t *ftt.Test) {
		ctx := context.Background()
		root := t.TempDir()
		path := filepath.Join(root, "inplace.yml")

		t.Run("defaults and relative dirs", func(t *ftt.Test) {
			writeTree(t, root, map[string]string{"inplace.yml": "workersDir: w\nrolesDir: /etc/roles\n"})
			s, err := LoadSettings(ctx, path)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, s.Port, should.Equal(8010))
			assert.Loosely(t, s.WorkersDir, should.Equal(filepath.Join(root, "w")))
			assert.Loosely(t, s.ProjectsDir, should.Equal(filepath.Join(root, "projects")))
			assert.Loosely(t, s.RolesDir, should.Equal("/etc/roles"))
			assert.Loosely(t, s.Dirs().Users, should.Equal(filepath.Join(root, "users")))
		})

		t.Run("everything else is defaulted", func(t *ftt.Test) {
			writeTree(t, root, map[string]string{"inplace.yml": "title: Tools\n"})
			s, err := LoadSettings(ctx, path)
			assert.Loosely(t, err, should.BeNil)
			want := &Settings{
				Title:       "Tools",
				BuildbotURL: "http://localhost:8010/",
				Port:        8010,
				PBPort:      9989,
				DBURL:       "sqlite:///state.sqlite",
				WorkersDir:  filepath.Join(root, "workers"),
				ProjectsDir: filepath.Join(root, "projects"),
				UsersDir:    filepath.Join(root, "users"),
				ProductsDir: filepath.Join(root, "products"),
				WorkDir:     filepath.Join(root, "work"),
				ChangeHookDialects: map[string]map[string]string{
					"base": {},
				},
			}
			if diff := cmp.Diff(want, s); diff != "" {
				t.Errorf("unexpected settings (-want +got):\n%s", diff)
			}
		})

		t.Run("home relative dirs", func(t *ftt.Test) {
			home, err := homedir.Dir()
			if err != nil {
				t.Skipf("no home directory: %s", err)
			}
			writeTree(t, root, map[string]string{"inplace.yml": "workDir: ~/inplace-work\n"})
			s, err := LoadSettings(ctx, path)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, s.WorkDir, should.Equal(filepath.Join(home, "inplace-work")))
		})

		t.Run("bad port", func(t *ftt.Test) {
			writeTree(t, root, map[string]string{"inplace.yml": "port: 70000\n"})
			_, err := LoadSettings(ctx, path)
			assert.Loosely(t, err, should.ErrLike("port: bad port 70000"))
		})

		t.Run("unknown key", func(t *ftt.Test) {
			writeTree(t, root, map[string]string{"inplace.yml": "nope: 1\n"})
			_, err := LoadSettings(ctx, path)
			assert.Loosely(t, err, should.ErrLike("field nope not found"))
		})

		t.Run("missing file", func(t *ftt.Test) {
			_, err := LoadSettings(ctx, filepath.Join(root, "missing.yml"))
			assert.Loosely(t, err, should.ErrLike("reading settings"))
		})
	})
}
