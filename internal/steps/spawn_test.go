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
	"testing"

	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"

	"go.chromium.org/inplace/internal/host"
	"go.chromium.org/inplace/internal/model"
	"go.chromium.org/inplace/internal/reconfig"
	"go.chromium.org/inplace/internal/registry"
)

const twoProfiles = `
profiles:
- name: release
  platform: linux
  commands: build
  setups: gcc
- name: native
  platform: windows
  commands: build
actions:
- name: compile
  build: make
`

func TestSpawn(t *testing.T) {
	t.Parallel()

	ftt.Run("With a spawner build", t, func(t *ftt.Test) {
		ctx := context.Background()
		reg := registry.New()
		proj := project("tools")
		reg.Replace([]*model.Worker{
			worker("w1", model.ShellPOSIX, []string{"linux"}, []string{"gcc"}),
			worker("w2", model.ShellPOSIX, []string{"linux"}, nil),
		}, []*model.Project{proj}, nil, nil)

		fh := &fakeHost{result: host.Success}
		engine := reconfig.NewEngine(reconfig.Options{
			Host:      fh,
			Registry:  reg,
			Factories: nullFactories{},
		})
		assert.Loosely(t, engine.InstallBaseline(ctx), should.BeNil)

		conn := newFakeConn()
		conn.files[".buildbot.yml"] = twoProfiles
		build := host.NewBuild(host.BuildParams{
			Number:     1,
			Builder:    reconfig.SpawnerBuilder("tools"),
			WorkerName: "w1",
			Worker:     conn,
			Host:       fh,
		})
		spawn := NewSpawn(proj, engine)

		assertBaseline := func(t *ftt.Test) {
			t.Helper()
			state, _ := engine.State()
			assert.Loosely(t, state, should.Equal(reconfig.Baseline), truth.LineContext())
			_, ok := fh.configs[len(fh.configs)-1].Builders.Get("tools_linux_release")
			assert.Loosely(t, ok, should.BeFalse, truth.LineContext())
		}

		t.Run("expands, triggers and restores", func(t *ftt.Test) {
			res := build.Run(ctx, spawn.Steps())
			assert.Loosely(t, res, should.Equal(host.Success))
			assert.Loosely(t, stepNames(build), should.Match([]string{
				"checkout",
				"retrieve manifest",
				"register builds",
				"trigger builds",
				"reset configuration",
			}))
			assert.Loosely(t, conn.checkouts, should.HaveLength(1))
			assert.Loosely(t, conn.checkouts[0].RepoURL, should.Equal("https://git.example.com/tools.git"))

			// Baseline, expansion, baseline.
			assert.Loosely(t, fh.configs, should.HaveLength(3))
			expanded := fh.configs[1]
			b, ok := expanded.Builders.Get("tools_linux_release")
			assert.Loosely(t, ok, should.BeTrue)
			assert.Loosely(t, b.WorkerNames, should.Match([]string{"w1"}))
			_, ok = expanded.Builders.Get("tools_windows_native")
			assert.Loosely(t, ok, should.BeFalse)

			assert.Loosely(t, fh.reqs, should.Match([]host.TriggerRequest{{
				Scheduler: "tools_linux_release_Trigger",
				Properties: host.Properties{
					host.PropProject:  "tools",
					host.PropProfile:  "release",
					host.PropPlatform: "linux",
					host.PropSetups:   []string{"gcc"},
				},
			}}))

			reg := build.Step("register builds")
			assert.Loosely(t, reg.Summary, should.Equal("1 builders registered"))
			assert.Loosely(t, reg.Hidden, should.BeTrue)
			assert.Loosely(t, reg.Log("skipped builds").Text(), should.ContainSubstring(`native: no worker for platform "windows"`))
			assertBaseline(t)
		})

		t.Run("missing manifest", func(t *ftt.Test) {
			delete(conn.files, ".buildbot.yml")
			res := build.Run(ctx, spawn.Steps())
			assert.Loosely(t, res, should.Equal(host.Failure))

			st := build.Step("retrieve manifest")
			assert.Loosely(t, st.Result, should.Equal(host.Failure))
			assert.Loosely(t, st.Summary, should.Equal("unable to fetch .buildbot.yml"))
			assert.Loosely(t, st.Log("help").Text(), should.ContainSubstring("Please put a file named .buildbot.yml"))
			assert.Loosely(t, build.Step("register builds").Result, should.Equal(host.Skipped))
			assert.Loosely(t, build.Step("trigger builds").Result, should.Equal(host.Skipped))
			assert.Loosely(t, build.Step("reset configuration").Result, should.Equal(host.Success))
			assert.Loosely(t, fh.reqs, should.BeEmpty)
			assertBaseline(t)
		})

		t.Run("bad manifest", func(t *ftt.Test) {
			conn.files[".buildbot.yml"] = "- just a list"
			res := build.Run(ctx, spawn.Steps())
			assert.Loosely(t, res, should.Equal(host.Failure))
			st := build.Step("retrieve manifest")
			assert.Loosely(t, st.Summary, should.Equal("bad .buildbot.yml"))
			assert.Loosely(t, st.Log("error").Text(), should.ContainSubstring("top level must be a mapping"))
		})

		t.Run("no fulfilled profile", func(t *ftt.Test) {
			reg.Replace([]*model.Worker{
				worker("w3", model.ShellPOSIX, []string{"mac"}, nil),
			}, []*model.Project{proj}, nil, nil)
			res := build.Run(ctx, spawn.Steps())
			assert.Loosely(t, res, should.Equal(host.Failure))

			st := build.Step("register builds")
			assert.Loosely(t, st.Summary, should.Equal("no eligible workers"))
			assert.Loosely(t, st.Log("stdio").Text(), should.ContainSubstring("Failing: "))
			assert.Loosely(t, build.Step("reset configuration").Result, should.Equal(host.Success))
			assert.Loosely(t, fh.reqs, should.BeEmpty)
			assertBaseline(t)
		})

		t.Run("failed profile build", func(t *ftt.Test) {
			fh.result = host.Failure
			res := build.Run(ctx, spawn.Steps())
			assert.Loosely(t, res, should.Equal(host.Failure))

			st := build.Step("trigger builds")
			assert.Loosely(t, st.Result, should.Equal(host.Failure))
			assert.Loosely(t, st.Summary, should.Equal("1 of 1 builds failed"))
			assert.Loosely(t, st.Log("triggered").Text(), should.ContainSubstring("tools_linux_release #1: failure"))
			assertBaseline(t)
		})

		t.Run("cancelled build still restores the baseline", func(t *ftt.Test) {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			res := build.Run(cctx, spawn.Steps())
			assert.Loosely(t, res, should.Equal(host.Cancelled))
			assert.Loosely(t, build.Step("checkout").Result, should.Equal(host.Skipped))
			assert.Loosely(t, build.Step("reset configuration").Result, should.Equal(host.Success))
			assertBaseline(t)
		})

		t.Run("releases the lease", func(t *ftt.Test) {
			build.Run(ctx, spawn.Steps())
			release, err := engine.Acquire(ctx)
			assert.Loosely(t, err, should.BeNil)
			release()
		})
	})
}
