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

package memhost

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"

	"go.chromium.org/inplace/internal/host"
)

type stubWorker string

func (w stubWorker) Name() string                          { return string(w) }
func (w stubWorker) Attach(builder string) host.WorkerConn { return stubConn(w) }

type stubConn string

func (c stubConn) Name() string { return string(c) }
func (c stubConn) Run(context.Context, *host.RemoteCommand) (int, error) {
	return 0, nil
}
func (c stubConn) ReadFile(context.Context, string) ([]byte, error) { return nil, io.EOF }
func (c stubConn) Glob(context.Context, []string) ([]string, error) { return nil, nil }
func (c stubConn) Open(context.Context, string) (io.ReadCloser, error) {
	return nil, io.EOF
}
func (c stubConn) Checkout(context.Context, *host.Checkout) error { return nil }

type fnStep struct {
	name string
	fn   func(ctx context.Context, sc *host.StepContext) (host.Result, error)
}

func (s *fnStep) Name() string              { return s.name }
func (s *fnStep) Options() host.StepOptions { return host.StepOptions{} }
func (s *fnStep) Run(ctx context.Context, sc *host.StepContext) (host.Result, error) {
	return s.fn(ctx, sc)
}

func factory(fn func(ctx context.Context, sc *host.StepContext) (host.Result, error)) host.BuildFactory {
	return host.FactoryFunc(func() []host.Step { return []host.Step{&fnStep{name: "work", fn: fn}} })
}

type pickLast struct{}

func (pickLast) NextWorker(ctx context.Context, builder string, idle []string, props host.Properties) (string, bool) {
	return idle[len(idle)-1], true
}

func testConfig(fn func(ctx context.Context, sc *host.StepContext) (host.Result, error)) *host.Config {
	cfg := host.NewConfig()
	cfg.Workers.Set(&host.WorkerAuth{Name: "w1", Password: "p"})
	cfg.Workers.Set(&host.WorkerAuth{Name: "w2", Password: "p"})
	for _, name := range []string{"a", "b"} {
		cfg.Builders.Set(&host.BuilderConfig{
			Name:        name,
			WorkerNames: []string{"w1", "w2"},
			Factory:     factory(fn),
			NextWorker:  pickLast{},
		})
		cfg.Schedulers.Set(&host.Scheduler{
			Name:         name + "_Trigger",
			Kind:         host.TriggerableScheduler,
			BuilderNames: []string{name},
		})
	}
	cfg.Schedulers.Set(&host.Scheduler{
		Name:         "Force_a",
		Kind:         host.ForceScheduler,
		BuilderNames: []string{"a"},
		Properties:   host.Properties{"inplace_project": "tools"},
	})
	cfg.ChangeSources.Set(&host.ChangeSource{
		Name:      "tools",
		RepoURL:   "https://git.example.com/tools.git",
		Branch:    "master",
		Scheduler: "Force_a",
	})
	cfg.WWW.ChangeHookDialects = map[string]map[string]string{"base": {}}
	cfg.WWW.Auth = &host.Auth{Users: map[string]string{"dev": "d", "guest": "g"}}
	cfg.WWW.Authz = &host.Authz{
		RoleMatchers: []host.RoleMatcher{{Roles: []string{"build"}, Usernames: []string{"dev"}}},
		Rules: []host.Rule{
			{Matcher: host.MatchForceBuild, Role: "build"},
			{Matcher: host.MatchAnyControl, Role: "all", DefaultDeny: true},
		},
	}
	return cfg
}

func TestHost(t *testing.T) {
	t.Parallel()

	ftt.Run("With a host", t, func(t *ftt.Test) {
		ctx := context.Background()
		h := New(Options{Workers: []host.Worker{stubWorker("w1"), stubWorker("w2")}})

		var m sync.Mutex
		var seen []host.Properties
		ok := func(ctx context.Context, sc *host.StepContext) (host.Result, error) {
			m.Lock()
			seen = append(seen, sc.Build.Properties())
			m.Unlock()
			return host.Success, nil
		}
		assert.Loosely(t, h.Reconfigure(ctx, testConfig(ok)), should.BeNil)

		t.Run("rejects invalid configs", func(t *ftt.Test) {
			live := h.Config()
			bad := testConfig(ok)
			bad.Builders.Set(&host.BuilderConfig{Name: "c", WorkerNames: []string{"ghost"}, Factory: factory(ok)})
			assert.Loosely(t, h.Reconfigure(ctx, bad), should.ErrLike(`unknown worker "ghost"`))
			assert.Loosely(t, h.Config(), should.Equal(live))
		})

		t.Run("force", func(t *ftt.Test) {
			res := h.Force(ctx, "Force_a", host.Properties{"extra": 1})
			assert.Loosely(t, res, should.HaveLength(1))
			assert.Loosely(t, res[0].Err, should.BeNil)
			assert.Loosely(t, res[0].Builder, should.Equal("a"))
			assert.Loosely(t, res[0].Number, should.Equal(1))
			assert.Loosely(t, res[0].Result, should.Equal(host.Success))
			assert.Loosely(t, res[0].BuildID, should.NotBeEmpty)

			assert.Loosely(t, seen[0]["inplace_project"], should.Equal("tools"))
			assert.Loosely(t, seen[0]["extra"], should.Equal(1))
			assert.Loosely(t, seen[0][host.PropWorker], should.Equal("w2"))

			res = h.Force(ctx, "Force_a", nil)
			assert.Loosely(t, res[0].Number, should.Equal(2))
			assert.Loosely(t, h.Builds(), should.HaveLength(2))
		})

		t.Run("unknown scheduler", func(t *ftt.Test) {
			res := h.Force(ctx, "a_Trigger", nil)
			assert.Loosely(t, res[0].Err, should.ErrLike(`no force scheduler "a_Trigger"`))
		})

		t.Run("trigger runs builds concurrently", func(t *ftt.Test) {
			var started sync.WaitGroup
			started.Add(2)
			barrier := func(ctx context.Context, sc *host.StepContext) (host.Result, error) {
				started.Done()
				done := make(chan struct{})
				go func() {
					started.Wait()
					close(done)
				}()
				select {
				case <-done:
					return host.Success, nil
				case <-time.After(10 * time.Second):
					return host.Failure, nil
				}
			}
			assert.Loosely(t, h.Reconfigure(ctx, testConfig(barrier)), should.BeNil)

			res := h.Trigger(ctx, []host.TriggerRequest{{Scheduler: "a_Trigger"}, {Scheduler: "b_Trigger"}})
			assert.Loosely(t, res, should.HaveLength(2))
			for _, r := range res {
				assert.Loosely(t, r.Result, should.Equal(host.Success))
			}
		})

		t.Run("waits for a worker", func(t *ftt.Test) {
			release := make(chan struct{})
			var calls sync.WaitGroup
			calls.Add(1)
			block := func(ctx context.Context, sc *host.StepContext) (host.Result, error) {
				calls.Done()
				<-release
				return host.Success, nil
			}
			cfg := testConfig(block)
			a, _ := cfg.Builders.Get("a")
			a.WorkerNames = []string{"w1"}
			assert.Loosely(t, h.Reconfigure(ctx, cfg), should.BeNil)

			first := make(chan []host.TriggerResult)
			go func() { first <- h.Trigger(ctx, []host.TriggerRequest{{Scheduler: "a_Trigger"}}) }()
			calls.Wait()

			tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			res := h.Trigger(tctx, []host.TriggerRequest{{Scheduler: "a_Trigger"}})
			assert.Loosely(t, res[0].Err, should.ErrLike("waiting for a worker"))

			close(release)
			assert.Loosely(t, (<-first)[0].Result, should.Equal(host.Success))
		})

		t.Run("http", func(t *ftt.Test) {
			srv := httptest.NewServer(h.Handler(ctx))
			defer srv.Close()

			post := func(path, user, password, body string) int {
				req, err := http.NewRequest("POST", srv.URL+path, strings.NewReader(body))
				assert.Loosely(t, err, should.BeNil)
				if user != "" {
					req.SetBasicAuth(user, password)
				}
				if strings.HasPrefix(path, "/change_hook") {
					req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				}
				resp, err := srv.Client().Do(req)
				assert.Loosely(t, err, should.BeNil)
				resp.Body.Close()
				return resp.StatusCode
			}

			t.Run("change hook", func(t *ftt.Test) {
				assert.Loosely(t, post("/change_hook/base", "", "", "project=tools"), should.Equal(http.StatusAccepted))
				assert.Loosely(t, post("/change_hook/base", "", "", "repository=https://git.example.com/tools.git&branch=master"), should.Equal(http.StatusAccepted))
				assert.Loosely(t, post("/change_hook/base", "", "", "project=other"), should.Equal(http.StatusNotFound))
				assert.Loosely(t, post("/change_hook/github", "", "", "project=tools"), should.Equal(http.StatusNotFound))
				h.Wait()
				assert.Loosely(t, h.Builds(), should.HaveLength(2))
			})

			t.Run("force", func(t *ftt.Test) {
				assert.Loosely(t, post("/api/v2/forceschedulers/Force_a", "dev", "bad", ""), should.Equal(http.StatusUnauthorized))
				assert.Loosely(t, post("/api/v2/forceschedulers/Force_a", "guest", "g", ""), should.Equal(http.StatusForbidden))
				assert.Loosely(t, post("/api/v2/forceschedulers/a_Trigger", "dev", "d", ""), should.Equal(http.StatusNotFound))
				assert.Loosely(t, post("/api/v2/forceschedulers/Force_a", "dev", "d", `{"properties": {"reason": "manual"}}`), should.Equal(http.StatusAccepted))
				h.Wait()
				assert.Loosely(t, seen, should.HaveLength(1))
				assert.Loosely(t, seen[0]["reason"], should.Equal("manual"))
			})
		})
	})
}
