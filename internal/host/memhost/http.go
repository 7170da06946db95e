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
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"go.chromium.org/luci/common/logging"

	"go.chromium.org/inplace/internal/host"
)

// Handler serves change hooks and force requests. Builds they start run
// with ctx and are waited for by Wait.
func (h *Host) Handler(ctx context.Context) http.Handler {
	r := httprouter.New()
	r.POST("/change_hook/:dialect", func(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
		h.changeHook(ctx, w, req, p.ByName("dialect"))
	})
	r.POST("/api/v2/forceschedulers/:name", func(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
		h.forceScheduler(ctx, w, req, p.ByName("name"))
	})
	return r
}

func writeJSON(ctx context.Context, w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.WithError(err).Warningf(ctx, "Failed to write the response")
	}
}

func writeError(ctx context.Context, w http.ResponseWriter, code int, msg string) {
	writeJSON(ctx, w, code, map[string]string{"error": msg})
}

// start fires the scheduler in the background.
func (h *Host) start(ctx context.Context, scheduler string, kind host.SchedulerKind, props host.Properties) {
	h.pending.Add(1)
	go func() {
		defer h.pending.Done()
		for _, r := range h.fire(ctx, scheduler, kind, props) {
			if r.Err != nil {
				logging.WithError(r.Err).Errorf(ctx, "Scheduler %q failed", scheduler)
			}
		}
	}()
}

// changeHook routes a change notification to the spawner of the project.
//
// The project is named by the "project" form field, or matched by the
// "repository" (and optionally "branch") fields against change sources.
func (h *Host) changeHook(ctx context.Context, w http.ResponseWriter, req *http.Request, dialect string) {
	cfg := h.cfg.Load()
	if cfg == nil {
		writeError(ctx, w, http.StatusServiceUnavailable, "not configured")
		return
	}
	if _, ok := cfg.WWW.ChangeHookDialects[dialect]; !ok {
		writeError(ctx, w, http.StatusNotFound, "unknown dialect "+dialect)
		return
	}
	if err := req.ParseForm(); err != nil {
		writeError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	var src *host.ChangeSource
	if project := req.Form.Get("project"); project != "" {
		src, _ = cfg.ChangeSources.Get(project)
	} else if repo := req.Form.Get("repository"); repo != "" {
		branch := req.Form.Get("branch")
		for _, c := range cfg.ChangeSources.All() {
			if c.RepoURL == repo && (branch == "" || branch == c.Branch) {
				src = c
				break
			}
		}
	}
	if src == nil {
		writeError(ctx, w, http.StatusNotFound, "no matching change source")
		return
	}

	logging.Infof(ctx, "Change hook %q: starting %q", dialect, src.Scheduler)
	h.start(ctx, src.Scheduler, host.ForceScheduler, nil)
	writeJSON(ctx, w, http.StatusAccepted, map[string]string{"scheduler": src.Scheduler})
}

type forceRequest struct {
	Properties map[string]any `json:"properties"`
}

// forceScheduler starts builds of a force scheduler on behalf of an
// authenticated user.
func (h *Host) forceScheduler(ctx context.Context, w http.ResponseWriter, req *http.Request, name string) {
	cfg := h.cfg.Load()
	if cfg == nil {
		writeError(ctx, w, http.StatusServiceUnavailable, "not configured")
		return
	}

	user, password, _ := req.BasicAuth()
	if cfg.WWW.Auth != nil && !cfg.WWW.Auth.Check(user, password) {
		w.Header().Set("WWW-Authenticate", `Basic realm="inplace"`)
		writeError(ctx, w, http.StatusUnauthorized, "bad credentials")
		return
	}
	if !cfg.WWW.Authz.Allowed(user, host.ActionForceBuild) {
		writeError(ctx, w, http.StatusForbidden, "not allowed to force builds")
		return
	}

	s, ok := cfg.Schedulers.Get(name)
	if !ok || s.Kind != host.ForceScheduler {
		writeError(ctx, w, http.StatusNotFound, "no force scheduler "+name)
		return
	}

	var body forceRequest
	if req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(ctx, w, http.StatusBadRequest, err.Error())
			return
		}
	}

	logging.Infof(ctx, "User %q forced %q", user, name)
	h.start(ctx, name, host.ForceScheduler, host.Properties(body.Properties))
	writeJSON(ctx, w, http.StatusAccepted, map[string]any{"scheduler": name, "builders": s.BuilderNames})
}
