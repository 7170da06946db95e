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

	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/config/validation"
)

// ValidateConfig checks consistency of the config as a whole.
func ValidateConfig(ctx context.Context, cfg *Config) error {
	vctx := &validation.Context{Context: ctx}
	validateConfig(vctx, cfg)
	return vctx.Finalize()
}

func validateConfig(vctx *validation.Context, cfg *Config) {
	if cfg == nil {
		vctx.Errorf("no config")
		return
	}

	workers := stringset.NewFromSlice(cfg.Workers.Names()...)
	for _, w := range cfg.Workers.All() {
		vctx.Enter("workers %q", w.Name)
		if w.Name == "" {
			vctx.Errorf("empty worker name")
		}
		vctx.Exit()
	}

	builders := stringset.New(cfg.Builders.Len())
	for _, b := range cfg.Builders.All() {
		vctx.Enter("builder %q", b.Name)
		validateBuilder(vctx, b, workers)
		builders.Add(b.Name)
		vctx.Exit()
	}

	for _, s := range cfg.Schedulers.All() {
		vctx.Enter("scheduler %q", s.Name)
		validateScheduler(vctx, s, builders)
		vctx.Exit()
	}

	schedulers := stringset.NewFromSlice(cfg.Schedulers.Names()...)
	for _, c := range cfg.ChangeSources.All() {
		vctx.Enter("change source %q", c.Name)
		if c.RepoURL == "" {
			vctx.Errorf("no repository URL")
		}
		if !schedulers.Has(c.Scheduler) {
			vctx.Errorf("unknown scheduler %q", c.Scheduler)
		}
		vctx.Exit()
	}

	vctx.Enter("www")
	if cfg.WWW.Port < 0 {
		vctx.Errorf("bad port %d", cfg.WWW.Port)
	}
	if cfg.WWW.Authz != nil {
		for i, r := range cfg.WWW.Authz.Rules {
			if r.Role == "" {
				vctx.Errorf("authz rule #%d has no role", i)
			}
		}
	}
	for name := range cfg.WWW.ChangeHookDialects {
		if name == "" {
			vctx.Errorf("empty change hook dialect name")
		}
	}
	vctx.Exit()

	for name, p := range cfg.Protocols {
		if p.Port <= 0 {
			vctx.Errorf("protocol %q: bad port %d", name, p.Port)
		}
	}
}

func validateBuilder(vctx *validation.Context, b *BuilderConfig, workers stringset.Set) {
	if b.Name == "" {
		vctx.Errorf("empty builder name")
	}
	if b.Factory == nil {
		vctx.Errorf("no build factory")
	}
	if len(b.WorkerNames) == 0 {
		vctx.Errorf("no workers")
	}
	for _, w := range b.WorkerNames {
		if !workers.Has(w) {
			vctx.Errorf("unknown worker %q", w)
		}
	}
}

func validateScheduler(vctx *validation.Context, s *Scheduler, builders stringset.Set) {
	switch s.Kind {
	case ForceScheduler, TriggerableScheduler:
	default:
		vctx.Errorf("unknown kind %q", s.Kind)
	}
	if len(s.BuilderNames) == 0 {
		vctx.Errorf("no builders")
	}
	for _, b := range s.BuilderNames {
		if !builders.Has(b) {
			vctx.Errorf("unknown builder %q", b)
		}
	}
}
