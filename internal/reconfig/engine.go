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

// Package reconfig generates the builder and scheduler graph of the master
// and makes it live.
//
// The graph is in one of two states. In the baseline state it has a dummy
// builder, one spawner builder per project and a placeholder builder with a
// dynamic worker selection policy. Expanding a project adds one builder and
// one triggerable scheduler per manifest profile some worker can build.
// Every transition regenerates the whole graph.
package reconfig

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"go.chromium.org/inplace/internal/eligibility"
	"go.chromium.org/inplace/internal/host"
	"go.chromium.org/inplace/internal/manifest"
	"go.chromium.org/inplace/internal/metrics"
	"go.chromium.org/inplace/internal/model"
	"go.chromium.org/inplace/internal/registry"
)

// ErrProfileNotFulfilled is returned by ExpandProject when no profile of the
// project can be built by any worker.
var ErrProfileNotFulfilled = errors.New("no workers fulfil the profiles of this project")

// Factories produce build factories for generated builders.
type Factories interface {
	// Spawner returns the factory of the project's spawner builder.
	Spawner(p *model.Project) host.BuildFactory
	// Profile returns the factory of profile builders of the project. With
	// a nil project it is resolved from build properties.
	Profile(p *model.Project) host.BuildFactory
}

// Options configure an Engine.
type Options struct {
	Host      host.Host
	Registry  *registry.Registry
	Factories Factories
	// Base returns the static part of the master config. Builders,
	// schedulers, change sources and workers are always regenerated.
	Base func(ctx context.Context) *host.Config
}

// State is the state of the committed graph.
type State int

const (
	// Baseline has no project specific builders.
	Baseline State = iota
	// ProjectExpanded has profile builders of exactly one project.
	ProjectExpanded
)

func (s State) String() string {
	switch s {
	case Baseline:
		return "BASELINE"
	case ProjectExpanded:
		return "PROJECT_EXPANDED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Trigger is a profile builder created by an expansion.
type Trigger struct {
	Project   string
	Profile   *manifest.Profile
	Builder   string
	Scheduler string
	Workers   []string
}

// Properties are the properties of the build triggered for the profile.
func (t *Trigger) Properties() host.Properties {
	return host.Properties{
		host.PropProject:  t.Project,
		host.PropProfile:  t.Profile.Name,
		host.PropPlatform: t.Profile.Platform,
		host.PropSetups:   append([]string{}, t.Profile.Setups...),
	}
}

// Expansion describes what ExpandProject added to the graph.
type Expansion struct {
	Project  string
	Triggers []*Trigger
	// Skipped are profiles with no eligible worker.
	Skipped []*manifest.Profile
}

// Engine owns the builder and scheduler graph of the master.
type Engine struct {
	opts   Options
	policy *eligibility.Policy
	lease  *semaphore.Weighted

	m         sync.Mutex
	state     State
	project   string
	committed *host.Config
}

// NewEngine returns an engine. Nothing is committed until InstallBaseline.
func NewEngine(opts Options) *Engine {
	return &Engine{
		opts:   opts,
		policy: &eligibility.Policy{Workers: opts.Registry},
		lease:  semaphore.NewWeighted(1),
	}
}

// Acquire blocks until no other expansion is in flight and reserves the
// graph for the caller. The returned function releases it and may be called
// more than once.
func (e *Engine) Acquire(ctx context.Context) (release func(), err error) {
	if err := e.lease.Acquire(ctx, 1); err != nil {
		return nil, errors.Annotate(err, "waiting for a reconfiguration in flight").Err()
	}
	var once sync.Once
	return func() { once.Do(func() { e.lease.Release(1) }) }, nil
}

// State returns the state of the committed graph and the expanded project.
func (e *Engine) State() (State, string) {
	e.m.Lock()
	defer e.m.Unlock()
	return e.state, e.project
}

// Committed returns the last config the host accepted, or nil.
func (e *Engine) Committed() *host.Config {
	e.m.Lock()
	defer e.m.Unlock()
	return e.committed
}

// InstallBaseline replaces the graph with the baseline one.
func (e *Engine) InstallBaseline(ctx context.Context) error {
	e.m.Lock()
	defer e.m.Unlock()

	if err := e.commit(ctx, e.baseline(ctx), "baseline"); err != nil {
		return err
	}
	e.state, e.project = Baseline, ""
	logging.Infof(ctx, "Installed the baseline configuration")
	return nil
}

// ExpandProject replaces the graph with the baseline plus builders for every
// profile of the manifest some worker can build.
//
// Profiles nobody can build are skipped. If that's all of them, nothing is
// committed and the error wraps ErrProfileNotFulfilled.
func (e *Engine) ExpandProject(ctx context.Context, p *model.Project, m *manifest.Manifest) (*Expansion, error) {
	e.m.Lock()
	defer e.m.Unlock()

	cfg := e.baseline(ctx)
	workers := e.opts.Registry.Workers()
	exp := &Expansion{Project: p.Name}
	for _, prof := range m.Profiles {
		eligible := eligibility.EligibleWorkers(prof, workers)
		if eligible.Len() == 0 {
			logging.Warningf(ctx, "Could not find worker for: %q on platform %q (project %q, profile %q)",
				prof.Setups, prof.Platform, p.Name, prof.Name)
			metrics.SkippedProfiles.Add(ctx, 1, p.Name)
			exp.Skipped = append(exp.Skipped, prof)
			continue
		}
		t := &Trigger{
			Project:   p.Name,
			Profile:   prof,
			Builder:   ProfileBuilder(p.Name, prof),
			Scheduler: ProfileScheduler(p.Name, prof),
			Workers:   eligible.ToSortedSlice(),
		}
		cfg.Builders.Set(&host.BuilderConfig{
			Name:        t.Builder,
			WorkerNames: t.Workers,
			Factory:     e.opts.Factories.Profile(p),
			NextWorker:  e.policy,
			Tags:        []string{p.Name, prof.Platform},
		})
		cfg.Schedulers.Set(&host.Scheduler{
			Name:         t.Scheduler,
			Kind:         host.TriggerableScheduler,
			BuilderNames: []string{t.Builder},
		})
		exp.Triggers = append(exp.Triggers, t)
	}
	if len(exp.Triggers) == 0 {
		return exp, errors.Annotate(ErrProfileNotFulfilled, "project %q", p.Name).Err()
	}

	if err := e.commit(ctx, cfg, "expand"); err != nil {
		return exp, err
	}
	e.state, e.project = ProjectExpanded, p.Name
	logging.Infof(ctx, "Expanded project %q: %d builders, %d profiles skipped", p.Name, len(exp.Triggers), len(exp.Skipped))
	return exp, nil
}

// baseline generates a fresh baseline config.
func (e *Engine) baseline(ctx context.Context) *host.Config {
	cfg := host.NewConfig()
	if e.opts.Base != nil {
		if base := e.opts.Base(ctx); base != nil {
			fresh := cfg
			cfg = &host.Config{}
			*cfg = *base
			cfg.Builders = fresh.Builders
			cfg.Schedulers = fresh.Schedulers
			cfg.ChangeSources = fresh.ChangeSources
			cfg.Workers = fresh.Workers
			if cfg.Protocols == nil {
				cfg.Protocols = fresh.Protocols
			}
		}
	}

	var all []string
	for _, w := range e.opts.Registry.Workers() {
		name, password := w.Credential()
		cfg.Workers.Set(&host.WorkerAuth{Name: name, Password: password})
		all = append(all, name)
	}

	cfg.Builders.Set(&host.BuilderConfig{
		Name:        DummyBuilder,
		WorkerNames: all,
		Factory:     host.FactoryFunc(nil),
	})
	cfg.Schedulers.Set(&host.Scheduler{
		Name:         DummyScheduler,
		Kind:         host.ForceScheduler,
		BuilderNames: []string{DummyBuilder},
	})

	for _, p := range e.opts.Registry.Projects() {
		cfg.Builders.Set(&host.BuilderConfig{
			Name:        SpawnerBuilder(p.Name),
			WorkerNames: all,
			Factory:     e.opts.Factories.Spawner(p),
			Tags:        []string{p.Name},
		})
		cfg.Schedulers.Set(&host.Scheduler{
			Name:         SpawnerScheduler(p.Name),
			Kind:         host.ForceScheduler,
			BuilderNames: []string{SpawnerBuilder(p.Name)},
			Properties:   host.Properties{host.PropProject: p.Name},
		})
		cfg.ChangeSources.Set(&host.ChangeSource{
			Name:      p.Name,
			RepoURL:   p.Repo.URL,
			Branch:    p.Repo.Branch,
			Scheduler: SpawnerScheduler(p.Name),
		})
	}

	cfg.Builders.Set(&host.BuilderConfig{
		Name:        InplaceBuilder,
		WorkerNames: all,
		Factory:     e.opts.Factories.Profile(nil),
		NextWorker:  e.policy,
	})
	cfg.Schedulers.Set(&host.Scheduler{
		Name:         InplaceScheduler,
		Kind:         host.TriggerableScheduler,
		BuilderNames: []string{InplaceBuilder},
	})
	return cfg
}

// commit hands the config to the host. Must be called under e.m.
func (e *Engine) commit(ctx context.Context, cfg *host.Config, kind string) error {
	if err := e.opts.Host.Reconfigure(ctx, cfg); err != nil {
		metrics.Commits.Add(ctx, 1, kind, "failed")
		logging.WithError(err).Errorf(ctx, "Could not reconfigure")
		return errors.Annotate(err, "could not reconfigure").Err()
	}
	metrics.Commits.Add(ctx, 1, kind, "ok")
	e.committed = cfg
	return nil
}
