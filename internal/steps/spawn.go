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
	"os"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"go.chromium.org/inplace/internal/host"
	"go.chromium.org/inplace/internal/manifest"
	"go.chromium.org/inplace/internal/model"
	"go.chromium.org/inplace/internal/reconfig"
)

// Expander is the part of the reconfiguration engine used by spawner builds.
type Expander interface {
	Acquire(ctx context.Context) (release func(), err error)
	ExpandProject(ctx context.Context, p *model.Project, m *manifest.Manifest) (*reconfig.Expansion, error)
	InstallBaseline(ctx context.Context) error
}

var _ Expander = (*reconfig.Engine)(nil)

// Spawn is the state of one spawner build.
type Spawn struct {
	Project  *model.Project
	Manifest *manifest.Manifest
	// Expansion is set once builders are registered.
	Expansion *reconfig.Expansion

	engine  Expander
	release func()
}

// NewSpawn returns the state of a new spawner build of the project.
func NewSpawn(p *model.Project, engine Expander) *Spawn {
	return &Spawn{Project: p, engine: engine}
}

// Steps returns the steps of the spawner build in order.
func (s *Spawn) Steps() []host.Step {
	return []host.Step{
		s.Checkout(),
		s.RetrieveManifest(),
		s.RegisterBuilds(),
		s.TriggerBuilds(),
		s.ResetConfiguration(),
	}
}

// Checkout updates the project checkout.
func (s *Spawn) Checkout() host.Step {
	return checkout(func(*host.StepContext) (*model.Project, error) { return s.Project, nil })
}

// RetrieveManifest reads and parses the manifest of the checkout.
func (s *Spawn) RetrieveManifest() host.Step {
	return &step{
		name: "retrieve manifest",
		opts: host.StepOptions{HaltOnFailure: true, HideOnSuccess: true},
		run: func(ctx context.Context, sc *host.StepContext) (host.Result, error) {
			m, res, err := readManifest(ctx, sc)
			if m != nil {
				s.Manifest = m
				sc.SetSummary("%d profiles, %d actions", len(m.Profiles), len(m.Actions))
			}
			return res, err
		},
	}
}

// readManifest fetches the manifest from the worker. Missing and invalid
// manifests fail the step with a user facing explanation.
func readManifest(ctx context.Context, sc *host.StepContext) (*manifest.Manifest, host.Result, error) {
	blob, err := sc.Build.Worker.ReadFile(ctx, manifest.FileName)
	switch {
	case errors.Is(err, os.ErrNotExist):
		sc.SetSummary("unable to fetch %s", manifest.FileName)
		sc.Log("help").Addf("Please put a file named %s at the root of your repository.", manifest.FileName)
		return nil, host.Failure, nil
	case err != nil:
		sc.SetSummary("unable to fetch %s", manifest.FileName)
		return nil, host.Failure, errors.Annotate(err, "reading %s", manifest.FileName).Err()
	}
	sc.Log(manifest.FileName).Write(blob)

	m, err := manifest.Parse(blob)
	if err != nil {
		sc.SetSummary("bad %s", manifest.FileName)
		sc.Log("error").Addf("%s", err)
		return nil, host.Failure, nil
	}
	return m, host.Success, nil
}

// RegisterBuilds expands the master configuration with the manifest's
// profiles. It holds the reconfiguration lease until ResetConfiguration.
func (s *Spawn) RegisterBuilds() host.Step {
	return &step{
		name: "register builds",
		opts: host.StepOptions{HaltOnFailure: true, HideOnSuccess: true},
		run: func(ctx context.Context, sc *host.StepContext) (host.Result, error) {
			if s.Manifest == nil {
				return host.Failure, errors.Reason("no manifest").Err()
			}
			if s.release == nil {
				release, err := s.engine.Acquire(ctx)
				if err != nil {
					return host.Failure, err
				}
				s.release = release
			}

			exp, err := s.engine.ExpandProject(ctx, s.Project, s.Manifest)
			if exp != nil && len(exp.Skipped) > 0 {
				l := sc.Log("skipped builds")
				for _, p := range exp.Skipped {
					l.Addf("%s: no worker for platform %q with setups %q", p.Name, p.Platform, p.Setups)
				}
			}
			if err != nil {
				sc.Log("stdio").Addf("Failing: %s", err)
				if errors.Is(err, reconfig.ErrProfileNotFulfilled) {
					sc.SetSummary("no eligible workers")
				} else {
					sc.SetSummary("could not reconfigure")
				}
				return host.Failure, nil
			}
			s.Expansion = exp
			l := sc.Log("builders")
			for _, t := range exp.Triggers {
				l.Addf("%s on %q", t.Builder, t.Workers)
			}
			sc.SetSummary("%d builders registered", len(exp.Triggers))
			return host.Success, nil
		},
	}
}

// TriggerBuilds fires every registered profile builder and waits for all of
// them.
func (s *Spawn) TriggerBuilds() host.Step {
	return &step{
		name: "trigger builds",
		run: func(ctx context.Context, sc *host.StepContext) (host.Result, error) {
			if s.Expansion == nil || len(s.Expansion.Triggers) == 0 {
				sc.SetSummary("nothing to trigger")
				return host.Skipped, nil
			}
			reqs := make([]host.TriggerRequest, len(s.Expansion.Triggers))
			for i, t := range s.Expansion.Triggers {
				reqs[i] = host.TriggerRequest{Scheduler: t.Scheduler, Properties: t.Properties()}
			}

			sc.SetWaiting(true)
			results := sc.Build.Host.Trigger(ctx, reqs)
			sc.SetWaiting(false)

			l := sc.Log("triggered")
			var merr errors.MultiError
			for _, r := range results {
				switch {
				case r.Err != nil:
					l.Addf("%s: %s", r.Scheduler, r.Err)
					merr = append(merr, errors.Annotate(r.Err, "triggering %q", r.Scheduler).Err())
				case r.Result != host.Success && r.Result != host.Warnings:
					l.Addf("%s #%d: %s", r.Builder, r.Number, r.Result)
					merr = append(merr, errors.Reason("%s #%d: %s", r.Builder, r.Number, r.Result).Err())
				default:
					l.Addf("%s #%d: %s", r.Builder, r.Number, r.Result)
				}
			}
			if len(merr) > 0 {
				sc.SetSummary("%d of %d builds failed", len(merr), len(results))
				return host.Failure, merr
			}
			sc.SetSummary("%d builds succeeded", len(results))
			return host.Success, nil
		},
	}
}

// ResetConfiguration restores the baseline configuration and releases the
// reconfiguration lease. It runs even if the build failed or was cancelled.
func (s *Spawn) ResetConfiguration() host.Step {
	return &step{
		name: "reset configuration",
		opts: host.StepOptions{AlwaysRun: true, HideOnSuccess: true},
		run: func(ctx context.Context, sc *host.StepContext) (host.Result, error) {
			if s.release == nil {
				// Never expanded. Still restore, but not over somebody else's
				// expansion.
				release, err := s.engine.Acquire(ctx)
				if err != nil {
					return host.Failure, err
				}
				s.release = release
			}
			defer func() {
				s.release()
				s.release = nil
			}()
			if err := s.engine.InstallBaseline(ctx); err != nil {
				logging.WithError(err).Errorf(ctx, "Baseline restore after %q failed", s.Project.Name)
				sc.SetSummary("could not restore the baseline")
				return host.Failure, err
			}
			sc.SetSummary("baseline restored")
			return host.Success, nil
		},
	}
}
