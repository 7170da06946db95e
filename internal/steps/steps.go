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

// Package steps implements the build steps of spawner and profile builds.
//
// A spawner build checks out a project, reads its manifest, expands the
// master configuration with one builder per buildable profile, triggers
// those builders, waits for them and restores the baseline configuration.
// A profile build checks out the same project on an eligible worker and
// runs the actions of its profile.
package steps

import (
	"context"
	"io"

	"go.chromium.org/luci/common/errors"

	"go.chromium.org/inplace/internal/host"
	"go.chromium.org/inplace/internal/model"
)

// step is a host.Step backed by a function.
type step struct {
	name string
	opts host.StepOptions
	run  func(ctx context.Context, sc *host.StepContext) (host.Result, error)
}

func (s *step) Name() string              { return s.name }
func (s *step) Options() host.StepOptions { return s.opts }
func (s *step) Run(ctx context.Context, sc *host.StepContext) (host.Result, error) {
	return s.run(ctx, sc)
}

// bookkeeping steps halt the build on failure and disappear on success.
var bookkeeping = host.StepOptions{HaltOnFailure: true, HideOnSuccess: true}

// runCommand runs args on the build's worker. Stderr, and stdout unless
// given, go to the "stdio" log.
func runCommand(ctx context.Context, sc *host.StepContext, args []string, env map[string]string, stdout io.Writer) (int, error) {
	stdio := sc.Log("stdio")
	if stdout == nil {
		stdout = stdio
	}
	code, err := sc.Build.Worker.Run(ctx, &host.RemoteCommand{
		Args:   args,
		Env:    env,
		Stdout: stdout,
		Stderr: stdio,
	})
	if err != nil {
		return code, errors.Annotate(err, "running %q", args).Err()
	}
	return code, nil
}

// exitResult maps a command exit code to a step result.
func exitResult(sc *host.StepContext, code int) host.Result {
	if code != 0 {
		sc.SetSummary("exit code %d", code)
		return host.Failure
	}
	return host.Success
}

// checkout brings the project's repository up to date on the worker.
func checkout(project func(*host.StepContext) (*model.Project, error)) host.Step {
	return &step{
		name: "checkout",
		opts: bookkeeping,
		run: func(ctx context.Context, sc *host.StepContext) (host.Result, error) {
			p, err := project(sc)
			if err != nil {
				return host.Failure, err
			}
			co := &host.Checkout{
				RepoURL:  p.Repo.URL,
				Branch:   p.Repo.Branch,
				Full:     p.Repo.Mode == model.RepoModeFull,
				User:     p.Repo.User,
				Password: p.Repo.Password,
			}
			if err := sc.Build.Worker.Checkout(ctx, co); err != nil {
				sc.SetSummary("checkout of %s failed", p.Repo.URL)
				return host.Failure, err
			}
			sc.SetSummary("%s@%s", p.Repo.URL, p.Repo.Branch)
			return host.Success, nil
		},
	}
}
