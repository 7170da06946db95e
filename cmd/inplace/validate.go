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

package main

import (
	"fmt"
	"os"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/errors"

	"go.chromium.org/inplace/internal/manifest"
	"go.chromium.org/inplace/internal/registry"
)

func cmdValidate() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "validate [-settings inplace.yml] [path/to/.buildbot.yml...]",
		ShortDesc: "checks settings, registries and manifests",
		LongDesc: `Loads the settings file and every worker, project, user and role
file it points to. Manifests given as arguments are parsed too.`,
		CommandRun: func() subcommands.CommandRun {
			c := &validateRun{}
			c.Init()
			return c
		},
	}
}

type validateRun struct {
	commonFlags
}

func (c *validateRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	ctx, s, err := c.load(ctx)
	if err != nil {
		return c.done(ctx, a, err)
	}
	reg := registry.New()
	if err := reg.Load(ctx, s.Dirs()); err != nil {
		return c.done(ctx, a, err)
	}
	fmt.Fprintf(a.GetOut(), "%d workers, %d projects, %d users, %d roles\n",
		len(reg.Workers()), len(reg.Projects()), len(reg.Users()), len(reg.Roles()))

	var merr errors.MultiError
	for _, path := range args {
		blob, err := os.ReadFile(path)
		if err != nil {
			merr = append(merr, err)
			continue
		}
		m, err := manifest.Parse(blob)
		if err != nil {
			merr = append(merr, errors.Annotate(err, "%s", path).Err())
			continue
		}
		fmt.Fprintf(a.GetOut(), "%s: %d profiles, %d actions\n", path, len(m.Profiles), len(m.Actions))
	}
	if len(merr) > 0 {
		return c.done(ctx, a, merr)
	}
	return 0
}
