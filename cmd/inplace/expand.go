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
	"strings"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/errors"

	"go.chromium.org/inplace/internal/host/memhost"
	"go.chromium.org/inplace/internal/inplace"
	"go.chromium.org/inplace/internal/manifest"
)

func cmdExpand() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "expand -project <name> path/to/.buildbot.yml",
		ShortDesc: "prints builders a manifest would generate",
		LongDesc: `Expands a manifest against the registered workers without running
anything and prints the generated builders and the profiles no worker
can build.`,
		CommandRun: func() subcommands.CommandRun {
			c := &expandRun{}
			c.Init()
			c.Flags.StringVar(&c.project, "project", "", "Registered project the manifest belongs to.")
			return c
		},
	}
}

type expandRun struct {
	commonFlags
	project string
}

func (c *expandRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	if c.project == "" || len(args) != 1 {
		return c.done(ctx, a, errors.New("expected -project and exactly one manifest"))
	}
	ctx, s, err := c.load(ctx)
	if err != nil {
		return c.done(ctx, a, err)
	}
	blob, err := os.ReadFile(args[0])
	if err != nil {
		return c.done(ctx, a, err)
	}
	m, err := manifest.Parse(blob)
	if err != nil {
		return c.done(ctx, a, err)
	}

	svc := inplace.NewService(s, memhost.New(memhost.Options{ProductDir: s.ProductsDir}), nil)
	if err := svc.Start(ctx); err != nil {
		return c.done(ctx, a, err)
	}
	p, ok := svc.Registry.Project(c.project)
	if !ok {
		return c.done(ctx, a, errors.Reason("unknown project %q", c.project).Err())
	}
	exp, err := svc.Engine.ExpandProject(ctx, p, m)
	for _, t := range exp.Triggers {
		fmt.Fprintf(a.GetOut(), "%s (%s) on %s\n", t.Builder, t.Scheduler, strings.Join(t.Workers, ", "))
	}
	for _, prof := range exp.Skipped {
		fmt.Fprintf(a.GetOut(), "skipped %s: no worker for platform %q with %s\n",
			prof.Name, prof.Platform, strings.Join(prof.Setups, ", "))
	}
	return c.done(ctx, a, err)
}
