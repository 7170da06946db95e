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
	"context"
	"fmt"

	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"go.chromium.org/inplace/internal/inplace"
)

type commonFlags struct {
	subcommands.CommandRunBase
	settingsPath string
	logConfig    logging.Config
}

func (c *commonFlags) Init() {
	c.Flags.StringVar(&c.settingsPath, "settings", "inplace.yml", "Path to the settings file.")
	c.logConfig.Level = logging.Info
	c.logConfig.AddFlags(&c.Flags)
}

// load applies logging flags and reads the settings.
func (c *commonFlags) load(ctx context.Context) (context.Context, *inplace.Settings, error) {
	ctx = c.logConfig.Set(ctx)
	s, err := inplace.LoadSettings(ctx, c.settingsPath)
	if err != nil {
		return ctx, nil, err
	}
	return ctx, s, nil
}

func (c *commonFlags) done(ctx context.Context, a subcommands.Application, err error) int {
	if err != nil {
		errors.Log(ctx, err)
		fmt.Fprintf(a.GetErr(), "%s: %s\n", a.GetName(), err)
		return 1
	}
	return 0
}
