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

// Package factory produces the build factories of generated builders.
package factory

import (
	"net/http"

	"go.chromium.org/inplace/internal/host"
	"go.chromium.org/inplace/internal/model"
	"go.chromium.org/inplace/internal/reconfig"
	"go.chromium.org/inplace/internal/steps"
)

// Set implements reconfig.Factories.
//
// Engine must be set before the first build runs. It is usually the engine
// the Set is given to.
type Set struct {
	Lookup steps.Lookup
	Engine steps.Expander
	// HTTPClient is used by deploy steps. Nil means http.DefaultClient.
	HTTPClient *http.Client
}

var _ reconfig.Factories = (*Set)(nil)

// Spawner returns the factory of the project's spawner builder.
func (s *Set) Spawner(p *model.Project) host.BuildFactory {
	return host.FactoryFunc(func() []host.Step {
		return steps.NewSpawn(p, s.Engine).Steps()
	})
}

// Profile returns the factory of the project's profile builders. A nil
// project is taken from the inplace_project build property.
func (s *Set) Profile(p *model.Project) host.BuildFactory {
	return host.FactoryFunc(func() []host.Step {
		return steps.NewProfileBuild(s.Lookup, p, s.HTTPClient).Steps()
	})
}
