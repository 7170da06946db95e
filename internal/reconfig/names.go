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

package reconfig

import (
	"strings"

	"go.chromium.org/inplace/internal/manifest"
)

// Names of the builders and schedulers of the baseline graph.
const (
	DummyBuilder     = "Dummy"
	DummyScheduler   = "Trigger Dummy"
	InplaceBuilder   = "Inplace"
	InplaceScheduler = "Inplace_Trigger"
)

// SpawnerBuilder is the name of the builder expanding the project.
func SpawnerBuilder(project string) string {
	return project + "_Builder"
}

// SpawnerScheduler is the name of the force scheduler of the spawner.
func SpawnerScheduler(project string) string {
	return "Force_" + project + "_Build"
}

// ProfileBuilder is the name of the builder building a profile of a project.
func ProfileBuilder(project string, p *manifest.Profile) string {
	return strings.Join([]string{project, p.Platform, p.Name}, "_")
}

// ProfileScheduler is the name of the triggerable scheduler of a profile
// builder.
func ProfileScheduler(project string, p *manifest.Profile) string {
	return ProfileBuilder(project, p) + "_Trigger"
}
