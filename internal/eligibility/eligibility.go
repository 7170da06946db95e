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

// Package eligibility matches manifest profiles against worker capabilities.
package eligibility

import (
	"context"
	"sort"

	"go.chromium.org/luci/common/data/rand/mathrand"
	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/common/logging"

	"go.chromium.org/inplace/internal/host"
	"go.chromium.org/inplace/internal/manifest"
	"go.chromium.org/inplace/internal/model"
)

// Satisfies is true if the worker runs on the platform and has every setup.
//
// No required setups match any worker with the right platform.
func Satisfies(w *model.Worker, platform string, setups []string) bool {
	if !w.Platforms.Has(platform) {
		return false
	}
	for _, s := range setups {
		if !w.Setups.Has(s) {
			return false
		}
	}
	return true
}

// EligibleWorkers returns names of workers able to build the profile.
func EligibleWorkers(p *manifest.Profile, workers []*model.Worker) stringset.Set {
	out := stringset.New(0)
	for _, w := range workers {
		if Satisfies(w, p.Platform, p.Setups) {
			out.Add(w.Name)
		}
	}
	return out
}

// WorkerLookup gives access to the live worker registry.
type WorkerLookup interface {
	Worker(name string) (*model.Worker, bool)
}

// Policy picks a random worker satisfying the platform and setups requested
// through build properties.
//
// It implements host.WorkerPolicy.
type Policy struct {
	Workers WorkerLookup
}

var _ host.WorkerPolicy = (*Policy)(nil)

// NextWorker implements host.WorkerPolicy.
func (p *Policy) NextWorker(ctx context.Context, builder string, idle []string, props host.Properties) (string, bool) {
	platform, ok := props.String(host.PropPlatform)
	if !ok {
		return "", false
	}
	setups, ok := props.Strings(host.PropSetups)
	if !ok {
		return "", false
	}

	var eligible []string
	for _, name := range idle {
		if w, ok := p.Workers.Worker(name); ok && Satisfies(w, platform, setups) {
			eligible = append(eligible, name)
		}
	}
	if len(eligible) == 0 {
		logging.Debugf(ctx, "No idle worker of %q has platform %q and setups %q", builder, platform, setups)
		return "", false
	}
	sort.Strings(eligible)
	return eligible[mathrand.Intn(ctx, len(eligible))], true
}
