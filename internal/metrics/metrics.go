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

// Package metrics defines metrics reported by the inplace configuration layer.
package metrics

import (
	"go.chromium.org/luci/common/tsmon/field"
	"go.chromium.org/luci/common/tsmon/metric"
)

var (
	// Commits counts attempts to make a new master config live.
	Commits = metric.NewCounter(
		"inplace/reconfig/commits",
		"Number of master reconfigurations.",
		nil,
		field.String("kind"),    // "baseline" or "expand"
		field.String("outcome"), // "ok" or "failed"
	)

	// SkippedProfiles counts profiles no worker could build.
	SkippedProfiles = metric.NewCounter(
		"inplace/reconfig/skipped_profiles",
		"Number of manifest profiles skipped for lack of eligible workers.",
		nil,
		field.String("project"),
	)

	// Uploads counts deployed product files.
	Uploads = metric.NewCounter(
		"inplace/deploy/uploads",
		"Number of product files deployed.",
		nil,
		field.String("provider"), // "redmine" or "github"
		field.String("outcome"),  // "ok", "skipped" or "failed"
	)

	// BuildsCompleted counts finished builds.
	BuildsCompleted = metric.NewCounter(
		"inplace/builds/completed",
		"Number of completed builds.",
		nil,
		field.String("builder"),
		field.String("result"),
	)
)
