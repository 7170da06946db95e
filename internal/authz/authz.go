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

// Package authz projects users and roles onto the host's web access rules.
package authz

import (
	"go.chromium.org/luci/common/data/stringset"

	"go.chromium.org/inplace/internal/host"
	"go.chromium.org/inplace/internal/model"
)

// Capabilities understood by the projected rules.
const (
	CapAll          = "all"
	CapBuild        = "build"
	CapForceBuild   = "build.force"
	CapStopBuild    = "build.stop"
	CapRebuildBuild = "build.rebuild"
	CapSchedule     = "schedule"
)

// Rules are the authorization rules, in evaluation order.
//
// The host evaluates them first-match-wins, so the closing deny must stay
// last.
func Rules() []host.Rule {
	return []host.Rule{
		{Matcher: host.MatchAny, Role: CapAll},
		{Matcher: host.MatchForceBuild, Role: CapBuild},
		{Matcher: host.MatchForceBuild, Role: CapForceBuild},
		{Matcher: host.MatchStopBuild, Role: CapBuild},
		{Matcher: host.MatchStopBuild, Role: CapStopBuild},
		{Matcher: host.MatchRebuildBuild, Role: CapBuild},
		{Matcher: host.MatchRebuildBuild, Role: CapRebuildBuild},
		{Matcher: host.MatchEnableScheduler, Role: CapSchedule},
		{Matcher: host.MatchAnyControl, Role: CapAll, DefaultDeny: true},
	}
}

// Project returns the basic auth user map and the access rules of users.
//
// A user capability naming a role is replaced by the role's capabilities.
func Project(users []*model.User, roles []*model.Role) (*host.Auth, *host.Authz) {
	byName := make(map[string]*model.Role, len(roles))
	for _, r := range roles {
		byName[r.Name] = r
	}

	auth := &host.Auth{Users: make(map[string]string, len(users))}
	authz := &host.Authz{Rules: Rules()}
	for _, u := range users {
		auth.Users[u.Name] = u.Password
		caps := expand(u.Capabilities, byName)
		if caps.Len() == 0 {
			continue
		}
		authz.RoleMatchers = append(authz.RoleMatchers, host.RoleMatcher{
			Roles:     caps.ToSortedSlice(),
			Usernames: []string{u.Name},
		})
	}
	return auth, authz
}

func expand(caps []string, roles map[string]*model.Role) stringset.Set {
	out := stringset.New(len(caps))
	for _, c := range caps {
		if r, ok := roles[c]; ok {
			for _, rc := range r.Capabilities {
				out.Add(rc)
			}
			continue
		}
		out.Add(c)
	}
	return out
}
