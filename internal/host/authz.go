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

package host

import (
	"crypto/subtle"

	"go.chromium.org/luci/common/data/stringset"
)

// Auth is a username to password map used for basic authentication.
type Auth struct {
	Users map[string]string
}

// Check verifies a user's password.
func (a *Auth) Check(user, password string) bool {
	if a == nil {
		return false
	}
	want, ok := a.Users[user]
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(want), []byte(password)) == 1
}

// Action is something a user attempts through the web interface.
type Action string

const (
	ActionView            Action = "view"
	ActionForceBuild      Action = "force_build"
	ActionStopBuild       Action = "stop_build"
	ActionRebuildBuild    Action = "rebuild_build"
	ActionEnableScheduler Action = "enable_scheduler"
)

// Matcher selects actions an authorization rule applies to.
type Matcher string

const (
	// MatchAny matches every action, viewing included.
	MatchAny Matcher = "any"
	// MatchAnyControl matches every action except viewing.
	MatchAnyControl Matcher = "any_control"

	MatchForceBuild      = Matcher(ActionForceBuild)
	MatchStopBuild       = Matcher(ActionStopBuild)
	MatchRebuildBuild    = Matcher(ActionRebuildBuild)
	MatchEnableScheduler = Matcher(ActionEnableScheduler)
)

// Matches is true if the matcher applies to the action.
func (m Matcher) Matches(a Action) bool {
	switch m {
	case MatchAny:
		return true
	case MatchAnyControl:
		return a != ActionView
	default:
		return Matcher(a) == m
	}
}

// RoleMatcher grants roles to users.
type RoleMatcher struct {
	Roles     []string
	Usernames []string
}

// Rule allows an action to holders of a role.
//
// If a user matching the action lacks the role, DefaultDeny decides whether
// evaluation stops with a denial or continues with the next rule.
type Rule struct {
	Matcher     Matcher
	Role        string
	DefaultDeny bool
}

// Authz is an ordered list of rules evaluated first-match-wins.
type Authz struct {
	RoleMatchers []RoleMatcher
	Rules        []Rule
}

// RolesOf returns all roles granted to the user.
func (a *Authz) RolesOf(user string) stringset.Set {
	roles := stringset.New(0)
	if a == nil {
		return roles
	}
	for _, rm := range a.RoleMatchers {
		for _, u := range rm.Usernames {
			if u == user {
				for _, r := range rm.Roles {
					roles.Add(r)
				}
				break
			}
		}
	}
	return roles
}

// Allowed decides whether the user may perform the action.
//
// Actions no rule matches are allowed. A nil Authz allows everything.
func (a *Authz) Allowed(user string, act Action) bool {
	if a == nil {
		return true
	}
	roles := a.RolesOf(user)
	for _, r := range a.Rules {
		if !r.Matcher.Matches(act) {
			continue
		}
		if roles.Has(r.Role) {
			return true
		}
		if r.DefaultDeny {
			return false
		}
	}
	return true
}
