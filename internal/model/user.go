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

package model

import (
	"go.chromium.org/luci/config/validation"
)

// User is a web user of the host.
type User struct {
	Name         string   `yaml:"name"`
	Password     string   `yaml:"password"`
	Capabilities []string `yaml:"capabilities"`
}

// EntityName implements named.Entity.
func (u *User) EntityName() string { return u.Name }

// Role is a named bundle of capabilities.
type Role struct {
	Name         string   `yaml:"name"`
	Capabilities []string `yaml:"capabilities"`
}

// EntityName implements named.Entity.
func (r *Role) EntityName() string { return r.Name }

type usersYAML struct {
	Users []*User `yaml:"users"`
}

type rolesYAML struct {
	Roles []*Role `yaml:"roles"`
}

func validateUser(ctx *validation.Context, u *User) {
	if u.Name == "" {
		ctx.Errorf("user requires at least a username")
	}
}

func validateRole(ctx *validation.Context, r *Role) {
	if r.Name == "" {
		ctx.Errorf("name is required")
	}
}
