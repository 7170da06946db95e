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

// Package registry holds the catalogs of workers, projects, users and roles
// loaded from their directories.
package registry

import (
	"context"
	"sync"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"go.chromium.org/inplace/internal/model"
	"go.chromium.org/inplace/internal/named"
)

// Dirs are directories the registry is loaded from.
type Dirs struct {
	Workers  string
	Projects string
	Users    string
	// Roles is optional.
	Roles string
}

// Registry is safe for concurrent use.
//
// Reloads replace all catalogs at once: readers see either the old state or
// the new one, never a mix.
type Registry struct {
	m        sync.RWMutex
	workers  *named.List[*model.Worker]
	projects *named.List[*model.Project]
	users    *named.List[*model.User]
	roles    *named.List[*model.Role]
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		workers:  named.NewList[*model.Worker](),
		projects: named.NewList[*model.Project](),
		users:    named.NewList[*model.User](),
		roles:    named.NewList[*model.Role](),
	}
}

// Load reads all directories and, if everything loads, replaces the
// registry content. On error the registry is unchanged.
func (r *Registry) Load(ctx context.Context, dirs Dirs) error {
	workers, err := model.LoadWorkers(ctx, dirs.Workers)
	if err != nil {
		return errors.Annotate(err, "loading workers").Err()
	}
	projects, err := model.LoadProjects(ctx, dirs.Projects)
	if err != nil {
		return errors.Annotate(err, "loading projects").Err()
	}
	users, err := model.LoadUsers(ctx, dirs.Users)
	if err != nil {
		return errors.Annotate(err, "loading users").Err()
	}
	var roles []*model.Role
	if dirs.Roles != "" {
		if roles, err = model.LoadRoles(ctx, dirs.Roles); err != nil {
			return errors.Annotate(err, "loading roles").Err()
		}
	}
	r.Replace(workers, projects, users, roles)
	logging.Infof(ctx, "Loaded %d workers, %d projects, %d users, %d roles",
		len(workers), len(projects), len(users), len(roles))
	return nil
}

// Replace swaps in new catalogs. Later entries win on duplicate names.
func (r *Registry) Replace(workers []*model.Worker, projects []*model.Project, users []*model.User, roles []*model.Role) {
	w := named.NewList(workers...)
	p := named.NewList(projects...)
	u := named.NewList(users...)
	ro := named.NewList(roles...)

	r.m.Lock()
	defer r.m.Unlock()
	r.workers, r.projects, r.users, r.roles = w, p, u, ro
}

// Worker returns a worker by name.
func (r *Registry) Worker(name string) (*model.Worker, bool) {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.workers.Get(name)
}

// Workers returns all workers.
func (r *Registry) Workers() []*model.Worker {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.workers.All()
}

// Project returns a project by name.
func (r *Registry) Project(name string) (*model.Project, bool) {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.projects.Get(name)
}

// Projects returns all projects.
func (r *Registry) Projects() []*model.Project {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.projects.All()
}

// Users returns all users.
func (r *Registry) Users() []*model.User {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.users.All()
}

// Roles returns all roles.
func (r *Registry) Roles() []*model.Role {
	r.m.RLock()
	defer r.m.RUnlock()
	return r.roles.All()
}
