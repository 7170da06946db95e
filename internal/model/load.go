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
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/config/validation"
)

// listFiles returns YAML files in the directory, sorted by name.
//
// An empty directory is an error: running with no workers or no projects is
// always a deployment mistake.
func listFiles(dir, kind string) ([]string, error) {
	var files []string
	for _, pat := range []string{"*.yml", "*.yaml"} {
		m, err := filepath.Glob(filepath.Join(dir, pat))
		if err != nil {
			return nil, errors.Annotate(err, "listing %s", dir).Err()
		}
		files = append(files, m...)
	}
	if len(files) == 0 {
		return nil, errors.Reason("No %s found in '%s'", kind, dir).Err()
	}
	sort.Strings(files)
	return files, nil
}

// readMapping reads a YAML file and returns its content if the top level is
// a mapping. Files with anything else at the top level are ignored.
func readMapping(ctx context.Context, path string) ([]byte, bool, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, false, errors.Annotate(err, "reading %s", path).Err()
	}
	var top any
	if err := yaml.Unmarshal(blob, &top); err != nil {
		return nil, false, errors.Annotate(err, "parsing %s", path).Err()
	}
	if _, ok := top.(map[any]any); !ok {
		logging.Debugf(ctx, "Skipping %s: not a YAML mapping", path)
		return nil, false, nil
	}
	return blob, true, nil
}

// loadEach calls cb for every mapping file of the directory and finalizes
// the validation context.
func loadEach(ctx context.Context, dir, kind string, cb func(vctx *validation.Context, path string, blob []byte) error) error {
	files, err := listFiles(dir, kind)
	if err != nil {
		return err
	}
	vctx := &validation.Context{Context: ctx}
	for _, path := range files {
		blob, ok, err := readMapping(ctx, path)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		vctx.SetFile(path)
		if err := cb(vctx, path, blob); err != nil {
			return err
		}
	}
	return vctx.Finalize()
}

// LoadWorkers loads one worker per YAML file in the directory.
func LoadWorkers(ctx context.Context, dir string) ([]*Worker, error) {
	var out []*Worker
	err := loadEach(ctx, dir, "workers", func(vctx *validation.Context, path string, blob []byte) error {
		var y workerYAML
		if err := yaml.Unmarshal(blob, &y); err != nil {
			return errors.Annotate(err, "decoding %s", path).Err()
		}
		w := y.toWorker(vctx)
		if w.Platforms.Len() == 0 {
			logging.Warningf(ctx, "Worker %q has no platforms and will never be eligible", w.Name)
		}
		logging.Infof(ctx, "Registered worker %q on %s with setups %s",
			w.Name, strings.Join(w.Platforms.ToSortedSlice(), ", "), strings.Join(w.Setups.ToSortedSlice(), ", "))
		out = append(out, w)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LoadProjects loads one project per YAML file in the directory.
func LoadProjects(ctx context.Context, dir string) ([]*Project, error) {
	var out []*Project
	err := loadEach(ctx, dir, "projects", func(vctx *validation.Context, path string, blob []byte) error {
		var y projectYAML
		if err := yaml.Unmarshal(blob, &y); err != nil {
			return errors.Annotate(err, "decoding %s", path).Err()
		}
		out = append(out, y.toProject(vctx))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LoadUsers loads the "users" list of every YAML file in the directory.
func LoadUsers(ctx context.Context, dir string) ([]*User, error) {
	var out []*User
	err := loadEach(ctx, dir, "users", func(vctx *validation.Context, path string, blob []byte) error {
		var y usersYAML
		if err := yaml.Unmarshal(blob, &y); err != nil {
			return errors.Annotate(err, "decoding %s", path).Err()
		}
		if y.Users == nil {
			vctx.Errorf("no users configured")
			return nil
		}
		for i, u := range y.Users {
			if u == nil {
				continue
			}
			vctx.Enter("users[%d]", i)
			validateUser(vctx, u)
			vctx.Exit()
			out = append(out, u)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LoadRoles loads the "roles" list of every YAML file in the directory.
func LoadRoles(ctx context.Context, dir string) ([]*Role, error) {
	var out []*Role
	err := loadEach(ctx, dir, "roles", func(vctx *validation.Context, path string, blob []byte) error {
		var y rolesYAML
		if err := yaml.Unmarshal(blob, &y); err != nil {
			return errors.Annotate(err, "decoding %s", path).Err()
		}
		if y.Roles == nil {
			vctx.Errorf("no roles configured")
			return nil
		}
		for i, r := range y.Roles {
			if r == nil {
				continue
			}
			vctx.Enter("roles[%d]", i)
			validateRole(vctx, r)
			vctx.Exit()
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
