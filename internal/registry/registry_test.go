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

package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"

	"go.chromium.org/inplace/internal/model"
)

func write(t testing.TB, dir, name, body string) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	ftt.Run("Registry", t, func(t *ftt.Test) {
		ctx := context.Background()
		root := t.TempDir()
		dirs := Dirs{
			Workers:  filepath.Join(root, "workers"),
			Projects: filepath.Join(root, "projects"),
			Users:    filepath.Join(root, "users"),
		}
		write(t, dirs.Workers, "w1.yml", "name: w1\npassword: p\nplatforms: [linux]\n")
		write(t, dirs.Projects, "p.yml", "name: proj\nrepoUrl: https://example.com/p.git\n")
		write(t, dirs.Users, "u.yml", "users:\n- name: alice\n")

		r := New()

		t.Run("Load", func(t *ftt.Test) {
			assert.Loosely(t, r.Load(ctx, dirs), should.BeNil)
			w, ok := r.Worker("w1")
			assert.Loosely(t, ok, should.BeTrue)
			assert.Loosely(t, w.Platforms.Has("linux"), should.BeTrue)
			assert.Loosely(t, r.Projects(), should.HaveLength(1))
			assert.Loosely(t, r.Users(), should.HaveLength(1))
			assert.Loosely(t, r.Roles(), should.HaveLength(0))
		})

		t.Run("Failed reload keeps the old state", func(t *ftt.Test) {
			assert.Loosely(t, r.Load(ctx, dirs), should.BeNil)
			write(t, dirs.Workers, "w2.yml", "name: w2\npassword: p\n")
			write(t, dirs.Projects, "bad.yml", "name: bad\n")
			err := r.Load(ctx, dirs)
			assert.Loosely(t, err, should.ErrLike("loading projects"))
			_, ok := r.Worker("w2")
			assert.Loosely(t, ok, should.BeFalse)
			assert.Loosely(t, r.Workers(), should.HaveLength(1))
		})

		t.Run("Missing roles directory content", func(t *ftt.Test) {
			dirs.Roles = filepath.Join(root, "roles")
			assert.Loosely(t, r.Load(ctx, dirs), should.ErrLike("No roles found in"))
		})

		t.Run("Replace dedups by name", func(t *ftt.Test) {
			r.Replace([]*model.Worker{{Name: "a", Password: "1"}, {Name: "a", Password: "2"}}, nil, nil, nil)
			ws := r.Workers()
			assert.Loosely(t, ws, should.HaveLength(1))
			assert.Loosely(t, ws[0].Password, should.Equal("2"))
		})
	})
}
