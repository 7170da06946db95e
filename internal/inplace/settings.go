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

package inplace

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/config/validation"

	"go.chromium.org/inplace/internal/registry"
)

// Settings are the service settings, usually read from inplace.yml.
type Settings struct {
	Title       string `yaml:"title"`
	TitleURL    string `yaml:"titleURL"`
	BuildbotURL string `yaml:"buildbotURL"`

	// Port is the web server port.
	Port int `yaml:"port"`
	// PBPort is the worker protocol port.
	PBPort int    `yaml:"pbPort"`
	DBURL  string `yaml:"dbURL"`

	WorkersDir  string `yaml:"workersDir"`
	ProjectsDir string `yaml:"projectsDir"`
	UsersDir    string `yaml:"usersDir"`
	// RolesDir is optional.
	RolesDir    string `yaml:"rolesDir"`
	ProductsDir string `yaml:"productsDir"`
	// WorkDir holds build directories of local workers.
	WorkDir string `yaml:"workDir"`

	ChangeHookDialects map[string]map[string]string `yaml:"changeHookDialects"`
}

// DefaultSettings returns settings used for keys absent from the file.
func DefaultSettings() *Settings {
	return &Settings{
		Title:       "Inplace",
		BuildbotURL: "http://localhost:8010/",
		Port:        8010,
		PBPort:      9989,
		DBURL:       "sqlite:///state.sqlite",
		WorkersDir:  "workers",
		ProjectsDir: "projects",
		UsersDir:    "users",
		ProductsDir: "products",
		WorkDir:     "work",
		ChangeHookDialects: map[string]map[string]string{
			"base": {},
		},
	}
}

// LoadSettings reads settings from a YAML file. Relative directories are
// resolved against the directory of the file, "~/" against the home
// directory.
func LoadSettings(ctx context.Context, path string) (*Settings, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotate(err, "reading settings").Err()
	}
	s := DefaultSettings()
	if err := yaml.UnmarshalStrict(blob, s); err != nil {
		return nil, errors.Annotate(err, "parsing %s", path).Err()
	}
	if err := s.resolve(filepath.Dir(path)); err != nil {
		return nil, err
	}

	vctx := &validation.Context{Context: ctx}
	vctx.SetFile(path)
	s.validate(vctx)
	if err := vctx.Finalize(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) resolve(base string) error {
	for _, dir := range []*string{&s.WorkersDir, &s.ProjectsDir, &s.UsersDir, &s.RolesDir, &s.ProductsDir, &s.WorkDir} {
		switch {
		case *dir == "" || filepath.IsAbs(*dir):
		case strings.HasPrefix(*dir, "~"):
			expanded, err := homedir.Expand(*dir)
			if err != nil {
				return errors.Annotate(err, "resolving %s", *dir).Err()
			}
			*dir = expanded
		default:
			*dir = filepath.Join(base, *dir)
		}
	}
	return nil
}

func (s *Settings) validate(vctx *validation.Context) {
	for name, port := range map[string]int{"port": s.Port, "pbPort": s.PBPort} {
		if port <= 0 || port > 65535 {
			vctx.Errorf("%s: bad port %d", name, port)
		}
	}
	for name, dir := range map[string]string{
		"workersDir":  s.WorkersDir,
		"projectsDir": s.ProjectsDir,
		"usersDir":    s.UsersDir,
		"productsDir": s.ProductsDir,
	} {
		if dir == "" {
			vctx.Errorf("%s is required", name)
		}
	}
}

// Dirs are the registry directories.
func (s *Settings) Dirs() registry.Dirs {
	return registry.Dirs{
		Workers:  s.WorkersDir,
		Projects: s.ProjectsDir,
		Users:    s.UsersDir,
		Roles:    s.RolesDir,
	}
}
