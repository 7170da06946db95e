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

// Package manifest parses the per-repository build manifest (.buildbot.yml).
//
// A manifest has two lists. Profiles name a platform, the setups a worker
// must provide and a command key. Actions map command keys to the commands
// to run for profiles using that key:
//
//	profiles:
//	- name: release
//	  platform: linux
//	  commands: build
//	  setup: [gcc490]
//	actions:
//	- name: compile
//	  build: ["make release"]
package manifest

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v2"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/config/validation"
)

// FileName is where the manifest lives in the repository.
const FileName = ".buildbot.yml"

// InvalidError is returned by Parse if the manifest can't be used.
type InvalidError struct {
	// Text is the raw parser or validation error text.
	Text string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("%s is invalid:\n%s", FileName, e.Text)
}

// IsInvalid is true if err is (or wraps) an *InvalidError.
func IsInvalid(err error) bool {
	var ie *InvalidError
	return errors.As(err, &ie)
}

// Profile is a platform + setups + command key combination.
type Profile struct {
	Name       string
	Platform   string
	CommandKey string
	Setups     []string
}

// Action is a named build step whose commands vary per command key.
type Action struct {
	Name string
	// Keys are command keys in declaration order.
	Keys    []string
	Entries map[string]*Entry
}

// Entry is what an action does for one command key.
type Entry struct {
	Commands        []string
	Products        []string
	ProductsCommand string
	Deploys         []*Deploy
}

// ProfileCommand is an action resolved for a particular profile.
type ProfileCommand struct {
	Name            string
	Commands        []string
	Products        []string
	ProductsCommand string
	Deploys         []*Deploy
}

// Manifest is a parsed .buildbot.yml.
type Manifest struct {
	Profiles []*Profile
	Actions  []*Action
}

// ProfileByName returns the profile with the given name or nil.
func (m *Manifest) ProfileByName(name string) *Profile {
	for _, p := range m.Profiles {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// CommandsFor returns commands of all actions that have a non-empty entry
// for the profile's command key, in action declaration order.
func (m *Manifest) CommandsFor(p *Profile) []*ProfileCommand {
	var out []*ProfileCommand
	for _, a := range m.Actions {
		e := a.Entries[p.CommandKey]
		if e == nil || len(e.Commands) == 0 {
			continue
		}
		out = append(out, &ProfileCommand{
			Name:            a.Name,
			Commands:        e.Commands,
			Products:        e.Products,
			ProductsCommand: e.ProductsCommand,
			Deploys:         e.Deploys,
		})
	}
	return out
}

// Platforms returns the platform of every profile, in profile order.
func (m *Manifest) Platforms() []string {
	out := make([]string, len(m.Profiles))
	for i, p := range m.Profiles {
		out[i] = p.Platform
	}
	return out
}

// Parse parses and validates manifest text.
func Parse(text []byte) (*Manifest, error) {
	var top any
	if err := yaml.Unmarshal(text, &top); err != nil {
		return nil, &InvalidError{Text: err.Error()}
	}
	if _, ok := top.(map[any]any); !ok {
		return nil, &InvalidError{Text: "the top level must be a mapping"}
	}

	var raw manifestYAML
	if err := yaml.Unmarshal(text, &raw); err != nil {
		return nil, &InvalidError{Text: err.Error()}
	}

	vctx := &validation.Context{Context: context.Background()}
	vctx.SetFile(FileName)
	m := &Manifest{}
	seen := map[string]bool{}
	for i, p := range raw.Profiles {
		vctx.Enter("profiles[%d]", i)
		prof := p.toProfile(vctx)
		if prof.Name != "" {
			if seen[prof.Name] {
				vctx.Errorf("duplicate profile %q", prof.Name)
			}
			seen[prof.Name] = true
		}
		m.Profiles = append(m.Profiles, prof)
		vctx.Exit()
	}
	for i, a := range raw.Actions {
		vctx.Enter("actions[%d]", i)
		m.Actions = append(m.Actions, parseAction(vctx, a))
		vctx.Exit()
	}
	if err := vctx.Finalize(); err != nil {
		return nil, &InvalidError{Text: err.Error()}
	}
	return m, nil
}

type manifestYAML struct {
	Profiles []profileYAML   `yaml:"profiles"`
	Actions  []yaml.MapSlice `yaml:"actions"`
}

type profileYAML struct {
	Name     string     `yaml:"name"`
	Platform string     `yaml:"platform"`
	Commands string     `yaml:"commands"`
	Setup    stringList `yaml:"setup"`
	Setups   stringList `yaml:"setups"`
}

func (p *profileYAML) toProfile(vctx *validation.Context) *Profile {
	if p.Name == "" {
		vctx.Errorf("name is required")
	}
	if p.Platform == "" {
		vctx.Errorf("platform is required")
	}
	if p.Commands == "" {
		vctx.Errorf("commands is required")
	}
	return &Profile{
		Name:       p.Name,
		Platform:   p.Platform,
		CommandKey: p.Commands,
		Setups:     append(append([]string(nil), p.Setup...), p.Setups...),
	}
}

// stringList accepts either a single scalar or a list of scalars.
type stringList []string

func (s *stringList) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	out, err := toStrings(raw)
	if err != nil {
		return err
	}
	*s = out
	return nil
}

func toStrings(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{v}, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			switch item.(type) {
			case map[any]any, []any, nil:
				return nil, errors.Reason("expecting a string, got %v", item).Err()
			}
			out = append(out, fmt.Sprint(item))
		}
		return out, nil
	case map[any]any:
		return nil, errors.Reason("expecting a string or a list of strings, got a mapping").Err()
	default:
		return []string{fmt.Sprint(v)}, nil
	}
}
