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

package manifest

import (
	"gopkg.in/yaml.v2"

	"go.chromium.org/luci/config/validation"
)

type entryYAML struct {
	Commands        stringList     `yaml:"commands"`
	Products        stringList     `yaml:"products"`
	ProductsCommand string         `yaml:"products_command"`
	RedmineDeploy   *RedmineDeploy `yaml:"redmine_deploy"`
	GitHubDeploy    *GitHubDeploy  `yaml:"github_deploy"`
}

func parseAction(vctx *validation.Context, raw yaml.MapSlice) *Action {
	a := &Action{Entries: map[string]*Entry{}}
	for _, kv := range raw {
		key, ok := kv.Key.(string)
		if !ok {
			vctx.Errorf("keys must be strings, got %v", kv.Key)
			continue
		}
		if key == "name" {
			name, ok := kv.Value.(string)
			if !ok || name == "" {
				vctx.Errorf("name must be a non-empty string")
			}
			a.Name = name
			continue
		}
		vctx.Enter("%s", key)
		if e := parseEntry(vctx, kv.Value); e != nil {
			a.Keys = append(a.Keys, key)
			a.Entries[key] = e
		}
		vctx.Exit()
	}
	if !hasKey(raw, "name") {
		vctx.Errorf("name is required")
	}
	return a
}

func hasKey(raw yaml.MapSlice, key string) bool {
	for _, kv := range raw {
		if kv.Key == key {
			return true
		}
	}
	return false
}

func parseEntry(vctx *validation.Context, raw any) *Entry {
	if block, ok := raw.(yaml.MapSlice); ok {
		blob, err := yaml.Marshal(block)
		if err != nil {
			vctx.Errorf("%s", err)
			return nil
		}
		var y entryYAML
		if err := yaml.UnmarshalStrict(blob, &y); err != nil {
			vctx.Errorf("%s", err)
			return nil
		}
		e := &Entry{
			Commands:        y.Commands,
			Products:        y.Products,
			ProductsCommand: y.ProductsCommand,
		}
		if y.RedmineDeploy != nil {
			vctx.Enter("redmine_deploy")
			y.RedmineDeploy.validate(vctx)
			vctx.Exit()
			e.Deploys = append(e.Deploys, &Deploy{Provider: ProviderRedmine, Redmine: y.RedmineDeploy})
		}
		if y.GitHubDeploy != nil {
			vctx.Enter("github_deploy")
			y.GitHubDeploy.validate(vctx)
			vctx.Exit()
			e.Deploys = append(e.Deploys, &Deploy{Provider: ProviderGitHub, GitHub: y.GitHubDeploy})
		}
		return e
	}
	cmds, err := toStrings(normalize(raw))
	if err != nil {
		vctx.Errorf("%s", err)
		return nil
	}
	return &Entry{Commands: cmds}
}

// normalize converts MapSlice values produced by decoding into MapSlice
// back to plain maps so toStrings can reject them.
func normalize(raw any) any {
	switch v := raw.(type) {
	case yaml.MapSlice:
		return map[any]any{}
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalize(item)
		}
		return out
	default:
		return v
	}
}
