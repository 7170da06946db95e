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
	"path/filepath"
	"strconv"
	"strings"

	"go.chromium.org/luci/config/validation"
)

// Provider identifies where a deploy directive uploads products to.
type Provider string

const (
	// ProviderRedmine uploads products as files of a Redmine project.
	ProviderRedmine Provider = "redmine"
	// ProviderGitHub creates a GitHub release and attaches products to it.
	ProviderGitHub Provider = "github"
)

// Deploy is a single deploy directive of an action entry.
//
// Exactly one of the provider specific fields is set, matching Provider.
type Deploy struct {
	Provider Provider
	Redmine  *RedmineDeploy
	GitHub   *GitHubDeploy
}

// RedmineDeploy uploads products to the files section of a Redmine project.
type RedmineDeploy struct {
	// Project is the Redmine project identifier.
	Project string `yaml:"project"`
	// VersionID attaches files to the given version.
	VersionID int `yaml:"version_id"`
	// Version is a version name resolved to an ID at upload time.
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
	// AppendBuildNumber defaults to true.
	AppendBuildNumber *bool `yaml:"append_buildnumber"`
	// Filename is a template with {base}, {ext} and {buildnumber}.
	Filename string `yaml:"filename"`
}

func (d *RedmineDeploy) validate(vctx *validation.Context) {
	if d.Project == "" {
		vctx.Errorf("project is required")
	}
	if d.VersionID != 0 && d.Version != "" {
		vctx.Errorf("version_id and version are mutually exclusive")
	}
	if d.Filename != "" && !strings.Contains(d.Filename, "{base}") {
		vctx.Errorf("filename template must contain {base}")
	}
}

// AppendsBuildNumber reports whether uploaded names carry the build number.
func (d *RedmineDeploy) AppendsBuildNumber() bool {
	return d.AppendBuildNumber == nil || *d.AppendBuildNumber
}

// FileName returns the name a product is uploaded under.
func (d *RedmineDeploy) FileName(product string, buildNumber int) string {
	tmpl := d.Filename
	if tmpl == "" {
		tmpl = "{base}{ext}"
		if d.AppendsBuildNumber() {
			tmpl = "{base}-{buildnumber}{ext}"
		}
	}
	name := BaseName(product)
	ext := filepath.Ext(name)
	return strings.NewReplacer(
		"{base}", strings.TrimSuffix(name, ext),
		"{ext}", ext,
		"{buildnumber}", strconv.Itoa(buildNumber),
	).Replace(tmpl)
}

// BaseName returns the last element of a product path using either
// separator, since products may come from Windows workers.
func BaseName(product string) string {
	return product[strings.LastIndexAny(product, `/\`)+1:]
}

// GitHubDeploy creates a release in owner/repo and uploads products as its
// assets.
type GitHubDeploy struct {
	Owner   string  `yaml:"owner"`
	Repo    string  `yaml:"repo"`
	Release Release `yaml:"release"`
}

// Release is the body of the release creation request.
type Release struct {
	TagName         string `yaml:"tag_name" json:"tag_name"`
	TargetCommitish string `yaml:"target_commitish" json:"target_commitish,omitempty"`
	Name            string `yaml:"name" json:"name,omitempty"`
	Body            string `yaml:"body" json:"body,omitempty"`
	Draft           bool   `yaml:"draft" json:"draft"`
	Prerelease      bool   `yaml:"prerelease" json:"prerelease"`
}

func (d *GitHubDeploy) validate(vctx *validation.Context) {
	if d.Owner == "" {
		vctx.Errorf("owner is required")
	}
	if d.Repo == "" {
		vctx.Errorf("repo is required")
	}
	if d.Release.TagName == "" {
		vctx.Errorf("release.tag_name is required")
	}
}

// ReleaseFor returns the release with {buildnumber} expanded.
func (d *GitHubDeploy) ReleaseFor(buildNumber int) Release {
	r := strings.NewReplacer("{buildnumber}", strconv.Itoa(buildNumber))
	rel := d.Release
	rel.TagName = r.Replace(rel.TagName)
	rel.Name = r.Replace(rel.Name)
	return rel
}
