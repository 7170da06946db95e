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
	"net/url"

	"go.chromium.org/luci/config/validation"
)

// RepoMode is the checkout mode.
type RepoMode string

const (
	// RepoModeIncremental updates an existing checkout in place.
	RepoModeIncremental RepoMode = "incremental"
	// RepoModeFull wipes the checkout and clones it again.
	RepoModeFull RepoMode = "full"
)

// DefaultBranch is checked out when a project doesn't specify one.
const DefaultBranch = "master"

// DefaultGitHubAPI is the release host API endpoint.
const DefaultGitHubAPI = "https://api.github.com"

// Credential is a URL with a login that is stored in the git credential
// helper before a profile build checks out code.
type Credential struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Repo describes where the sources of a project live.
type Repo struct {
	Type        string
	URL         string
	Branch      string
	Mode        RepoMode
	User        string
	Password    string
	Credentials []Credential
}

// Redmine holds the issue tracker account used by deploy steps.
type Redmine struct {
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// GitHub holds the release host token used by deploy steps.
type GitHub struct {
	Token string `yaml:"token"`
	API   string `yaml:"api"`
}

// Project is a buildable repository.
type Project struct {
	Name    string
	Repo    Repo
	Redmine *Redmine
	GitHub  *GitHub
}

// EntityName implements named.Entity.
func (p *Project) EntityName() string { return p.Name }

type projectYAML struct {
	Name            string       `yaml:"name"`
	RepoType        string       `yaml:"repoType"`
	RepoURL         string       `yaml:"repoUrl"`
	RepoBranch      string       `yaml:"repoBranch"`
	RepoMode        string       `yaml:"repoMode"`
	RepoUser        string       `yaml:"repoUser"`
	RepoPassword    string       `yaml:"repoPassword"`
	RepoCredentials []Credential `yaml:"repoCredentials"`
	Redmine         *Redmine     `yaml:"redmine"`
	GitHub          *GitHub      `yaml:"github"`
}

func (y *projectYAML) toProject(ctx *validation.Context) *Project {
	if y.Name == "" {
		ctx.Errorf("name is required")
	}
	p := &Project{
		Name: y.Name,
		Repo: Repo{
			Type:        y.RepoType,
			URL:         y.RepoURL,
			Branch:      y.RepoBranch,
			Mode:        RepoMode(y.RepoMode),
			User:        y.RepoUser,
			Password:    y.RepoPassword,
			Credentials: y.RepoCredentials,
		},
		Redmine: y.Redmine,
		GitHub:  y.GitHub,
	}

	ctx.Enter("repo")
	switch p.Repo.Type {
	case "":
		p.Repo.Type = "git"
	case "git":
	default:
		ctx.Errorf("unsupported repoType %q", p.Repo.Type)
	}
	if p.Repo.URL == "" {
		ctx.Errorf("repoUrl is required")
	}
	if p.Repo.Branch == "" {
		p.Repo.Branch = DefaultBranch
	}
	switch p.Repo.Mode {
	case "":
		p.Repo.Mode = RepoModeIncremental
	case RepoModeIncremental, RepoModeFull:
	default:
		ctx.Errorf("unknown repoMode %q", p.Repo.Mode)
	}
	for i, c := range p.Repo.Credentials {
		if u, err := url.Parse(c.URL); err != nil || u.Host == "" {
			ctx.Errorf("repoCredentials[%d]: bad url %q", i, c.URL)
		}
	}
	ctx.Exit()

	if p.Redmine != nil {
		ctx.Enter("redmine")
		if p.Redmine.URL == "" {
			ctx.Errorf("url is required")
		}
		ctx.Exit()
	}
	if p.GitHub != nil {
		ctx.Enter("github")
		if p.GitHub.Token == "" {
			ctx.Errorf("token is required")
		}
		if p.GitHub.API == "" {
			p.GitHub.API = DefaultGitHubAPI
		}
		ctx.Exit()
	}
	return p
}
