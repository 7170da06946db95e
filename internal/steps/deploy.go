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

package steps

import (
	"context"
	"os"

	"github.com/dustin/go-humanize"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"go.chromium.org/inplace/internal/deploy/github"
	"go.chromium.org/inplace/internal/deploy/redmine"
	"go.chromium.org/inplace/internal/host"
	"go.chromium.org/inplace/internal/manifest"
	"go.chromium.org/inplace/internal/metrics"
)

// RedmineDeploy uploads the action's products to the files section of a
// Redmine project. Files that are already there are left alone.
func (pb *ProfileBuild) RedmineDeploy(action string, d *manifest.RedmineDeploy) host.Step {
	return &step{
		name: action + " redmine deploy",
		run: func(ctx context.Context, sc *host.StepContext) (host.Result, error) {
			if err := pb.bind(sc); err != nil {
				return host.Failure, err
			}
			if pb.actionFailed(sc, action) {
				return host.Skipped, nil
			}
			acc := pb.project.Redmine
			if acc == nil {
				return host.Failure, errors.Reason("project %q has no redmine account", pb.project.Name).Err()
			}
			files := pb.uploaded[action]
			if len(files) == 0 {
				sc.SetSummary("nothing to deploy")
				return host.Skipped, nil
			}

			c := redmine.NewClient(acc.URL, acc.User, acc.Password, pb.hc)
			versionID := d.VersionID
			if d.Version != "" {
				id, err := c.VersionID(ctx, d.Project, d.Version)
				if err != nil {
					return host.Failure, err
				}
				versionID = id
			}

			l := sc.Log("deploy")
			uploaded := 0
			for _, path := range files {
				name := d.FileName(path, sc.Build.Number)
				exists, err := c.FileExists(ctx, d.Project, name)
				if err != nil {
					metrics.Uploads.Add(ctx, 1, string(manifest.ProviderRedmine), "failed")
					return host.Failure, err
				}
				if exists {
					l.Addf("%s already exists, skipping", name)
					metrics.Uploads.Add(ctx, 1, string(manifest.ProviderRedmine), "skipped")
					continue
				}
				size, err := redmineUpload(ctx, c, d, path, name, versionID)
				if err != nil {
					metrics.Uploads.Add(ctx, 1, string(manifest.ProviderRedmine), "failed")
					return host.Failure, err
				}
				l.Addf("uploaded %s (%s)", name, humanize.Bytes(uint64(size)))
				metrics.Uploads.Add(ctx, 1, string(manifest.ProviderRedmine), "ok")
				uploaded++
			}
			if uploaded == 0 {
				sc.SetSummary("all files already deployed")
				return host.Skipped, nil
			}
			logging.Infof(ctx, "Deployed %d files to redmine project %q", uploaded, d.Project)
			sc.SetSummary("%d files deployed to %s", uploaded, d.Project)
			return host.Success, nil
		},
	}
}

func redmineUpload(ctx context.Context, c *redmine.Client, d *manifest.RedmineDeploy, path, name string, versionID int) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Annotate(err, "opening product").Err()
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return 0, errors.Annotate(err, "opening product").Err()
	}
	token, err := c.Upload(ctx, f)
	if err != nil {
		return 0, err
	}
	err = c.AttachFile(ctx, d.Project, redmine.NewFile{
		Token:       token,
		Filename:    name,
		VersionID:   versionID,
		Description: d.Description,
	})
	return st.Size(), err
}

// GitHubDeploy creates a release and uploads the action's products as its
// assets.
func (pb *ProfileBuild) GitHubDeploy(action string, d *manifest.GitHubDeploy) host.Step {
	return &step{
		name: action + " github deploy",
		run: func(ctx context.Context, sc *host.StepContext) (host.Result, error) {
			if err := pb.bind(sc); err != nil {
				return host.Failure, err
			}
			if pb.actionFailed(sc, action) {
				return host.Skipped, nil
			}
			acc := pb.project.GitHub
			if acc == nil || acc.Token == "" {
				return host.Failure, errors.Reason("project %q has no github token", pb.project.Name).Err()
			}
			files := pb.uploaded[action]
			if len(files) == 0 {
				sc.SetSummary("nothing to deploy")
				return host.Skipped, nil
			}

			c := github.NewClient(ctx, acc.API, acc.Token, pb.hc)
			rel := d.ReleaseFor(sc.Build.Number)
			created, err := c.CreateRelease(ctx, d.Owner, d.Repo, rel)
			if err != nil {
				metrics.Uploads.Add(ctx, int64(len(files)), string(manifest.ProviderGitHub), "failed")
				return host.Failure, err
			}
			l := sc.Log("deploy")
			l.Addf("created release %s %s", rel.TagName, created.HTMLURL)
			for _, path := range files {
				size, err := githubUpload(ctx, c, created.UploadURL, path)
				if err != nil {
					metrics.Uploads.Add(ctx, 1, string(manifest.ProviderGitHub), "failed")
					return host.Failure, err
				}
				l.Addf("uploaded %s (%s)", manifest.BaseName(path), humanize.Bytes(uint64(size)))
				metrics.Uploads.Add(ctx, 1, string(manifest.ProviderGitHub), "ok")
			}
			sc.SetSummary("release %s: %d assets", rel.TagName, len(files))
			return host.Success, nil
		},
	}
}

func githubUpload(ctx context.Context, c *github.Client, uploadURL, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Annotate(err, "opening product").Err()
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return 0, errors.Annotate(err, "opening product").Err()
	}
	if _, err := c.UploadAsset(ctx, uploadURL, manifest.BaseName(path), f, st.Size()); err != nil {
		return 0, err
	}
	return st.Size(), nil
}
