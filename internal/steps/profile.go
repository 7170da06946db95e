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
	"bytes"
	"context"
	"net/http"
	"net/url"
	"strings"

	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/common/errors"

	"go.chromium.org/inplace/internal/host"
	"go.chromium.org/inplace/internal/manifest"
	"go.chromium.org/inplace/internal/model"
	"go.chromium.org/inplace/internal/setupenv"
	"go.chromium.org/inplace/internal/shell"
)

// Lookup resolves projects and workers by name.
type Lookup interface {
	Project(name string) (*model.Project, bool)
	Worker(name string) (*model.Worker, bool)
}

// credentialsFile is where the git credential store helper keeps logins.
const credentialsFile = ".git-credentials"

// ProfileBuild is the state of one profile build.
type ProfileBuild struct {
	lookup Lookup
	fixed  *model.Project
	hc     *http.Client

	project *model.Project
	worker  *model.Worker
	dialect *shell.Dialect
	env     *setupenv.Env
	// uploaded are master side paths of uploaded products by action.
	uploaded map[string][]string
	// failed are actions whose commands failed.
	failed stringset.Set
}

// NewProfileBuild returns the state of a new profile build. A nil project is
// resolved from the inplace_project build property.
//
// hc is used by deploy steps, nil means http.DefaultClient.
func NewProfileBuild(lookup Lookup, p *model.Project, hc *http.Client) *ProfileBuild {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &ProfileBuild{
		lookup:   lookup,
		fixed:    p,
		hc:       hc,
		uploaded: map[string][]string{},
		failed:   stringset.New(0),
	}
}

// Steps returns the steps of the profile build in order. More steps are
// added by ProfileSteps once the manifest is read.
func (pb *ProfileBuild) Steps() []host.Step {
	return []host.Step{
		pb.AuthenticateCheckout(),
		pb.Checkout(),
		pb.ProfileSteps(),
		pb.ClearAuthentication(),
	}
}

// bind resolves the project and the worker of the build.
func (pb *ProfileBuild) bind(sc *host.StepContext) error {
	if pb.project != nil {
		return nil
	}
	p := pb.fixed
	if p == nil {
		name, ok := sc.Build.Properties().String(host.PropProject)
		if !ok {
			return errors.Reason("no %q property", host.PropProject).Err()
		}
		if p, ok = pb.lookup.Project(name); !ok {
			return errors.Reason("unknown project %q", name).Err()
		}
	}
	w, ok := pb.lookup.Worker(sc.Build.WorkerName)
	if !ok {
		return errors.Reason("unknown worker %q", sc.Build.WorkerName).Err()
	}
	pb.project, pb.worker, pb.dialect = p, w, shell.For(w.Shell)
	pb.env = setupenv.New(pb.dialect.PathDelimiter)
	return nil
}

// Checkout updates the project checkout.
func (pb *ProfileBuild) Checkout() host.Step {
	return checkout(func(sc *host.StepContext) (*model.Project, error) {
		if err := pb.bind(sc); err != nil {
			return nil, err
		}
		return pb.project, nil
	})
}

// credentialURL embeds the login into the URL the way the git credential
// store expects it.
func credentialURL(c model.Credential) (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", errors.Annotate(err, "bad credential URL").Err()
	}
	u.User = url.UserPassword(c.User, c.Password)
	return u.String(), nil
}

// AuthenticateCheckout stores the project's repository credentials in the
// worker's git credential store.
func (pb *ProfileBuild) AuthenticateCheckout() host.Step {
	return &step{
		name: "authenticate checkout",
		opts: bookkeeping,
		run: func(ctx context.Context, sc *host.StepContext) (host.Result, error) {
			if err := pb.bind(sc); err != nil {
				return host.Failure, err
			}
			d := pb.dialect
			path := d.HomePath(credentialsFile)
			lines := []string{
				d.RemoveFile(path),
				"git config --global credential.helper store",
			}
			creds := pb.project.Repo.Credentials
			if len(creds) == 0 {
				lines = append(lines, d.Echo+" no credentials")
			}
			for _, c := range creds {
				u, err := credentialURL(c)
				if err != nil {
					return host.Failure, err
				}
				lines = append(lines, d.AppendLine(u, path))
			}
			code, err := runCommand(ctx, sc, d.Command(d.Join(lines...)), nil, nil)
			if err != nil {
				return host.Failure, err
			}
			if res := exitResult(sc, code); res != host.Success {
				return res, nil
			}
			sc.SetSummary("%d credentials", len(creds))
			return host.Success, nil
		},
	}
}

// ClearAuthentication removes what AuthenticateCheckout stored. It always
// runs.
func (pb *ProfileBuild) ClearAuthentication() host.Step {
	return &step{
		name: "clear authentication",
		opts: host.StepOptions{AlwaysRun: true, HideOnSuccess: true},
		run: func(ctx context.Context, sc *host.StepContext) (host.Result, error) {
			if err := pb.bind(sc); err != nil {
				return host.Failure, err
			}
			d := pb.dialect
			line := d.Join(
				d.RemoveFile(d.HomePath(credentialsFile)),
				"git config --global --remove-section credential",
			)
			code, err := runCommand(ctx, sc, d.Command(line), nil, nil)
			if err != nil {
				return host.Failure, err
			}
			if code != 0 {
				// git fails if the section is already gone.
				sc.SetSummary("exit code %d", code)
				return host.Warnings, nil
			}
			return host.Success, nil
		},
	}
}

// ProfileSteps reads the manifest of the checkout and adds the steps of the
// profile named by the inplace_profile property.
func (pb *ProfileBuild) ProfileSteps() host.Step {
	return &step{
		name: "profile steps",
		opts: bookkeeping,
		run: func(ctx context.Context, sc *host.StepContext) (host.Result, error) {
			if err := pb.bind(sc); err != nil {
				return host.Failure, err
			}
			m, res, err := readManifest(ctx, sc)
			if m == nil {
				return res, err
			}
			name, _ := sc.Build.Properties().String(host.PropProfile)
			prof := m.ProfileByName(name)
			if prof == nil {
				sc.SetSummary("unknown profile %q", name)
				return host.Failure, nil
			}

			var added []host.Step
			for _, setup := range prof.Setups {
				added = append(added, pb.Setup(setup))
			}
			for _, cmd := range m.CommandsFor(prof) {
				added = append(added, pb.actionSteps(cmd)...)
			}
			sc.AddSteps(added...)
			sc.SetSummary("profile %s: %d steps", prof.Name, len(added))
			return host.Success, nil
		},
	}
}

func (pb *ProfileBuild) actionSteps(cmd *manifest.ProfileCommand) []host.Step {
	var out []host.Step
	if len(cmd.Commands) == 1 {
		out = append(out, pb.ShellCommand(cmd.Name, cmd.Commands[0]))
	} else {
		out = append(out, pb.ShellSequence(cmd.Name, cmd.Commands))
	}
	if len(cmd.Products) > 0 {
		out = append(out, pb.UploadProducts(cmd.Name, cmd.Products))
	}
	if cmd.ProductsCommand != "" {
		out = append(out, pb.ProductsCommand(cmd.Name, cmd.ProductsCommand))
	}
	for _, d := range cmd.Deploys {
		switch d.Provider {
		case manifest.ProviderRedmine:
			out = append(out, pb.RedmineDeploy(cmd.Name, d.Redmine))
		case manifest.ProviderGitHub:
			out = append(out, pb.GitHubDeploy(cmd.Name, d.GitHub))
		}
	}
	return out
}

// Setup runs a setup script on the worker and merges the environment it
// produces into the build environment.
func (pb *ProfileBuild) Setup(setup string) host.Step {
	return &step{
		name: "setup " + setup,
		opts: host.StepOptions{HaltOnFailure: true},
		run: func(ctx context.Context, sc *host.StepContext) (host.Result, error) {
			if err := pb.bind(sc); err != nil {
				return host.Failure, err
			}
			var out bytes.Buffer
			args := pb.dialect.SetupCommand(pb.worker.SetupDir, setup)
			code, err := runCommand(ctx, sc, args, pb.env.Map(), &out)
			if err != nil {
				return host.Failure, err
			}
			if res := exitResult(sc, code); res != host.Success {
				return res, nil
			}
			before := pb.env.Len()
			pb.env.Parse(out.String())
			sc.SetSummary("%d variables (%d new)", pb.env.Len(), pb.env.Len()-before)
			return host.Success, nil
		},
	}
}

// ShellCommand runs a command line in the worker's shell with the build
// environment.
func (pb *ProfileBuild) ShellCommand(name, line string) host.Step {
	return pb.ShellSequence(name, []string{line})
}

// ShellSequence runs command lines one by one, stopping at the first
// failure. A failed action doesn't stop later actions, only its own
// products and deploy steps.
func (pb *ProfileBuild) ShellSequence(name string, lines []string) host.Step {
	return &step{
		name: name,
		run: func(ctx context.Context, sc *host.StepContext) (host.Result, error) {
			if err := pb.bind(sc); err != nil {
				return host.Failure, err
			}
			stdio := sc.Log("stdio")
			for i, line := range lines {
				if len(lines) > 1 {
					stdio.Addf("$ %s", line)
				}
				code, err := runCommand(ctx, sc, pb.dialect.Command(line), pb.env.Map(), nil)
				if err != nil {
					pb.failed.Add(name)
					return host.Failure, err
				}
				if code != 0 {
					pb.failed.Add(name)
					sc.SetSummary("command %d of %d: exit code %d", i+1, len(lines), code)
					return host.Failure, nil
				}
			}
			return host.Success, nil
		},
	}
}

// actionFailed skips a follow-up step of an action whose commands failed.
func (pb *ProfileBuild) actionFailed(sc *host.StepContext, action string) bool {
	if !pb.failed.Has(action) {
		return false
	}
	sc.SetSummary("%s failed", action)
	return true
}

// ProductsCommand runs a command printing product paths, one per line, and
// uploads them.
func (pb *ProfileBuild) ProductsCommand(action, line string) host.Step {
	return &step{
		name: action + " products command",
		run: func(ctx context.Context, sc *host.StepContext) (host.Result, error) {
			if err := pb.bind(sc); err != nil {
				return host.Failure, err
			}
			if pb.actionFailed(sc, action) {
				return host.Skipped, nil
			}
			var out bytes.Buffer
			code, err := runCommand(ctx, sc, pb.dialect.Command(line), pb.env.Map(), &out)
			if err != nil {
				return host.Failure, err
			}
			if res := exitResult(sc, code); res != host.Success {
				pb.failed.Add(action)
				return res, nil
			}
			var files []string
			for _, l := range strings.Split(out.String(), "\n") {
				if l = strings.TrimSpace(l); l != "" {
					files = append(files, l)
				}
			}
			sc.Build.SetProperty(host.PropProductFiles, files)
			sc.Log("product files").Addf("%s", strings.Join(files, "\n"))
			sc.SetSummary("%d product files", len(files))
			if len(files) > 0 {
				sc.AddSteps(pb.uploadProducts(action+" upload product files", action, files))
			}
			return host.Success, nil
		},
	}
}
