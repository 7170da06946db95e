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

// Package model defines the declarative records read from the worker,
// project, user and role directories.
package model

import (
	"strings"

	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/config/validation"
)

// Shell identifies the command interpreter of a worker.
type Shell string

const (
	// ShellPOSIX is a bash compatible shell.
	ShellPOSIX Shell = "bash"
	// ShellWindows is cmd.exe.
	ShellWindows Shell = "cmd"
)

// Worker is a registered build worker.
type Worker struct {
	Name      string
	Password  string
	Shell     Shell
	SetupDir  string
	Platforms stringset.Set
	Setups    stringset.Set
}

// EntityName implements named.Entity.
func (w *Worker) EntityName() string { return w.Name }

// Credential is the auth-only projection of the worker handed to the host.
func (w *Worker) Credential() (name, password string) {
	return w.Name, w.Password
}

type workerYAML struct {
	Name      string   `yaml:"name"`
	Password  string   `yaml:"password"`
	Shell     string   `yaml:"shell"`
	SetupDir  string   `yaml:"setupDir"`
	Platforms []string `yaml:"platforms"`
	Setups    []string `yaml:"setups"`
}

// NormalizeSetupDir converts backslashes to forward slashes and makes sure
// the path ends with a slash.
func NormalizeSetupDir(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

func (y *workerYAML) toWorker(ctx *validation.Context) *Worker {
	if y.Name == "" {
		ctx.Errorf("name is required")
	}
	if y.Password == "" {
		ctx.Errorf("password is required")
	}
	shell := Shell(y.Shell)
	switch shell {
	case "":
		shell = ShellPOSIX
	case ShellPOSIX, ShellWindows:
	default:
		ctx.Errorf("unknown shell %q, expecting %q or %q", y.Shell, ShellPOSIX, ShellWindows)
	}
	w := &Worker{
		Name:      y.Name,
		Password:  y.Password,
		Shell:     shell,
		Platforms: stringset.NewFromSlice(y.Platforms...),
		Setups:    stringset.NewFromSlice(y.Setups...),
	}
	if y.SetupDir != "" {
		w.SetupDir = NormalizeSetupDir(y.SetupDir)
	}
	return w
}
