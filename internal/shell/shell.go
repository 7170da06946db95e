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

// Package shell builds command lines for the shell of a worker.
package shell

import (
	"strings"

	"go.chromium.org/inplace/internal/model"
)

// Dialect knows how to express things in a particular shell.
type Dialect struct {
	Shell            model.Shell
	PathDelimiter    string
	DirSeparator     string
	CommandDelimiter string
	// Start runs a command line in the shell.
	Start        []string
	EnvCommand   string
	ScriptPrefix string
	ScriptSuffix string
	Echo         string
	// Home expands to the user's home directory.
	Home string
}

var (
	// POSIX is bash.
	POSIX = &Dialect{
		Shell:            model.ShellPOSIX,
		PathDelimiter:    ":",
		DirSeparator:     "/",
		CommandDelimiter: ";",
		Start:            []string{"bash", "-c"},
		EnvCommand:       "env",
		ScriptPrefix:     ". ",
		ScriptSuffix:     ".sh",
		Echo:             "echo",
		Home:             "$HOME",
	}

	// Windows is cmd.exe.
	Windows = &Dialect{
		Shell:            model.ShellWindows,
		PathDelimiter:    ";",
		DirSeparator:     `\`,
		CommandDelimiter: "&",
		Start:            []string{"cmd", "/c"},
		EnvCommand:       "set",
		ScriptPrefix:     "",
		ScriptSuffix:     ".bat",
		Echo:             "echo",
		Home:             "%USERPROFILE%",
	}
)

// For returns the dialect of the shell, falling back to POSIX.
func For(s model.Shell) *Dialect {
	if s == model.ShellWindows {
		return Windows
	}
	return POSIX
}

// Command wraps a command line to run it in the shell.
func (d *Dialect) Command(line string) []string {
	return append(append([]string(nil), d.Start...), line)
}

// Join chains command lines.
func (d *Dialect) Join(lines ...string) string {
	return strings.Join(lines, d.CommandDelimiter)
}

// HomePath returns a path under the home directory.
func (d *Dialect) HomePath(elem ...string) string {
	return strings.Join(append([]string{d.Home}, elem...), d.DirSeparator)
}

// SetupCommand sources the setup script and dumps the resulting
// environment.
func (d *Dialect) SetupCommand(setupDir, setup string) []string {
	script := d.ScriptPrefix + setupDir + setup + d.ScriptSuffix
	return d.Command(d.Join(script, d.EnvCommand))
}

// Quote quotes a single argument.
func (d *Dialect) Quote(s string) string {
	if d == Windows {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// quoteExpanding quotes a path that may start with the home variable.
func (d *Dialect) quoteExpanding(path string) string {
	return `"` + path + `"`
}

// RemoveFile deletes a file, succeeding if it doesn't exist. The result
// can be chained with Join.
func (d *Dialect) RemoveFile(path string) string {
	p := d.quoteExpanding(path)
	if d == Windows {
		// Without parentheses cmd makes the rest of the line part of the if.
		return "(if exist " + p + " del /q " + p + ")"
	}
	return "rm -f " + p
}

var cmdEscaper = strings.NewReplacer(
	"^", "^^",
	"&", "^&",
	"|", "^|",
	"<", "^<",
	">", "^>",
	"(", "^(",
	")", "^)",
)

// AppendLine appends a line of text to a file.
func (d *Dialect) AppendLine(line, path string) string {
	if d == Windows {
		// The redirection goes first so a trailing digit of the line isn't
		// taken for a handle number.
		return ">>" + d.quoteExpanding(path) + " echo " + cmdEscaper.Replace(line)
	}
	return "printf '%s\\n' " + d.Quote(line) + " >> " + d.quoteExpanding(path)
}
