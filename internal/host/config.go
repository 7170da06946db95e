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

// Package host defines the boundary between the inplace configuration layer
// and the CI master that runs builds.
//
// The configuration layer produces a Config (builders, schedulers, workers
// and web access rules) and hands it to a Host which validates and swaps it
// in. Builds run a list of Steps on a worker reached through a WorkerConn.
package host

import (
	"context"

	"go.chromium.org/inplace/internal/named"
)

// Config is the complete configuration of the master.
//
// It is always replaced as a whole. Hosts must never observe a partially
// populated Config.
type Config struct {
	Title       string
	TitleURL    string
	BuildbotURL string

	Builders      *named.List[*BuilderConfig]
	Schedulers    *named.List[*Scheduler]
	ChangeSources *named.List[*ChangeSource]
	Workers       *named.List[*WorkerAuth]

	WWW       WWW
	DB        DB
	Protocols map[string]Protocol
}

// NewConfig returns a Config with empty lists.
func NewConfig() *Config {
	return &Config{
		Builders:      named.NewList[*BuilderConfig](),
		Schedulers:    named.NewList[*Scheduler](),
		ChangeSources: named.NewList[*ChangeSource](),
		Workers:       named.NewList[*WorkerAuth](),
		Protocols:     map[string]Protocol{},
	}
}

// WWW is the web server configuration.
type WWW struct {
	Port  int
	Auth  *Auth
	Authz *Authz
	// ChangeHookDialects maps enabled dialect names to their options.
	ChangeHookDialects map[string]map[string]string
}

// DB is the state database configuration.
type DB struct {
	URL string
}

// Protocol is a worker protocol listener.
type Protocol struct {
	Port int
}

// WorkerAuth is what the master needs to know to accept a worker.
type WorkerAuth struct {
	Name     string
	Password string
}

// EntityName implements named.Entity.
func (w *WorkerAuth) EntityName() string { return w.Name }

// WorkerPolicy picks a worker for a pending build.
type WorkerPolicy interface {
	// NextWorker returns one of idle workers, or false to keep the build
	// pending until the set of idle workers changes.
	NextWorker(ctx context.Context, builder string, idle []string, props Properties) (string, bool)
}

// BuilderConfig describes a builder.
type BuilderConfig struct {
	Name        string
	WorkerNames []string
	Factory     BuildFactory
	// NextWorker, if set, chooses among idle workers of WorkerNames.
	NextWorker WorkerPolicy
	Tags       []string
}

// EntityName implements named.Entity.
func (b *BuilderConfig) EntityName() string { return b.Name }

// SchedulerKind is how a scheduler gets fired.
type SchedulerKind string

const (
	// ForceScheduler is fired by a user.
	ForceScheduler SchedulerKind = "force"
	// TriggerableScheduler is fired by another build.
	TriggerableScheduler SchedulerKind = "triggerable"
)

// Scheduler starts builds on its builders.
type Scheduler struct {
	Name         string
	Kind         SchedulerKind
	BuilderNames []string
	// Properties are default properties of builds started by the scheduler.
	Properties Properties
}

// EntityName implements named.Entity.
func (s *Scheduler) EntityName() string { return s.Name }

// ChangeSource routes repository change notifications to a scheduler.
type ChangeSource struct {
	Name      string
	RepoURL   string
	Branch    string
	Scheduler string
}

// EntityName implements named.Entity.
func (c *ChangeSource) EntityName() string { return c.Name }

// TriggerRequest asks a triggerable scheduler to start builds.
type TriggerRequest struct {
	Scheduler  string
	Properties Properties
}

// TriggerResult is the outcome of one build started by a trigger.
type TriggerResult struct {
	Scheduler string
	Builder   string
	BuildID   string
	Number    int
	Result    Result
	// Err is set if the build couldn't be started at all.
	Err error
}

// Host is a running master.
type Host interface {
	// Reconfigure validates the config and atomically makes it live.
	//
	// On error the previous config stays live.
	Reconfigure(ctx context.Context, cfg *Config) error

	// Trigger fires all schedulers together and blocks until every build
	// they started finishes.
	Trigger(ctx context.Context, reqs []TriggerRequest) []TriggerResult
}
