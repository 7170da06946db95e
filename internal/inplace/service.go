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

// Package inplace wires registries, the reconfiguration engine and build
// factories to a host.
package inplace

import (
	"context"
	"net/http"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"

	"go.chromium.org/inplace/internal/authz"
	"go.chromium.org/inplace/internal/factory"
	"go.chromium.org/inplace/internal/host"
	"go.chromium.org/inplace/internal/reconfig"
	"go.chromium.org/inplace/internal/registry"
)

// Service is the inplace configuration layer of a host.
type Service struct {
	Settings *Settings
	Registry *registry.Registry
	Engine   *reconfig.Engine
	Host     host.Host
}

// NewService returns a service configuring h. hc is used by deploy steps.
func NewService(s *Settings, h host.Host, hc *http.Client) *Service {
	reg := registry.New()
	set := &factory.Set{Lookup: reg, HTTPClient: hc}
	svc := &Service{Settings: s, Registry: reg, Host: h}
	svc.Engine = reconfig.NewEngine(reconfig.Options{
		Host:      h,
		Registry:  reg,
		Factories: set,
		Base:      svc.baseConfig,
	})
	set.Engine = svc.Engine
	return svc
}

// Start loads the registries and installs the baseline configuration.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Registry.Load(ctx, s.Settings.Dirs()); err != nil {
		return err
	}
	return s.Engine.InstallBaseline(ctx)
}

// Reload reloads the registries and reinstalls the baseline. It waits for
// expansions in flight to finish. On error nothing changes.
func (s *Service) Reload(ctx context.Context) error {
	release, err := s.Engine.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := s.Registry.Load(ctx, s.Settings.Dirs()); err != nil {
		logging.WithError(err).Errorf(ctx, "Reload failed, keeping the current registries")
		return errors.Annotate(err, "reloading").Err()
	}
	return s.Engine.InstallBaseline(ctx)
}

// baseConfig is the part of the host config independent of builders.
func (s *Service) baseConfig(ctx context.Context) *host.Config {
	cfg := host.NewConfig()
	cfg.Title = s.Settings.Title
	cfg.TitleURL = s.Settings.TitleURL
	cfg.BuildbotURL = s.Settings.BuildbotURL

	auth, az := authz.Project(s.Registry.Users(), s.Registry.Roles())
	cfg.WWW = host.WWW{
		Port:               s.Settings.Port,
		Auth:               auth,
		Authz:              az,
		ChangeHookDialects: s.Settings.ChangeHookDialects,
	}
	cfg.DB.URL = s.Settings.DBURL
	cfg.Protocols["pb"] = host.Protocol{Port: s.Settings.PBPort}
	return cfg
}
