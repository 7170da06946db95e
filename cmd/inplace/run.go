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

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/danjacques/gofslock/fslock"
	"github.com/maruel/subcommands"

	"go.chromium.org/luci/common/cli"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/system/signals"

	"go.chromium.org/inplace/internal/host"
	"go.chromium.org/inplace/internal/host/memhost"
	"go.chromium.org/inplace/internal/inplace"
	"go.chromium.org/inplace/internal/registry"
	"go.chromium.org/inplace/internal/worker/local"
)

func cmdRun() *subcommands.Command {
	return &subcommands.Command{
		UsageLine: "run [-settings inplace.yml]",
		ShortDesc: "runs the master with local workers",
		LongDesc: `Runs the master and its web server. Every registered worker gets a
build directory under workDir on this machine.

SIGHUP reloads the worker, project, user and role directories.`,
		CommandRun: func() subcommands.CommandRun {
			c := &runRun{}
			c.Init()
			c.Flags.DurationVar(&c.deployTimeout, "deploy-timeout", 10*time.Minute, "Timeout of a single deploy request.")
			return c
		},
	}
}

type runRun struct {
	commonFlags
	deployTimeout time.Duration
}

func (c *runRun) Run(a subcommands.Application, args []string, env subcommands.Env) int {
	ctx := cli.GetContext(a, c, env)
	if len(args) != 0 {
		return c.done(ctx, a, errors.New("unexpected positional arguments"))
	}
	ctx, s, err := c.load(ctx)
	if err != nil {
		return c.done(ctx, a, err)
	}
	return c.done(ctx, a, c.lockAndServe(ctx, s))
}

// lockAndServe keeps other masters from sharing the build directories.
func (c *runRun) lockAndServe(ctx context.Context, s *inplace.Settings) error {
	if err := os.MkdirAll(s.WorkDir, 0755); err != nil {
		return errors.Annotate(err, "creating %s", s.WorkDir).Err()
	}
	lock := filepath.Join(s.WorkDir, ".inplace.lock")
	switch err := fslock.With(lock, func() error { return c.serve(ctx, s) }); err {
	case fslock.ErrLockHeld:
		return errors.Reason("%s is used by another master", s.WorkDir).Err()
	default:
		return err
	}
}

func (c *runRun) serve(ctx context.Context, s *inplace.Settings) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Local workers are known up front. Reloads may only change their
	// credentials and capabilities.
	reg := registry.New()
	if err := reg.Load(ctx, s.Dirs()); err != nil {
		return err
	}
	var workers []host.Worker
	for _, w := range reg.Workers() {
		workers = append(workers, local.New(w.Name, filepath.Join(s.WorkDir, w.Name)))
	}

	h := memhost.New(memhost.Options{Workers: workers, ProductDir: s.ProductsDir})
	svc := inplace.NewService(s, h, &http.Client{Timeout: c.deployTimeout})
	if err := svc.Start(ctx); err != nil {
		return err
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := svc.Reload(ctx); err != nil {
					errors.Log(ctx, err)
				}
			}
		}
	}()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.Port),
		Handler: h.Handler(ctx),
	}
	defer signals.HandleInterrupt(func() {
		logging.Infof(ctx, "Shutting down")
		cancel()
		sctx, done := context.WithTimeout(context.Background(), 30*time.Second)
		defer done()
		if err := srv.Shutdown(sctx); err != nil {
			logging.WithError(err).Warningf(ctx, "Shutdown did not finish cleanly")
		}
	})()

	logging.Infof(ctx, "Serving %q on %s", s.Title, srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Annotate(err, "serving").Err()
	}
	h.Wait()
	return nil
}
