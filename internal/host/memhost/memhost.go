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

// Package memhost is an in-process host.
//
// It keeps the live configuration in memory, dispatches builds to local
// workers and waits for them. It is meant for tests and for running the
// inplace layer without an external master.
package memhost

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"go.chromium.org/luci/common/data/stringset"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
	"go.chromium.org/luci/common/sync/parallel"

	"go.chromium.org/inplace/internal/host"
	"go.chromium.org/inplace/internal/metrics"
)

// Options configure a Host.
type Options struct {
	// Workers are the connected workers.
	Workers []host.Worker
	// ProductDir is where builds store uploaded products.
	ProductDir string
}

// Host is an in-process host.
type Host struct {
	opts    Options
	workers map[string]host.Worker
	cfg     atomic.Pointer[host.Config]
	pending sync.WaitGroup

	m       sync.Mutex
	busy    map[string]stringset.Set // builder => workers running its builds
	numbers map[string]int
	builds  []*host.Build
	changed chan struct{}
}

var _ host.Host = (*Host)(nil)

// New returns a host with no configuration.
func New(opts Options) *Host {
	h := &Host{
		opts:    opts,
		workers: make(map[string]host.Worker, len(opts.Workers)),
		busy:    map[string]stringset.Set{},
		numbers: map[string]int{},
		changed: make(chan struct{}),
	}
	for _, w := range opts.Workers {
		h.workers[w.Name()] = w
	}
	return h
}

// Config returns the live configuration or nil.
func (h *Host) Config() *host.Config {
	return h.cfg.Load()
}

// Reconfigure implements host.Host.
func (h *Host) Reconfigure(ctx context.Context, cfg *host.Config) error {
	if err := host.ValidateConfig(ctx, cfg); err != nil {
		return errors.Annotate(err, "rejected").Err()
	}
	h.cfg.Store(cfg)
	logging.Debugf(ctx, "Now live: %d builders, %d schedulers", cfg.Builders.Len(), cfg.Schedulers.Len())
	h.m.Lock()
	h.notifyLocked()
	h.m.Unlock()
	return nil
}

// Builds returns all builds started so far.
func (h *Host) Builds() []*host.Build {
	h.m.Lock()
	defer h.m.Unlock()
	return append([]*host.Build(nil), h.builds...)
}

// Wait blocks until builds started by change hooks and force requests
// finish.
func (h *Host) Wait() {
	h.pending.Wait()
}

// Trigger implements host.Host.
func (h *Host) Trigger(ctx context.Context, reqs []host.TriggerRequest) []host.TriggerResult {
	results := make([][]host.TriggerResult, len(reqs))
	parallel.FanOutIn(func(work chan<- func() error) {
		for i, r := range reqs {
			work <- func() error {
				results[i] = h.fire(ctx, r.Scheduler, host.TriggerableScheduler, r.Properties)
				return nil
			}
		}
	})
	var out []host.TriggerResult
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

// Force fires a force scheduler and waits for its builds.
func (h *Host) Force(ctx context.Context, scheduler string, props host.Properties) []host.TriggerResult {
	return h.fire(ctx, scheduler, host.ForceScheduler, props)
}

// fire starts a build on every builder of the scheduler and waits for them.
func (h *Host) fire(ctx context.Context, name string, kind host.SchedulerKind, props host.Properties) []host.TriggerResult {
	cfg := h.cfg.Load()
	if cfg == nil {
		return []host.TriggerResult{{Scheduler: name, Err: errors.Reason("not configured").Err()}}
	}
	s, ok := cfg.Schedulers.Get(name)
	if !ok || s.Kind != kind {
		return []host.TriggerResult{{Scheduler: name, Err: errors.Reason("no %s scheduler %q", kind, name).Err()}}
	}

	merged := s.Properties.Clone()
	merged.Update(props)
	out := make([]host.TriggerResult, len(s.BuilderNames))
	parallel.FanOutIn(func(work chan<- func() error) {
		for i, builder := range s.BuilderNames {
			work <- func() error {
				out[i] = host.TriggerResult{Scheduler: name, Builder: builder}
				b, err := h.runBuild(ctx, builder, merged)
				if err != nil {
					out[i].Err = err
					return nil
				}
				out[i].BuildID, out[i].Number, out[i].Result = b.ID, b.Number, b.Result()
				return nil
			}
		}
	})
	return out
}

// runBuild waits for a worker and runs a build of the builder on it.
func (h *Host) runBuild(ctx context.Context, builder string, props host.Properties) (*host.Build, error) {
	cfg := h.cfg.Load()
	bc, ok := cfg.Builders.Get(builder)
	if !ok {
		return nil, errors.Reason("no builder %q", builder).Err()
	}
	worker, err := h.acquireWorker(ctx, bc, props)
	if err != nil {
		return nil, errors.Annotate(err, "waiting for a worker of %q", builder).Err()
	}
	defer h.releaseWorker(builder, worker)

	h.m.Lock()
	h.numbers[builder]++
	b := host.NewBuild(host.BuildParams{
		ID:         uuid.NewString(),
		Number:     h.numbers[builder],
		Builder:    builder,
		WorkerName: worker,
		Worker:     h.workers[worker].Attach(builder),
		Host:       h,
		Properties: props,
		ProductDir: h.opts.ProductDir,
	})
	h.builds = append(h.builds, b)
	h.m.Unlock()

	var steps []host.Step
	if bc.Factory != nil {
		steps = bc.Factory.NewSteps()
	}
	logging.Infof(ctx, "Starting %s #%d on %s", builder, b.Number, worker)
	res := b.Run(ctx, steps)
	metrics.BuildsCompleted.Add(ctx, 1, builder, res.String())
	return b, nil
}

// acquireWorker blocks until the builder's worker policy picks an idle
// worker. A worker runs at most one build of a builder at a time.
func (h *Host) acquireWorker(ctx context.Context, bc *host.BuilderConfig, props host.Properties) (string, error) {
	for {
		h.m.Lock()
		changed := h.changed
		if name, ok := h.pickLocked(ctx, bc, props); ok {
			busy := h.busy[bc.Name]
			if busy == nil {
				busy = stringset.New(1)
				h.busy[bc.Name] = busy
			}
			busy.Add(name)
			h.m.Unlock()
			return name, nil
		}
		h.m.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-changed:
		}
	}
}

func (h *Host) pickLocked(ctx context.Context, bc *host.BuilderConfig, props host.Properties) (string, bool) {
	auth := h.cfg.Load().Workers
	busy := h.busy[bc.Name]
	var idle []string
	for _, w := range bc.WorkerNames {
		if _, connected := h.workers[w]; connected && auth.Has(w) && !busy.Has(w) {
			idle = append(idle, w)
		}
	}
	if len(idle) == 0 {
		return "", false
	}
	sort.Strings(idle)
	if bc.NextWorker == nil {
		return idle[0], true
	}
	name, ok := bc.NextWorker.NextWorker(ctx, bc.Name, idle, props)
	if !ok {
		return "", false
	}
	for _, w := range idle {
		if w == name {
			return name, true
		}
	}
	logging.Warningf(ctx, "Worker policy of %q picked %q which is not idle", bc.Name, name)
	return "", false
}

func (h *Host) releaseWorker(builder, worker string) {
	h.m.Lock()
	defer h.m.Unlock()
	h.busy[builder].Del(worker)
	h.notifyLocked()
}

func (h *Host) notifyLocked() {
	close(h.changed)
	h.changed = make(chan struct{})
}
