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

package host

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.chromium.org/luci/common/clock"
	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/logging"
)

// Result is the outcome of a step or a build.
type Result int

const (
	Success Result = iota
	Warnings
	Failure
	Skipped
	Exception
	Cancelled
)

var resultNames = map[Result]string{
	Success:   "success",
	Warnings:  "warnings",
	Failure:   "failure",
	Skipped:   "skipped",
	Exception: "exception",
	Cancelled: "cancelled",
}

func (r Result) String() string {
	if s, ok := resultNames[r]; ok {
		return s
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// severity orders results from best to worst.
var severity = map[Result]int{
	Skipped:   0,
	Success:   1,
	Warnings:  2,
	Failure:   3,
	Exception: 4,
	Cancelled: 5,
}

// Worst returns the worse of two results.
func Worst(a, b Result) Result {
	if severity[b] > severity[a] {
		return b
	}
	return a
}

// Failed is true for results that mean the step didn't do its job.
func (r Result) Failed() bool {
	return r == Failure || r == Exception || r == Cancelled
}

// StepOptions control how the build treats a step.
type StepOptions struct {
	// HaltOnFailure skips all later steps (except AlwaysRun ones) if this
	// step fails.
	HaltOnFailure bool
	// AlwaysRun steps run even after a halt or a build cancellation.
	AlwaysRun bool
	// HideOnSuccess hides the step from the build page if it succeeded.
	HideOnSuccess bool
}

// Step is a unit of work of a build.
type Step interface {
	Name() string
	Options() StepOptions
	// Run executes the step. A non-nil error turns a Success result into a
	// Failure and is appended to the step's "err.text" log.
	Run(ctx context.Context, sc *StepContext) (Result, error)
}

// BuildFactory produces fresh steps for every build.
type BuildFactory interface {
	NewSteps() []Step
}

// FactoryFunc implements BuildFactory.
type FactoryFunc func() []Step

// NewSteps implements BuildFactory.
func (f FactoryFunc) NewSteps() []Step {
	if f == nil {
		return nil
	}
	return f()
}

// StepState is the lifecycle of a step within a build.
type StepState int

const (
	StepPending StepState = iota
	StepRunning
	// StepWaiting is a running step suspended on builds it triggered.
	StepWaiting
	StepDone
)

// Log is an append-only step log.
type Log struct {
	Name string

	m   sync.Mutex
	buf strings.Builder
}

// Write implements io.Writer.
func (l *Log) Write(p []byte) (int, error) {
	l.m.Lock()
	defer l.m.Unlock()
	return l.buf.Write(p)
}

// Addf appends a formatted line.
func (l *Log) Addf(format string, args ...any) {
	l.m.Lock()
	defer l.m.Unlock()
	fmt.Fprintf(&l.buf, format, args...)
	if !strings.HasSuffix(format, "\n") {
		l.buf.WriteByte('\n')
	}
}

// Text returns the log content.
func (l *Log) Text() string {
	l.m.Lock()
	defer l.m.Unlock()
	return l.buf.String()
}

// StepStatus is the externally visible state of a step.
type StepStatus struct {
	Name     string
	State    StepState
	Result   Result
	Summary  string
	Hidden   bool
	Started  time.Time
	Finished time.Time

	logs []*Log
}

// Log returns the log with the given name or nil.
func (s *StepStatus) Log(name string) *Log {
	for _, l := range s.logs {
		if l.Name == name {
			return l
		}
	}
	return nil
}

// LogNames returns names of all logs of the step.
func (s *StepStatus) LogNames() []string {
	out := make([]string, len(s.logs))
	for i, l := range s.logs {
		out[i] = l.Name
	}
	return out
}

// BuildParams are used to construct a Build.
type BuildParams struct {
	ID         string
	Number     int
	Builder    string
	WorkerName string
	Worker     WorkerConn
	Host       Host
	Properties Properties
	// ProductDir is the master-side directory uploads are stored in.
	ProductDir string
}

// Build is a single execution of a builder's steps on a worker.
type Build struct {
	ID         string
	Number     int
	Builder    string
	WorkerName string
	Worker     WorkerConn
	Host       Host
	ProductDir string

	m      sync.Mutex
	props  Properties
	steps  []*StepStatus
	result Result
}

// NewBuild returns a build ready to run.
func NewBuild(p BuildParams) *Build {
	props := p.Properties.Clone()
	props[PropBuildNumber] = p.Number
	props[PropBuilder] = p.Builder
	props[PropWorker] = p.WorkerName
	return &Build{
		ID:         p.ID,
		Number:     p.Number,
		Builder:    p.Builder,
		WorkerName: p.WorkerName,
		Worker:     p.Worker,
		Host:       p.Host,
		ProductDir: p.ProductDir,
		props:      props,
	}
}

// Properties returns a copy of the build properties.
func (b *Build) Properties() Properties {
	b.m.Lock()
	defer b.m.Unlock()
	return b.props.Clone()
}

// SetProperty sets a build property.
func (b *Build) SetProperty(key string, val any) {
	b.m.Lock()
	defer b.m.Unlock()
	b.props[key] = val
}

// Steps returns statuses of steps executed so far.
func (b *Build) Steps() []*StepStatus {
	b.m.Lock()
	defer b.m.Unlock()
	return append([]*StepStatus(nil), b.steps...)
}

// Step returns the status of the named step or nil.
func (b *Build) Step(name string) *StepStatus {
	for _, s := range b.Steps() {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Result returns the build result. It is meaningful only once Run returns.
func (b *Build) Result() Result {
	b.m.Lock()
	defer b.m.Unlock()
	return b.result
}

// StepContext is given to a running step.
type StepContext struct {
	Build  *Build
	status *StepStatus
	added  []Step
}

// Log returns a log of the current step, creating it if necessary.
func (sc *StepContext) Log(name string) *Log {
	sc.Build.m.Lock()
	defer sc.Build.m.Unlock()
	if l := sc.status.Log(name); l != nil {
		return l
	}
	l := &Log{Name: name}
	sc.status.logs = append(sc.status.logs, l)
	return l
}

// SetSummary sets a short description of what the step did.
func (sc *StepContext) SetSummary(format string, args ...any) {
	sc.Build.m.Lock()
	defer sc.Build.m.Unlock()
	sc.status.Summary = fmt.Sprintf(format, args...)
}

// SetWaiting marks the step as suspended on other builds.
func (sc *StepContext) SetWaiting(waiting bool) {
	sc.Build.m.Lock()
	defer sc.Build.m.Unlock()
	if waiting {
		sc.status.State = StepWaiting
	} else {
		sc.status.State = StepRunning
	}
}

// AddSteps schedules steps to run right after the current one, in order.
func (sc *StepContext) AddSteps(steps ...Step) {
	sc.added = append(sc.added, steps...)
}

// Run executes steps in order and returns the build result.
//
// A failed HaltOnFailure step skips the remaining steps, as does the
// cancellation of ctx. Steps marked AlwaysRun are executed regardless and
// get a context that is not cancelled along with ctx.
func (b *Build) Run(ctx context.Context, steps []Step) Result {
	ctx = logging.SetFields(ctx, logging.Fields{"builder": b.Builder, "build": b.Number})

	queue := append([]Step(nil), steps...)
	result := Success
	halted := false
	for i := 0; i < len(queue); i++ {
		st := queue[i]
		opts := st.Options()
		status := &StepStatus{Name: st.Name()}
		b.m.Lock()
		b.steps = append(b.steps, status)
		b.m.Unlock()

		if (halted || ctx.Err() != nil) && !opts.AlwaysRun {
			b.finishStep(ctx, status, Skipped)
			continue
		}

		stepCtx := ctx
		if opts.AlwaysRun {
			stepCtx = context.WithoutCancel(ctx)
		}
		sc := &StepContext{Build: b, status: status}
		b.m.Lock()
		status.State = StepRunning
		status.Started = clock.Now(ctx)
		b.m.Unlock()

		res := b.runStep(stepCtx, st, sc)
		b.finishStep(ctx, status, res)
		if opts.HideOnSuccess && res == Success {
			b.m.Lock()
			status.Hidden = true
			b.m.Unlock()
		}

		if len(sc.added) > 0 {
			rest := append(append([]Step(nil), sc.added...), queue[i+1:]...)
			queue = append(queue[:i+1], rest...)
		}

		result = Worst(result, res)
		if res.Failed() && opts.HaltOnFailure {
			halted = true
		}
	}
	if ctx.Err() != nil {
		result = Worst(result, Cancelled)
	}

	b.m.Lock()
	b.result = result
	b.m.Unlock()
	logging.Infof(ctx, "Build finished: %s", result)
	return result
}

func (b *Build) runStep(ctx context.Context, st Step, sc *StepContext) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			sc.Log("err.text").Addf("panic: %v", r)
			sc.SetSummary("exception")
			res = Exception
		}
	}()
	res, err := st.Run(ctx, sc)
	if err != nil {
		if res == Success {
			res = Failure
		}
		if errors.Is(err, context.Canceled) {
			res = Cancelled
		}
		sc.Log("err.text").Addf("%s", err)
		sc.Build.m.Lock()
		if sc.status.Summary == "" {
			sc.status.Summary = err.Error()
		}
		sc.Build.m.Unlock()
		logging.WithError(err).Warningf(ctx, "Step %q failed", st.Name())
	}
	return res
}

func (b *Build) finishStep(ctx context.Context, status *StepStatus, res Result) {
	b.m.Lock()
	defer b.m.Unlock()
	status.State = StepDone
	status.Result = res
	status.Finished = clock.Now(ctx)
}
