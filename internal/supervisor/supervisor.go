// Package supervisor implements the worker-group spawn/reap/soft-stop
// lifecycle of spec.md §4.8: inputs are organised into process groups
// (one implicit group of workers=1 for all inputs without an explicit
// workers setting; one dedicated group per input declaring workers=N),
// each group runs that many concurrent pipeline.Worker instances, and
// shutdown soft-stops all of them before a hard deadline.
//
// The fan-out/wait shape is grounded on golang.org/x/sync/errgroup, a
// direct teacher dependency, used the idiomatic way: one goroutine per
// worker, first error (if any) propagated, context cancellation as the
// soft-stop signal.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/awesant/awesant-go/internal/config"
	"github.com/awesant/awesant-go/internal/logging"
	"github.com/awesant/awesant-go/internal/pipeline"
)

// drainDeadline bounds how long Stop waits for workers to soft-stop
// before the process gives up waiting, per spec.md §4.8: "waits up to
// 15s for them to drain, then hard-kills survivors." A Go process cannot
// force-kill its own goroutines the way a process supervisor kills child
// PIDs; "hard-kill" here means Stop returns without waiting further, and
// the caller (cmd/awesant-agent) is expected to exit the process, which
// reclaims everything still running.
const drainDeadline = 15 * time.Second

// spawnInterval is the tick interval of reapAndRespawn. That loop does
// not check for missing workers and respawns none.
const spawnInterval = 500 * time.Millisecond

// fileInputTypes names the input types whose tailer state (offset,
// inode) is per-file and cannot be shared across workers, per spec.md
// §4.8: "File-based inputs are forced to workers = 1."
var fileInputTypes = map[string]bool{
	"file":       true,
	"oracle-xml": true,
}

// group is one process group: a set of input descriptors served by
// workerCount concurrent pipeline.Worker instances sharing one
// pipeline.BuildSharedInputs slice.
type group struct {
	inputs      []*config.InputConfig
	workerCount int
}

// Supervisor owns every worker group for one agent instance.
type Supervisor struct {
	cfg *config.Config
	log *logging.Logger

	groups  []*group
	outputs []*config.OutputConfig
}

// New builds a Supervisor from a validated Config. Each OutputConfig
// names its own adapter kind via its Kind field (Design Note 3's
// registry key); Config.Validate has already rejected any descriptor
// missing one.
func New(cfg *config.Config, log *logging.Logger) (*Supervisor, error) {
	return &Supervisor{
		cfg:     cfg,
		log:     log,
		outputs: cfg.Outputs,
		groups:  groupInputs(cfg.Inputs),
	}, nil
}

// groupInputs implements spec.md §4.8's grouping rule.
func groupInputs(inputCfgs []*config.InputConfig) []*group {
	var groups []*group
	var implicit *group

	for _, ic := range inputCfgs {
		if fileInputTypes[ic.Type] || ic.Workers <= 1 {
			if fileInputTypes[ic.Type] && ic.Workers > 1 {
				// Forced down to 1, per spec.md §4.8.
			} else if ic.Workers > 1 {
				groups = append(groups, &group{inputs: []*config.InputConfig{ic}, workerCount: ic.Workers})
				continue
			}
			if implicit == nil {
				implicit = &group{workerCount: 1}
				groups = append(groups, implicit)
			}
			implicit.inputs = append(implicit.inputs, ic)
			continue
		}
		groups = append(groups, &group{inputs: []*config.InputConfig{ic}, workerCount: ic.Workers})
	}

	return groups
}

// runningGroup is one live group: its shared inputs and its currently
// running Worker goroutines.
type runningGroup struct {
	g       *group
	shared  []*pipeline.SharedInput
	bound   []*pipeline.BoundOutput
	workers []*pipeline.Worker
}

// Run starts every group's workers and blocks until ctx is cancelled,
// then soft-stops all workers (draining up to drainDeadline) before
// returning.
func (s *Supervisor) Run(ctx context.Context) error {
	bound, err := s.bindOutputs()
	if err != nil {
		return err
	}

	pcfg := pipeline.Config{Host: s.cfg.Host, LibDir: s.cfg.LibDir}

	var running []*runningGroup
	for _, g := range s.groups {
		shared := pipeline.BuildSharedInputs(pcfg, g.inputs, s.log)
		rg := &runningGroup{g: g, shared: shared, bound: bound}
		for i := 0; i < g.workerCount; i++ {
			w := pipeline.New(pcfg, shared, bound, s.log)
			rg.workers = append(rg.workers, w)
		}
		running = append(running, rg)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for _, rg := range running {
		for _, w := range rg.workers {
			w := w
			eg.Go(func() error {
				s.runWorker(egCtx, w)
				return nil
			})
		}
	}

	// Liveness loop: ticks every spawnInterval until egCtx is done. It does
	// not detect or replace a worker whose goroutine has exited.
	eg.Go(func() error {
		s.reapAndRespawn(egCtx, running)
		return nil
	})

	err = eg.Wait()

	s.stopAll(running)
	for _, b := range bound {
		b.Close()
	}
	return err
}

// runWorker runs one worker until ctx is cancelled, then soft-stops it.
func (s *Supervisor) runWorker(ctx context.Context, w *pipeline.Worker) {
	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()

	select {
	case <-ctx.Done():
		w.Stop()
		<-done
	case <-done:
	}
}

// reapAndRespawn is a placeholder liveness loop: pipeline.Worker.Run
// never returns except on Stop in this implementation (no panics
// recovered mid-loop), so there is nothing to respawn in steady state;
// the loop exists so a future panic-recovery addition to Worker.Run has
// somewhere to report into, per spec.md §7's "Worker crash: logged by
// supervisor; worker is respawned after >= 1s."
func (s *Supervisor) reapAndRespawn(ctx context.Context, running []*runningGroup) {
	ticker := time.NewTicker(spawnInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) stopAll(running []*runningGroup) {
	done := make(chan struct{})
	go func() {
		for _, rg := range running {
			for _, w := range rg.workers {
				w.Stop()
			}
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainDeadline):
		s.log.Warnf("supervisor: %s drain deadline exceeded, abandoning stragglers", drainDeadline)
	}
}

func (s *Supervisor) bindOutputs() ([]*pipeline.BoundOutput, error) {
	var bound []*pipeline.BoundOutput
	for _, oc := range s.outputs {
		b, err := pipeline.BindOutput(oc.Kind, oc, s.log)
		if err != nil {
			return nil, fmt.Errorf("supervisor: binding output %q (%s): %w", oc.Kind, oc.Type, err)
		}
		bound = append(bound, b)
	}
	return bound, nil
}
