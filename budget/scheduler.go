/*
scheduler.go - Debounced recompute of auto items

PURPOSE:
  Parameter and distance edits often arrive in bursts. Instead of recomputing
  after every keystroke, each workspace has at most one pending recompute
  task. A new edit cancels the pending task and schedules a fresh one after
  Delay.

DESIGN:
  - One timer per workspace, replaced on every Schedule call
  - A timer that fires after being replaced does nothing
  - The task reads current state when it runs (Recalculator never takes
    captured inputs), so a late run is harmless
  - Stop cancels pending tasks and waits for in-flight runs

USAGE:
  s := NewRecomputeScheduler(recalc, 500*time.Millisecond, logger)
  ledger.SetInputsChanged(s.Schedule)
  // ... later
  s.Stop()
*/
package budget

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Recomputer is what the scheduler runs. *Recalculator satisfies it.
type Recomputer interface {
	Recalculate(ctx context.Context, ws Workspace) (RecalcReport, error)
}

type RecomputeScheduler struct {
	recalc Recomputer
	delay  time.Duration
	logger *slog.Logger

	// OnRun, when set, is called after every completed run.
	OnRun func(ws Workspace, report RecalcReport, err error)

	mu      sync.Mutex
	pending map[Workspace]*pendingRun
	stopped bool
	wg      sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewRecomputeScheduler(recalc Recomputer, delay time.Duration, logger *slog.Logger) *RecomputeScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RecomputeScheduler{
		recalc:  recalc,
		delay:   delay,
		logger:  logger,
		pending: make(map[Workspace]*pendingRun),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Schedule (re)starts the pending recompute of ws.
func (s *RecomputeScheduler) Schedule(ws Workspace) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if p, ok := s.pending[ws]; ok {
		p.timer.Stop()
	}

	p := &pendingRun{}
	p.timer = time.AfterFunc(s.delay, func() { s.fire(ws, p) })
	s.pending[ws] = p
}

// pendingRun identifies one scheduled task; fire compares pointers only.
type pendingRun struct {
	timer *time.Timer
}

// Pending reports whether a recompute of ws is waiting to run.
func (s *RecomputeScheduler) Pending(ws Workspace) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[ws]
	return ok
}

func (s *RecomputeScheduler) fire(ws Workspace, p *pendingRun) {
	s.mu.Lock()
	if s.stopped || s.pending[ws] != p {
		s.mu.Unlock()
		return
	}
	delete(s.pending, ws)
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()

	report, err := s.recalc.Recalculate(s.ctx, ws)
	if err != nil {
		s.logger.Warn("scheduled recompute finished with errors",
			slog.String("workspace", string(ws)),
			slog.String("error", err.Error()),
		)
	}
	if s.OnRun != nil {
		s.OnRun(ws, report, err)
	}
}

// Stop cancels every pending task and waits for running ones.
func (s *RecomputeScheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for ws, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, ws)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.cancel()
	s.logger.Info("recompute scheduler stopped")
}
