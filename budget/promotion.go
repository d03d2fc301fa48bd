/*
promotion.go - Promotion Engine

PURPOSE:
  Copies one workspace's full state (line items, distance days, parameters)
  onto another workspace, destroying what the target held before.

SEQUENCE:
  Idle -> Reading Source -> Clearing Target -> Writing Target -> Idle

  1. Read items, days and parameters of the source
  2. Delete every item and day of the target (parameters are never deleted)
  3. Insert copies of the source rows; the store assigns new identifiers
  4. Upsert parameters onto the target (update in place, else insert)

ATOMICITY:
  When the store is a TxStore, steps 2-4 run in one transaction and a failure
  leaves the target untouched. Otherwise every completed step is appended to
  the PromotionRun, and a failure after the first destructive step returns a
  PartialPromotionError carrying the run. Resume replays the run from the
  captured source snapshot, so a retry is deterministic and never re-reads a
  source that may have changed meanwhile.

CANCELLATION:
  The context is checked between steps. Parameters are written with a single
  upsert, so an abort never leaves a half-written parameters record.

CONCURRENCY:
  Edits other sessions make to the target while a promotion runs are lost
  (last-write-wins at the statement level).
*/
package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// PromotionStep is one entry of a run's step log.
type PromotionStep string

const (
	StepClearItems   PromotionStep = "clear_items"
	StepClearDays    PromotionStep = "clear_days"
	StepInsertItems  PromotionStep = "insert_items"
	StepInsertDays   PromotionStep = "insert_days"
	StepUpsertParams PromotionStep = "upsert_parameters"
)

// PromotionRequest names both sides of a promotion. Confirmed must be set:
// promotion destroys the target's data.
type PromotionRequest struct {
	Source    Workspace
	Target    Workspace
	Actor     string
	Confirmed bool
}

// PromotionRun is the captured source snapshot plus the step log.
type PromotionRun struct {
	ID        string
	Source    Workspace
	Target    Workspace
	Actor     string
	StartedAt time.Time

	Items      []LineItem
	Days       []DistanceDay
	Parameters *Parameters

	Completed     []PromotionStep
	Transactional bool
}

func (r *PromotionRun) done(step PromotionStep) {
	r.Completed = append(r.Completed, step)
}

// PromotionReport summarizes a successful promotion.
type PromotionReport struct {
	Run          *PromotionRun
	ItemsRemoved int
	DaysRemoved  int
	ItemsCopied  int
	DaysCopied   int
}

type Promoter struct {
	store  Store
	log    *ChangeLog
	logger *slog.Logger
}

func NewPromoter(store Store, logger *slog.Logger) *Promoter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Promoter{store: store, log: NewChangeLog(store), logger: logger}
}

// Promote copies req.Source onto req.Target.
func (p *Promoter) Promote(ctx context.Context, req PromotionRequest) (PromotionReport, error) {
	if err := validatePromotion(req); err != nil {
		return PromotionReport{}, err
	}

	run, err := p.readSource(ctx, req)
	if err != nil {
		return PromotionReport{}, err
	}
	return p.execute(ctx, run)
}

// Resume replays a run that failed part-way. The target is cleared again and
// rewritten from the snapshot captured when the run started.
func (p *Promoter) Resume(ctx context.Context, run *PromotionRun) (PromotionReport, error) {
	if run == nil {
		return PromotionReport{}, &ValidationError{Field: "run", Reason: "required"}
	}
	run.Completed = nil
	p.logger.InfoContext(ctx, "resuming promotion",
		slog.String("run", run.ID),
		slog.String("source", string(run.Source)),
		slog.String("target", string(run.Target)),
	)
	return p.execute(ctx, run)
}

func validatePromotion(req PromotionRequest) error {
	if !req.Source.Valid() {
		return &ValidationError{Field: "source", Reason: fmt.Sprintf("unknown workspace %q", req.Source)}
	}
	if !req.Target.Valid() {
		return &ValidationError{Field: "target", Reason: fmt.Sprintf("unknown workspace %q", req.Target)}
	}
	if req.Source == req.Target {
		return &ValidationError{Field: "target", Reason: "source and target must differ"}
	}
	if !req.Confirmed {
		return fmt.Errorf("promotion overwrites workspace %s: %w", req.Target, ErrConfirmationRequired)
	}
	return nil
}

func (p *Promoter) readSource(ctx context.Context, req PromotionRequest) (*PromotionRun, error) {
	run := &PromotionRun{
		ID:        uuid.NewString(),
		Source:    req.Source,
		Target:    req.Target,
		Actor:     req.Actor,
		StartedAt: time.Now().UTC(),
	}

	var err error
	if run.Items, err = p.store.LineItems(ctx, req.Source); err != nil {
		return nil, wrapStore("read source", TableLineItems, err)
	}
	if run.Days, err = p.store.DistanceDays(ctx, req.Source); err != nil {
		return nil, wrapStore("read source", TableDistanceDays, err)
	}
	params, err := p.store.Parameters(ctx, req.Source)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, wrapStore("read source", TableParameters, err)
	default:
		run.Parameters = &params
	}
	return run, nil
}

func (p *Promoter) execute(ctx context.Context, run *PromotionRun) (PromotionReport, error) {
	report := PromotionReport{Run: run}

	if txs, ok := p.store.(TxStore); ok {
		run.Transactional = true
		var phase PromotionPhase
		err := txs.WithTx(ctx, func(s Store) error {
			var err error
			report, phase, err = p.apply(ctx, s, run)
			return err
		})
		if err != nil {
			run.Completed = nil
			p.logger.ErrorContext(ctx, "promotion rolled back",
				slog.String("run", run.ID),
				slog.String("phase", string(phase)),
				slog.String("error", err.Error()),
			)
			return PromotionReport{Run: run}, fmt.Errorf("promotion %s -> %s rolled back during %s, %s unchanged: %w",
				run.Source, run.Target, phase, run.Target, err)
		}
		p.logSuccess(ctx, report)
		return report, nil
	}

	report, phase, err := p.apply(ctx, p.store, run)
	if err != nil {
		if len(run.Completed) == 0 {
			return report, fmt.Errorf("promotion %s -> %s failed during %s, %s unchanged: %w",
				run.Source, run.Target, phase, run.Target, err)
		}
		p.logger.ErrorContext(ctx, "promotion left target partially written",
			slog.String("run", run.ID),
			slog.String("phase", string(phase)),
			slog.Any("completed", run.Completed),
			slog.String("error", err.Error()),
		)
		return report, &PartialPromotionError{Source: run.Source, Target: run.Target, Phase: phase, Run: run, Err: err}
	}
	p.logSuccess(ctx, report)
	return report, nil
}

func (p *Promoter) logSuccess(ctx context.Context, report PromotionReport) {
	p.logger.InfoContext(ctx, "promotion completed",
		slog.String("run", report.Run.ID),
		slog.String("source", string(report.Run.Source)),
		slog.String("target", string(report.Run.Target)),
		slog.Int("items", report.ItemsCopied),
		slog.Int("days", report.DaysCopied),
		slog.Bool("transactional", report.Run.Transactional),
	)
}

// apply performs clear and write against s, appending each finished step to run.
func (p *Promoter) apply(ctx context.Context, s Store, run *PromotionRun) (PromotionReport, PromotionPhase, error) {
	report := PromotionReport{Run: run}
	log := p.log.on(s)
	target := run.Target

	// Clearing target
	if err := ctx.Err(); err != nil {
		return report, PhaseClear, err
	}
	oldItems, err := s.LineItems(ctx, target)
	if err != nil {
		return report, PhaseClear, wrapStore("read target", TableLineItems, err)
	}
	oldDays, err := s.DistanceDays(ctx, target)
	if err != nil {
		return report, PhaseClear, wrapStore("read target", TableDistanceDays, err)
	}

	if err := s.DeleteLineItems(ctx, target); err != nil {
		return report, PhaseClear, wrapStore("clear target", TableLineItems, err)
	}
	run.done(StepClearItems)
	for _, it := range oldItems {
		if err := log.RecordChanges(ctx, target, TableLineItems, it.ID, deleteChanges(lineItemFields(it)), run.Actor); err != nil {
			return report, PhaseClear, err
		}
	}
	report.ItemsRemoved = len(oldItems)

	if err := s.DeleteDistanceDays(ctx, target); err != nil {
		return report, PhaseClear, wrapStore("clear target", TableDistanceDays, err)
	}
	run.done(StepClearDays)
	for _, d := range oldDays {
		if err := log.RecordChanges(ctx, target, TableDistanceDays, d.ID, deleteChanges(distanceDayFields(d)), run.Actor); err != nil {
			return report, PhaseClear, err
		}
	}
	report.DaysRemoved = len(oldDays)

	// Writing target
	if err := ctx.Err(); err != nil {
		return report, PhaseWrite, err
	}
	for _, it := range run.Items {
		cp := it
		cp.ID = ""
		cp.Workspace = target
		created, err := s.InsertLineItem(ctx, cp)
		if err != nil {
			return report, PhaseWrite, wrapStore("write target", TableLineItems, err)
		}
		if err := log.RecordChanges(ctx, target, TableLineItems, created.ID, []FieldChange{{New: snapshot(lineItemFields(created))}}, run.Actor); err != nil {
			return report, PhaseWrite, err
		}
		report.ItemsCopied++
	}
	run.done(StepInsertItems)

	for _, d := range run.Days {
		cp := d
		cp.ID = ""
		cp.Workspace = target
		created, err := s.InsertDistanceDay(ctx, cp)
		if err != nil {
			return report, PhaseWrite, wrapStore("write target", TableDistanceDays, err)
		}
		if err := log.RecordChanges(ctx, target, TableDistanceDays, created.ID, []FieldChange{{New: snapshot(distanceDayFields(created))}}, run.Actor); err != nil {
			return report, PhaseWrite, err
		}
		report.DaysCopied++
	}
	run.done(StepInsertDays)

	if run.Parameters == nil {
		return report, "", nil
	}

	// Parameters
	if err := ctx.Err(); err != nil {
		return report, PhaseParameters, err
	}
	next := *run.Parameters
	next.Workspace = target
	next.ID = ""

	var before []fieldValue
	current, err := s.Parameters(ctx, target)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return report, PhaseParameters, wrapStore("read target", TableParameters, err)
	default:
		next.ID = current.ID
		before = parameterFields(current)
	}

	saved, err := s.UpsertParameters(ctx, next)
	if err != nil {
		return report, PhaseParameters, wrapStore("write target", TableParameters, err)
	}
	run.done(StepUpsertParams)

	var changes []FieldChange
	if before == nil {
		changes = createChanges(parameterFields(saved))
	} else {
		changes = diffFields(before, parameterFields(saved))
	}
	if err := log.RecordChanges(ctx, target, TableParameters, saved.ID, changes, run.Actor); err != nil {
		return report, PhaseParameters, err
	}

	return report, "", nil
}
