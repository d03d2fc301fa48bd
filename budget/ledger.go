/*
ledger.go - Workspace-scoped budget service

PURPOSE:
  The Ledger is what collaborators talk to. It reads workspace state, applies
  validated edits through the Store, and writes change log entries for every
  field it changes. Edits that feed the automatic items (parameters and
  distances) notify the recompute hook so the auto items can be refreshed.

CONTROL FLOW FOR AN EDIT:
  1. Validate input (no store write on failure)
  2. Read the current record
  3. Write the new record
  4. Append change log entries (old/new per field)
  5. Notify the recompute hook

CONSISTENCY:
  No locking. Concurrent sessions editing the same record get
  last-write-wins at the statement level.

SEE ALSO:
  - resolver.go: totals are always derived, never stored
  - recalc.go / scheduler.go: the recompute hook's usual target
*/
package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
)

type Ledger struct {
	store  Store
	log    *ChangeLog
	logger *slog.Logger

	onInputsChanged func(Workspace)
}

type LedgerOption func(*Ledger)

func WithLogger(logger *slog.Logger) LedgerOption {
	return func(l *Ledger) { l.logger = logger }
}

// WithInputsChanged registers the hook called after parameters or distances change.
func WithInputsChanged(fn func(Workspace)) LedgerOption {
	return func(l *Ledger) { l.onInputsChanged = fn }
}

func NewLedger(store Store, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:  store,
		log:    NewChangeLog(store),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// SetInputsChanged replaces the recompute hook. Used when the scheduler is
// built after the ledger.
func (l *Ledger) SetInputsChanged(fn func(Workspace)) {
	l.onInputsChanged = fn
}

func (l *Ledger) ChangeLog() *ChangeLog { return l.log }

func (l *Ledger) notify(ws Workspace) {
	if l.onInputsChanged != nil {
		l.onInputsChanged(ws)
	}
}

// =============================================================================
// READS
// =============================================================================

func (l *Ledger) LineItems(ctx context.Context, ws Workspace) ([]LineItem, error) {
	if !ws.Valid() {
		return nil, &ValidationError{Field: "workspace", Reason: fmt.Sprintf("unknown workspace %q", ws)}
	}
	items, err := l.store.LineItems(ctx, ws)
	return items, wrapStore("list", TableLineItems, err)
}

// Parameters returns the workspace's parameters, or nil when none exist yet.
func (l *Ledger) Parameters(ctx context.Context, ws Workspace) (*Parameters, error) {
	if !ws.Valid() {
		return nil, &ValidationError{Field: "workspace", Reason: fmt.Sprintf("unknown workspace %q", ws)}
	}
	p, err := l.store.Parameters(ctx, ws)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapStore("get", TableParameters, err)
	}
	return &p, nil
}

func (l *Ledger) DistanceDays(ctx context.Context, ws Workspace) ([]DistanceDay, error) {
	if !ws.Valid() {
		return nil, &ValidationError{Field: "workspace", Reason: fmt.Sprintf("unknown workspace %q", ws)}
	}
	days, err := l.store.DistanceDays(ctx, ws)
	return days, wrapStore("list", TableDistanceDays, err)
}

// Summary derives the budget summary of a workspace. Missing parameters count
// as all-zero.
func (l *Ledger) Summary(ctx context.Context, ws Workspace) (Summary, error) {
	items, err := l.LineItems(ctx, ws)
	if err != nil {
		return Summary{}, err
	}
	days, err := l.DistanceDays(ctx, ws)
	if err != nil {
		return Summary{}, err
	}
	p, err := l.Parameters(ctx, ws)
	if err != nil {
		return Summary{}, err
	}
	if p == nil {
		p = &Parameters{Workspace: ws}
	}
	return Summarize(ws, items, *p, days), nil
}

// =============================================================================
// PARAMETERS
// =============================================================================

// SeedParameters creates an empty parameters record if the workspace has none.
func (l *Ledger) SeedParameters(ctx context.Context, ws Workspace, actor string) (Parameters, error) {
	existing, err := l.Parameters(ctx, ws)
	if err != nil {
		return Parameters{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	p, err := l.store.UpsertParameters(ctx, Parameters{Workspace: ws})
	if err != nil {
		return Parameters{}, wrapStore("seed", TableParameters, err)
	}
	if err := l.log.RecordChanges(ctx, ws, TableParameters, p.ID, createChanges(parameterFields(p)), actor); err != nil {
		return p, err
	}
	l.logger.InfoContext(ctx, "parameters seeded", slog.String("workspace", string(ws)))
	return p, nil
}

// UpdateParameters replaces the workspace's parameters and logs each changed field.
func (l *Ledger) UpdateParameters(ctx context.Context, ws Workspace, actor string, p Parameters) (Parameters, error) {
	if err := validateParameters(p); err != nil {
		return Parameters{}, err
	}
	current, err := l.Parameters(ctx, ws)
	if err != nil {
		return Parameters{}, err
	}

	p.Workspace = ws
	var before []fieldValue
	if current != nil {
		p.ID = current.ID
		before = parameterFields(*current)
	}

	saved, err := l.store.UpsertParameters(ctx, p)
	if err != nil {
		return Parameters{}, wrapStore("upsert", TableParameters, err)
	}

	var changes []FieldChange
	if before == nil {
		changes = createChanges(parameterFields(saved))
	} else {
		changes = diffFields(before, parameterFields(saved))
	}
	if err := l.log.RecordChanges(ctx, ws, TableParameters, saved.ID, changes, actor); err != nil {
		return saved, err
	}

	if len(changes) > 0 {
		l.notify(ws)
	}
	return saved, nil
}

func validateParameters(p Parameters) error {
	for _, f := range parameterFields(p) {
		if f.value == nil {
			continue
		}
		if strings.HasPrefix(*f.value, "-") {
			return &ValidationError{Field: f.name, Reason: "must not be negative"}
		}
	}
	return nil
}

// =============================================================================
// LINE ITEMS
// =============================================================================

// CreateLineItem validates and inserts a new item.
func (l *Ledger) CreateLineItem(ctx context.Context, ws Workspace, actor string, item LineItem) (LineItem, error) {
	if item.Auto {
		return LineItem{}, &ValidationError{Field: "auto", Reason: "auto items are created by the recalculator"}
	}
	item.Workspace = ws
	item.Total = decimal.NullDecimal{}
	item = normalizeItem(item)
	if err := validateItem(item); err != nil {
		return LineItem{}, err
	}

	existing, err := l.LineItems(ctx, ws)
	if err != nil {
		return LineItem{}, err
	}
	if err := checkDuplicate(ws, existing, item, ""); err != nil {
		return LineItem{}, err
	}

	created, err := l.store.InsertLineItem(ctx, item)
	if err != nil {
		return LineItem{}, wrapStore("insert", TableLineItems, err)
	}
	if err := l.log.RecordChanges(ctx, ws, TableLineItems, created.ID, createChanges(lineItemFields(created)), actor); err != nil {
		return created, err
	}
	return created, nil
}

// UpdateLineItem replaces an existing item and logs each changed field.
func (l *Ledger) UpdateLineItem(ctx context.Context, ws Workspace, actor string, item LineItem) (LineItem, error) {
	item.Workspace = ws
	item = normalizeItem(item)
	if err := validateItem(item); err != nil {
		return LineItem{}, err
	}

	existing, err := l.LineItems(ctx, ws)
	if err != nil {
		return LineItem{}, err
	}
	current, ok := findItem(existing, item.ID)
	if !ok {
		return LineItem{}, &NotFoundError{Workspace: ws, Table: TableLineItems, RecordID: item.ID}
	}
	// Auto and Total belong to the recalculator.
	item.Auto = current.Auto
	item.Total = current.Total
	if item.Auto && item.BilledToTransport {
		return LineItem{}, &ValidationError{Field: "billed_to_transport", Reason: "only manual items can be billed to transport"}
	}
	if item.Auto && item.Key() != current.Key() {
		return LineItem{}, &ValidationError{Field: "subcategory", Reason: "automatic items cannot be renamed or moved"}
	}
	if err := checkDuplicate(ws, existing, item, item.ID); err != nil {
		return LineItem{}, err
	}

	item.CreatedAt = current.CreatedAt
	if err := l.store.UpdateLineItem(ctx, item); err != nil {
		return LineItem{}, wrapStore("update", TableLineItems, err)
	}
	changes := diffFields(lineItemFields(current), lineItemFields(item))
	if err := l.log.RecordChanges(ctx, ws, TableLineItems, item.ID, changes, actor); err != nil {
		return item, err
	}
	return item, nil
}

func (l *Ledger) DeleteLineItem(ctx context.Context, ws Workspace, actor, id string) error {
	existing, err := l.LineItems(ctx, ws)
	if err != nil {
		return err
	}
	current, ok := findItem(existing, id)
	if !ok {
		return &NotFoundError{Workspace: ws, Table: TableLineItems, RecordID: id}
	}
	if err := l.store.DeleteLineItem(ctx, ws, id); err != nil {
		return wrapStore("delete", TableLineItems, err)
	}
	return l.log.RecordChanges(ctx, ws, TableLineItems, id, deleteChanges(lineItemFields(current)), actor)
}

func normalizeItem(item LineItem) LineItem {
	item.Subcategory = strings.TrimSpace(item.Subcategory)
	item.Description = strings.TrimSpace(item.Description)
	if item.Unit == "" {
		item.Unit = UnitPerson
	}
	if item.SplitRule == "" {
		item.SplitRule = SplitEveryone
	}
	if !item.Quantity.Valid {
		item.Quantity = DecInt(1)
	}
	return item
}

func validateItem(item LineItem) error {
	if !item.Workspace.Valid() {
		return &ValidationError{Field: "workspace", Reason: fmt.Sprintf("unknown workspace %q", item.Workspace)}
	}
	if !item.Category.Valid() {
		return &ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", item.Category)}
	}
	if item.Subcategory == "" {
		return &ValidationError{Field: "subcategory", Reason: "required"}
	}
	if _, err := ParseSplitRule(string(item.SplitRule)); err != nil {
		return err
	}
	if item.Unit == UnitGroup && item.SplitRule != SplitEveryone {
		return &ValidationError{
			Field:  "unit",
			Reason: fmt.Sprintf("unit %q cannot be combined with split rule %q", item.Unit, item.SplitRule),
		}
	}
	if item.Auto && item.BilledToTransport {
		return &ValidationError{Field: "billed_to_transport", Reason: "only manual items can be billed to transport"}
	}
	for _, f := range []struct {
		name string
		v    decimal.NullDecimal
	}{
		{"price_per_person", item.PricePerPerson},
		{"price_per_child", item.PricePerChild},
		{"price_per_leader", item.PricePerLeader},
		{"quantity", item.Quantity},
	} {
		if f.v.Valid && f.v.Decimal.IsNegative() {
			return &ValidationError{Field: f.name, Reason: "must not be negative"}
		}
	}
	return nil
}

func checkDuplicate(ws Workspace, existing []LineItem, item LineItem, selfID string) error {
	key := item.Key()
	for _, e := range existing {
		if e.ID != selfID && e.Key() == key {
			return &DuplicateItemError{Workspace: ws, Key: key, ExistingID: e.ID}
		}
	}
	return nil
}

func findItem(items []LineItem, id string) (LineItem, bool) {
	for _, it := range items {
		if it.ID == id {
			return it, true
		}
	}
	return LineItem{}, false
}

// =============================================================================
// DISTANCES
// =============================================================================

// SetDistance writes the distance of a day, creating the day if needed.
func (l *Ledger) SetDistance(ctx context.Context, ws Workspace, actor string, day int, distance decimal.NullDecimal) (DistanceDay, error) {
	if day < 1 {
		return DistanceDay{}, &ValidationError{Field: "day", Reason: "must be 1 or greater"}
	}
	if distance.Valid && distance.Decimal.IsNegative() {
		return DistanceDay{}, &ValidationError{Field: fieldDistance, Reason: "must not be negative"}
	}

	days, err := l.DistanceDays(ctx, ws)
	if err != nil {
		return DistanceDay{}, err
	}

	var saved DistanceDay
	if current, ok := findDay(days, day); ok {
		saved = current
		saved.Distance = distance
		if err := l.writeDay(ctx, actor, current, saved); err != nil {
			return DistanceDay{}, err
		}
	} else {
		saved, err = l.insertDay(ctx, actor, DistanceDay{Workspace: ws, Day: day, Distance: distance})
		if err != nil {
			return DistanceDay{}, err
		}
	}

	l.notify(ws)
	return saved, nil
}

func (l *Ledger) DeleteDistanceDay(ctx context.Context, ws Workspace, actor string, day int) error {
	days, err := l.DistanceDays(ctx, ws)
	if err != nil {
		return err
	}
	current, ok := findDay(days, day)
	if !ok {
		return &NotFoundError{Workspace: ws, Table: TableDistanceDays, RecordID: fmt.Sprintf("day %d", day)}
	}
	if err := l.store.DeleteDistanceDay(ctx, ws, current.ID); err != nil {
		return wrapStore("delete", TableDistanceDays, err)
	}
	if err := l.log.RecordChanges(ctx, ws, TableDistanceDays, current.ID, deleteChanges(distanceDayFields(current)), actor); err != nil {
		return err
	}
	l.notify(ws)
	return nil
}

// SetTotalDistance translates a grand-total edit into writes on the extra bucket.
func (l *Ledger) SetTotalDistance(ctx context.Context, ws Workspace, actor string, total decimal.Decimal) (DistanceTotals, error) {
	if total.IsNegative() {
		return DistanceTotals{}, &ValidationError{Field: "total_distance", Reason: "must not be negative"}
	}
	days, err := l.DistanceDays(ctx, ws)
	if err != nil {
		return DistanceTotals{}, err
	}

	for _, w := range PlanGrandTotal(ws, days, total) {
		if w.Insert {
			if _, err := l.insertDay(ctx, actor, w.Day); err != nil {
				return DistanceTotals{}, err
			}
			continue
		}
		current := w.Day
		current.Distance = w.Old
		if err := l.writeDay(ctx, actor, current, w.Day); err != nil {
			return DistanceTotals{}, err
		}
	}

	days, err = l.DistanceDays(ctx, ws)
	if err != nil {
		return DistanceTotals{}, err
	}
	l.notify(ws)
	return Aggregate(days), nil
}

// RecoverDistances runs RecoverIfZero over every zero or null day and writes
// back what it finds. It returns the days that were recovered.
func (l *Ledger) RecoverDistances(ctx context.Context, ws Workspace, actor string) ([]DistanceDay, error) {
	days, err := l.DistanceDays(ctx, ws)
	if err != nil {
		return nil, err
	}

	var recovered []DistanceDay
	for _, d := range days {
		value, ok, err := l.log.RecoverIfZero(ctx, d)
		if err != nil {
			return recovered, err
		}
		if !ok {
			continue
		}
		next := d
		next.Distance = Dec(value)
		if err := l.writeDay(ctx, actor, d, next); err != nil {
			return recovered, err
		}
		l.logger.InfoContext(ctx, "distance recovered from change log",
			slog.String("workspace", string(ws)),
			slog.Int("day", d.Day),
			slog.String("distance", value.String()),
		)
		recovered = append(recovered, next)
	}

	if len(recovered) > 0 {
		l.notify(ws)
	}
	return recovered, nil
}

func (l *Ledger) insertDay(ctx context.Context, actor string, d DistanceDay) (DistanceDay, error) {
	saved, err := l.store.InsertDistanceDay(ctx, d)
	if err != nil {
		return DistanceDay{}, wrapStore("insert", TableDistanceDays, err)
	}
	err = l.log.RecordChanges(ctx, saved.Workspace, TableDistanceDays, saved.ID, createChanges(distanceDayFields(saved)), actor)
	return saved, err
}

func (l *Ledger) writeDay(ctx context.Context, actor string, before, after DistanceDay) error {
	changes := diffFields(distanceDayFields(before), distanceDayFields(after))
	if len(changes) == 0 {
		return nil
	}
	if err := l.store.UpdateDistanceDay(ctx, after); err != nil {
		return wrapStore("update", TableDistanceDays, err)
	}
	return l.log.RecordChanges(ctx, after.Workspace, TableDistanceDays, after.ID, changes, actor)
}

func findDay(days []DistanceDay, day int) (DistanceDay, bool) {
	for _, d := range days {
		if d.Day == day {
			return d, true
		}
	}
	return DistanceDay{}, false
}
