/*
recalc.go - Automatic Item Recalculator

PURPOSE:
  Keeps the machine-maintained line items consistent with the workspace's
  parameters and distance days:

    transport hire   fixed     = dailyRate * min(10, days)
                     surcharge = totalDistance * extraPrice             (free distance unset/zero)
                               = max(0, total - free*tripDays) * extraPrice  (otherwise)
    support vehicle  supportDistance * fuelPrice   (single leg)
    catering         pricePerDay * cateringDays * (children + leaders)
                     quantity is written back as cateringDays

  Results go to the item's Total field, never to TotalOverride.

IDEMPOTENCE:
  Recalculating with unchanged inputs writes nothing and logs nothing.

FAILURE ISOLATION:
  Each auto item is written independently. A store failure on one item is
  logged and the others are still attempted; the joined error is returned.

STALENESS:
  Recalculate always reads current state. It never takes inputs from the
  caller, so a delayed run cannot apply outdated values.
*/
package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
)

// Subcategory labels of the auto items.
const (
	AutoTransportHire  = "transport hire"
	AutoSupportVehicle = "support vehicle"
	AutoCatering       = "catering"
)

// SystemActor is the change log actor of machine-made edits.
const SystemActor = "system"

// =============================================================================
// FORMULAS
// =============================================================================

// TransportHireCost returns the bus cost: daily rate for the trip days plus the
// distance surcharge.
func TransportHireCost(p Parameters, d DistanceTotals) decimal.Decimal {
	tripDays := decimal.NewFromInt(int64(d.TripDays))
	fixed := orZero(p.TransportDailyRate).Mul(tripDays)
	return fixed.Add(TransportSurcharge(p, d))
}

// TransportSurcharge bills every distance unit when no free distance is
// configured, otherwise only the part beyond free-per-day * trip days.
func TransportSurcharge(p Parameters, d DistanceTotals) decimal.Decimal {
	price := orZero(p.TransportExtraUnitPrice)
	free := orZero(p.TransportFreeDistancePerDay)
	if free.IsZero() {
		return d.Grand.Mul(price)
	}
	allowance := free.Mul(decimal.NewFromInt(int64(d.TripDays)))
	billable := decimal.Max(decimal.Zero, d.Grand.Sub(allowance))
	return billable.Mul(price)
}

func SupportVehicleCost(p Parameters) decimal.Decimal {
	return orZero(p.SupportVehicleDistance).Mul(orZero(p.FuelPrice))
}

func CateringCost(p Parameters) decimal.Decimal {
	return orZero(p.CateringPricePerDay).Mul(orZero(p.CateringDays)).Mul(p.Participants())
}

// autoItems builds the desired state of every auto item.
func autoItems(ws Workspace, p Parameters, d DistanceTotals) []LineItem {
	return []LineItem{
		{
			Workspace:   ws,
			Category:    CategoryTransport,
			Subcategory: AutoTransportHire,
			Unit:        UnitGroup,
			SplitRule:   SplitEveryone,
			Quantity:    DecInt(1),
			Total:       Dec(TransportHireCost(p, d)),
			Auto:        true,
		},
		{
			Workspace:   ws,
			Category:    CategoryTransport,
			Subcategory: AutoSupportVehicle,
			Unit:        UnitGroup,
			SplitRule:   SplitEveryone,
			Quantity:    DecInt(1),
			Total:       Dec(SupportVehicleCost(p)),
			Auto:        true,
		},
		{
			Workspace:      ws,
			Category:       CategoryFood,
			Subcategory:    AutoCatering,
			Unit:           UnitOther,
			SplitRule:      SplitEveryone,
			PricePerPerson: p.CateringPricePerDay,
			Quantity:       Dec(orZero(p.CateringDays)),
			Total:          Dec(CateringCost(p)),
			Auto:           true,
		},
	}
}

// =============================================================================
// RECALCULATOR
// =============================================================================

type Recalculator struct {
	store  Store
	log    *ChangeLog
	logger *slog.Logger
	actor  string
}

type RecalcOption func(*Recalculator)

func WithRecalcLogger(logger *slog.Logger) RecalcOption {
	return func(r *Recalculator) { r.logger = logger }
}

// WithRecalcActor sets the actor recorded on change log entries.
func WithRecalcActor(actor string) RecalcOption {
	return func(r *Recalculator) { r.actor = actor }
}

func NewRecalculator(store Store, opts ...RecalcOption) *Recalculator {
	r := &Recalculator{
		store:  store,
		log:    NewChangeLog(store),
		logger: slog.Default(),
		actor:  SystemActor,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecalcReport lists what one pass did, by auto item label.
type RecalcReport struct {
	Workspace Workspace
	Created   []string
	Updated   []string
	Unchanged []string
	Failed    map[string]error
}

// Changed reports whether the pass wrote anything.
func (r RecalcReport) Changed() bool {
	return len(r.Created) > 0 || len(r.Updated) > 0
}

// Recalculate refreshes the auto items of ws from current state.
func (r *Recalculator) Recalculate(ctx context.Context, ws Workspace) (RecalcReport, error) {
	report := RecalcReport{Workspace: ws, Failed: map[string]error{}}

	p, err := r.store.Parameters(ctx, ws)
	if err != nil {
		return report, wrapStore("get", TableParameters, err)
	}
	days, err := r.store.DistanceDays(ctx, ws)
	if err != nil {
		return report, wrapStore("list", TableDistanceDays, err)
	}
	items, err := r.store.LineItems(ctx, ws)
	if err != nil {
		return report, wrapStore("list", TableLineItems, err)
	}

	existing := make(map[ItemKey]LineItem, len(items))
	for _, it := range items {
		if it.Auto {
			existing[it.Key()] = it
		}
	}

	var errs []error
	for _, want := range autoItems(ws, p, Aggregate(days)) {
		label := want.Subcategory
		current, found := existing[want.Key()]

		var changed bool
		var err error
		if found {
			changed, err = r.refresh(ctx, current, want)
		} else {
			changed, err = true, r.create(ctx, want)
		}

		switch {
		case err != nil:
			report.Failed[label] = err
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
			r.logger.ErrorContext(ctx, "auto item recalculation failed",
				slog.String("workspace", string(ws)),
				slog.String("item", label),
				slog.String("error", err.Error()),
			)
		case !found:
			report.Created = append(report.Created, label)
		case changed:
			report.Updated = append(report.Updated, label)
		default:
			report.Unchanged = append(report.Unchanged, label)
		}
	}

	if report.Changed() {
		r.logger.InfoContext(ctx, "auto items recalculated",
			slog.String("workspace", string(ws)),
			slog.Int("created", len(report.Created)),
			slog.Int("updated", len(report.Updated)),
		)
	}
	return report, errors.Join(errs...)
}

func (r *Recalculator) create(ctx context.Context, want LineItem) error {
	created, err := r.store.InsertLineItem(ctx, want)
	if err != nil {
		return wrapStore("insert", TableLineItems, err)
	}
	return r.log.RecordChanges(ctx, created.Workspace, TableLineItems, created.ID, createChanges(lineItemFields(created)), r.actor)
}

// refresh writes only the machine-maintained fields and only when they differ.
func (r *Recalculator) refresh(ctx context.Context, current, want LineItem) (bool, error) {
	next := current
	next.Total = want.Total
	if want.Subcategory == AutoCatering {
		next.Quantity = want.Quantity
		next.PricePerPerson = want.PricePerPerson
	}

	changes := diffFields(lineItemFields(current), lineItemFields(next))
	if len(changes) == 0 {
		return false, nil
	}
	if err := r.store.UpdateLineItem(ctx, next); err != nil {
		return false, wrapStore("update", TableLineItems, err)
	}
	return true, r.log.RecordChanges(ctx, next.Workspace, TableLineItems, next.ID, changes, r.actor)
}
