package budget_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/trip-budget/budget"
	"github.com/warp/trip-budget/budget/store"
)

func TestTransportSurcharge(t *testing.T) {
	tests := []struct {
		name   string
		params budget.Parameters
		totals budget.DistanceTotals
		want   string
	}{
		{
			name:   "no free distance bills everything",
			params: budget.Parameters{TransportExtraUnitPrice: budget.DecInt(2)},
			totals: budget.DistanceTotals{TripDays: 10, Grand: decimal.NewFromInt(100)},
			want:   "200",
		},
		{
			name: "free allowance covers trip days",
			params: budget.Parameters{
				TransportFreeDistancePerDay: budget.DecInt(50),
				TransportExtraUnitPrice:     budget.DecInt(3),
			},
			totals: budget.DistanceTotals{TripDays: 10, Grand: decimal.NewFromInt(600)},
			want:   "300",
		},
		{
			name: "under the allowance costs nothing",
			params: budget.Parameters{
				TransportFreeDistancePerDay: budget.DecInt(50),
				TransportExtraUnitPrice:     budget.DecInt(3),
			},
			totals: budget.DistanceTotals{TripDays: 4, Grand: decimal.NewFromInt(120)},
			want:   "0",
		},
		{
			name:   "null price costs nothing",
			params: budget.Parameters{},
			totals: budget.DistanceTotals{TripDays: 3, Grand: decimal.NewFromInt(500)},
			want:   "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := budget.TransportSurcharge(tt.params, tt.totals)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestTransportHireCost_DailyRateCapsAtTenDays(t *testing.T) {
	p := budget.Parameters{TransportDailyRate: budget.DecInt(100)}
	days := make([]budget.DistanceDay, 12)
	for i := range days {
		days[i] = budget.DistanceDay{Day: i + 1}
	}

	got := budget.TransportHireCost(p, budget.Aggregate(days))

	assert.Equal(t, "1000", got.String())
}

func TestSupportVehicleAndCateringCost(t *testing.T) {
	p := budget.Parameters{
		SupportVehicleDistance: budget.DecInt(400),
		FuelPrice:              budget.Dec(decimal.RequireFromString("0.5")),
		CateringPricePerDay:    budget.DecInt(10),
		CateringDays:           budget.DecInt(3),
		ChildCount:             budget.DecInt(8),
		LeaderCount:            budget.DecInt(2),
	}

	assert.Equal(t, "200", budget.SupportVehicleCost(p).String())
	assert.Equal(t, "300", budget.CateringCost(p).String())
}

// =============================================================================
// RECALCULATOR
// =============================================================================

func recalcFixture(t *testing.T) (*budget.Ledger, *budget.Recalculator, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	ledger := budget.NewLedger(mem)
	ctx := context.Background()
	ws := budget.WorkspaceConcrete

	_, err := ledger.UpdateParameters(ctx, ws, actor, budget.Parameters{
		ChildCount:              budget.DecInt(8),
		LeaderCount:             budget.DecInt(2),
		TransportDailyRate:      budget.DecInt(300),
		TransportExtraUnitPrice: budget.DecInt(1),
		FuelPrice:               budget.Dec(decimal.RequireFromString("0.5")),
		SupportVehicleDistance:  budget.DecInt(400),
		CateringPricePerDay:     budget.DecInt(10),
		CateringDays:            budget.DecInt(3),
	})
	require.NoError(t, err)
	for day := 1; day <= 3; day++ {
		_, err := ledger.SetDistance(ctx, ws, actor, day, budget.DecInt(50))
		require.NoError(t, err)
	}
	return ledger, budget.NewRecalculator(mem), mem
}

func autoByLabel(t *testing.T, items []budget.LineItem) map[string]budget.LineItem {
	t.Helper()
	out := map[string]budget.LineItem{}
	for _, it := range items {
		if it.Auto {
			out[it.Subcategory] = it
		}
	}
	return out
}

func TestRecalculate_CreatesAutoItems(t *testing.T) {
	// GIVEN: parameters and three days of 50
	ledger, recalc, _ := recalcFixture(t)
	ctx := context.Background()

	// WHEN
	report, err := recalc.Recalculate(ctx, budget.WorkspaceConcrete)

	// THEN: all three auto items exist with their formula totals
	require.NoError(t, err)
	assert.Len(t, report.Created, 3)
	assert.True(t, report.Changed())

	items, err := ledger.LineItems(ctx, budget.WorkspaceConcrete)
	require.NoError(t, err)
	auto := autoByLabel(t, items)
	require.Len(t, auto, 3)

	assert.Equal(t, "1050", auto[budget.AutoTransportHire].Total.Decimal.String())
	assert.Equal(t, "200", auto[budget.AutoSupportVehicle].Total.Decimal.String())

	catering := auto[budget.AutoCatering]
	assert.Equal(t, "300", catering.Total.Decimal.String())
	assert.Equal(t, "3", catering.Quantity.Decimal.String())
	assert.False(t, catering.TotalOverride.Valid, "override is never written")

	// AND: the change log attributes them to the system actor
	entries, err := ledger.ChangeLog().Query(ctx, budget.ChangeFilter{Actor: budget.SystemActor})
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestRecalculate_Idempotent(t *testing.T) {
	ledger, recalc, mem := recalcFixture(t)
	ctx := context.Background()
	_, err := recalc.Recalculate(ctx, budget.WorkspaceConcrete)
	require.NoError(t, err)
	before := changeCount(t, mem)

	report, err := recalc.Recalculate(ctx, budget.WorkspaceConcrete)

	require.NoError(t, err)
	assert.False(t, report.Changed())
	assert.Len(t, report.Unchanged, 3)
	assert.Equal(t, before, changeCount(t, mem), "second pass logs nothing")

	items, err := ledger.LineItems(ctx, budget.WorkspaceConcrete)
	require.NoError(t, err)
	assert.Len(t, autoByLabel(t, items), 3, "no duplicates")
}

func TestRecalculate_TracksInputs(t *testing.T) {
	// GIVEN: auto items computed once
	ledger, recalc, _ := recalcFixture(t)
	ctx := context.Background()
	_, err := recalc.Recalculate(ctx, budget.WorkspaceConcrete)
	require.NoError(t, err)

	// WHEN: catering days change
	p, err := ledger.Parameters(ctx, budget.WorkspaceConcrete)
	require.NoError(t, err)
	p.CateringDays = budget.DecInt(4)
	_, err = ledger.UpdateParameters(ctx, budget.WorkspaceConcrete, actor, *p)
	require.NoError(t, err)

	report, err := recalc.Recalculate(ctx, budget.WorkspaceConcrete)

	// THEN: only catering is rewritten, quantity included
	require.NoError(t, err)
	assert.Equal(t, []string{budget.AutoCatering}, report.Updated)

	items, err := ledger.LineItems(ctx, budget.WorkspaceConcrete)
	require.NoError(t, err)
	catering := autoByLabel(t, items)[budget.AutoCatering]
	assert.Equal(t, "400", catering.Total.Decimal.String())
	assert.Equal(t, "4", catering.Quantity.Decimal.String())
}

func TestRecalculate_ManualItemWithSameLabelUntouched(t *testing.T) {
	ledger, recalc, _ := recalcFixture(t)
	ctx := context.Background()
	manual, err := ledger.CreateLineItem(ctx, budget.WorkspaceConcrete, actor, budget.LineItem{
		Category:       budget.CategoryFood,
		Subcategory:    budget.AutoCatering,
		Unit:           budget.UnitPerson,
		SplitRule:      budget.SplitEveryone,
		PricePerPerson: budget.DecInt(2),
	})
	require.NoError(t, err)

	_, err = recalc.Recalculate(ctx, budget.WorkspaceConcrete)
	require.NoError(t, err)

	items, err := ledger.LineItems(ctx, budget.WorkspaceConcrete)
	require.NoError(t, err)
	for _, it := range items {
		if it.ID == manual.ID {
			assert.False(t, it.Total.Valid)
			assert.Equal(t, "2", it.PricePerPerson.Decimal.String())
		}
	}
}

func TestRecalculate_FailureIsolation(t *testing.T) {
	// GIVEN: the store fails every insert after the first
	_, recalc, mem := recalcFixture(t)
	ctx := context.Background()
	boom := errors.New("disk full")
	mem.InjectFault("InsertLineItem", 1, boom)

	// WHEN
	report, err := recalc.Recalculate(ctx, budget.WorkspaceConcrete)

	// THEN: one item made it, the other two are reported
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, budget.ErrStore)
	assert.Equal(t, []string{budget.AutoTransportHire}, report.Created)
	assert.Len(t, report.Failed, 2)
	assert.Contains(t, report.Failed, budget.AutoCatering)

	// AND: the next pass finishes the job
	mem.ClearFaults()
	report, err = recalc.Recalculate(ctx, budget.WorkspaceConcrete)
	require.NoError(t, err)
	assert.Len(t, report.Created, 2)
	assert.Equal(t, []string{budget.AutoTransportHire}, report.Unchanged)
}

func TestRecalculate_MissingParameters(t *testing.T) {
	recalc := budget.NewRecalculator(store.NewMemory(), budget.WithRecalcActor("robot"))

	_, err := recalc.Recalculate(context.Background(), budget.WorkspaceSandbox)

	assert.ErrorIs(t, err, budget.ErrNotFound)
}
