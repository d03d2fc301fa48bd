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

const actor = "alice"

func newLedger(t *testing.T) (*budget.Ledger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return budget.NewLedger(mem), mem
}

func campsite() budget.LineItem {
	return budget.LineItem{
		Category:       budget.CategoryLodging,
		Subcategory:    "campsite",
		Description:    "pitch fee",
		Unit:           budget.UnitOther,
		SplitRule:      budget.SplitEveryone,
		PricePerPerson: budget.DecInt(12),
		Quantity:       budget.DecInt(9),
	}
}

func changeCount(t *testing.T, mem *store.Memory) int {
	t.Helper()
	entries, err := mem.Changes(context.Background(), budget.ChangeFilter{})
	require.NoError(t, err)
	return len(entries)
}

func TestLedger_CreateLineItem(t *testing.T) {
	// GIVEN: an empty workspace
	ledger, mem := newLedger(t)
	ctx := context.Background()

	// WHEN: an item is created without quantity
	item := campsite()
	item.Quantity = decimal.NullDecimal{}
	created, err := ledger.CreateLineItem(ctx, budget.WorkspaceSandbox, actor, item)

	// THEN: it is stored with a new ID and default quantity 1
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, budget.WorkspaceSandbox, created.Workspace)
	assert.True(t, created.Quantity.Decimal.Equal(decimal.NewFromInt(1)))

	// AND: a record-level entry plus one entry per set field is logged
	entries, err := ledger.ChangeLog().Query(ctx, budget.ChangeFilter{RecordID: created.ID})
	require.NoError(t, err)
	var recordLevel int
	for _, e := range entries {
		assert.Equal(t, actor, e.Actor)
		assert.Equal(t, budget.TableLineItems, e.Table)
		if e.Field == "" {
			recordLevel++
			assert.Nil(t, e.OldValue)
			require.NotNil(t, e.NewValue)
			assert.Contains(t, *e.NewValue, `"subcategory":"campsite"`)
		}
	}
	assert.Equal(t, 1, recordLevel)
	assert.Greater(t, len(entries), 1)

	// AND: other workspaces are untouched
	others, err := mem.LineItems(ctx, budget.WorkspaceConcrete)
	require.NoError(t, err)
	assert.Empty(t, others)
}

func TestLedger_DuplicateKeyRejectedBeforeWrite(t *testing.T) {
	// GIVEN: a workspace holding an item
	ledger, mem := newLedger(t)
	ctx := context.Background()
	_, err := ledger.CreateLineItem(ctx, budget.WorkspaceConcrete, actor, campsite())
	require.NoError(t, err)
	before := changeCount(t, mem)

	// WHEN: an item with the same key is inserted, surrounding whitespace aside
	dup := campsite()
	dup.Subcategory = "  campsite "
	dup.PricePerPerson = budget.DecInt(99)
	_, err = ledger.CreateLineItem(ctx, budget.WorkspaceConcrete, actor, dup)

	// THEN: it is a validation error and nothing was written
	var dupErr *budget.DuplicateItemError
	require.ErrorAs(t, err, &dupErr)
	assert.ErrorIs(t, err, budget.ErrValidation)

	items, err := mem.LineItems(ctx, budget.WorkspaceConcrete)
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, before, changeCount(t, mem))

	// AND: the same key is fine in another workspace
	_, err = ledger.CreateLineItem(ctx, budget.WorkspaceSandbox, actor, campsite())
	assert.NoError(t, err)
}

func TestLedger_ValidationErrors(t *testing.T) {
	ledger, mem := newLedger(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		field string
		edit  func(*budget.LineItem)
	}{
		{"unknown category", "category", func(li *budget.LineItem) { li.Category = "souvenirs" }},
		{"missing subcategory", "subcategory", func(li *budget.LineItem) { li.Subcategory = " " }},
		{"unknown split rule", "split_rule", func(li *budget.LineItem) { li.SplitRule = "pets" }},
		{"group unit with children split", "unit", func(li *budget.LineItem) {
			li.Unit = budget.UnitGroup
			li.SplitRule = budget.SplitChildren
		}},
		{"negative quantity", "quantity", func(li *budget.LineItem) { li.Quantity = budget.DecInt(-1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := campsite()
			tt.edit(&item)

			_, err := ledger.CreateLineItem(ctx, budget.WorkspaceConcrete, actor, item)

			var verr *budget.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
	assert.Zero(t, changeCount(t, mem))
}

func TestLedger_UpdateLineItemLogsChangedFields(t *testing.T) {
	// GIVEN: an existing item
	ledger, _ := newLedger(t)
	ctx := context.Background()
	created, err := ledger.CreateLineItem(ctx, budget.WorkspaceConcrete, actor, campsite())
	require.NoError(t, err)

	// WHEN: price and remarks change
	next := created
	next.PricePerPerson = budget.DecInt(14)
	next.Remarks = "high season"
	_, err = ledger.UpdateLineItem(ctx, budget.WorkspaceConcrete, "bob", next)
	require.NoError(t, err)

	// THEN: exactly those two fields are logged with old and new values
	entries, err := ledger.ChangeLog().Query(ctx, budget.ChangeFilter{RecordID: created.ID, Actor: "bob"})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	byField := map[string]budget.ChangeLogEntry{}
	for _, e := range entries {
		byField[e.Field] = e
	}
	price := byField["price_per_person"]
	require.NotNil(t, price.OldValue)
	assert.Equal(t, "12", *price.OldValue)
	assert.Equal(t, "14", *price.NewValue)
	assert.Equal(t, "high season", *byField["remarks"].NewValue)
}

func TestLedger_UpdateAndDeleteMissingItem(t *testing.T) {
	ledger, _ := newLedger(t)
	ctx := context.Background()

	item := campsite()
	item.ID = "nope"
	_, err := ledger.UpdateLineItem(ctx, budget.WorkspaceConcrete, actor, item)
	assert.ErrorIs(t, err, budget.ErrNotFound)

	err = ledger.DeleteLineItem(ctx, budget.WorkspaceConcrete, actor, "nope")
	assert.True(t, budget.IsNotFound(err))
}

func TestLedger_DeleteLineItemLogsSnapshot(t *testing.T) {
	ledger, mem := newLedger(t)
	ctx := context.Background()
	created, err := ledger.CreateLineItem(ctx, budget.WorkspaceConcrete, actor, campsite())
	require.NoError(t, err)

	require.NoError(t, ledger.DeleteLineItem(ctx, budget.WorkspaceConcrete, "carol", created.ID))

	items, _ := mem.LineItems(ctx, budget.WorkspaceConcrete)
	assert.Empty(t, items)
	entries, err := ledger.ChangeLog().Query(ctx, budget.ChangeFilter{Actor: "carol"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].Field)
	assert.Nil(t, entries[0].NewValue)
	assert.NotNil(t, entries[0].OldValue)
}

func TestLedger_Parameters(t *testing.T) {
	ledger, _ := newLedger(t)
	ctx := context.Background()

	// Absent parameters are not an error.
	p, err := ledger.Parameters(ctx, budget.WorkspaceSandbox2)
	require.NoError(t, err)
	assert.Nil(t, p)

	var notified []budget.Workspace
	ledger.SetInputsChanged(func(ws budget.Workspace) { notified = append(notified, ws) })

	seeded, err := ledger.SeedParameters(ctx, budget.WorkspaceSandbox2, actor)
	require.NoError(t, err)
	assert.NotEmpty(t, seeded.ID)

	// Seeding twice keeps the record.
	again, err := ledger.SeedParameters(ctx, budget.WorkspaceSandbox2, actor)
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, again.ID)

	update := budget.Parameters{ChildCount: budget.DecInt(20), LeaderCount: budget.DecInt(4)}
	saved, err := ledger.UpdateParameters(ctx, budget.WorkspaceSandbox2, actor, update)
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, saved.ID, "updated in place")
	assert.Equal(t, []budget.Workspace{budget.WorkspaceSandbox2}, notified)

	// Unchanged write logs nothing and does not notify.
	before, err := ledger.ChangeLog().Query(ctx, budget.ChangeFilter{Table: budget.TableParameters})
	require.NoError(t, err)
	_, err = ledger.UpdateParameters(ctx, budget.WorkspaceSandbox2, actor, update)
	require.NoError(t, err)
	after, err := ledger.ChangeLog().Query(ctx, budget.ChangeFilter{Table: budget.TableParameters})
	require.NoError(t, err)
	assert.Len(t, after, len(before))
	assert.Len(t, notified, 1)

	_, err = ledger.UpdateParameters(ctx, budget.WorkspaceSandbox2, actor, budget.Parameters{FuelPrice: budget.DecInt(-2)})
	assert.ErrorIs(t, err, budget.ErrValidation)
}

func TestLedger_Distances(t *testing.T) {
	ledger, _ := newLedger(t)
	ctx := context.Background()
	var notified int
	ledger.SetInputsChanged(func(budget.Workspace) { notified++ })

	// GIVEN: three days
	for day, v := range []int64{100, 80, 60} {
		_, err := ledger.SetDistance(ctx, budget.WorkspaceConcrete, actor, day+1, budget.DecInt(v))
		require.NoError(t, err)
	}

	// WHEN: day 2 is overwritten and day 3 deleted
	saved, err := ledger.SetDistance(ctx, budget.WorkspaceConcrete, actor, 2, budget.DecInt(90))
	require.NoError(t, err)
	require.NoError(t, ledger.DeleteDistanceDay(ctx, budget.WorkspaceConcrete, actor, 3))

	// THEN
	days, err := ledger.DistanceDays(ctx, budget.WorkspaceConcrete)
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, saved.ID, days[1].ID, "upsert keeps the record")
	assert.True(t, days[1].Distance.Decimal.Equal(decimal.NewFromInt(90)))
	assert.Equal(t, 5, notified)

	err = ledger.DeleteDistanceDay(ctx, budget.WorkspaceConcrete, actor, 7)
	assert.ErrorIs(t, err, budget.ErrNotFound)
	_, err = ledger.SetDistance(ctx, budget.WorkspaceConcrete, actor, 0, budget.DecInt(1))
	assert.ErrorIs(t, err, budget.ErrValidation)
}

func TestLedger_CreateLineItem_RecalculatorOwnsAutoFields(t *testing.T) {
	ledger, mem := newLedger(t)
	ctx := context.Background()

	t.Run("auto flag rejected before any write", func(t *testing.T) {
		item := campsite()
		item.Auto = true
		item.Total = budget.DecInt(5000)

		_, err := ledger.CreateLineItem(ctx, budget.WorkspaceConcrete, actor, item)

		var verr *budget.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "auto", verr.Field)
		assert.Equal(t, 0, changeCount(t, mem))
	})

	t.Run("total is dropped from manual items", func(t *testing.T) {
		item := campsite()
		item.Total = budget.DecInt(5000)

		created, err := ledger.CreateLineItem(ctx, budget.WorkspaceConcrete, actor, item)

		require.NoError(t, err)
		assert.False(t, created.Total.Valid)
		items, err := ledger.LineItems(ctx, budget.WorkspaceConcrete)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.False(t, items[0].Auto)
		assert.False(t, items[0].Total.Valid)
	})
}

func TestLedger_SetTotalDistance(t *testing.T) {
	ledger, _ := newLedger(t)
	ctx := context.Background()

	// Empty set: day one is created.
	totals, err := ledger.SetTotalDistance(ctx, budget.WorkspaceSandbox, actor, decimal.NewFromInt(75))
	require.NoError(t, err)
	assert.Equal(t, 1, totals.DayCount)
	assert.True(t, totals.Grand.Equal(decimal.NewFromInt(75)))

	// Eleven days: the extra lands on day eleven.
	for day := 1; day <= 11; day++ {
		_, err := ledger.SetDistance(ctx, budget.WorkspaceSandbox, actor, day, budget.DecInt(10))
		require.NoError(t, err)
	}
	totals, err = ledger.SetTotalDistance(ctx, budget.WorkspaceSandbox, actor, decimal.NewFromInt(140))
	require.NoError(t, err)
	assert.True(t, totals.Trip.Equal(decimal.NewFromInt(100)))
	assert.True(t, totals.Extra.Equal(decimal.NewFromInt(40)))
	assert.True(t, totals.Grand.Equal(decimal.NewFromInt(140)))

	_, err = ledger.SetTotalDistance(ctx, budget.WorkspaceSandbox, actor, decimal.NewFromInt(-1))
	assert.ErrorIs(t, err, budget.ErrValidation)
}

func TestLedger_SetTotalDistance_SeveralExtraDays(t *testing.T) {
	// GIVEN: ten trip days of 10, then extra days of 5 and 100
	ledger, mem := newLedger(t)
	ctx := context.Background()
	ws := budget.WorkspaceSandbox
	for day := 1; day <= 10; day++ {
		_, err := ledger.SetDistance(ctx, ws, actor, day, budget.DecInt(10))
		require.NoError(t, err)
	}
	_, err := ledger.SetDistance(ctx, ws, actor, 11, budget.DecInt(5))
	require.NoError(t, err)
	_, err = ledger.SetDistance(ctx, ws, actor, 12, budget.DecInt(100))
	require.NoError(t, err)
	before := changeCount(t, mem)

	// WHEN: the grand total is set below the current extra distance
	totals, err := ledger.SetTotalDistance(ctx, ws, actor, decimal.NewFromInt(130))

	// THEN: the extra bucket holds exactly the surplus
	require.NoError(t, err)
	assert.True(t, totals.Extra.Equal(decimal.NewFromInt(30)))
	assert.True(t, totals.Grand.Equal(decimal.NewFromInt(130)))

	days, err := ledger.DistanceDays(ctx, ws)
	require.NoError(t, err)
	require.Len(t, days, 12)
	assert.True(t, days[10].Distance.Decimal.Equal(decimal.NewFromInt(30)))
	assert.True(t, days[11].Distance.Decimal.IsZero())

	// AND: both day writes are logged
	assert.Equal(t, before+2, changeCount(t, mem))
}

func TestLedger_RecoverDistances(t *testing.T) {
	// GIVEN: day 1 went 12 -> 0, day 2 is fine, day 3 never had a value
	ledger, _ := newLedger(t)
	ctx := context.Background()
	ws := budget.WorkspaceConcrete

	_, err := ledger.SetDistance(ctx, ws, actor, 1, budget.DecInt(12))
	require.NoError(t, err)
	_, err = ledger.SetDistance(ctx, ws, actor, 1, budget.DecInt(0))
	require.NoError(t, err)
	_, err = ledger.SetDistance(ctx, ws, actor, 2, budget.DecInt(30))
	require.NoError(t, err)
	_, err = ledger.SetDistance(ctx, ws, actor, 3, decimal.NullDecimal{})
	require.NoError(t, err)

	// WHEN
	recovered, err := ledger.RecoverDistances(ctx, ws, "system")

	// THEN: only day 1 is written back
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, 1, recovered[0].Day)
	assert.True(t, recovered[0].Distance.Decimal.Equal(decimal.NewFromInt(12)))

	days, err := ledger.DistanceDays(ctx, ws)
	require.NoError(t, err)
	assert.True(t, days[0].Distance.Decimal.Equal(decimal.NewFromInt(12)))
	assert.False(t, days[2].Distance.Valid)
}

func TestLedger_Summary(t *testing.T) {
	ledger, _ := newLedger(t)
	ctx := context.Background()

	// Missing parameters count as zero.
	s, err := ledger.Summary(ctx, budget.WorkspaceSandbox)
	require.NoError(t, err)
	assert.True(t, s.GrandTotal.IsZero())

	_, err = ledger.UpdateParameters(ctx, budget.WorkspaceSandbox, actor, budget.Parameters{ChildCount: budget.DecInt(2)})
	require.NoError(t, err)
	_, err = ledger.CreateLineItem(ctx, budget.WorkspaceSandbox, actor, campsite())
	require.NoError(t, err)

	s, err = ledger.Summary(ctx, budget.WorkspaceSandbox)
	require.NoError(t, err)
	assert.True(t, s.ByCategory[budget.CategoryLodging].Equal(decimal.NewFromInt(216)))
}

func TestLedger_UnknownWorkspace(t *testing.T) {
	ledger, _ := newLedger(t)
	_, err := ledger.LineItems(context.Background(), "production")
	assert.True(t, errors.Is(err, budget.ErrValidation))
}
