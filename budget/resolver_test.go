package budget_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/trip-budget/budget"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func params(children, leaders int64) budget.Parameters {
	return budget.Parameters{
		Workspace:   budget.WorkspaceConcrete,
		ChildCount:  budget.DecInt(children),
		LeaderCount: budget.DecInt(leaders),
	}
}

func TestResolve_OverrideWinsOverEverything(t *testing.T) {
	// GIVEN: items of every split rule and unit, each with an override
	// WHEN: resolving
	// THEN: the override is returned verbatim, zero included
	p := params(20, 4)
	rules := []budget.SplitRule{budget.SplitEveryone, budget.SplitChildren, budget.SplitLeaders, budget.SplitChildrenAndLeaders}
	units := []budget.Unit{budget.UnitPerson, budget.UnitGroup, budget.UnitOther}

	for _, override := range []string{"0", "123.45"} {
		for _, rule := range rules {
			for _, unit := range units {
				item := budget.LineItem{
					SplitRule:      rule,
					Unit:           unit,
					PricePerPerson: budget.DecInt(10),
					PricePerChild:  budget.DecInt(7),
					PricePerLeader: budget.DecInt(3),
					Quantity:       budget.DecInt(5),
					TotalOverride:  budget.Dec(d(override)),
				}
				got := budget.Resolve(item, p)
				assert.True(t, got.Equal(d(override)), "%s/%s override %s got %s", rule, unit, override, got)
			}
		}
	}
}

func TestResolve_SplitRules(t *testing.T) {
	p := params(20, 4)

	tests := []struct {
		name string
		item budget.LineItem
		want string
	}{
		{
			name: "children and leaders multiply by quantity",
			item: budget.LineItem{SplitRule: budget.SplitChildrenAndLeaders, Unit: budget.UnitPerson,
				PricePerChild: budget.DecInt(7), PricePerLeader: budget.DecInt(3), Quantity: budget.DecInt(2)},
			want: "304", // 7*20*2 + 3*4*2
		},
		{
			name: "children per person ignores quantity",
			item: budget.LineItem{SplitRule: budget.SplitChildren, Unit: budget.UnitPerson,
				PricePerChild: budget.DecInt(5), Quantity: budget.DecInt(9)},
			want: "100",
		},
		{
			name: "children per other unit uses quantity",
			item: budget.LineItem{SplitRule: budget.SplitChildren, Unit: budget.UnitOther,
				PricePerChild: budget.DecInt(5), Quantity: budget.DecInt(3)},
			want: "300",
		},
		{
			name: "leaders per person",
			item: budget.LineItem{SplitRule: budget.SplitLeaders, Unit: budget.UnitPerson,
				PricePerLeader: budget.DecInt(11)},
			want: "44",
		},
		{
			name: "leaders per other unit",
			item: budget.LineItem{SplitRule: budget.SplitLeaders, Unit: budget.UnitOther,
				PricePerLeader: budget.DecInt(11), Quantity: budget.DecInt(2)},
			want: "88",
		},
		{
			name: "everyone per person",
			item: budget.LineItem{SplitRule: budget.SplitEveryone, Unit: budget.UnitPerson,
				PricePerPerson: budget.DecInt(10), Quantity: budget.DecInt(3)},
			want: "240",
		},
		{
			name: "everyone group falls back to per-person field as flat amount",
			item: budget.LineItem{SplitRule: budget.SplitEveryone, Unit: budget.UnitGroup,
				PricePerPerson: budget.DecInt(60), Quantity: budget.DecInt(3)},
			want: "60",
		},
		{
			name: "everyone other unit",
			item: budget.LineItem{SplitRule: budget.SplitEveryone, Unit: budget.UnitOther,
				PricePerPerson: budget.Dec(d("2.5")), Quantity: budget.DecInt(4)},
			want: "240",
		},
		{
			name: "missing prices count as zero",
			item: budget.LineItem{SplitRule: budget.SplitChildrenAndLeaders, Unit: budget.UnitPerson},
			want: "0",
		},
		{
			name: "missing quantity counts as one",
			item: budget.LineItem{SplitRule: budget.SplitChildren, Unit: budget.UnitOther,
				PricePerChild: budget.DecInt(2)},
			want: "40",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := budget.Resolve(tt.item, p)
			assert.True(t, got.Equal(d(tt.want)), "want %s, got %s", tt.want, got)
		})
	}
}

func TestResolve_ChildrenAndLeadersProperty(t *testing.T) {
	// For non-negative inputs: perChild*children*qty + perLeader*leaders*qty
	for children := int64(0); children <= 6; children += 3 {
		for leaders := int64(0); leaders <= 4; leaders += 2 {
			for qty := int64(0); qty <= 3; qty++ {
				p := params(children, leaders)
				item := budget.LineItem{
					SplitRule:      budget.SplitChildrenAndLeaders,
					Unit:           budget.UnitOther,
					PricePerChild:  budget.Dec(d("12.5")),
					PricePerLeader: budget.Dec(d("4.25")),
					Quantity:       budget.DecInt(qty),
				}
				want := d("12.5").Mul(decimal.NewFromInt(children * qty)).
					Add(d("4.25").Mul(decimal.NewFromInt(leaders * qty)))
				assert.True(t, budget.Resolve(item, p).Equal(want))
			}
		}
	}
}

func TestResolve_AutoItemUsesRecalculatedTotal(t *testing.T) {
	item := budget.LineItem{
		SplitRule:      budget.SplitEveryone,
		Unit:           budget.UnitOther,
		PricePerPerson: budget.DecInt(10),
		Quantity:       budget.DecInt(3),
		Total:          budget.DecInt(999),
		Auto:           true,
	}
	assert.True(t, budget.Resolve(item, params(1, 1)).Equal(d("999")))

	// A manual item never reads Total.
	item.Auto = false
	assert.True(t, budget.Resolve(item, params(1, 1)).Equal(d("60")))
}

func TestTotalsByCategory(t *testing.T) {
	p := params(10, 2)
	items := []budget.LineItem{
		{Category: budget.CategoryLodging, SplitRule: budget.SplitEveryone, Unit: budget.UnitPerson, PricePerPerson: budget.DecInt(10)},
		{Category: budget.CategoryLodging, SplitRule: budget.SplitEveryone, Unit: budget.UnitGroup, TotalOverride: budget.DecInt(30)},
		{Category: budget.CategoryFood, SplitRule: budget.SplitChildren, Unit: budget.UnitPerson, PricePerChild: budget.DecInt(2)},
	}

	totals := budget.TotalsByCategory(items, p)

	assert.Len(t, totals, len(budget.Categories()))
	assert.True(t, totals[budget.CategoryLodging].Equal(d("150")))
	assert.True(t, totals[budget.CategoryFood].Equal(d("20")))
	assert.True(t, totals[budget.CategoryOther].IsZero())
}

func TestSummarize(t *testing.T) {
	// GIVEN: a workspace with a transport item, a billed-to-transport item and a buffer
	p := params(10, 2)
	p.ChildPrice = budget.DecInt(100)
	p.LeaderPrice = budget.DecInt(50)
	p.BufferPercent = budget.DecInt(10)
	p.SupportVehicleDistance = budget.DecInt(300)
	p.FuelPrice = budget.Dec(d("0.5"))

	items := []budget.LineItem{
		{Category: budget.CategoryTransport, SplitRule: budget.SplitEveryone, Unit: budget.UnitGroup, PricePerPerson: budget.DecInt(400)},
		{Category: budget.CategoryOther, SplitRule: budget.SplitEveryone, Unit: budget.UnitPerson, PricePerPerson: budget.DecInt(5), BilledToTransport: true},
		{Category: budget.CategoryLodging, SplitRule: budget.SplitEveryone, Unit: budget.UnitPerson, PricePerPerson: budget.DecInt(20)},
	}
	days := []budget.DistanceDay{{Day: 1, Distance: budget.DecInt(120)}, {Day: 2, Distance: budget.DecInt(80)}}

	// WHEN
	s := budget.Summarize(budget.WorkspaceConcrete, items, p, days)

	// THEN
	assert.True(t, s.Subtotal.Equal(d("700")), "subtotal %s", s.Subtotal)          // 400 + 60 + 240
	assert.True(t, s.TransportRollup.Equal(d("460")), "rollup %s", s.TransportRollup) // 400 + 60
	assert.True(t, s.Buffer.Equal(d("70")))
	assert.True(t, s.GrandTotal.Equal(d("770")))
	assert.True(t, s.Income.Equal(d("1100")))
	assert.True(t, s.Balance.Equal(d("330")))
	assert.True(t, s.SupportVehicleRoundTrip.Equal(d("300")), "round trip doubles the single leg")
	assert.True(t, s.Distance.Grand.Equal(d("200")))
}
