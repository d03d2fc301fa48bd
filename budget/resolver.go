/*
resolver.go - Cost Resolver

PURPOSE:
  Turns a line item plus the workspace parameters into a monetary amount.
  Every read path (item lists, category totals, summary, CLI) goes through
  Resolve; no caller computes a total on its own.

PRECEDENCE (top to bottom):
  1. TotalOverride set (zero included)   -> returned verbatim
  2. Auto item with a recalculated Total -> returned verbatim
  3. Split rule:
       children_and_leaders: perChild*children*qty + perLeader*leaders*qty
       children:             perChild*children        (unit person)
                             perChild*children*qty    (otherwise)
       leaders:              symmetric to children
       everyone:             perPerson*(children+leaders)        (unit person)
                             override, else perPerson as flat    (unit group)
                             perPerson*(children+leaders)*qty    (otherwise)

  Missing numbers count as zero. A missing quantity counts as one, which is
  the default every stored item gets.

SEE ALSO:
  - recalc.go: writes Total on auto items
  - ledger.go: Summary uses Summarize
*/
package budget

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Resolve computes the amount of a line item. Pure: no I/O.
func Resolve(item LineItem, p Parameters) decimal.Decimal {
	if item.TotalOverride.Valid {
		return item.TotalOverride.Decimal
	}
	if item.Auto && item.Total.Valid {
		return item.Total.Decimal
	}

	children := orZero(p.ChildCount)
	leaders := orZero(p.LeaderCount)
	qty := quantity(item)

	switch item.SplitRule {
	case SplitChildrenAndLeaders:
		return orZero(item.PricePerChild).Mul(children).Mul(qty).
			Add(orZero(item.PricePerLeader).Mul(leaders).Mul(qty))

	case SplitChildren:
		return perGroup(item.Unit, orZero(item.PricePerChild), children, qty)

	case SplitLeaders:
		return perGroup(item.Unit, orZero(item.PricePerLeader), leaders, qty)

	case SplitEveryone:
		people := children.Add(leaders)
		price := orZero(item.PricePerPerson)
		switch item.Unit {
		case UnitPerson:
			return price.Mul(people)
		case UnitGroup:
			// Group items reuse the per-person field as a flat amount.
			if item.TotalOverride.Valid {
				return item.TotalOverride.Decimal
			}
			return price
		default:
			return price.Mul(people).Mul(qty)
		}
	}

	// Split rules are validated on write; an unknown rule contributes nothing.
	return decimal.Zero
}

func perGroup(unit Unit, price, count, qty decimal.Decimal) decimal.Decimal {
	if unit == UnitPerson {
		return price.Mul(count)
	}
	return price.Mul(count).Mul(qty)
}

func quantity(item LineItem) decimal.Decimal {
	if !item.Quantity.Valid {
		return decimal.NewFromInt(1)
	}
	return item.Quantity.Decimal
}

// TotalsByCategory sums Resolve over each category's items. Every category is
// present in the result, empty ones at zero.
func TotalsByCategory(items []LineItem, p Parameters) map[Category]decimal.Decimal {
	totals := make(map[Category]decimal.Decimal, len(Categories()))
	for _, c := range Categories() {
		totals[c] = decimal.Zero
	}
	for _, item := range items {
		totals[item.Category] = totals[item.Category].Add(Resolve(item, p))
	}
	return totals
}

// =============================================================================
// SUMMARY
// =============================================================================

// Summary is the derived budget view of one workspace.
type Summary struct {
	Workspace  Workspace
	ByCategory map[Category]decimal.Decimal

	// TransportRollup is the transport category plus manual items billed to transport.
	TransportRollup decimal.Decimal

	Subtotal   decimal.Decimal
	Buffer     decimal.Decimal
	GrandTotal decimal.Decimal

	// Income is what the participants are asked to pay in total.
	Income  decimal.Decimal
	Balance decimal.Decimal

	// SupportVehicleRoundTrip is the summary view's fuel figure. It doubles the
	// single-leg distance, unlike the recalculated support vehicle item.
	SupportVehicleRoundTrip decimal.Decimal

	Distance DistanceTotals
}

// Summarize derives the budget summary from raw workspace state.
func Summarize(ws Workspace, items []LineItem, p Parameters, days []DistanceDay) Summary {
	s := Summary{
		Workspace:       ws,
		ByCategory:      TotalsByCategory(items, p),
		TransportRollup: decimal.Zero,
		Subtotal:        decimal.Zero,
		Distance:        Aggregate(days),
	}

	for _, c := range Categories() {
		s.Subtotal = s.Subtotal.Add(s.ByCategory[c])
	}

	s.TransportRollup = s.ByCategory[CategoryTransport]
	for _, item := range items {
		if item.BilledToTransport && !item.Auto && item.Category != CategoryTransport {
			s.TransportRollup = s.TransportRollup.Add(Resolve(item, p))
		}
	}

	s.Buffer = s.Subtotal.Mul(orZero(p.BufferPercent)).Div(hundred)
	s.GrandTotal = s.Subtotal.Add(s.Buffer)

	s.Income = orZero(p.ChildCount).Mul(orZero(p.ChildPrice)).
		Add(orZero(p.LeaderCount).Mul(orZero(p.LeaderPrice)))
	s.Balance = s.Income.Sub(s.GrandTotal)

	s.SupportVehicleRoundTrip = orZero(p.SupportVehicleDistance).Mul(orZero(p.FuelPrice)).Mul(decimal.NewFromInt(2))

	return s
}
