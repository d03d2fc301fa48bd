/*
distance.go - Distance Aggregator

PURPOSE:
  Keeps a virtual "total distance" without losing per-day granularity.
  Days are ordered by sequence; the first TripDayLimit days are trip days,
  every later day is folded into a single extra bucket that only matters for
  cost aggregation.

  tripTotal  = sum(first 10 days)
  extraTotal = sum(days beyond the 10th)
  grandTotal = tripTotal + extraTotal

SETTING THE GRAND TOTAL:
  newExtra = max(0, newGrand - tripTotal) lands on the first day beyond the
  10th and any later extra days are zeroed. With fewer than 11 days it is added to the last existing day; with no
  days at all a first day is created.
*/
package budget

import (
	"sort"

	"github.com/shopspring/decimal"
)

// TripDayLimit is the number of leading days counted as trip days.
const TripDayLimit = 10

type DistanceTotals struct {
	DayCount int
	TripDays int
	Trip     decimal.Decimal
	Extra    decimal.Decimal
	Grand    decimal.Decimal
}

// SortDays returns a copy of days ordered by sequence.
func SortDays(days []DistanceDay) []DistanceDay {
	sorted := make([]DistanceDay, len(days))
	copy(sorted, days)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Day < sorted[j].Day })
	return sorted
}

// Aggregate computes trip, extra and grand totals.
func Aggregate(days []DistanceDay) DistanceTotals {
	sorted := SortDays(days)
	t := DistanceTotals{
		DayCount: len(sorted),
		TripDays: min(TripDayLimit, len(sorted)),
		Trip:     decimal.Zero,
		Extra:    decimal.Zero,
	}
	for i, d := range sorted {
		if i < TripDayLimit {
			t.Trip = t.Trip.Add(orZero(d.Distance))
		} else {
			t.Extra = t.Extra.Add(orZero(d.Distance))
		}
	}
	t.Grand = t.Trip.Add(t.Extra)
	return t
}

// TripDayIDs returns the ids of the days that count as trip days: the first
// TripDayLimit by sequence, whatever their day numbers.
func TripDayIDs(days []DistanceDay) map[string]bool {
	sorted := SortDays(days)
	ids := make(map[string]bool, TripDayLimit)
	for i := 0; i < len(sorted) && i < TripDayLimit; i++ {
		ids[sorted[i].ID] = true
	}
	return ids
}

// BucketWrite is one day write that realizes a new grand total.
type BucketWrite struct {
	// Insert is set when no day exists and Day must be created.
	Insert bool
	Day    DistanceDay
	Old    decimal.NullDecimal
}

// PlanGrandTotal translates a grand-total edit into writes on the extra
// bucket. The first write carries the new extra distance; when more than one
// day lies beyond the trip days, the later ones are zeroed so the bucket
// holds exactly max(0, newGrand - trip total).
func PlanGrandTotal(ws Workspace, days []DistanceDay, newGrand decimal.Decimal) []BucketWrite {
	sorted := SortDays(days)
	totals := Aggregate(sorted)
	newExtra := decimal.Max(decimal.Zero, newGrand.Sub(totals.Trip))

	if len(sorted) == 0 {
		return []BucketWrite{{
			Insert: true,
			Day:    DistanceDay{Workspace: ws, Day: 1, Distance: Dec(newExtra)},
		}}
	}

	if len(sorted) <= TripDayLimit {
		last := sorted[len(sorted)-1]
		w := BucketWrite{Day: last, Old: last.Distance}
		w.Day.Distance = Dec(orZero(last.Distance).Add(newExtra))
		return []BucketWrite{w}
	}

	bucket := sorted[TripDayLimit]
	w := BucketWrite{Day: bucket, Old: bucket.Distance}
	w.Day.Distance = Dec(newExtra)
	writes := []BucketWrite{w}
	for _, d := range sorted[TripDayLimit+1:] {
		if d.Distance.Valid && d.Distance.Decimal.IsZero() {
			continue
		}
		z := BucketWrite{Day: d, Old: d.Distance}
		z.Day.Distance = Dec(decimal.Zero)
		writes = append(writes, z)
	}
	return writes
}
