/*
changelog.go - Field-level change log and best-effort recovery

PURPOSE:
  Every mutation of a line item, distance day or parameters record appends
  one entry per changed field (old/new serialized as strings). Whole-record
  creates and deletes are logged with an empty field name and a JSON
  snapshot of the record on the side that exists.

RECOVERY (RecoverIfZero):
  When a day's distance is zero or null, the log history of that day's
  "distance" field is scanned newest-first; for each entry the old value is
  tried before the new value, and the first positive number wins. This is a
  heuristic that guesses intent from history. It is not a restore guarantee.
*/
package budget

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FieldChange is one field's old and new serialized value.
type FieldChange struct {
	Field string
	Old   *string
	New   *string
}

// ChangeLog appends and queries change log entries.
type ChangeLog struct {
	store Store
	now   func() time.Time
}

func NewChangeLog(store Store) *ChangeLog {
	return &ChangeLog{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// on returns a change log writing through s, typically a transaction.
func (c *ChangeLog) on(s Store) *ChangeLog {
	return &ChangeLog{store: s, now: c.now}
}

// Record appends a single entry.
func (c *ChangeLog) Record(ctx context.Context, ws Workspace, table Table, recordID, field string, oldValue, newValue *string, actor string) error {
	entry := ChangeLogEntry{
		ID:        uuid.NewString(),
		Workspace: ws,
		Table:     table,
		RecordID:  recordID,
		Field:     field,
		OldValue:  oldValue,
		NewValue:  newValue,
		Actor:     actor,
		At:        c.now(),
	}
	return wrapStore("append change", table, c.store.AppendChange(ctx, entry))
}

// RecordChanges appends one entry per change, stopping at the first failure.
func (c *ChangeLog) RecordChanges(ctx context.Context, ws Workspace, table Table, recordID string, changes []FieldChange, actor string) error {
	for _, ch := range changes {
		if err := c.Record(ctx, ws, table, recordID, ch.Field, ch.Old, ch.New, actor); err != nil {
			return err
		}
	}
	return nil
}

func (c *ChangeLog) Query(ctx context.Context, filter ChangeFilter) ([]ChangeLogEntry, error) {
	entries, err := c.store.Changes(ctx, filter)
	return entries, wrapStore("query changes", "change_log", err)
}

// RecoverIfZero guesses a lost distance from the day's history. It returns
// the current distance untouched when it is already non-zero, and reports
// whether a value was recovered.
func (c *ChangeLog) RecoverIfZero(ctx context.Context, day DistanceDay) (decimal.Decimal, bool, error) {
	if day.Distance.Valid && !day.Distance.Decimal.IsZero() {
		return day.Distance.Decimal, false, nil
	}

	entries, err := c.Query(ctx, ChangeFilter{
		Workspace: day.Workspace,
		Table:     TableDistanceDays,
		RecordID:  day.ID,
		Field:     fieldDistance,
	})
	if err != nil {
		return decimal.Zero, false, err
	}

	for _, e := range entries {
		for _, v := range []*string{e.OldValue, e.NewValue} {
			if n, ok := positiveNumber(v); ok {
				return n, true, nil
			}
		}
	}
	return decimal.Zero, false, nil
}

func positiveNumber(v *string) (decimal.Decimal, bool) {
	if v == nil {
		return decimal.Zero, false
	}
	n, err := decimal.NewFromString(*v)
	if err != nil || !n.IsPositive() {
		return decimal.Zero, false
	}
	return n, true
}

// =============================================================================
// FIELD SERIALIZATION
// =============================================================================

const fieldDistance = "distance"

type fieldValue struct {
	name  string
	value *string
}

func strVal(s string) *string { return &s }

func decVal(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	return strVal(d.Decimal.String())
}

func boolVal(b bool) *string { return strVal(strconv.FormatBool(b)) }

func lineItemFields(li LineItem) []fieldValue {
	return []fieldValue{
		{"category", strVal(string(li.Category))},
		{"subcategory", strVal(li.Subcategory)},
		{"description", strVal(li.Description)},
		{"unit", strVal(string(li.Unit))},
		{"split_rule", strVal(string(li.SplitRule))},
		{"price_per_person", decVal(li.PricePerPerson)},
		{"price_per_child", decVal(li.PricePerChild)},
		{"price_per_leader", decVal(li.PricePerLeader)},
		{"quantity", decVal(li.Quantity)},
		{"total_override", decVal(li.TotalOverride)},
		{"total", decVal(li.Total)},
		{"remarks", strVal(li.Remarks)},
		{"auto", boolVal(li.Auto)},
		{"billed_to_transport", boolVal(li.BilledToTransport)},
	}
}

func distanceDayFields(d DistanceDay) []fieldValue {
	return []fieldValue{
		{"day", strVal(strconv.Itoa(d.Day))},
		{fieldDistance, decVal(d.Distance)},
	}
}

func parameterFields(p Parameters) []fieldValue {
	return []fieldValue{
		{"child_count", decVal(p.ChildCount)},
		{"leader_count", decVal(p.LeaderCount)},
		{"child_price", decVal(p.ChildPrice)},
		{"leader_price", decVal(p.LeaderPrice)},
		{"buffer_percent", decVal(p.BufferPercent)},
		{"transport_daily_rate", decVal(p.TransportDailyRate)},
		{"transport_free_distance_per_day", decVal(p.TransportFreeDistancePerDay)},
		{"transport_extra_unit_price", decVal(p.TransportExtraUnitPrice)},
		{"fuel_price", decVal(p.FuelPrice)},
		{"support_vehicle_distance", decVal(p.SupportVehicleDistance)},
		{"catering_price_per_day", decVal(p.CateringPricePerDay)},
		{"catering_days", decVal(p.CateringDays)},
	}
}

// diffFields compares two field lists of the same record type.
func diffFields(before, after []fieldValue) []FieldChange {
	var changes []FieldChange
	for i := range after {
		if samePtr(before[i].value, after[i].value) {
			continue
		}
		changes = append(changes, FieldChange{Field: after[i].name, Old: before[i].value, New: after[i].value})
	}
	return changes
}

// createChanges logs every set field of a new record as a change from null,
// preceded by the whole-record entry.
func createChanges(fields []fieldValue) []FieldChange {
	changes := []FieldChange{{New: snapshot(fields)}}
	for _, f := range fields {
		if f.value != nil {
			changes = append(changes, FieldChange{Field: f.name, New: f.value})
		}
	}
	return changes
}

func deleteChanges(fields []fieldValue) []FieldChange {
	return []FieldChange{{Old: snapshot(fields)}}
}

func snapshot(fields []fieldValue) *string {
	m := make(map[string]*string, len(fields))
	for _, f := range fields {
		m[f.name] = f.value
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return strVal(string(b))
}

func samePtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
