/*
Package budget provides the versioned trip budget ledger.

PURPOSE:
  This package holds the domain types and algorithms for planning the shared
  budget of a multi-day trip: priced line items, trip-wide parameters,
  per-day distances, and the field-level change log that makes every edit
  auditable. Totals are always derived through the Cost Resolver; nothing
  stores a display total that could drift from its inputs.

KEY CONCEPTS IN THIS FILE (types.go):
  - Workspace: one of three isolated copies of the budget (concrete, sandbox, sandbox2)
  - Parameters: one record per workspace (participant counts, prices, buffers)
  - LineItem: a priced entry, grouped by category
  - DistanceDay: distance traveled on one day of the trip
  - ChangeLogEntry: immutable old/new record of a single field change

DESIGN PRINCIPLES:
  1. Explicit workspace: every call names the workspace it touches
  2. Precision: amounts use decimal.Decimal; nullable numbers use decimal.NullDecimal
  3. Closed enums: split rules and categories are validated at the boundary
  4. Auditability: every mutation emits change log entries

SEE ALSO:
  - resolver.go: Cost Resolver
  - ledger.go: workspace-scoped read/write service
  - promotion.go: copying one workspace onto another
*/
package budget

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// WORKSPACE
// =============================================================================

// Workspace identifies one of the isolated copies of the budget data.
type Workspace string

const (
	WorkspaceConcrete Workspace = "concrete"
	WorkspaceSandbox  Workspace = "sandbox"
	WorkspaceSandbox2 Workspace = "sandbox2"
)

// Workspaces returns all known workspaces in display order.
func Workspaces() []Workspace {
	return []Workspace{WorkspaceConcrete, WorkspaceSandbox, WorkspaceSandbox2}
}

// ParseWorkspace validates a workspace identifier.
func ParseWorkspace(s string) (Workspace, error) {
	ws := Workspace(s)
	if !ws.Valid() {
		return "", &ValidationError{Field: "workspace", Reason: fmt.Sprintf("unknown workspace %q", s)}
	}
	return ws, nil
}

func (w Workspace) Valid() bool {
	switch w {
	case WorkspaceConcrete, WorkspaceSandbox, WorkspaceSandbox2:
		return true
	}
	return false
}

// =============================================================================
// ENUMS - Category, pricing unit, split rule
// =============================================================================

type Category string

const (
	CategoryLodging           Category = "lodging"
	CategoryTransport         Category = "transport"
	CategoryFood              Category = "food"
	CategorySpecialActivities Category = "special_activities"
	CategoryOther             Category = "other"
)

// Categories returns the fixed category set in display order.
func Categories() []Category {
	return []Category{CategoryLodging, CategoryTransport, CategoryFood, CategorySpecialActivities, CategoryOther}
}

func (c Category) Valid() bool {
	switch c {
	case CategoryLodging, CategoryTransport, CategoryFood, CategorySpecialActivities, CategoryOther:
		return true
	}
	return false
}

// Unit is the pricing unit of a line item. Anything other than person or
// group is priced per occurrence (quantity).
type Unit string

const (
	UnitPerson Unit = "person"
	UnitGroup  Unit = "group"
	UnitOther  Unit = "other"
)

// SplitRule says which participant group(s) bear a line item's cost.
type SplitRule string

const (
	SplitEveryone           SplitRule = "everyone"
	SplitChildren           SplitRule = "children"
	SplitLeaders            SplitRule = "leaders"
	SplitChildrenAndLeaders SplitRule = "children_and_leaders"
)

// ParseSplitRule rejects anything outside the closed set.
func ParseSplitRule(s string) (SplitRule, error) {
	r := SplitRule(s)
	switch r {
	case SplitEveryone, SplitChildren, SplitLeaders, SplitChildrenAndLeaders:
		return r, nil
	}
	return "", &ValidationError{Field: "split_rule", Reason: fmt.Sprintf("unknown split rule %q", s)}
}

// =============================================================================
// PARAMETERS - One per workspace
// =============================================================================

// Parameters holds the trip-wide inputs of a workspace. Every numeric field is
// nullable; absence counts as zero in computations.
type Parameters struct {
	ID        string
	Workspace Workspace

	ChildCount  decimal.NullDecimal
	LeaderCount decimal.NullDecimal

	// Price asked of each participant, per group.
	ChildPrice  decimal.NullDecimal
	LeaderPrice decimal.NullDecimal

	BufferPercent decimal.NullDecimal

	TransportDailyRate          decimal.NullDecimal
	TransportFreeDistancePerDay decimal.NullDecimal
	TransportExtraUnitPrice     decimal.NullDecimal

	FuelPrice              decimal.NullDecimal
	SupportVehicleDistance decimal.NullDecimal

	CateringPricePerDay decimal.NullDecimal
	CateringDays        decimal.NullDecimal

	UpdatedAt time.Time
}

// Participants returns children + leaders.
func (p Parameters) Participants() decimal.Decimal {
	return orZero(p.ChildCount).Add(orZero(p.LeaderCount))
}

// =============================================================================
// LINE ITEM
// =============================================================================

type LineItem struct {
	ID          string
	Workspace   Workspace
	Category    Category
	Subcategory string
	Description string
	Unit        Unit
	SplitRule   SplitRule

	PricePerPerson decimal.NullDecimal
	PricePerChild  decimal.NullDecimal
	PricePerLeader decimal.NullDecimal
	Quantity       decimal.NullDecimal

	// TotalOverride wins over every other field when set, zero included.
	TotalOverride decimal.NullDecimal

	// Total is written by the recalculator for auto items only.
	Total decimal.NullDecimal

	Remarks           string
	Auto              bool
	BilledToTransport bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ItemKey is the de-duplication key of a line item within a workspace.
type ItemKey struct {
	Category    Category
	Subcategory string
	Description string
	Auto        bool
}

func (li LineItem) Key() ItemKey {
	return ItemKey{Category: li.Category, Subcategory: li.Subcategory, Description: li.Description, Auto: li.Auto}
}

func (k ItemKey) String() string {
	return fmt.Sprintf("%s/%s/%s (auto=%t)", k.Category, k.Subcategory, k.Description, k.Auto)
}

// =============================================================================
// DISTANCE DAY
// =============================================================================

type DistanceDay struct {
	ID        string
	Workspace Workspace
	Day       int
	Distance  decimal.NullDecimal
}

// =============================================================================
// CHANGE LOG ENTRY - Append-only, global
// =============================================================================

// Table names the logical collection a change log entry refers to.
type Table string

const (
	TableLineItems    Table = "line_items"
	TableDistanceDays Table = "distance_days"
	TableParameters   Table = "parameters"
)

// ChangeLogEntry records one field change. An empty Field denotes a
// whole-record create (OldValue nil) or delete (NewValue nil).
type ChangeLogEntry struct {
	ID        string
	Workspace Workspace
	Table     Table
	RecordID  string
	Field     string
	OldValue  *string
	NewValue  *string
	Actor     string
	At        time.Time
}

// ChangeFilter selects change log entries. Zero values do not filter.
type ChangeFilter struct {
	Workspace Workspace
	Table     Table
	RecordID  string
	Field     string
	Actor     string
	From      *time.Time
	To        *time.Time
	Limit     int
}

// =============================================================================
// HELPERS
// =============================================================================

func orZero(d decimal.NullDecimal) decimal.Decimal {
	if !d.Valid {
		return decimal.Zero
	}
	return d.Decimal
}

// Dec wraps a decimal as a set nullable value.
func Dec(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// DecInt is shorthand for a set nullable integer value.
func DecInt(v int64) decimal.NullDecimal {
	return Dec(decimal.NewFromInt(v))
}

// DecString parses s; empty means null.
func DecString(s string) (decimal.NullDecimal, error) {
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return Dec(d), nil
}

func nullEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}
