/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the budget domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

NUMBERS:
  Amounts are decimal.Decimal / decimal.NullDecimal. They are written as
  JSON strings ("12.50") and accepted as strings or numbers. null clears a
  nullable field.

VALIDATION:
  Request types carry `validate` tags checked by go-playground/validator
  before anything reaches the ledger. Domain rules (de-dup key, unit and
  split rule combinations) are still enforced by budget.Ledger.

SEE ALSO:
  - handlers.go: Uses these types
  - budget/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/trip-budget/budget"
)

// =============================================================================
// LINE ITEMS
// =============================================================================

// LineItemDTO represents a line item with its resolved amount.
type LineItemDTO struct {
	ID                string              `json:"id"`
	Workspace         string              `json:"workspace"`
	Category          string              `json:"category"`
	Subcategory       string              `json:"subcategory"`
	Description       string              `json:"description"`
	Unit              string              `json:"unit"`
	SplitRule         string              `json:"split_rule"`
	PricePerPerson    decimal.NullDecimal `json:"price_per_person"`
	PricePerChild     decimal.NullDecimal `json:"price_per_child"`
	PricePerLeader    decimal.NullDecimal `json:"price_per_leader"`
	Quantity          decimal.NullDecimal `json:"quantity"`
	TotalOverride     decimal.NullDecimal `json:"total_override"`
	Amount            decimal.Decimal     `json:"amount"`
	Remarks           string              `json:"remarks"`
	Auto              bool                `json:"auto"`
	BilledToTransport bool                `json:"billed_to_transport"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// LineItemsResponse lists a workspace's items with per-category totals.
type LineItemsResponse struct {
	Items  []LineItemDTO              `json:"items"`
	Totals map[string]decimal.Decimal `json:"totals"`
}

// LineItemRequest is the body of create and update. Auto items are owned by
// the recalculator and cannot be created through the API.
type LineItemRequest struct {
	Category          string              `json:"category"     validate:"required,oneof=lodging transport food special_activities other"`
	Subcategory       string              `json:"subcategory"  validate:"required,max=120"`
	Description       string              `json:"description"  validate:"max=500"`
	Unit              string              `json:"unit"         validate:"omitempty,oneof=person group other"`
	SplitRule         string              `json:"split_rule"   validate:"omitempty,oneof=everyone children leaders children_and_leaders"`
	PricePerPerson    decimal.NullDecimal `json:"price_per_person"`
	PricePerChild     decimal.NullDecimal `json:"price_per_child"`
	PricePerLeader    decimal.NullDecimal `json:"price_per_leader"`
	Quantity          decimal.NullDecimal `json:"quantity"`
	TotalOverride     decimal.NullDecimal `json:"total_override"`
	Remarks           string              `json:"remarks"      validate:"max=1000"`
	BilledToTransport bool                `json:"billed_to_transport"`
}

func (req LineItemRequest) toDomain() budget.LineItem {
	return budget.LineItem{
		Category:          budget.Category(req.Category),
		Subcategory:       req.Subcategory,
		Description:       req.Description,
		Unit:              budget.Unit(req.Unit),
		SplitRule:         budget.SplitRule(req.SplitRule),
		PricePerPerson:    req.PricePerPerson,
		PricePerChild:     req.PricePerChild,
		PricePerLeader:    req.PricePerLeader,
		Quantity:          req.Quantity,
		TotalOverride:     req.TotalOverride,
		Remarks:           req.Remarks,
		BilledToTransport: req.BilledToTransport,
	}
}

func toLineItemDTO(li budget.LineItem, p budget.Parameters) LineItemDTO {
	return LineItemDTO{
		ID:                li.ID,
		Workspace:         string(li.Workspace),
		Category:          string(li.Category),
		Subcategory:       li.Subcategory,
		Description:       li.Description,
		Unit:              string(li.Unit),
		SplitRule:         string(li.SplitRule),
		PricePerPerson:    li.PricePerPerson,
		PricePerChild:     li.PricePerChild,
		PricePerLeader:    li.PricePerLeader,
		Quantity:          li.Quantity,
		TotalOverride:     li.TotalOverride,
		Amount:            budget.Resolve(li, p),
		Remarks:           li.Remarks,
		Auto:              li.Auto,
		BilledToTransport: li.BilledToTransport,
		UpdatedAt:         li.UpdatedAt,
	}
}

// =============================================================================
// PARAMETERS
// =============================================================================

// ParametersDTO is used for both reads and full replacement writes.
type ParametersDTO struct {
	ID                          string              `json:"id,omitempty"`
	Workspace                   string              `json:"workspace,omitempty"`
	ChildCount                  decimal.NullDecimal `json:"child_count"`
	LeaderCount                 decimal.NullDecimal `json:"leader_count"`
	ChildPrice                  decimal.NullDecimal `json:"child_price"`
	LeaderPrice                 decimal.NullDecimal `json:"leader_price"`
	BufferPercent               decimal.NullDecimal `json:"buffer_percent"`
	TransportDailyRate          decimal.NullDecimal `json:"transport_daily_rate"`
	TransportFreeDistancePerDay decimal.NullDecimal `json:"transport_free_distance_per_day"`
	TransportExtraUnitPrice     decimal.NullDecimal `json:"transport_extra_unit_price"`
	FuelPrice                   decimal.NullDecimal `json:"fuel_price"`
	SupportVehicleDistance      decimal.NullDecimal `json:"support_vehicle_distance"`
	CateringPricePerDay         decimal.NullDecimal `json:"catering_price_per_day"`
	CateringDays                decimal.NullDecimal `json:"catering_days"`
	UpdatedAt                   *time.Time          `json:"updated_at,omitempty"`
}

func (d ParametersDTO) toDomain() budget.Parameters {
	return budget.Parameters{
		ChildCount:                  d.ChildCount,
		LeaderCount:                 d.LeaderCount,
		ChildPrice:                  d.ChildPrice,
		LeaderPrice:                 d.LeaderPrice,
		BufferPercent:               d.BufferPercent,
		TransportDailyRate:          d.TransportDailyRate,
		TransportFreeDistancePerDay: d.TransportFreeDistancePerDay,
		TransportExtraUnitPrice:     d.TransportExtraUnitPrice,
		FuelPrice:                   d.FuelPrice,
		SupportVehicleDistance:      d.SupportVehicleDistance,
		CateringPricePerDay:         d.CateringPricePerDay,
		CateringDays:                d.CateringDays,
	}
}

func toParametersDTO(p budget.Parameters) ParametersDTO {
	d := ParametersDTO{
		ID:                          p.ID,
		Workspace:                   string(p.Workspace),
		ChildCount:                  p.ChildCount,
		LeaderCount:                 p.LeaderCount,
		ChildPrice:                  p.ChildPrice,
		LeaderPrice:                 p.LeaderPrice,
		BufferPercent:               p.BufferPercent,
		TransportDailyRate:          p.TransportDailyRate,
		TransportFreeDistancePerDay: p.TransportFreeDistancePerDay,
		TransportExtraUnitPrice:     p.TransportExtraUnitPrice,
		FuelPrice:                   p.FuelPrice,
		SupportVehicleDistance:      p.SupportVehicleDistance,
		CateringPricePerDay:         p.CateringPricePerDay,
		CateringDays:                p.CateringDays,
	}
	if !p.UpdatedAt.IsZero() {
		d.UpdatedAt = &p.UpdatedAt
	}
	return d
}

// =============================================================================
// DISTANCES
// =============================================================================

type DistanceDayDTO struct {
	ID       string              `json:"id"`
	Day      int                 `json:"day"`
	Distance decimal.NullDecimal `json:"distance"`
	Trip     bool                `json:"trip"`
}

type DistanceTotalsDTO struct {
	DayCount int             `json:"day_count"`
	TripDays int             `json:"trip_days"`
	Trip     decimal.Decimal `json:"trip"`
	Extra    decimal.Decimal `json:"extra"`
	Grand    decimal.Decimal `json:"grand"`
}

type DistanceDaysResponse struct {
	Days   []DistanceDayDTO  `json:"days"`
	Totals DistanceTotalsDTO `json:"totals"`
}

type SetDistanceRequest struct {
	Distance decimal.NullDecimal `json:"distance"`
}

type SetTotalDistanceRequest struct {
	Total decimal.Decimal `json:"total"`
}

func toDistanceDaysResponse(days []budget.DistanceDay) DistanceDaysResponse {
	sorted := budget.SortDays(days)
	resp := DistanceDaysResponse{
		Days:   make([]DistanceDayDTO, len(sorted)),
		Totals: toDistanceTotalsDTO(budget.Aggregate(sorted)),
	}
	trip := budget.TripDayIDs(sorted)
	for i, d := range sorted {
		resp.Days[i] = toDistanceDayDTO(d, trip)
	}
	return resp
}

// toDistanceDayDTO flags the day using the trip set of its whole workspace.
func toDistanceDayDTO(d budget.DistanceDay, trip map[string]bool) DistanceDayDTO {
	return DistanceDayDTO{
		ID:       d.ID,
		Day:      d.Day,
		Distance: d.Distance,
		Trip:     trip[d.ID],
	}
}

func toDistanceTotalsDTO(t budget.DistanceTotals) DistanceTotalsDTO {
	return DistanceTotalsDTO{
		DayCount: t.DayCount,
		TripDays: t.TripDays,
		Trip:     t.Trip,
		Extra:    t.Extra,
		Grand:    t.Grand,
	}
}

// =============================================================================
// SUMMARY & RECALCULATION
// =============================================================================

type SummaryDTO struct {
	Workspace               string                     `json:"workspace"`
	ByCategory              map[string]decimal.Decimal `json:"by_category"`
	TransportRollup         decimal.Decimal            `json:"transport_rollup"`
	Subtotal                decimal.Decimal            `json:"subtotal"`
	Buffer                  decimal.Decimal            `json:"buffer"`
	GrandTotal              decimal.Decimal            `json:"grand_total"`
	Income                  decimal.Decimal            `json:"income"`
	Balance                 decimal.Decimal            `json:"balance"`
	SupportVehicleRoundTrip decimal.Decimal            `json:"support_vehicle_round_trip"`
	Distance                DistanceTotalsDTO          `json:"distance"`
}

func toSummaryDTO(s budget.Summary) SummaryDTO {
	return SummaryDTO{
		Workspace:               string(s.Workspace),
		ByCategory:              categoryTotals(s.ByCategory),
		TransportRollup:         s.TransportRollup,
		Subtotal:                s.Subtotal,
		Buffer:                  s.Buffer,
		GrandTotal:              s.GrandTotal,
		Income:                  s.Income,
		Balance:                 s.Balance,
		SupportVehicleRoundTrip: s.SupportVehicleRoundTrip,
		Distance:                toDistanceTotalsDTO(s.Distance),
	}
}

func categoryTotals(m map[budget.Category]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(m))
	for c, v := range m {
		out[string(c)] = v
	}
	return out
}

type RecalcReportDTO struct {
	Workspace string            `json:"workspace"`
	Created   []string          `json:"created"`
	Updated   []string          `json:"updated"`
	Unchanged []string          `json:"unchanged"`
	Failed    map[string]string `json:"failed,omitempty"`
}

func toRecalcReportDTO(r budget.RecalcReport) RecalcReportDTO {
	dto := RecalcReportDTO{
		Workspace: string(r.Workspace),
		Created:   nonNil(r.Created),
		Updated:   nonNil(r.Updated),
		Unchanged: nonNil(r.Unchanged),
	}
	if len(r.Failed) > 0 {
		dto.Failed = make(map[string]string, len(r.Failed))
		for label, err := range r.Failed {
			dto.Failed[label] = err.Error()
		}
	}
	return dto
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// =============================================================================
// PROMOTION
// =============================================================================

// PromoteRequest copies Source onto Target. Confirm must be true.
type PromoteRequest struct {
	Source  string `json:"source"  validate:"required,oneof=concrete sandbox sandbox2"`
	Target  string `json:"target"  validate:"required,oneof=concrete sandbox sandbox2,nefield=Source"`
	Confirm bool   `json:"confirm"`
}

type ResumeRequest struct {
	Confirm bool `json:"confirm"`
}

type PromotionDTO struct {
	RunID         string    `json:"run_id"`
	Source        string    `json:"source"`
	Target        string    `json:"target"`
	StartedAt     time.Time `json:"started_at"`
	Transactional bool      `json:"transactional"`
	ItemsRemoved  int       `json:"items_removed"`
	DaysRemoved   int       `json:"days_removed"`
	ItemsCopied   int       `json:"items_copied"`
	DaysCopied    int       `json:"days_copied"`
}

func toPromotionDTO(r budget.PromotionReport) PromotionDTO {
	return PromotionDTO{
		RunID:         r.Run.ID,
		Source:        string(r.Run.Source),
		Target:        string(r.Run.Target),
		StartedAt:     r.Run.StartedAt,
		Transactional: r.Run.Transactional,
		ItemsRemoved:  r.ItemsRemoved,
		DaysRemoved:   r.DaysRemoved,
		ItemsCopied:   r.ItemsCopied,
		DaysCopied:    r.DaysCopied,
	}
}

// FailedPromotionDTO describes a promotion that can be resumed.
type FailedPromotionDTO struct {
	RunID     string    `json:"run_id"`
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	StartedAt time.Time `json:"started_at"`
	Completed []string  `json:"completed_steps"`
}

func toFailedPromotionDTO(run *budget.PromotionRun) FailedPromotionDTO {
	steps := make([]string, len(run.Completed))
	for i, s := range run.Completed {
		steps[i] = string(s)
	}
	return FailedPromotionDTO{
		RunID:     run.ID,
		Source:    string(run.Source),
		Target:    string(run.Target),
		StartedAt: run.StartedAt,
		Completed: steps,
	}
}

// =============================================================================
// CHANGE LOG
// =============================================================================

type ChangeLogEntryDTO struct {
	ID        string    `json:"id"`
	Workspace string    `json:"workspace"`
	Table     string    `json:"table"`
	RecordID  string    `json:"record_id"`
	Field     *string   `json:"field"`
	OldValue  *string   `json:"old_value"`
	NewValue  *string   `json:"new_value"`
	Actor     string    `json:"actor"`
	At        time.Time `json:"at"`
}

func toChangeLogEntryDTO(e budget.ChangeLogEntry) ChangeLogEntryDTO {
	dto := ChangeLogEntryDTO{
		ID:        e.ID,
		Workspace: string(e.Workspace),
		Table:     string(e.Table),
		RecordID:  e.RecordID,
		OldValue:  e.OldValue,
		NewValue:  e.NewValue,
		Actor:     e.Actor,
		At:        e.At,
	}
	if e.Field != "" {
		field := e.Field
		dto.Field = &field
	}
	return dto
}

// ChangeLogQuery is parsed from the query string of GET /api/change-log.
type ChangeLogQuery struct {
	Workspace string     `validate:"omitempty,oneof=concrete sandbox sandbox2"`
	Table     string     `validate:"omitempty,oneof=line_items distance_days parameters"`
	RecordID  string     `validate:"omitempty,max=64"`
	Field     string     `validate:"omitempty,max=64"`
	Actor     string     `validate:"omitempty,max=120"`
	From      *time.Time
	To        *time.Time
	Limit     int `validate:"min=1,max=1000"`
}

func (q ChangeLogQuery) toFilter() budget.ChangeFilter {
	return budget.ChangeFilter{
		Workspace: budget.Workspace(q.Workspace),
		Table:     budget.Table(q.Table),
		RecordID:  q.RecordID,
		Field:     q.Field,
		Actor:     q.Actor,
		From:      q.From,
		To:        q.To,
		Limit:     q.Limit,
	}
}

// =============================================================================
// SCENARIOS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
	Workspace  string `json:"workspace"   validate:"omitempty,oneof=concrete sandbox sandbox2"`
	Confirm    bool   `json:"confirm"`
}

type ResetRequest struct {
	Confirm bool `json:"confirm"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Field   string `json:"field,omitempty"`

	// Set for partial promotions.
	Phase  string `json:"phase,omitempty"`
	RunID  string `json:"run_id,omitempty"`
	Advice string `json:"advice,omitempty"`
}
