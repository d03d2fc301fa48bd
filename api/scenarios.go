/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built trip budgets that populate a workspace with realistic
	data for demos and manual testing. Each scenario sets parameters, line
	items and distance days, then recomputes the automatic items.

AVAILABLE SCENARIOS:

	summer-camp:  Ten-day camp with an eleventh "extra" distance day,
	              catering, a support vehicle and an item billed to transport
	weekend-hike: Two days, free distance disabled, no catering

HOW SCENARIOS WORK:
 1. Reset database (clear every workspace and the change log)
 2. Seed empty parameters for every workspace
 3. Write the scenario's parameters, items and distances through the Ledger
    (so the change log shows how the budget was built)
 4. Recalculate the automatic items right away

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "summer-camp", "workspace": "sandbox", "confirm": true}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler, error mapping
  - budget/ledger.go: every write goes through the Ledger
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/trip-budget/budget"
)

// ScenarioActor is recorded on change log entries written by scenario loads.
const ScenarioActor = "scenario"

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	params budget.Parameters
	items  []budget.LineItem
	// Distance per day, day 1 first.
	distances []int64
}

func num(v float64) decimal.NullDecimal {
	return budget.Dec(decimal.NewFromFloat(v))
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "summer-camp",
			Name:        "Summer Camp",
			Description: "Ten-day camp with catering, a support vehicle and an extra distance day",
		},
		params: budget.Parameters{
			ChildCount:                  budget.DecInt(24),
			LeaderCount:                 budget.DecInt(5),
			ChildPrice:                  budget.DecInt(520),
			LeaderPrice:                 budget.DecInt(180),
			BufferPercent:               budget.DecInt(5),
			TransportDailyRate:          budget.DecInt(420),
			TransportFreeDistancePerDay: budget.DecInt(250),
			TransportExtraUnitPrice:     num(1.8),
			FuelPrice:                   num(0.42),
			SupportVehicleDistance:      budget.DecInt(1150),
			CateringPricePerDay:         num(14.5),
			CateringDays:                budget.DecInt(3),
		},
		items: []budget.LineItem{
			{Category: budget.CategoryLodging, Subcategory: "campsite", Description: "pitch fee per night",
				Unit: budget.UnitOther, SplitRule: budget.SplitEveryone, PricePerPerson: budget.DecInt(12), Quantity: budget.DecInt(9)},
			{Category: budget.CategoryLodging, Subcategory: "hostel", Description: "first night",
				Unit: budget.UnitPerson, SplitRule: budget.SplitEveryone, PricePerPerson: budget.DecInt(28)},
			{Category: budget.CategoryFood, Subcategory: "groceries", Description: "breakfast and lunch",
				Unit: budget.UnitOther, SplitRule: budget.SplitEveryone, PricePerPerson: budget.DecInt(9), Quantity: budget.DecInt(7)},
			{Category: budget.CategorySpecialActivities, Subcategory: "canoeing",
				Unit: budget.UnitOther, SplitRule: budget.SplitChildrenAndLeaders, PricePerChild: budget.DecInt(35), PricePerLeader: budget.DecInt(20), Quantity: budget.DecInt(1)},
			{Category: budget.CategorySpecialActivities, Subcategory: "museum",
				Unit: budget.UnitPerson, SplitRule: budget.SplitChildren, PricePerChild: budget.DecInt(8)},
			{Category: budget.CategoryOther, Subcategory: "first aid", Description: "kit refill",
				Unit: budget.UnitGroup, SplitRule: budget.SplitEveryone, PricePerPerson: budget.DecInt(60)},
			{Category: budget.CategoryOther, Subcategory: "ferry", Description: "return tickets",
				Unit: budget.UnitPerson, SplitRule: budget.SplitEveryone, PricePerPerson: budget.DecInt(15), BilledToTransport: true},
		},
		distances: []int64{180, 220, 0, 95, 140, 0, 60, 210, 0, 175, 40},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "weekend-hike",
			Name:        "Weekend Hike",
			Description: "Two days, every distance unit billed, no catering",
		},
		params: budget.Parameters{
			ChildCount:              budget.DecInt(12),
			LeaderCount:             budget.DecInt(3),
			ChildPrice:              budget.DecInt(95),
			LeaderPrice:             budget.DecInt(40),
			BufferPercent:           budget.DecInt(10),
			TransportDailyRate:      budget.DecInt(300),
			TransportExtraUnitPrice: num(1.1),
		},
		items: []budget.LineItem{
			{Category: budget.CategoryLodging, Subcategory: "mountain hut",
				Unit: budget.UnitOther, SplitRule: budget.SplitEveryone, PricePerPerson: budget.DecInt(32), Quantity: budget.DecInt(1)},
			{Category: budget.CategoryFood, Subcategory: "picnic",
				Unit: budget.UnitPerson, SplitRule: budget.SplitEveryone, PricePerPerson: budget.DecInt(6)},
		},
		distances: []int64{120, 115},
	},
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	out := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		out[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, out)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	s, ok := findScenario(current)
	if !ok {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, s.ScenarioDTO)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	s, ok := findScenario(req.ScenarioID)
	if !ok {
		h.writeDomainError(w, r, &budget.ValidationError{Field: "scenario_id", Reason: fmt.Sprintf("unknown scenario %q", req.ScenarioID)})
		return
	}
	if !req.Confirm {
		h.writeDomainError(w, r, fmt.Errorf("loading a scenario resets every workspace: %w", budget.ErrConfirmationRequired))
		return
	}
	ws := budget.WorkspaceConcrete
	if req.Workspace != "" {
		ws = budget.Workspace(req.Workspace)
	}

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if err := h.loadScenario(ctx, s, ws); err != nil {
		h.writeDomainError(w, r, fmt.Errorf("load scenario %s: %w", s.ID, err))
		return
	}

	h.mu.Lock()
	h.currentScenario = s.ID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": s.ID, "workspace": string(ws)})
}

// ResetDatabase clears all data and re-seeds empty parameters.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !req.Confirm {
		h.writeDomainError(w, r, fmt.Errorf("reset deletes every workspace: %w", budget.ErrConfirmationRequired))
		return
	}
	if err := h.reset(r.Context()); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) reset(ctx context.Context) error {
	if h.resetter == nil {
		return errors.New("reset is not supported by this store")
	}
	if err := h.resetter.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.failed = make(map[string]*budget.PromotionRun)
	h.mu.Unlock()

	for _, ws := range budget.Workspaces() {
		if _, err := h.ledger.SeedParameters(ctx, ws, ScenarioActor); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadScenario(ctx context.Context, s scenario, ws budget.Workspace) error {
	if _, err := h.ledger.UpdateParameters(ctx, ws, ScenarioActor, s.params); err != nil {
		return err
	}
	for _, item := range s.items {
		if _, err := h.ledger.CreateLineItem(ctx, ws, ScenarioActor, item); err != nil {
			return err
		}
	}
	for i, d := range s.distances {
		if _, err := h.ledger.SetDistance(ctx, ws, ScenarioActor, i+1, budget.DecInt(d)); err != nil {
			return err
		}
	}

	report, err := h.recalc.Recalculate(ctx, ws)
	if h.metrics != nil {
		h.metrics.ObserveRecompute(ws, report, err)
	}
	return err
}
