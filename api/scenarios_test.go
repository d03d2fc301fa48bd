package api

import (
	"net/http"
	"testing"

	"github.com/warp/trip-budget/budget"
)

func TestScenarios_List(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/scenarios", nil)
	expectStatus(t, rec, http.StatusOK)
	list := decodeBody[[]ScenarioDTO](t, rec)
	if len(list) != len(scenarios) {
		t.Fatalf("Expected %d scenarios, got %d", len(scenarios), len(list))
	}
}

func TestScenarios_LoadRequiresConfirmation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "summer-camp"})
	expectStatus(t, rec, http.StatusPreconditionRequired)

	rec = s.do(t, http.MethodPost, "/api/scenarios/load", map[string]any{"scenario_id": "moon-base", "confirm": true})
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestScenarios_LoadSummerCamp(t *testing.T) {
	// GIVEN: stale data in the target workspace
	s := newTestServer(t)
	expectStatus(t, s.do(t, http.MethodPost, "/api/workspaces/sandbox/line-items",
		map[string]any{"category": "food", "subcategory": "stale"}), http.StatusCreated)

	// WHEN
	rec := s.do(t, http.MethodPost, "/api/scenarios/load", map[string]any{
		"scenario_id": "summer-camp",
		"workspace":   "sandbox",
		"confirm":     true,
	})

	// THEN: manual items plus the three auto items, nothing stale
	expectStatus(t, rec, http.StatusOK)
	sc, _ := findScenario("summer-camp")
	list := decodeBody[LineItemsResponse](t, s.do(t, http.MethodGet, "/api/workspaces/sandbox/line-items", nil))
	if len(list.Items) != len(sc.items)+3 {
		t.Fatalf("Expected %d items, got %d", len(sc.items)+3, len(list.Items))
	}
	for _, it := range list.Items {
		if it.Subcategory == "stale" {
			t.Error("Expected stale item to be gone")
		}
	}

	days := decodeBody[DistanceDaysResponse](t, s.do(t, http.MethodGet, "/api/workspaces/sandbox/distance-days", nil))
	if days.Totals.DayCount != len(sc.distances) || days.Totals.Extra.IsZero() {
		t.Errorf("Expected %d days with an extra bucket, got %+v", len(sc.distances), days.Totals)
	}

	current := decodeBody[ScenarioDTO](t, s.do(t, http.MethodGet, "/api/scenarios/current", nil))
	if current.ID != "summer-camp" {
		t.Errorf("Expected current scenario summer-camp, got %q", current.ID)
	}

	// Other workspaces only carry seeded parameters.
	for _, ws := range []budget.Workspace{budget.WorkspaceConcrete, budget.WorkspaceSandbox2} {
		rec := s.do(t, http.MethodGet, "/api/workspaces/"+string(ws)+"/parameters", nil)
		expectStatus(t, rec, http.StatusOK)
	}
}

func TestScenarios_Reset(t *testing.T) {
	s := newTestServer(t)
	expectStatus(t, s.do(t, http.MethodPost, "/api/scenarios/load",
		map[string]any{"scenario_id": "weekend-hike", "confirm": true}), http.StatusOK)

	expectStatus(t, s.do(t, http.MethodPost, "/api/scenarios/reset", map[string]any{}), http.StatusPreconditionRequired)
	expectStatus(t, s.do(t, http.MethodPost, "/api/scenarios/reset", map[string]any{"confirm": true}), http.StatusOK)

	list := decodeBody[LineItemsResponse](t, s.do(t, http.MethodGet, "/api/workspaces/concrete/line-items", nil))
	if len(list.Items) != 0 {
		t.Errorf("Expected no items after reset, got %d", len(list.Items))
	}
	rec := s.do(t, http.MethodGet, "/api/scenarios/current", nil)
	expectStatus(t, rec, http.StatusOK)
	if body := rec.Body.String(); body != "null\n" {
		t.Errorf("Expected null current scenario, got %q", body)
	}
}
