/*
handlers.go - HTTP API handlers for the trip budget ledger

PURPOSE:
  Exposes the budget ledger via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the budget package.

ENDPOINTS:
  Line items:
    GET    /api/workspaces/{ws}/line-items           Items with resolved amounts
    POST   /api/workspaces/{ws}/line-items           Create item
    PUT    /api/workspaces/{ws}/line-items/{id}      Replace item
    DELETE /api/workspaces/{ws}/line-items/{id}      Delete item

  Parameters:
    GET    /api/workspaces/{ws}/parameters
    PUT    /api/workspaces/{ws}/parameters           Full replacement

  Distances:
    GET    /api/workspaces/{ws}/distance-days        Days with aggregate totals
    PUT    /api/workspaces/{ws}/distance-days/{day}  Set one day's distance
    DELETE /api/workspaces/{ws}/distance-days/{day}
    PUT    /api/workspaces/{ws}/distance-total       Set the grand total
    POST   /api/workspaces/{ws}/distance-days/recover

  Derived:
    POST   /api/workspaces/{ws}/recalculate          Recompute auto items now
    GET    /api/workspaces/{ws}/summary

  Promotion:
    POST   /api/promotions                           Copy source onto target
    GET    /api/promotions/failed                    Runs that can be resumed
    POST   /api/promotions/{run}/resume

  Audit:
    GET    /api/change-log

REQUEST FLOW:
  1. Parse workspace and actor (X-Actor header, default "anonymous")
  2. Decode and validate the body (go-playground/validator)
  3. Call the ledger, recalculator or promoter
  4. Serialize response
  5. Map errors to status codes

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, duplicate line item
  - 404: Workspace record not found
  - 409: Promotion stopped part-way; target may be inconsistent
  - 428: Destructive operation without "confirm": true
  - 500: Store errors (schema mismatch names the missing field)

SECURITY NOTE:
  No authentication. The actor header is trusted as given.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/warp/trip-budget/budget"
)

// DefaultActor is recorded when a request carries no X-Actor header.
const DefaultActor = "anonymous"

const defaultChangeLogLimit = 200

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter wipes every workspace. Implemented by both stores.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Deps are the collaborators of a Handler. Resetter and Metrics are optional.
type Deps struct {
	Ledger   *budget.Ledger
	Recalc   *budget.Recalculator
	Promoter *budget.Promoter
	Resetter Resetter
	Metrics  *Metrics
	Logger   *slog.Logger
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	ledger   *budget.Ledger
	recalc   *budget.Recalculator
	promoter *budget.Promoter
	resetter Resetter
	metrics  *Metrics
	logger   *slog.Logger
	validate *validator.Validate

	mu sync.Mutex
	// Promotions that stopped part-way, by run ID.
	failed map[string]*budget.PromotionRun
	// Track currently loaded scenario
	currentScenario string
}

func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		ledger:   d.Ledger,
		recalc:   d.Recalc,
		promoter: d.Promoter,
		resetter: d.Resetter,
		metrics:  d.Metrics,
		logger:   logger,
		validate: v,
		failed:   make(map[string]*budget.PromotionRun),
	}
}

// =============================================================================
// LINE ITEM ENDPOINTS
// =============================================================================

func (h *Handler) ListLineItems(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	items, err := h.ledger.LineItems(ctx, ws)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	p, err := h.parametersOrZero(r, ws)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	resp := LineItemsResponse{
		Items:  make([]LineItemDTO, len(items)),
		Totals: categoryTotals(budget.TotalsByCategory(items, p)),
	}
	for i, it := range items {
		resp.Items[i] = toLineItemDTO(it, p)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) CreateLineItem(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	var req LineItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	created, err := h.ledger.CreateLineItem(r.Context(), ws, actorFrom(r), req.toDomain())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	p, err := h.parametersOrZero(r, ws)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toLineItemDTO(created, p))
}

func (h *Handler) UpdateLineItem(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	var req LineItemRequest
	if !h.decode(w, r, &req) {
		return
	}

	item := req.toDomain()
	item.ID = chi.URLParam(r, "id")
	updated, err := h.ledger.UpdateLineItem(r.Context(), ws, actorFrom(r), item)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	p, err := h.parametersOrZero(r, ws)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toLineItemDTO(updated, p))
}

func (h *Handler) DeleteLineItem(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	if err := h.ledger.DeleteLineItem(r.Context(), ws, actorFrom(r), chi.URLParam(r, "id")); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PARAMETER ENDPOINTS
// =============================================================================

func (h *Handler) GetParameters(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	p, err := h.ledger.Parameters(r.Context(), ws)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if p == nil {
		h.writeDomainError(w, r, &budget.NotFoundError{Workspace: ws, Table: budget.TableParameters})
		return
	}
	writeJSON(w, http.StatusOK, toParametersDTO(*p))
}

func (h *Handler) UpdateParameters(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	var req ParametersDTO
	if !h.decode(w, r, &req) {
		return
	}

	saved, err := h.ledger.UpdateParameters(r.Context(), ws, actorFrom(r), req.toDomain())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toParametersDTO(saved))
}

// =============================================================================
// DISTANCE ENDPOINTS
// =============================================================================

func (h *Handler) ListDistanceDays(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	days, err := h.ledger.DistanceDays(r.Context(), ws)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDistanceDaysResponse(days))
}

func (h *Handler) SetDistance(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	day, ok := h.dayParam(w, r)
	if !ok {
		return
	}
	var req SetDistanceRequest
	if !h.decode(w, r, &req) {
		return
	}

	saved, err := h.ledger.SetDistance(r.Context(), ws, actorFrom(r), day, req.Distance)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	days, err := h.ledger.DistanceDays(r.Context(), ws)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDistanceDayDTO(saved, budget.TripDayIDs(days)))
}

func (h *Handler) DeleteDistanceDay(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	day, ok := h.dayParam(w, r)
	if !ok {
		return
	}
	if err := h.ledger.DeleteDistanceDay(r.Context(), ws, actorFrom(r), day); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SetTotalDistance(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	var req SetTotalDistanceRequest
	if !h.decode(w, r, &req) {
		return
	}

	totals, err := h.ledger.SetTotalDistance(r.Context(), ws, actorFrom(r), req.Total)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDistanceTotalsDTO(totals))
}

// RecoverDistances restores zeroed days from the change log.
func (h *Handler) RecoverDistances(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	recovered, err := h.ledger.RecoverDistances(r.Context(), ws, actorFrom(r))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	days, err := h.ledger.DistanceDays(r.Context(), ws)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	trip := budget.TripDayIDs(days)
	out := make([]DistanceDayDTO, len(recovered))
	for i, d := range recovered {
		out[i] = toDistanceDayDTO(d, trip)
	}
	writeJSON(w, http.StatusOK, out)
}

// =============================================================================
// DERIVED VIEWS
// =============================================================================

// Recalculate refreshes the auto items right away, bypassing the debounce.
// Per-item failures are reported in the body; the others are still applied.
func (h *Handler) Recalculate(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	report, err := h.recalc.Recalculate(r.Context(), ws)
	if h.metrics != nil {
		h.metrics.ObserveRecompute(ws, report, err)
	}
	if err != nil && len(report.Failed) == 0 {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecalcReportDTO(report))
}

func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	s, err := h.ledger.Summary(r.Context(), ws)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(s))
}

// =============================================================================
// PROMOTION ENDPOINTS
// =============================================================================

func (h *Handler) Promote(w http.ResponseWriter, r *http.Request) {
	var req PromoteRequest
	if !h.decode(w, r, &req) {
		return
	}

	report, err := h.promoter.Promote(r.Context(), budget.PromotionRequest{
		Source:    budget.Workspace(req.Source),
		Target:    budget.Workspace(req.Target),
		Actor:     actorFrom(r),
		Confirmed: req.Confirm,
	})
	h.afterPromotion(budget.Workspace(req.Target), report, err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPromotionDTO(report))
}

func (h *Handler) ListFailedPromotions(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	runs := make([]FailedPromotionDTO, 0, len(h.failed))
	for _, run := range h.failed {
		runs = append(runs, toFailedPromotionDTO(run))
	}
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, runs)
}

// ResumePromotion replays a failed run from its captured source snapshot.
func (h *Handler) ResumePromotion(w http.ResponseWriter, r *http.Request) {
	var req ResumeRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "run")

	h.mu.Lock()
	run, ok := h.failed[id]
	h.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown promotion run", fmt.Errorf("no failed promotion %q", id))
		return
	}
	if !req.Confirm {
		h.writeDomainError(w, r, fmt.Errorf("resume overwrites workspace %s: %w", run.Target, budget.ErrConfirmationRequired))
		return
	}

	report, err := h.promoter.Resume(r.Context(), run)
	h.afterPromotion(run.Target, report, err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPromotionDTO(report))
}

// afterPromotion records the outcome and remembers or forgets resumable runs.
func (h *Handler) afterPromotion(target budget.Workspace, report budget.PromotionReport, err error) {
	var partial *budget.PartialPromotionError
	outcome := "ok"
	switch {
	case errors.As(err, &partial):
		outcome = "partial"
		h.mu.Lock()
		h.failed[partial.Run.ID] = partial.Run
		h.mu.Unlock()
	case budget.IsClientError(err):
		outcome = "rejected"
	case err != nil:
		outcome = "failed"
	}

	if err == nil && report.Run != nil {
		h.mu.Lock()
		delete(h.failed, report.Run.ID)
		h.mu.Unlock()
	}
	if h.metrics != nil {
		h.metrics.ObservePromotion(target, outcome)
	}
}

// =============================================================================
// CHANGE LOG
// =============================================================================

// ListChangeLog supports ?workspace=&table=&record_id=&field=&actor=&from=&to=&limit=
// with RFC 3339 timestamps. Entries are newest first.
func (h *Handler) ListChangeLog(w http.ResponseWriter, r *http.Request) {
	q, err := parseChangeLogQuery(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if err := h.check(q); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	entries, err := h.ledger.ChangeLog().Query(r.Context(), q.toFilter())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	out := make([]ChangeLogEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = toChangeLogEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, out)
}

func parseChangeLogQuery(r *http.Request) (ChangeLogQuery, error) {
	v := r.URL.Query()
	q := ChangeLogQuery{
		Workspace: v.Get("workspace"),
		Table:     v.Get("table"),
		RecordID:  v.Get("record_id"),
		Field:     v.Get("field"),
		Actor:     v.Get("actor"),
		Limit:     defaultChangeLogLimit,
	}
	for name, dst := range map[string]**time.Time{"from": &q.From, "to": &q.To} {
		raw := v.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, &budget.ValidationError{Field: name, Reason: "must be an RFC 3339 timestamp"}
		}
		*dst = &t
	}
	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, &budget.ValidationError{Field: "limit", Reason: "must be an integer"}
		}
		q.Limit = n
	}
	return q, nil
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func actorFrom(r *http.Request) string {
	if a := strings.TrimSpace(r.Header.Get("X-Actor")); a != "" {
		return a
	}
	return DefaultActor
}

func (h *Handler) workspace(w http.ResponseWriter, r *http.Request) (budget.Workspace, bool) {
	ws, err := budget.ParseWorkspace(chi.URLParam(r, "ws"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return "", false
	}
	return ws, true
}

func (h *Handler) dayParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	day, err := strconv.Atoi(chi.URLParam(r, "day"))
	if err != nil || day < 1 {
		h.writeDomainError(w, r, &budget.ValidationError{Field: "day", Reason: "must be a positive integer"})
		return 0, false
	}
	return day, true
}

// parametersOrZero returns the workspace parameters, or an empty record when
// none exist, so amounts can still be resolved.
func (h *Handler) parametersOrZero(r *http.Request, ws budget.Workspace) (budget.Parameters, error) {
	p, err := h.ledger.Parameters(r.Context(), ws)
	if err != nil {
		return budget.Parameters{}, err
	}
	if p == nil {
		return budget.Parameters{Workspace: ws}, nil
	}
	return *p, nil
}

// decode reads a JSON body into dst and validates it. It writes the error
// response itself and reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeDomainError(w, r, &budget.ValidationError{Field: "body", Reason: "invalid JSON: " + err.Error()})
		return false
	}
	if err := h.check(dst); err != nil {
		h.writeDomainError(w, r, err)
		return false
	}
	return true
}

// check runs struct validation and reports the first failing field.
func (h *Handler) check(v any) error {
	err := h.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		reason := fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		return &budget.ValidationError{Field: fe.Field(), Reason: "failed " + reason}
	}
	return &budget.ValidationError{Reason: err.Error()}
}

// writeDomainError maps budget errors onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		partial *budget.PartialPromotionError
		verr    *budget.ValidationError
	)
	switch {
	case errors.As(err, &partial):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "Promotion incomplete",
			Details: err.Error(),
			Phase:   string(partial.Phase),
			RunID:   partial.Run.ID,
			Advice: fmt.Sprintf("workspace %s may be inconsistent; retry with POST /api/promotions/%s/resume",
				partial.Target, partial.Run.ID),
		})
	case errors.Is(err, budget.ErrConfirmationRequired):
		writeError(w, http.StatusPreconditionRequired, "Confirmation required", err)
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Details: err.Error(), Field: verr.Field})
	case errors.Is(err, budget.ErrValidation):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case errors.Is(err, budget.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)
	default:
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

