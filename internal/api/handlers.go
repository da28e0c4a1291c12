package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/willswire/mcheyne/internal/calendar"
	"github.com/willswire/mcheyne/internal/logger"
	"github.com/willswire/mcheyne/internal/plan"
)

// HealthChecker is implemented by stores that can report their health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	plan   *plan.Plan
	health HealthChecker
	loc    *time.Location
	logger *slog.Logger
}

// NewHandlers creates a new Handlers instance. health may be nil when the
// local store has no health probe. loc is the zone request dates are read in.
func NewHandlers(p *plan.Plan, health HealthChecker, loc *time.Location, logger *slog.Logger) *Handlers {
	if loc == nil {
		loc = time.Local
	}
	return &Handlers{
		plan:   p,
		health: health,
		loc:    loc,
		logger: logger,
	}
}

// =============================================================================
// Response bodies
// =============================================================================

// PlanView summarises the plan settings and progress.
type PlanView struct {
	StartDate          string     `json:"start_date"`
	SelfPaced          bool       `json:"self_paced"`
	CloudAuthoritative bool       `json:"cloud_authoritative"`
	Length             int        `json:"length"`
	Stats              plan.Stats `json:"stats"`
}

// SelectionView is one day of the plan.
type SelectionView struct {
	Index           int           `json:"index"`
	Date            string        `json:"date"`
	LeapPlaceholder bool          `json:"leap_placeholder"`
	Complete        bool          `json:"complete"`
	Passages        []PassageView `json:"passages"`
}

// PassageView is one passage of a selection.
type PassageView struct {
	Slot      int    `json:"slot"`
	Reference string `json:"reference"`
	Book      string `json:"book"`
	Chapter   string `json:"chapter"`
	Completed bool   `json:"completed"`
}

func (h *Handlers) planView() PlanView {
	return PlanView{
		StartDate:          calendar.FormatDate(h.plan.StartDate().In(h.loc)),
		SelfPaced:          h.plan.IsSelfPaced(),
		CloudAuthoritative: h.plan.IsCloudAuthoritative(),
		Length:             h.plan.Len(),
		Stats:              h.plan.Stats(),
	}
}

func (h *Handlers) selectionView(index int, sel *plan.Selection) SelectionView {
	passages := sel.Passages()
	view := SelectionView{
		Index:           index,
		Date:            calendar.FormatDate(h.plan.DateForIndex(index).In(h.loc)),
		LeapPlaceholder: sel.IsLeapPlaceholder(),
		Complete:        sel.IsComplete(),
		Passages:        make([]PassageView, 0, len(passages)),
	}
	for _, ps := range passages {
		book, chapter := ps.LocalizedDescription()
		view.Passages = append(view.Passages, PassageView{
			Slot:      ps.Slot(),
			Reference: ps.Reference(),
			Book:      book,
			Chapter:   chapter,
			Completed: ps.Completed(),
		})
	}
	return view
}

// =============================================================================
// Read-only routes
// =============================================================================

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.health != nil {
		if err := h.health.Health(ctx); err != nil {
			logger.Warn(ctx, "health check failed", slog.Any("error", err))
			WriteError(w, http.StatusServiceUnavailable, "Store unhealthy", "HEALTH_CHECK_FAILED")
			return
		}
	}

	WriteSuccess(w, map[string]any{
		"status":              "healthy",
		"cloud_authoritative": h.plan.IsCloudAuthoritative(),
	})
}

// GetPlan handles GET /api/v1/plan
func (h *Handlers) GetPlan(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.planView())
}

// GetTodaySelection handles GET /api/v1/selections/today
func (h *Handlers) GetTodaySelection(w http.ResponseWriter, r *http.Request) {
	index := h.plan.IndexForToday()
	sel := h.plan.Selection(&index)
	if sel == nil {
		WriteNotFound(w, "Plan has no selections")
		return
	}
	WriteSuccess(w, h.selectionView(index, sel))
}

// GetDateSelection handles GET /api/v1/selections/date/{YYYY-MM-DD}
func (h *Handlers) GetDateSelection(w http.ResponseWriter, r *http.Request) {
	dateStr := chi.URLParam(r, "date")
	date, err := calendar.ParseDateIn(dateStr, h.loc)
	if err != nil {
		WriteBadRequest(w, fmt.Sprintf("Invalid date format: %s. Use YYYY-MM-DD", dateStr))
		return
	}

	index := h.plan.IndexForDate(date)
	sel := h.plan.Selection(&index)
	if sel == nil {
		WriteNotFound(w, "Plan has no selections")
		return
	}
	WriteSuccess(w, h.selectionView(index, sel))
}

// GetSelection handles GET /api/v1/selections/{index}
func (h *Handlers) GetSelection(w http.ResponseWriter, r *http.Request) {
	index, sel, ok := h.selectionParam(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, h.selectionView(index, sel))
}

// =============================================================================
// Mutating routes
// =============================================================================

// MarkPassageRead handles PUT /api/v1/selections/{index}/passages/{slot}
func (h *Handlers) MarkPassageRead(w http.ResponseWriter, r *http.Request) {
	h.markPassage(w, r, true)
}

// MarkPassageUnread handles DELETE /api/v1/selections/{index}/passages/{slot}
func (h *Handlers) MarkPassageUnread(w http.ResponseWriter, r *http.Request) {
	h.markPassage(w, r, false)
}

func (h *Handlers) markPassage(w http.ResponseWriter, r *http.Request, read bool) {
	ctx := r.Context()

	index, sel, ok := h.selectionParam(w, r)
	if !ok {
		return
	}

	slot, err := strconv.Atoi(chi.URLParam(r, "slot"))
	if err != nil {
		WriteBadRequest(w, "Slot must be an integer")
		return
	}
	ps := sel.Passage(slot)
	if ps == nil {
		WriteNotFound(w, "Passage not found")
		return
	}

	if read {
		ps.Read(ctx)
	} else {
		ps.Unread(ctx)
	}

	logger.Info(ctx, "passage marked",
		slog.String("reference", ps.Reference()),
		slog.Int("index", index),
		slog.Int("slot", slot),
		slog.Bool("read", read),
	)

	WriteSuccess(w, h.selectionView(index, sel))
}

// UpdateStartDate handles PUT /api/v1/settings/start-date
//
// With backfill set, the plan is reset and every selection before today is
// marked read, as if the reader had kept pace since the new date.
func (h *Handlers) UpdateStartDate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Date     string `json:"date"`
		Backfill bool   `json:"backfill"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		WriteBadRequest(w, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	date, err := calendar.ParseDateIn(req.Date, h.loc)
	if err != nil {
		WriteBadRequest(w, fmt.Sprintf("Invalid date format: %q. Use YYYY-MM-DD", req.Date))
		return
	}

	if req.Backfill {
		h.plan.ChangeStartDate(ctx, date)
	} else {
		h.plan.SetStartDate(ctx, date)
	}

	logger.Info(ctx, "start date changed",
		slog.String("date", calendar.FormatDate(date)),
		slog.Bool("backfill", req.Backfill),
	)

	WriteSuccess(w, h.planView())
}

// UpdateSelfPaced handles PUT /api/v1/settings/self-paced
func (h *Handlers) UpdateSelfPaced(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		SelfPaced *bool `json:"self_paced"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		WriteBadRequest(w, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	if req.SelfPaced == nil {
		WriteBadRequest(w, "self_paced is required")
		return
	}

	h.plan.SetSelfPaced(ctx, *req.SelfPaced)
	WriteSuccess(w, h.planView())
}

// ResetPlan handles POST /api/v1/reset
func (h *Handlers) ResetPlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	h.plan.Reset(ctx)
	logger.Info(ctx, "plan reset")

	WriteSuccess(w, h.planView())
}

// selectionParam resolves the {index} URL parameter, writing the error
// response itself when it cannot.
func (h *Handlers) selectionParam(w http.ResponseWriter, r *http.Request) (int, *plan.Selection, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		WriteBadRequest(w, "Index must be an integer")
		return 0, nil, false
	}

	sel := h.plan.Selection(&index)
	if sel == nil {
		WriteNotFound(w, fmt.Sprintf("No selection at index %d", index))
		return 0, nil, false
	}
	return index, sel, true
}
