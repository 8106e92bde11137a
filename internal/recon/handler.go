package recon

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/tesoro-fin/tesoro/internal/platform/httpx"
)

// BulkQueue enqueues asynchronous bulk runs. *jobs.Client satisfies it.
type BulkQueue interface {
	EnqueueBulkRun(ctx context.Context, accountID int64, dr DateRange, threshold int) (taskID string, err error)
}

// Handler exposes the engine over JSON HTTP. The surrounding system owns
// import, account CRUD and authentication; this surface only covers
// suggestion, reconciliation and bulk runs.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	queue    BulkQueue
	validate *validator.Validate
}

// NewHandler builds the handler. queue may be nil; async bulk requests are
// then rejected.
func NewHandler(logger *slog.Logger, service *Service, queue BulkQueue) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		queue:    queue,
		validate: validator.New(),
	}
}

// MountRoutes registers the treasury reconciliation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/entries/{id}/suggestions", h.suggestions)
	r.Get("/entries/{id}/rules", h.ruleSuggestions)
	r.Post("/reconcile", h.reconcile)
	r.Post("/unreconcile", h.unreconcile)
	r.Post("/bulk-runs", h.bulkRun)
}

type reconcileRequest struct {
	EntryID    int64 `json:"entry_id" validate:"required"`
	MovementID int64 `json:"movement_id" validate:"required"`
}

type unreconcileRequest struct {
	EntryID int64  `json:"entry_id" validate:"required"`
	Reason  string `json:"reason" validate:"required"`
	ActorID int64  `json:"actor_id"`
}

type bulkRunRequest struct {
	AccountID int64  `json:"account_id" validate:"required"`
	From      string `json:"from" validate:"omitempty,datetime=2006-01-02"`
	To        string `json:"to" validate:"omitempty,datetime=2006-01-02"`
	Threshold int    `json:"threshold" validate:"omitempty,min=1,max=100"`
	Async     bool   `json:"async"`
}

func (h *Handler) suggestions(w http.ResponseWriter, r *http.Request) {
	entryID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entry id")
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}

	var (
		candidates []MatchCandidate
		rules      []Rule
	)
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		ranked, err := h.service.Suggest(ctx, entryID, limit)
		if err != nil {
			return err
		}
		candidates = ranked
		return nil
	})
	g.Go(func() error {
		matched, err := h.service.SuggestRules(ctx, entryID)
		if err != nil {
			return err
		}
		rules = matched
		return nil
	})
	if err := g.Wait(); err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entry_id":   entryID,
		"candidates": candidates,
		"rules":      rules,
	})
}

func (h *Handler) ruleSuggestions(w http.ResponseWriter, r *http.Request) {
	entryID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entry id")
		return
	}
	rules, err := h.service.SuggestRules(r.Context(), entryID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entry_id": entryID,
		"rules":    rules,
	})
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	if err := h.service.ReconcileManual(r.Context(), req.EntryID, req.MovementID); err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entry_id":    req.EntryID,
		"movement_id": req.MovementID,
		"status":      string(EntryReconciled),
	})
}

func (h *Handler) unreconcile(w http.ResponseWriter, r *http.Request) {
	var req unreconcileRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	if err := h.service.Unreconcile(r.Context(), req.EntryID, req.Reason, req.ActorID); err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"entry_id": req.EntryID,
		"status":   string(EntryPending),
	})
}

func (h *Handler) bulkRun(w http.ResponseWriter, r *http.Request) {
	var req bulkRunRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	dr, err := parseDateRange(req.From, req.To)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	if req.Async {
		if h.queue == nil {
			httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "async bulk runs are not configured")
			return
		}
		taskID, err := h.queue.EnqueueBulkRun(r.Context(), req.AccountID, dr, req.Threshold)
		if err != nil {
			h.logger.Error("enqueue bulk run", slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "could not enqueue bulk run")
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]any{"task_id": taskID})
		return
	}

	result, err := h.service.RunBulk(r.Context(), req.AccountID, dr, req.Threshold)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// respondError maps the engine taxonomy onto problem responses.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrAlreadyReconciled):
		httpx.Problem(w, http.StatusConflict, "Already Reconciled", err.Error())
	case errors.Is(err, ErrNotReconciled):
		httpx.Problem(w, http.StatusConflict, "Not Reconciled", err.Error())
	case errors.Is(err, ErrCrossAccount):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Cross-Account Pair", err.Error())
	case errors.Is(err, ErrBusy):
		w.Header().Set("Retry-After", "1")
		httpx.Problem(w, http.StatusConflict, "Busy", err.Error())
	case errors.Is(err, ErrDataUnavailable):
		httpx.Problem(w, http.StatusServiceUnavailable, "Data Unavailable", "the movement store could not be reached")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpx.Problem(w, http.StatusServiceUnavailable, "Cancelled", "the request was cancelled before completion")
	default:
		h.logger.Error("treasury recon request failed",
			slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func parseDateRange(from, to string) (DateRange, error) {
	var dr DateRange
	if from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			return dr, errors.New("invalid from date")
		}
		dr.From = t
	}
	if to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			return dr, errors.New("invalid to date")
		}
		dr.To = t
	}
	if !dr.From.IsZero() && !dr.To.IsZero() && dr.To.Before(dr.From) {
		return dr, errors.New("to date precedes from date")
	}
	return dr, nil
}
