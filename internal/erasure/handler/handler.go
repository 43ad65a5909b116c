package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"trustledger/internal/erasure"
	"trustledger/pkg/domain"
	"trustledger/pkg/platform/httputil"
	"trustledger/pkg/requestcontext"
)

// Service is the erasure workflow surface used over HTTP.
type Service interface {
	RequestErasure(ctx context.Context, req erasure.Request) (*erasure.Outcome, error)
	Get(ctx context.Context, id domain.ErasureID) (*erasure.Record, error)
	Execute(ctx context.Context, id domain.ErasureID) (*erasure.Record, error)
}

// Handler serves the erasure endpoints.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the erasure endpoints on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/erasure/requests", h.HandleRequest)
	r.Get("/erasure/records/{id}", h.HandleGet)
	r.Post("/erasure/records/{id}/execute", h.HandleExecute)
}

// HandleRequest handles POST /erasure/requests. A refusal under legal hold is
// a normal 200 answer with canDelete false.
func (h *Handler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[ErasureRequest](w, r, h.logger)
	if !ok {
		return
	}
	outcome, err := h.service.RequestErasure(ctx, req.toRequest())
	if err != nil {
		h.logger.WarnContext(ctx, "erasure request failed",
			"request_id", requestcontext.RequestID(ctx),
			"entity_type", req.EntityType,
			"entity_id", req.EntityID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	status := http.StatusOK
	if outcome.DeletionScheduled {
		status = http.StatusAccepted
	}
	httputil.WriteJSON(w, status, toOutcomeResponse(outcome))
}

// HandleGet handles GET /erasure/records/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseErasureID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(rec))
}

// HandleExecute handles POST /erasure/records/{id}/execute. A strategy
// failure is reported through the FAILED record; a legal hold is a 422.
func (h *Handler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseErasureID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.service.Execute(ctx, id)
	if rec == nil && err != nil {
		httputil.WriteError(w, err)
		return
	}
	var violation *erasure.RetentionViolation
	if errors.As(err, &violation) {
		httputil.WriteJSON(w, http.StatusUnprocessableEntity, HoldResponse{
			Error:   "retention_hold",
			Reasons: violation.Reasons,
			Record:  toRecordResponse(rec),
		})
		return
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "erasure execution failed",
			"request_id", requestcontext.RequestID(ctx),
			"erasure_id", id.String(),
			"error", err,
		)
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(rec))
}
