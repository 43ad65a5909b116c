package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"trustledger/internal/compliance"
	"trustledger/pkg/domain"
	dErrors "trustledger/pkg/domain-errors"
	"trustledger/pkg/platform/httputil"
	"trustledger/pkg/requestcontext"
)

// Service is the compliance engine surface used over HTTP.
type Service interface {
	ListOpen(ctx context.Context, entityType domain.EntityType) ([]*compliance.Issue, error)
	Resolve(ctx context.Context, id domain.IssueID, actor string) (*compliance.Issue, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/compliance/issues", h.HandleListOpen)
	r.Post("/compliance/issues/{id}/resolve", h.HandleResolve)
}

// IssuesResponse lists the open issues of one entity type.
type IssuesResponse struct {
	EntityType string              `json:"entityType"`
	Issues     []*compliance.Issue `json:"issues"`
}

// HandleListOpen handles GET /compliance/issues?entityType=.
func (h *Handler) HandleListOpen(w http.ResponseWriter, r *http.Request) {
	entityType, err := domain.ParseEntityType(r.URL.Query().Get("entityType"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	issues, err := h.service.ListOpen(r.Context(), entityType)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if issues == nil {
		issues = []*compliance.Issue{}
	}
	httputil.WriteJSON(w, http.StatusOK, IssuesResponse{EntityType: string(entityType), Issues: issues})
}

// HandleResolve handles POST /compliance/issues/{id}/resolve. The resolver is
// the authenticated actor.
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseIssueID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	actor := requestcontext.ActorID(ctx)
	if actor == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authenticated actor required"))
		return
	}
	issue, err := h.service.Resolve(ctx, id, actor)
	if err != nil {
		h.logger.WarnContext(ctx, "compliance issue resolve failed",
			"request_id", requestcontext.RequestID(ctx),
			"issue_id", id.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, issue)
}
