package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"trustledger/internal/risk/aml"
	"trustledger/internal/risk/sca"
	dErrors "trustledger/pkg/domain-errors"
	"trustledger/pkg/platform/httputil"
	"trustledger/pkg/requestcontext"
)

// SCAService decides and completes strong customer authentication.
type SCAService interface {
	Assess(ctx context.Context, req sca.Request) (*sca.Attempt, error)
	Get(ctx context.Context, id string) (*sca.Attempt, error)
	Complete(ctx context.Context, id string, passed bool) (*sca.Attempt, error)
}

// AMLService runs customer due diligence checks.
type AMLService interface {
	Assess(ctx context.Context, req aml.Request) (*aml.Check, error)
}

type Handler struct {
	sca    SCAService
	aml    AMLService
	logger *slog.Logger
}

func New(scaService SCAService, amlService AMLService, logger *slog.Logger) *Handler {
	return &Handler{sca: scaService, aml: amlService, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/risk/sca", h.HandleAssessSCA)
	r.Get("/risk/sca/{id}", h.HandleGetSCA)
	r.Post("/risk/sca/{id}/complete", h.HandleCompleteSCA)
	r.Post("/risk/aml", h.HandleAssessAML)
}

// SCARequest is the body of POST /v1/risk/sca. The user defaults to the
// authenticated actor; address and device come from the request itself.
type SCARequest struct {
	UserID          string          `json:"userId,omitempty"`
	HolderName      string          `json:"holderName,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	TransactionType string          `json:"transactionType,omitempty"`
	Country         string          `json:"country,omitempty"`
}

func (r *SCARequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(strings.TrimSpace(r.Currency)) != 3 {
		return dErrors.New(dErrors.CodeValidation, "currency must be an ISO 4217 code")
	}
	return nil
}

// CompleteRequest is the body of POST /v1/risk/sca/{id}/complete.
type CompleteRequest struct {
	Passed *bool `json:"passed"`
}

func (r *CompleteRequest) Validate() error {
	if r == nil || r.Passed == nil {
		return dErrors.New(dErrors.CodeValidation, "passed is required")
	}
	return nil
}

// HandleAssessSCA handles POST /risk/sca.
func (h *Handler) HandleAssessSCA(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, ok := httputil.DecodeAndPrepare[SCARequest](w, r, h.logger)
	if !ok {
		return
	}
	userID := body.UserID
	if userID == "" {
		userID = requestcontext.ActorID(ctx)
	}
	attempt, err := h.sca.Assess(ctx, sca.Request{
		UserID:          userID,
		HolderName:      body.HolderName,
		Amount:          body.Amount,
		Currency:        strings.ToUpper(strings.TrimSpace(body.Currency)),
		TransactionType: sca.TransactionType(strings.ToUpper(body.TransactionType)),
		IPAddress:       requestcontext.ClientIP(ctx),
		UserAgent:       requestcontext.UserAgent(ctx),
		Country:         strings.ToUpper(body.Country),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "sca assessment failed",
			"request_id", requestcontext.RequestID(ctx),
			"user_id", userID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, attempt)
}

// HandleGetSCA handles GET /risk/sca/{id}.
func (h *Handler) HandleGetSCA(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.sca.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, attempt)
}

// HandleCompleteSCA handles POST /risk/sca/{id}/complete.
func (h *Handler) HandleCompleteSCA(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, ok := httputil.DecodeAndPrepare[CompleteRequest](w, r, h.logger)
	if !ok {
		return
	}
	attempt, err := h.sca.Complete(ctx, chi.URLParam(r, "id"), *body.Passed)
	if err != nil {
		h.logger.WarnContext(ctx, "sca completion failed",
			"request_id", requestcontext.RequestID(ctx),
			"attempt_id", chi.URLParam(r, "id"),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, attempt)
}

// HandleAssessAML handles POST /risk/aml.
func (h *Handler) HandleAssessAML(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, ok := httputil.DecodeAndPrepare[aml.Request](w, r, h.logger)
	if !ok {
		return
	}
	check, err := h.aml.Assess(ctx, *body)
	if err != nil {
		h.logger.WarnContext(ctx, "aml assessment failed",
			"request_id", requestcontext.RequestID(ctx),
			"customer_id", body.CustomerID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, check)
}
