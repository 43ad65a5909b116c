package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"trustledger/internal/audit"
	"trustledger/pkg/domain"
	"trustledger/pkg/platform/httputil"
	"trustledger/pkg/requestcontext"
)

// Recorder is the audit write and query surface.
type Recorder interface {
	Record(ctx context.Context, event audit.Event) (*audit.Record, error)
	GetTrail(ctx context.Context, entityType domain.EntityType, entityID string, filter audit.Filter) ([]*audit.Record, error)
}

// Verifier re-checks a record against the ledger.
type Verifier interface {
	Verify(ctx context.Context, id domain.RecordID) (*audit.VerifyResult, error)
}

// Handler serves the audit endpoints.
type Handler struct {
	recorder Recorder
	verifier Verifier
	logger   *slog.Logger
}

func New(recorder Recorder, verifier Verifier, logger *slog.Logger) *Handler {
	return &Handler{recorder: recorder, verifier: verifier, logger: logger}
}

// Register mounts the audit endpoints on r.
func (h *Handler) Register(r chi.Router) {
	r.Post("/audit/records", h.HandleRecord)
	r.Get("/audit/trail/{entityType}/{entityID}", h.HandleTrail)
	r.Get("/audit/records/{id}/verify", h.HandleVerify)
}

// HandleRecord handles POST /audit/records.
func (h *Handler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[RecordRequest](w, r, h.logger)
	if !ok {
		return
	}

	rec, err := h.recorder.Record(ctx, req.Event())
	var partial *audit.PartialWriteError
	if errors.As(err, &partial) {
		h.logger.ErrorContext(ctx, "audit partial write",
			"request_id", requestcontext.RequestID(ctx),
			"ledger_key", partial.LedgerKey,
			"ledger_written", partial.LedgerWritten,
			"error", partial.Err,
		)
		httputil.WriteJSON(w, http.StatusBadGateway, PartialWriteResponse{
			Error:         "partial_write",
			LedgerKey:     partial.LedgerKey,
			LedgerWritten: partial.LedgerWritten,
		})
		return
	}
	if err != nil {
		h.logger.WarnContext(ctx, "audit record rejected",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, FromRecord(rec))
}

// HandleTrail handles GET /audit/trail/{entityType}/{entityID}.
func (h *Handler) HandleTrail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entityType, err := domain.ParseEntityType(chi.URLParam(r, "entityType"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	filter, err := ParseFilter(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entityID := chi.URLParam(r, "entityID")
	records, err := h.recorder.GetTrail(ctx, entityType, entityID, filter)
	if err != nil {
		h.logger.ErrorContext(ctx, "audit trail query failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	resp := TrailResponse{EntityType: string(entityType), EntityID: entityID, Records: make([]RecordResponse, 0, len(records))}
	for _, rec := range records {
		resp.Records = append(resp.Records, FromRecord(rec))
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// HandleVerify handles GET /audit/records/{id}/verify.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := domain.ParseRecordID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	result, err := h.verifier.Verify(ctx, id)
	var mismatch *audit.VerificationMismatchError
	if errors.As(err, &mismatch) {
		h.logger.ErrorContext(ctx, "ledger verification mismatch",
			"request_id", requestcontext.RequestID(ctx),
			"record_id", mismatch.RecordID.String(),
			"ledger_key", mismatch.LedgerKey,
			"reason", mismatch.Reason,
		)
		httputil.WriteJSON(w, http.StatusConflict, MismatchResponse{
			Error:     "verification_mismatch",
			RecordID:  mismatch.RecordID.String(),
			LedgerKey: mismatch.LedgerKey,
			Reason:    mismatch.Reason,
		})
		return
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromVerifyResult(result))
}
