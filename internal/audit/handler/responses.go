package handler

import (
	"time"

	"trustledger/internal/audit"
)

// RecordResponse is the external view of an audit record.
type RecordResponse struct {
	ID              string         `json:"id"`
	Action          string         `json:"action"`
	EntityType      string         `json:"entityType"`
	EntityID        string         `json:"entityId"`
	ActorID         string         `json:"actorId,omitempty"`
	OldValues       map[string]any `json:"oldValues,omitempty"`
	NewValues       map[string]any `json:"newValues,omitempty"`
	IPAddress       string         `json:"ipAddress,omitempty"`
	UserAgent       string         `json:"userAgent,omitempty"`
	SessionID       string         `json:"sessionId,omitempty"`
	ComplianceLevel string         `json:"complianceLevel"`
	RetentionUntil  time.Time      `json:"retentionUntil"`
	LedgerKey       string         `json:"ledgerKey"`
	LedgerTxID      string         `json:"ledgerTxId,omitempty"`
	LedgerVerified  bool           `json:"ledgerVerified"`
	CreatedAt       time.Time      `json:"createdAt"`
}

func FromRecord(r *audit.Record) RecordResponse {
	return RecordResponse{
		ID:              r.ID.String(),
		Action:          string(r.Action),
		EntityType:      string(r.EntityType),
		EntityID:        r.EntityID,
		ActorID:         r.ActorID,
		OldValues:       r.OldValues,
		NewValues:       r.NewValues,
		IPAddress:       r.IPAddress,
		UserAgent:       r.UserAgent,
		SessionID:       r.SessionID,
		ComplianceLevel: string(r.ComplianceLevel),
		RetentionUntil:  r.RetentionUntil,
		LedgerKey:       r.LedgerKey,
		LedgerTxID:      r.LedgerTxID,
		LedgerVerified:  r.LedgerVerified,
		CreatedAt:       r.CreatedAt,
	}
}

// TrailResponse is the body of the trail query, newest first.
type TrailResponse struct {
	EntityType string           `json:"entityType"`
	EntityID   string           `json:"entityId"`
	Records    []RecordResponse `json:"records"`
}

// PartialWriteResponse is returned with 502 when the index write failed.
type PartialWriteResponse struct {
	Error         string `json:"error"`
	LedgerKey     string `json:"ledgerKey"`
	LedgerWritten bool   `json:"ledgerWritten"`
}

// MismatchResponse is returned with 409 when the ledger disagrees with the
// stored record.
type MismatchResponse struct {
	Error     string `json:"error"`
	RecordID  string `json:"recordId"`
	LedgerKey string `json:"ledgerKey"`
	Reason    string `json:"reason"`
}

// VerifyResponse is the body of the verify endpoint.
type VerifyResponse struct {
	RecordID  string `json:"recordId"`
	LedgerKey string `json:"ledgerKey"`
	Pending   bool   `json:"pending"`
	Verified  bool   `json:"verified"`
}

func FromVerifyResult(v *audit.VerifyResult) VerifyResponse {
	return VerifyResponse{
		RecordID:  v.RecordID.String(),
		LedgerKey: v.LedgerKey,
		Pending:   v.Pending,
		Verified:  v.Verified,
	}
}
