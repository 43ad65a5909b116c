package sink

import (
	"encoding/json"
	"fmt"
	"time"

	"trustledger/internal/audit"
)

// Message is the wire form of an audit record on the event stream. Old and new
// values are left out; consumers fetch them through the trail API if allowed.
type Message struct {
	ID              string `json:"id"`
	Action          string `json:"action"`
	EntityType      string `json:"entityType"`
	EntityID        string `json:"entityId"`
	ActorID         string `json:"actorId,omitempty"`
	RequestID       string `json:"requestId,omitempty"`
	ComplianceLevel string `json:"complianceLevel"`
	RetentionUntil  string `json:"retentionUntil"`
	LedgerKey       string `json:"ledgerKey"`
	LedgerTxID      string `json:"ledgerTxId,omitempty"`
	LedgerVerified  bool   `json:"ledgerVerified"`
	CreatedAt       string `json:"createdAt"`
}

func NewMessage(rec *audit.Record) Message {
	return Message{
		ID:              rec.ID.String(),
		Action:          string(rec.Action),
		EntityType:      string(rec.EntityType),
		EntityID:        rec.EntityID,
		ActorID:         rec.ActorID,
		RequestID:       rec.RequestID,
		ComplianceLevel: string(rec.ComplianceLevel),
		RetentionUntil:  rec.RetentionUntil.UTC().Format(time.RFC3339Nano),
		LedgerKey:       rec.LedgerKey,
		LedgerTxID:      rec.LedgerTxID,
		LedgerVerified:  rec.LedgerVerified,
		CreatedAt:       rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func encode(rec *audit.Record) ([]byte, error) {
	data, err := json.Marshal(NewMessage(rec))
	if err != nil {
		return nil, fmt.Errorf("marshal audit message: %w", err)
	}
	return data, nil
}
