package audit

import (
	"fmt"
	"time"

	"trustledger/pkg/domain"
	dErrors "trustledger/pkg/domain-errors"
)

// Action is the kind of mutation or access being recorded.
type Action string

const (
	ActionCreate         Action = "CREATE"
	ActionUpdate         Action = "UPDATE"
	ActionDelete         Action = "DELETE"
	ActionLogin          Action = "LOGIN"
	ActionLogout         Action = "LOGOUT"
	ActionValidate       Action = "VALIDATE"
	ActionApprove        Action = "APPROVE"
	ActionReject         Action = "REJECT"
	ActionPaymentProcess Action = "PAYMENT_PROCESS"
	ActionStatusChange   Action = "STATUS_CHANGE"
)

var validActions = map[Action]bool{
	ActionCreate:         true,
	ActionUpdate:         true,
	ActionDelete:         true,
	ActionLogin:          true,
	ActionLogout:         true,
	ActionValidate:       true,
	ActionApprove:        true,
	ActionReject:         true,
	ActionPaymentProcess: true,
	ActionStatusChange:   true,
}

// ParseAction constructs an Action from external input.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid audit action")
	}
	return a, nil
}

func (a Action) IsValid() bool { return validActions[a] }

// Actor carries who performed a mutation and from where. Empty fields are
// filled from the request context when recording.
type Actor struct {
	ID        string
	SessionID string
	IPAddress string
	UserAgent string
	RequestID string
}

// Event is what a business operation hands to the recorder once it completes.
type Event struct {
	Action     Action
	EntityType domain.EntityType
	EntityID   string
	Actor      Actor
	OldValues  map[string]any
	NewValues  map[string]any
	// Level is an optional compliance level hint. Empty means the entity
	// type's default level.
	Level domain.ComplianceLevel
}

// Validate checks the fields every event must carry.
func (e Event) Validate() error {
	if !e.Action.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "invalid audit action")
	}
	if _, err := domain.ParseEntityType(string(e.EntityType)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid entity type")
	}
	if e.EntityID == "" {
		return dErrors.New(dErrors.CodeValidation, "entity id is required")
	}
	if e.Level != "" && !e.Level.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "invalid compliance level")
	}
	return nil
}

// Record is the immutable audit row. Only the ledger reference fields change,
// and only once, when a reconciliation pass confirms an unverified record.
type Record struct {
	ID              domain.RecordID
	Action          Action
	EntityType      domain.EntityType
	EntityID        string
	ActorID         string
	OldValues       map[string]any
	NewValues       map[string]any
	IPAddress       string
	UserAgent       string
	SessionID       string
	RequestID       string
	ComplianceLevel domain.ComplianceLevel
	RetentionUntil  time.Time
	LedgerKey       string
	LedgerTxID      string
	LedgerHash      string
	LedgerVerified  bool
	CreatedAt       time.Time
}

// ledgerPayload is the record as committed to the ledger. Ledger references
// are excluded since they are derived from the append itself.
type ledgerPayload struct {
	ID              string         `json:"id"`
	Action          Action         `json:"action"`
	EntityType      string         `json:"entityType"`
	EntityID        string         `json:"entityId"`
	ActorID         string         `json:"actorId,omitempty"`
	OldValues       map[string]any `json:"oldValues,omitempty"`
	NewValues       map[string]any `json:"newValues,omitempty"`
	IPAddress       string         `json:"ipAddress,omitempty"`
	UserAgent       string         `json:"userAgent,omitempty"`
	SessionID       string         `json:"sessionId,omitempty"`
	RequestID       string         `json:"requestId,omitempty"`
	ComplianceLevel string         `json:"complianceLevel"`
	RetentionUntil  string         `json:"retentionUntil"`
	CreatedAt       string         `json:"createdAt"`
}

// LedgerPayload returns the value appended to the ledger for this record.
// It is rebuilt from the stored row during reconciliation and verification,
// so it only depends on persisted fields.
func (r *Record) LedgerPayload() any {
	return ledgerPayload{
		ID:              r.ID.String(),
		Action:          r.Action,
		EntityType:      string(r.EntityType),
		EntityID:        r.EntityID,
		ActorID:         r.ActorID,
		OldValues:       r.OldValues,
		NewValues:       r.NewValues,
		IPAddress:       r.IPAddress,
		UserAgent:       r.UserAgent,
		SessionID:       r.SessionID,
		RequestID:       r.RequestID,
		ComplianceLevel: string(r.ComplianceLevel),
		RetentionUntil:  r.RetentionUntil.UTC().Format(time.RFC3339Nano),
		CreatedAt:       r.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Filter narrows an audit trail query. Zero values mean "no constraint".
type Filter struct {
	ActorID  string
	Actions  []Action
	From     time.Time
	To       time.Time
	Level    domain.ComplianceLevel
	Verified *bool
	Limit    int
}

// Matches reports whether r satisfies every constraint in f.
func (f Filter) Matches(r *Record) bool {
	if f.ActorID != "" && r.ActorID != f.ActorID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == r.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if !f.From.IsZero() && r.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.CreatedAt.After(f.To) {
		return false
	}
	if f.Level != "" && r.ComplianceLevel != f.Level {
		return false
	}
	if f.Verified != nil && r.LedgerVerified != *f.Verified {
		return false
	}
	return true
}

// PartialWriteError reports a dual-write mismatch: the index row could not be
// written. LedgerWritten tells the reconciler whether the ledger half exists.
type PartialWriteError struct {
	LedgerKey     string
	LedgerWritten bool
	Record        *Record
	Err           error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("audit partial write (ledger key %s, ledger written %t): %v", e.LedgerKey, e.LedgerWritten, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

// VerificationMismatchError reports a ledger read-back that does not match the
// stored record. It is a compliance alert and is never corrected automatically.
type VerificationMismatchError struct {
	RecordID  domain.RecordID
	LedgerKey string
	Expected  string
	Reason    string
}

func (e *VerificationMismatchError) Error() string {
	return fmt.Sprintf("ledger verification mismatch for record %s (key %s): %s", e.RecordID, e.LedgerKey, e.Reason)
}
