package erasure

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"trustledger/internal/audit"
	"trustledger/pkg/domain"
	dErrors "trustledger/pkg/domain-errors"
)

// Method selects how an entity's personal data is removed.
type Method uint8

const (
	MethodSoftDelete Method = iota + 1
	MethodSecureDelete
	MethodAnonymization
	MethodPseudonymization
	MethodArchival
)

var methodNames = map[Method]string{
	MethodSoftDelete:       "SOFT_DELETE",
	MethodSecureDelete:     "SECURE_DELETE",
	MethodAnonymization:    "ANONYMIZATION",
	MethodPseudonymization: "PSEUDONYMIZATION",
	MethodArchival:         "ARCHIVAL",
}

func (m Method) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Method(%d)", uint8(m))
}

func (m Method) IsValid() bool {
	_, ok := methodNames[m]
	return ok
}

// ParseMethod constructs a Method from its name, case-insensitively.
func ParseMethod(s string) (Method, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for m, name := range methodNames {
		if name == s {
			return m, nil
		}
	}
	return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid deletion method")
}

func (m Method) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Method) UnmarshalText(b []byte) error {
	parsed, err := ParseMethod(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// State is the lifecycle position of an erasure record. REQUESTED is the
// state of a request under the legal hold check and is never persisted.
type State string

const (
	StateRequested State = "REQUESTED"
	StateScheduled State = "SCHEDULED"
	StateExecuting State = "EXECUTING"
	StateSuccess   State = "SUCCESS"
	StateFailed    State = "FAILED"
)

func (s State) Terminal() bool {
	return s == StateSuccess || s == StateFailed
}

type Result string

const (
	ResultPending Result = "PENDING"
	ResultSuccess Result = "SUCCESS"
	ResultFailed  Result = "FAILED"
)

// Record tracks one erasure from scheduling to its single terminal outcome.
type Record struct {
	ID               domain.ErasureID
	PolicyID         string
	EntityType       domain.EntityType
	EntityID         string
	Reason           string
	RequestedBy      string
	Forced           bool
	Method           Method
	State            State
	Result           Result
	Error            string
	RetentionReasons []string
	// Snapshot is the entity as it was just before the strategy ran.
	Snapshot     map[string]any
	ScheduledFor time.Time
	DeletedAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Request is a data subject's erasure request.
type Request struct {
	EntityType  domain.EntityType
	EntityID    string
	Reason      string
	RequestedBy string
	// Method defaults to the policy's method when zero.
	Method Method
	Force  bool
}

func (r Request) Validate() error {
	if _, err := domain.ParseEntityType(string(r.EntityType)); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid entity type")
	}
	if strings.TrimSpace(r.EntityID) == "" {
		return dErrors.New(dErrors.CodeValidation, "entity id is required")
	}
	if strings.TrimSpace(r.Reason) == "" {
		return dErrors.New(dErrors.CodeValidation, "erasure reason is required")
	}
	if r.Method != 0 && !r.Method.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "invalid deletion method")
	}
	return nil
}

// Outcome answers an erasure request. CanDelete is false while a legal hold
// applies; a forced request is still scheduled, after the grace period.
type Outcome struct {
	CanDelete         bool
	DeletionScheduled bool
	RetentionReasons  []string
	ScheduledFor      time.Time
	RecordID          domain.ErasureID
}

// BatchResult summarises one run of the executor job.
type BatchResult struct {
	Processed  int      `json:"processed"`
	Successful int      `json:"successful"`
	Failed     int      `json:"failed"`
	Errors     []string `json:"errors,omitempty"`
}

// ErrExecutionFailed is wrapped by the error Execute returns for a record that
// already failed in an earlier run.
var ErrExecutionFailed = errors.New("erasure execution failed")

// RetentionViolation is returned when an erasure reaches execution while a
// legal hold still applies to the entity, whatever its method.
type RetentionViolation struct {
	EntityType domain.EntityType
	EntityID   string
	Reasons    []string
}

func (e *RetentionViolation) Error() string {
	return fmt.Sprintf("retention violation: %s#%s is under legal hold: %s",
		e.EntityType, e.EntityID, strings.Join(e.Reasons, "; "))
}

// storedError rebuilds the error of a finished record: nil on success, the
// RetentionViolation when a hold blocked it, ErrExecutionFailed otherwise.
func storedError(rec *Record) error {
	if rec.Result != ResultFailed {
		return nil
	}
	violation := &RetentionViolation{EntityType: rec.EntityType, EntityID: rec.EntityID, Reasons: rec.RetentionReasons}
	if len(rec.RetentionReasons) > 0 && rec.Error == violation.Error() {
		return violation
	}
	return fmt.Errorf("%w: %s", ErrExecutionFailed, rec.Error)
}

// Store persists erasure records.
type Store interface {
	Create(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id domain.ErasureID) (*Record, error)
	// Transition moves a record from one state to another and fails with
	// sentinel.ErrConflict when the record is no longer in from.
	Transition(ctx context.Context, id domain.ErasureID, from, to State) error
	// Finish stores the outcome of an execution. Only an EXECUTING record can
	// be finished.
	Finish(ctx context.Context, rec *Record) error
	// ListDue returns SCHEDULED records due at now, earliest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Record, error)
	// ListStale returns EXECUTING records last updated before before.
	ListStale(ctx context.Context, before time.Time, limit int) ([]*Record, error)
}

// HoldChecker reports the legal holds that block erasure of an entity.
type HoldChecker interface {
	HasActiveLegalHold(ctx context.Context, entityType domain.EntityType, entityID string) (bool, []string, error)
}

// Recorder is the audit dependency of the workflow.
type Recorder interface {
	Record(ctx context.Context, event audit.Event) (*audit.Record, error)
}
