package compliance

import (
	"context"
	"time"

	"trustledger/internal/audit"
	"trustledger/pkg/domain"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// DueIn is how long an entity owner has to fix an issue of this severity.
func (s Severity) DueIn() time.Duration {
	switch s {
	case SeverityCritical:
		return 24 * time.Hour
	case SeverityHigh:
		return 7 * 24 * time.Hour
	case SeverityLow:
		return 90 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}

type IssueType string

const IssueMandatoryFields IssueType = "MANDATORY_FIELDS"

// SystemResolver is recorded as ResolvedBy when a scan finds the entity fixed.
const SystemResolver = "system:compliance-scanner"

// Issue is one entity's open or resolved compliance gap. A single issue
// aggregates every missing field of the entity.
type Issue struct {
	ID            domain.IssueID    `json:"id"`
	EntityType    domain.EntityType `json:"entityType"`
	EntityID      string            `json:"entityId"`
	IssueType     IssueType         `json:"issueType"`
	Severity      Severity          `json:"severity"`
	MissingFields []string          `json:"missingFields"`
	// Cycles counts consecutive scans that found the issue.
	Cycles     int        `json:"cycles"`
	DueDate    time.Time  `json:"dueDate"`
	DetectedAt time.Time  `json:"detectedAt"`
	LastSeenAt time.Time  `json:"lastSeenAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
	ResolvedBy string     `json:"resolvedBy,omitempty"`
}

func (i *Issue) Open() bool { return i.ResolvedAt == nil }

// Store persists compliance issues. At most one open issue exists per entity
// and issue type.
type Store interface {
	Create(ctx context.Context, issue *Issue) error
	Update(ctx context.Context, issue *Issue) error
	Get(ctx context.Context, id domain.IssueID) (*Issue, error)
	// ListOpen returns the open issues of an entity type.
	ListOpen(ctx context.Context, entityType domain.EntityType) ([]*Issue, error)
}

// Recorder is the audit dependency of the engine.
type Recorder interface {
	Record(ctx context.Context, event audit.Event) (*audit.Record, error)
}
