package domain

import (
	"github.com/google/uuid"

	dErrors "trustledger/pkg/domain-errors"
)

// Typed identifiers keep record kinds from being mixed up at compile time.
type (
	RecordID  uuid.UUID
	IssueID   uuid.UUID
	ErasureID uuid.UUID
)

func NewRecordID() RecordID   { return RecordID(uuid.New()) }
func NewIssueID() IssueID     { return IssueID(uuid.New()) }
func NewErasureID() ErasureID { return ErasureID(uuid.New()) }

func parseUUID(s, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be nil")
	}
	return u, nil
}

// ParseRecordID parses an audit record ID from external input.
func ParseRecordID(s string) (RecordID, error) {
	u, err := parseUUID(s, "record ID")
	return RecordID(u), err
}

// ParseIssueID parses a compliance issue ID from external input.
func ParseIssueID(s string) (IssueID, error) {
	u, err := parseUUID(s, "issue ID")
	return IssueID(u), err
}

// ParseErasureID parses an erasure record ID from external input.
func ParseErasureID(s string) (ErasureID, error) {
	u, err := parseUUID(s, "erasure ID")
	return ErasureID(u), err
}

func (id RecordID) String() string  { return uuid.UUID(id).String() }
func (id IssueID) String() string   { return uuid.UUID(id).String() }
func (id ErasureID) String() string { return uuid.UUID(id).String() }

func (id RecordID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id IssueID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id ErasureID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id RecordID) MarshalText() ([]byte, error)  { return []byte(id.String()), nil }
func (id IssueID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id ErasureID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
