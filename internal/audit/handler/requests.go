package handler

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"trustledger/internal/audit"
	"trustledger/pkg/domain"
	dErrors "trustledger/pkg/domain-errors"
)

// RecordRequest is the body of POST /v1/audit/records.
type RecordRequest struct {
	Action          string         `json:"action"`
	EntityType      string         `json:"entityType"`
	EntityID        string         `json:"entityId"`
	OldValues       map[string]any `json:"oldValues,omitempty"`
	NewValues       map[string]any `json:"newValues,omitempty"`
	ComplianceLevel string         `json:"complianceLevel,omitempty"`
}

func (r *RecordRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if _, err := audit.ParseAction(r.Action); err != nil {
		return err
	}
	if _, err := domain.ParseEntityType(r.EntityType); err != nil {
		return err
	}
	if strings.TrimSpace(r.EntityID) == "" {
		return dErrors.New(dErrors.CodeValidation, "entityId is required")
	}
	if r.ComplianceLevel != "" {
		if _, err := domain.ParseComplianceLevel(r.ComplianceLevel); err != nil {
			return err
		}
	}
	return nil
}

func (r *RecordRequest) Event() audit.Event {
	return audit.Event{
		Action:     audit.Action(r.Action),
		EntityType: domain.EntityType(strings.TrimSpace(r.EntityType)),
		EntityID:   strings.TrimSpace(r.EntityID),
		OldValues:  r.OldValues,
		NewValues:  r.NewValues,
		Level:      domain.ComplianceLevel(r.ComplianceLevel),
	}
}

// ParseFilter reads the trail query parameters.
func ParseFilter(q url.Values) (audit.Filter, error) {
	f := audit.Filter{ActorID: q.Get("actor")}
	for _, raw := range q["action"] {
		for _, part := range strings.Split(raw, ",") {
			a, err := audit.ParseAction(strings.TrimSpace(part))
			if err != nil {
				return f, err
			}
			f.Actions = append(f.Actions, a)
		}
	}
	var err error
	if f.From, err = parseTime(q.Get("from"), "from"); err != nil {
		return f, err
	}
	if f.To, err = parseTime(q.Get("to"), "to"); err != nil {
		return f, err
	}
	if v := q.Get("level"); v != "" {
		if f.Level, err = domain.ParseComplianceLevel(v); err != nil {
			return f, err
		}
	}
	if v := q.Get("verified"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, dErrors.New(dErrors.CodeInvalidInput, "verified must be a boolean")
		}
		f.Verified = &b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, dErrors.New(dErrors.CodeInvalidInput, "limit must be a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}

func parseTime(v, name string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeInvalidInput, name+" must be an RFC 3339 timestamp")
	}
	return t, nil
}
