package handler

import (
	"strings"
	"time"

	"trustledger/internal/erasure"
	"trustledger/pkg/domain"
	dErrors "trustledger/pkg/domain-errors"
)

// ErasureRequest is the body of POST /v1/erasure/requests.
type ErasureRequest struct {
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Reason     string `json:"reason"`
	Method     string `json:"method,omitempty"`
	Force      bool   `json:"force,omitempty"`
}

func (r *ErasureRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if _, err := domain.ParseEntityType(r.EntityType); err != nil {
		return err
	}
	if strings.TrimSpace(r.EntityID) == "" {
		return dErrors.New(dErrors.CodeValidation, "entityId is required")
	}
	if strings.TrimSpace(r.Reason) == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	if r.Method != "" {
		if _, err := erasure.ParseMethod(r.Method); err != nil {
			return err
		}
	}
	return nil
}

func (r *ErasureRequest) toRequest() erasure.Request {
	req := erasure.Request{
		EntityType: domain.EntityType(strings.TrimSpace(r.EntityType)),
		EntityID:   strings.TrimSpace(r.EntityID),
		Reason:     strings.TrimSpace(r.Reason),
		Force:      r.Force,
	}
	if r.Method != "" {
		req.Method, _ = erasure.ParseMethod(r.Method)
	}
	return req
}

// OutcomeResponse answers an erasure request.
type OutcomeResponse struct {
	CanDelete         bool       `json:"canDelete"`
	DeletionScheduled bool       `json:"deletionScheduled"`
	RetentionReasons  []string   `json:"retentionReasons"`
	ScheduledFor      *time.Time `json:"scheduledFor,omitempty"`
	RecordID          string     `json:"recordId,omitempty"`
}

func toOutcomeResponse(o *erasure.Outcome) OutcomeResponse {
	resp := OutcomeResponse{
		CanDelete:         o.CanDelete,
		DeletionScheduled: o.DeletionScheduled,
		RetentionReasons:  o.RetentionReasons,
	}
	if resp.RetentionReasons == nil {
		resp.RetentionReasons = []string{}
	}
	if o.DeletionScheduled {
		at := o.ScheduledFor
		resp.ScheduledFor = &at
		resp.RecordID = o.RecordID.String()
	}
	return resp
}

// RecordResponse is the external view of an erasure record. The pre-erasure
// snapshot is never exposed.
type RecordResponse struct {
	ID               string     `json:"id"`
	EntityType       string     `json:"entityType"`
	EntityID         string     `json:"entityId"`
	Reason           string     `json:"reason"`
	RequestedBy      string     `json:"requestedBy"`
	Forced           bool       `json:"forced"`
	Method           string     `json:"method"`
	State            string     `json:"state"`
	Result           string     `json:"result"`
	Error            string     `json:"error,omitempty"`
	RetentionReasons []string   `json:"retentionReasons,omitempty"`
	ScheduledFor     time.Time  `json:"scheduledFor"`
	DeletedAt        *time.Time `json:"deletedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

func toRecordResponse(r *erasure.Record) RecordResponse {
	return RecordResponse{
		ID:               r.ID.String(),
		EntityType:       string(r.EntityType),
		EntityID:         r.EntityID,
		Reason:           r.Reason,
		RequestedBy:      r.RequestedBy,
		Forced:           r.Forced,
		Method:           r.Method.String(),
		State:            string(r.State),
		Result:           string(r.Result),
		Error:            r.Error,
		RetentionReasons: r.RetentionReasons,
		ScheduledFor:     r.ScheduledFor,
		DeletedAt:        r.DeletedAt,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

// HoldResponse is returned with 422 when execution hit a legal hold.
type HoldResponse struct {
	Error   string         `json:"error"`
	Reasons []string       `json:"reasons"`
	Record  RecordResponse `json:"record"`
}
