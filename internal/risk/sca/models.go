package sca

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"trustledger/internal/risk"
	"trustledger/internal/screening"
	dErrors "trustledger/pkg/domain-errors"
)

// Status of an authentication attempt.
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusAuthenticated Status = "AUTHENTICATED"
	StatusFailed        Status = "FAILED"
	StatusExpired       Status = "EXPIRED"
)

type TransactionType string

const (
	TransactionSingle    TransactionType = "SINGLE"
	TransactionRecurring TransactionType = "RECURRING"
)

// Attempt is one strong customer authentication decision.
type Attempt struct {
	ID                string              `json:"id"`
	UserID            string              `json:"userId"`
	Amount            decimal.Decimal     `json:"amount"`
	Currency          string              `json:"currency"`
	TransactionType   TransactionType     `json:"transactionType"`
	Status            Status              `json:"status"`
	Risk              risk.Result         `json:"risk"`
	Classification    risk.Classification `json:"classification"`
	Sanctions         screening.Status    `json:"sanctions,omitempty"`
	PEP               screening.Status    `json:"pep,omitempty"`
	DeviceFingerprint string              `json:"deviceFingerprint,omitempty"`
	IPAddress         string              `json:"ipAddress,omitempty"`
	Country           string              `json:"country,omitempty"`
	CreatedAt         time.Time           `json:"createdAt"`
	ExpiresAt         time.Time           `json:"expiresAt"`
	CompletedAt       *time.Time          `json:"completedAt,omitempty"`
}

// EffectiveStatus is the status callers may rely on at now: a PENDING
// challenge past its expiry is EXPIRED whatever was stored.
func (a *Attempt) EffectiveStatus(now time.Time) Status {
	if a.Status == StatusPending && !now.Before(a.ExpiresAt) {
		return StatusExpired
	}
	return a.Status
}

// Request describes a payment that may need strong authentication.
type Request struct {
	UserID          string
	HolderName      string
	Amount          decimal.Decimal
	Currency        string
	TransactionType TransactionType
	IPAddress       string
	UserAgent       string
	Country         string
}

func (r Request) Validate() error {
	if r.UserID == "" {
		return dErrors.New(dErrors.CodeValidation, "user id is required")
	}
	if r.Amount.IsNegative() {
		return dErrors.New(dErrors.CodeValidation, "amount cannot be negative")
	}
	switch r.TransactionType {
	case "", TransactionSingle, TransactionRecurring:
	default:
		return dErrors.New(dErrors.CodeValidation, "invalid transaction type")
	}
	return nil
}

// AttemptStore persists attempts.
type AttemptStore interface {
	Save(ctx context.Context, a *Attempt) error
	Get(ctx context.Context, id string) (*Attempt, error)
}

// FrequencyCounter counts a user's authentication attempts in a sliding window.
type FrequencyCounter interface {
	Add(ctx context.Context, userID string, at time.Time) error
	Count(ctx context.Context, userID string, since time.Time) (int, error)
}

// DeviceRegistry remembers devices a user authenticated from.
type DeviceRegistry interface {
	Known(ctx context.Context, userID, fingerprint string) (bool, error)
	Remember(ctx context.Context, userID, fingerprint string) error
}
