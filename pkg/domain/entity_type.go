package domain

import (
	"strings"
	"unicode"

	dErrors "trustledger/pkg/domain-errors"
)

// EntityType names a business entity kind (Client, Invoice, ...). The set is
// open: new regulated entities only need a retention policy entry.
type EntityType string

// Entity types the platform knows about out of the box.
const (
	EntityClient                EntityType = "Client"
	EntityInvoice               EntityType = "Invoice"
	EntityCreditor              EntityType = "Creditor"
	EntityPayment               EntityType = "Payment"
	EntityUserProfile           EntityType = "UserProfile"
	EntityAuthenticationAttempt EntityType = "AuthenticationAttempt"
	EntityWwftCheck             EntityType = "WwftCheck"
	EntityComplianceScan        EntityType = "ComplianceScan"
	EntityComplianceIssue       EntityType = "ComplianceIssue"
	EntityErasureRecord         EntityType = "ErasureRecord"
)

const maxEntityTypeLen = 64

// ParseEntityType validates an entity type name from external input. Names are
// ASCII identifiers so they can be embedded in ledger keys.
func ParseEntityType(s string) (EntityType, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "entity type cannot be empty")
	}
	if len(s) > maxEntityTypeLen {
		return "", dErrors.New(dErrors.CodeInvalidInput, "entity type too long")
	}
	for _, r := range s {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			return "", dErrors.New(dErrors.CodeInvalidInput, "entity type must be an identifier")
		}
	}
	return EntityType(s), nil
}

func (t EntityType) String() string {
	return string(t)
}
