package domain

import dErrors "trustledger/pkg/domain-errors"

// ComplianceLevel classifies how strictly a record is regulated. It drives the
// retention tier of every audit record.
type ComplianceLevel string

const (
	ComplianceStandard   ComplianceLevel = "STANDARD"
	ComplianceEnhanced   ComplianceLevel = "ENHANCED"
	ComplianceCritical   ComplianceLevel = "CRITICAL"
	ComplianceRegulatory ComplianceLevel = "REGULATORY"
)

var complianceRank = map[ComplianceLevel]int{
	ComplianceStandard:   1,
	ComplianceEnhanced:   2,
	ComplianceCritical:   3,
	ComplianceRegulatory: 4,
}

// ComplianceLevels lists every level from least to most strict.
func ComplianceLevels() []ComplianceLevel {
	return []ComplianceLevel{ComplianceStandard, ComplianceEnhanced, ComplianceCritical, ComplianceRegulatory}
}

// ParseComplianceLevel constructs a ComplianceLevel from external input.
//
// Errors: returns CodeInvalidInput when the value is empty or unknown.
func ParseComplianceLevel(s string) (ComplianceLevel, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "compliance level cannot be empty")
	}
	l := ComplianceLevel(s)
	if !l.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid compliance level")
	}
	return l, nil
}

func (l ComplianceLevel) IsValid() bool {
	_, ok := complianceRank[l]
	return ok
}

// Stricter reports whether l is more strictly regulated than other.
func (l ComplianceLevel) Stricter(other ComplianceLevel) bool {
	return complianceRank[l] > complianceRank[other]
}

func (l ComplianceLevel) String() string {
	return string(l)
}
