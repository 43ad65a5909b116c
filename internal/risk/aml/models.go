package aml

import (
	"time"

	"github.com/shopspring/decimal"

	"trustledger/internal/risk"
	"trustledger/internal/screening"
	dErrors "trustledger/pkg/domain-errors"
)

// Level is the customer risk level derived from the score.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

var levelRank = map[Level]int{LevelLow: 0, LevelMedium: 1, LevelHigh: 2, LevelCritical: 3}

// AtLeast reports whether l is as severe as other.
func (l Level) AtLeast(other Level) bool { return levelRank[l] >= levelRank[other] }

// CDDLevel is the depth of customer due diligence required.
type CDDLevel string

const (
	CDDSimplified CDDLevel = "SIMPLIFIED"
	CDDStandard   CDDLevel = "STANDARD"
	CDDEnhanced   CDDLevel = "ENHANCED"
)

// Monitoring is the transaction monitoring intensity.
type Monitoring string

const (
	MonitoringBasic      Monitoring = "BASIC"
	MonitoringStandard   Monitoring = "STANDARD"
	MonitoringEnhanced   Monitoring = "ENHANCED"
	MonitoringContinuous Monitoring = "CONTINUOUS"
)

// Request describes the customer under review.
type Request struct {
	CustomerID       string          `json:"customerId"`
	Name             string          `json:"name"`
	DateOfBirth      string          `json:"dateOfBirth,omitempty"`
	Country          string          `json:"country"`
	BusinessType     string          `json:"businessType"`
	AnnualVolume     decimal.Decimal `json:"annualVolume"`
	IdentityVerified bool            `json:"identityVerified"`
}

func (r Request) Validate() error {
	if r.CustomerID == "" {
		return dErrors.New(dErrors.CodeValidation, "customer id is required")
	}
	if r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "customer name is required")
	}
	if r.AnnualVolume.IsNegative() {
		return dErrors.New(dErrors.CodeValidation, "annual volume cannot be negative")
	}
	return nil
}

// Check is the outcome of one Wwft customer due diligence review. It is
// stored as a WwftCheck entity referring to the customer.
type Check struct {
	ID             string              `json:"id"`
	CustomerID     string              `json:"customerId"`
	Risk           risk.Result         `json:"risk"`
	Level          Level               `json:"riskLevel"`
	CDD            CDDLevel            `json:"cddLevel"`
	Monitoring     Monitoring          `json:"monitoringLevel"`
	Sanctions      screening.Result    `json:"sanctions"`
	PEP            screening.Result    `json:"pep"`
	Classification risk.Classification `json:"classification"`
	NextReview     time.Time           `json:"nextReviewDate"`
	CheckedAt      time.Time           `json:"checkedAt"`
}
