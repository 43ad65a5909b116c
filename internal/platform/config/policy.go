package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"trustledger/pkg/domain"
)

// Policy is the regulatory policy document: retention tiers, legal holds,
// redaction keys, mandatory fields, erasure defaults and risk thresholds.
// It is loaded once at startup and treated as read-only afterwards.
type Policy struct {
	Retention       RetentionPolicy                   `yaml:"retention"`
	LegalHolds      []LegalHoldPolicy                 `yaml:"legalHolds"`
	SensitiveKeys   []string                          `yaml:"sensitiveKeys"`
	DefaultLevels   map[string]domain.ComplianceLevel `yaml:"defaultLevels"`
	MandatoryFields map[string]FieldPolicy            `yaml:"mandatoryFields"`
	Erasure         ErasurePolicy                     `yaml:"erasure"`
	SCA             SCAPolicy                         `yaml:"sca"`
	AML             AMLPolicy                         `yaml:"aml"`
}

// RetentionPolicy maps compliance level to retention years, with optional
// per-entity-type overrides.
type RetentionPolicy struct {
	Default  map[domain.ComplianceLevel]int            `yaml:"default"`
	Entities map[string]map[domain.ComplianceLevel]int `yaml:"entities"`
}

// LegalHoldPolicy blocks erasure while the entity, or any dependent of it,
// of one of EntityTypes is younger than Years.
type LegalHoldPolicy struct {
	Name        string   `yaml:"name"`
	Reason      string   `yaml:"reason"`
	EntityTypes []string `yaml:"entityTypes"`
	Years       int      `yaml:"years"`
}

// FieldPolicy classifies mandatory fields by how urgently a gap must be fixed.
type FieldPolicy struct {
	Blocking []string `yaml:"blocking"`
	Required []string `yaml:"required"`
	Advisory []string `yaml:"advisory"`
}

type ErasurePolicy struct {
	PolicyID      string        `yaml:"policyId"`
	DefaultMethod string        `yaml:"defaultMethod"`
	GracePeriod   time.Duration `yaml:"gracePeriod"`
	DefaultDelay  time.Duration `yaml:"defaultDelay"`
}

// AmountTier maps transaction amounts below Below (EUR) to a factor value.
type AmountTier struct {
	Below string  `yaml:"below"`
	Value float64 `yaml:"value"`
}

type SCAPolicy struct {
	LowValueThreshold string             `yaml:"lowValueThreshold"`
	LowRiskThreshold  float64            `yaml:"lowRiskThreshold"`
	ChallengeTTL      time.Duration      `yaml:"challengeTTL"`
	FrequencyWindow   time.Duration      `yaml:"frequencyWindow"`
	FrequencyCap      int                `yaml:"frequencyCap"`
	Weights           map[string]float64 `yaml:"weights"`
	AmountTiers       []AmountTier       `yaml:"amountTiers"`
	HighRiskCountries []string           `yaml:"highRiskCountries"`
}

type AMLPolicy struct {
	Weights             map[string]float64 `yaml:"weights"`
	MediumThreshold     float64            `yaml:"mediumThreshold"`
	HighThreshold       float64            `yaml:"highThreshold"`
	CriticalThreshold   float64            `yaml:"criticalThreshold"`
	BusinessTypeRisk    map[string]float64 `yaml:"businessTypeRisk"`
	DefaultBusinessRisk float64            `yaml:"defaultBusinessRisk"`
	VolumeTiers         []AmountTier       `yaml:"volumeTiers"`
	HighRiskCountries   []string           `yaml:"highRiskCountries"`
	MediumRiskCountries []string           `yaml:"mediumRiskCountries"`
}

// DefaultPolicy returns the built-in policy used when no document is configured.
func DefaultPolicy() Policy {
	return Policy{
		Retention: RetentionPolicy{
			Default: map[domain.ComplianceLevel]int{
				domain.ComplianceStandard:   3,
				domain.ComplianceEnhanced:   5,
				domain.ComplianceCritical:   7,
				domain.ComplianceRegulatory: 10,
			},
			Entities: map[string]map[domain.ComplianceLevel]int{
				string(domain.EntityInvoice): financialTiers(),
				string(domain.EntityPayment): financialTiers(),
			},
		},
		LegalHolds: []LegalHoldPolicy{
			{
				Name:        "financial",
				Reason:      "Financial record retention obligation (7 years)",
				EntityTypes: []string{string(domain.EntityInvoice), string(domain.EntityPayment)},
				Years:       7,
			},
			{
				Name:        "aml",
				Reason:      "Anti-money laundering record retention obligation (5 years)",
				EntityTypes: []string{string(domain.EntityWwftCheck)},
				Years:       5,
			},
		},
		SensitiveKeys: []string{
			"password", "passwordHash", "token", "accessToken", "refreshToken",
			"secret", "clientSecret", "apiKey", "creditCard", "cardNumber",
			"cvv", "pin", "bsn", "privateKey",
		},
		DefaultLevels: map[string]domain.ComplianceLevel{
			string(domain.EntityClient):                domain.ComplianceEnhanced,
			string(domain.EntityCreditor):              domain.ComplianceEnhanced,
			string(domain.EntityInvoice):               domain.ComplianceCritical,
			string(domain.EntityPayment):               domain.ComplianceCritical,
			string(domain.EntityUserProfile):           domain.ComplianceEnhanced,
			string(domain.EntityAuthenticationAttempt): domain.ComplianceEnhanced,
			string(domain.EntityWwftCheck):             domain.ComplianceRegulatory,
			string(domain.EntityErasureRecord):         domain.ComplianceRegulatory,
			string(domain.EntityComplianceScan):        domain.ComplianceStandard,
			string(domain.EntityComplianceIssue):       domain.ComplianceStandard,
		},
		MandatoryFields: map[string]FieldPolicy{
			string(domain.EntityUserProfile): {
				Blocking: []string{"email", "companyName"},
				Required: []string{"kvkNumber", "btwNumber", "iban"},
				Advisory: []string{"phone", "website"},
			},
			string(domain.EntityClient): {
				Blocking: []string{"name", "email"},
				Required: []string{"address", "postalCode", "city", "country"},
				Advisory: []string{"phone"},
			},
			string(domain.EntityCreditor): {
				Blocking: []string{"name", "iban"},
				Required: []string{"kvkNumber", "address"},
				Advisory: []string{"email"},
			},
			string(domain.EntityInvoice): {
				Blocking: []string{"invoiceNumber", "clientId", "totalAmount"},
				Required: []string{"dueDate", "btwRate"},
			},
		},
		Erasure: ErasurePolicy{
			PolicyID:      "gdpr-art17",
			DefaultMethod: "SOFT_DELETE",
			GracePeriod:   30 * 24 * time.Hour,
		},
		SCA: SCAPolicy{
			LowValueThreshold: "30.00",
			LowRiskThreshold:  0.3,
			ChallengeTTL:      15 * time.Minute,
			FrequencyWindow:   24 * time.Hour,
			FrequencyCap:      10,
			Weights: map[string]float64{
				"amountTier":    0.4,
				"authFrequency": 0.2,
				"unknownDevice": 0.25,
				"networkOrigin": 0.15,
			},
			AmountTiers: []AmountTier{
				{Below: "30.00", Value: 0},
				{Below: "100.00", Value: 0.2},
				{Below: "500.00", Value: 0.5},
				{Below: "1500.00", Value: 0.8},
			},
			HighRiskCountries: []string{"KP", "IR", "MM"},
		},
		AML: AMLPolicy{
			Weights: map[string]float64{
				"businessTypeRisk":   0.3,
				"volumeTier":         0.25,
				"geographicRisk":     0.25,
				"identityUnverified": 0.2,
			},
			MediumThreshold:   0.3,
			HighThreshold:     0.6,
			CriticalThreshold: 0.8,
			BusinessTypeRisk: map[string]float64{
				"cash_intensive": 1.0,
				"crypto":         0.9,
				"money_services": 0.9,
				"real_estate":    0.7,
				"gambling":       0.8,
				"retail":         0.4,
				"consulting":     0.3,
				"software":       0.2,
			},
			DefaultBusinessRisk: 0.5,
			VolumeTiers: []AmountTier{
				{Below: "10000.00", Value: 0.1},
				{Below: "100000.00", Value: 0.4},
				{Below: "1000000.00", Value: 0.7},
			},
			HighRiskCountries:   []string{"KP", "IR", "MM"},
			MediumRiskCountries: []string{"AE", "PA", "TR", "VN"},
		},
	}
}

func financialTiers() map[domain.ComplianceLevel]int {
	return map[domain.ComplianceLevel]int{
		domain.ComplianceStandard:   7,
		domain.ComplianceEnhanced:   7,
		domain.ComplianceCritical:   7,
		domain.ComplianceRegulatory: 10,
	}
}

// LoadPolicy reads a YAML policy document over the defaults. An empty path
// returns DefaultPolicy.
func LoadPolicy(path string) (Policy, error) {
	p := DefaultPolicy()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Validate rejects documents that would silently under-retain.
func (p Policy) Validate() error {
	for level, years := range p.Retention.Default {
		if !level.IsValid() {
			return fmt.Errorf("policy: unknown compliance level %q", level)
		}
		if years <= 0 {
			return fmt.Errorf("policy: retention for %s must be positive", level)
		}
	}
	if _, ok := p.Retention.Default[domain.ComplianceStandard]; !ok {
		return fmt.Errorf("policy: STANDARD retention tier is required")
	}
	for entityType, tiers := range p.Retention.Entities {
		for level, years := range tiers {
			if !level.IsValid() || years <= 0 {
				return fmt.Errorf("policy: invalid retention tier %s/%s", entityType, level)
			}
		}
	}
	for entityType, level := range p.DefaultLevels {
		if !level.IsValid() {
			return fmt.Errorf("policy: invalid default level for %s", entityType)
		}
	}
	for _, h := range p.LegalHolds {
		if h.Reason == "" || h.Years <= 0 || len(h.EntityTypes) == 0 {
			return fmt.Errorf("policy: incomplete legal hold %q", h.Name)
		}
	}
	return nil
}
