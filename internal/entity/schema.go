package entity

import "trustledger/pkg/domain"

// Schema lists the personal-data fields of each entity type. Erasure
// strategies scrub exactly these fields.
type Schema struct {
	PII map[domain.EntityType][]string
}

func DefaultSchema() Schema {
	return Schema{PII: map[domain.EntityType][]string{
		domain.EntityClient:                {"name", "email", "phone", "address", "postalCode", "city", "contactPerson", "iban"},
		domain.EntityCreditor:              {"name", "email", "phone", "address", "iban"},
		domain.EntityUserProfile:           {"email", "firstName", "lastName", "phone", "companyName", "address", "iban", "kvkNumber", "btwNumber"},
		domain.EntityInvoice:               {"clientName", "clientEmail", "clientAddress"},
		domain.EntityPayment:               {"payerName", "iban"},
		domain.EntityAuthenticationAttempt: {"ipAddress", "userAgent", "deviceFingerprint"},
		domain.EntityWwftCheck:             {"subjectName", "dateOfBirth", "nationality"},
	}}
}

// PIIFields returns the personal-data fields of s's type that s carries.
func (sc Schema) PIIFields(s *Snapshot) []string {
	var out []string
	for _, f := range sc.PII[s.Type] {
		if _, ok := s.Fields[f]; ok {
			out = append(out, f)
		}
	}
	return out
}
