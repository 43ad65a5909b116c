package risk

import (
	"context"

	"golang.org/x/sync/errgroup"

	"trustledger/internal/screening"
)

// Classification is the terminal compliance outcome of an assessment.
type Classification string

const (
	Compliant    Classification = "COMPLIANT"
	Pending      Classification = "PENDING"
	NonCompliant Classification = "NON_COMPLIANT"
)

// Screening holds the PEP and sanctions lookups for one subject. Err is set
// when either lookup failed.
type Screening struct {
	Sanctions screening.Result
	PEP       screening.Result
	Err       error
}

// PEPHit reports whether the subject is a (possible) politically exposed person.
func (s Screening) PEPHit() bool {
	return s.PEP.Status != "" && s.PEP.Status != screening.StatusNoMatch
}

// Screen runs both lookups concurrently.
func Screen(ctx context.Context, screener screening.Screener, subject screening.Subject) Screening {
	var out Screening
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := screener.Sanctions(gctx, subject)
		out.Sanctions = res
		return err
	})
	g.Go(func() error {
		res, err := screener.PEP(gctx, subject)
		out.PEP = res
		return err
	})
	out.Err = g.Wait()
	return out
}

// Classify combines screening with the assessment's own verdict. A confirmed
// sanctions match is always NON_COMPLIANT. Failed lookups, possible matches,
// PEP hits and assessments that need review are PENDING.
func Classify(s Screening, needsReview bool) Classification {
	switch {
	case s.Sanctions.Status == screening.StatusConfirmedMatch:
		return NonCompliant
	case s.Err != nil,
		s.Sanctions.Status == screening.StatusPotentialMatch,
		s.PEPHit(),
		needsReview:
		return Pending
	default:
		return Compliant
	}
}
