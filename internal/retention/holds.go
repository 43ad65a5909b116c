package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trustledger/internal/entity"
	"trustledger/internal/platform/config"
	"trustledger/pkg/domain"
	"trustledger/pkg/platform/sentinel"
	"trustledger/pkg/requestcontext"
)

// HoldRule decides whether one retention obligation applies to an entity.
type HoldRule interface {
	// Check returns the legal reason when the rule holds the entity at now.
	Check(ctx context.Context, ref entity.Ref, now time.Time) (reason string, held bool, err error)
}

// AgeHold holds an entity while it, or any entity referring to it, is of one
// of Types and younger than Years. It covers obligations such as keeping
// financial records for seven years.
type AgeHold struct {
	Name     string
	Reason   string
	Types    []domain.EntityType
	Years    int
	Entities entity.Store
}

func (h *AgeHold) Check(ctx context.Context, ref entity.Ref, now time.Time) (string, bool, error) {
	since := now.UTC().AddDate(-h.Years, 0, 0)
	for _, t := range h.Types {
		if t == ref.Type {
			snap, err := h.Entities.Get(ctx, ref)
			switch {
			case errors.Is(err, sentinel.ErrNotFound):
			case err != nil:
				return "", false, fmt.Errorf("legal hold %s: %w", h.Name, err)
			case !snap.CreatedAt.Before(since):
				return h.Reason, true, nil
			}
		}
		n, err := h.Entities.CountReferencingSince(ctx, ref, t, since)
		if err != nil {
			return "", false, fmt.Errorf("legal hold %s: %w", h.Name, err)
		}
		if n > 0 {
			return h.Reason, true, nil
		}
	}
	return "", false, nil
}

// HoldRulesFromPolicy builds one AgeHold per configured legal hold.
func HoldRulesFromPolicy(holds []config.LegalHoldPolicy, entities entity.Store) []HoldRule {
	rules := make([]HoldRule, 0, len(holds))
	for _, h := range holds {
		types := make([]domain.EntityType, len(h.EntityTypes))
		for i, t := range h.EntityTypes {
			types[i] = domain.EntityType(t)
		}
		rules = append(rules, &AgeHold{
			Name:     h.Name,
			Reason:   h.Reason,
			Types:    types,
			Years:    h.Years,
			Entities: entities,
		})
	}
	return rules
}

// HasActiveLegalHold evaluates every hold rule and returns the distinct
// reasons that apply. A rule that cannot be evaluated is an error, never a
// silent "no hold".
func (e *Engine) HasActiveLegalHold(ctx context.Context, entityType domain.EntityType, entityID string) (bool, []string, error) {
	now := requestcontext.Now(ctx)
	ref := entity.Ref{Type: entityType, ID: entityID}

	var reasons []string
	seen := map[string]bool{}
	for _, rule := range e.holds {
		reason, held, err := rule.Check(ctx, ref, now)
		if err != nil {
			return false, nil, err
		}
		if held && !seen[reason] {
			seen[reason] = true
			reasons = append(reasons, reason)
		}
	}
	return len(reasons) > 0, reasons, nil
}
