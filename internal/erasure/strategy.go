package erasure

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"trustledger/internal/entity"
)

// Placeholder replaces personal data on soft delete.
const Placeholder = "[DELETED]"

// strategy removes personal data from one entity.
type strategy func(ctx context.Context, w *Workflow, snap *entity.Snapshot) error

var strategies = map[Method]strategy{
	MethodSoftDelete:       softDelete,
	MethodSecureDelete:     secureDelete,
	MethodAnonymization:    anonymize,
	MethodPseudonymization: pseudonymize,
	MethodArchival:         archive,
}

func softDelete(ctx context.Context, w *Workflow, snap *entity.Snapshot) error {
	set := map[string]any{}
	for _, f := range w.schema.PIIFields(snap) {
		set[f] = Placeholder
	}
	return w.entities.Apply(ctx, snap.Ref(), entity.Change{Set: set, Deactivate: true})
}

func secureDelete(ctx context.Context, w *Workflow, snap *entity.Snapshot) error {
	removed, err := w.entities.DeleteCascade(ctx, snap.Ref())
	if err != nil {
		return err
	}
	w.logger.InfoContext(ctx, "entity deleted with dependents",
		"entity_type", snap.Type,
		"entity_id", snap.ID,
		"removed", len(removed),
	)
	return nil
}

func anonymize(ctx context.Context, w *Workflow, snap *entity.Snapshot) error {
	set := map[string]any{}
	for _, f := range w.schema.PIIFields(snap) {
		v, err := randomValue(f)
		if err != nil {
			return err
		}
		set[f] = v
	}
	return w.entities.Apply(ctx, snap.Ref(), entity.Change{Set: set})
}

func pseudonymize(ctx context.Context, w *Workflow, snap *entity.Snapshot) error {
	if w.pseudonymizer == nil {
		return fmt.Errorf("pseudonymization key not configured")
	}
	token := w.pseudonymizer.Token(snap.Type, snap.ID)
	set := map[string]any{}
	for _, f := range w.schema.PIIFields(snap) {
		set[f] = "pseudo:" + token
	}
	return w.entities.Apply(ctx, snap.Ref(), entity.Change{Set: set})
}

func archive(ctx context.Context, w *Workflow, snap *entity.Snapshot) error {
	return w.entities.Apply(ctx, snap.Ref(), entity.Change{Deactivate: true, ArchivePending: true})
}

// randomValue returns a random replacement that keeps the rough shape of
// email fields.
func randomValue(field string) (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate anonymous value: %w", err)
	}
	v := "anon-" + hex.EncodeToString(b)
	if strings.Contains(strings.ToLower(field), "email") {
		v += "@anonymized.invalid"
	}
	return v, nil
}
