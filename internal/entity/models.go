// Package entity is the gateway to the regulated business entities the ledger
// audits. It exposes them as untyped snapshots so retention, compliance and
// erasure can work across entity types without owning their schema.
package entity

import (
	"context"
	"strings"
	"time"

	"trustledger/pkg/domain"
)

// Ref addresses one entity.
type Ref struct {
	Type domain.EntityType
	ID   string
}

func (r Ref) String() string { return string(r.Type) + "#" + r.ID }

// Snapshot is the current state of an entity. Refs lists the entities this
// one belongs to, e.g. an invoice refers to its client.
type Snapshot struct {
	Type           domain.EntityType
	ID             string
	Fields         map[string]any
	Refs           []Ref
	CreatedAt      time.Time
	Active         bool
	ArchivePending bool
}

func (s *Snapshot) Ref() Ref { return Ref{Type: s.Type, ID: s.ID} }

// Live reports whether the entity is still in regular use.
func (s *Snapshot) Live() bool { return s.Active && !s.ArchivePending }

// Missing returns the fields that are absent, nil or blank, in the given order.
func (s *Snapshot) Missing(fields []string) []string {
	var out []string
	for _, f := range fields {
		v, ok := s.Fields[f]
		if !ok || v == nil {
			out = append(out, f)
			continue
		}
		if str, isStr := v.(string); isStr && strings.TrimSpace(str) == "" {
			out = append(out, f)
		}
	}
	return out
}

// Clone returns a deep enough copy for callers to mutate freely.
func (s *Snapshot) Clone() *Snapshot {
	cp := *s
	cp.Fields = make(map[string]any, len(s.Fields))
	for k, v := range s.Fields {
		cp.Fields[k] = v
	}
	cp.Refs = append([]Ref(nil), s.Refs...)
	return &cp
}

// Change is a partial update applied by erasure strategies.
type Change struct {
	Set            map[string]any
	Deactivate     bool
	ArchivePending bool
}

// Store reads and mutates business entities.
type Store interface {
	Put(ctx context.Context, s *Snapshot) error
	Get(ctx context.Context, ref Ref) (*Snapshot, error)
	// ListLive returns live entities of a type, oldest first.
	ListLive(ctx context.Context, entityType domain.EntityType) ([]*Snapshot, error)
	// CountReferencingSince counts entities of childType that refer to parent
	// and were created at or after since.
	CountReferencingSince(ctx context.Context, parent Ref, childType domain.EntityType, since time.Time) (int, error)
	Apply(ctx context.Context, ref Ref, change Change) error
	// DeleteCascade removes ref and everything referring to it, transitively,
	// leaves first, atomically. It returns the removed refs in deletion order.
	DeleteCascade(ctx context.Context, ref Ref) ([]Ref, error)
}
