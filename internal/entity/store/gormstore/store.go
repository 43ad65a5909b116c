// Package gormstore keeps business entities in a SQL database through GORM.
// SQLite is the default driver, matching a single-node deployment.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"trustledger/internal/entity"
	"trustledger/pkg/domain"
	"trustledger/pkg/platform/sentinel"
)

type entityRow struct {
	EntityType     string    `gorm:"primaryKey;size:64"`
	ID             string    `gorm:"primaryKey;size:128"`
	Fields         string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"index"`
	Active         bool      `gorm:"not null"`
	ArchivePending bool      `gorm:"not null"`
}

func (entityRow) TableName() string { return "entities" }

type refRow struct {
	EntityType string `gorm:"primaryKey;size:64"`
	EntityID   string `gorm:"primaryKey;size:128"`
	RefType    string `gorm:"primaryKey;size:64;index:idx_entity_refs_target"`
	RefID      string `gorm:"primaryKey;size:128;index:idx_entity_refs_target"`
}

func (refRow) TableName() string { return "entity_refs" }

// Store implements entity.Store on GORM.
type Store struct {
	db *gorm.DB
}

// Open opens the SQLite database at dsn and migrates the entity tables.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the entity tables.
func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&entityRow{}, &refRow{}); err != nil {
		return nil, fmt.Errorf("migrate entity tables: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Put(ctx context.Context, snap *entity.Snapshot) error {
	row, err := toRow(snap)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("upsert entity %s: %w", snap.Ref(), err)
		}
		if err := tx.Where("entity_type = ? AND entity_id = ?", row.EntityType, row.ID).Delete(&refRow{}).Error; err != nil {
			return fmt.Errorf("reset entity refs: %w", err)
		}
		for _, r := range snap.Refs {
			ref := refRow{EntityType: row.EntityType, EntityID: row.ID, RefType: string(r.Type), RefID: r.ID}
			if err := tx.Create(&ref).Error; err != nil {
				return fmt.Errorf("insert entity ref: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) Get(ctx context.Context, ref entity.Ref) (*entity.Snapshot, error) {
	var row entityRow
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND id = ?", string(ref.Type), ref.ID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("entity %s: %w", ref, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load entity %s: %w", ref, err)
	}
	refs, err := s.refsOf(ctx, ref.Type, []string{ref.ID})
	if err != nil {
		return nil, err
	}
	return fromRow(row, refs[ref.ID])
}

func (s *Store) ListLive(ctx context.Context, entityType domain.EntityType) ([]*entity.Snapshot, error) {
	var rows []entityRow
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND active = ? AND archive_pending = ?", string(entityType), true, false).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list %s entities: %w", entityType, err)
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	refs, err := s.refsOf(ctx, entityType, ids)
	if err != nil {
		return nil, err
	}
	out := make([]*entity.Snapshot, 0, len(rows))
	for _, row := range rows {
		snap, err := fromRow(row, refs[row.ID])
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *Store) CountReferencingSince(ctx context.Context, parent entity.Ref, childType domain.EntityType, since time.Time) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&entityRow{}).
		Joins("JOIN entity_refs r ON r.entity_type = entities.entity_type AND r.entity_id = entities.id").
		Where("r.ref_type = ? AND r.ref_id = ?", string(parent.Type), parent.ID).
		Where("entities.entity_type = ? AND entities.created_at >= ?", string(childType), since.UTC()).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count %s referencing %s: %w", childType, parent, err)
	}
	return int(n), nil
}

func (s *Store) Apply(ctx context.Context, ref entity.Ref, change entity.Change) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row entityRow
		err := tx.Where("entity_type = ? AND id = ?", string(ref.Type), ref.ID).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("entity %s: %w", ref, sentinel.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("load entity %s: %w", ref, err)
		}
		fields := map[string]any{}
		if err := json.Unmarshal([]byte(row.Fields), &fields); err != nil {
			return fmt.Errorf("decode entity %s: %w", ref, err)
		}
		for k, v := range change.Set {
			fields[k] = v
		}
		encoded, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("encode entity %s: %w", ref, err)
		}
		updates := map[string]any{"fields": string(encoded)}
		if change.Deactivate {
			updates["active"] = false
		}
		if change.ArchivePending {
			updates["archive_pending"] = true
		}
		return tx.Model(&entityRow{}).
			Where("entity_type = ? AND id = ?", row.EntityType, row.ID).
			Updates(updates).Error
	})
}

func (s *Store) DeleteCascade(ctx context.Context, ref entity.Ref) ([]entity.Ref, error) {
	var order []entity.Ref
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&entityRow{}).Where("entity_type = ? AND id = ?", string(ref.Type), ref.ID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("entity %s: %w", ref, sentinel.ErrNotFound)
		}

		seen := map[entity.Ref]bool{}
		var visit func(entity.Ref) error
		visit = func(r entity.Ref) error {
			if seen[r] {
				return nil
			}
			seen[r] = true
			var children []refRow
			if err := tx.Where("ref_type = ? AND ref_id = ?", string(r.Type), r.ID).
				Order("entity_type, entity_id").Find(&children).Error; err != nil {
				return err
			}
			for _, c := range children {
				if err := visit(entity.Ref{Type: domain.EntityType(c.EntityType), ID: c.EntityID}); err != nil {
					return err
				}
			}
			order = append(order, r)
			return nil
		}
		if err := visit(ref); err != nil {
			return fmt.Errorf("walk dependents of %s: %w", ref, err)
		}

		for _, r := range order {
			if err := tx.Where("entity_type = ? AND entity_id = ?", string(r.Type), r.ID).Delete(&refRow{}).Error; err != nil {
				return fmt.Errorf("delete refs of %s: %w", r, err)
			}
			if err := tx.Where("entity_type = ? AND id = ?", string(r.Type), r.ID).Delete(&entityRow{}).Error; err != nil {
				return fmt.Errorf("delete %s: %w", r, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Store) refsOf(ctx context.Context, entityType domain.EntityType, ids []string) (map[string][]entity.Ref, error) {
	out := map[string][]entity.Ref{}
	if len(ids) == 0 {
		return out, nil
	}
	var rows []refRow
	err := s.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id IN ?", string(entityType), ids).
		Order("ref_type, ref_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load entity refs: %w", err)
	}
	for _, r := range rows {
		out[r.EntityID] = append(out[r.EntityID], entity.Ref{Type: domain.EntityType(r.RefType), ID: r.RefID})
	}
	return out, nil
}

func toRow(snap *entity.Snapshot) (entityRow, error) {
	fields := snap.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	encoded, err := json.Marshal(fields)
	if err != nil {
		return entityRow{}, fmt.Errorf("encode entity %s: %w", snap.Ref(), err)
	}
	return entityRow{
		EntityType:     string(snap.Type),
		ID:             snap.ID,
		Fields:         string(encoded),
		CreatedAt:      snap.CreatedAt.UTC(),
		Active:         snap.Active,
		ArchivePending: snap.ArchivePending,
	}, nil
}

func fromRow(row entityRow, refs []entity.Ref) (*entity.Snapshot, error) {
	fields := map[string]any{}
	if err := json.Unmarshal([]byte(row.Fields), &fields); err != nil {
		return nil, fmt.Errorf("decode entity %s#%s: %w", row.EntityType, row.ID, err)
	}
	return &entity.Snapshot{
		Type:           domain.EntityType(row.EntityType),
		ID:             row.ID,
		Fields:         fields,
		Refs:           refs,
		CreatedAt:      row.CreatedAt,
		Active:         row.Active,
		ArchivePending: row.ArchivePending,
	}, nil
}
