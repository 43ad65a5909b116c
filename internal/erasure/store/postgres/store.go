package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"trustledger/internal/erasure"
	"trustledger/pkg/domain"
	"trustledger/pkg/platform/sentinel"
	"trustledger/pkg/platform/tx"
	"trustledger/pkg/requestcontext"
)

// Store implements erasure.Store on the erasure_records table. Transition is
// a conditional UPDATE so concurrent executors cannot both claim a record.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const selectColumns = `
	id, policy_id, entity_type, entity_id, reason, requested_by, forced,
	deletion_method, state, result, error, retention_reasons, entity_snapshot,
	scheduled_for, deleted_at, created_at, updated_at
`

func (s *Store) Create(ctx context.Context, rec *erasure.Record) error {
	snapshot, err := marshalSnapshot(rec.Snapshot)
	if err != nil {
		return err
	}
	_, err = tx.Execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO erasure_records (
			id, policy_id, entity_type, entity_id, reason, requested_by, forced,
			deletion_method, state, result, error, retention_reasons, entity_snapshot,
			scheduled_for, deleted_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		uuid.UUID(rec.ID),
		rec.PolicyID,
		string(rec.EntityType),
		rec.EntityID,
		rec.Reason,
		rec.RequestedBy,
		rec.Forced,
		rec.Method.String(),
		string(rec.State),
		string(rec.Result),
		nullString(rec.Error),
		pq.StringArray(nonNil(rec.RetentionReasons)),
		snapshot,
		rec.ScheduledFor,
		nullTime(rec.DeletedAt),
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("insert erasure record: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("insert erasure record: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id domain.ErasureID) (*erasure.Record, error) {
	row := tx.Execer(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM erasure_records WHERE id = $1`, uuid.UUID(id))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("erasure record %s: %w", id, sentinel.ErrNotFound)
	}
	return rec, err
}

func (s *Store) Transition(ctx context.Context, id domain.ErasureID, from, to erasure.State) error {
	res, err := tx.Execer(ctx, s.db).ExecContext(ctx, `
		UPDATE erasure_records SET state = $3, updated_at = $4
		WHERE id = $1 AND state = $2
	`, uuid.UUID(id), string(from), string(to), requestcontext.Now(ctx).UTC())
	if err != nil {
		return fmt.Errorf("transition erasure record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition erasure record: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return fmt.Errorf("erasure record %s is not %s: %w", id, from, sentinel.ErrConflict)
	}
	return nil
}

func (s *Store) Finish(ctx context.Context, rec *erasure.Record) error {
	snapshot, err := marshalSnapshot(rec.Snapshot)
	if err != nil {
		return err
	}
	res, err := tx.Execer(ctx, s.db).ExecContext(ctx, `
		UPDATE erasure_records
		SET state = $2, result = $3, error = $4, retention_reasons = $5,
			entity_snapshot = $6, deleted_at = $7, updated_at = $8
		WHERE id = $1 AND state = 'EXECUTING'
	`,
		uuid.UUID(rec.ID),
		string(rec.State),
		string(rec.Result),
		nullString(rec.Error),
		pq.StringArray(nonNil(rec.RetentionReasons)),
		snapshot,
		nullTime(rec.DeletedAt),
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("finish erasure record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish erasure record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("erasure record %s is not executing: %w", rec.ID, sentinel.ErrInvalidState)
	}
	return nil
}

func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]*erasure.Record, error) {
	return s.query(ctx, `SELECT `+selectColumns+` FROM erasure_records
		WHERE state = 'SCHEDULED' AND scheduled_for <= $1
		ORDER BY scheduled_for ASC LIMIT $2`, now, limit)
}

func (s *Store) ListStale(ctx context.Context, before time.Time, limit int) ([]*erasure.Record, error) {
	return s.query(ctx, `SELECT `+selectColumns+` FROM erasure_records
		WHERE state = 'EXECUTING' AND updated_at < $1
		ORDER BY updated_at ASC LIMIT $2`, before, limit)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*erasure.Record, error) {
	rows, err := tx.Execer(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query erasure records: %w", err)
	}
	defer rows.Close()

	var out []*erasure.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate erasure records: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*erasure.Record, error) {
	var (
		id         uuid.UUID
		entityType string
		method     string
		state      string
		result     string
		errText    sql.NullString
		reasons    pq.StringArray
		snapshot   []byte
		deletedAt  sql.NullTime
		rec        erasure.Record
	)
	err := row.Scan(
		&id,
		&rec.PolicyID,
		&entityType,
		&rec.EntityID,
		&rec.Reason,
		&rec.RequestedBy,
		&rec.Forced,
		&method,
		&state,
		&result,
		&errText,
		&reasons,
		&snapshot,
		&rec.ScheduledFor,
		&deletedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan erasure record: %w", err)
	}
	m, err := erasure.ParseMethod(method)
	if err != nil {
		return nil, fmt.Errorf("scan erasure record: %w", err)
	}
	rec.ID = domain.ErasureID(id)
	rec.EntityType = domain.EntityType(entityType)
	rec.Method = m
	rec.State = erasure.State(state)
	rec.Result = erasure.Result(result)
	rec.Error = errText.String
	if len(reasons) > 0 {
		rec.RetentionReasons = []string(reasons)
	}
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &rec.Snapshot); err != nil {
			return nil, fmt.Errorf("decode entity snapshot: %w", err)
		}
	}
	if deletedAt.Valid {
		t := deletedAt.Time.UTC()
		rec.DeletedAt = &t
	}
	return &rec, nil
}

func marshalSnapshot(v map[string]any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode entity snapshot: %w", err)
	}
	return b, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
