package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"trustledger/internal/audit"
	"trustledger/pkg/domain"
	"trustledger/pkg/platform/sentinel"
)

// Store implements audit.Store on the audit_records table.
//
// Writes deliberately bypass any transaction carried in the context: a failed
// audit insert must not abort the caller's business transaction.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const selectColumns = `
	id, action, entity_type, entity_id, actor_id, old_values, new_values,
	ip_address, user_agent, session_id, request_id, compliance_level,
	retention_until, ledger_key, ledger_tx_id, ledger_hash, ledger_verified, created_at
`

func (s *Store) Create(ctx context.Context, rec *audit.Record) error {
	oldValues, err := marshalValues(rec.OldValues)
	if err != nil {
		return err
	}
	newValues, err := marshalValues(rec.NewValues)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_records (
			id, action, entity_type, entity_id, actor_id, old_values, new_values,
			ip_address, user_agent, session_id, request_id, compliance_level,
			retention_until, ledger_key, ledger_tx_id, ledger_hash, ledger_verified, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err = s.db.ExecContext(ctx, query,
		uuid.UUID(rec.ID),
		string(rec.Action),
		string(rec.EntityType),
		rec.EntityID,
		nullString(rec.ActorID),
		oldValues,
		newValues,
		nullString(rec.IPAddress),
		nullString(rec.UserAgent),
		nullString(rec.SessionID),
		nullString(rec.RequestID),
		string(rec.ComplianceLevel),
		rec.RetentionUntil,
		rec.LedgerKey,
		nullString(rec.LedgerTxID),
		nullString(rec.LedgerHash),
		rec.LedgerVerified,
		rec.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("insert audit record: %w", sentinel.ErrConflict)
		}
		if isUniqueViolation(err) {
			return fmt.Errorf("insert audit record: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id domain.RecordID) (*audit.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM audit_records WHERE id = $1`, uuid.UUID(id))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("audit record %s: %w", id, sentinel.ErrNotFound)
	}
	return rec, err
}

// ListByEntity builds the filter into the WHERE clause; results are newest first.
func (s *Store) ListByEntity(ctx context.Context, entityType domain.EntityType, entityID string, filter audit.Filter) ([]*audit.Record, error) {
	where := []string{"entity_type = $1", "entity_id = $2"}
	args := []any{string(entityType), entityID}
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if filter.ActorID != "" {
		add("actor_id = $%d", filter.ActorID)
	}
	if len(filter.Actions) > 0 {
		actions := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			actions[i] = string(a)
		}
		add("action = ANY($%d)", pq.Array(actions))
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at <= $%d", filter.To)
	}
	if filter.Level != "" {
		add("compliance_level = $%d", string(filter.Level))
	}
	if filter.Verified != nil {
		add("ledger_verified = $%d", *filter.Verified)
	}

	query := `SELECT ` + selectColumns + ` FROM audit_records WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY created_at DESC, ledger_key DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return s.query(ctx, query, args...)
}

func (s *Store) ListUnverified(ctx context.Context, limit int) ([]*audit.Record, error) {
	return s.query(ctx, `SELECT `+selectColumns+` FROM audit_records
		WHERE NOT ledger_verified ORDER BY created_at ASC LIMIT $1`, limit)
}

func (s *Store) ListVerified(ctx context.Context, limit int) ([]*audit.Record, error) {
	return s.query(ctx, `SELECT `+selectColumns+` FROM audit_records
		WHERE ledger_verified ORDER BY created_at DESC LIMIT $1`, limit)
}

// MarkVerified only touches rows that are still unverified.
func (s *Store) MarkVerified(ctx context.Context, id domain.RecordID, txID, hash string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE audit_records
		SET ledger_tx_id = $2, ledger_hash = $3, ledger_verified = TRUE
		WHERE id = $1 AND NOT ledger_verified
	`, uuid.UUID(id), txID, hash)
	if err != nil {
		return fmt.Errorf("mark audit record verified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark audit record verified: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("audit record %s not pending: %w", id, sentinel.ErrInvalidState)
	}
	return nil
}

func (s *Store) ListRetentionBetween(ctx context.Context, from, to time.Time, limit int) ([]*audit.Record, error) {
	return s.query(ctx, `SELECT `+selectColumns+` FROM audit_records
		WHERE retention_until >= $1 AND retention_until < $2
		ORDER BY retention_until ASC LIMIT $3`, from, to, limit)
}

func (s *Store) ListExpiredAfter(ctx context.Context, after audit.RetentionCursor, cutoff time.Time, limit int) ([]*audit.Record, error) {
	return s.query(ctx, `SELECT `+selectColumns+` FROM audit_records
		WHERE (retention_until, id) > ($1, $2) AND retention_until < $3
		ORDER BY retention_until ASC, id ASC LIMIT $4`, after.Until, uuid.UUID(after.ID), cutoff, limit)
}

func (s *Store) Delete(ctx context.Context, id domain.RecordID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_records WHERE id = $1`, uuid.UUID(id))
	if err != nil {
		return fmt.Errorf("delete audit record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("audit record %s: %w", id, sentinel.ErrNotFound)
	}
	return nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]*audit.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	var records []*audit.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*audit.Record, error) {
	var (
		rec                               audit.Record
		id                                uuid.UUID
		action, entityType, level         string
		actorID, ip, ua, session, request sql.NullString
		txID, hash                        sql.NullString
		oldValues, newValues              []byte
	)
	err := row.Scan(
		&id, &action, &entityType, &rec.EntityID, &actorID, &oldValues, &newValues,
		&ip, &ua, &session, &request, &level,
		&rec.RetentionUntil, &rec.LedgerKey, &txID, &hash, &rec.LedgerVerified, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan audit record: %w", err)
	}
	rec.ID = domain.RecordID(id)
	rec.Action = audit.Action(action)
	rec.EntityType = domain.EntityType(entityType)
	rec.ComplianceLevel = domain.ComplianceLevel(level)
	rec.ActorID = actorID.String
	rec.IPAddress = ip.String
	rec.UserAgent = ua.String
	rec.SessionID = session.String
	rec.RequestID = request.String
	rec.LedgerTxID = txID.String
	rec.LedgerHash = hash.String
	rec.RetentionUntil = rec.RetentionUntil.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	if rec.OldValues, err = unmarshalValues(oldValues); err != nil {
		return nil, err
	}
	if rec.NewValues, err = unmarshalValues(newValues); err != nil {
		return nil, err
	}
	return &rec, nil
}

func marshalValues(values map[string]any) (any, error) {
	if values == nil {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("marshal audit values: %w", err)
	}
	return string(data), nil
}

// unmarshalValues keeps numbers as json.Number so the ledger payload rebuilt
// from this row canonicalizes to the same bytes as the original.
func unmarshalValues(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var values map[string]any
	if err := dec.Decode(&values); err != nil {
		return nil, fmt.Errorf("unmarshal audit values: %w", err)
	}
	return values, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// isUniqueViolation recognises unique violations from the pgx driver, which
// does not return *pq.Error.
func isUniqueViolation(err error) bool {
	var coded interface{ SQLState() string }
	return errors.As(err, &coded) && coded.SQLState() == "23505"
}
