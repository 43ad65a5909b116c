package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"trustledger/internal/compliance"
	"trustledger/pkg/domain"
	"trustledger/pkg/platform/sentinel"
	"trustledger/pkg/platform/tx"
)

// Store implements compliance.Store on the compliance_issues table. It joins
// any transaction carried in the context.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

const selectColumns = `
	id, entity_type, entity_id, issue_type, severity, missing_fields, cycles,
	due_date, detected_at, last_seen_at, resolved_at, resolved_by
`

func (s *Store) Create(ctx context.Context, issue *compliance.Issue) error {
	_, err := tx.Execer(ctx, s.db).ExecContext(ctx, `
		INSERT INTO compliance_issues (
			id, entity_type, entity_id, issue_type, severity, missing_fields, cycles,
			due_date, detected_at, last_seen_at, resolved_at, resolved_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		uuid.UUID(issue.ID),
		string(issue.EntityType),
		issue.EntityID,
		string(issue.IssueType),
		string(issue.Severity),
		pq.Array(issue.MissingFields),
		issue.Cycles,
		issue.DueDate,
		issue.DetectedAt,
		issue.LastSeenAt,
		nullTime(issue.ResolvedAt),
		nullString(issue.ResolvedBy),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("insert compliance issue: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("insert compliance issue: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, issue *compliance.Issue) error {
	res, err := tx.Execer(ctx, s.db).ExecContext(ctx, `
		UPDATE compliance_issues
		SET severity = $2, missing_fields = $3, cycles = $4, due_date = $5,
			last_seen_at = $6, resolved_at = $7, resolved_by = $8
		WHERE id = $1
	`,
		uuid.UUID(issue.ID),
		string(issue.Severity),
		pq.Array(issue.MissingFields),
		issue.Cycles,
		issue.DueDate,
		issue.LastSeenAt,
		nullTime(issue.ResolvedAt),
		nullString(issue.ResolvedBy),
	)
	if err != nil {
		return fmt.Errorf("update compliance issue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update compliance issue: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("compliance issue %s: %w", issue.ID, sentinel.ErrNotFound)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id domain.IssueID) (*compliance.Issue, error) {
	row := tx.Execer(ctx, s.db).QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM compliance_issues WHERE id = $1`, uuid.UUID(id))
	issue, err := scanIssue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("compliance issue %s: %w", id, sentinel.ErrNotFound)
	}
	return issue, err
}

// ListOpen returns every open issue when entityType is empty.
func (s *Store) ListOpen(ctx context.Context, entityType domain.EntityType) ([]*compliance.Issue, error) {
	rows, err := tx.Execer(ctx, s.db).QueryContext(ctx, `SELECT `+selectColumns+` FROM compliance_issues
		WHERE resolved_at IS NULL AND ($1 = '' OR entity_type = $1)
		ORDER BY detected_at ASC, entity_id ASC`, string(entityType))
	if err != nil {
		return nil, fmt.Errorf("list open compliance issues: %w", err)
	}
	defer rows.Close()

	var out []*compliance.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate compliance issues: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIssue(row scanner) (*compliance.Issue, error) {
	var (
		id         uuid.UUID
		entityType string
		issueType  string
		severity   string
		resolvedAt sql.NullTime
		resolvedBy sql.NullString
		missing    []string
		issue      compliance.Issue
	)
	err := row.Scan(
		&id,
		&entityType,
		&issue.EntityID,
		&issueType,
		&severity,
		pq.Array(&missing),
		&issue.Cycles,
		&issue.DueDate,
		&issue.DetectedAt,
		&issue.LastSeenAt,
		&resolvedAt,
		&resolvedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan compliance issue: %w", err)
	}
	issue.ID = domain.IssueID(id)
	issue.EntityType = domain.EntityType(entityType)
	issue.IssueType = compliance.IssueType(issueType)
	issue.Severity = compliance.Severity(severity)
	issue.MissingFields = missing
	issue.ResolvedBy = resolvedBy.String
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		issue.ResolvedAt = &t
	}
	return &issue, nil
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
