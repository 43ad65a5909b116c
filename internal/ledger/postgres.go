package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"trustledger/pkg/platform/tx"
	"trustledger/pkg/requestcontext"
)

// chainLockID serialises appends so prev_hash always points at the true tail.
const chainLockID = 0x7472757374

// Postgres stores ledger entries in the append-only ledger_entries table. The
// migration installs a trigger that rejects UPDATE and DELETE on that table.
//
// Appends run in their own transaction and never join a caller transaction:
// a rolled back business write must not take its ledger entry with it.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Append(ctx context.Context, key string, value any) (Receipt, error) {
	canonical, err := Canonicalize(value)
	if err != nil {
		return Receipt{}, err
	}
	txID := uuid.NewString()
	hash := Hash(canonical, txID)
	now := requestcontext.Now(ctx).UTC()

	err = tx.RunInTx(tx.Without(ctx), p.db, func(ctx context.Context) error {
		q := tx.Execer(ctx, p.db)
		if _, err := q.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, chainLockID); err != nil {
			return fmt.Errorf("lock ledger chain: %w", err)
		}

		prev := genesisHash()
		err := q.QueryRowContext(ctx, `SELECT chain_hash FROM ledger_entries ORDER BY seq DESC LIMIT 1`).Scan(&prev)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read ledger tail: %w", err)
		}

		var version int
		if err := q.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM ledger_entries WHERE key = $1`, key,
		).Scan(&version); err != nil {
			return fmt.Errorf("read ledger version: %w", err)
		}

		_, err = q.ExecContext(ctx, `
			INSERT INTO ledger_entries (key, version, value, tx_id, hash, prev_hash, chain_hash, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, key, version+1, string(canonical), txID, hash, prev, chainHash(prev, hash), now)
		if err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return Receipt{}, unavailable("append ledger entry", err)
	}
	return Receipt{TxID: txID, Hash: hash}, nil
}

func (p *Postgres) Read(ctx context.Context, key string) (*Entry, error) {
	var (
		e     Entry
		value string
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT key, version, value, tx_id, hash, created_at
		FROM ledger_entries
		WHERE key = $1
		ORDER BY version DESC
		LIMIT 1
	`, key).Scan(&e.Key, &e.Version, &value, &e.TxID, &e.Hash, &e.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("read ledger entry", err)
	}
	e.Value = json.RawMessage(value)
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}

func (p *Postgres) Verify(ctx context.Context, key, expectedHash string) (bool, error) {
	e, err := p.Read(ctx, key)
	if err != nil {
		return false, err
	}
	return verifyEntry(e, expectedHash), nil
}

// VerifyChain walks the whole table in sequence order and checks every entry
// hash and chain link.
func (p *Postgres) VerifyChain(ctx context.Context) (ChainReport, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT seq, value, tx_id, hash, prev_hash, chain_hash
		FROM ledger_entries
		ORDER BY seq ASC
	`)
	if err != nil {
		return ChainReport{}, unavailable("scan ledger chain", err)
	}
	defer rows.Close()

	report := ChainReport{}
	prev := genesisHash()
	for rows.Next() {
		var (
			seq                                 int64
			value, txID, hash, prevHash, linked string
		)
		if err := rows.Scan(&seq, &value, &txID, &hash, &prevHash, &linked); err != nil {
			return report, unavailable("scan ledger row", err)
		}
		report.Entries++
		switch {
		case Hash([]byte(value), txID) != hash:
			return brokenAt(report, seq, "entry hash mismatch"), nil
		case prevHash != prev:
			return brokenAt(report, seq, "prev hash mismatch"), nil
		case chainHash(prev, hash) != linked:
			return brokenAt(report, seq, "chain hash mismatch"), nil
		}
		prev = linked
	}
	if err := rows.Err(); err != nil {
		return report, unavailable("iterate ledger chain", err)
	}
	return report, nil
}

func brokenAt(r ChainReport, seq int64, reason string) ChainReport {
	r.BrokenAt = seq
	r.Reason = reason
	return r
}

// Ping reports whether the backing database is reachable.
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping ledger: %w: %w", ErrUnavailable, err)
	}
	return nil
}
