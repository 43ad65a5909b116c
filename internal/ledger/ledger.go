// Package ledger defines the append-only, independently verifiable store that
// backs every audit record, together with its backends.
//
// A ledger entry is addressed by key. Appending to an existing key creates a new
// version; Read always returns the latest version. Entries are never updated
// or deleted in place.
package ledger

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"trustledger/pkg/platform/sentinel"
)

// Ledger is the contract every backend implements.
type Ledger interface {
	// Append stores value under key and returns the transaction receipt.
	Append(ctx context.Context, key string, value any) (Receipt, error)
	// Read returns the latest version stored under key.
	Read(ctx context.Context, key string) (*Entry, error)
	// Verify reports whether the latest version under key still hashes to
	// expectedHash. A missing key returns false and an ErrNotFound error.
	Verify(ctx context.Context, key, expectedHash string) (bool, error)
}

// Receipt identifies one ledger transaction.
type Receipt struct {
	TxID string
	Hash string
}

// Entry is one version stored under a key.
type Entry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	TxID      string          `json:"txId"`
	Hash      string          `json:"hash"`
	Version   int             `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
}

var (
	// ErrNotFound is returned when a key has never been appended.
	ErrNotFound = fmt.Errorf("ledger key: %w", sentinel.ErrNotFound)
	// ErrUnavailable is returned when the backend cannot be reached.
	ErrUnavailable = fmt.Errorf("ledger: %w", sentinel.ErrUnavailable)
)

// IsUnavailable reports whether err means the ledger could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, sentinel.ErrUnavailable)
}

// Canonicalize renders value as JSON with object keys sorted and numbers kept
// verbatim, so equal values always hash equally.
func Canonicalize(value any) (json.RawMessage, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal ledger value: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode ledger value: %w", err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("canonicalize ledger value: %w", err)
	}
	return out, nil
}

// Hash computes the entry hash: SHA-256 over canonical value, "|" and txID.
func Hash(canonical []byte, txID string) string {
	h := sha256.New()
	h.Write(canonical)
	h.Write([]byte("|"))
	h.Write([]byte(txID))
	return hex.EncodeToString(h.Sum(nil))
}

// verifyEntry recomputes the entry hash and compares both the stored and the
// recomputed hash with expected.
func verifyEntry(e *Entry, expectedHash string) bool {
	if e == nil || expectedHash == "" {
		return false
	}
	return e.Hash == expectedHash && Hash(e.Value, e.TxID) == expectedHash
}
