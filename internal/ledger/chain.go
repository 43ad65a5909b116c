package ledger

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
)

const genesisInput = "trustledger-genesis"

// ChainReport summarises a full-chain verification.
type ChainReport struct {
	Entries int
	// BrokenAt is the sequence number of the first entry whose hash or chain
	// link does not match, or 0 when the chain is intact.
	BrokenAt int64
	Reason   string
}

// Intact reports whether every entry verified.
func (r ChainReport) Intact() bool { return r.BrokenAt == 0 }

func genesisHash() string {
	h := sha256.Sum256([]byte(genesisInput))
	return hex.EncodeToString(h[:])
}

// chainHash links an entry hash to its predecessor.
func chainHash(prev, entryHash string) string {
	h := sha256.Sum256([]byte(prev + entryHash))
	return hex.EncodeToString(h[:])
}

// unavailable marks connectivity failures so callers can tell them apart from
// data errors.
func unavailable(op string, err error) error {
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
