package erasure

import (
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/blake2b"

	"trustledger/pkg/domain"
)

// Pseudonymizer derives stable tokens from entity identities with a keyed
// BLAKE2b hash. Only a holder of the key can link a token back to an entity,
// by recomputing the token for a candidate ID.
type Pseudonymizer struct {
	key []byte
}

func NewPseudonymizer(key []byte) (*Pseudonymizer, error) {
	if len(key) == 0 {
		return nil, errors.New("pseudonymization key is required")
	}
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		key = sum[:]
	}
	return &Pseudonymizer{key: append([]byte(nil), key...)}, nil
}

// Token returns the hex encoded keyed hash of "entityType:entityID".
func (p *Pseudonymizer) Token(entityType domain.EntityType, entityID string) string {
	h, err := blake2b.New256(p.key)
	if err != nil {
		// The key length is checked in NewPseudonymizer.
		panic(err)
	}
	h.Write([]byte(string(entityType) + ":" + entityID))
	return hex.EncodeToString(h.Sum(nil))
}
