package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "trustledger/pkg/domain-errors"
)

// TestParseUUID_Invariants validates that IDs parsed at trust boundaries are
// valid, non-empty, non-nil UUIDs.
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseRecordID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseErasureID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseIssueID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		valid := uuid.New()
		id, err := ParseRecordID(valid.String())
		require.NoError(t, err)
		assert.Equal(t, RecordID(valid), id)
		assert.Equal(t, valid.String(), id.String())
	})
}

func TestParseEntityType(t *testing.T) {
	t.Run("accepts identifiers", func(t *testing.T) {
		et, err := ParseEntityType(" Invoice ")
		require.NoError(t, err)
		assert.Equal(t, EntityInvoice, et)
	})

	t.Run("rejects separators used in ledger keys", func(t *testing.T) {
		_, err := ParseEntityType("audit:Client")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects overlong names", func(t *testing.T) {
		_, err := ParseEntityType(strings.Repeat("a", maxEntityTypeLen+1))
		require.Error(t, err)
	})
}

func TestComplianceLevel(t *testing.T) {
	t.Run("parses known levels", func(t *testing.T) {
		for _, l := range ComplianceLevels() {
			parsed, err := ParseComplianceLevel(string(l))
			require.NoError(t, err)
			assert.Equal(t, l, parsed)
		}
	})

	t.Run("rejects unknown level", func(t *testing.T) {
		_, err := ParseComplianceLevel("PARANOID")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("orders by strictness", func(t *testing.T) {
		assert.True(t, ComplianceRegulatory.Stricter(ComplianceCritical))
		assert.True(t, ComplianceEnhanced.Stricter(ComplianceStandard))
		assert.False(t, ComplianceStandard.Stricter(ComplianceStandard))
	})
}

func TestIDsMarshalAsStrings(t *testing.T) {
	id := NewIssueID()
	out, err := json.Marshal(map[string]any{"id": id})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+id.String()+`"}`, string(out))
}
