package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTransactionBatchValidate(t *testing.T) {
	full := make([]TransactionRecord, BatchSize)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		batch   TransactionBatch
		wantErr bool
	}{
		{"ten records", TransactionBatch{Items: full, UpdatedAt: now}, false},
		{"nine records", TransactionBatch{Items: full[:9], UpdatedAt: now}, true},
		{"eleven records", TransactionBatch{Items: append(full, TransactionRecord{}), UpdatedAt: now}, true},
		{"missing timestamp", TransactionBatch{Items: full}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.batch.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidBatch)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsValidCode(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"TABC123XYZ", true},
		{"T000000000", true},
		{"XABC123XYZ", false},
		{"TABC123XY", false},
		{"TABC123XYZ0", false},
		{"Tabc123xyz", false},
		{"TABC-23XYZ", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsValidCode(tt.code), tt.code)
	}
}

func TestIsAllowedAmount(t *testing.T) {
	for _, a := range AllowedAmounts {
		assert.True(t, IsAllowedAmount(a))
	}
	assert.False(t, IsAllowedAmount(0))
	assert.False(t, IsAllowedAmount(100))
}

func TestScopeValidate(t *testing.T) {
	assert.NoError(t, Scope{ProfileID: "p", SessionID: "s"}.Validate())
	assert.ErrorIs(t, Scope{ProfileID: "p"}.Validate(), ErrInvalidScope)
	assert.ErrorIs(t, Scope{SessionID: "s"}.Validate(), ErrInvalidScope)
}
