package calendar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSyncOperationDefaults(t *testing.T) {
	op, err := NewSyncOperation(OpCreate, 7, "Google")
	require.NoError(t, err)
	assert.Equal(t, "google", op.Provider)
	assert.Equal(t, 5, op.Priority)
	assert.Equal(t, DefaultMaxRetries, op.MaxRetries)
	assert.False(t, op.CreatedAt.IsZero())
}

func TestSyncOperationValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SyncOperation)
	}{
		{"bad type", func(o *SyncOperation) { o.Type = "upsert" }},
		{"zero bill id", func(o *SyncOperation) { o.BillID = 0 }},
		{"empty provider", func(o *SyncOperation) { o.Provider = "  " }},
		{"unknown provider", func(o *SyncOperation) { o.Provider = "caldav" }},
		{"priority too low", func(o *SyncOperation) { o.Priority = 0 }},
		{"priority too high", func(o *SyncOperation) { o.Priority = 11 }},
		{"negative retry count", func(o *SyncOperation) { o.RetryCount = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := &SyncOperation{Type: OpUpdate, BillID: 1, Provider: "google", Priority: 5}
			tt.mutate(op)
			var verr *ValidationError
			require.ErrorAs(t, op.Validate(), &verr)
		})
	}
}

func TestSyncOperationRetryBudget(t *testing.T) {
	op, err := NewSyncOperation(OpDelete, 3, "outlook")
	require.NoError(t, err)

	for i := 0; i < DefaultMaxRetries; i++ {
		assert.True(t, op.CanRetry())
		op.IncrementRetry("connection reset")
	}
	assert.False(t, op.CanRetry())
	assert.Equal(t, DefaultMaxRetries, op.RetryCount)
	assert.Equal(t, "connection reset", op.LastError)
}

func TestDecodeSyncOperation(t *testing.T) {
	op, err := DecodeSyncOperation([]byte(`{"operation_type":"create","bill_id":9,"calendar_provider":"OUTLOOK"}`))
	require.NoError(t, err)
	assert.Equal(t, "outlook", op.Provider)
	assert.Equal(t, 5, op.Priority)

	_, err = DecodeSyncOperation([]byte(`{"operation_type":"create","bill_id":0,"calendar_provider":"google"}`))
	require.Error(t, err)
}
