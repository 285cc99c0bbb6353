package calendar

import (
	"encoding/json"
	"strings"
	"time"
)

// OperationType identifies what a sync operation does to a bill's event.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// DefaultMaxRetries bounds how often a failed operation is retried before it
// is surfaced as a terminal failure.
const DefaultMaxRetries = 3

// SyncOperation is a queued unit of work: "do X to bill Y on provider Z".
// The shape matches what a durable queue needs, so operations can be
// persisted and replayed by the sync scheduler.
type SyncOperation struct {
	Type       OperationType   `json:"operation_type"`
	BillID     int64           `json:"bill_id"`
	Provider   string          `json:"calendar_provider"`
	Priority   int             `json:"priority"`
	CreatedAt  time.Time       `json:"created_at"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
	LastError  string          `json:"last_error,omitempty"`
	EventData  json.RawMessage `json:"event_data,omitempty"`
}

// NewSyncOperation creates a validated operation with default priority 5 and
// the default retry ceiling.
func NewSyncOperation(opType OperationType, billID int64, provider string) (*SyncOperation, error) {
	op := &SyncOperation{
		Type:       opType,
		BillID:     billID,
		Provider:   provider,
		Priority:   5,
		CreatedAt:  time.Now(),
		MaxRetries: DefaultMaxRetries,
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}
	return op, nil
}

// Validate checks the operation and normalizes the provider name.
func (o *SyncOperation) Validate() error {
	switch o.Type {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return NewValidationError("invalid operation type, must be one of: create, update, delete", "operation_type")
	}
	if o.BillID <= 0 {
		return NewValidationError("bill ID must be a positive integer", "bill_id")
	}
	provider := strings.ToLower(strings.TrimSpace(o.Provider))
	if provider == "" {
		return NewValidationError("calendar provider is required", "calendar_provider")
	}
	if !ValidProvider(provider) {
		return NewValidationError("invalid calendar provider, must be one of: google, outlook, apple", "calendar_provider")
	}
	if o.Priority < 1 || o.Priority > 10 {
		return NewValidationError("priority must be an integer between 1 and 10", "priority")
	}
	if o.RetryCount < 0 {
		return NewValidationError("retry count cannot be negative", "retry_count")
	}
	if o.MaxRetries < 0 {
		return NewValidationError("max retries cannot be negative", "max_retries")
	}
	o.Provider = provider
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	return nil
}

// CanRetry reports whether the operation has retry budget left.
func (o *SyncOperation) CanRetry() bool {
	return o.RetryCount < o.MaxRetries
}

// IncrementRetry records a failed attempt.
func (o *SyncOperation) IncrementRetry(errMsg string) {
	o.RetryCount++
	o.LastError = errMsg
}

// DecodeSyncOperation unmarshals and validates an operation from JSON.
func DecodeSyncOperation(data []byte) (*SyncOperation, error) {
	var op SyncOperation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, NewValidationError("invalid sync operation data: "+err.Error(), "")
	}
	if op.Priority == 0 {
		op.Priority = 5
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}
	return &op, nil
}
