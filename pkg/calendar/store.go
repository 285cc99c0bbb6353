package calendar

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Queued operation statuses.
const (
	OpStatusPending = "pending"
	OpStatusDone    = "done"
	OpStatusFailed  = "failed"
)

// QueuedOperation is a SyncOperation persisted in the durable queue.
type QueuedOperation struct {
	ID     string
	Status string
	Op     *SyncOperation
}

// EventMapping records which external event a bill is synced to on a
// provider. The sync scheduler uses it to decide between create and update.
type EventMapping struct {
	BillID          int64
	Provider        string
	ExternalEventID string
	CalendarID      string
	LastSynced      time.Time
}

// SyncStore persists queued sync operations, bill-to-event mappings, and the
// sync settings.
type SyncStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSyncStore opens (and migrates) the store at dbPath.
func NewSyncStore(dbPath string) (*SyncStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// Use DELETE journal mode for immediate writes (no WAL)
	connStr := dbPath + "?_foreign_keys=on&_journal_mode=DELETE&_synchronous=FULL"
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Force single connection to avoid pooling issues
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SyncStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *SyncStore) Close() error {
	return s.db.Close()
}

func (s *SyncStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_operations (
		id TEXT PRIMARY KEY,
		operation_type TEXT NOT NULL,
		bill_id INTEGER NOT NULL,
		provider TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 5,
		created_at DATETIME NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 3,
		last_error TEXT,
		event_data TEXT,
		status TEXT NOT NULL DEFAULT 'pending'
	);

	CREATE TABLE IF NOT EXISTS event_mappings (
		bill_id INTEGER NOT NULL,
		provider TEXT NOT NULL,
		external_event_id TEXT NOT NULL,
		calendar_id TEXT,
		last_synced DATETIME,
		PRIMARY KEY (bill_id, provider)
	);

	CREATE TABLE IF NOT EXISTS sync_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		data TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_operations_status ON sync_operations(status, priority, created_at);
	CREATE INDEX IF NOT EXISTS idx_mappings_provider ON event_mappings(provider);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Operation queue ---

// Enqueue stores a pending operation and returns its queue ID.
func (s *SyncStore) Enqueue(op *SyncOperation) (string, error) {
	if err := op.Validate(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	_, err := s.db.Exec(`
		INSERT INTO sync_operations (id, operation_type, bill_id, provider, priority, created_at, retry_count, max_retries, last_error, event_data, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, string(op.Type), op.BillID, op.Provider, op.Priority, op.CreatedAt,
		op.RetryCount, op.MaxRetries, op.LastError, string(op.EventData), OpStatusPending)
	if err != nil {
		return "", err
	}
	return id, nil
}

// PendingOperations returns up to limit pending operations, most urgent
// first (lower priority value wins, then older first).
func (s *SyncStore) PendingOperations(limit int) ([]*QueuedOperation, error) {
	rows, err := s.db.Query(`
		SELECT id, operation_type, bill_id, provider, priority, created_at, retry_count, max_retries, last_error, event_data, status
		FROM sync_operations
		WHERE status = ?
		ORDER BY priority, created_at
		LIMIT ?`, OpStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*QueuedOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// GetOperation retrieves a queued operation by ID.
func (s *SyncStore) GetOperation(id string) (*QueuedOperation, error) {
	rows, err := s.db.Query(`
		SELECT id, operation_type, bill_id, provider, priority, created_at, retry_count, max_retries, last_error, event_data, status
		FROM sync_operations WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, sql.ErrNoRows
	}
	return scanOperation(rows)
}

// UpdateOperation persists retry count, last error and status after an
// attempt. Operations that exhaust their retry budget are marked failed.
func (s *SyncStore) UpdateOperation(q *QueuedOperation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE sync_operations
		SET retry_count = ?, last_error = ?, status = ?
		WHERE id = ?`,
		q.Op.RetryCount, q.Op.LastError, q.Status, q.ID)
	return err
}

// MarkDone marks an operation as successfully applied.
func (s *SyncStore) MarkDone(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`UPDATE sync_operations SET status = ? WHERE id = ?`, OpStatusDone, id)
	return err
}

// PruneCompleted removes done operations older than the cutoff.
func (s *SyncStore) PruneCompleted(before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM sync_operations WHERE status = ? AND created_at < ?`, OpStatusDone, before)
	return err
}

func scanOperation(rows *sql.Rows) (*QueuedOperation, error) {
	q := &QueuedOperation{Op: &SyncOperation{}}
	var opType string
	var lastError, eventData sql.NullString
	err := rows.Scan(&q.ID, &opType, &q.Op.BillID, &q.Op.Provider, &q.Op.Priority,
		&q.Op.CreatedAt, &q.Op.RetryCount, &q.Op.MaxRetries, &lastError, &eventData, &q.Status)
	if err != nil {
		return nil, err
	}
	q.Op.Type = OperationType(opType)
	q.Op.LastError = lastError.String
	if eventData.String != "" && eventData.String != "null" {
		q.Op.EventData = json.RawMessage(eventData.String)
	}
	return q, nil
}

// --- Event mappings ---

// SaveMapping upserts the bill-to-external-event mapping.
func (s *SyncStore) SaveMapping(m *EventMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO event_mappings (bill_id, provider, external_event_id, calendar_id, last_synced)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(bill_id, provider) DO UPDATE SET
			external_event_id = excluded.external_event_id,
			calendar_id = excluded.calendar_id,
			last_synced = excluded.last_synced`,
		m.BillID, m.Provider, m.ExternalEventID, m.CalendarID, m.LastSynced)
	return err
}

// GetMapping retrieves the mapping for a bill on a provider, or nil.
func (s *SyncStore) GetMapping(billID int64, provider string) (*EventMapping, error) {
	row := s.db.QueryRow(`
		SELECT bill_id, provider, external_event_id, calendar_id, last_synced
		FROM event_mappings WHERE bill_id = ? AND provider = ?`, billID, provider)

	m := &EventMapping{}
	var calendarID sql.NullString
	var lastSynced sql.NullTime
	err := row.Scan(&m.BillID, &m.Provider, &m.ExternalEventID, &calendarID, &lastSynced)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.CalendarID = calendarID.String
	if lastSynced.Valid {
		m.LastSynced = lastSynced.Time
	}
	return m, nil
}

// ListMappings returns all mappings for a provider.
func (s *SyncStore) ListMappings(provider string) ([]*EventMapping, error) {
	rows, err := s.db.Query(`
		SELECT bill_id, provider, external_event_id, calendar_id, last_synced
		FROM event_mappings WHERE provider = ? ORDER BY bill_id`, provider)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []*EventMapping
	for rows.Next() {
		m := &EventMapping{}
		var calendarID sql.NullString
		var lastSynced sql.NullTime
		if err := rows.Scan(&m.BillID, &m.Provider, &m.ExternalEventID, &calendarID, &lastSynced); err != nil {
			return nil, err
		}
		m.CalendarID = calendarID.String
		if lastSynced.Valid {
			m.LastSynced = lastSynced.Time
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

// DeleteMapping removes the mapping for a bill on a provider.
func (s *SyncStore) DeleteMapping(billID int64, provider string) error {
	_, err := s.db.Exec(`DELETE FROM event_mappings WHERE bill_id = ? AND provider = ?`, billID, provider)
	return err
}

// --- Settings ---

// SaveSettings persists the sync settings as a single JSON row.
func (s *SyncStore) SaveSettings(settings *SyncSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO sync_settings (id, data) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data`, string(data))
	return err
}

// LoadSettings returns the persisted settings, or defaults when none exist.
func (s *SyncStore) LoadSettings() (*SyncSettings, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM sync_settings WHERE id = 1`).Scan(&data)
	if err == sql.ErrNoRows {
		return DefaultSyncSettings(), nil
	}
	if err != nil {
		return nil, err
	}

	settings := DefaultSyncSettings()
	if err := json.Unmarshal([]byte(data), settings); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}
