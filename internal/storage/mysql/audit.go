package mysql

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// AuditRecord is one finished invocation.
type AuditRecord struct {
	ID           int64    `json:"id"`
	InvocationID string   `json:"invocation_id"`
	Function     string   `json:"function"`
	Groups       []string `json:"groups,omitempty"`
	Status       string   `json:"status"`
	Error        string   `json:"error,omitempty"`
	ErrorCode    string   `json:"error_code,omitempty"`
	DurationMS   int64    `json:"duration_ms"`
	CreatedAt    int64    `json:"created_at"`
}

// Audit statuses.
const (
	AuditSucceeded = "succeeded"
	AuditFailed    = "failed"
)

// AuditRepository stores audit records.
type AuditRepository interface {
	Save(ctx context.Context, record *AuditRecord) error
	ListLatest(ctx context.Context, limit int) ([]AuditRecord, error)
	Close() error
}

// SQLAuditRepository stores audit records in the invocation_audit table.
type SQLAuditRepository struct {
	db *sql.DB
}

// NewSQLAuditRepository wraps a migrated pool.
func NewSQLAuditRepository(db *sql.DB) *SQLAuditRepository {
	return &SQLAuditRepository{db: db}
}

const insertAuditSQL = `INSERT INTO invocation_audit
    (invocation_id, function_name, groups_json, status, error_message, error_code, duration_ms, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

// Save inserts record and assigns its id.
func (s *SQLAuditRepository) Save(ctx context.Context, record *AuditRecord) error {
	if record == nil {
		return fmt.Errorf("audit record cannot be nil")
	}
	groups, err := encodeJSON(record.Groups)
	if err != nil {
		return fmt.Errorf("encode audit groups: %w", err)
	}
	res, err := s.db.ExecContext(ctx, insertAuditSQL,
		record.InvocationID,
		record.Function,
		groups,
		record.Status,
		record.Error,
		record.ErrorCode,
		record.DurationMS,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		record.ID = id
	}
	return nil
}

const listAuditSQL = `SELECT id, invocation_id, function_name, groups_json, status, error_message, error_code, duration_ms, created_at
    FROM invocation_audit ORDER BY created_at DESC, id DESC LIMIT ?`

// ListLatest returns the newest records first.
func (s *SQLAuditRepository) ListLatest(ctx context.Context, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, listAuditSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	records := make([]AuditRecord, 0, limit)
	for rows.Next() {
		var (
			record AuditRecord
			groups sql.NullString
			errMsg sql.NullString
		)
		if err := rows.Scan(&record.ID, &record.InvocationID, &record.Function, &groups, &record.Status,
			&errMsg, &record.ErrorCode, &record.DurationMS, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		if err := decodeJSON(groups, &record.Groups); err != nil {
			return nil, fmt.Errorf("decode audit groups: %w", err)
		}
		record.Error = errMsg.String
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}

// Close releases the pool.
func (s *SQLAuditRepository) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// FileAuditRepository appends audit records to a JSON lines file and keeps the
// newest ones in memory. It stands in for MySQL in development.
type FileAuditRepository struct {
	mu       sync.RWMutex
	dataFile string
	records  []AuditRecord
	nextID   int64
}

const fileAuditKeep = 512

// NewFileAuditRepository opens or creates audit.log in dataDir.
func NewFileAuditRepository(dataDir string) (*FileAuditRepository, error) {
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	repo := &FileAuditRepository{dataFile: filepath.Join(dataDir, "audit.log")}
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Save appends record to the file.
func (m *FileAuditRepository) Save(_ context.Context, record *AuditRecord) error {
	if record == nil {
		return fmt.Errorf("audit record cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	record.ID = m.nextID

	file, err := os.OpenFile(m.dataFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer file.Close()

	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode audit record: %w", err)
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}

	stored := *record
	stored.Groups = slices.Clone(record.Groups)
	m.records = append([]AuditRecord{stored}, m.records...)
	if len(m.records) > fileAuditKeep {
		m.records = m.records[:fileAuditKeep]
	}
	return nil
}

// ListLatest returns the newest records first.
func (m *FileAuditRepository) ListLatest(_ context.Context, limit int) ([]AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	results := make([]AuditRecord, limit)
	copy(results, m.records[:limit])
	return results, nil
}

func (m *FileAuditRepository) Close() error { return nil }

func (m *FileAuditRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.dataFile, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var restored []AuditRecord
	for scanner.Scan() {
		var record AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		if record.ID > m.nextID {
			m.nextID = record.ID
		}
		restored = append([]AuditRecord{record}, restored...)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("parse audit log: %w", err)
	}
	if len(restored) > fileAuditKeep {
		restored = restored[:fileAuditKeep]
	}
	m.records = restored
	return nil
}

func encodeJSON(v any) (sql.NullString, error) {
	switch t := v.(type) {
	case nil:
		return sql.NullString{}, nil
	case []string:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	case map[string]any:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func decodeJSON(raw sql.NullString, dst any) error {
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), dst)
}

var (
	_ AuditRepository = (*SQLAuditRepository)(nil)
	_ AuditRepository = (*FileAuditRepository)(nil)
)
