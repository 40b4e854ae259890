package audit

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Ensure SQLiteLogger implements Logger interface
var _ Logger = (*SQLiteLogger)(nil)

type SQLiteOptions struct {
	DBPath string `json:"db_path"`
}

// SQLiteLogger stores events in a SQLite database so the trail can be
// filtered without scanning a log file.
type SQLiteLogger struct {
	db      *sql.DB
	vaultID string
	mu      sync.Mutex
}

// NewSQLiteLogger opens or creates the audit database.
func NewSQLiteLogger(config *Config) (*SQLiteLogger, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	var opts SQLiteOptions
	if err := parseOptions(config.Options, &opts); err != nil {
		return nil, fmt.Errorf("invalid sqlite logger options: %w", err)
	}
	if opts.DBPath == "" {
		// reuse the file backend option so switching types keeps one setting
		var fileOpts FileOptions
		_ = parseOptions(config.Options, &fileOpts)
		opts.DBPath = fileOpts.FilePath
	}
	if opts.DBPath == "" {
		return nil, fmt.Errorf("db_path is required for sqlite logger")
	}

	if err := os.MkdirAll(filepath.Dir(opts.DBPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create audit database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", opts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to audit database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err = db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err = db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply audit schema: %w", err)
	}

	return &SQLiteLogger{db: db, vaultID: config.VaultID}, nil
}

func (s *SQLiteLogger) Log(action string, success bool, metadata map[string]interface{}) error {
	event := newEvent(s.vaultID, action, success, metadata)

	var metadataJSON []byte
	if len(event.Metadata) > 0 {
		var err error
		if metadataJSON, err = json.Marshal(event.Metadata); err != nil {
			return fmt.Errorf("failed to serialize audit metadata: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return fmt.Errorf("audit database is closed")
	}

	_, err := s.db.Exec(`INSERT INTO audit_events
		(id, ts, vault_id, action, success, error, document, session_id, command, source, duration_ms, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Timestamp.UnixNano(), event.VaultID, event.Action, event.Success,
		event.Error, event.DocumentKey, event.SessionID, event.Command, event.Source,
		event.Duration, string(metadataJSON))
	if err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

func (s *SQLiteLogger) Query(options QueryOptions) (QueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return QueryResult{}, fmt.Errorf("audit database is closed")
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM audit_events`).Scan(&total); err != nil {
		return QueryResult{}, fmt.Errorf("failed to count audit events: %w", err)
	}

	where, args := buildWhere(options)

	var filtered int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM audit_events`+where, args...).Scan(&filtered); err != nil {
		return QueryResult{}, fmt.Errorf("failed to count audit events: %w", err)
	}

	query := `SELECT id, ts, vault_id, action, success, error, document, session_id, command, source, duration_ms, metadata
		FROM audit_events` + where + ` ORDER BY ts DESC, rowid DESC`
	limit := -1
	if options.Limit > 0 {
		limit = options.Limit
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, options.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return QueryResult{}, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			event    Event
			ts       int64
			metadata string
		)
		if err = rows.Scan(&event.ID, &ts, &event.VaultID, &event.Action, &event.Success, &event.Error,
			&event.DocumentKey, &event.SessionID, &event.Command, &event.Source, &event.Duration, &metadata); err != nil {
			return QueryResult{}, fmt.Errorf("failed to read audit event: %w", err)
		}
		event.Timestamp = time.Unix(0, ts).UTC()
		if metadata != "" {
			if err = json.Unmarshal([]byte(metadata), &event.Metadata); err != nil {
				return QueryResult{}, fmt.Errorf("corrupt metadata on event %s: %w", event.ID, err)
			}
		}
		events = append(events, event)
	}
	if err = rows.Err(); err != nil {
		return QueryResult{}, fmt.Errorf("failed to iterate audit events: %w", err)
	}

	return QueryResult{
		Events:     events,
		TotalCount: total,
		Filtered:   filtered,
		HasMore:    options.Offset+len(events) < filtered,
	}, nil
}

func buildWhere(options QueryOptions) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)

	if options.VaultID != "" {
		clauses = append(clauses, "vault_id = ?")
		args = append(args, options.VaultID)
	}
	if options.Since != nil {
		clauses = append(clauses, "ts >= ?")
		args = append(args, options.Since.UnixNano())
	}
	if options.Until != nil {
		clauses = append(clauses, "ts <= ?")
		args = append(args, options.Until.UnixNano())
	}
	if options.Action != "" {
		clauses = append(clauses, "action = ?")
		args = append(args, options.Action)
	}
	if options.Success != nil {
		clauses = append(clauses, "success = ?")
		args = append(args, *options.Success)
	}
	if options.DocumentKey != "" {
		clauses = append(clauses, "document = ?")
		args = append(args, options.DocumentKey)
	}
	if options.SecurityOnly {
		actions := []string{ActionDeviceMismatch, ActionPageDecryptFailed, ActionDocumentRefused,
			ActionDocumentReset, ActionDocumentOverwritten}
		clauses = append(clauses, "action IN (?"+strings.Repeat(", ?", len(actions)-1)+")")
		for _, a := range actions {
			args = append(args, a)
		}
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *SQLiteLogger) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
