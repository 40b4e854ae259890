package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Config defines audit logging configuration
type Config struct {
	Enabled  bool                   `json:"enabled" yaml:"enabled"`
	VaultID  string                 `json:"vault_id" yaml:"vault_id"`
	Type     ConfigType             `json:"type" yaml:"type"`       // "file", "syslog", "sqlite"
	Options  map[string]interface{} `json:"options" yaml:"options"` // Provider-specific options
	LogLevel string                 `json:"log_level,omitempty" yaml:"log_level,omitempty"`
}

type ConfigType string

const (
	FileAuditType   ConfigType = "file"
	SyslogAuditType ConfigType = "syslog"
	SQLiteAuditType ConfigType = "sqlite"
	NoOp            ConfigType = ""
)

// Vault actions
const (
	ActionVaultOpened         = "VAULT_OPENED"
	ActionVaultClosed         = "VAULT_CLOSED"
	ActionLedgerCreated       = "LEDGER_CREATED"
	ActionLedgerSaved         = "LEDGER_SAVED"
	ActionDeviceMismatch      = "DEVICE_MISMATCH"
	ActionDocumentRegistered  = "DOCUMENT_REGISTERED"
	ActionDocumentOverwritten = "DOCUMENT_OVERWRITTEN"
	ActionDocumentOpened      = "DOCUMENT_OPENED"
	ActionDocumentRefused     = "DOCUMENT_REFUSED"
	ActionDocumentClosed      = "DOCUMENT_CLOSED"
	ActionDocumentReset       = "DOCUMENT_RESET"
	ActionPageDecryptFailed   = "PAGE_DECRYPT_FAILED"
)

// Logger interface for pluggable audit implementations
type Logger interface {
	Log(action string, success bool, metadata map[string]interface{}) error
	Query(options QueryOptions) (QueryResult, error)
	Close() error
}

// Event represents an audit log event
type Event struct {
	ID          string                 `json:"id"`
	Timestamp   time.Time              `json:"timestamp"`
	VaultID     string                 `json:"vault_id,omitempty"`
	Action      string                 `json:"action"`
	Success     bool                   `json:"success"`
	Error       string                 `json:"error,omitempty"`
	DocumentKey string                 `json:"document,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Source      string                 `json:"source,omitempty"` // hostname, CLI, etc.
	SessionID   string                 `json:"session_id,omitempty"`
	Command     string                 `json:"command,omitempty"`
	Duration    int64                  `json:"duration_ms,omitempty"`
}

// QueryOptions for filtering audit logs
type QueryOptions struct {
	VaultID     string
	Since       *time.Time
	Until       *time.Time
	Action      string
	Success     *bool // nil = all, true = only success, false = only failures
	DocumentKey string
	Limit       int
	Offset      int
	// SecurityOnly keeps device, integrity and refusal events
	SecurityOnly bool
}

// QueryResult contains the results of an audit query
type QueryResult struct {
	Events     []Event `json:"events"`
	TotalCount int     `json:"total_count"`
	Filtered   int     `json:"filtered"`
	HasMore    bool    `json:"has_more"`
}

// NewLogger creates an appropriate logger based on configuration
func NewLogger(config *Config) (Logger, error) {
	if config == nil || !config.Enabled {
		return &NoOpLogger{}, nil
	}

	switch config.Type {
	case FileAuditType:
		return NewFileLogger(config)
	case SyslogAuditType:
		return NewSyslogLogger(config)
	case SQLiteAuditType:
		return NewSQLiteLogger(config)
	case NoOp:
		return &NoOpLogger{}, nil
	default:
		return nil, fmt.Errorf("unknown audit provider: %s", config.Type)
	}
}

// newEvent builds an event, lifting the well-known metadata keys into
// their own fields.
func newEvent(vaultID, action string, success bool, metadata map[string]interface{}) Event {
	event := Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		VaultID:   vaultID,
		Action:    action,
		Success:   success,
	}

	if len(metadata) == 0 {
		return event
	}

	rest := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		switch k {
		case "document":
			event.DocumentKey = fmt.Sprint(v)
		case "error":
			event.Error = fmt.Sprint(v)
		case "session_id":
			event.SessionID = fmt.Sprint(v)
		case "command":
			event.Command = fmt.Sprint(v)
		case "source":
			event.Source = fmt.Sprint(v)
		case "duration_ms":
			if d, ok := toInt64(v); ok {
				event.Duration = d
			} else {
				rest[k] = v
			}
		default:
			rest[k] = v
		}
	}
	if len(rest) > 0 {
		event.Metadata = rest
	}
	return event
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// matchesFilter checks if an event matches the query filters
func matchesFilter(event Event, options QueryOptions) bool {
	if options.VaultID != "" && event.VaultID != options.VaultID {
		return false
	}

	if options.Since != nil && event.Timestamp.Before(*options.Since) {
		return false
	}
	if options.Until != nil && event.Timestamp.After(*options.Until) {
		return false
	}

	if options.Action != "" && event.Action != options.Action {
		return false
	}

	if options.Success != nil && event.Success != *options.Success {
		return false
	}

	if options.DocumentKey != "" && event.DocumentKey != options.DocumentKey {
		return false
	}

	if options.SecurityOnly && !isSecurityCriticalAction(event.Action) {
		return false
	}

	return true
}

// isSecurityCriticalAction reports events an operator must never miss
func isSecurityCriticalAction(action string) bool {
	switch action {
	case ActionDeviceMismatch, ActionPageDecryptFailed, ActionDocumentRefused,
		ActionDocumentReset, ActionDocumentOverwritten:
		return true
	}
	return false
}

// parseOptions converts map[string]interface{} to specific options struct
func parseOptions(options map[string]interface{}, target interface{}) error {
	if len(options) == 0 {
		return nil
	}

	// Convert to JSON and back to parse into struct
	jsonData, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	if err = json.Unmarshal(jsonData, target); err != nil {
		return fmt.Errorf("failed to unmarshal options: %w", err)
	}

	return nil
}
