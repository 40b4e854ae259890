//go:build !windows && !plan9

package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/syslog"
	"strings"
)

var _ Logger = (*SyslogLogger)(nil)

// syslogPrefix starts every message so vault events can be filtered out of
// a shared system log.
const syslogPrefix = "PDF_SECURE_AUDIT: "

// SyslogOptions configures the syslog backend. An empty Network writes to
// the local daemon.
type SyslogOptions struct {
	Network  string `json:"network"`
	Address  string `json:"address"`
	Facility string `json:"facility"`
	Tag      string `json:"tag"`
}

var syslogFacilities = map[string]syslog.Priority{
	"user":     syslog.LOG_USER,
	"auth":     syslog.LOG_AUTH,
	"authpriv": syslog.LOG_AUTHPRIV,
	"daemon":   syslog.LOG_DAEMON,
	"local0":   syslog.LOG_LOCAL0,
	"local1":   syslog.LOG_LOCAL1,
	"local2":   syslog.LOG_LOCAL2,
	"local3":   syslog.LOG_LOCAL3,
	"local4":   syslog.LOG_LOCAL4,
	"local5":   syslog.LOG_LOCAL5,
	"local6":   syslog.LOG_LOCAL6,
	"local7":   syslog.LOG_LOCAL7,
}

// syslogWriter is the part of *syslog.Writer the logger uses.
type syslogWriter interface {
	Err(m string) error
	Warning(m string) error
	Notice(m string) error
	Info(m string) error
	Close() error
}

// SyslogLogger forwards audit events to syslog as JSON. It cannot be queried.
type SyslogLogger struct {
	config *Config
	writer syslogWriter
}

func NewSyslogLogger(config *Config) (*SyslogLogger, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	opts := SyslogOptions{Facility: "user", Tag: "pdf-secure-audit"}
	if err := parseOptions(config.Options, &opts); err != nil {
		return nil, fmt.Errorf("invalid syslog logger options: %w", err)
	}

	facility, ok := syslogFacilities[strings.ToLower(opts.Facility)]
	if !ok {
		return nil, fmt.Errorf("unknown syslog facility %q", opts.Facility)
	}

	var (
		writer *syslog.Writer
		err    error
	)
	if opts.Network != "" {
		writer, err = syslog.Dial(opts.Network, opts.Address, facility|syslog.LOG_INFO, opts.Tag)
	} else {
		writer, err = syslog.New(facility|syslog.LOG_INFO, opts.Tag)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to syslog: %w", err)
	}

	return newSyslogLogger(config, writer), nil
}

func newSyslogLogger(config *Config, writer syslogWriter) *SyslogLogger {
	return &SyslogLogger{config: config, writer: writer}
}

func (s *SyslogLogger) Log(action string, success bool, metadata map[string]interface{}) error {
	if !s.config.Enabled {
		return nil
	}
	if s.writer == nil {
		return errors.New("syslog logger is closed")
	}

	event := newEvent(s.config.VaultID, action, success, metadata)
	if event.Source == "" {
		event.Source = "vault"
	}

	emit := s.severity(event)
	if emit == nil {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}
	return emit(syslogPrefix + string(payload))
}

// severity picks the writer method for event, or nil when the configured
// level drops it. Failures and security events pass every level.
func (s *SyslogLogger) severity(event Event) func(string) error {
	switch {
	case !event.Success && event.Error != "":
		return s.writer.Err
	case !event.Success:
		return s.writer.Warning
	case isSecurityCriticalAction(event.Action):
		return s.writer.Notice
	case s.config.LogLevel == "error" || s.config.LogLevel == "warn":
		return nil
	default:
		return s.writer.Info
	}
}

// Query always fails. Use the file or sqlite backend for a queryable trail.
func (s *SyslogLogger) Query(QueryOptions) (QueryResult, error) {
	return QueryResult{Events: []Event{}}, errors.New("syslog logger does not support querying historical data")
}

func (s *SyslogLogger) Close() error {
	if s.writer == nil {
		return nil
	}
	err := s.writer.Close()
	s.writer = nil
	return err
}
