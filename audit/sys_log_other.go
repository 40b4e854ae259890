//go:build windows || plan9

package audit

import "errors"

// SyslogLogger is unavailable on this platform.
type SyslogLogger struct{ NoOpLogger }

func NewSyslogLogger(config *Config) (*SyslogLogger, error) {
	return nil, errors.New("syslog audit logging is not supported on this platform")
}
