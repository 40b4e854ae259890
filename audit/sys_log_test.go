//go:build !windows && !plan9

package audit

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordedLine is one message handed to the syslog writer.
type recordedLine struct {
	severity string
	message  string
}

type fakeSyslogWriter struct {
	lines  []recordedLine
	closed int
}

func (w *fakeSyslogWriter) record(severity, m string) error {
	w.lines = append(w.lines, recordedLine{severity, m})
	return nil
}

func (w *fakeSyslogWriter) Err(m string) error     { return w.record("err", m) }
func (w *fakeSyslogWriter) Warning(m string) error { return w.record("warning", m) }
func (w *fakeSyslogWriter) Notice(m string) error  { return w.record("notice", m) }
func (w *fakeSyslogWriter) Info(m string) error    { return w.record("info", m) }

func (w *fakeSyslogWriter) Close() error {
	w.closed++
	return nil
}

func TestSyslogLoggerSeverity(t *testing.T) {
	w := &fakeSyslogWriter{}
	logger := newSyslogLogger(&Config{Enabled: true, VaultID: "usb-1"}, w)

	require.NoError(t, logger.Log(ActionDocumentOpened, true, map[string]interface{}{"document": "a.pdf"}))
	require.NoError(t, logger.Log(ActionDocumentOverwritten, true, map[string]interface{}{"document": "a.pdf"}))
	require.NoError(t, logger.Log(ActionLedgerSaved, false, nil))
	require.NoError(t, logger.Log(ActionPageDecryptFailed, false, map[string]interface{}{"error": "authentication failed"}))

	require.Len(t, w.lines, 4)
	var severities []string
	for _, l := range w.lines {
		severities = append(severities, l.severity)
	}
	assert.Equal(t, []string{"info", "notice", "warning", "err"}, severities)

	first := w.lines[0].message
	require.True(t, strings.HasPrefix(first, syslogPrefix))
	var event Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(first, syslogPrefix)), &event))
	assert.Equal(t, ActionDocumentOpened, event.Action)
	assert.Equal(t, "a.pdf", event.DocumentKey)
	assert.Equal(t, "usb-1", event.VaultID)
	assert.Equal(t, "vault", event.Source)
}

func TestSyslogLoggerLevelFiltersRoutineEvents(t *testing.T) {
	w := &fakeSyslogWriter{}
	logger := newSyslogLogger(&Config{Enabled: true, LogLevel: "error"}, w)

	require.NoError(t, logger.Log(ActionDocumentOpened, true, nil))
	require.NoError(t, logger.Log(ActionDocumentReset, true, nil))
	require.NoError(t, logger.Log(ActionDocumentRefused, false, nil))

	require.Len(t, w.lines, 2)
	assert.Equal(t, "notice", w.lines[0].severity)
	assert.Equal(t, "warning", w.lines[1].severity)
}

func TestSyslogLoggerDisabled(t *testing.T) {
	w := &fakeSyslogWriter{}
	logger := newSyslogLogger(&Config{Enabled: false}, w)
	require.NoError(t, logger.Log(ActionDocumentOpened, true, nil))
	assert.Empty(t, w.lines)
}

func TestSyslogLoggerQueryAndClose(t *testing.T) {
	w := &fakeSyslogWriter{}
	logger := newSyslogLogger(&Config{Enabled: true}, w)

	result, err := logger.Query(QueryOptions{})
	assert.Error(t, err)
	assert.Empty(t, result.Events)

	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())
	assert.Equal(t, 1, w.closed)
	assert.Error(t, logger.Log(ActionDocumentOpened, true, nil), "closed logger")
}

func TestNewSyslogLogger(t *testing.T) {
	_, err := NewSyslogLogger(nil)
	assert.Error(t, err)

	_, err = NewSyslogLogger(&Config{Enabled: true, Options: map[string]interface{}{"facility": "kern2"}})
	assert.ErrorContains(t, err, "facility")

	logger, err := NewSyslogLogger(&Config{Enabled: true, Type: SyslogAuditType})
	if err != nil {
		t.Skipf("no local syslog daemon: %v", err)
	}
	defer logger.Close()
	assert.NoError(t, logger.Log(ActionVaultOpened, true, map[string]interface{}{"store": "filesystem"}))
}
