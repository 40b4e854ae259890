package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLoggerImplementation runs the shared behaviour checks against a backend.
func testLoggerImplementation(t *testing.T, logger Logger) {
	start := time.Now().UTC().Add(-time.Second)

	entries := []struct {
		action   string
		success  bool
		metadata map[string]interface{}
	}{
		{ActionVaultOpened, true, map[string]interface{}{"store": "filesystem"}},
		{ActionDocumentOpened, true, map[string]interface{}{"document": "report.pdf", "open_count": 2}},
		{ActionDocumentRefused, false, map[string]interface{}{"document": "report.pdf", "error": "open limit reached"}},
		{ActionDocumentOpened, true, map[string]interface{}{"document": "notes.pdf"}},
	}
	for _, e := range entries {
		require.NoError(t, logger.Log(e.action, e.success, e.metadata))
		time.Sleep(2 * time.Millisecond)
	}

	t.Run("All", func(t *testing.T) {
		result, err := logger.Query(QueryOptions{})
		require.NoError(t, err)
		require.Len(t, result.Events, 4)
		assert.Equal(t, 4, result.TotalCount)
		assert.Equal(t, ActionDocumentOpened, result.Events[0].Action, "newest first")
		assert.Equal(t, "notes.pdf", result.Events[0].DocumentKey)
		assert.Equal(t, ActionVaultOpened, result.Events[3].Action)
		assert.Equal(t, "filesystem", result.Events[3].Metadata["store"])
		for _, e := range result.Events {
			assert.NotEmpty(t, e.ID)
			assert.Equal(t, "usb-1", e.VaultID)
		}
	})

	t.Run("ByDocument", func(t *testing.T) {
		result, err := logger.Query(QueryOptions{DocumentKey: "report.pdf"})
		require.NoError(t, err)
		require.Len(t, result.Events, 2)
		assert.Equal(t, "open limit reached", result.Events[0].Error)
		assert.False(t, result.Events[0].Success)
	})

	t.Run("FailuresOnly", func(t *testing.T) {
		failed := false
		result, err := logger.Query(QueryOptions{Success: &failed})
		require.NoError(t, err)
		require.Len(t, result.Events, 1)
		assert.Equal(t, ActionDocumentRefused, result.Events[0].Action)
	})

	t.Run("SecurityOnly", func(t *testing.T) {
		result, err := logger.Query(QueryOptions{SecurityOnly: true})
		require.NoError(t, err)
		require.Len(t, result.Events, 1)
		assert.Equal(t, ActionDocumentRefused, result.Events[0].Action)
	})

	t.Run("ActionAndPaging", func(t *testing.T) {
		result, err := logger.Query(QueryOptions{Action: ActionDocumentOpened, Limit: 1})
		require.NoError(t, err)
		require.Len(t, result.Events, 1)
		assert.True(t, result.HasMore)
		assert.Equal(t, "notes.pdf", result.Events[0].DocumentKey)

		result, err = logger.Query(QueryOptions{Action: ActionDocumentOpened, Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, result.Events, 1)
		assert.False(t, result.HasMore)
		assert.Equal(t, "report.pdf", result.Events[0].DocumentKey)
	})

	t.Run("TimeRange", func(t *testing.T) {
		result, err := logger.Query(QueryOptions{Since: &start})
		require.NoError(t, err)
		assert.Len(t, result.Events, 4)

		future := time.Now().UTC().Add(time.Hour)
		result, err = logger.Query(QueryOptions{Since: &future})
		require.NoError(t, err)
		assert.Empty(t, result.Events)
	})
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(nil)
	require.NoError(t, err)
	assert.IsType(t, &NoOpLogger{}, logger)

	logger, err = NewLogger(&Config{Enabled: false, Type: FileAuditType})
	require.NoError(t, err)
	assert.IsType(t, &NoOpLogger{}, logger)

	logger, err = NewLogger(&Config{
		Enabled: true,
		Type:    FileAuditType,
		Options: map[string]interface{}{"file_path": filepath.Join(t.TempDir(), "audit.log")},
	})
	require.NoError(t, err)
	assert.IsType(t, &FileLogger{}, logger)
	require.NoError(t, logger.Close())

	_, err = NewLogger(&Config{Enabled: true, Type: "kafka"})
	assert.Error(t, err)

	_, err = NewLogger(&Config{Enabled: true, Type: FileAuditType})
	assert.Error(t, err, "file logger needs a path")
}

func TestNewEventLiftsKnownMetadata(t *testing.T) {
	event := newEvent("v", "command_complete", true, map[string]interface{}{
		"document":    "a.pdf",
		"command":     "view",
		"session_id":  "s-1",
		"duration_ms": int64(42),
		"pages":       3,
	})

	assert.Equal(t, "a.pdf", event.DocumentKey)
	assert.Equal(t, "view", event.Command)
	assert.Equal(t, "s-1", event.SessionID)
	assert.Equal(t, int64(42), event.Duration)
	assert.Equal(t, map[string]interface{}{"pages": 3}, event.Metadata)
	assert.Len(t, event.ID, 36)
}

func TestNoOpLogger(t *testing.T) {
	logger := NewNoOpLogger()
	assert.NoError(t, logger.Log(ActionVaultOpened, true, nil))
	result, err := logger.Query(QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, result.Events)
	assert.NoError(t, logger.Close())
}
