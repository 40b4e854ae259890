package pdfsecure

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(pages int, maxOpen int) *DocumentRecord {
	geometry := make([]PageGeometry, pages)
	for i := range geometry {
		geometry[i] = PageGeometry{Width: 10, Height: 14}
	}
	return &DocumentRecord{
		OpenCount:    1,
		MaxOpenCount: maxOpen,
		PageCount:    pages,
		Pages:        geometry,
		RegisteredAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestDocumentRecordValidate(t *testing.T) {
	assert.NoError(t, testRecord(3, 2).Validate())

	tests := map[string]func(r *DocumentRecord){
		"NoPages":          func(r *DocumentRecord) { r.PageCount, r.Pages = 0, nil },
		"GeometryMismatch": func(r *DocumentRecord) { r.Pages = r.Pages[:1] },
		"EmptyGeometry":    func(r *DocumentRecord) { r.Pages[1] = PageGeometry{} },
		"NegativeMax":      func(r *DocumentRecord) { r.MaxOpenCount = -1 },
		"NegativeCount":    func(r *DocumentRecord) { r.OpenCount = -1 },
		"BadGeneration":    func(r *DocumentRecord) { r.Generation = "../pages" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			r := testRecord(3, 2)
			mutate(r)
			assert.Error(t, r.Validate())
		})
	}
}

func TestOpenCountPolicy(t *testing.T) {
	l := NewLedger(testDeviceID)
	require.NoError(t, l.Register("report.pdf", testRecord(3, 2)))

	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	var allowed []bool
	for i := 0; i < 3; i++ {
		ok, err := l.CanOpen("report.pdf")
		require.NoError(t, err)
		allowed = append(allowed, ok)
		if ok {
			require.NoError(t, l.RecordOpen("report.pdf", now))
		}
	}
	// registration counts as the first open, so max 2 grants two views
	assert.Equal(t, []bool{true, true, false}, allowed)

	rec, _ := l.Document("report.pdf")
	assert.Equal(t, 3, rec.OpenCount)
	assert.Equal(t, now, rec.LastOpenedAt)
}

func TestZeroMaxNeverOpens(t *testing.T) {
	l := NewLedger(testDeviceID)
	require.NoError(t, l.Register("locked.pdf", testRecord(1, 0)))
	ok, err := l.CanOpen("locked.pdf")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLedgerUnknownDocument(t *testing.T) {
	l := NewLedger(testDeviceID)
	_, err := l.CanOpen("missing.pdf")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	assert.ErrorIs(t, l.RecordOpen("missing.pdf", time.Now()), ErrDocumentNotFound)
	assert.ErrorIs(t, l.Reset("missing.pdf", 3), ErrDocumentNotFound)
}

func TestLedgerRegisterReplaces(t *testing.T) {
	l := NewLedger(testDeviceID)
	require.NoError(t, l.Register("doc.pdf", testRecord(3, 2)))
	require.NoError(t, l.RecordOpen("doc.pdf", time.Now()))

	require.NoError(t, l.Register("doc.pdf", testRecord(1, 5)))
	rec, ok := l.Document("doc.pdf")
	require.True(t, ok)
	assert.Equal(t, 1, rec.OpenCount)
	assert.Equal(t, 5, rec.MaxOpenCount)
	assert.Equal(t, 1, rec.PageCount)

	assert.Error(t, l.Register("", testRecord(1, 1)))
	assert.Error(t, l.Register("doc.pdf", nil))
	assert.Error(t, l.Register("doc.pdf", &DocumentRecord{PageCount: 0}))
}

func TestLedgerReset(t *testing.T) {
	l := NewLedger(testDeviceID)
	require.NoError(t, l.Register("doc.pdf", testRecord(1, 2)))
	for i := 0; i < 4; i++ {
		require.NoError(t, l.RecordOpen("doc.pdf", time.Now()))
	}

	require.NoError(t, l.Reset("doc.pdf", -1))
	rec, _ := l.Document("doc.pdf")
	assert.Equal(t, 1, rec.OpenCount)
	assert.Equal(t, 2, rec.MaxOpenCount)

	require.NoError(t, l.Reset("doc.pdf", 7))
	assert.Equal(t, 7, rec.MaxOpenCount)
}

func TestLedgerVerifyDevice(t *testing.T) {
	l := NewLedger("device-a")
	assert.NoError(t, l.VerifyDevice("device-a"))

	err := l.VerifyDevice("device-b")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDeviceMismatch)
	var mismatch *DeviceMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "device-a", mismatch.Expected)
	assert.Equal(t, "device-b", mismatch.Actual)
	assert.True(t, IsFatal(err))
}

func TestLedgerKeysSorted(t *testing.T) {
	l := NewLedger(testDeviceID)
	for _, k := range []string{"zeta.pdf", "Alpha.pdf", "beta.pdf"} {
		require.NoError(t, l.Register(k, testRecord(1, 1)))
	}
	assert.Equal(t, []string{"Alpha.pdf", "beta.pdf", "zeta.pdf"}, l.Keys())
}

func TestLedgerJSONShape(t *testing.T) {
	l := NewLedger(testDeviceID)
	require.NoError(t, l.Register("doc.pdf", testRecord(2, 3)))

	raw, err := json.Marshal(l)
	require.NoError(t, err)

	var decoded Ledger
	require.NoError(t, json.Unmarshal(raw, &decoded))
	if diff := cmp.Diff(l, &decoded); diff != "" {
		t.Errorf("ledger changed through JSON (-want +got):\n%s", diff)
	}

	var generic map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &generic))
	doc := generic["documents"].(map[string]interface{})["doc.pdf"].(map[string]interface{})
	assert.Equal(t, []interface{}{[]interface{}{10.0, 14.0}, []interface{}{10.0, 14.0}}, doc["page_geometry"])
	assert.Equal(t, 1.0, doc["open_count"])
	assert.Equal(t, 3.0, doc["max_open_count"])
}

func TestLedgerValidate(t *testing.T) {
	assert.NoError(t, NewLedger(testDeviceID).Validate())
	assert.Error(t, NewLedger("").Validate())

	l := NewLedger(testDeviceID)
	l.Version = 99
	assert.Error(t, l.Validate())

	l = NewLedger(testDeviceID)
	l.Documents["bad.pdf"] = &DocumentRecord{PageCount: 2}
	assert.Error(t, l.Validate())
}
