package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"

	pdfsecure "github.com/essamgouda97/pdf-secure"
	"github.com/essamgouda97/pdf-secure/audit"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func sampleEntries() []pdfsecure.DocumentEntry {
	return []pdfsecure.DocumentEntry{
		{Key: "contract.pdf", Name: "contract.pdf", OpenCount: 1, MaxOpenCount: 3, PageCount: 12, CanOpen: true},
		{Key: "notes.pdf", Name: "notes.pdf", OpenCount: 3, MaxOpenCount: 2, PageCount: 1, CanOpen: false},
	}
}

func sampleEvents() []audit.Event {
	return []audit.Event{
		{
			ID:          "e1",
			Timestamp:   time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
			Action:      audit.ActionDocumentOpened,
			Success:     true,
			DocumentKey: "contract.pdf",
		},
		{
			ID:          "e2",
			Timestamp:   time.Date(2024, 3, 1, 10, 5, 0, 0, time.UTC),
			Action:      audit.ActionDocumentRefused,
			Success:     false,
			Error:       "open limit reached",
			DocumentKey: "notes.pdf",
		},
	}
}

func TestRenderDocumentList(t *testing.T) {
	g := newGoldie(t)

	var buf bytes.Buffer
	require.NoError(t, renderDocumentList(&buf, sampleEntries()))
	g.Assert(t, "document_list", buf.Bytes())

	buf.Reset()
	require.NoError(t, renderDocumentList(&buf, nil))
	g.Assert(t, "document_list_empty", buf.Bytes())
}

func TestRenderStatus(t *testing.T) {
	g := newGoldie(t)

	tests := []struct {
		golden string
		status pdfsecure.Status
	}{
		{
			golden: "status",
			status: pdfsecure.Status{
				StoreType: "filesystem", DeviceID: "USB-1234", MemoryProtection: "Full",
				LedgerExists: true, DeviceMatches: true, Documents: 2, Pages: 13,
			},
		},
		{
			golden: "status_foreign",
			status: pdfsecure.Status{
				StoreType: "filesystem", DeviceID: "USB-9999", MemoryProtection: "Partial",
				LedgerExists: true, DeviceMatches: false, Documents: 2, Pages: 13,
			},
		},
		{
			golden: "status_empty",
			status: pdfsecure.Status{
				StoreType: "filesystem", DeviceID: "USB-1234", MemoryProtection: "Full",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.golden, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, renderStatus(&buf, &tt.status, "/media/usb/vault"))
			g.Assert(t, tt.golden, buf.Bytes())
		})
	}
}

func TestDisplayAuditEvents(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, displayAuditEvents(&buf, sampleEvents(), false))
	newGoldie(t).Assert(t, "audit_events", buf.Bytes())
}

func TestDisplayAuditSummary(t *testing.T) {
	summary := summarizeAuditEvents(sampleEvents())
	require.Equal(t, 1, summary.Opens)
	require.Equal(t, 1, summary.Refusals)

	var buf bytes.Buffer
	require.NoError(t, displayAuditSummary(&buf, summary))
	newGoldie(t).Assert(t, "audit_summary", buf.Bytes())
}
