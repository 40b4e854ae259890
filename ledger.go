package pdfsecure

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/essamgouda97/pdf-secure/internal/misc"
)

// DocumentRecord is the access policy and page layout of one registered document.
type DocumentRecord struct {
	// OpenCount starts at 1, registration counts as the first grant.
	// It only moves up, except through an explicit Reset.
	OpenCount    int            `json:"open_count"`
	MaxOpenCount int            `json:"max_open_count"`
	PageCount    int            `json:"page_count"`
	Pages        []PageGeometry `json:"page_geometry"`

	RegisteredAt time.Time `json:"registered_at"`
	LastOpenedAt time.Time `json:"last_opened_at"`
	// Source is the path the document was registered from.
	Source string `json:"source,omitempty"`
	// Generation names the page objects written by the registration that
	// produced this record.
	Generation string `json:"generation,omitempty"`
}

// Validate checks that the page geometry is dense and the policy sane.
func (r *DocumentRecord) Validate() error {
	if r.PageCount < 1 {
		return fmt.Errorf("page count must be at least 1, got %d", r.PageCount)
	}
	if len(r.Pages) != r.PageCount {
		return fmt.Errorf("page geometry has %d entries for %d pages", len(r.Pages), r.PageCount)
	}
	for i, g := range r.Pages {
		if g.Width == 0 || g.Height == 0 {
			return fmt.Errorf("page %d has empty geometry %dx%d", i, g.Width, g.Height)
		}
	}
	if r.MaxOpenCount < 0 {
		return fmt.Errorf("max open count cannot be negative")
	}
	if r.OpenCount < 0 {
		return fmt.Errorf("open count cannot be negative")
	}
	if !validGeneration(r.Generation) {
		return fmt.Errorf("invalid page generation %q", r.Generation)
	}
	return nil
}

// CanOpen reports whether one more viewing session may be granted.
func (r *DocumentRecord) CanOpen() bool {
	return r.OpenCount <= r.MaxOpenCount
}

// Ledger maps document keys to their records and binds the vault to one
// storage device. It is always loaded, mutated and saved as a whole.
type Ledger struct {
	Version   int                        `json:"version"`
	DeviceID  string                     `json:"device_id"`
	Documents map[string]*DocumentRecord `json:"documents"`
}

// NewLedger creates an empty ledger bound to deviceID.
func NewLedger(deviceID string) *Ledger {
	return &Ledger{
		Version:   misc.LedgerFormatVersion,
		DeviceID:  deviceID,
		Documents: make(map[string]*DocumentRecord),
	}
}

// VerifyDevice fails with a *DeviceMismatchError unless the ledger was
// created on the current device.
func (l *Ledger) VerifyDevice(current string) error {
	if l.DeviceID != current {
		return &DeviceMismatchError{Expected: l.DeviceID, Actual: current}
	}
	return nil
}

// Register inserts or replaces the record for docKey.
func (l *Ledger) Register(docKey string, rec *DocumentRecord) error {
	if err := validateDocumentKey(docKey); err != nil {
		return err
	}
	if rec == nil {
		return errors.New("document record cannot be nil")
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid record for %s: %w", docKey, err)
	}
	if l.Documents == nil {
		l.Documents = make(map[string]*DocumentRecord)
	}
	l.Documents[docKey] = rec
	return nil
}

// Document returns the record for docKey.
func (l *Ledger) Document(docKey string) (*DocumentRecord, bool) {
	rec, ok := l.Documents[docKey]
	return rec, ok
}

// RecordOpen counts one more completed viewing session.
func (l *Ledger) RecordOpen(docKey string, now time.Time) error {
	rec, ok := l.Documents[docKey]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, docKey)
	}
	rec.OpenCount++
	rec.LastOpenedAt = now.UTC()
	return nil
}

func (l *Ledger) CanOpen(docKey string) (bool, error) {
	rec, ok := l.Documents[docKey]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrDocumentNotFound, docKey)
	}
	return rec.CanOpen(), nil
}

// Keys returns the document keys in listing order.
func (l *Ledger) Keys() []string {
	keys := make([]string, 0, len(l.Documents))
	for k := range l.Documents {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reset puts a document back to its freshly registered open count. A
// negative newMax keeps the current ceiling.
func (l *Ledger) Reset(docKey string, newMax int) error {
	rec, ok := l.Documents[docKey]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, docKey)
	}
	rec.OpenCount = 1
	if newMax >= 0 {
		rec.MaxOpenCount = newMax
	}
	return nil
}

// Validate checks every record, it runs on each load.
func (l *Ledger) Validate() error {
	if l.Version < 1 || l.Version > misc.LedgerFormatVersion {
		return fmt.Errorf("unsupported ledger version %d", l.Version)
	}
	if l.DeviceID == "" {
		return errors.New("ledger has no device id")
	}
	for key, rec := range l.Documents {
		if rec == nil {
			return fmt.Errorf("document %s has no record", key)
		}
		if err := rec.Validate(); err != nil {
			return fmt.Errorf("document %s: %w", key, err)
		}
	}
	return nil
}
