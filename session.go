package pdfsecure

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/essamgouda97/pdf-secure/audit"
	"github.com/google/uuid"
)

// State is the position of a Session in its listing/viewing cycle.
type State int

const (
	StateListing State = iota
	StateViewing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateListing:
		return "listing"
	case StateViewing:
		return "viewing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Intent is a navigation request from the display.
type Intent int

const (
	IntentNext Intent = iota
	IntentPrevious
	IntentExit
)

// DocumentEntry is one row of the document listing.
type DocumentEntry struct {
	Key          string
	Name         string
	OpenCount    int
	MaxOpenCount int
	PageCount    int
	CanOpen      bool
}

// Selector picks a document from the listing. exit reports that the user
// asked to leave.
type Selector interface {
	Select(ctx context.Context, entries []DocumentEntry) (docKey string, exit bool, err error)
}

// Display shows decrypted pages and reports navigation.
type Display interface {
	Show(img *RasterImage, title string) error
	Next(ctx context.Context) (Intent, error)
	Notify(msg string)
}

// Session lets one user browse and view registered documents.
type Session struct {
	id      string
	ledger  *Ledger
	ledgers *LedgerStore
	pages   *PageStore
	audit   audit.Logger
	now     func() time.Time

	mu    sync.Mutex
	state State
}

func newSession(ledger *Ledger, ledgers *LedgerStore, pages *PageStore, logger audit.Logger) *Session {
	return &Session{
		id:      uuid.NewString(),
		ledger:  ledger,
		ledgers: ledgers,
		pages:   pages,
		audit:   logger,
		now:     time.Now,
		state:   StateListing,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Documents returns the listing in key order.
func (s *Session) Documents() []DocumentEntry {
	keys := s.ledger.Keys()
	entries := make([]DocumentEntry, 0, len(keys))
	for _, key := range keys {
		rec, _ := s.ledger.Document(key)
		entries = append(entries, DocumentEntry{
			Key:          key,
			Name:         DisplayName(key),
			OpenCount:    rec.OpenCount,
			MaxOpenCount: rec.MaxOpenCount,
			PageCount:    rec.PageCount,
			CanOpen:      rec.CanOpen(),
		})
	}
	return entries
}

// Open starts viewing docKey. The open is counted when the returned Viewer
// is closed, not here.
func (s *Session) Open(docKey string) (*Viewer, error) {
	if s.State() == StateClosed {
		return nil, errors.New("session is closed")
	}

	rec, ok := s.ledger.Document(docKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, docKey)
	}

	if !rec.CanOpen() {
		logAudit(s.audit, audit.ActionDocumentRefused, false, map[string]interface{}{
			"document":       docKey,
			"open_count":     rec.OpenCount,
			"max_open_count": rec.MaxOpenCount,
			"session_id":     s.id,
		})
		return nil, fmt.Errorf("%w: %s", ErrOpenLimitReached, docKey)
	}

	logAudit(s.audit, audit.ActionDocumentOpened, true, map[string]interface{}{
		"document":   docKey,
		"open_count": rec.OpenCount,
		"session_id": s.id,
	})

	s.setState(StateViewing)
	return &Viewer{session: s, docKey: docKey, record: rec}, nil
}

// Run drives listing and viewing until the selector exits, ctx is done or a
// fatal error occurs. A viewer that was opened is always closed before Run
// returns.
func (s *Session) Run(ctx context.Context, selector Selector, display Display) error {
	for {
		if err := ctx.Err(); err != nil {
			s.setState(StateClosed)
			return nil
		}
		s.setState(StateListing)

		docKey, exit, err := selector.Select(ctx, s.Documents())
		if err != nil {
			if ctx.Err() != nil {
				s.setState(StateClosed)
				return nil
			}
			return fmt.Errorf("failed to select document: %w", err)
		}
		if exit {
			s.setState(StateClosed)
			return nil
		}

		viewer, err := s.Open(docKey)
		switch {
		case errors.Is(err, ErrOpenLimitReached):
			display.Notify(fmt.Sprintf("%s can't be opened anymore", DisplayName(docKey)))
			continue
		case errors.Is(err, ErrDocumentNotFound):
			display.Notify(fmt.Sprintf("%s is not registered", DisplayName(docKey)))
			continue
		case err != nil:
			return err
		}

		stop, viewErr := s.view(ctx, viewer, display)
		if closeErr := viewer.Close(); closeErr != nil {
			return combineErrors(viewErr, closeErr)
		}

		if viewErr != nil {
			if IsFatal(viewErr) || !errors.Is(viewErr, ErrPageNotFound) {
				return viewErr
			}
			display.Notify(fmt.Sprintf("%s is incomplete: %v", DisplayName(docKey), viewErr))
		}
		if stop {
			s.setState(StateClosed)
			return nil
		}
	}
}

// view pages through one document. stop reports that the whole session
// should end rather than return to the listing.
func (s *Session) view(ctx context.Context, viewer *Viewer, display Display) (stop bool, err error) {
	show := func() error {
		img, err := viewer.Current()
		if err != nil {
			return err
		}
		return display.Show(img, viewer.Title())
	}

	if err = show(); err != nil {
		return false, err
	}

	for {
		intent, err := display.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return false, fmt.Errorf("display failed: %w", err)
		}

		var moved bool
		switch intent {
		case IntentExit:
			return false, nil
		case IntentNext:
			moved, err = viewer.Next()
		case IntentPrevious:
			moved, err = viewer.Previous()
		}
		if err != nil {
			return false, err
		}
		if moved {
			if err = show(); err != nil {
				return false, err
			}
		}
	}
}

// Close ends the session. It does not commit any open Viewer; Run does that.
func (s *Session) Close() error {
	s.setState(StateClosed)
	return nil
}

// Viewer walks the pages of one opened document.
type Viewer struct {
	session *Session
	docKey  string
	record  *DocumentRecord
	index   int
	closed  bool
}

func (v *Viewer) DocumentKey() string { return v.docKey }
func (v *Viewer) Index() int          { return v.index }
func (v *Viewer) PageCount() int      { return v.record.PageCount }

// Title is the window caption for the current page, counted from one.
func (v *Viewer) Title() string {
	return fmt.Sprintf("Page %d/%d", v.index+1, v.record.PageCount)
}

// Current decrypts the page at Index.
func (v *Viewer) Current() (*RasterImage, error) {
	if v.closed {
		return nil, errors.New("viewer is closed")
	}
	img, err := v.session.pages.LoadPage(v.docKey, v.record.Generation, v.index, v.record.Pages[v.index])
	if err != nil {
		if errors.Is(err, ErrAuthentication) || errors.Is(err, ErrCorruptPage) {
			logAudit(v.session.audit, audit.ActionPageDecryptFailed, false, map[string]interface{}{
				"document":   v.docKey,
				"page":       v.index,
				"error":      err.Error(),
				"session_id": v.session.id,
			})
		}
		return nil, err
	}
	return img, nil
}

// Next moves forward one page. It reports false at the last page.
func (v *Viewer) Next() (bool, error) {
	if v.closed {
		return false, errors.New("viewer is closed")
	}
	if v.index+1 >= v.record.PageCount {
		return false, nil
	}
	v.index++
	return true, nil
}

// Previous moves back one page. It reports false at the first page.
func (v *Viewer) Previous() (bool, error) {
	if v.closed {
		return false, errors.New("viewer is closed")
	}
	if v.index == 0 {
		return false, nil
	}
	v.index--
	return true, nil
}

// Close counts the open and persists the ledger. Later calls do nothing.
func (v *Viewer) Close() error {
	if v.closed {
		return nil
	}
	v.closed = true

	s := v.session
	defer s.setState(StateListing)

	if err := s.ledger.RecordOpen(v.docKey, s.now().UTC()); err != nil {
		return err
	}
	if err := saveLedger(s.ledgers, s.ledger, s.audit, v.docKey); err != nil {
		return fmt.Errorf("failed to record open of %s: %w", v.docKey, err)
	}

	logAudit(s.audit, audit.ActionDocumentClosed, true, map[string]interface{}{
		"document":   v.docKey,
		"open_count": v.record.OpenCount,
		"session_id": s.id,
	})
	return nil
}
