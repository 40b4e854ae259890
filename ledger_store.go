package pdfsecure

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/essamgouda97/pdf-secure/internal/debug"
	"github.com/essamgouda97/pdf-secure/persist"
)

// LedgerStore encrypts the ledger and persists it as a single object.
type LedgerStore struct {
	store persist.Store
	codec *Codec

	// version of the ledger object last read or written, used as the
	// precondition of the next save
	version string
}

func NewLedgerStore(store persist.Store, codec *Codec) *LedgerStore {
	return &LedgerStore{store: store, codec: codec}
}

func (ls *LedgerStore) Exists() (bool, error) {
	return ls.store.LedgerExists()
}

// Load reads and decrypts the ledger. A missing object is ErrLedgerMissing;
// anything that fails to decrypt, decode or validate is ErrLedgerCorrupt.
func (ls *LedgerStore) Load() (*Ledger, error) {
	exists, err := ls.store.LedgerExists()
	if err != nil {
		return nil, fmt.Errorf("failed to check ledger: %w", err)
	}
	if !exists {
		return nil, ErrLedgerMissing
	}

	versioned, err := ls.store.LoadLedger()
	if err != nil {
		if errors.Is(err, persist.ErrNotFound) {
			return nil, ErrLedgerMissing
		}
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}

	plaintext, err := ls.codec.Open(DomainLedger, versioned.Data, ledgerAAD)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLedgerCorrupt, err)
	}

	var ledger Ledger
	if err = json.Unmarshal(plaintext, &ledger); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerCorrupt, err)
	}
	if ledger.Documents == nil {
		ledger.Documents = make(map[string]*DocumentRecord)
	}
	if err = ledger.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerCorrupt, err)
	}

	ls.version = versioned.Version
	debug.Print("LedgerStore.Load: %d documents, version %s\n", len(ledger.Documents), ls.version)
	return &ledger, nil
}

// Save replaces the stored ledger atomically. It fails with a wrapped
// persist.ConcurrencyError if the object changed since the last Load or Save.
func (ls *LedgerStore) Save(ledger *Ledger) error {
	if err := ledger.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid ledger: %w", err)
	}

	plaintext, err := json.Marshal(ledger)
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	ciphertext, err := ls.codec.Seal(DomainLedger, plaintext, ledgerAAD)
	if err != nil {
		return fmt.Errorf("failed to encrypt ledger: %w", err)
	}

	newVersion, err := ls.store.SaveLedger(ciphertext, ls.version)
	if err != nil {
		var conflict persist.ConcurrencyError
		if errors.As(err, &conflict) {
			return fmt.Errorf("ledger changed underneath this session: %w", err)
		}
		return fmt.Errorf("failed to save ledger: %w", err)
	}

	ls.version = newVersion
	return nil
}
