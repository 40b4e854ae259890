package pdfsecure

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/essamgouda97/pdf-secure/audit"
	"github.com/essamgouda97/pdf-secure/internal/crypto"
	"github.com/essamgouda97/pdf-secure/internal/debug"
	"github.com/essamgouda97/pdf-secure/internal/mem"
	"github.com/essamgouda97/pdf-secure/persist"
)

// Initialize memguard before any key material is handled so an interrupt
// wipes the enclaves.
func init() {
	memguard.CatchInterrupt()
}

// Vault is one opened document vault: the store holding its objects, the
// codec holding its keys, and the identity of the device it runs on.
type Vault struct {
	options Options
	store   persist.Store
	codec   *Codec
	pages   *PageStore
	ledgers *LedgerStore
	audit   audit.Logger

	deviceID              string
	memoryProtectionLevel mem.ProtectionLevel

	mu     sync.Mutex
	closed bool
}

// Status summarizes a vault for the status command.
type Status struct {
	StoreType        string
	DeviceID         string
	LedgerExists     bool
	DeviceMatches    bool
	Documents        int
	Pages            int
	MemoryProtection string
}

// NewWithStore opens a vault over store.
//
// The steps are, in order:
//  1. Validate options
//  2. Ping the store
//  3. Lock process memory (best effort)
//  4. Load or derive the master key and build the codec
//  5. Read the device identity, which is fatal if absent
//  6. Take the store's exclusive lock when it offers one
//
// A nil auditLogger is replaced with a no-op logger and a nil device with
// FileDeviceIdentity on Options.DeviceIDFile. The ledger is not read here;
// callers pick OpenLedger or LoadOrCreateLedger depending on whether a
// missing ledger is an error for them.
//
// Example:
//
//	store, _ := persist.NewFileSystemStore("/media/usb/vault")
//	v, err := pdfsecure.NewWithStore(pdfsecure.Options{KeyFile: "/media/usb/key_and_nonce.txt"}, store, nil, nil)
//	if err != nil {
//	    return err
//	}
//	defer v.Close()
func NewWithStore(options Options, store persist.Store, auditLogger audit.Logger, device DeviceIdentityProvider) (*Vault, error) {
	if err := validateOptions(options); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if auditLogger == nil {
		auditLogger = audit.NewNoOpLogger()
	}
	if device == nil {
		path := options.DeviceIDFile
		if path == "" {
			path = DefaultDeviceIDFile
		}
		device = FileDeviceIdentity{Path: path}
	}

	if err := store.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to storage backend: %w", err)
	}

	v := &Vault{
		options:               options,
		store:                 store,
		audit:                 auditLogger,
		memoryProtectionLevel: mem.ProtectionPartial,
	}

	if options.EnableMemoryLock {
		level, err := mem.Lock()
		if err != nil {
			log.Printf("WARNING: memory protection unavailable: %v", err)
		}
		v.memoryProtectionLevel = level
		if level != mem.ProtectionFull {
			log.Printf("WARNING: memory protection is %s", level)
		}
	}

	master, err := loadMasterKey(options)
	if err != nil {
		return nil, err
	}
	// NewCodec wipes master
	if v.codec, err = NewCodec(master); err != nil {
		return nil, err
	}

	if v.deviceID, err = device.DeviceID(); err != nil {
		v.codec.Destroy()
		return nil, err
	}

	if locker, ok := store.(persist.Locker); ok {
		if err = locker.Lock(options.lockTimeout()); err != nil {
			v.codec.Destroy()
			if errors.Is(err, persist.ErrLockTimeout) {
				return nil, fmt.Errorf("%w: %v", ErrVaultLocked, err)
			}
			return nil, fmt.Errorf("failed to lock vault: %w", err)
		}
	}

	if v.pages, err = NewPageStore(store, v.codec, options.PageCacheSize); err != nil {
		v.release()
		return nil, err
	}
	v.ledgers = NewLedgerStore(store, v.codec)

	logAudit(v.audit, audit.ActionVaultOpened, true, map[string]interface{}{
		"store":             store.GetType(),
		"memory_protection": v.memoryProtectionLevel.String(),
	})
	debug.Print("NewWithStore: vault opened on device %s\n", v.deviceID)
	return v, nil
}

// loadMasterKey returns the 256-bit key from the key file, or derives it from
// the passphrase.
func loadMasterKey(options Options) ([]byte, error) {
	if options.KeyFile != "" {
		key, err := crypto.LoadKeyFile(options.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load master key: %w", err)
		}
		return key, nil
	}

	passphrase := options.Passphrase
	if passphrase == "" {
		passphrase = os.Getenv(options.PassphraseEnvVar)
		if passphrase == "" {
			return nil, fmt.Errorf("environment variable %s is empty", options.PassphraseEnvVar)
		}
	}
	key, err := crypto.DeriveKeyFromPassphrase(passphrase, options.PassphraseSalt)
	if err != nil {
		return nil, fmt.Errorf("failed to derive master key: %w", err)
	}
	return key, nil
}

// DeviceID is the identity of the device this vault was opened on.
func (v *Vault) DeviceID() string {
	return v.deviceID
}

// OpenLedger loads the ledger and checks it belongs to this device. Viewing
// must go through here, a missing ledger is ErrLedgerMissing.
func (v *Vault) OpenLedger() (*Ledger, error) {
	if err := v.checkOpen(); err != nil {
		return nil, err
	}

	ledger, err := v.ledgers.Load()
	if err != nil {
		return nil, err
	}

	if err = ledger.VerifyDevice(v.deviceID); err != nil {
		logAudit(v.audit, audit.ActionDeviceMismatch, false, map[string]interface{}{
			"expected": ledger.DeviceID,
			"actual":   v.deviceID,
		})
		return nil, err
	}
	return ledger, nil
}

// LoadOrCreateLedger is OpenLedger for registration: a missing ledger is
// created empty and bound to this device. It is not saved until something
// is registered.
func (v *Vault) LoadOrCreateLedger() (*Ledger, error) {
	ledger, err := v.OpenLedger()
	if errors.Is(err, ErrLedgerMissing) {
		logAudit(v.audit, audit.ActionLedgerCreated, true, map[string]interface{}{
			"device_id": v.deviceID,
		})
		return NewLedger(v.deviceID), nil
	}
	return ledger, err
}

// Registrar returns a registration pipeline writing into this vault.
func (v *Vault) Registrar(rasterizer Rasterizer, prompter PolicyPrompter) (*Registrar, error) {
	if rasterizer == nil || prompter == nil {
		return nil, errors.New("rasterizer and prompter are required")
	}
	ledger, err := v.LoadOrCreateLedger()
	if err != nil {
		return nil, err
	}
	return &Registrar{
		intakeDir:  v.options.IntakeDir,
		ext:        v.options.documentExt(),
		ledger:     ledger,
		ledgers:    v.ledgers,
		pages:      v.pages,
		rasterizer: rasterizer,
		prompter:   prompter,
		audit:      v.audit,
		now:        time.Now,
	}, nil
}

// NewSession loads the ledger for viewing.
func (v *Vault) NewSession() (*Session, error) {
	ledger, err := v.OpenLedger()
	if err != nil {
		return nil, err
	}
	return newSession(ledger, v.ledgers, v.pages, v.audit), nil
}

// Status reports on the vault without failing on a foreign ledger.
func (v *Vault) Status() (*Status, error) {
	if err := v.checkOpen(); err != nil {
		return nil, err
	}

	status := &Status{
		StoreType:        v.store.GetType(),
		DeviceID:         v.deviceID,
		MemoryProtection: v.memoryProtectionLevel.String(),
	}

	pages, err := v.store.ListPages()
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	status.Pages = len(pages)

	ledger, err := v.ledgers.Load()
	switch {
	case errors.Is(err, ErrLedgerMissing):
		return status, nil
	case err != nil:
		return nil, err
	}
	status.LedgerExists = true
	status.DeviceMatches = ledger.VerifyDevice(v.deviceID) == nil
	status.Documents = len(ledger.Documents)
	return status, nil
}

// ResetDocument restores a document's open count to 1. A negative maxOpen
// keeps its current ceiling.
func (v *Vault) ResetDocument(docKey string, maxOpen int) error {
	ledger, err := v.OpenLedger()
	if err != nil {
		return err
	}

	rec, ok := ledger.Document(docKey)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDocumentNotFound, docKey)
	}
	previous := rec.OpenCount

	if err = ledger.Reset(docKey, maxOpen); err != nil {
		return err
	}
	if err = saveLedger(v.ledgers, ledger, v.audit, docKey); err != nil {
		return err
	}

	logAudit(v.audit, audit.ActionDocumentReset, true, map[string]interface{}{
		"document":            docKey,
		"previous_open_count": previous,
		"max_open_count":      rec.MaxOpenCount,
	})
	return nil
}

// Close drops the keys and cached pages and releases the store. The audit
// logger belongs to the caller and stays open.
func (v *Vault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil
	}
	v.closed = true

	err := v.release()
	logAudit(v.audit, audit.ActionVaultClosed, err == nil, map[string]interface{}{
		"error": errString(err),
	})
	return err
}

func (v *Vault) release() error {
	var errs []error
	if v.pages != nil {
		v.pages.Purge()
	}
	if v.codec != nil {
		v.codec.Destroy()
	}
	if err := v.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close store: %w", err))
	}
	if v.options.EnableMemoryLock && v.memoryProtectionLevel == mem.ProtectionFull {
		if err := mem.Unlock(); err != nil {
			errs = append(errs, err)
		}
	}
	return combineErrors(errs...)
}

func (v *Vault) checkOpen() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return errors.New("vault is closed")
	}
	return nil
}

// saveLedger persists ledger and records the save in the audit trail.
func saveLedger(ledgers *LedgerStore, ledger *Ledger, logger audit.Logger, docKey string) error {
	err := ledgers.Save(ledger)
	logAudit(logger, audit.ActionLedgerSaved, err == nil, map[string]interface{}{
		"document":  docKey,
		"documents": len(ledger.Documents),
		"error":     errString(err),
	})
	return err
}

func logAudit(logger audit.Logger, action string, success bool, metadata map[string]interface{}) {
	if logger == nil {
		return
	}
	if err := logger.Log(action, success, metadata); err != nil {
		log.Printf("ERROR: audit logging failed for action %s: %v", action, err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
