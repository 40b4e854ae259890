package persist

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/essamgouda97/pdf-secure/internal/debug"
	"github.com/essamgouda97/pdf-secure/internal/misc"
	"github.com/natefinch/atomic"
)

// FileSystemStore implements Store for a local directory with optimistic
// concurrency control on the ledger and an advisory lock for writers.
//
// Layout:
//
//	basePath/
//	  vault.json   plaintext bookkeeping
//	  ledger.enc   encrypted ledger
//	  ledger.lock  flock target
//	  pages/       one encrypted object per page
type FileSystemStore struct {
	basePath    string
	pagesDir    string // basePath/pages/
	ledgerPath  string // basePath/ledger.enc
	lockPath    string // basePath/ledger.lock
	vaultConfig string // basePath/vault.json

	mu   sync.Mutex
	lock *fileLock
}

// NewFileSystemStore initializes and returns a new instance of FileSystemStore
func NewFileSystemStore(basePath string) (*FileSystemStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}

	fs := &FileSystemStore{
		basePath:    basePath,
		pagesDir:    filepath.Join(basePath, pagesDirName),
		ledgerPath:  filepath.Join(basePath, ledgerObjectName),
		lockPath:    filepath.Join(basePath, "ledger.lock"),
		vaultConfig: filepath.Join(basePath, configObjectName),
	}

	for _, dir := range []string{fs.basePath, fs.pagesDir} {
		if err := os.MkdirAll(dir, misc.DirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	if err := fs.initializeVaultConfig(); err != nil {
		return nil, fmt.Errorf("failed to initialize vault config: %w", err)
	}

	return fs, nil
}

// NewFileSystemStoreFromConfig creates a FileSystemStore from StoreConfig
func NewFileSystemStoreFromConfig(config StoreConfig) (*FileSystemStore, error) {
	basePath, ok := config.Config["base_path"].(string)
	if !ok {
		return nil, fmt.Errorf("base_path is required for filesystem store")
	}
	return NewFileSystemStore(basePath)
}

func (fs *FileSystemStore) initializeVaultConfig() error {
	if _, err := os.Stat(fs.vaultConfig); errors.Is(err, os.ErrNotExist) {
		config := vaultConfig{
			Version:    "1.0.0",
			CreatedAt:  time.Now().UTC(),
			LastAccess: time.Now().UTC(),
			Structure:  "v1",
		}

		data, err := json.MarshalIndent(config, "", "  ")
		if err != nil {
			return err
		}

		return writeSecureFile(fs.vaultConfig, data)
	}
	return nil
}

// SaveLedger with optimistic concurrency control
func (fs *FileSystemStore) SaveLedger(encryptedLedger []byte, expectedVersion string) (string, error) {
	if encryptedLedger == nil {
		return "", fmt.Errorf("ledger cannot be nil")
	}

	if expectedVersion != "" {
		currentVersion, err := fs.getFileVersion(fs.ledgerPath)
		if err != nil {
			return "", fmt.Errorf("failed to check current version: %w", err)
		}
		if currentVersion != expectedVersion {
			return "", ConcurrencyError{
				ExpectedVersion: expectedVersion,
				ActualVersion:   currentVersion,
				Operation:       "SaveLedger",
			}
		}
	}

	if err := writeSecureFile(fs.ledgerPath, encryptedLedger); err != nil {
		return "", err
	}

	debug.Print("SaveLedger: wrote %d bytes to %s\n", len(encryptedLedger), fs.ledgerPath)
	return calculateFileVersion(encryptedLedger), nil
}

// LoadLedger returns the versioned ledger ciphertext
func (fs *FileSystemStore) LoadLedger() (*VersionedData, error) {
	fileInfo, err := os.Stat(fs.ledgerPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("ledger: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to stat ledger: %w", err)
	}

	data, err := os.ReadFile(fs.ledgerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}

	return &VersionedData{
		Data:      data,
		Version:   calculateFileVersion(data),
		Timestamp: fileInfo.ModTime(),
	}, nil
}

func (fs *FileSystemStore) LedgerExists() (bool, error) {
	return fileExists(fs.ledgerPath)
}

func (fs *FileSystemStore) SavePage(name string, encryptedPage []byte) error {
	if err := validateObjectName(name); err != nil {
		return err
	}
	if err := writeSecureFile(filepath.Join(fs.pagesDir, name), encryptedPage); err != nil {
		return fmt.Errorf("failed to save page %s: %w", name, err)
	}
	return nil
}

func (fs *FileSystemStore) LoadPage(name string) ([]byte, error) {
	if err := validateObjectName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(fs.pagesDir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("page %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load page %s: %w", name, err)
	}
	return data, nil
}

func (fs *FileSystemStore) PageExists(name string) (bool, error) {
	if err := validateObjectName(name); err != nil {
		return false, err
	}
	return fileExists(filepath.Join(fs.pagesDir, name))
}

func (fs *FileSystemStore) DeletePage(name string) error {
	if err := validateObjectName(name); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(fs.pagesDir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete page %s: %w", name, err)
	}
	return nil
}

func (fs *FileSystemStore) ListPages() ([]string, error) {
	entries, err := os.ReadDir(fs.pagesDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read pages directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !entry.Type().IsRegular() {
			continue
		}
		// skips temp files left by an interrupted write
		if !strings.HasSuffix(entry.Name(), pageObjectSuffix) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Lock takes the exclusive advisory lock guarding ledger read-modify-write
// cycles. It is held until Unlock or Close.
func (fs *FileSystemStore) Lock(timeout time.Duration) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.lock != nil {
		return nil
	}

	l, err := acquireLock(fs.lockPath, timeout)
	if err != nil {
		return err
	}
	fs.lock = l
	return nil
}

func (fs *FileSystemStore) Unlock() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.lock == nil {
		return nil
	}
	err := fs.lock.release()
	fs.lock = nil
	return err
}

func (fs *FileSystemStore) GetType() string {
	return string(StoreTypeFileSystem)
}

// Health and utilities
func (fs *FileSystemStore) Ping() error {
	_, err := os.Stat(fs.basePath)
	return err
}

func (fs *FileSystemStore) Close() error {
	if configData, err := os.ReadFile(fs.vaultConfig); err == nil {
		var config vaultConfig
		if err := json.Unmarshal(configData, &config); err == nil {
			config.LastAccess = time.Now().UTC()
			if updatedData, err := json.MarshalIndent(config, "", "  "); err == nil {
				_ = writeSecureFile(fs.vaultConfig, updatedData)
			}
		}
	}
	return fs.Unlock()
}

// Helper methods for versioning support
func (fs *FileSystemStore) getFileVersion(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil // File doesn't exist, version is empty
		}
		return "", err
	}
	return calculateFileVersion(data), nil
}

func calculateFileVersion(data []byte) string {
	// Use MD5 hash of file contents as version identifier
	hash := md5.Sum(data)
	return hex.EncodeToString(hash[:])
}

// writeSecureFile replaces path with data via a synced temp file and rename,
// then tightens the permissions since atomic.WriteFile keeps the temp file mode.
func writeSecureFile(path string, data []byte) error {
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Chmod(path, misc.FilePermissions); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	return nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
