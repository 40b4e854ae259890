package pdfsecure

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/essamgouda97/pdf-secure/internal/misc"
)

// combineErrors joins the non-nil errors, or returns nil when there are none.
func combineErrors(errs ...error) error {
	var nonNil []error
	for _, err := range errs {
		if err != nil {
			nonNil = append(nonNil, err)
		}
	}
	if len(nonNil) == 0 {
		return nil
	}
	return errors.Join(nonNil...)
}

// DocumentKey derives the ledger key of a source file: its base name in
// Unicode NFC so the same name typed on different systems maps to one entry.
func DocumentKey(sourcePath string) string {
	return norm.NFC.String(filepath.Base(sourcePath))
}

// DisplayName is the last path element of a document key.
func DisplayName(docKey string) string {
	return path.Base(filepath.ToSlash(docKey))
}

func validateDocumentKey(docKey string) error {
	if docKey == "" {
		return errors.New("document key cannot be empty")
	}
	if !utf8.ValidString(docKey) {
		return errors.New("document key must be valid UTF-8")
	}
	if strings.ContainsRune(docKey, 0) {
		return errors.New("document key contains NUL")
	}
	return nil
}

func validateOptions(options Options) error {
	if options.KeyFile == "" && options.Passphrase == "" && options.PassphraseEnvVar == "" {
		return fmt.Errorf("one of KeyFile, Passphrase or PassphraseEnvVar must be provided")
	}

	if options.PassphraseEnvVar != "" && !isValidEnvVarName(options.PassphraseEnvVar) {
		return fmt.Errorf("invalid environment variable name: %s", options.PassphraseEnvVar)
	}

	if (options.Passphrase != "" || options.PassphraseEnvVar != "") && options.KeyFile == "" {
		if len(options.PassphraseSalt) < misc.SaltSize {
			return fmt.Errorf("passphrase salt must be at least %d bytes", misc.SaltSize)
		}
	}

	if options.DocumentExt != "" && !strings.HasPrefix(options.DocumentExt, ".") {
		return fmt.Errorf("document extension must start with '.': %s", options.DocumentExt)
	}

	if options.PageCacheSize < 0 {
		return fmt.Errorf("page cache size cannot be negative")
	}
	if options.LockTimeout < 0 {
		return fmt.Errorf("lock timeout cannot be negative")
	}

	return nil
}

func isValidEnvVarName(name string) bool {
	if len(name) == 0 || len(name) > 128 {
		return false
	}

	// Must start with letter or underscore
	if !((name[0] >= 'A' && name[0] <= 'Z') || (name[0] >= 'a' && name[0] <= 'z') || name[0] == '_') {
		return false
	}

	// Rest can be letters, numbers, or underscores
	for i := 1; i < len(name); i++ {
		c := name[i]
		if !((c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_') {
			return false
		}
	}

	return true
}
