package cmd

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	pdfsecure "github.com/essamgouda97/pdf-secure"
)

func getConfigFilePath() string {
	if cfgFile != "" {
		return cfgFile
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pdf-secure.yaml")
}

func ensureConfigDir(configFile string) error {
	return os.MkdirAll(filepath.Dir(configFile), 0700)
}

func getConfigTemplate(template string) (map[string]interface{}, error) {
	vault := map[string]interface{}{
		"store_type":     "file",
		"path":           "vault",
		"key_file":       "key_and_nonce.txt",
		"device_id_file": pdfsecure.DefaultDeviceIDFile,
		"intake_dir":     "intake",
	}

	switch template {
	case "minimal":
		return map[string]interface{}{"vault": vault}, nil
	case "default":
		vault["document_ext"] = ".pdf"
		vault["page_cache"] = 4
		vault["lock_timeout"] = "5s"
		vault["memory_lock"] = true
		return map[string]interface{}{
			"vault": vault,
			"render": map[string]interface{}{
				"scale":    2000,
				"pdftoppm": "pdftoppm",
			},
			"audit": map[string]interface{}{
				"enabled": true,
				"type":    "file",
				"options": map[string]interface{}{
					"file_path": "audit.log",
				},
			},
		}, nil
	case "s3":
		vault["store_type"] = "s3"
		vault["s3"] = map[string]interface{}{
			"endpoint": "localhost:9000",
			"bucket":   "pdf-secure",
			"region":   "us-east-1",
			"prefix":   "pdf-secure/",
			"use_ssl":  false,
		}
		return map[string]interface{}{"vault": vault}, nil
	default:
		return nil, fmt.Errorf("unknown template: %s (default, minimal, s3)", template)
	}
}

func validateConfiguration() []string {
	var problems []string

	switch strings.ToLower(viper.GetString("vault.store_type")) {
	case "file", "filesystem":
		if viper.GetString("vault.path") == "" {
			problems = append(problems, "vault.path is required for the file store")
		}
	case "s3":
		if viper.GetString("vault.s3.bucket") == "" {
			problems = append(problems, "vault.s3.bucket is required for the s3 store")
		}
		if viper.GetString("vault.s3.endpoint") == "" {
			problems = append(problems, "vault.s3.endpoint is required for the s3 store")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported vault.store_type: %s", viper.GetString("vault.store_type")))
	}

	if viper.GetString("vault.passphrase") == "" && viper.GetString("vault.key_file") == "" {
		problems = append(problems, "one of vault.key_file or vault.passphrase must be set")
	}
	if viper.GetString("vault.passphrase") != "" {
		if _, err := decodeSalt(viper.GetString("vault.salt")); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if ext := viper.GetString("vault.document_ext"); ext != "" && !strings.HasPrefix(ext, ".") {
		problems = append(problems, "vault.document_ext must start with '.'")
	}
	if viper.GetInt("vault.page_cache") < 0 {
		problems = append(problems, "vault.page_cache cannot be negative")
	}
	if viper.GetInt("render.scale") <= 0 {
		problems = append(problems, "render.scale must be positive")
	}

	if viper.GetBool("audit.enabled") {
		switch viper.GetString("audit.type") {
		case "file", "sqlite":
			if viper.GetString("audit.options.file_path") == "" {
				problems = append(problems, "audit.options.file_path is required")
			}
		case "syslog":
		default:
			problems = append(problems, fmt.Sprintf("unsupported audit.type: %s", viper.GetString("audit.type")))
		}
	}
	return problems
}

func getConfigKeyDescriptions() map[string]string {
	return map[string]string{
		"vault.store_type":          "Storage backend (file, s3)",
		"vault.path":                "Vault directory on the drive",
		"vault.key_file":            "Hex key provisioning file",
		"vault.passphrase":          "Passphrase used instead of a key file",
		"vault.salt":                "Hex salt for the passphrase (at least 16 bytes)",
		"vault.device_id_file":      "File identifying the drive",
		"vault.intake_dir":          "Directory scanned by register",
		"vault.document_ext":        "Extension of documents to register",
		"vault.page_cache":          "Decrypted pages kept in memory while viewing",
		"vault.lock_timeout":        "Wait for another process to release the vault",
		"vault.memory_lock":         "Keep process memory out of swap",
		"vault.s3.endpoint":         "S3 endpoint",
		"vault.s3.bucket":           "S3 bucket",
		"vault.s3.region":           "S3 region",
		"vault.s3.prefix":           "S3 key prefix",
		"vault.s3.access_key_id":    "S3 access key ID",
		"vault.s3.secret_access_key": "S3 secret access key",
		"vault.s3.use_ssl":          "Use SSL for S3",
		"render.scale":              "Long side of rendered pages in pixels",
		"render.pdftoppm":           "pdftoppm executable",
		"audit.enabled":             "Enable the audit trail",
		"audit.type":                "Audit backend (file, syslog, sqlite)",
		"audit.options.file_path":   "Audit log file or database",
	}
}

func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printYAML(w io.Writer, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func printConfigKeysTable(out io.Writer, keys map[string]string) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tDESCRIPTION")
	fmt.Fprintln(w, "---\t-----------")

	sortedKeys := make([]string, 0, len(keys))
	for key := range keys {
		sortedKeys = append(sortedKeys, key)
	}
	sort.Strings(sortedKeys)
	for _, key := range sortedKeys {
		fmt.Fprintf(w, "%s\t%s\n", key, keys[key])
	}
	return w.Flush()
}

// isSensitiveConfigKey checks if a configuration key contains sensitive data
func isSensitiveConfigKey(key string) bool {
	lowerKey := strings.ToLower(key)
	for _, sensitive := range []string{"passphrase", "password", "secret", "salt", "token"} {
		if strings.Contains(lowerKey, sensitive) {
			return true
		}
	}
	return false
}

// maskSensitiveValues recursively masks sensitive values in configuration
func maskSensitiveValues(config map[string]interface{}) {
	for key, value := range config {
		if isSensitiveConfigKey(key) {
			if s, ok := value.(string); ok && s == "" {
				continue
			}
			config[key] = "[REDACTED]"
		} else if nested, ok := value.(map[string]interface{}); ok {
			maskSensitiveValues(nested)
		}
	}
}

// decodeSalt parses the hex passphrase salt.
func decodeSalt(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("vault.salt is required with a passphrase")
	}
	salt, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("vault.salt is not valid hex: %w", err)
	}
	return salt, nil
}

func formatError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, pdfsecure.ErrDeviceMismatch):
		return "Error: this vault belongs to a different drive. Access denied."
	case errors.Is(err, pdfsecure.ErrDeviceIdentityMissing):
		return "Error: cannot identify the drive this vault is on. Access denied."
	case errors.Is(err, pdfsecure.ErrAuthentication), errors.Is(err, pdfsecure.ErrLedgerCorrupt):
		return "Error: vault data failed verification (wrong key or tampering). Access denied."
	case errors.Is(err, pdfsecure.ErrLedgerMissing):
		return "Error: no documents have been registered in this vault yet."
	case errors.Is(err, pdfsecure.ErrVaultLocked):
		return "Error: the vault is in use by another pdf-secure process."
	}

	var messages []string
	for e := err; e != nil; e = errors.Unwrap(e) {
		messages = append(messages, e.Error())
	}

	message := messages[0]
	if len(message) > 0 {
		first := string(message[0])
		if first != strings.ToUpper(first) {
			message = strings.ToUpper(first) + message[1:]
		}
	}
	return fmt.Sprintf("Error: %s", message)
}

// exitCode is 2 for conditions that deny access outright, 1 otherwise.
func exitCode(err error) int {
	if pdfsecure.IsFatal(err) {
		return 2
	}
	return 1
}

// renderDocumentList writes the listing shown by list and view.
func renderDocumentList(out io.Writer, entries []pdfsecure.DocumentEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, "No documents registered.")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tDOCUMENT\tPAGES\tOPENED\tSTATUS")
	for i, e := range entries {
		status := "available"
		if !e.CanOpen {
			status = "exhausted"
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%d/%d\t%s\n", i+1, e.Name, e.PageCount, e.OpenCount, e.MaxOpenCount, status)
	}
	return w.Flush()
}

func renderStatus(out io.Writer, status *pdfsecure.Status, path string) error {
	w := tabwriter.NewWriter(out, 0, 0, 1, ' ', 0)
	fmt.Fprintln(w, "Vault Status")
	fmt.Fprintln(w, "============")
	fmt.Fprintf(w, "Vault Path:\t%s\n", path)
	fmt.Fprintf(w, "Store:\t%s\n", status.StoreType)
	fmt.Fprintf(w, "Device:\t%s\n", status.DeviceID)
	fmt.Fprintf(w, "Memory Protection:\t%s\n", status.MemoryProtection)
	if !status.LedgerExists {
		fmt.Fprintf(w, "Ledger:\tnone\n")
	} else {
		binding := "this drive"
		if !status.DeviceMatches {
			binding = "ANOTHER DRIVE"
		}
		fmt.Fprintf(w, "Ledger:\tbound to %s\n", binding)
		fmt.Fprintf(w, "Documents:\t%d\n", status.Documents)
	}
	fmt.Fprintf(w, "Page Objects:\t%d\n", status.Pages)
	return w.Flush()
}

func renderResults(out io.Writer, results []pdfsecure.RegistrationResult, elapsed time.Duration) {
	for _, r := range results {
		verb := "Registered"
		if r.Overwritten {
			verb = "Replaced"
		}
		fmt.Fprintf(out, "%s %s: %d pages, %d opens allowed\n", verb, r.DocumentKey, r.PageCount, r.MaxOpenCount)
	}
	fmt.Fprintf(out, "%d documents registered in %s\n", len(results), elapsed.Round(time.Millisecond))
}
