package cmd

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	pdfsecure "github.com/essamgouda97/pdf-secure"
	"github.com/essamgouda97/pdf-secure/audit"
	"github.com/essamgouda97/pdf-secure/persist"
)

var (
	cfgFile     string
	vaultPath   string
	vault       *pdfsecure.Vault
	auditLogger audit.Logger
	cliContext  *CLIContext
	activeCmd   *cobra.Command
	cmdStarted  time.Time
)

// passphraseEnvVar is read for the passphrase when none is configured.
const passphraseEnvVar = "PDFSECURE_PASSPHRASE"

type CLIContext struct {
	UserID    string
	SessionID string
	Source    string // hostname
	StartTime time.Time
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pdf-secure",
	Short: "View encrypted documents with a per-document open limit",
	Long: `pdf-secure keeps documents on a removable drive as encrypted page images.
Each document may only be opened a fixed number of times, and the vault only
opens on the drive it was created on.`,
	SilenceUsage:       true,
	PersistentPreRunE: initializeVault,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return shutdown(nil)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
		if closeErr := shutdown(err); closeErr != nil {
			fmt.Fprintln(os.Stderr, formatError(closeErr))
		}
		os.Exit(exitCode(err))
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.pdf-secure.yaml)")
	rootCmd.PersistentFlags().StringVarP(&vaultPath, "vault-path", "p", "", "path to the vault directory")
	rootCmd.PersistentFlags().String("key-file", "", "hex key provisioning file")
	rootCmd.PersistentFlags().String("passphrase", "", "vault passphrase (or use PDFSECURE_PASSPHRASE env var)")
	rootCmd.PersistentFlags().String("salt", "", "hex salt used with the passphrase")
	rootCmd.PersistentFlags().String("device-id-file", "", "file holding the identity of the drive")
	rootCmd.PersistentFlags().String("store-type", "", "storage backend type (file, s3)")

	bindFlagOrPanic("vault.path", "vault-path")
	bindFlagOrPanic("vault.key_file", "key-file")
	bindFlagOrPanic("vault.passphrase", "passphrase")
	bindFlagOrPanic("vault.salt", "salt")
	bindFlagOrPanic("vault.device_id_file", "device-id-file")
	bindFlagOrPanic("vault.store_type", "store-type")

	// Audit flags
	rootCmd.PersistentFlags().Bool("audit", false, "enable audit logging")
	rootCmd.PersistentFlags().String("audit-type", "", "audit logger type (file, syslog, sqlite)")
	rootCmd.PersistentFlags().String("audit-file", "", "audit log file or database path")

	bindFlagOrPanic("audit.enabled", "audit")
	bindFlagOrPanic("audit.type", "audit-type")
	bindFlagOrPanic("audit.options.file_path", "audit-file")

	// S3 flags
	rootCmd.PersistentFlags().String("s3-endpoint", "", "S3 endpoint")
	rootCmd.PersistentFlags().String("s3-region", "", "S3 region")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket name")
	rootCmd.PersistentFlags().String("s3-prefix", "", "S3 key prefix")
	rootCmd.PersistentFlags().String("s3-access-key", "", "S3 access key ID")
	rootCmd.PersistentFlags().String("s3-secret-key", "", "S3 secret access key")
	rootCmd.PersistentFlags().Bool("s3-use-ssl", true, "use SSL for S3 connections")

	bindFlagOrPanic("vault.s3.endpoint", "s3-endpoint")
	bindFlagOrPanic("vault.s3.region", "s3-region")
	bindFlagOrPanic("vault.s3.bucket", "s3-bucket")
	bindFlagOrPanic("vault.s3.prefix", "s3-prefix")
	bindFlagOrPanic("vault.s3.access_key_id", "s3-access-key")
	bindFlagOrPanic("vault.s3.secret_access_key", "s3-secret-key")
	bindFlagOrPanic("vault.s3.use_ssl", "s3-use-ssl")
}

func bindFlagOrPanic(configKey, flagName string) {
	if err := viper.BindPFlag(configKey, rootCmd.PersistentFlags().Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".pdf-secure")
	}

	viper.SetEnvPrefix("PDFSECURE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
	} else if os.Getenv("DEBUG") == "true" {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func setDefaults() {
	viper.SetDefault("vault.path", "vault")
	viper.SetDefault("vault.store_type", "file")
	viper.SetDefault("vault.key_file", "key_and_nonce.txt")
	viper.SetDefault("vault.device_id_file", pdfsecure.DefaultDeviceIDFile)
	viper.SetDefault("vault.intake_dir", "intake")
	viper.SetDefault("vault.document_ext", ".pdf")
	viper.SetDefault("vault.page_cache", 4)
	viper.SetDefault("vault.lock_timeout", "5s")
	viper.SetDefault("vault.memory_lock", true)

	viper.SetDefault("vault.s3.region", "us-east-1")
	viper.SetDefault("vault.s3.prefix", "pdf-secure/")
	viper.SetDefault("vault.s3.use_ssl", true)

	viper.SetDefault("render.scale", 2000)
	viper.SetDefault("render.pdftoppm", "pdftoppm")

	viper.SetDefault("audit.enabled", false)
	viper.SetDefault("audit.type", "file")
	viper.SetDefault("audit.log_level", "info")
	// resolved against the vault path in initializeVault
	viper.SetDefault("audit.options.file_path", "audit.log")
}

// skipsVault lists commands that run without opening a vault.
func skipsVault(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "completion", "__complete", "config", "keygen":
			return true
		}
	}
	return false
}

func initializeVault(cmd *cobra.Command, args []string) error {
	if skipsVault(cmd) {
		return nil
	}

	vaultPath = viper.GetString("vault.path")
	if viper.GetString("audit.options.file_path") == "audit.log" {
		viper.Set("audit.options.file_path", filepath.Join(vaultPath, "audit.log"))
	}

	cliContext = &CLIContext{
		UserID:    getCurrentUser(),
		SessionID: generateSessionID(),
		Source:    getHostname(),
		StartTime: time.Now(),
	}

	var err error
	auditLogger, err = createAuditLogger()
	if err != nil {
		return fmt.Errorf("failed to create audit logger: %w", err)
	}

	// audit queries read the trail without unlocking the vault
	if cmd.Parent() != nil && cmd.Parent().Name() == "audit" {
		return nil
	}

	options, err := vaultOptions()
	if err != nil {
		return err
	}

	store, err := createStore(viper.GetString("vault.store_type"))
	if err != nil {
		return err
	}

	vault, err = pdfsecure.NewWithStore(options, store, auditLogger, nil)
	if err != nil {
		_ = store.Close()
		return err
	}

	activeCmd = cmd
	cmdStarted = auditCmdStart(cmd, args)
	return nil
}

// shutdown closes the vault and the audit logger, recording how the command
// ended. It is safe to call more than once.
func shutdown(cmdErr error) error {
	var errs []error
	if vault != nil {
		if err := vault.Close(); err != nil {
			errs = append(errs, err)
		}
		vault = nil
	}
	if auditLogger != nil {
		if activeCmd != nil {
			auditCmdComplete(activeCmd, cmdErr, cmdStarted)
			activeCmd = nil
		}
		if err := auditLogger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close audit logger: %w", err))
		}
		auditLogger = nil
	}
	return errors.Join(errs...)
}

// vaultOptions builds the vault options from configuration. A configured
// passphrase takes the place of the key file.
func vaultOptions() (pdfsecure.Options, error) {
	options := pdfsecure.Options{
		DeviceIDFile:     viper.GetString("vault.device_id_file"),
		IntakeDir:        viper.GetString("vault.intake_dir"),
		DocumentExt:      viper.GetString("vault.document_ext"),
		PageCacheSize:    viper.GetInt("vault.page_cache"),
		LockTimeout:      viper.GetDuration("vault.lock_timeout"),
		EnableMemoryLock: viper.GetBool("vault.memory_lock"),
	}

	passphrase := viper.GetString("vault.passphrase")
	switch {
	case passphrase != "":
		options.Passphrase = passphrase
	case os.Getenv(passphraseEnvVar) != "":
		options.PassphraseEnvVar = passphraseEnvVar
	default:
		options.KeyFile = viper.GetString("vault.key_file")
		return options, nil
	}

	salt, err := decodeSalt(viper.GetString("vault.salt"))
	if err != nil {
		return options, err
	}
	options.PassphraseSalt = salt
	return options, nil
}

func createAuditLogger() (audit.Logger, error) {
	return audit.NewLogger(&audit.Config{
		Enabled: viper.GetBool("audit.enabled"),
		VaultID: viper.GetString("vault.path"),
		Type:    audit.ConfigType(viper.GetString("audit.type")),
		Options: map[string]interface{}{
			"file_path": viper.GetString("audit.options.file_path"),
		},
		LogLevel: viper.GetString("audit.log_level"),
	})
}

func createStore(storeType string) (persist.Store, error) {
	switch strings.ToLower(storeType) {
	case "file", "filesystem":
		return persist.NewFileSystemStore(viper.GetString("vault.path"))

	case "s3":
		s3Config := persist.S3Config{
			Endpoint:        viper.GetString("vault.s3.endpoint"),
			AccessKeyID:     viper.GetString("vault.s3.access_key_id"),
			SecretAccessKey: viper.GetString("vault.s3.secret_access_key"),
			Bucket:          viper.GetString("vault.s3.bucket"),
			KeyPrefix:       viper.GetString("vault.s3.prefix"),
			UseSSL:          viper.GetBool("vault.s3.use_ssl"),
			Region:          viper.GetString("vault.s3.region"),
		}
		if err := validateS3Config(s3Config); err != nil {
			return nil, fmt.Errorf("invalid S3 configuration: %w", err)
		}
		return persist.NewS3Store(s3Config)

	default:
		return nil, fmt.Errorf("unsupported store type: %s. Supported types: file, s3", storeType)
	}
}

func validateS3Config(config persist.S3Config) error {
	var missing []string

	if config.Endpoint == "" {
		missing = append(missing, "vault.s3.endpoint")
	}
	if config.Bucket == "" {
		missing = append(missing, "vault.s3.bucket")
	}
	if config.Region == "" {
		missing = append(missing, "vault.s3.region")
	}

	hasAccessKey := config.AccessKeyID != ""
	hasSecretKey := config.SecretAccessKey != ""
	if hasAccessKey && !hasSecretKey {
		missing = append(missing, "vault.s3.secret_access_key")
	}
	if !hasAccessKey && hasSecretKey {
		missing = append(missing, "vault.s3.access_key_id")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// getCurrentUser returns the login name, or "unknown_user".
func getCurrentUser() string {
	currentUser, err := user.Current()
	if err != nil {
		log.Printf("Warning: could not get current user: %v", err)
		if envUser := os.Getenv("USER"); envUser != "" {
			return envUser
		}
		return "unknown_user"
	}
	return currentUser.Username
}

func generateSessionID() string {
	return uuid.New().String()
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		log.Printf("Warning: could not get hostname: %v", err)
		return "unknown_host"
	}
	return hostname
}

func auditCmdStart(cmd *cobra.Command, args []string) time.Time {
	now := time.Now()
	err := auditLogger.Log("command_start", true, map[string]interface{}{
		"command":    cmd.CommandPath(),
		"args":       args,
		"flags":      sanitizeFlags(cmd),
		"user_id":    cliContext.UserID,
		"session_id": cliContext.SessionID,
		"source":     cliContext.Source,
	})
	if err != nil {
		log.Printf("ERROR: %v\n", err)
	}
	return now
}

func auditCmdComplete(cmd *cobra.Command, err error, startedTime time.Time) {
	logErr := auditLogger.Log("command_complete", err == nil, map[string]interface{}{
		"command":     cmd.CommandPath(),
		"duration_ms": time.Since(startedTime).Milliseconds(),
		"error":       formatError(err),
		"user_id":     cliContext.UserID,
		"session_id":  cliContext.SessionID,
	})
	if logErr != nil {
		log.Printf("ERROR: %v\n", logErr)
	}
}

func sanitizeFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if !flag.Changed {
			return
		}
		if isSensitiveFlag(flag.Name) {
			flags[flag.Name] = "[REDACTED]"
		} else {
			flags[flag.Name] = flag.Value.String()
		}
	})
	return flags
}

func isSensitiveFlag(name string) bool {
	lower := strings.ToLower(name)
	for _, s := range []string{"passphrase", "password", "secret", "salt", "token"} {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
