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

	"southwinds.dev/keyvault"
	"southwinds.dev/keyvault/audit"
	"southwinds.dev/keyvault/authgate"
	"southwinds.dev/keyvault/persist"
)

var (
	cfgFile     string
	storePath   string
	passphrase  string
	identity    string
	autoApprove bool
	vault       *keyvault.KeyVault
	auditLogger audit.Logger
	cliContext  *CLIContext
)

type CLIContext struct {
	UserID    string
	SessionID string
	Source    string // hostname
	StartTime time.Time
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "keyvault",
	Short: "Asymmetric key management and hybrid encryption for a single identity",
	Long: `A key vault that manages one asymmetric key per identity and encrypts data
under it with an ECIES-style hybrid scheme. The private key is created on
first use, kept wrapped at rest, and applying it can be gated behind an
interactive confirmation.`,
	PersistentPreRunE: initializeVault,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if vault != nil {
			return vault.Close()
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags - consistent with config file structure
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.keyvault.yaml)")
	rootCmd.PersistentFlags().StringVarP(&storePath, "store-path", "p", "", "path to key storage")
	rootCmd.PersistentFlags().StringVar(&passphrase, "passphrase", "", "device passphrase (or use KEYVAULT_PASSPHRASE env var)")
	rootCmd.PersistentFlags().StringVarP(&identity, "identity", "i", "", "identity the key is scoped under")
	rootCmd.PersistentFlags().String("store-type", "", "storage backend type (file, s3)")
	rootCmd.PersistentFlags().BoolVarP(&autoApprove, "yes", "y", false, "approve authentication challenges without prompting")

	bindFlagOrPanic("vault.store_path", "store-path")
	bindFlagOrPanic("vault.passphrase", "passphrase")
	bindFlagOrPanic("vault.identity", "identity")
	bindFlagOrPanic("vault.store_type", "store-type")

	// Audit flags
	rootCmd.PersistentFlags().Bool("audit", false, "enable audit logging")
	rootCmd.PersistentFlags().String("audit-type", "", "audit logger type (file, syslog)")
	rootCmd.PersistentFlags().String("audit-file", "", "audit log file path")

	bindFlagOrPanic("audit.enabled", "audit")
	bindFlagOrPanic("audit.type", "audit-type")
	bindFlagOrPanic("audit.options.file_path", "audit-file")

	// S3 flags (for direct CLI usage)
	rootCmd.PersistentFlags().String("s3-endpoint", "", "S3 endpoint URL")
	rootCmd.PersistentFlags().String("s3-region", "", "S3 region")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket name")
	rootCmd.PersistentFlags().String("s3-prefix", "", "S3 key prefix")
	rootCmd.PersistentFlags().String("s3-access-key", "", "S3 access key ID")
	rootCmd.PersistentFlags().String("s3-secret-key", "", "S3 secret access key")
	rootCmd.PersistentFlags().Bool("s3-use-ssl", true, "Use SSL for S3 connections")

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
		// Search in multiple locations for consistency
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/keyvault")

		viper.SetConfigType("yaml")
		viper.SetConfigName(".keyvault")
	}

	// Environment variable support
	viper.SetEnvPrefix("KEYVAULT")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	} else {
		if os.Getenv("DEBUG") == "true" {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}
}

func setDefaults() {
	viper.SetDefault("vault.store_path", ".keyvault")
	viper.SetDefault("vault.identity", "default")
	viper.SetDefault("vault.store_type", "file")

	// S3 defaults
	viper.SetDefault("vault.s3.region", "us-east-1")
	viper.SetDefault("vault.s3.prefix", "keyvault/")
	viper.SetDefault("vault.s3.use_ssl", true)

	// Audit defaults
	viper.SetDefault("audit.enabled", false)
	viper.SetDefault("audit.type", "file")
	viper.SetDefault("audit.options.max_size", 100)
	viper.SetDefault("audit.options.max_backups", 5)
	viper.SetDefault("audit.log_level", "info")
	viper.SetDefault("audit.options.file_path", "audit.log")
}

func initializeVault(cmd *cobra.Command, args []string) error {
	// Skip initialization for commands that do not touch the vault
	if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" || cmd.Name() == "config" {
		return nil
	}
	if cmd.Parent() != nil && cmd.Parent().Name() == "config" {
		return nil
	}

	storePath = viper.GetString("vault.store_path")
	identity = viper.GetString("vault.identity")

	// Keep the audit log next to the key files unless explicitly placed
	if viper.GetString("audit.options.file_path") == "audit.log" {
		viper.Set("audit.options.file_path", filepath.Join(storePath, "audit.log"))
	}

	passphrase = viper.GetString("vault.passphrase")
	if passphrase == "" {
		passphrase = os.Getenv("KEYVAULT_PASSPHRASE")
	}
	if passphrase == "" {
		return fmt.Errorf("passphrase is required. Use --passphrase flag or KEYVAULT_PASSPHRASE environment variable")
	}

	cliContext = &CLIContext{
		UserID:    getCurrentUser(),
		SessionID: generateSessionID(),
		Source:    getHostname(),
		StartTime: time.Now(),
	}

	options := keyvault.Options{
		Passphrase:       passphrase,
		EnvPassphraseVar: "KEYVAULT_PASSPHRASE",
		Gate:             buildGate(),
		Audit:            buildAuditConfig(),
	}

	backend, err := buildBackendConfig(viper.GetString("vault.store_type"))
	if err != nil {
		return err
	}
	options.Backend = backend

	v, err := keyvault.Open(identity, options)
	if err != nil {
		return fmt.Errorf("failed to open vault for identity %s: %w", identity, err)
	}
	vault = v

	// Separate logger for command-level audit events
	auditLogger, err = audit.NewLogger(buildAuditConfig())
	if err != nil {
		return fmt.Errorf("failed to create audit logger: %w", err)
	}

	return nil
}

// buildGate selects the authentication gate: interactive confirmation by
// default, automatic approval with --yes for unattended use
func buildGate() authgate.Gate {
	if autoApprove {
		return authgate.NewAllowAll()
	}
	return authgate.NewPromptGate(nil, nil)
}

func buildAuditConfig() *audit.Config {
	if !viper.GetBool("audit.enabled") {
		return nil
	}
	return &audit.Config{
		Enabled:  true,
		Identity: viper.GetString("vault.identity"),
		Type:     audit.ConfigType(viper.GetString("audit.type")),
		Options: map[string]interface{}{
			"file_path":   viper.GetString("audit.options.file_path"),
			"max_size":    viper.GetInt("audit.options.max_size"),
			"max_backups": viper.GetInt("audit.options.max_backups"),
		},
		LogLevel: viper.GetString("audit.log_level"),
	}
}

func buildBackendConfig(storeType string) (*persist.BackendConfig, error) {
	switch strings.ToLower(storeType) {
	case "file":
		if err := os.MkdirAll(viper.GetString("vault.store_path"), 0700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		return &persist.BackendConfig{
			Type: persist.BackendTypeFileSystem,
			Config: map[string]interface{}{
				"base_path": viper.GetString("vault.store_path"),
			},
		}, nil

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
		return &persist.BackendConfig{
			Type: persist.BackendTypeS3,
			Config: map[string]interface{}{
				"endpoint":          s3Config.Endpoint,
				"access_key_id":     s3Config.AccessKeyID,
				"secret_access_key": s3Config.SecretAccessKey,
				"bucket":            s3Config.Bucket,
				"key_prefix":        s3Config.KeyPrefix,
				"use_ssl":           s3Config.UseSSL,
				"region":            s3Config.Region,
			},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported store type: %s. Supported types: file, s3", storeType)
	}
}

func validateS3Config(config persist.S3Config) error {
	var missing []string

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

// getStoreConfigSummary returns a summary of the current store configuration
func getStoreConfigSummary(storeType string) string {
	switch strings.ToLower(storeType) {
	case "file":
		return fmt.Sprintf("File store: path=%s", viper.GetString("vault.store_path"))
	case "s3":
		return fmt.Sprintf("S3 store: bucket=%s, region=%s, prefix=%s",
			viper.GetString("vault.s3.bucket"),
			viper.GetString("vault.s3.region"),
			viper.GetString("vault.s3.prefix"))
	default:
		return fmt.Sprintf("Unknown store type: %s", storeType)
	}
}

// Helper function to check if a flag name is sensitive (for logging purposes)
func isSensitiveFlag(name string) bool {
	sensitive := []string{"passphrase", "password", "secret", "key", "token"}
	lower := strings.ToLower(name)
	for _, s := range sensitive {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// getCurrentUser retrieves the username of the currently logged-in user.
// It returns "unknown_user" if the user cannot be determined.
func getCurrentUser() string {
	currentUser, err := user.Current()
	if err != nil {
		log.Printf("Warning: could not get current user: %v. Falling back to 'unknown_user'.", err)
		envUser := os.Getenv("USER")
		if envUser != "" {
			return envUser
		}
		return "unknown_user"
	}
	return currentUser.Username
}

// generateSessionID creates a new unique session identifier
func generateSessionID() string {
	return uuid.New().String()
}

// getHostname retrieves the hostname of the machine.
// It returns "unknown_host" if the hostname cannot be determined.
func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		log.Printf("Warning: could not get hostname: %v. Falling back to 'unknown_host'.", err)
		return "unknown_host"
	}
	return hostname
}

func auditCmdStart(cmd *cobra.Command, args []string) time.Time {
	now := time.Now()
	err := auditLogger.Log("command_start", true, map[string]interface{}{
		"command":    cmd.CommandPath(),
		"args":       sanitizeArgs(args),
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

func auditCmdComplete(cmd *cobra.Command, err error, startedTime time.Time) error {
	if auditLogger != nil {
		auditLogger.Log("command_complete", err == nil, map[string]interface{}{
			"command":     cmd.CommandPath(),
			"duration_ms": time.Since(startedTime).Milliseconds(),
			"success":     err == nil,
			"error":       formatError(err),
			"user_id":     cliContext.UserID,
			"session_id":  cliContext.SessionID,
		})
	}
	return err
}

func formatError(err error) string {
	if err == nil {
		return ""
	}

	var messages []string

	// Unwrap the error chain and collect all messages
	for err != nil {
		messages = append(messages, err.Error())
		err = errors.Unwrap(err)
	}

	if len(messages) > 1 {
		// Remove duplicates that might occur from unwrapping
		uniqueMessages := make([]string, 0, len(messages))
		seen := make(map[string]bool)

		for _, msg := range messages {
			if !seen[msg] {
				uniqueMessages = append(uniqueMessages, msg)
				seen[msg] = true
			}
		}

		if len(uniqueMessages) > 1 {
			return fmt.Sprintf("Error: %s (caused by: %s)",
				uniqueMessages[0],
				strings.Join(uniqueMessages[1:], " -> "))
		}
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

func sanitizeFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if flag.Changed {
			if isSensitiveFlag(flag.Name) {
				flags[flag.Name] = "[REDACTED]"
			} else {
				flags[flag.Name] = flag.Value.String()
			}
		}
	})
	return flags
}

func sanitizeArgs(args []string) []string {
	// Plaintext arguments never belong in the audit trail
	sanitized := make([]string, len(args))
	for i := range args {
		sanitized[i] = "[REDACTED]"
	}
	return sanitized
}
