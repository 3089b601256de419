package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

func getConfigFilePath(global bool) string {
	if global {
		// System-wide config
		return "/etc/keyvault/config.yaml"
	}

	if cfgFile != "" {
		return cfgFile
	}

	// User config
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".keyvault.yaml")
}

func ensureConfigDir(configFile string) error {
	dir := filepath.Dir(configFile)
	return os.MkdirAll(dir, 0700)
}

func isValidConfigKey(key string) bool {
	validKeys := []string{
		"vault.store_type",
		"vault.store_path",
		"vault.passphrase",
		"vault.identity",
		"vault.s3.endpoint",
		"vault.s3.bucket",
		"vault.s3.region",
		"vault.s3.prefix",
		"vault.s3.access_key_id",
		"vault.s3.secret_access_key",
		"vault.s3.use_ssl",
		"audit.enabled",
		"audit.type",
		"audit.options.file_path",
	}

	for _, validKey := range validKeys {
		if key == validKey {
			return true
		}
	}
	return false
}

func convertStringValue(value string) (interface{}, error) {
	if value == "true" || value == "false" {
		return value == "true", nil
	}

	if strings.Contains(value, ".") {
		if f, err := parseFloat(value); err == nil {
			return f, nil
		}
	} else {
		if i, err := parseInt(value); err == nil {
			return i, nil
		}
	}

	return value, nil
}

func getConfigTemplate(template string) map[string]interface{} {
	switch template {
	case "minimal":
		return map[string]interface{}{
			"vault": map[string]interface{}{
				"store_type": "file",
				"store_path": ".keyvault",
				"identity":   "default",
			},
		}
	case "full":
		return map[string]interface{}{
			"vault": map[string]interface{}{
				"store_type": "file",
				"store_path": ".keyvault",
				"identity":   "default",
				"s3": map[string]interface{}{
					"endpoint": "",
					"bucket":   "",
					"region":   "us-east-1",
					"prefix":   "keyvault/",
					"use_ssl":  true,
				},
			},
			"audit": map[string]interface{}{
				"enabled": false,
				"type":    "file",
				"options": map[string]interface{}{
					"file_path": "audit.log",
				},
			},
		}
	default: // "default"
		return map[string]interface{}{
			"vault": map[string]interface{}{
				"store_type": "file",
				"store_path": ".keyvault",
				"identity":   "default",
			},
			"audit": map[string]interface{}{
				"enabled": false,
				"type":    "file",
				"options": map[string]interface{}{
					"file_path": "audit.log",
				},
			},
		}
	}
}

func validateConfiguration() []string {
	var errors []string

	storeType := viper.GetString("vault.store_type")
	validStoreTypes := []string{"file", "s3"}
	if !contains(validStoreTypes, storeType) {
		errors = append(errors, fmt.Sprintf("invalid store type: %s (must be one of: %s)",
			storeType, strings.Join(validStoreTypes, ", ")))
	}

	if storeType == "s3" {
		if bucket := viper.GetString("vault.s3.bucket"); bucket == "" {
			errors = append(errors, "S3 bucket is required when using S3 store")
		}
	}

	if id := viper.GetString("vault.identity"); id == "" {
		errors = append(errors, "identity must not be empty")
	}

	if viper.GetBool("audit.enabled") {
		auditType := viper.GetString("audit.type")
		validAuditTypes := []string{"file", "syslog"}
		if !contains(validAuditTypes, auditType) {
			errors = append(errors, fmt.Sprintf("invalid audit type: %s (must be one of: %s)",
				auditType, strings.Join(validAuditTypes, ", ")))
		}

		if auditType == "file" {
			if filePath := viper.GetString("audit.options.file_path"); filePath == "" {
				errors = append(errors, "audit file path is required when using file audit")
			}
		}
	}

	return errors
}

func getConfigKeyDescriptions() map[string]string {
	return map[string]string{
		"vault.store_type":           "Storage backend type (file, s3)",
		"vault.store_path":           "Path to key storage (for file store)",
		"vault.passphrase":           "Device passphrase the wrapping key is derived from",
		"vault.identity":             "Identity the key is scoped under",
		"vault.s3.endpoint":          "S3 endpoint URL",
		"vault.s3.bucket":            "S3 bucket name",
		"vault.s3.region":            "S3 region",
		"vault.s3.prefix":            "S3 key prefix",
		"vault.s3.access_key_id":     "S3 access key ID",
		"vault.s3.secret_access_key": "S3 secret access key",
		"vault.s3.use_ssl":           "Use SSL for S3 connections",
		"audit.enabled":              "Enable audit logging",
		"audit.type":                 "Audit logger type (file, syslog)",
		"audit.options.file_path":    "Audit log file path",
	}
}

// contains checks if a string slice contains a specific string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func parseInt(s string) (int, error) {
	return strconv.Atoi(s)
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

// printConfigTable prints configuration in table format
func printConfigTable() error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "KEY\tVALUE\tSOURCE")
	fmt.Fprintln(w, "---\t-----\t------")

	settings := viper.AllSettings()
	var keys []string
	flattenKeys(settings, "", &keys)
	sort.Strings(keys)

	for _, key := range keys {
		value := viper.Get(key)
		source := "default"
		if viper.ConfigFileUsed() != "" {
			source = filepath.Base(viper.ConfigFileUsed())
		}

		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if os.Getenv(envKey) != "" || os.Getenv("KEYVAULT_"+envKey) != "" {
			source = "environment"
		}

		if isSensitiveConfigKey(key) {
			value = "[REDACTED]"
		}

		fmt.Fprintf(w, "%s\t%v\t%s\n", key, value, source)
	}

	return nil
}

// printConfigJSON prints configuration in JSON format
func printConfigJSON() error {
	config := viper.AllSettings()
	maskSensitiveValues(config)

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config to JSON: %w", err)
	}

	fmt.Println(string(data))
	return nil
}

// printConfigYAML prints configuration in YAML format
func printConfigYAML() error {
	config := viper.AllSettings()
	maskSensitiveValues(config)

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	fmt.Print(string(data))
	return nil
}

// printConfigKeysTable prints available configuration keys in table format
func printConfigKeysTable(keys map[string]string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

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

	return nil
}

// printConfigKeysYAML prints available configuration keys in YAML format
func printConfigKeysYAML(keys map[string]string) error {
	data, err := yaml.Marshal(keys)
	if err != nil {
		return fmt.Errorf("failed to marshal keys to YAML: %w", err)
	}

	fmt.Print(string(data))
	return nil
}

// printConfigKeysJSON prints available configuration keys in JSON format
func printConfigKeysJSON(keys map[string]string) error {
	data, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal keys to JSON: %w", err)
	}

	fmt.Println(string(data))
	return nil
}

// flattenKeys recursively flattens nested maps into dot-notation keys
func flattenKeys(m map[string]interface{}, prefix string, keys *[]string) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}

		if nested, ok := v.(map[string]interface{}); ok {
			flattenKeys(nested, key, keys)
		} else {
			*keys = append(*keys, key)
		}
	}
}

// isSensitiveConfigKey checks if a configuration key contains sensitive data
func isSensitiveConfigKey(key string) bool {
	sensitiveKeys := []string{"passphrase", "password", "secret", "token", "access_key"}
	lowerKey := strings.ToLower(key)

	for _, sensitive := range sensitiveKeys {
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
			config[key] = "[REDACTED]"
		} else if nested, ok := value.(map[string]interface{}); ok {
			maskSensitiveValues(nested)
		}
	}
}
