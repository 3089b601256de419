package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var encryptCmd = &cobra.Command{
	Use:   "encrypt [plaintext]",
	Short: "Encrypt text under the identity's public key",
	Long: `Encrypt a UTF-8 string under the identity's public key and print the
base64 ciphertext. The key is created on first use if none exists yet.
Encryption never requires an authentication challenge.

With no argument the plaintext is read from standard input.

Examples:
  # Encrypt a literal
  keyvault encrypt "SecretMessage"

  # Encrypt from stdin
  echo -n "SecretMessage" | keyvault encrypt`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEncrypt,
}

func init() {
	rootCmd.AddCommand(encryptCmd)
}

func runEncrypt(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)

	plaintext, err := readInput(args)
	if err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	ciphertext, err := vault.Encrypt(plaintext)
	if err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	fmt.Println(ciphertext)
	return auditCmdComplete(cmd, nil, started)
}

// readInput takes the single argument or falls back to stdin
func readInput(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}

	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}
