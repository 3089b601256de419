package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var decryptTimeout time.Duration

var decryptCmd = &cobra.Command{
	Use:   "decrypt [ciphertext]",
	Short: "Decrypt base64 ciphertext with the identity's private key",
	Long: `Decrypt a base64 ciphertext produced by encrypt and print the plaintext.

Applying the private key may require confirming an authentication challenge;
answer the prompt, or pass --yes to approve automatically. The decryption runs
on a worker so the challenge never stalls anything but this command.

With no argument the ciphertext is read from standard input.

Examples:
  # Decrypt a literal
  keyvault decrypt "BO3xKzC..."

  # Decrypt from stdin without a challenge prompt
  keyvault encrypt "SecretMessage" | keyvault decrypt --yes`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDecrypt,
}

func init() {
	rootCmd.AddCommand(decryptCmd)
	decryptCmd.Flags().DurationVar(&decryptTimeout, "timeout", 0, "abort if no result within this duration (0 waits forever)")
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)

	ciphertext, err := readInput(args)
	if err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	results := vault.DecryptAsync(context.Background(), ciphertext)

	if decryptTimeout > 0 {
		select {
		case result := <-results:
			return finishDecrypt(cmd, result.Plaintext, result.Err, started)
		case <-time.After(decryptTimeout):
			return auditCmdComplete(cmd, fmt.Errorf("no result within %s", decryptTimeout), started)
		}
	}

	result := <-results
	return finishDecrypt(cmd, result.Plaintext, result.Err, started)
}

func finishDecrypt(cmd *cobra.Command, plaintext string, err error, started time.Time) error {
	if err != nil {
		return auditCmdComplete(cmd, err, started)
	}
	fmt.Println(plaintext)
	return auditCmdComplete(cmd, nil, started)
}
