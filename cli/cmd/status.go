package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault status",
	Long:  "Display information about the vault including key presence, storage backend and memory protection level.",
	RunE:  showStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	fmt.Println("KeyVault Status")
	fmt.Println("===============")

	fmt.Printf("Identity: %s\n", vault.Identity())

	if vault.HasKey() {
		fmt.Println("Key: present")
	} else {
		fmt.Println("Key: none (will be created on first use)")
	}

	fmt.Printf("Memory Protection: %s\n", vault.MemoryProtectionLevel())
	fmt.Printf("Storage: %s\n", getStoreConfigSummary(viper.GetString("vault.store_type")))
	fmt.Printf("Audit: %v\n", viper.GetBool("audit.enabled"))

	return nil
}
