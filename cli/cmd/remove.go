package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var removeForce bool

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "Destroy the identity's key",
	Long: `Destroy the key stored for the identity. All ciphertext previously
produced for this identity becomes permanently undecryptable; there is no
recovery path. A new key is created automatically the next time one is
needed.`,
	RunE: runRemove,
}

func init() {
	rootCmd.AddCommand(removeCmd)
	removeCmd.Flags().BoolVarP(&removeForce, "force", "f", false, "skip the confirmation prompt")
}

func runRemove(cmd *cobra.Command, args []string) error {
	started := auditCmdStart(cmd, args)

	if !removeForce {
		fmt.Printf("This permanently destroys the key for %q and all data encrypted under it.\n", vault.Identity())
		fmt.Print("Continue? (y/N): ")

		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		answer := strings.ToLower(strings.TrimSpace(line))
		if answer != "y" && answer != "yes" {
			fmt.Println("Removal cancelled")
			return auditCmdComplete(cmd, nil, started)
		}
	}

	removed, err := vault.RemoveKey()
	if err != nil {
		return auditCmdComplete(cmd, err, started)
	}

	if removed {
		fmt.Printf("Key for %q removed\n", vault.Identity())
	} else {
		fmt.Printf("No key present for %q\n", vault.Identity())
	}

	return auditCmdComplete(cmd, nil, started)
}
