package cmd

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault status",
	Long:  "Display information about the vault including the drive it is bound to and memory protection level.",
	RunE:  showStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func showStatus(cmd *cobra.Command, args []string) error {
	status, err := vault.Status()
	if err != nil {
		return err
	}
	return renderStatus(cmd.OutOrStdout(), status, vaultPath)
}
