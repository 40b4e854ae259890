package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/essamgouda97/pdf-secure/internal/crypto"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a key provisioning file",
	Long: `Write a new random vault key to the configured key file. The file must be
kept with the vault, and losing it makes every registered document unreadable.`,
	Args: cobra.NoArgs,
	RunE: runKeygen,
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	path := viper.GetString("vault.key_file")
	if path == "" {
		return fmt.Errorf("no key file configured, use --key-file")
	}
	if err := crypto.GenerateKeyFile(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Key written to %s\n", path)
	return nil
}
