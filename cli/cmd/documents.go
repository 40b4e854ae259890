package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	pdfsecure "github.com/essamgouda97/pdf-secure"
	"github.com/essamgouda97/pdf-secure/rasterizer"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register documents from the intake directory",
	Long: `Render every document in the intake directory into encrypted page images,
ask how many times each may be opened, and delete the source once it is
safely in the vault. A document registered under an existing name replaces
the earlier one.`,
	Args: cobra.NoArgs,
	RunE: runRegister,
}

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Browse and view registered documents",
	Long: `List the registered documents and page through the one you pick.
Every time a document is closed counts as one open.

--preview writes the page on screen to a plain PNG file. It is deleted when
the viewer exits normally but stays on disk if the process is killed, so point
it at memory-backed storage such as /dev/shm.`,
	Args: cobra.NoArgs,
	RunE: runView,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered documents",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var resetCmd = &cobra.Command{
	Use:   "reset <document>",
	Short: "Reset the open count of a document",
	Long: `Reset the open count of a document so it can be opened again, optionally
changing how many opens it allows.`,
	Args: cobra.ExactArgs(1),
	RunE: runReset,
}

var (
	registerFile string
	viewPreview  string
	resetMax     int
)

func init() {
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(resetCmd)

	registerCmd.Flags().StringVarP(&registerFile, "file", "f", "", "register a single file instead of the intake directory")
	registerCmd.Flags().Int("scale", 0, "long side of rendered pages in pixels")
	registerCmd.Flags().String("pdftoppm", "", "pdftoppm executable")
	if err := viper.BindPFlag("render.scale", registerCmd.Flags().Lookup("scale")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("render.pdftoppm", registerCmd.Flags().Lookup("pdftoppm")); err != nil {
		panic(err)
	}

	viewCmd.Flags().StringVar(&viewPreview, "preview", "", "also write the current page, unencrypted, to this PNG file (deleted on normal exit, left behind if the process is killed)")

	resetCmd.Flags().IntVar(&resetMax, "max", -1, "new maximum number of opens (default keeps the current one)")
}

func runRegister(cmd *cobra.Command, args []string) error {
	poppler := rasterizer.Poppler{
		Binary: viper.GetString("render.pdftoppm"),
		Scale:  viper.GetInt("render.scale"),
	}
	if err := poppler.Available(); err != nil {
		return err
	}

	line := newLiner()
	defer line.Close()

	registrar, err := vault.Registrar(poppler, &linerPrompter{in: line, out: cmd.OutOrStdout()})
	if err != nil {
		return err
	}

	started := time.Now()
	var results []pdfsecure.RegistrationResult
	if registerFile != "" {
		var result pdfsecure.RegistrationResult
		result, err = registrar.RegisterFile(cmd.Context(), registerFile)
		if err == nil {
			results = append(results, result)
		}
	} else {
		results, err = registrar.RegisterIntake(cmd.Context())
	}

	renderResults(cmd.OutOrStdout(), results, time.Since(started))
	return err
}

func runView(cmd *cobra.Command, args []string) error {
	session, err := vault.NewSession()
	if err != nil {
		return err
	}
	defer session.Close()

	line := newLiner()
	defer line.Close()

	display := &terminalDisplay{in: line, out: cmd.OutOrStdout(), previewPath: viewPreview}
	defer func() {
		if err := display.Close(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to remove preview: %v\n", err)
		}
	}()

	return session.Run(cmd.Context(), &lineSelector{in: line, out: cmd.OutOrStdout()}, display)
}

func runList(cmd *cobra.Command, args []string) error {
	session, err := vault.NewSession()
	if errors.Is(err, pdfsecure.ErrLedgerMissing) {
		return renderDocumentList(cmd.OutOrStdout(), nil)
	}
	if err != nil {
		return err
	}
	defer session.Close()

	return renderDocumentList(cmd.OutOrStdout(), session.Documents())
}

func runReset(cmd *cobra.Command, args []string) error {
	docKey := pdfsecure.DocumentKey(args[0])
	if err := vault.ResetDocument(docKey, resetMax); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Open count of %s reset.\n", pdfsecure.DisplayName(docKey))
	return nil
}
