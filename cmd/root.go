package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	backupDir      string
	passphraseFlag string
	outputFormat   string
)

var rootCmd = &cobra.Command{
	Use:   "ibackupcrypt",
	Short: "Decrypt an encrypted mobile-device backup",
	Long: `ibackupcrypt decrypts an encrypted mobile-device backup directory: it
unlocks the backup's keybag with a passphrase, decrypts its file index,
and extracts individual files by relative path or pattern.

Commands:
  list      List index entries matching a relative-path pattern
  extract   Decrypt and write one or more files to a destination directory`,
	Version: "0.1.0-dev",
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

	rootCmd.PersistentFlags().StringVarP(&backupDir, "backup-dir", "b", "", "path to the backup directory (required)")
	rootCmd.PersistentFlags().StringVar(&passphraseFlag, "passphrase", "", "backup passphrase (prefer IBACKUPCRYPT_PASSPHRASE instead)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "output format (table, json)")
	rootCmd.MarkPersistentFlagRequired("backup-dir")
}
