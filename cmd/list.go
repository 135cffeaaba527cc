package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/loftwing/ibackupcrypt"
	"github.com/loftwing/ibackupcrypt/internal/interfaces"
	"github.com/spf13/cobra"
)

var listPattern string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List index entries matching a relative-path SQL LIKE pattern",
	Long: `List decrypts the backup's index and prints every entry with flags = 1
whose relativePath matches the given pattern, ordered by (domain, relativePath).

Example:
  ibackupcrypt --backup-dir ./backup list --pattern "Media/%.jpg"`,

	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase, err := resolvePassphrase(passphraseFlag)
		if err != nil {
			return err
		}
		s := ibackupcrypt.Open(backupDir, passphrase)
		defer s.Close()
		return runList(s, os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVarP(&listPattern, "pattern", "p", "%", "SQL LIKE pattern to match relativePath against")
}

func runList(s interfaces.Decryptor, out io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	format := outputFormat
	if format == "" {
		format = cfg.DefaultOutputFormat
	}

	matches, err := s.LookupLike(listPattern)
	if err != nil {
		return fmt.Errorf("listing %q: %w", listPattern, err)
	}

	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		type row struct {
			FileID          string `json:"fileID"`
			RelativePath    string `json:"relativePath"`
			ProtectionClass int32  `json:"protectionClass"`
			HasPayload      bool   `json:"hasPayload"`
		}
		rows := make([]row, 0, len(matches))
		for _, m := range matches {
			rows = append(rows, row{
				FileID:          m.FileID,
				RelativePath:    m.RelativePath,
				ProtectionClass: int32(m.Entry.ProtectionClass),
				HasPayload:      m.Entry.HasKey(),
			})
		}
		return enc.Encode(rows)
	}

	for _, m := range matches {
		fmt.Fprintf(out, "%-40s  class=%-4v payload=%v  %s\n", m.FileID, m.Entry.ProtectionClass, m.Entry.HasKey(), m.RelativePath)
	}
	return nil
}
