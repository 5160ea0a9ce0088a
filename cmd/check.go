package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/starpos/vmbkp/internal/archive"
	"github.com/starpos/vmbkp/internal/backup"
)

var checkCmd = &cobra.Command{
	Use:   "check [archives...]",
	Short: "Verify an archive chain against its digest",
	Long: `Check merges the given archives and compares every block against the
digest stream named by --digestin, printing OK or WRONG.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := buildConfig(cmd, archive.CmdCheck, args)
		return backup.Check(cfg, os.Stdout)
	},
}

func init() {
	checkCmd.Flags().StringVar(&digestIn, "digestin", "", "input digest file")
	rootCmd.AddCommand(checkCmd)
}
