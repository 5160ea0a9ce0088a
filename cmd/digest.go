package cmd

import (
	"github.com/spf13/cobra"

	"github.com/starpos/vmbkp/internal/archive"
	"github.com/starpos/vmbkp/internal/backup"
)

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Rebuild a digest stream from an existing dump",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := buildConfig(cmd, archive.CmdDigest, nil)
		return backup.Digest(cfg)
	},
}

func init() {
	f := digestCmd.Flags()
	f.StringVar(&dumpIn, "dumpin", "", "input dump file")
	f.StringVar(&digestOut, "digestout", "", "output digest file")
	rootCmd.AddCommand(digestCmd)
}
