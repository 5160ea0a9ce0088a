package cmd

import (
	"github.com/spf13/cobra"

	"github.com/starpos/vmbkp/internal/archive"
	"github.com/starpos/vmbkp/internal/backup"
)

var restoreCmd = &cobra.Command{
	Use:   "restore [archives...]",
	Short: "Restore a disk from a full dump plus rdiff chain",
	Long: `Restore merges the given archives (one full dump followed by rdiffs,
newest first) and writes the result back to the target disk. With --san
and --omitzeroblock on a full restore, non-zero blocks are first
allocated over the ordinary transport before the data is streamed over
the fast one; --digestin is required for that path.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := buildConfig(cmd, archive.CmdRestore, args)
		disk, err := targetDisk(nil)
		if err != nil {
			return err
		}
		stop := backup.NotifySignals()
		defer stop.Stop()
		return backup.Restore(cfg, driverFactory(disk), stop)
	},
}

func init() {
	restoreCmd.Flags().StringVar(&digestIn, "digestin", "", "input digest file (for --san)")
	f := restoreCmd.Flags()
	f.StringVar(&localPath, "local", "", "target disk image file")
	f.BoolVar(&useSAN, "san", false, "try the SAN transport")
	f.BoolVar(&omitZeroBlock, "omitzeroblock", false,
		"do not write all-zero blocks (thin target)")
	f.BoolVar(&writeMetadata, "metadata", false, "write archived metadata to the target")
	f.BoolVar(&createDisk, "create", false, "create the target disk before restoring")
	rootCmd.AddCommand(restoreCmd)
}
