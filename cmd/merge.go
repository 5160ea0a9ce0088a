package cmd

import (
	"github.com/spf13/cobra"

	"github.com/starpos/vmbkp/internal/archive"
	"github.com/starpos/vmbkp/internal/backup"
)

var mergeCmd = &cobra.Command{
	Use:   "merge [archives...]",
	Short: "Collapse a full dump plus rdiff chain into one archive",
	Long: `Merge reads the given archives (one full dump followed by rdiffs,
newest first) and writes the image the chain rolls back to: to --dumpout
when the result is full, or to --rdiffout for a delta result.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := buildConfig(cmd, archive.CmdMerge, args)
		return backup.Merge(cfg)
	},
}

func init() {
	f := mergeCmd.Flags()
	f.StringVar(&dumpOut, "dumpout", "", "output dump file")
	f.StringVar(&rdiffOut, "rdiffout", "", "output rdiff file")
	rootCmd.AddCommand(mergeCmd)
}
