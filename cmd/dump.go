package cmd

import (
	"github.com/spf13/cobra"

	"github.com/starpos/vmbkp/internal/archive"
	"github.com/starpos/vmbkp/internal/backup"
)

var dumpCmd = &cobra.Command{
	Use:   "dump [disk]",
	Short: "Dump a disk into a full or incremental archive plus digest",
	Long: `Dump reads every block of the disk and writes a dump and a digest
stream. Modes:

  full: a new generation with a fresh identity (--dumpout, --digestout)
  diff: against the previous dump+digest pair, also emitting an rdiff
        (--dumpin, --digestin, --dumpout, --digestout, --rdiffout)
  incr: like diff, reading only blocks marked in a changed-block bitmap
        (all of the above plus --bmpin)`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := buildConfig(cmd, archive.CmdDump, nil)
		disk, err := targetDisk(args)
		if err != nil {
			return err
		}
		stop := backup.NotifySignals()
		defer stop.Stop()
		return backup.Dump(cfg, driverFactory(disk), stop)
	},
}

func init() {
	addStreamFlags(dumpCmd)
	f := dumpCmd.Flags()
	f.StringVar(&modeStr, "mode", "", "dump mode: full, diff, or incr")
	f.Uint64Var(&blockSize, "blocksize", archive.DefaultBlockSize,
		"block size in bytes (multiple of 512)")
	f.StringVar(&localPath, "local", "", "target disk image file")
	f.BoolVar(&useSAN, "san", false, "try the SAN transport")
	rootCmd.AddCommand(dumpCmd)
}
