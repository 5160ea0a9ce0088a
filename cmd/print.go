package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/starpos/vmbkp/internal/archive"
	"github.com/starpos/vmbkp/internal/backup"
)

var printCmd = &cobra.Command{
	Use:   "print",
	Short: "Print the headers and block metadata of a dump or digest",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := buildConfig(cmd, archive.CmdPrint, nil)
		return backup.Print(cfg, os.Stdout)
	},
}

func init() {
	f := printCmd.Flags()
	f.StringVar(&dumpIn, "dumpin", "", "input dump or rdiff file")
	f.StringVar(&digestIn, "digestin", "", "input digest file")
	rootCmd.AddCommand(printCmd)
}
