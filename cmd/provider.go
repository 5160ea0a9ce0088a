package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/starpos/vmbkp/internal/provider"
)

// providerCmd is the worker child the controller spawns; it owns the
// disk and answers framed commands on stdin/stdout.
var providerCmd = &cobra.Command{
	Use:    "provider",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return provider.Serve(provider.Options{
			Path:      providerPath,
			BlockSize: providerBlockSize,
			ReadOnly:  providerReadOnly,
			SAN:       providerSAN,
		}, os.Stdin, os.Stdout)
	},
}

var (
	providerPath      string
	providerBlockSize uint64
	providerReadOnly  bool
	providerSAN       bool
)

func init() {
	f := providerCmd.Flags()
	f.StringVar(&providerPath, "path", "", "disk image file")
	f.Uint64Var(&providerBlockSize, "blocksize", 0, "block size in bytes")
	f.BoolVar(&providerReadOnly, "readonly", false, "open the disk read only")
	f.BoolVar(&providerSAN, "san", false, "use the SAN transport")
	providerCmd.MarkFlagRequired("path")
	providerCmd.MarkFlagRequired("blocksize")
	rootCmd.AddCommand(providerCmd)
}
