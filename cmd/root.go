package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/starpos/vmbkp/internal/archive"
	"github.com/starpos/vmbkp/internal/backup"
	"github.com/starpos/vmbkp/internal/provider"
)

var rootCmd = &cobra.Command{
	Use:   "vmbkp",
	Short: "Block-level backup tool for virtual disk images",
	Long: `vmbkp backs up fixed-size virtual-disk images at block granularity.

A dump run produces a full or incremental disk archive together with a
per-block digest stream and, for non-full runs, a reverse delta (rdiff)
that rolls the new full backwards to the previous generation. Archives
can be restored, verified, merged, and re-digested.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Stream and behavior flags shared by the archive commands.
var (
	dumpIn    string
	digestIn  string
	dumpOut   string
	digestOut string
	bmpIn     string
	rdiffOut  string

	modeStr       string
	blockSize     uint64
	localPath     string
	useSAN        bool
	omitZeroBlock bool
	writeMetadata bool
	createDisk    bool
	serialIO      bool
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVar(&serialIO, "serial", false,
		"use single-threaded archive I/O")
}

// initConfig loads optional defaults from a vmbkp.yaml found beside the
// invocation or under the user's home.
func initConfig() {
	viper.SetConfigName("vmbkp")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.vmbkp")

	viper.SetDefault("blocksize", uint64(archive.DefaultBlockSize))
	viper.SetDefault("serial", false)

	// A missing config file just leaves the defaults in place.
	_ = viper.ReadInConfig()
}

// addStreamFlags registers the archive filename flags on a command.
func addStreamFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&dumpIn, "dumpin", "", "input dump or rdiff file")
	f.StringVar(&digestIn, "digestin", "", "input digest file")
	f.StringVar(&dumpOut, "dumpout", "", "output dump file")
	f.StringVar(&digestOut, "digestout", "", "output digest file")
	f.StringVar(&bmpIn, "bmpin", "", "changed block bitmap file")
	f.StringVar(&rdiffOut, "rdiffout", "", "output rdiff file")
}

// buildConfig assembles the archive configuration for one command run,
// folding in viper defaults where flags were not given.
func buildConfig(cmd *cobra.Command, command archive.Command, args []string) archive.Config {
	if !cmd.Flags().Changed("blocksize") {
		blockSize = viper.GetUint64("blocksize")
	}
	if !rootCmd.PersistentFlags().Changed("serial") {
		serialIO = viper.GetBool("serial")
	}
	return archive.Config{
		Command:         command,
		Mode:            archive.ParseMode(modeStr),
		DumpIn:          dumpIn,
		DigestIn:        digestIn,
		DumpOut:         dumpOut,
		DigestOut:       digestOut,
		RdiffOut:        rdiffOut,
		BitmapIn:        bmpIn,
		Archives:        args,
		BlockSize:       blockSize,
		UseSAN:          useSAN,
		WriteZeroBlocks: !omitZeroBlock,
		WriteMetadata:   writeMetadata,
		Create:          createDisk,
		Serial:          serialIO,
	}
}

// driverFactory builds child-process provider drivers for the given
// disk.
func driverFactory(path string) backup.DriverFactory {
	return func(blockSize uint64, readOnly, san bool) provider.Driver {
		return provider.NewController(provider.Options{
			Path:      path,
			BlockSize: blockSize,
			ReadOnly:  readOnly,
			SAN:       san,
		})
	}
}

// targetDisk resolves the disk path from --local or the positional
// argument.
func targetDisk(args []string) (string, error) {
	if localPath != "" {
		return localPath, nil
	}
	if len(args) > 0 {
		return args[0], nil
	}
	return "", fmt.Errorf("%w: specify the target disk with --local or as an argument",
		archive.ErrConfiguration)
}
