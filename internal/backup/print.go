package backup

import (
	"errors"
	"fmt"
	"io"

	"github.com/starpos/vmbkp/internal/archive"
)

// Print writes a human-readable rendering of the open dump and/or
// digest input to out: the header, then one line of metadata per block.
func Print(cfg archive.Config, out io.Writer) error {
	mgr, err := archive.NewManager(cfg)
	if err != nil {
		return err
	}
	defer mgr.Close()

	if mgr.DumpInOpen() {
		dumpH, err := mgr.ReadDumpHeader()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "==========DUMP HEADER BEGIN==========")
		fmt.Fprint(out, dumpH)
		fmt.Fprintln(out, "==========DUMP HEADER END==========")
		for {
			b, err := mgr.ReadDumpBlock()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(out, b)
		}
	}

	if mgr.DigestInOpen() {
		digestH, err := mgr.ReadDigestHeader()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "==========DIGEST HEADER BEGIN==========")
		fmt.Fprintln(out, digestH)
		fmt.Fprintln(out, "==========DIGEST HEADER END==========")
		for {
			b, err := mgr.ReadDigestBlock()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(out, b)
		}
	}
	return nil
}
