package backup

import (
	"errors"
	"fmt"
	"io"

	"github.com/starpos/vmbkp/internal/archive"
)

// Digest rebuilds a digest stream from an existing dump: the output
// header copies the dump's identity and timestamp, and every block's
// fingerprint is recomputed.
func Digest(cfg archive.Config) error {
	mgr, err := archive.NewManager(cfg)
	if err != nil {
		return err
	}
	closed := false
	defer func() {
		if !closed {
			mgr.Close()
		}
	}()

	dumpH, err := mgr.ReadDumpHeader()
	if err != nil {
		return err
	}
	digestH := &archive.DigestHeader{}
	digestH.SetFrom(dumpH)
	if err := mgr.WriteDigestHeader(digestH); err != nil {
		return err
	}

	digestB := archive.NewDigestBlock()
	for offset := uint64(0); offset < dumpH.DiskSize; offset++ {
		dumpB, err := mgr.ReadDumpBlock()
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("%w: dump ends at block %d of %d",
				archive.ErrFormat, offset, dumpH.DiskSize)
		}
		if err != nil {
			return fmt.Errorf("digest at block %d: %w", offset, err)
		}
		digestB.SetFrom(dumpB)
		if err := mgr.WriteDigestBlock(digestB); err != nil {
			return fmt.Errorf("digest at block %d: %w", offset, err)
		}
	}

	closed = true
	return mgr.Close()
}
