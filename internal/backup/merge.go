package backup

import (
	"fmt"

	"github.com/starpos/vmbkp/internal/archive"
)

// Merge collapses an ordered full+rdiff chain into a single archive:
// a full dump when the chain's synthetic header is full, an rdiff
// otherwise. Offsets no input carries are implicitly unchanged or zero
// across the chain and are skipped.
func Merge(cfg archive.Config) error {
	if len(cfg.Archives) < 2 {
		return fmt.Errorf("%w: merge needs two or more archives", archive.ErrConfiguration)
	}
	multi, err := archive.OpenMultiReader(cfg.Archives, !cfg.Serial)
	if err != nil {
		return err
	}
	defer multi.Close()

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

	header := multi.Header()
	full := header.Full
	if full {
		err = mgr.WriteDumpHeader(header)
	} else {
		err = mgr.WriteRdiffHeader(header)
	}
	if err != nil {
		return err
	}

	for offset := uint64(0); offset < multi.DiskSize(); offset++ {
		b, err := multi.ReadBlock()
		if err != nil {
			return fmt.Errorf("merge at block %d: %w", offset, err)
		}
		if b == nil {
			continue
		}
		if full {
			err = mgr.WriteDumpBlock(b)
		} else {
			err = mgr.WriteRdiffBlock(b)
		}
		if err != nil {
			return fmt.Errorf("merge at block %d: %w", offset, err)
		}
	}

	closed = true
	return mgr.Close()
}
