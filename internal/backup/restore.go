package backup

import (
	"errors"
	"fmt"
	"io"

	"github.com/starpos/vmbkp/internal/archive"
	"github.com/starpos/vmbkp/internal/provider"
)

// Restore writes the merged content of an ordered full+rdiff archive
// chain back to the target disk.
func Restore(cfg archive.Config, newDriver DriverFactory, stop *SignalFlag) error {
	if len(cfg.Archives) < 1 {
		return fmt.Errorf("%w: restore needs one or more archives", archive.ErrConfiguration)
	}
	multi, err := archive.OpenMultiReader(cfg.Archives, !cfg.Serial)
	if err != nil {
		return err
	}
	defer multi.Close()

	dumpH := multi.Header()

	// The two-phase SAN path only applies when restoring a full image
	// while skipping zero blocks: the first phase allocates storage for
	// every non-zero offset over the ordinary transport, the second
	// streams the data over the fast one.
	if cfg.UseSAN && dumpH.Full && !cfg.WriteZeroBlocks {
		return restoreSAN(cfg, multi, dumpH, newDriver, stop)
	}
	return restoreNBD(cfg, multi, dumpH, newDriver, stop)
}

func restoreNBD(cfg archive.Config, multi *archive.MultiReader,
	dumpH *archive.DumpHeader, newDriver DriverFactory, stop *SignalFlag) error {

	// Starting the provider is fork-sensitive.
	multi.Pause()
	drv := newDriver(dumpH.BlockSize, false, false)
	err := drv.Start()
	multi.Resume()
	if err != nil {
		return err
	}
	defer drv.Stop()

	if cfg.Create {
		if err := drv.CreateDisk(dumpH); err != nil {
			return err
		}
	}
	if err := drv.Open(); err != nil {
		return err
	}
	defer drv.Close()

	if cfg.WriteMetadata {
		if err := drv.WriteMetadata(dumpH.Metadata); err != nil {
			return err
		}
	}

	if err := writeBlocksToDisk(drv, multi, dumpH.BlockSize, cfg.WriteZeroBlocks, stop); err != nil {
		return err
	}
	return drv.Shrink()
}

func restoreSAN(cfg archive.Config, multi *archive.MultiReader,
	dumpH *archive.DumpHeader, newDriver DriverFactory, stop *SignalFlag) error {

	// Phase one: over the ordinary transport, write one zero block at
	// every non-zero offset named by the digest, so a thin target has
	// storage allocated before the fast transport streams into it.
	if err := allocatePhase(cfg, multi, dumpH, newDriver); err != nil {
		return err
	}

	// Phase two: reopen via the fast transport and stream the data.
	multi.Pause()
	drv := newDriver(dumpH.BlockSize, false, true)
	err := drv.Start()
	if err == nil {
		err = drv.Open()
	}
	multi.Resume()
	if err != nil {
		drv.Stop()
		return err
	}
	defer drv.Stop()
	defer drv.Close()

	return writeBlocksToDisk(drv, multi, dumpH.BlockSize, false, stop)
}

func allocatePhase(cfg archive.Config, multi *archive.MultiReader,
	dumpH *archive.DumpHeader, newDriver DriverFactory) error {

	multi.Pause()
	drv := newDriver(dumpH.BlockSize, false, false)
	err := drv.Start()
	multi.Resume()
	if err != nil {
		return err
	}
	defer drv.Stop()

	if cfg.Create {
		if err := drv.CreateDisk(dumpH); err != nil {
			return err
		}
	}
	if err := drv.Open(); err != nil {
		return err
	}
	defer drv.Close()

	if cfg.WriteMetadata {
		if err := drv.WriteMetadata(dumpH.Metadata); err != nil {
			return err
		}
	}

	mgr, err := archive.NewManager(cfg)
	if err != nil {
		return err
	}
	defer mgr.Close()

	digestH, err := mgr.ReadDigestHeader()
	if err != nil {
		return err
	}
	if !archive.SameDisk(dumpH, digestH) {
		return fmt.Errorf("%w: the digest does not correspond to the input archives",
			archive.ErrConsistency)
	}

	zero := make([]byte, dumpH.BlockSize)
	for offset := uint64(0); ; offset++ {
		digestB, err := mgr.ReadDigestBlock()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if !digestB.AllZero() {
			if err := drv.WriteBlock(offset, zero); err != nil {
				return err
			}
		}
	}
}

// writeBlocksToDisk walks the merged archive and writes each present
// block to the target. All-zero blocks are written from a synthesized
// zero buffer or skipped, per policy; absent offsets are always
// skipped.
func writeBlocksToDisk(drv provider.Driver, multi *archive.MultiReader,
	blockSize uint64, writeZero bool, stop *SignalFlag) error {

	zero := make([]byte, blockSize)
	for offset := uint64(0); !multi.EOF(); offset++ {
		if stop.Signaled() {
			return fmt.Errorf("restore at block %d: %w", offset, ErrCancelled)
		}
		b, err := multi.ReadBlock()
		if err != nil {
			return fmt.Errorf("restore at block %d: %w", offset, err)
		}
		if b == nil {
			continue
		}
		if b.AllZero() {
			if writeZero {
				if err := drv.WriteBlock(offset, zero); err != nil {
					return err
				}
			}
			continue
		}
		if err := drv.WriteBlock(offset, b.Buf()); err != nil {
			return err
		}
	}
	return nil
}
