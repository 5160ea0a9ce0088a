package backup

import (
	"fmt"
	"os"

	"github.com/starpos/vmbkp/internal/archive"
	"github.com/starpos/vmbkp/internal/provider"
)

// DriverFactory builds a provider driver for the given block size and
// access mode. The dump and restore orchestrators construct drivers
// through it so the child-process controller and the in-process driver
// are interchangeable.
type DriverFactory func(blockSize uint64, readOnly, san bool) provider.Driver

// readBlockAttempts bounds the retries of one source block read.
const readBlockAttempts = 10

// resetAfterFailures is the failure count from which each further retry
// is preceded by a full provider reset.
const resetAfterFailures = 2

// Dump runs one full, differential, or incremental dump: it reconciles
// the previous generation's dump+digest pair, the changed-block bitmap,
// and freshly read source blocks into a new dump + digest (+ rdiff)
// triple.
func Dump(cfg archive.Config, newDriver DriverFactory, stop *SignalFlag) error {
	drv := newDriver(cfg.BlockSize, true, cfg.UseSAN)
	if err := drv.Start(); err != nil {
		return err
	}
	defer drv.Stop()
	if err := drv.Open(); err != nil {
		return err
	}
	defer drv.Close()

	info, err := drv.ReadInfo()
	if err != nil {
		return err
	}
	metadata, err := drv.ReadMetadata()
	if err != nil {
		return err
	}

	mgr, err := archive.NewDumpManager(cfg)
	if err != nil {
		return err
	}
	closed := false
	defer func() {
		if !closed {
			mgr.Close()
		}
	}()

	prevDumpH, _, err := mgr.ReadPrevHeaders()
	if err != nil {
		return err
	}
	dumpH, digestH, rdiffH := mgr.SetHeaders(info.NumBlocks, info.AdapterType, prevDumpH, metadata)
	if err := mgr.WriteHeaders(dumpH, digestH, rdiffH); err != nil {
		return err
	}

	bitmap, err := mgr.ReadChangedBitmap(dumpH.DiskSize)
	if err != nil {
		return err
	}

	currDigestB := archive.NewDigestBlock()
	for offset := uint64(0); offset < dumpH.DiskSize; offset++ {
		if stop.Signaled() {
			return fmt.Errorf("dump at block %d: %w", offset, ErrCancelled)
		}

		prevDumpB, prevDigestB, err := mgr.ReadPrev()
		if err != nil {
			return fmt.Errorf("dump at block %d: %w", offset, err)
		}

		maybeChanged := mgr.Mode() != archive.ModeIncr || bitmap.Get(offset)

		var currDumpB *archive.DumpBlock
		if maybeChanged {
			currDumpB = archive.NewDumpBlock(cfg.BlockSize)
			if err := readBlockRetry(drv, mgr, cfg, offset, currDumpB.Buf()); err != nil {
				return err
			}
			currDumpB.DetectZero()
			currDumpB.Offset = offset
		} else {
			// The bitmap says the block cannot have changed, so the
			// previous generation's copy stands in for a source read.
			currDumpB = prevDumpB.Clone()
		}

		currDigestB.SetFrom(currDumpB)
		if _, err := mgr.WriteStreams(prevDumpB, prevDigestB, currDumpB, currDigestB); err != nil {
			return fmt.Errorf("dump at block %d: %w", offset, err)
		}
	}

	closed = true
	return mgr.Close()
}

// readBlockRetry reads one source block with a bounded retry budget.
// From the second failure on, each retry is preceded by a provider
// reset; the reset re-spawns the provider child, so every archive
// stream worker is paused across it.
func readBlockRetry(drv provider.Driver, mgr *archive.DumpManager,
	cfg archive.Config, offset uint64, buf []byte) error {

	var last error
	for attempt := 0; attempt < readBlockAttempts; attempt++ {
		err := drv.ReadBlock(offset, buf)
		if err == nil {
			return nil
		}
		last = err
		fmt.Fprintf(os.Stderr, "read block %d: %v\n", offset, err)
		if attempt+1 >= readBlockAttempts {
			break
		}
		if attempt+1 >= resetAfterFailures {
			drv.Close()
			mgr.Pause()
			if err := drv.Reset(true, cfg.UseSAN); err != nil {
				mgr.Resume()
				return fmt.Errorf("reset provider after block %d: %w", offset, err)
			}
			mgr.Resume()
			if err := drv.Open(); err != nil {
				return fmt.Errorf("reopen disk after block %d: %w", offset, err)
			}
		}
	}
	return fmt.Errorf("read block %d after %d attempts: %w",
		offset, readBlockAttempts, last)
}
