package backup

import (
	"errors"
	"fmt"
	"io"

	"github.com/starpos/vmbkp/internal/archive"
)

// Check walks a full+rdiff archive chain alongside its digest stream
// and verifies every present block against its fingerprint and the
// headers against each other. It prints "Check: OK" or "Check: WRONG"
// to out and returns a consistency error for WRONG.
func Check(cfg archive.Config, out io.Writer) error {
	if len(cfg.Archives) < 1 {
		return fmt.Errorf("%w: check needs one or more archives", archive.ErrConfiguration)
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
	defer mgr.Close()

	dumpH := multi.Header()
	digestH, err := mgr.ReadDigestHeader()
	if err != nil {
		return err
	}
	sameSnapshot := archive.SameSnapshot(dumpH, digestH)

	check := archive.NewDigestBlock()
	sameBlocks := true
	for !multi.EOF() {
		b, err := multi.ReadBlock()
		if err != nil {
			return err
		}
		digestB, err := mgr.ReadDigestBlock()
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("%w: premature end of digest", archive.ErrFormat)
		}
		if err != nil {
			return err
		}
		if b == nil {
			// No archive carries this offset; there is nothing to
			// compare the digest against.
			continue
		}
		check.SetFrom(b)
		if !check.Equal(digestB) {
			sameBlocks = false
		}
	}

	if sameBlocks && sameSnapshot {
		fmt.Fprintln(out, "Check: OK")
		return nil
	}
	fmt.Fprintln(out, "Check: WRONG")
	return fmt.Errorf("%w: archive does not match its digest", archive.ErrConsistency)
}
