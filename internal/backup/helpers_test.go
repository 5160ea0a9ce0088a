package backup

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/starpos/vmbkp/internal/archive"
	"github.com/starpos/vmbkp/internal/provider"
)

const testBlockSize = 512

// zeroBlock and the letter blocks build the scenario disks.
func zeroBlock() []byte { return make([]byte, testBlockSize) }

func fillBlock(c byte) []byte {
	return bytes.Repeat([]byte{c}, testBlockSize)
}

// writeDisk materializes a disk image out of whole blocks.
func writeDisk(t *testing.T, path string, blocks [][]byte) {
	t.Helper()
	var data []byte
	for _, b := range blocks {
		require.Len(t, b, testBlockSize)
		data = append(data, b...)
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

// directFactory builds in-process drivers against the given disk file.
func directFactory(path string) DriverFactory {
	return func(blockSize uint64, readOnly, san bool) provider.Driver {
		return provider.NewDirect(provider.Options{
			Path:      path,
			BlockSize: blockSize,
			ReadOnly:  readOnly,
			SAN:       san,
		})
	}
}

// writeBitmapFile serializes a changed-block bitmap for --bmpin.
func writeBitmapFile(t *testing.T, path string, bits []bool) {
	t.Helper()
	bmp := archive.NewBitmap(uint64(len(bits)))
	for i, on := range bits {
		bmp.Set(uint64(i), on)
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	e := archive.NewEncoder(f)
	require.NoError(t, bmp.Encode(e))
	require.NoError(t, e.Flush())
	require.NoError(t, f.Close())
}

// readDumpBlocks loads a whole dump/rdiff archive into memory.
func readDumpBlocks(t *testing.T, path string) (*archive.DumpHeader, []*archive.DumpBlock) {
	t.Helper()
	in, err := archive.OpenDumpInput(path, false)
	require.NoError(t, err)
	defer in.Close()
	var blocks []*archive.DumpBlock
	for {
		b, err := in.Read()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		blocks = append(blocks, b)
	}
	return in.Header(), blocks
}

// readDigestBlocks loads a whole digest archive into memory.
func readDigestBlocks(t *testing.T, path string) (*archive.DigestHeader, []*archive.DigestBlock) {
	t.Helper()
	in, err := archive.OpenDigestInput(path, false)
	require.NoError(t, err)
	defer in.Close()
	var blocks []*archive.DigestBlock
	for {
		b, err := in.Read()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		blocks = append(blocks, b)
	}
	return in.Header(), blocks
}

// generation holds the file set one dump run produces.
type generation struct {
	disk   string
	dump   string
	digest string
	rdiff  string
}

func newGeneration(dir, name string) generation {
	return generation{
		disk:   filepath.Join(dir, name+".img"),
		dump:   filepath.Join(dir, name+".dump"),
		digest: filepath.Join(dir, name+".digest"),
		rdiff:  filepath.Join(dir, name+".rdiff"),
	}
}

// dumpFull runs a full dump of the generation's disk.
func dumpFull(t *testing.T, g generation, serial bool) {
	t.Helper()
	cfg := archive.Config{
		Command:   archive.CmdDump,
		Mode:      archive.ModeFull,
		DumpOut:   g.dump,
		DigestOut: g.digest,
		BlockSize: testBlockSize,
		Serial:    serial,
	}
	require.NoError(t, Dump(cfg, directFactory(g.disk), nil))
}

// dumpDiff runs a differential dump of curr against prev.
func dumpDiff(t *testing.T, prev, curr generation) {
	t.Helper()
	cfg := archive.Config{
		Command:   archive.CmdDump,
		Mode:      archive.ModeDiff,
		DumpIn:    prev.dump,
		DigestIn:  prev.digest,
		DumpOut:   curr.dump,
		DigestOut: curr.digest,
		RdiffOut:  curr.rdiff,
		BlockSize: testBlockSize,
	}
	require.NoError(t, Dump(cfg, directFactory(curr.disk), nil))
}

// dumpIncr runs an incremental dump of curr against prev with the given
// changed-block bitmap.
func dumpIncr(t *testing.T, prev, curr generation, bitmapPath string) {
	t.Helper()
	cfg := archive.Config{
		Command:   archive.CmdDump,
		Mode:      archive.ModeIncr,
		DumpIn:    prev.dump,
		DigestIn:  prev.digest,
		DumpOut:   curr.dump,
		DigestOut: curr.digest,
		RdiffOut:  curr.rdiff,
		BitmapIn:  bitmapPath,
		BlockSize: testBlockSize,
	}
	require.NoError(t, Dump(cfg, directFactory(curr.disk), nil))
}
