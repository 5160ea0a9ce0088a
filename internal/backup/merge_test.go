package backup

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starpos/vmbkp/internal/archive"
)

func TestMergeRollsBackwards(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out timestamp granularity between generations")
	}
	dir := t.TempDir()

	// Three generations. Timestamps carry whole-second resolution, so
	// space the dumps out a little.
	gen0 := newGeneration(dir, "gen0")
	writeDisk(t, gen0.disk, [][]byte{
		fillBlock('A'), fillBlock('B'), zeroBlock(), fillBlock('C'),
	})
	dumpFull(t, gen0, false)

	time.Sleep(1100 * time.Millisecond)
	gen1 := newGeneration(dir, "gen1")
	writeDisk(t, gen1.disk, [][]byte{
		fillBlock('A'), fillBlock('X'), zeroBlock(), fillBlock('C'),
	})
	dumpDiff(t, gen0, gen1)

	time.Sleep(1100 * time.Millisecond)
	gen2 := newGeneration(dir, "gen2")
	writeDisk(t, gen2.disk, [][]byte{
		fillBlock('A'), fillBlock('X'), fillBlock('Y'), fillBlock('C'),
	})
	dumpDiff(t, gen1, gen2)

	// The newest full plus the rdiff chain rolls back to generation 0:
	// rdiffs carry the previous generation's data, and at each offset
	// the last input listing it wins.
	merged := dir + "/merged.dump"
	cfg := archive.Config{
		Command:   archive.CmdMerge,
		Archives:  []string{gen2.dump, gen2.rdiff, gen1.rdiff},
		DumpOut:   merged,
		BlockSize: testBlockSize,
	}
	require.NoError(t, Merge(cfg))

	want, err := os.ReadFile(gen0.dump)
	require.NoError(t, err)
	got, err := os.ReadFile(merged)
	require.NoError(t, err)
	assert.Equal(t, want, got, "merge reproduces generation 0 byte for byte")
}

func TestMergeRdiffChainToRdiff(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out timestamp granularity between generations")
	}
	dir := t.TempDir()

	gen0 := newGeneration(dir, "gen0")
	writeDisk(t, gen0.disk, [][]byte{
		fillBlock('A'), fillBlock('B'), fillBlock('C'), fillBlock('D'),
	})
	dumpFull(t, gen0, false)

	time.Sleep(1100 * time.Millisecond)
	gen1 := newGeneration(dir, "gen1")
	writeDisk(t, gen1.disk, [][]byte{
		fillBlock('A'), fillBlock('X'), fillBlock('C'), fillBlock('D'),
	})
	dumpDiff(t, gen0, gen1)

	time.Sleep(1100 * time.Millisecond)
	gen2 := newGeneration(dir, "gen2")
	writeDisk(t, gen2.disk, [][]byte{
		fillBlock('A'), fillBlock('X'), fillBlock('Y'), fillBlock('D'),
	})
	dumpDiff(t, gen1, gen2)

	// Merging just the rdiffs (newest first) collapses them into one
	// delta that rolls generation 2 back to generation 0.
	merged := dir + "/merged.rdiff"
	cfg := archive.Config{
		Command:   archive.CmdMerge,
		Archives:  []string{gen2.rdiff, gen1.rdiff},
		RdiffOut:  merged,
		BlockSize: testBlockSize,
	}
	require.NoError(t, Merge(cfg))

	h, blocks := readDumpBlocks(t, merged)
	assert.False(t, h.Full)
	require.Len(t, blocks, 2)
	assert.Equal(t, uint64(1), blocks[0].Offset)
	assert.Equal(t, fillBlock('B'), blocks[0].Buf(), "generation 0's data wins at offset 1")
	assert.Equal(t, uint64(2), blocks[1].Offset)
	assert.Equal(t, fillBlock('C'), blocks[1].Buf())
}

func TestMergeNeedsTwoArchives(t *testing.T) {
	cfg := archive.Config{
		Command:   archive.CmdMerge,
		Archives:  []string{"only-one.dump"},
		DumpOut:   "out.dump",
		BlockSize: testBlockSize,
	}
	err := Merge(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, archive.ErrConfiguration)
}
