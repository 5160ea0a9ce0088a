package archive

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chainHeaders builds a full header plus n rdiff headers sharing one
// disk identity with strictly decreasing timestamps.
func chainHeaders(t *testing.T, n int) []*DumpHeader {
	t.Helper()
	base := testDumpHeader()
	headers := []*DumpHeader{base}
	for i := 1; i <= n; i++ {
		h := base.Clone()
		h.Full = false
		h.Timestamp = NewTimestamp(base.Timestamp.Time().Add(-time.Duration(i) * time.Hour))
		headers = append(headers, h)
	}
	return headers
}

func block(payload []byte) []byte { return payload }

func TestMultiReaderLastInputWins(t *testing.T) {
	dir := t.TempDir()
	headers := chainHeaders(t, 2)

	a := bytes.Repeat([]byte("a"), 512)
	b := bytes.Repeat([]byte("b"), 512)
	c := bytes.Repeat([]byte("c"), 512)

	// Full covers all four offsets; the first rdiff overrides #1 and
	// #3; the second overrides #3 again. The winner at each offset is
	// the last input listing it.
	full := writeTestDump(t, dir, "full.dump", headers[0],
		[][]byte{block(a), block(a), block(a), block(a)})
	r1 := writeTestDump(t, dir, "r1.rdiff", headers[1],
		[][]byte{nil, block(b), nil, block(b)})
	r2 := writeTestDump(t, dir, "r2.rdiff", headers[2],
		[][]byte{nil, nil, nil, block(c)})

	m, err := OpenMultiReader([]string{full, r1, r2}, true)
	require.NoError(t, err)
	defer m.Close()

	want := [][]byte{a, b, a, c}
	for i, expected := range want {
		require.False(t, m.EOF())
		blk, err := m.ReadBlock()
		require.NoError(t, err)
		require.NotNil(t, blk, "offset %d", i)
		assert.Equal(t, uint64(i), blk.Offset)
		assert.Equal(t, expected, blk.Buf())
	}
	assert.True(t, m.EOF())
}

func TestMultiReaderSkipsAbsentOffsets(t *testing.T) {
	dir := t.TempDir()
	headers := chainHeaders(t, 1)

	x := bytes.Repeat([]byte("x"), 512)

	// A sparse chain: only offsets 1 and 3 are present anywhere.
	full := writeTestDump(t, dir, "full.dump", headers[0],
		[][]byte{nil, block(x), nil, nil})
	r1 := writeTestDump(t, dir, "r1.rdiff", headers[1],
		[][]byte{nil, nil, nil, block(x)})

	m, err := OpenMultiReader([]string{full, r1}, true)
	require.NoError(t, err)
	defer m.Close()

	present := make(map[uint64]bool)
	for !m.EOF() {
		offset := m.Offset()
		blk, err := m.ReadBlock()
		require.NoError(t, err)
		if blk != nil {
			present[offset] = true
		}
	}
	assert.Equal(t, map[uint64]bool{1: true, 3: true}, present)
}

func TestMultiReaderSyntheticHeader(t *testing.T) {
	dir := t.TempDir()
	headers := chainHeaders(t, 2)

	full := writeTestDump(t, dir, "full.dump", headers[0], nil)
	r1 := writeTestDump(t, dir, "r1.rdiff", headers[1], nil)
	r2 := writeTestDump(t, dir, "r2.rdiff", headers[2], nil)

	m, err := OpenMultiReader([]string{full, r1, r2}, true)
	require.NoError(t, err)
	defer m.Close()

	// The synthetic header takes the last input's timestamp and the
	// first input's full flag.
	h := m.Header()
	assert.True(t, h.Full)
	assert.True(t, h.Timestamp.Equal(headers[2].Timestamp))
	assert.Equal(t, headers[0].UUID, h.UUID)
}

func TestMultiReaderHeaderChecks(t *testing.T) {
	dir := t.TempDir()
	headers := chainHeaders(t, 2)

	t.Run("different disk", func(t *testing.T) {
		other := testDumpHeader() // fresh uuid
		full := writeTestDump(t, dir, "a.dump", headers[0], nil)
		bad := writeTestDump(t, dir, "b.rdiff", other, nil)
		_, err := OpenMultiReader([]string{full, bad}, true)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConsistency)
	})

	t.Run("rdiff timestamps must decrease", func(t *testing.T) {
		full := writeTestDump(t, dir, "c.dump", headers[0], nil)
		// Swap the two rdiffs so the newer one comes first.
		r2 := writeTestDump(t, dir, "d.rdiff", headers[2], nil)
		r1 := writeTestDump(t, dir, "e.rdiff", headers[1], nil)
		_, err := OpenMultiReader([]string{full, r2, r1}, true)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConsistency)
	})

	t.Run("empty list", func(t *testing.T) {
		_, err := OpenMultiReader(nil, true)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConfiguration)
	})
}

func TestMultiReaderPauseResume(t *testing.T) {
	dir := t.TempDir()
	headers := chainHeaders(t, 1)

	a := bytes.Repeat([]byte("a"), 512)
	b := bytes.Repeat([]byte("b"), 512)
	full := writeTestDump(t, dir, "full.dump", headers[0],
		[][]byte{block(a), block(a), block(a), block(a)})
	r1 := writeTestDump(t, dir, "r1.rdiff", headers[1],
		[][]byte{nil, block(b), nil, nil})

	m, err := OpenMultiReader([]string{full, r1}, true)
	require.NoError(t, err)
	defer m.Close()

	want := [][]byte{a, b, a, a}
	for i, expected := range want {
		m.Pause()
		m.Resume()
		blk, err := m.ReadBlock()
		require.NoError(t, err)
		require.NotNil(t, blk)
		assert.Equal(t, expected, blk.Buf(), "offset %d", i)
	}
	assert.True(t, m.EOF())
}
