package archive

import (
	"fmt"
	"io"
)

// MultiReader merges an ordered list of archives — one full dump
// followed by rdiffs whose timestamps run strictly backwards — into one
// logical dump. At each offset the last input holding that offset wins;
// each rdiff holds older blocks than the inputs before it, so the result
// is the snapshot the last input rolls the chain back to.
type MultiReader struct {
	inputs []*DumpInput
	heads  []*DumpBlock
	eofs   []bool

	offset    uint64
	diskSize  uint64
	blockSize uint64

	// header is the synthetic header: the last input's header with the
	// first input's full flag.
	header *DumpHeader
}

// OpenMultiReader opens every archive, checks the headers agree on the
// disk identity and that consecutive rdiffs run backwards in time, and
// preloads each input's first block.
func OpenMultiReader(names []string, parallel bool) (*MultiReader, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: at least one archive is required", ErrConfiguration)
	}
	m := &MultiReader{
		inputs: make([]*DumpInput, 0, len(names)),
		heads:  make([]*DumpBlock, len(names)),
		eofs:   make([]bool, len(names)),
	}
	ok := false
	defer func() {
		if !ok {
			m.Close()
		}
	}()

	var prev *DumpHeader
	for i, name := range names {
		in, err := OpenDumpInput(name, parallel)
		if err != nil {
			return nil, err
		}
		m.inputs = append(m.inputs, in)
		h := in.Header()

		if i == 0 {
			m.diskSize = h.DiskSize
			m.blockSize = h.BlockSize
		} else {
			if !h.SameDisk(prev) {
				return nil, fmt.Errorf("%w: %s does not describe the same disk as %s",
					ErrConsistency, name, names[i-1])
			}
			// Rdiffs store the previous generation's blocks, so a chain
			// of them runs strictly backwards in time.
			if !prev.Full && !h.Full && !prev.Timestamp.After(h.Timestamp) {
				return nil, fmt.Errorf("%w: rdiff %s is not older than its predecessor",
					ErrConsistency, name)
			}
		}
		prev = h

		b, err := in.Read()
		if err == io.EOF {
			m.eofs[i] = true
		} else if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		} else {
			m.heads[i] = b
		}
	}

	first := m.inputs[0].Header()
	last := m.inputs[len(m.inputs)-1].Header()
	m.header = last.Clone()
	m.header.Full = first.Full
	ok = true
	return m, nil
}

// Header returns the synthetic header of the merged archive.
func (m *MultiReader) Header() *DumpHeader {
	return m.header.Clone()
}

func (m *MultiReader) Offset() uint64    { return m.offset }
func (m *MultiReader) DiskSize() uint64  { return m.diskSize }
func (m *MultiReader) BlockSize() uint64 { return m.blockSize }

// EOF reports whether every offset has been visited.
func (m *MultiReader) EOF() bool {
	return m.offset == m.diskSize
}

// ReadBlock returns the winning block at the current offset and advances.
// Every input whose head sits at this offset is advanced; the last such
// input wins. A nil block means no input carries this offset — the
// caller skips it (the position is unchanged or implied zero).
func (m *MultiReader) ReadBlock() (*DumpBlock, error) {
	if m.EOF() {
		return nil, nil
	}
	var found *DumpBlock
	for i, in := range m.inputs {
		if m.eofs[i] || m.heads[i].Offset != m.offset {
			continue
		}
		found = m.heads[i]
		b, err := in.Read()
		if err == io.EOF {
			m.heads[i] = nil
			m.eofs[i] = true
		} else if err != nil {
			return nil, err
		} else {
			m.heads[i] = b
		}
	}
	m.offset++
	return found, nil
}

// Pause joins every input's worker ahead of a fork-sensitive action.
func (m *MultiReader) Pause() {
	for _, in := range m.inputs {
		in.Pause()
	}
}

// Resume re-spawns every input's worker after Pause.
func (m *MultiReader) Resume() {
	for _, in := range m.inputs {
		in.Resume()
	}
}

func (m *MultiReader) Close() error {
	var first error
	for _, in := range m.inputs {
		if err := in.Close(); first == nil {
			first = err
		}
	}
	return first
}
