package archive

import (
	"fmt"
	"io"

	"github.com/starpos/vmbkp/internal/pipeline"
)

// The per-stream managers pair one archive file with its header and a
// pipeline worker. The parallel implementations run one goroutine per
// stream; the serial ones do I/O inline with the same surface, chosen at
// construction.

// DumpInput reads a dump or rdiff stream: header first, then blocks in
// ascending offset order.
type DumpInput struct {
	src    *Source
	header *DumpHeader
	in     pipeline.Input[*DumpBlock]
}

// OpenDumpInput opens the named dump/rdiff archive, reads its header,
// and starts the reader.
func OpenDumpInput(name string, parallel bool) (*DumpInput, error) {
	src, err := OpenSource(name)
	if err != nil {
		return nil, err
	}
	header := &DumpHeader{}
	if err := header.Decode(src.Decoder); err != nil {
		src.Close()
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	blockSize := header.BlockSize
	next := func() (*DumpBlock, error) {
		b := NewDumpBlock(blockSize)
		if err := b.Decode(src.Decoder); err != nil {
			return nil, err
		}
		return b, nil
	}
	m := &DumpInput{src: src, header: header}
	if parallel {
		m.in = pipeline.NewReader(next, src.EOF, pipeline.DefaultQueueSize)
	} else {
		m.in = pipeline.NewSyncReader(next, src.EOF)
	}
	m.in.Start()
	return m, nil
}

// Header returns the stream header. Callers must not mutate it.
func (m *DumpInput) Header() *DumpHeader {
	return m.header
}

// Read returns the next block in stream order, or io.EOF when the
// stream ended cleanly.
func (m *DumpInput) Read() (*DumpBlock, error) {
	b, ok := m.in.Get()
	if !ok {
		if err := m.in.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return b, nil
}

func (m *DumpInput) Pause()  { m.in.Pause() }
func (m *DumpInput) Resume() { m.in.Resume() }

// Close stops the worker and closes the file.
func (m *DumpInput) Close() error {
	m.in.Stop()
	return m.src.Close()
}

// DigestInput reads a digest stream: header first, then one digest block
// per disk offset.
type DigestInput struct {
	src    *Source
	header *DigestHeader
	in     pipeline.Input[*DigestBlock]
}

func OpenDigestInput(name string, parallel bool) (*DigestInput, error) {
	src, err := OpenSource(name)
	if err != nil {
		return nil, err
	}
	header := &DigestHeader{}
	if err := header.Decode(src.Decoder); err != nil {
		src.Close()
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	next := func() (*DigestBlock, error) {
		b := NewDigestBlock()
		if err := b.Decode(src.Decoder); err != nil {
			return nil, err
		}
		return b, nil
	}
	m := &DigestInput{src: src, header: header}
	if parallel {
		m.in = pipeline.NewReader(next, src.EOF, pipeline.DefaultQueueSize)
	} else {
		m.in = pipeline.NewSyncReader(next, src.EOF)
	}
	m.in.Start()
	return m, nil
}

func (m *DigestInput) Header() *DigestHeader {
	return m.header
}

// Read returns the next digest block, or io.EOF when the stream ended
// cleanly.
func (m *DigestInput) Read() (*DigestBlock, error) {
	b, ok := m.in.Get()
	if !ok {
		if err := m.in.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return b, nil
}

func (m *DigestInput) Pause()  { m.in.Pause() }
func (m *DigestInput) Resume() { m.in.Resume() }

func (m *DigestInput) Close() error {
	m.in.Stop()
	return m.src.Close()
}

// DumpOutput writes a dump or rdiff stream. WriteHeader must come first;
// it also starts the writer worker.
type DumpOutput struct {
	sink *Sink
	out  pipeline.Output[*DumpBlock]
}

func CreateDumpOutput(name string, parallel bool) (*DumpOutput, error) {
	sink, err := CreateSink(name)
	if err != nil {
		return nil, err
	}
	write := func(b *DumpBlock) error {
		return b.Encode(sink.Encoder)
	}
	m := &DumpOutput{sink: sink}
	if parallel {
		m.out = pipeline.NewWriter(write, pipeline.DefaultQueueSize)
	} else {
		m.out = pipeline.NewSyncWriter(write)
	}
	return m, nil
}

// WriteHeader serializes the header and starts the block writer.
func (m *DumpOutput) WriteHeader(h *DumpHeader) error {
	if err := h.Encode(m.sink.Encoder); err != nil {
		return err
	}
	m.out.Start()
	return nil
}

// Write queues one block. The caller must not mutate the block after
// handing it over.
func (m *DumpOutput) Write(b *DumpBlock) error {
	if !m.out.Put(b) {
		err := m.out.Err()
		if err == nil {
			err = fmt.Errorf("dump writer closed")
		}
		return fmt.Errorf("write dump block %d: %w", b.Offset, err)
	}
	return nil
}

func (m *DumpOutput) Pause()  { m.out.Pause() }
func (m *DumpOutput) Resume() { m.out.Resume() }

// Close drains the queue, joins the worker, flushes, and closes the
// file.
func (m *DumpOutput) Close() error {
	m.out.Stop()
	err := m.out.Err()
	if cerr := m.sink.Close(); err == nil {
		err = cerr
	}
	return err
}

// DigestOutput writes a digest stream. WriteHeader must come first; it
// also starts the writer worker.
type DigestOutput struct {
	sink *Sink
	out  pipeline.Output[*DigestBlock]
}

func CreateDigestOutput(name string, parallel bool) (*DigestOutput, error) {
	sink, err := CreateSink(name)
	if err != nil {
		return nil, err
	}
	write := func(b *DigestBlock) error {
		return b.Encode(sink.Encoder)
	}
	m := &DigestOutput{sink: sink}
	if parallel {
		m.out = pipeline.NewWriter(write, pipeline.DefaultQueueSize)
	} else {
		m.out = pipeline.NewSyncWriter(write)
	}
	return m, nil
}

func (m *DigestOutput) WriteHeader(h *DigestHeader) error {
	if err := h.Encode(m.sink.Encoder); err != nil {
		return err
	}
	m.out.Start()
	return nil
}

func (m *DigestOutput) Write(b *DigestBlock) error {
	if !m.out.Put(b) {
		err := m.out.Err()
		if err == nil {
			err = fmt.Errorf("digest writer closed")
		}
		return fmt.Errorf("write digest block: %w", err)
	}
	return nil
}

func (m *DigestOutput) Pause()  { m.out.Pause() }
func (m *DigestOutput) Resume() { m.out.Resume() }

func (m *DigestOutput) Close() error {
	m.out.Stop()
	err := m.out.Err()
	if cerr := m.sink.Close(); err == nil {
		err = cerr
	}
	return err
}
