package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// ErrConfiguration marks a command invoked without the streams or
// options it requires.
var ErrConfiguration = errors.New("configuration error")

// Command is the backup command being executed.
type Command int

const (
	CmdUnknown Command = iota
	CmdDump
	CmdRestore
	CmdCheck
	CmdPrint
	CmdDigest
	CmdMerge
)

func ParseCommand(s string) Command {
	switch s {
	case "dump":
		return CmdDump
	case "restore":
		return CmdRestore
	case "check":
		return CmdCheck
	case "print":
		return CmdPrint
	case "digest":
		return CmdDigest
	case "merge":
		return CmdMerge
	}
	return CmdUnknown
}

// Mode selects the dump flavor.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeFull
	ModeDiff
	ModeIncr
)

func ParseMode(s string) Mode {
	switch s {
	case "full":
		return ModeFull
	case "diff":
		return ModeDiff
	case "incr":
		return ModeIncr
	}
	return ModeUnknown
}

func (m Mode) String() string {
	switch m {
	case ModeFull:
		return "full"
	case ModeDiff:
		return "diff"
	case ModeIncr:
		return "incr"
	}
	return "unknown"
}

// Config names the streams and options one command run works with.
// Empty filenames leave the corresponding stream closed.
type Config struct {
	Command Command
	Mode    Mode

	DumpIn    string
	DigestIn  string
	DumpOut   string
	DigestOut string
	RdiffOut  string
	BitmapIn  string

	// Archives is the ordered full+rdiff input list for restore, check,
	// and merge.
	Archives []string

	// BlockSize applies to dump; other commands take it from headers.
	BlockSize uint64

	// UseSAN requests the two-phase SAN restore transport.
	UseSAN bool
	// WriteZeroBlocks controls whether restore writes all-zero blocks.
	WriteZeroBlocks bool
	// WriteMetadata makes restore write archived metadata to the target.
	WriteMetadata bool
	// Create makes restore create the target disk first.
	Create bool

	// Serial selects the single-threaded stream managers.
	Serial bool
}

// Validate checks the option surface that does not depend on streams.
func (c *Config) Validate() error {
	if c.BlockSize == 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.BlockSize%SectorSize != 0 {
		return fmt.Errorf("%w: block size %d is not a multiple of %d",
			ErrConfiguration, c.BlockSize, SectorSize)
	}
	if c.Command == CmdDump && c.Mode == ModeUnknown {
		return fmt.Errorf("%w: dump requires --mode full, diff, or incr", ErrConfiguration)
	}
	return nil
}

// Manager owns the set of streams one command run reads and writes. All
// streams are strictly sequential; there is no back-tracking.
type Manager struct {
	cfg Config

	dumpIn    *DumpInput
	digestIn  *DigestInput
	dumpOut   *DumpOutput
	digestOut *DigestOutput
	rdiffOut  *DumpOutput
	bitmapIn  *os.File
}

// NewManager opens every configured stream, reads input headers, and
// validates that the streams required by the command and mode are open.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{cfg: cfg}
	parallel := !cfg.Serial
	ok := false
	defer func() {
		if !ok {
			m.Close()
		}
	}()

	var err error
	if cfg.DumpIn != "" {
		if m.dumpIn, err = OpenDumpInput(cfg.DumpIn, parallel); err != nil {
			return nil, err
		}
	}
	if cfg.DigestIn != "" {
		if m.digestIn, err = OpenDigestInput(cfg.DigestIn, parallel); err != nil {
			return nil, err
		}
	}
	if cfg.DumpOut != "" {
		if m.dumpOut, err = CreateDumpOutput(cfg.DumpOut, parallel); err != nil {
			return nil, err
		}
	}
	if cfg.DigestOut != "" {
		if m.digestOut, err = CreateDigestOutput(cfg.DigestOut, parallel); err != nil {
			return nil, err
		}
	}
	if cfg.RdiffOut != "" {
		if m.rdiffOut, err = CreateDumpOutput(cfg.RdiffOut, parallel); err != nil {
			return nil, err
		}
	}
	if cfg.BitmapIn != "" {
		if m.bitmapIn, err = os.Open(cfg.BitmapIn); err != nil {
			return nil, fmt.Errorf("open bitmap: %w", err)
		}
	}

	if err := m.checkStreams(); err != nil {
		return nil, err
	}
	ok = true
	return m, nil
}

// checkStreams enforces the stream set required by each command+mode.
func (m *Manager) checkStreams() error {
	missing := func(what string) error {
		return fmt.Errorf("%w: some streams are not open for %s", ErrConfiguration, what)
	}
	switch m.cfg.Command {
	case CmdDump:
		switch m.cfg.Mode {
		case ModeFull:
			if m.dumpOut == nil || m.digestOut == nil {
				return missing("dump full")
			}
		case ModeDiff:
			if m.dumpIn == nil || m.digestIn == nil ||
				m.dumpOut == nil || m.digestOut == nil || m.rdiffOut == nil {
				return missing("dump diff")
			}
		case ModeIncr:
			if m.dumpIn == nil || m.digestIn == nil ||
				m.dumpOut == nil || m.digestOut == nil || m.rdiffOut == nil ||
				m.bitmapIn == nil {
				return missing("dump incr")
			}
		default:
			return fmt.Errorf("%w: dump mode is invalid", ErrConfiguration)
		}
	case CmdRestore:
		if m.cfg.UseSAN && m.digestIn == nil {
			return missing("restore via SAN")
		}
	case CmdCheck:
		if m.digestIn == nil {
			return missing("check")
		}
	case CmdPrint:
		if m.dumpIn == nil && m.digestIn == nil {
			return missing("print")
		}
	case CmdDigest:
		if m.dumpIn == nil || m.digestOut == nil {
			return missing("digest")
		}
	case CmdMerge:
		if m.dumpOut == nil && m.rdiffOut == nil {
			return missing("merge")
		}
	default:
		return fmt.Errorf("%w: command is invalid", ErrConfiguration)
	}
	return nil
}

func (m *Manager) DumpInOpen() bool   { return m.dumpIn != nil }
func (m *Manager) DigestInOpen() bool { return m.digestIn != nil }

// ReadDumpHeader returns a copy of the input dump header.
func (m *Manager) ReadDumpHeader() (*DumpHeader, error) {
	if m.dumpIn == nil {
		return nil, fmt.Errorf("%w: dump input is not open", ErrConfiguration)
	}
	return m.dumpIn.Header().Clone(), nil
}

// ReadDigestHeader returns a copy of the input digest header.
func (m *Manager) ReadDigestHeader() (*DigestHeader, error) {
	if m.digestIn == nil {
		return nil, fmt.Errorf("%w: digest input is not open", ErrConfiguration)
	}
	return m.digestIn.Header().Clone(), nil
}

func (m *Manager) WriteDumpHeader(h *DumpHeader) error {
	if m.dumpOut == nil {
		return fmt.Errorf("%w: dump output is not open", ErrConfiguration)
	}
	return m.dumpOut.WriteHeader(h)
}

func (m *Manager) WriteDigestHeader(h *DigestHeader) error {
	if m.digestOut == nil {
		return fmt.Errorf("%w: digest output is not open", ErrConfiguration)
	}
	return m.digestOut.WriteHeader(h)
}

func (m *Manager) WriteRdiffHeader(h *DumpHeader) error {
	if m.rdiffOut == nil {
		return fmt.Errorf("%w: rdiff output is not open", ErrConfiguration)
	}
	return m.rdiffOut.WriteHeader(h)
}

// ReadDumpBlock returns the next input dump block, or io.EOF at clean
// end of stream.
func (m *Manager) ReadDumpBlock() (*DumpBlock, error) {
	return m.dumpIn.Read()
}

// ReadDigestBlock returns the next input digest block, or io.EOF at
// clean end of stream.
func (m *Manager) ReadDigestBlock() (*DigestBlock, error) {
	return m.digestIn.Read()
}

// WriteDumpBlock hands a copy of the block to the dump writer.
func (m *Manager) WriteDumpBlock(b *DumpBlock) error {
	return m.dumpOut.Write(b.Clone())
}

func (m *Manager) WriteDigestBlock(b *DigestBlock) error {
	return m.digestOut.Write(b.Clone())
}

func (m *Manager) WriteRdiffBlock(b *DumpBlock) error {
	return m.rdiffOut.Write(b.Clone())
}

// ReadBitmap reads the changed-block bitmap input.
func (m *Manager) ReadBitmap() (*Bitmap, error) {
	if m.bitmapIn == nil {
		return nil, fmt.Errorf("%w: bitmap input is not open", ErrConfiguration)
	}
	bmp := &Bitmap{}
	if err := bmp.Decode(NewDecoder(m.bitmapIn)); err != nil {
		return nil, err
	}
	return bmp, nil
}

// Pause joins every open stream's worker ahead of a fork-sensitive
// action.
func (m *Manager) Pause() {
	if m.dumpIn != nil {
		m.dumpIn.Pause()
	}
	if m.digestIn != nil {
		m.digestIn.Pause()
	}
	if m.dumpOut != nil {
		m.dumpOut.Pause()
	}
	if m.digestOut != nil {
		m.digestOut.Pause()
	}
	if m.rdiffOut != nil {
		m.rdiffOut.Pause()
	}
}

// Resume re-spawns every open stream's worker after Pause.
func (m *Manager) Resume() {
	if m.dumpIn != nil {
		m.dumpIn.Resume()
	}
	if m.digestIn != nil {
		m.digestIn.Resume()
	}
	if m.dumpOut != nil {
		m.dumpOut.Resume()
	}
	if m.digestOut != nil {
		m.digestOut.Resume()
	}
	if m.rdiffOut != nil {
		m.rdiffOut.Resume()
	}
}

// Close stops every worker, draining output queues, and closes all
// underlying files.
func (m *Manager) Close() error {
	var first error
	keep := func(err error) {
		if first == nil && err != nil {
			first = err
		}
	}
	if m.dumpIn != nil {
		keep(m.dumpIn.Close())
	}
	if m.digestIn != nil {
		keep(m.digestIn.Close())
	}
	if m.dumpOut != nil {
		keep(m.dumpOut.Close())
	}
	if m.digestOut != nil {
		keep(m.digestOut.Close())
	}
	if m.rdiffOut != nil {
		keep(m.rdiffOut.Close())
	}
	if m.bitmapIn != nil {
		keep(m.bitmapIn.Close())
	}
	return first
}

// DumpManager extends Manager with the combined operations the dump
// orchestrator performs per generation and per offset.
type DumpManager struct {
	*Manager
}

func NewDumpManager(cfg Config) (*DumpManager, error) {
	m, err := NewManager(cfg)
	if err != nil {
		return nil, err
	}
	return &DumpManager{Manager: m}, nil
}

func (m *DumpManager) diffOrIncr() bool {
	return m.cfg.Mode == ModeDiff || m.cfg.Mode == ModeIncr
}

// ReadPrevHeaders reads the previous generation's dump and digest
// headers for diff/incr and checks they belong to one full snapshot.
// For full mode it returns nil headers.
func (m *DumpManager) ReadPrevHeaders() (*DumpHeader, *DigestHeader, error) {
	if !m.diffOrIncr() {
		return nil, nil, nil
	}
	dumpH, err := m.ReadDumpHeader()
	if err != nil {
		return nil, nil, err
	}
	digestH, err := m.ReadDigestHeader()
	if err != nil {
		return nil, nil, err
	}
	if !SameSnapshot(dumpH, digestH) {
		return nil, nil, fmt.Errorf(
			"%w: previous dump and digest are not derived from the same disk snapshot",
			ErrConsistency)
	}
	if !dumpH.Full {
		return nil, nil, fmt.Errorf("%w: previous dump must be a full dump", ErrConsistency)
	}
	return dumpH, digestH, nil
}

// SetHeaders builds the output headers for the new generation. The new
// dump inherits the previous UUID for diff/incr and gets a fresh one for
// full; the rdiff header is the previous dump header with the full flag
// cleared; the digest header copies the new dump's identity.
func (m *DumpManager) SetHeaders(diskSize uint64, adapterType int32,
	prevDumpH *DumpHeader, metadata *Metadata) (*DumpHeader, *DigestHeader, *DumpHeader) {

	now := NewTimestamp(time.Now())

	dumpH := NewDumpHeader()
	dumpH.DiskSize = diskSize
	dumpH.BlockSize = m.cfg.BlockSize
	dumpH.AdapterType = adapterType
	dumpH.Timestamp = now
	if metadata != nil {
		dumpH.Metadata = metadata.Clone()
	}

	digestH := &DigestHeader{
		DiskSize:  diskSize,
		BlockSize: m.cfg.BlockSize,
		Timestamp: now,
	}

	var rdiffH *DumpHeader
	if m.diffOrIncr() {
		dumpH.UUID = prevDumpH.UUID
		// The rdiff carries the previous generation's blocks, so its
		// header keeps the previous timestamp.
		rdiffH = prevDumpH.Clone()
		rdiffH.Full = false
	}
	digestH.UUID = dumpH.UUID
	return dumpH, digestH, rdiffH
}

// WriteHeaders writes the new generation's headers and starts the
// output workers.
func (m *DumpManager) WriteHeaders(dumpH *DumpHeader, digestH *DigestHeader, rdiffH *DumpHeader) error {
	if err := m.WriteDumpHeader(dumpH); err != nil {
		return err
	}
	if err := m.WriteDigestHeader(digestH); err != nil {
		return err
	}
	if m.diffOrIncr() {
		return m.WriteRdiffHeader(rdiffH)
	}
	return nil
}

// ReadPrev reads one block and its digest from the previous generation
// and verifies them against each other. This is the per-offset
// consistency gate: a corrupted previous archive aborts the dump. For
// full mode it returns nil.
func (m *DumpManager) ReadPrev() (*DumpBlock, *DigestBlock, error) {
	if !m.diffOrIncr() {
		return nil, nil, nil
	}
	dumpB, err := m.ReadDumpBlock()
	if err == io.EOF {
		err = fmt.Errorf("%w: premature end of previous dump", ErrFormat)
	}
	if err != nil {
		return nil, nil, err
	}
	digestB, err := m.ReadDigestBlock()
	if err == io.EOF {
		err = fmt.Errorf("%w: premature end of previous digest", ErrFormat)
	}
	if err != nil {
		return nil, nil, err
	}
	check := NewDigestBlock()
	check.SetFrom(dumpB)
	if !check.Equal(digestB) {
		return nil, nil, fmt.Errorf(
			"%w: previous dump block %d does not match its digest",
			ErrConsistency, dumpB.Offset)
	}
	return dumpB, digestB, nil
}

// WriteStreams writes the current block and digest, and for diff/incr
// the previous block to the rdiff when the digests differ (the rdiff
// stores the old data so it can roll the new full backwards). It
// reports whether the block changed between generations.
func (m *DumpManager) WriteStreams(prevDumpB *DumpBlock, prevDigestB *DigestBlock,
	currDumpB *DumpBlock, currDigestB *DigestBlock) (bool, error) {

	if err := m.WriteDumpBlock(currDumpB); err != nil {
		return false, err
	}
	if err := m.WriteDigestBlock(currDigestB); err != nil {
		return false, err
	}
	changed := true
	if m.diffOrIncr() {
		if prevDigestB.Equal(currDigestB) {
			changed = false
		} else if err := m.WriteRdiffBlock(prevDumpB); err != nil {
			return false, err
		}
	}
	return changed, nil
}

// ReadChangedBitmap reads the changed-block bitmap for incremental mode
// and checks it covers the whole disk.
func (m *DumpManager) ReadChangedBitmap(diskSize uint64) (*Bitmap, error) {
	if m.cfg.Mode != ModeIncr {
		return nil, nil
	}
	bmp, err := m.ReadBitmap()
	if err != nil {
		return nil, err
	}
	if bmp.Len() != diskSize {
		return nil, fmt.Errorf("%w: bitmap holds %d bits, disk has %d blocks",
			ErrConsistency, bmp.Len(), diskSize)
	}
	return bmp, nil
}

// Mode returns the configured dump mode.
func (m *DumpManager) Mode() Mode {
	return m.cfg.Mode
}
