package archive

import (
	"bytes"
	"crypto/md5"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SectorSize is the granularity every block size must be a multiple of.
const SectorSize = 512

// DefaultBlockSize is the block size used when none is configured.
const DefaultBlockSize = 1 << 20

// DigestSize is the size of a block fingerprint (MD5).
const DigestSize = md5.Size

// ErrConsistency marks disagreement between streams that must describe
// the same disk or the same snapshot.
var ErrConsistency = errors.New("archive consistency error")

// zeroState is the tri-state all-zero marker on blocks. A freshly built
// block is unresolved; it must be resolved before it can be serialized.
type zeroState int8

const (
	zeroUnset zeroState = iota
	zeroFalse
	zeroTrue
)

// DumpHeader identifies one disk snapshot at the head of a dump or rdiff
// stream. The UUID identifies the disk across generations; UUID plus
// timestamp identifies a single snapshot.
type DumpHeader struct {
	DiskSize    uint64 // in blocks
	BlockSize   uint64 // in bytes, multiple of SectorSize
	AdapterType int32
	Full        bool
	UUID        [16]byte
	Timestamp   Timestamp
	Metadata    *Metadata
}

// NewDumpHeader returns a header with a fresh UUID, the current time,
// and the full flag set.
func NewDumpHeader() *DumpHeader {
	h := &DumpHeader{
		Full:      true,
		Timestamp: NewTimestamp(time.Now()),
		Metadata:  NewMetadata(),
	}
	h.SetNewUUID()
	return h
}

// SetNewUUID assigns a freshly generated disk identity.
func (h *DumpHeader) SetNewUUID() {
	h.UUID = [16]byte(uuid.New())
}

func (h *DumpHeader) Equal(other *DumpHeader) bool {
	return h.DiskSize == other.DiskSize &&
		h.BlockSize == other.BlockSize &&
		h.AdapterType == other.AdapterType &&
		h.Full == other.Full &&
		h.UUID == other.UUID &&
		h.Timestamp.Equal(other.Timestamp) &&
		h.Metadata.Equal(other.Metadata)
}

// SameDisk reports whether both headers describe the same disk.
// Timestamps may differ.
func (h *DumpHeader) SameDisk(other *DumpHeader) bool {
	return h.DiskSize == other.DiskSize &&
		h.BlockSize == other.BlockSize &&
		h.UUID == other.UUID
}

// Clone returns a deep copy.
func (h *DumpHeader) Clone() *DumpHeader {
	c := *h
	c.Metadata = h.Metadata.Clone()
	return &c
}

func (h *DumpHeader) Encode(e *Encoder) error {
	if err := e.Uint64(h.DiskSize); err != nil {
		return fmt.Errorf("encode dump header: %w", err)
	}
	if err := e.Uint64(h.BlockSize); err != nil {
		return err
	}
	if err := e.Int32(h.AdapterType); err != nil {
		return err
	}
	if err := e.Bool(h.Full); err != nil {
		return err
	}
	if err := e.Bytes(h.UUID[:]); err != nil {
		return err
	}
	if err := h.Timestamp.encode(e); err != nil {
		return err
	}
	return h.Metadata.Encode(e)
}

func (h *DumpHeader) Decode(d *Decoder) error {
	var err error
	if h.DiskSize, err = d.Uint64(); err != nil {
		return fmt.Errorf("decode dump header: %w", err)
	}
	if h.BlockSize, err = d.Uint64(); err != nil {
		return err
	}
	if h.AdapterType, err = d.Int32(); err != nil {
		return err
	}
	if h.Full, err = d.Bool(); err != nil {
		return err
	}
	if err = d.BytesInto(h.UUID[:]); err != nil {
		return err
	}
	if err = h.Timestamp.decode(d); err != nil {
		return err
	}
	if h.Metadata == nil {
		h.Metadata = NewMetadata()
	}
	return h.Metadata.Decode(d)
}

func (h *DumpHeader) String() string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "DumpHeader:\n")
	fmt.Fprintf(&b, "diskSize: %d\n", h.DiskSize)
	fmt.Fprintf(&b, "blockSize: %d\n", h.BlockSize)
	fmt.Fprintf(&b, "adapterType: %d\n", h.AdapterType)
	fmt.Fprintf(&b, "isFull: %v\n", h.Full)
	fmt.Fprintf(&b, "uuid: %x\n", h.UUID)
	fmt.Fprintf(&b, "timestamp: %d\n", h.Timestamp.Unix())
	fmt.Fprintf(&b, "metadata: %d entries\n", h.Metadata.Len())
	return b.String()
}

// DumpBlock is one block of disk data. The all-zero marker starts
// unresolved and must be resolved (DetectZero, SetZero, or SetNonZero)
// before the block is serialized; an all-zero block carries no payload
// on the wire.
type DumpBlock struct {
	Offset uint64 // in blocks
	zero   zeroState
	data   []byte // always blockSize long
}

func NewDumpBlock(blockSize uint64) *DumpBlock {
	return &DumpBlock{data: make([]byte, blockSize)}
}

// BlockSize returns the payload capacity in bytes.
func (b *DumpBlock) BlockSize() uint64 {
	return uint64(len(b.data))
}

// Buf exposes the payload buffer for filling in place.
func (b *DumpBlock) Buf() []byte {
	return b.data
}

// AllZero reports whether the block is all zero. It panics on an
// unresolved block; callers must resolve the marker first.
func (b *DumpBlock) AllZero() bool {
	if b.zero == zeroUnset {
		panic("archive: all-zero marker not resolved")
	}
	return b.zero == zeroTrue
}

func (b *DumpBlock) SetZero()    { b.zero = zeroTrue }
func (b *DumpBlock) SetNonZero() { b.zero = zeroFalse }

// DetectZero resolves the all-zero marker by scanning the payload.
func (b *DumpBlock) DetectZero() {
	for _, c := range b.data {
		if c != 0 {
			b.zero = zeroFalse
			return
		}
	}
	b.zero = zeroTrue
}

// CopyFrom copies offset, marker, and (for non-zero blocks) payload.
// Both blocks must share a block size.
func (b *DumpBlock) CopyFrom(src *DumpBlock) {
	b.Offset = src.Offset
	b.zero = src.zero
	if src.zero == zeroFalse {
		copy(b.data, src.data)
	}
}

// Clone returns an independent copy.
func (b *DumpBlock) Clone() *DumpBlock {
	c := NewDumpBlock(b.BlockSize())
	c.CopyFrom(b)
	return c
}

// Equal ignores payload when both blocks are all zero.
func (b *DumpBlock) Equal(other *DumpBlock) bool {
	if b.Offset != other.Offset || b.zero != other.zero {
		return false
	}
	return b.zero == zeroTrue || bytes.Equal(b.data, other.data)
}

func (b *DumpBlock) Encode(e *Encoder) error {
	if b.zero == zeroUnset {
		return fmt.Errorf("%w: dump block %d serialized with unresolved all-zero marker",
			ErrFormat, b.Offset)
	}
	if err := e.Uint64(b.Offset); err != nil {
		return fmt.Errorf("encode dump block: %w", err)
	}
	if err := e.Bool(b.zero == zeroTrue); err != nil {
		return err
	}
	if b.zero == zeroFalse {
		return e.Bytes(b.data)
	}
	return nil
}

func (b *DumpBlock) Decode(d *Decoder) error {
	var err error
	if b.Offset, err = d.Uint64(); err != nil {
		return fmt.Errorf("decode dump block: %w", err)
	}
	allZero, err := d.Bool()
	if err != nil {
		return err
	}
	if allZero {
		b.zero = zeroTrue
		return nil
	}
	b.zero = zeroFalse
	return d.BytesInto(b.data)
}

func (b *DumpBlock) String() string {
	return fmt.Sprintf("DumpBlock: offset %d allZero %v size %d",
		b.Offset, b.zero == zeroTrue, len(b.data))
}

// DigestHeader heads a digest stream and carries the identity of the
// snapshot the digests belong to.
type DigestHeader struct {
	DiskSize  uint64
	BlockSize uint64
	UUID      [16]byte
	Timestamp Timestamp
}

func NewDigestHeader() *DigestHeader {
	h := &DigestHeader{Timestamp: NewTimestamp(time.Now())}
	h.UUID = [16]byte(uuid.New())
	return h
}

// SetFrom copies the identity quadruple from a dump header.
func (h *DigestHeader) SetFrom(src *DumpHeader) {
	h.DiskSize = src.DiskSize
	h.BlockSize = src.BlockSize
	h.UUID = src.UUID
	h.Timestamp = src.Timestamp
}

func (h *DigestHeader) Equal(other *DigestHeader) bool {
	return h.DiskSize == other.DiskSize &&
		h.BlockSize == other.BlockSize &&
		h.UUID == other.UUID &&
		h.Timestamp.Equal(other.Timestamp)
}

func (h *DigestHeader) Clone() *DigestHeader {
	c := *h
	return &c
}

func (h *DigestHeader) Encode(e *Encoder) error {
	if err := e.Uint64(h.DiskSize); err != nil {
		return fmt.Errorf("encode digest header: %w", err)
	}
	if err := e.Uint64(h.BlockSize); err != nil {
		return err
	}
	if err := e.Bytes(h.UUID[:]); err != nil {
		return err
	}
	return h.Timestamp.encode(e)
}

func (h *DigestHeader) Decode(d *Decoder) error {
	var err error
	if h.DiskSize, err = d.Uint64(); err != nil {
		return fmt.Errorf("decode digest header: %w", err)
	}
	if h.BlockSize, err = d.Uint64(); err != nil {
		return err
	}
	if err = d.BytesInto(h.UUID[:]); err != nil {
		return err
	}
	return h.Timestamp.decode(d)
}

func (h *DigestHeader) String() string {
	return fmt.Sprintf("DigestHeader: diskSize %d blockSize %d uuid %x timestamp %d",
		h.DiskSize, h.BlockSize, h.UUID, h.Timestamp.Unix())
}

// DigestBlock is the per-block MD5 fingerprint. All-zero blocks carry no
// fingerprint and compare equal to any other all-zero block.
type DigestBlock struct {
	zero zeroState
	sum  [DigestSize]byte
}

func NewDigestBlock() *DigestBlock {
	return &DigestBlock{}
}

// SetFrom resolves the digest of the given dump block.
func (b *DigestBlock) SetFrom(src *DumpBlock) {
	if src.AllZero() {
		b.zero = zeroTrue
		return
	}
	b.zero = zeroFalse
	b.sum = md5.Sum(src.data)
}

func (b *DigestBlock) AllZero() bool {
	if b.zero == zeroUnset {
		panic("archive: all-zero marker not resolved")
	}
	return b.zero == zeroTrue
}

// Sum returns the fingerprint of a non-zero block.
func (b *DigestBlock) Sum() [DigestSize]byte {
	return b.sum
}

func (b *DigestBlock) CopyFrom(src *DigestBlock) {
	b.zero = src.zero
	if src.zero == zeroFalse {
		b.sum = src.sum
	}
}

func (b *DigestBlock) Clone() *DigestBlock {
	c := *b
	return &c
}

func (b *DigestBlock) Equal(other *DigestBlock) bool {
	if b.zero != other.zero {
		return false
	}
	return b.zero == zeroTrue || b.sum == other.sum
}

func (b *DigestBlock) Encode(e *Encoder) error {
	if b.zero == zeroUnset {
		return fmt.Errorf("%w: digest block serialized with unresolved all-zero marker",
			ErrFormat)
	}
	if err := e.Bool(b.zero == zeroTrue); err != nil {
		return fmt.Errorf("encode digest block: %w", err)
	}
	if b.zero == zeroFalse {
		return e.Bytes(b.sum[:])
	}
	return nil
}

func (b *DigestBlock) Decode(d *Decoder) error {
	allZero, err := d.Bool()
	if err != nil {
		return fmt.Errorf("decode digest block: %w", err)
	}
	if allZero {
		b.zero = zeroTrue
		return nil
	}
	b.zero = zeroFalse
	return d.BytesInto(b.sum[:])
}

func (b *DigestBlock) String() string {
	if b.zero == zeroTrue {
		return "DigestBlock: allZero true"
	}
	return fmt.Sprintf("DigestBlock: allZero false digest %x", b.sum)
}

// SameDisk reports whether a dump/rdiff stream and a digest stream were
// produced from the same disk across any generations.
func SameDisk(dumpH *DumpHeader, digestH *DigestHeader) bool {
	return dumpH.DiskSize == digestH.DiskSize &&
		dumpH.BlockSize == digestH.BlockSize &&
		dumpH.UUID == digestH.UUID
}

// SameSnapshot reports whether the two streams were produced by a single
// dump run.
func SameSnapshot(dumpH *DumpHeader, digestH *DigestHeader) bool {
	return SameDisk(dumpH, digestH) &&
		dumpH.Timestamp.Equal(digestH.Timestamp)
}
