// Package provider drives the block provider that reads and writes the
// live virtual disk. The provider library is process-global and not
// thread-safe, so the default deployment hosts it in a child process
// spoken to over size-prefixed frames; an in-process driver with the
// same surface exists for single-process use.
package provider

import (
	"errors"
	"fmt"

	"github.com/starpos/vmbkp/internal/archive"
)

// ErrProvider marks a failure reported by the block provider. Callers
// may retry with Reset up to their budget.
var ErrProvider = errors.New("provider error")

// DiskInfo is the geometry the provider reports for an open disk.
type DiskInfo struct {
	AdapterType int32
	NumBlocks   uint64
	NumLinks    int32
}

func (i DiskInfo) String() string {
	return fmt.Sprintf("adapterType: %d nBlocks: %d numLinks: %d",
		i.AdapterType, i.NumBlocks, i.NumLinks)
}

func (i DiskInfo) Encode(e *archive.Encoder) error {
	if err := e.Int32(i.AdapterType); err != nil {
		return err
	}
	if err := e.Uint64(i.NumBlocks); err != nil {
		return err
	}
	return e.Int32(i.NumLinks)
}

func (i *DiskInfo) Decode(d *archive.Decoder) error {
	var err error
	if i.AdapterType, err = d.Int32(); err != nil {
		return err
	}
	if i.NumBlocks, err = d.Uint64(); err != nil {
		return err
	}
	i.NumLinks, err = d.Int32()
	return err
}

// Options configures access to one disk.
type Options struct {
	// Path of the disk image.
	Path string
	// BlockSize in bytes for block-granular reads and writes.
	BlockSize uint64
	// ReadOnly forbids writes.
	ReadOnly bool
	// SAN requests the fast transport.
	SAN bool
}

// Driver is the block-provider surface the orchestrators run against.
// Start brings the provider up (for the child-process driver this is
// fork-sensitive: archive workers must be paused around it), Open
// attaches the disk, and Reset tears the provider down and brings it
// back up from scratch after a failure.
type Driver interface {
	Start() error
	Stop() error
	Reset(readOnly, san bool) error

	Open() error
	Close() error

	CreateDisk(h *archive.DumpHeader) error
	Shrink() error
	TransportMode() (string, error)
	ReadInfo() (*DiskInfo, error)
	ReadMetadata() (*archive.Metadata, error)
	WriteMetadata(md *archive.Metadata) error
	ReadBlock(offset uint64, buf []byte) error
	WriteBlock(offset uint64, buf []byte) error
}
