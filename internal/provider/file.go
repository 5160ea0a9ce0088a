package provider

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/starpos/vmbkp/internal/archive"
)

// adapterTypeKey is the metadata key carrying the disk's adapter type,
// mirroring the ddb entry in a vmdk descriptor.
const adapterTypeKey = "ddb.adapterType"

const defaultAdapterType = 1

// FileDisk is a flat-file block provider. Disk data lives in one file;
// descriptor metadata lives in a sidecar next to it, serialized with the
// archive string-map format.
type FileDisk struct {
	opts Options
	f    *os.File
}

func NewFileDisk(opts Options) *FileDisk {
	return &FileDisk{opts: opts}
}

func (d *FileDisk) metaPath() string {
	return d.opts.Path + ".meta"
}

// Open attaches the disk file.
func (d *FileDisk) Open() error {
	if d.f != nil {
		return nil
	}
	flag := os.O_RDWR
	if d.opts.ReadOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(d.opts.Path, flag, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open disk: %v", ErrProvider, err)
	}
	d.f = f
	return nil
}

func (d *FileDisk) Close() error {
	if d.f == nil {
		return nil
	}
	err := d.f.Close()
	d.f = nil
	if err != nil {
		return fmt.Errorf("%w: close disk: %v", ErrProvider, err)
	}
	return nil
}

func (d *FileDisk) open() error {
	if d.f == nil {
		return fmt.Errorf("%w: disk is not open", ErrProvider)
	}
	return nil
}

// Create builds a new disk file sized from the dump header and seeds the
// sidecar with the archived metadata and adapter type.
func (d *FileDisk) Create(h *archive.DumpHeader) error {
	f, err := os.OpenFile(d.opts.Path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("%w: create disk: %v", ErrProvider, err)
	}
	if err := f.Truncate(int64(h.DiskSize * h.BlockSize)); err != nil {
		f.Close()
		return fmt.Errorf("%w: size disk: %v", ErrProvider, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: create disk: %v", ErrProvider, err)
	}
	md := h.Metadata.Clone()
	md.Set(adapterTypeKey, strconv.Itoa(int(h.AdapterType)))
	return d.WriteMetadata(md)
}

// Info reports the disk geometry. The block count covers the file size
// rounded up to whole blocks.
func (d *FileDisk) Info() (*DiskInfo, error) {
	if err := d.open(); err != nil {
		return nil, err
	}
	st, err := d.f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat disk: %v", ErrProvider, err)
	}
	info := &DiskInfo{
		AdapterType: defaultAdapterType,
		NumBlocks:   (uint64(st.Size()) + d.opts.BlockSize - 1) / d.opts.BlockSize,
		NumLinks:    1,
	}
	if md, err := d.ReadMetadata(); err == nil {
		if s, ok := md.Get(adapterTypeKey); ok {
			if v, err := strconv.Atoi(s); err == nil {
				info.AdapterType = int32(v)
			}
		}
	}
	return info, nil
}

// ReadMetadata loads the sidecar map; a missing sidecar reads as empty.
func (d *FileDisk) ReadMetadata() (*archive.Metadata, error) {
	f, err := os.Open(d.metaPath())
	if os.IsNotExist(err) {
		return archive.NewMetadata(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read metadata: %v", ErrProvider, err)
	}
	defer f.Close()
	md := archive.NewMetadata()
	if err := md.Decode(archive.NewDecoder(f)); err != nil {
		return nil, fmt.Errorf("%w: read metadata: %v", ErrProvider, err)
	}
	return md, nil
}

func (d *FileDisk) WriteMetadata(md *archive.Metadata) error {
	f, err := os.Create(d.metaPath())
	if err != nil {
		return fmt.Errorf("%w: write metadata: %v", ErrProvider, err)
	}
	e := archive.NewEncoder(f)
	if err := md.Encode(e); err != nil {
		f.Close()
		return fmt.Errorf("%w: write metadata: %v", ErrProvider, err)
	}
	if err := e.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("%w: write metadata: %v", ErrProvider, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: write metadata: %v", ErrProvider, err)
	}
	return nil
}

// ReadBlock fills buf with the block at the given offset. Bytes past
// the end of a shrunk or partial file read as zero.
func (d *FileDisk) ReadBlock(offset uint64, buf []byte) error {
	if err := d.open(); err != nil {
		return err
	}
	n, err := d.f.ReadAt(buf, int64(offset*d.opts.BlockSize))
	if err != nil && err != io.EOF {
		return fmt.Errorf("%w: read block %d: %v", ErrProvider, offset, err)
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return nil
}

func (d *FileDisk) WriteBlock(offset uint64, buf []byte) error {
	if err := d.open(); err != nil {
		return err
	}
	if d.opts.ReadOnly {
		return fmt.Errorf("%w: disk is read only", ErrProvider)
	}
	if _, err := d.f.WriteAt(buf, int64(offset*d.opts.BlockSize)); err != nil {
		return fmt.Errorf("%w: write block %d: %v", ErrProvider, offset, err)
	}
	return nil
}

// Shrink truncates trailing all-zero blocks so a sparse restore does
// not leave the file fully allocated in length.
func (d *FileDisk) Shrink() error {
	if err := d.open(); err != nil {
		return err
	}
	st, err := d.f.Stat()
	if err != nil {
		return fmt.Errorf("%w: shrink: %v", ErrProvider, err)
	}
	bs := int64(d.opts.BlockSize)
	size := st.Size()
	nBlocks := (size + bs - 1) / bs
	buf := make([]byte, bs)
	zero := make([]byte, bs)
	end := size
	for i := nBlocks - 1; i >= 0; i-- {
		n, err := d.f.ReadAt(buf, i*bs)
		if err != nil && n == 0 {
			break
		}
		if !bytes.Equal(buf[:n], zero[:n]) {
			break
		}
		end = i * bs
	}
	if end == size {
		return nil
	}
	if err := d.f.Truncate(end); err != nil {
		return fmt.Errorf("%w: shrink: %v", ErrProvider, err)
	}
	return nil
}

// TransportMode names the transport the disk was opened with.
func (d *FileDisk) TransportMode() string {
	if d.opts.SAN {
		return "san"
	}
	return "nbd"
}
