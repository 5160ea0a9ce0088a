package provider

import "github.com/starpos/vmbkp/internal/archive"

// Direct hosts the disk in-process with the Driver surface, for
// deployments that do not need the provider isolated in a child.
// Start and Reset are not fork-sensitive here, but callers keep the
// pause/resume discipline so the two drivers stay interchangeable.
type Direct struct {
	opts Options
	disk *FileDisk
}

func NewDirect(opts Options) *Direct {
	return &Direct{opts: opts}
}

func (d *Direct) Start() error {
	if d.disk == nil {
		d.disk = NewFileDisk(d.opts)
	}
	return nil
}

func (d *Direct) Stop() error {
	if d.disk == nil {
		return nil
	}
	err := d.disk.Close()
	d.disk = nil
	return err
}

func (d *Direct) Reset(readOnly, san bool) error {
	if err := d.Stop(); err != nil {
		return err
	}
	d.opts.ReadOnly = readOnly
	d.opts.SAN = san
	return d.Start()
}

func (d *Direct) Open() error {
	return d.disk.Open()
}

func (d *Direct) Close() error {
	return d.disk.Close()
}

func (d *Direct) CreateDisk(h *archive.DumpHeader) error {
	return d.disk.Create(h)
}

func (d *Direct) Shrink() error {
	return d.disk.Shrink()
}

func (d *Direct) TransportMode() (string, error) {
	return d.disk.TransportMode(), nil
}

func (d *Direct) ReadInfo() (*DiskInfo, error) {
	return d.disk.Info()
}

func (d *Direct) ReadMetadata() (*archive.Metadata, error) {
	return d.disk.ReadMetadata()
}

func (d *Direct) WriteMetadata(md *archive.Metadata) error {
	return d.disk.WriteMetadata(md)
}

func (d *Direct) ReadBlock(offset uint64, buf []byte) error {
	return d.disk.ReadBlock(offset, buf)
}

func (d *Direct) WriteBlock(offset uint64, buf []byte) error {
	return d.disk.WriteBlock(offset, buf)
}
