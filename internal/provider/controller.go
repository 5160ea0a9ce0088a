package provider

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/starpos/vmbkp/internal/archive"
)

// Controller is the parent-side driver: it spawns the provider worker
// as a child process of this binary and speaks the framed protocol over
// its stdin/stdout. Start and Reset spawn a process, so every archive
// stream worker must be paused around them.
type Controller struct {
	opts Options

	cmd   *exec.Cmd
	stdin io.WriteCloser
	conn  *Conn
}

func NewController(opts Options) *Controller {
	return &Controller{opts: opts}
}

// Start launches the worker child and runs the pipe handshake.
func (c *Controller) Start() error {
	if c.cmd != nil {
		return nil
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("%w: locate executable: %v", ErrProvider, err)
	}
	args := []string{"provider",
		"--path", c.opts.Path,
		"--blocksize", strconv.FormatUint(c.opts.BlockSize, 10),
	}
	if c.opts.ReadOnly {
		args = append(args, "--readonly")
	}
	if c.opts.SAN {
		args = append(args, "--san")
	}
	cmd := exec.Command(exe, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: worker stdin: %v", ErrProvider, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: worker stdout: %v", ErrProvider, err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start worker: %v", ErrProvider, err)
	}
	conn := NewConn(stdout, stdin)
	if err := conn.handshakeParent(); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return err
	}
	c.cmd = cmd
	c.stdin = stdin
	c.conn = conn
	return nil
}

// Stop sends EXIT and reaps the child. A child that does not answer is
// killed.
func (c *Controller) Stop() error {
	if c.cmd == nil {
		return nil
	}
	cmd := c.cmd
	conn := c.conn
	c.cmd = nil
	c.conn = nil

	err := conn.SendMsg(cmdExit)
	if err == nil {
		var res string
		if res, err = conn.RecvMsg(); err == nil && res != replyOK {
			err = fmt.Errorf("%w: EXIT reply %q", ErrProvider, res)
		}
	}
	if err != nil {
		cmd.Process.Kill()
	}
	c.stdin.Close()
	c.stdin = nil
	cmd.Wait()
	return err
}

// Reset tears the worker down and spawns a fresh one with the given
// access mode, recovering from a provider left in a bad state.
func (c *Controller) Reset(readOnly, san bool) error {
	c.Stop()
	c.opts.ReadOnly = readOnly
	c.opts.SAN = san
	return c.Start()
}

// call sends the command token and awaits the OK/EXCEPTION reply.
func (c *Controller) call(cmd string, send func() error) error {
	if c.conn == nil {
		return fmt.Errorf("%w: worker is not running", ErrProvider)
	}
	if err := c.conn.SendMsg(cmd); err != nil {
		return err
	}
	if send != nil {
		if err := send(); err != nil {
			return err
		}
	}
	res, err := c.conn.RecvMsg()
	if err != nil {
		return err
	}
	if res != replyOK {
		return fmt.Errorf("%w: %s failed in worker", ErrProvider, cmd)
	}
	return nil
}

func (c *Controller) Open() error {
	return c.call(cmdOpen, nil)
}

func (c *Controller) Close() error {
	return c.call(cmdClose, nil)
}

func (c *Controller) CreateDisk(h *archive.DumpHeader) error {
	return c.call(cmdCreate, func() error {
		return c.conn.sendEncoded(h.Encode)
	})
}

func (c *Controller) Shrink() error {
	return c.call(cmdShrink, nil)
}

func (c *Controller) TransportMode() (string, error) {
	if c.conn == nil {
		return "", fmt.Errorf("%w: worker is not running", ErrProvider)
	}
	if err := c.conn.SendMsg(cmdTransportMode); err != nil {
		return "", err
	}
	return c.conn.RecvMsg()
}

func (c *Controller) ReadInfo() (*DiskInfo, error) {
	if err := c.call(cmdReadInfo, nil); err != nil {
		return nil, err
	}
	info := &DiskInfo{}
	if err := c.conn.recvDecoded(info.Decode); err != nil {
		return nil, err
	}
	return info, nil
}

func (c *Controller) ReadMetadata() (*archive.Metadata, error) {
	if err := c.call(cmdReadMetadata, nil); err != nil {
		return nil, err
	}
	md := archive.NewMetadata()
	if err := c.conn.recvDecoded(md.Decode); err != nil {
		return nil, err
	}
	return md, nil
}

func (c *Controller) WriteMetadata(md *archive.Metadata) error {
	return c.call(cmdWriteMetadata, func() error {
		return c.conn.sendEncoded(md.Encode)
	})
}

func (c *Controller) ReadBlock(offset uint64, buf []byte) error {
	err := c.call(cmdReadBlock, func() error {
		return c.conn.sendEncoded(func(e *archive.Encoder) error {
			return e.Uint64(offset)
		})
	})
	if err != nil {
		return err
	}
	payload, err := c.conn.RecvFrame()
	if err != nil {
		return err
	}
	if len(payload) != len(buf) {
		return fmt.Errorf("%w: block frame of %d bytes, want %d",
			ErrProvider, len(payload), len(buf))
	}
	copy(buf, payload)
	return nil
}

func (c *Controller) WriteBlock(offset uint64, buf []byte) error {
	return c.call(cmdWriteBlock, func() error {
		if err := c.conn.sendEncoded(func(e *archive.Encoder) error {
			return e.Uint64(offset)
		}); err != nil {
			return err
		}
		return c.conn.SendFrame(buf)
	})
}
