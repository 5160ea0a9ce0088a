package provider

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/starpos/vmbkp/internal/archive"
)

// Command tokens of the controller/worker protocol.
const (
	cmdOpen          = "open"
	cmdClose         = "close"
	cmdCreate        = "createVmdkFile"
	cmdShrink        = "shrinkVmdk"
	cmdTransportMode = "getTransportMode"
	cmdReadInfo      = "readVmdkInfo"
	cmdReadMetadata  = "readMetadata"
	cmdWriteMetadata = "writeMetadata"
	cmdReadBlock     = "readBlock"
	cmdWriteBlock    = "writeBlock"
	cmdExit          = "EXIT"
)

// Serve runs the provider worker: handshake, then one command per
// round trip until EXIT. It is the body of the child process that owns
// the disk; the caller supplies the pipe ends.
func Serve(opts Options, r io.Reader, w io.Writer) error {
	conn := NewConn(r, w)
	if err := conn.handshakeChild(); err != nil {
		return err
	}

	disk := NewFileDisk(opts)

	// The disk must not outlive an anomalous shutdown of the parent.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sig)
	go func() {
		<-sig
		disk.Close()
		os.Exit(1)
	}()
	defer disk.Close()

	for {
		cmd, err := conn.RecvMsg()
		if err != nil {
			return err
		}
		if cmd == cmdExit {
			return conn.SendMsg(replyOK)
		}
		if err := dispatch(conn, disk, cmd); err != nil {
			fmt.Fprintf(os.Stderr, "provider worker: %s: %v\n", cmd, err)
			if err := conn.SendMsg(replyException); err != nil {
				return err
			}
		}
	}
}

// dispatch executes one command. A nil return means the OK reply and
// any result payload have been sent.
func dispatch(conn *Conn, disk *FileDisk, cmd string) error {
	switch cmd {
	case cmdOpen:
		if err := disk.Open(); err != nil {
			return err
		}
		return conn.SendMsg(replyOK)

	case cmdClose:
		if err := disk.Close(); err != nil {
			return err
		}
		return conn.SendMsg(replyOK)

	case cmdCreate:
		h := &archive.DumpHeader{}
		if err := conn.recvDecoded(h.Decode); err != nil {
			return err
		}
		if err := disk.Create(h); err != nil {
			return err
		}
		return conn.SendMsg(replyOK)

	case cmdShrink:
		if err := disk.Shrink(); err != nil {
			return err
		}
		return conn.SendMsg(replyOK)

	case cmdTransportMode:
		return conn.SendMsg(disk.TransportMode())

	case cmdReadInfo:
		info, err := disk.Info()
		if err != nil {
			return err
		}
		if err := conn.SendMsg(replyOK); err != nil {
			return err
		}
		return conn.sendEncoded(info.Encode)

	case cmdReadMetadata:
		md, err := disk.ReadMetadata()
		if err != nil {
			return err
		}
		if err := conn.SendMsg(replyOK); err != nil {
			return err
		}
		return conn.sendEncoded(md.Encode)

	case cmdWriteMetadata:
		md := archive.NewMetadata()
		if err := conn.recvDecoded(md.Decode); err != nil {
			return err
		}
		if err := disk.WriteMetadata(md); err != nil {
			return err
		}
		return conn.SendMsg(replyOK)

	case cmdReadBlock:
		var offset uint64
		if err := conn.recvDecoded(func(d *archive.Decoder) error {
			var err error
			offset, err = d.Uint64()
			return err
		}); err != nil {
			return err
		}
		buf := make([]byte, disk.opts.BlockSize)
		if err := disk.ReadBlock(offset, buf); err != nil {
			return err
		}
		if err := conn.SendMsg(replyOK); err != nil {
			return err
		}
		return conn.SendFrame(buf)

	case cmdWriteBlock:
		var offset uint64
		if err := conn.recvDecoded(func(d *archive.Decoder) error {
			var err error
			offset, err = d.Uint64()
			return err
		}); err != nil {
			return err
		}
		buf, err := conn.RecvFrame()
		if err != nil {
			return err
		}
		if uint64(len(buf)) != disk.opts.BlockSize {
			return fmt.Errorf("%w: block frame of %d bytes, want %d",
				ErrProvider, len(buf), disk.opts.BlockSize)
		}
		if err := disk.WriteBlock(offset, buf); err != nil {
			return err
		}
		return conn.SendMsg(replyOK)
	}
	return fmt.Errorf("%w: unknown command %q", ErrProvider, cmd)
}
