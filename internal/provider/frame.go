package provider

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/starpos/vmbkp/internal/archive"
)

// The pipe between controller and worker carries size-prefixed frames:
// an 8-byte little-endian length followed by the payload. Commands and
// replies are short strings in their own frames; structured payloads use
// the archive serialization inside a frame.

// maxControlFrame bounds every frame RecvFrame accepts, block payloads
// included.
const maxControlFrame = 1 << 24

// Handshake tokens exchanged when the worker comes up.
const (
	handshakeCheck = "CHECK"
	handshakeOK    = "OK"
	handshakeAck   = "ACK"
)

// Reply tokens.
const (
	replyOK        = "OK"
	replyException = "EXCEPTION"
)

// Conn frames messages over a bidirectional byte pipe.
type Conn struct {
	br *bufio.Reader
	bw *bufio.Writer
}

func NewConn(r io.Reader, w io.Writer) *Conn {
	return &Conn{br: bufio.NewReader(r), bw: bufio.NewWriter(w)}
}

// SendFrame writes one length-prefixed frame and flushes.
func (c *Conn) SendFrame(payload []byte) error {
	var hdr [8]byte
	binary.LittleEndian.PutUint64(hdr[:], uint64(len(payload)))
	if _, err := c.bw.Write(hdr[:]); err != nil {
		return fmt.Errorf("%w: send frame: %v", ErrProvider, err)
	}
	if _, err := c.bw.Write(payload); err != nil {
		return fmt.Errorf("%w: send frame: %v", ErrProvider, err)
	}
	if err := c.bw.Flush(); err != nil {
		return fmt.Errorf("%w: send frame: %v", ErrProvider, err)
	}
	return nil
}

// RecvFrame reads one length-prefixed frame.
func (c *Conn) RecvFrame() ([]byte, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(c.br, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: recv frame: %v", ErrProvider, err)
	}
	n := binary.LittleEndian.Uint64(hdr[:])
	if n > maxControlFrame {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit", ErrProvider, n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(c.br, payload); err != nil {
		return nil, fmt.Errorf("%w: recv frame: %v", ErrProvider, err)
	}
	return payload, nil
}

// SendMsg frames a short string message.
func (c *Conn) SendMsg(msg string) error {
	return c.SendFrame([]byte(msg))
}

// RecvMsg receives a short string message.
func (c *Conn) RecvMsg() (string, error) {
	payload, err := c.RecvFrame()
	if err != nil {
		return "", err
	}
	return string(payload), nil
}

// sendEncoded frames a value serialized with the archive primitives.
func (c *Conn) sendEncoded(encode func(*archive.Encoder) error) error {
	var buf bytes.Buffer
	e := archive.NewEncoder(&buf)
	if err := encode(e); err != nil {
		return fmt.Errorf("%w: encode payload: %v", ErrProvider, err)
	}
	if err := e.Flush(); err != nil {
		return fmt.Errorf("%w: encode payload: %v", ErrProvider, err)
	}
	return c.SendFrame(buf.Bytes())
}

// recvDecoded receives a frame and decodes it with the archive
// primitives.
func (c *Conn) recvDecoded(decode func(*archive.Decoder) error) error {
	payload, err := c.RecvFrame()
	if err != nil {
		return err
	}
	if err := decode(archive.NewDecoder(bytes.NewReader(payload))); err != nil {
		return fmt.Errorf("%w: decode payload: %v", ErrProvider, err)
	}
	return nil
}

// handshakeParent runs the three-step pipe check from the parent side.
func (c *Conn) handshakeParent() error {
	if err := c.SendMsg(handshakeCheck); err != nil {
		return err
	}
	ok, err := c.RecvMsg()
	if err != nil {
		return err
	}
	if ok != handshakeOK {
		return fmt.Errorf("%w: handshake reply %q", ErrProvider, ok)
	}
	return c.SendMsg(handshakeAck)
}

// handshakeChild runs the three-step pipe check from the child side.
func (c *Conn) handshakeChild() error {
	check, err := c.RecvMsg()
	if err != nil {
		return err
	}
	if check != handshakeCheck {
		return fmt.Errorf("%w: handshake opener %q", ErrProvider, check)
	}
	if err := c.SendMsg(handshakeOK); err != nil {
		return err
	}
	ack, err := c.RecvMsg()
	if err != nil {
		return err
	}
	if ack != handshakeAck {
		return fmt.Errorf("%w: handshake ack %q", ErrProvider, ack)
	}
	return nil
}
