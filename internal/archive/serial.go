package archive

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// The archive wire format predates this implementation and must be
// reproduced byte for byte: integers and booleans are written as ASCII
// decimal followed by a single NUL, strings as raw bytes followed by NUL,
// byte arrays and string maps as a NUL-terminated decimal length followed
// by the raw contents.

// ErrFormat marks a malformed record on read: failed decode, length
// mismatch, or premature end of stream.
var ErrFormat = fmt.Errorf("archive format error")

// Decoder reads serialized primitives from an archive stream.
type Decoder struct {
	br *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{br: bufio.NewReader(r)}
}

// EOF reports whether the underlying stream is exhausted without
// consuming anything.
func (d *Decoder) EOF() bool {
	_, err := d.br.Peek(1)
	return err == io.EOF
}

// field reads bytes up to the next NUL terminator, excluding it.
func (d *Decoder) field() (string, error) {
	s, err := d.br.ReadString(0)
	if err != nil {
		return "", fmt.Errorf("%w: unterminated field: %v", ErrFormat, err)
	}
	return s[:len(s)-1], nil
}

func (d *Decoder) Uint64() (uint64, error) {
	s, err := d.field()
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: bad integer %q", ErrFormat, s)
	}
	return v, nil
}

func (d *Decoder) Int() (int, error) {
	s, err := d.field()
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: bad integer %q", ErrFormat, s)
	}
	return v, nil
}

func (d *Decoder) Int32() (int32, error) {
	v, err := d.Int()
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}

// Bool decodes "1" as true and "0" as false.
func (d *Decoder) Bool() (bool, error) {
	s, err := d.field()
	if err != nil {
		return false, err
	}
	switch s {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}
	return false, fmt.Errorf("%w: bad boolean %q", ErrFormat, s)
}

func (d *Decoder) String() (string, error) {
	return d.field()
}

// Bytes decodes a length-prefixed byte array.
func (d *Decoder) Bytes() ([]byte, error) {
	n, err := d.Uint64()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.br, buf); err != nil {
		return nil, fmt.Errorf("%w: byte array truncated: %v", ErrFormat, err)
	}
	return buf, nil
}

// BytesInto decodes a length-prefixed byte array whose length must equal
// len(buf).
func (d *Decoder) BytesInto(buf []byte) error {
	n, err := d.Uint64()
	if err != nil {
		return err
	}
	if n != uint64(len(buf)) {
		return fmt.Errorf("%w: byte array length %d, want %d", ErrFormat, n, len(buf))
	}
	if _, err := io.ReadFull(d.br, buf); err != nil {
		return fmt.Errorf("%w: byte array truncated: %v", ErrFormat, err)
	}
	return nil
}

// Raw reads exactly len(buf) bytes with no length prefix.
func (d *Decoder) Raw(buf []byte) error {
	if _, err := io.ReadFull(d.br, buf); err != nil {
		return fmt.Errorf("%w: raw read truncated: %v", ErrFormat, err)
	}
	return nil
}

// Encoder writes serialized primitives to an archive stream.
type Encoder struct {
	bw *bufio.Writer
}

func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{bw: bufio.NewWriter(w)}
}

func (e *Encoder) field(s string) error {
	if _, err := e.bw.WriteString(s); err != nil {
		return err
	}
	return e.bw.WriteByte(0)
}

func (e *Encoder) Uint64(v uint64) error {
	return e.field(strconv.FormatUint(v, 10))
}

func (e *Encoder) Int(v int) error {
	return e.field(strconv.Itoa(v))
}

func (e *Encoder) Int32(v int32) error {
	return e.Int(int(v))
}

func (e *Encoder) Bool(v bool) error {
	if v {
		return e.field("1")
	}
	return e.field("0")
}

func (e *Encoder) String(s string) error {
	return e.field(s)
}

func (e *Encoder) Bytes(b []byte) error {
	if err := e.Uint64(uint64(len(b))); err != nil {
		return err
	}
	_, err := e.bw.Write(b)
	return err
}

// Raw writes the bytes with no length prefix.
func (e *Encoder) Raw(b []byte) error {
	_, err := e.bw.Write(b)
	return err
}

// Flush pushes buffered output down to the underlying writer.
func (e *Encoder) Flush() error {
	return e.bw.Flush()
}
