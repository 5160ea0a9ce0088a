package archive

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncoderWireFormat(t *testing.T) {
	tests := []struct {
		name     string
		write    func(e *Encoder) error
		expected []byte
	}{
		{
			name:     "uint64",
			write:    func(e *Encoder) error { return e.Uint64(1048576) },
			expected: []byte("1048576\x00"),
		},
		{
			name:     "negative int",
			write:    func(e *Encoder) error { return e.Int(-7) },
			expected: []byte("-7\x00"),
		},
		{
			name:     "bool true",
			write:    func(e *Encoder) error { return e.Bool(true) },
			expected: []byte("1\x00"),
		},
		{
			name:     "bool false",
			write:    func(e *Encoder) error { return e.Bool(false) },
			expected: []byte("0\x00"),
		},
		{
			name:     "string",
			write:    func(e *Encoder) error { return e.String("abc") },
			expected: []byte("abc\x00"),
		},
		{
			name:     "byte array",
			write:    func(e *Encoder) error { return e.Bytes([]byte("xyz")) },
			expected: []byte("3\x00xyz"),
		},
		{
			name:     "empty byte array",
			write:    func(e *Encoder) error { return e.Bytes(nil) },
			expected: []byte("0\x00"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			e := NewEncoder(&buf)
			require.NoError(t, tt.write(e))
			require.NoError(t, e.Flush())
			assert.Equal(t, tt.expected, buf.Bytes())
		})
	}
}

func TestDecoderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	require.NoError(t, e.Uint64(42))
	require.NoError(t, e.Int32(-12))
	require.NoError(t, e.Bool(true))
	require.NoError(t, e.String("hello"))
	require.NoError(t, e.Bytes([]byte{0, 1, 2, 0xff}))
	require.NoError(t, e.Flush())

	d := NewDecoder(&buf)
	u, err := d.Uint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), u)
	i, err := d.Int32()
	require.NoError(t, err)
	assert.Equal(t, int32(-12), i)
	b, err := d.Bool()
	require.NoError(t, err)
	assert.True(t, b)
	s, err := d.String()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
	raw, err := d.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 0xff}, raw)
	assert.True(t, d.EOF())
}

func TestDecoderErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		read func(d *Decoder) error
	}{
		{
			name: "unterminated integer",
			data: []byte("123"),
			read: func(d *Decoder) error { _, err := d.Uint64(); return err },
		},
		{
			name: "non numeric integer",
			data: []byte("abc\x00"),
			read: func(d *Decoder) error { _, err := d.Uint64(); return err },
		},
		{
			name: "bad boolean",
			data: []byte("2\x00"),
			read: func(d *Decoder) error { _, err := d.Bool(); return err },
		},
		{
			name: "truncated byte array",
			data: []byte("5\x00ab"),
			read: func(d *Decoder) error { _, err := d.Bytes(); return err },
		},
		{
			name: "length mismatch",
			data: []byte("2\x00ab"),
			read: func(d *Decoder) error { return d.BytesInto(make([]byte, 4)) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.read(NewDecoder(bytes.NewReader(tt.data)))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrFormat)
		})
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	md := NewMetadata()
	md.Set("b", "2")
	md.Set("a", "1")
	md.Set("c", "3")

	// Keys serialize in sorted order regardless of insertion order.
	assert.Equal(t, []string{"a", "b", "c"}, md.Keys())

	var buf bytes.Buffer
	e := NewEncoder(&buf)
	require.NoError(t, md.Encode(e))
	require.NoError(t, e.Flush())
	assert.Equal(t, []byte("3\x00a\x001\x00b\x002\x00c\x003\x00"), buf.Bytes())

	got := NewMetadata()
	require.NoError(t, got.Decode(NewDecoder(&buf)))
	assert.True(t, md.Equal(got))
}

func TestMetadataEmpty(t *testing.T) {
	md := NewMetadata()
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	require.NoError(t, md.Encode(e))
	require.NoError(t, e.Flush())
	assert.Equal(t, []byte("0\x00"), buf.Bytes())

	got := NewMetadata()
	require.NoError(t, got.Decode(NewDecoder(&buf)))
	assert.Zero(t, got.Len())
	assert.True(t, md.Equal(got))
}

func TestTimestampRoundTrip(t *testing.T) {
	ts := Timestamp{Sec: 30, Min: 15, Hour: 10, Mday: 5, Mon: 6, Year: 110, Wday: 1, Yday: 185, Isdst: 0}

	var buf bytes.Buffer
	e := NewEncoder(&buf)
	require.NoError(t, ts.encode(e))
	require.NoError(t, e.Flush())
	assert.Equal(t, []byte("30\x0015\x0010\x005\x006\x00110\x001\x00185\x000\x00"), buf.Bytes())

	var got Timestamp
	require.NoError(t, got.decode(NewDecoder(&buf)))
	assert.Equal(t, ts, got)
	assert.True(t, ts.Equal(got))
}
