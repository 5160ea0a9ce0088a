package provider

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starpos/vmbkp/internal/archive"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	c := NewConn(&buf, &buf)

	require.NoError(t, c.SendFrame([]byte("hello")))
	require.NoError(t, c.SendFrame(nil))
	require.NoError(t, c.SendMsg("OK"))

	got, err := c.RecvFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
	got, err = c.RecvFrame()
	require.NoError(t, err)
	assert.Empty(t, got)
	msg, err := c.RecvMsg()
	require.NoError(t, err)
	assert.Equal(t, "OK", msg)
}

func TestFrameTruncated(t *testing.T) {
	c := NewConn(bytes.NewReader([]byte{5, 0, 0, 0, 0, 0, 0, 0, 'a', 'b'}), io.Discard)
	_, err := c.RecvFrame()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProvider)
}

// startWorker runs Serve over in-process pipes and returns a controller
// wired to it.
func startWorker(t *testing.T, opts Options) (*Controller, chan error) {
	t.Helper()
	toWorkerR, toWorkerW := io.Pipe()
	fromWorkerR, fromWorkerW := io.Pipe()

	served := make(chan error, 1)
	go func() {
		served <- Serve(opts, toWorkerR, fromWorkerW)
	}()

	ctrl := &Controller{opts: opts, conn: NewConn(fromWorkerR, toWorkerW)}
	require.NoError(t, ctrl.conn.handshakeParent())
	return ctrl, served
}

func stopWorker(t *testing.T, ctrl *Controller, served chan error) {
	t.Helper()
	require.NoError(t, ctrl.conn.SendMsg(cmdExit))
	res, err := ctrl.conn.RecvMsg()
	require.NoError(t, err)
	assert.Equal(t, replyOK, res)
	assert.NoError(t, <-served)
}

func TestWorkerProtocol(t *testing.T) {
	dir := t.TempDir()
	a := bytes.Repeat([]byte("a"), 512)
	b := bytes.Repeat([]byte("b"), 512)
	path := writeDiskFile(t, dir, [][]byte{a, b})

	ctrl, served := startWorker(t, Options{Path: path, BlockSize: 512})

	require.NoError(t, ctrl.Open())

	mode, err := ctrl.TransportMode()
	require.NoError(t, err)
	assert.Equal(t, "nbd", mode)

	info, err := ctrl.ReadInfo()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.NumBlocks)

	buf := make([]byte, 512)
	require.NoError(t, ctrl.ReadBlock(1, buf))
	assert.Equal(t, b, buf)

	c := bytes.Repeat([]byte("c"), 512)
	require.NoError(t, ctrl.WriteBlock(0, c))
	require.NoError(t, ctrl.ReadBlock(0, buf))
	assert.Equal(t, c, buf)

	md := archive.NewMetadata()
	md.Set("ddb.adapterType", "7")
	require.NoError(t, ctrl.WriteMetadata(md))
	got, err := ctrl.ReadMetadata()
	require.NoError(t, err)
	assert.True(t, md.Equal(got))

	require.NoError(t, ctrl.Shrink())
	require.NoError(t, ctrl.Close())

	stopWorker(t, ctrl, served)
}

func TestWorkerException(t *testing.T) {
	dir := t.TempDir()
	path := writeDiskFile(t, dir, [][]byte{make([]byte, 512)})

	ctrl, served := startWorker(t, Options{Path: path, BlockSize: 512, ReadOnly: true})
	require.NoError(t, ctrl.Open())

	// A write on a read-only disk comes back as EXCEPTION, and the
	// session stays usable afterwards.
	err := ctrl.WriteBlock(0, make([]byte, 512))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProvider)

	buf := make([]byte, 512)
	require.NoError(t, ctrl.ReadBlock(0, buf))

	require.NoError(t, ctrl.Close())
	stopWorker(t, ctrl, served)
}

func TestWorkerCreateDisk(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/fresh.img"

	h := archive.NewDumpHeader()
	h.DiskSize = 2
	h.BlockSize = 512

	ctrl, served := startWorker(t, Options{Path: path, BlockSize: 512})
	require.NoError(t, ctrl.CreateDisk(h))
	require.NoError(t, ctrl.Open())

	info, err := ctrl.ReadInfo()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.NumBlocks)

	require.NoError(t, ctrl.Close())
	stopWorker(t, ctrl, served)
}

func TestDiskInfoRoundTrip(t *testing.T) {
	info := DiskInfo{AdapterType: 2, NumBlocks: 100, NumLinks: 1}
	var buf bytes.Buffer
	e := archive.NewEncoder(&buf)
	require.NoError(t, info.Encode(e))
	require.NoError(t, e.Flush())

	var got DiskInfo
	require.NoError(t, got.Decode(archive.NewDecoder(&buf)))
	assert.Equal(t, info, got)
}
