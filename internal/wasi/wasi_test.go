package wasi

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/wasmkit-go/wasmkit/internal/wasm"
)

func newMemory() *wasm.MemoryInstance {
	return &wasm.MemoryInstance{Bytes: make([]byte, wasm.MemoryPageSize)}
}

func TestArgsSizesGetAndArgsGet(t *testing.T) {
	s := NewState([]string{"prog", "a"}, nil, nil, strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
	mem := newMemory()

	errno := argsSizesGet(s, mem, []uint64{0, 4})
	require.Equal(t, ErrnoSuccess, errno)
	argc, err := mem.ReadUint32Le(0)
	require.NoError(t, err)
	require.Equal(t, uint32(2), argc)
	bufSize, err := mem.ReadUint32Le(4)
	require.NoError(t, err)
	require.Equal(t, uint32(len("prog")+1+len("a")+1), bufSize)

	const vecPtr, bufPtr = 100, 200
	errno = argsGet(s, mem, []uint64{vecPtr, bufPtr})
	require.Equal(t, ErrnoSuccess, errno)

	p0, err := mem.ReadUint32Le(vecPtr)
	require.NoError(t, err)
	require.Equal(t, uint32(bufPtr), p0)
	got, err := mem.Read(uint64(p0), 5)
	require.NoError(t, err)
	require.Equal(t, "prog\x00", string(got))

	p1, err := mem.ReadUint32Le(vecPtr + 4)
	require.NoError(t, err)
	got, err = mem.Read(uint64(p1), 2)
	require.NoError(t, err)
	require.Equal(t, "a\x00", string(got))
}

func TestEnvironGetWritesNulTerminatedVector(t *testing.T) {
	s := NewState(nil, []string{"FOO=bar"}, nil, strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
	mem := newMemory()

	errno := environGet(s, mem, []uint64{0, 100})
	require.Equal(t, ErrnoSuccess, errno)

	ptr, err := mem.ReadUint32Le(0)
	require.NoError(t, err)
	got, err := mem.Read(uint64(ptr), uint64(len("FOO=bar")+1))
	require.NoError(t, err)
	require.Equal(t, "FOO=bar\x00", string(got))
}

func TestProcExitSignalsExitError(t *testing.T) {
	s := NewState(nil, nil, nil, strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
	fn := wrapExit(s)

	_, err := fn(context.Background(), nil, []uint64{42})
	require.Error(t, err)
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, uint32(42), exitErr.Code)
	require.True(t, s.Exited)
	require.Equal(t, uint32(42), s.ExitCode)
}

func TestFdWriteToStdoutBuffer(t *testing.T) {
	var out bytes.Buffer
	s := NewState(nil, nil, nil, strings.NewReader(""), &out, &bytes.Buffer{})
	mem := newMemory()

	msg := "hello"
	require.NoError(t, mem.Write(300, []byte(msg)))
	require.NoError(t, mem.WriteUint32Le(0, 300))          // iov.buf
	require.NoError(t, mem.WriteUint32Le(4, uint32(len(msg)))) // iov.buf_len

	errno := fdWrite(s, mem, []uint64{1, 0, 1, 400})
	require.Equal(t, ErrnoSuccess, errno)
	require.Equal(t, msg, out.String())

	nwritten, err := mem.ReadUint32Le(400)
	require.NoError(t, err)
	require.Equal(t, uint32(len(msg)), nwritten)
}

func TestFdWriteUnknownFdReturnsBadf(t *testing.T) {
	s := NewState(nil, nil, nil, strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
	mem := newMemory()

	errno := fdWrite(s, mem, []uint64{99, 0, 0, 0})
	require.Equal(t, ErrnoBadf, errno)
}

func TestPathOpenCreateWriteReadRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewState(nil, nil, []Preopen{{GuestPath: "/", Fs: fs}}, strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
	mem := newMemory()

	name := "file.txt"
	require.NoError(t, mem.Write(0, []byte(name)))

	// path_open(dirfd=3, dirflags=0, path=0, path_len, oflags=CREAT, fs_rights_base,
	// fs_rights_inheriting, fdflags=0, opened_fd_ptr)
	errno := pathOpen(s, mem, []uint64{3, 0, 0, uint64(len(name)), oflagsCreat, 0, 0, 0, 500})
	require.Equal(t, ErrnoSuccess, errno)

	openedFd, err := mem.ReadUint32Le(500)
	require.NoError(t, err)
	require.Equal(t, uint32(4), openedFd)

	payload := "contents"
	require.NoError(t, mem.Write(600, []byte(payload)))
	require.NoError(t, mem.WriteUint32Le(0, 600))
	require.NoError(t, mem.WriteUint32Le(4, uint32(len(payload))))

	errno = fdWrite(s, mem, []uint64{uint64(openedFd), 0, 1, 700})
	require.Equal(t, ErrnoSuccess, errno)

	errno = fdSeek(s, mem, []uint64{uint64(openedFd), 0, 0, 800})
	require.Equal(t, ErrnoSuccess, errno)

	require.NoError(t, mem.WriteUint32Le(0, 900))
	require.NoError(t, mem.WriteUint32Le(4, uint32(len(payload))))
	errno = fdRead(s, mem, []uint64{uint64(openedFd), 0, 1, 1000})
	require.Equal(t, ErrnoSuccess, errno)

	nread, err := mem.ReadUint32Le(1000)
	require.NoError(t, err)
	require.Equal(t, uint32(len(payload)), nread)

	got, err := mem.Read(900, uint64(nread))
	require.NoError(t, err)
	require.Equal(t, payload, string(got))

	require.Equal(t, ErrnoSuccess, fdClose(s, mem, []uint64{uint64(openedFd)}))
}

func TestPathOpenMissingFileWithoutCreatReturnsNoent(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewState(nil, nil, []Preopen{{GuestPath: "/", Fs: fs}}, strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
	mem := newMemory()

	name := "missing.txt"
	require.NoError(t, mem.Write(0, []byte(name)))

	errno := pathOpen(s, mem, []uint64{3, 0, 0, uint64(len(name)), 0, 0, 0, 0, 500})
	require.Equal(t, ErrnoNoent, errno)
}

func TestFdReaddirListsPreopenEntries(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/a.txt", []byte("x"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/b.txt", []byte("yy"), 0644))

	s := NewState(nil, nil, []Preopen{{GuestPath: "/", Fs: fs}}, strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
	mem := newMemory()

	errno := fdReaddir(s, mem, []uint64{3, 0, 4096, 0, 0})
	require.Equal(t, ErrnoSuccess, errno)

	written, err := mem.ReadUint32Le(0)
	require.NoError(t, err)
	require.Greater(t, written, uint32(0))
}

func TestFdPrestatGetReportsPreopenPath(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := NewState(nil, nil, []Preopen{{GuestPath: "/work", Fs: fs}}, strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
	mem := newMemory()

	errno := fdPrestatGet(s, mem, []uint64{3, 0})
	require.Equal(t, ErrnoSuccess, errno)
	nameLen, err := mem.ReadUint32Le(4)
	require.NoError(t, err)
	require.Equal(t, uint32(len("/work")), nameLen)

	errno = fdPrestatDirName(s, mem, []uint64{3, 100, uint64(nameLen)})
	require.Equal(t, ErrnoSuccess, errno)
	got, err := mem.Read(100, uint64(nameLen))
	require.NoError(t, err)
	require.Equal(t, "/work", string(got))
}

func TestFdPrestatGetOnNonPreopenFails(t *testing.T) {
	s := NewState(nil, nil, nil, strings.NewReader(""), &bytes.Buffer{}, &bytes.Buffer{})
	mem := newMemory()

	errno := fdPrestatGet(s, mem, []uint64{0, 0})
	require.Equal(t, ErrnoBadf, errno)
}
