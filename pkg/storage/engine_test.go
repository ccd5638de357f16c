package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumfs/quorumfs/pkg/fserr"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(t.TempDir(), zerolog.Nop())
	require.NoError(t, e.Init())
	return e
}

func TestInitRejectsFileRoot(t *testing.T) {
	dir := t.TempDir()
	rootFile := filepath.Join(dir, "root")
	require.NoError(t, os.WriteFile(rootFile, []byte("x"), 0o644))

	e := New(rootFile, zerolog.Nop())
	err := e.Init()
	require.Error(t, err)
	assert.Equal(t, fserr.NotDirectory, fserr.CodeOf(err))
}

func TestHappyPath(t *testing.T) {
	e := newTestEngine(t)

	require.NoError(t, e.CreateDir("projects"))
	require.NoError(t, e.CreateFile("projects/a.txt"))
	require.NoError(t, e.WriteFile("projects/a.txt", []byte("hello\n")))

	data, err := e.ReadFile("projects/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	entries, err := e.ListDir("projects")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, entries)

	require.NoError(t, e.AppendFile("projects/a.txt", []byte("world\n")))
	data, err = e.ReadFile("projects/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", string(data))
}

func TestRename(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateDir("projects"))
	require.NoError(t, e.WriteFile("projects/a.txt", []byte("hello\nworld\n")))

	require.NoError(t, e.Rename("projects/a.txt", "projects/b.txt"))

	_, err := e.ReadFile("projects/a.txt")
	assert.Equal(t, fserr.NotFound, fserr.CodeOf(err))

	data, err := e.ReadFile("projects/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", string(data))
}

func TestRenameMissingSource(t *testing.T) {
	e := newTestEngine(t)
	err := e.Rename("nope", "other")
	require.Error(t, err)
	assert.Equal(t, fserr.NotFound, fserr.CodeOf(err))
}

func TestIdempotence(t *testing.T) {
	e := newTestEngine(t)

	// Create twice, contents preserved in between.
	require.NoError(t, e.CreateFile("f"))
	require.NoError(t, e.WriteFile("f", []byte("keep")))
	require.NoError(t, e.CreateFile("f"))
	data, err := e.ReadFile("f")
	require.NoError(t, err)
	assert.Equal(t, "keep", string(data))

	require.NoError(t, e.CreateDir("d"))
	require.NoError(t, e.CreateDir("d"))

	require.NoError(t, e.DeleteFile("f"))
	require.NoError(t, e.DeleteFile("f"))

	require.NoError(t, e.DeleteDir("d"))
	require.NoError(t, e.DeleteDir("d"))
}

func TestDeleteDirNotEmpty(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateDir("d"))
	require.NoError(t, e.CreateFile("d/child"))

	err := e.DeleteDir("d")
	require.Error(t, err)
	assert.Equal(t, fserr.NotEmpty, fserr.CodeOf(err))

	// Still listable.
	entries, err := e.ListDir("d")
	require.NoError(t, err)
	assert.Equal(t, []string{"child"}, entries)
}

func TestDeleteFileOnDirectoryFails(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateDir("d"))

	err := e.DeleteFile("d")
	require.Error(t, err)

	ok, err := e.Exists("d")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPathValidationGuardsEveryOperation(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.WriteFile("keep.txt", []byte("x")))

	bad := []string{"../escape", "/abs", "x\x00y"}
	for _, p := range bad {
		assert.Equal(t, fserr.InvalidPath, fserr.CodeOf(e.CreateFile(p)), p)
		assert.Equal(t, fserr.InvalidPath, fserr.CodeOf(e.CreateDir(p)), p)
		assert.Equal(t, fserr.InvalidPath, fserr.CodeOf(e.WriteFile(p, nil)), p)
		assert.Equal(t, fserr.InvalidPath, fserr.CodeOf(e.AppendFile(p, nil)), p)
		assert.Equal(t, fserr.InvalidPath, fserr.CodeOf(e.DeleteFile(p)), p)
		assert.Equal(t, fserr.InvalidPath, fserr.CodeOf(e.DeleteDir(p)), p)
		assert.Equal(t, fserr.InvalidPath, fserr.CodeOf(e.Rename(p, "ok")), p)
		assert.Equal(t, fserr.InvalidPath, fserr.CodeOf(e.Rename("ok", p)), p)

		_, err := e.ReadFile(p)
		assert.Equal(t, fserr.InvalidPath, fserr.CodeOf(err), p)
		_, err = e.ListDir(p)
		assert.Equal(t, fserr.InvalidPath, fserr.CodeOf(err), p)
		_, err = e.Stat(p)
		assert.Equal(t, fserr.InvalidPath, fserr.CodeOf(err), p)
		_, err = e.Exists(p)
		assert.Equal(t, fserr.InvalidPath, fserr.CodeOf(err), p)
	}

	// Data root untouched by all the rejected calls.
	entries, err := e.ListDir("")
	require.NoError(t, err)
	assert.Equal(t, []string{"keep.txt"}, entries)
}

func TestReadTooLarge(t *testing.T) {
	e := newTestEngine(t)
	e.maxReadSize = 8
	require.NoError(t, e.WriteFile("big", []byte("123456789")))

	_, err := e.ReadFile("big")
	require.Error(t, err)
	assert.Equal(t, fserr.TooLarge, fserr.CodeOf(err))
}

func TestStatAndExists(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateDir("d"))
	require.NoError(t, e.WriteFile("d/f", []byte("12345")))

	info, err := e.Stat("d/f")
	require.NoError(t, err)
	assert.Equal(t, "f", info.Name)
	assert.EqualValues(t, 5, info.Size)
	assert.False(t, info.IsDirectory)
	assert.Positive(t, info.ModTimeUnix)

	info, err = e.Stat("d")
	require.NoError(t, err)
	assert.True(t, info.IsDirectory)

	_, err = e.Stat("missing")
	assert.Equal(t, fserr.NotFound, fserr.CodeOf(err))

	ok, err := e.Exists("d/f")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Exists("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListRoot(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateFile("a"))
	require.NoError(t, e.CreateDir("b"))

	entries, err := e.ListDir("")
	require.NoError(t, err)
	sort.Strings(entries)
	assert.Equal(t, []string{"a", "b"}, entries)
}

func TestConcurrentReadersAndWriterNoTornRead(t *testing.T) {
	e := newTestEngine(t)

	pre := bytes.Repeat([]byte("A"), 64*1024)
	post := bytes.Repeat([]byte("B"), 64*1024)
	require.NoError(t, e.WriteFile("k", pre))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if i%2 == 0 {
				_ = e.WriteFile("k", post)
			} else {
				_ = e.WriteFile("k", pre)
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				data, err := e.ReadFile("k")
				if err != nil {
					t.Error(err)
					return
				}
				if !bytes.Equal(data, pre) && !bytes.Equal(data, post) {
					t.Errorf("torn read: %d bytes", len(data))
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestConcurrentReadersDuringRestoreNoTornRead(t *testing.T) {
	e := newTestEngine(t)

	pre := bytes.Repeat([]byte("A"), 64*1024)
	post := bytes.Repeat([]byte("B"), 64*1024)

	require.NoError(t, e.WriteFile("k", post))
	var snapshot bytes.Buffer
	require.NoError(t, e.Archive(&snapshot))
	require.NoError(t, e.WriteFile("k", pre))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			if err := e.RestoreArchive(bytes.NewReader(snapshot.Bytes())); err != nil {
				t.Error(err)
				return
			}
		}
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				data, err := e.ReadFile("k")
				if err != nil {
					// The file is briefly absent between clear and unpack,
					// but a reader must never be running then.
					t.Error(err)
					return
				}
				if !bytes.Equal(data, pre) && !bytes.Equal(data, post) {
					t.Errorf("torn read during restore: %d bytes", len(data))
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestArchiveRestoreRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	require.NoError(t, e.CreateDir("projects"))
	require.NoError(t, e.CreateDir("projects/deep"))
	require.NoError(t, e.CreateDir("empty"))
	require.NoError(t, e.WriteFile("projects/a.txt", []byte("hello\n")))
	require.NoError(t, e.WriteFile("projects/deep/b.bin", []byte{0x00, 0xff, 0x10}))
	require.NoError(t, e.CreateFile("zero"))

	var buf bytes.Buffer
	require.NoError(t, e.Archive(&buf))

	// Scribble over the tree, then restore on top of it.
	require.NoError(t, e.WriteFile("projects/a.txt", []byte("garbage")))
	require.NoError(t, e.CreateFile("stray"))

	require.NoError(t, e.RestoreArchive(bytes.NewReader(buf.Bytes())))

	data, err := e.ReadFile("projects/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	data, err = e.ReadFile("projects/deep/b.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0xff, 0x10}, data)

	data, err = e.ReadFile("zero")
	require.NoError(t, err)
	assert.Empty(t, data)

	ok, err := e.Exists("stray")
	require.NoError(t, err)
	assert.False(t, ok, "restore must clear entries that were not in the snapshot")

	entries, err := e.ListDir("empty")
	require.NoError(t, err)
	assert.Empty(t, entries)

	root, err := e.ListDir("")
	require.NoError(t, err)
	sort.Strings(root)
	assert.Equal(t, []string{"empty", "projects", "zero"}, root)
}
