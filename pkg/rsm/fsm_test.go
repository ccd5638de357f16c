package rsm

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumfs/quorumfs/pkg/command"
	"github.com/quorumfs/quorumfs/pkg/fserr"
	"github.com/quorumfs/quorumfs/pkg/storage"
)

func newTestFSM(t *testing.T) (*FSM, *storage.Engine) {
	t.Helper()
	engine := storage.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, engine.Init())
	return NewFSM(engine, zerolog.Nop()), engine
}

func applyCmd(t *testing.T, fsm *FSM, index uint64, cmd *command.Command) *command.Response {
	t.Helper()
	data, err := command.Encode(cmd)
	require.NoError(t, err)
	resp, ok := fsm.Apply(&raft.Log{Index: index, Term: 1, Type: raft.LogCommand, Data: data}).(*command.Response)
	require.True(t, ok)
	return resp
}

// applyOK is applyCmd for setup steps: a failed apply aborts the test instead
// of silently producing an empty tree.
func applyOK(t *testing.T, fsm *FSM, index uint64, cmd *command.Command) {
	t.Helper()
	resp := applyCmd(t, fsm, index, cmd)
	require.True(t, resp.OK, "apply %s %q failed: %s", cmd.Type, cmd.Path, resp.Error)
}

func TestFSMApplyWritePath(t *testing.T) {
	fsm, engine := newTestFSM(t)

	resp := applyCmd(t, fsm, 1, &command.Command{Type: command.CreateDir, Path: "docs"})
	assert.True(t, resp.OK)

	resp = applyCmd(t, fsm, 2, &command.Command{Type: command.CreateFile, Path: "docs/a.txt"})
	assert.True(t, resp.OK)

	resp = applyCmd(t, fsm, 3, &command.Command{
		Type: command.WriteFile, Path: "docs/a.txt", Payload: []byte("hello"),
	})
	assert.True(t, resp.OK)

	resp = applyCmd(t, fsm, 4, &command.Command{
		Type: command.AppendFile, Path: "docs/a.txt", Payload: []byte(" world"),
	})
	assert.True(t, resp.OK)

	data, err := engine.ReadFile("docs/a.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), data)

	resp = applyCmd(t, fsm, 5, &command.Command{
		Type: command.Rename, Path: "docs/a.txt", NewPath: "docs/b.txt",
	})
	assert.True(t, resp.OK)

	ok, err := engine.Exists("docs/b.txt")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFSMApplyFailureIsResponse(t *testing.T) {
	fsm, _ := newTestFSM(t)

	resp := applyCmd(t, fsm, 1, &command.Command{Type: command.DeleteDir, Path: "missing/.."})
	assert.False(t, resp.OK)
	assert.Equal(t, fserr.InvalidPath, fserr.CodeOf(fserr.Parse(resp.Error)))
}

func TestFSMApplyUndecodableEntry(t *testing.T) {
	fsm, _ := newTestFSM(t)

	resp, ok := fsm.Apply(&raft.Log{Index: 1, Term: 1, Data: []byte{0xff, 0x00, 0x13}}).(*command.Response)
	require.True(t, ok)
	assert.False(t, resp.OK)
	assert.Equal(t, fserr.Serialization, fserr.CodeOf(fserr.Parse(resp.Error)))
}

func TestFSMApplyReadTypeRejected(t *testing.T) {
	fsm, _ := newTestFSM(t)

	resp := applyCmd(t, fsm, 1, &command.Command{Type: command.ReadFile, Path: "x"})
	assert.False(t, resp.OK)
	assert.Equal(t, fserr.Serialization, fserr.CodeOf(fserr.Parse(resp.Error)))
}

type bufferSink struct {
	bytes.Buffer
	canceled bool
}

func (s *bufferSink) ID() string    { return "2-10-1" }
func (s *bufferSink) Cancel() error { s.canceled = true; return nil }
func (s *bufferSink) Close() error  { return nil }

func TestFSMSnapshotRestoreRoundTrip(t *testing.T) {
	fsm, engine := newTestFSM(t)

	// CreateDir is non-recursive, parents first.
	applyOK(t, fsm, 1, &command.Command{Type: command.CreateDir, Path: "a"})
	applyOK(t, fsm, 2, &command.Command{Type: command.CreateDir, Path: "a/b"})
	applyOK(t, fsm, 3, &command.Command{
		Type: command.WriteFile, Path: "a/b/c.bin", Payload: []byte{0, 1, 2, 3},
	})

	snap, err := fsm.Snapshot()
	require.NoError(t, err)

	var sink bufferSink
	require.NoError(t, snap.Persist(&sink))
	assert.False(t, sink.canceled)
	snap.Release()

	// Restore into a second replica that holds unrelated state.
	other := storage.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, other.Init())
	require.NoError(t, os.WriteFile(filepath.Join(other.Root(), "stale.txt"), []byte("x"), 0o644))

	otherFSM := NewFSM(other, zerolog.Nop())
	require.NoError(t, otherFSM.Restore(io.NopCloser(bytes.NewReader(sink.Bytes()))))

	data, err := other.ReadFile("a/b/c.bin")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2, 3}, data)

	ok, err := other.Exists("stale.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	same, err := engine.ReadFile("a/b/c.bin")
	require.NoError(t, err)
	assert.Equal(t, data, same)
}
