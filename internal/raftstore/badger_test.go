package raftstore

import (
	"testing"

	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), "group-1", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEmptyStore(t *testing.T) {
	s := newTestStore(t)

	first, err := s.FirstIndex()
	require.NoError(t, err)
	assert.Zero(t, first)

	last, err := s.LastIndex()
	require.NoError(t, err)
	assert.Zero(t, last)

	var out raft.Log
	assert.ErrorIs(t, s.GetLog(1, &out), raft.ErrLogNotFound)
}

func TestStoreAndGetLogs(t *testing.T) {
	s := newTestStore(t)

	logs := []*raft.Log{
		{Index: 1, Term: 1, Type: raft.LogCommand, Data: []byte("one")},
		{Index: 2, Term: 1, Type: raft.LogCommand, Data: []byte("two")},
		{Index: 3, Term: 2, Type: raft.LogNoop},
	}
	require.NoError(t, s.StoreLogs(logs))

	first, err := s.FirstIndex()
	require.NoError(t, err)
	assert.EqualValues(t, 1, first)

	last, err := s.LastIndex()
	require.NoError(t, err)
	assert.EqualValues(t, 3, last)

	var out raft.Log
	require.NoError(t, s.GetLog(2, &out))
	assert.EqualValues(t, 2, out.Index)
	assert.EqualValues(t, 1, out.Term)
	assert.Equal(t, raft.LogCommand, out.Type)
	assert.Equal(t, []byte("two"), out.Data)

	require.NoError(t, s.StoreLog(&raft.Log{Index: 4, Term: 2, Data: []byte("four")}))
	last, err = s.LastIndex()
	require.NoError(t, err)
	assert.EqualValues(t, 4, last)
}

func TestDeleteRange(t *testing.T) {
	s := newTestStore(t)

	for i := uint64(1); i <= 10; i++ {
		require.NoError(t, s.StoreLog(&raft.Log{Index: i, Term: 1, Data: []byte{byte(i)}}))
	}

	require.NoError(t, s.DeleteRange(1, 6))

	first, err := s.FirstIndex()
	require.NoError(t, err)
	assert.EqualValues(t, 7, first)

	var out raft.Log
	assert.ErrorIs(t, s.GetLog(3, &out), raft.ErrLogNotFound)
	require.NoError(t, s.GetLog(7, &out))
}

func TestStableStore(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get([]byte("CurrentTerm"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.EqualError(t, err, "not found")

	_, err = s.GetUint64([]byte("CurrentTerm"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, s.Set([]byte("LastVoteCand"), []byte("10.0.0.1:7000:1")))
	val, err := s.Get([]byte("LastVoteCand"))
	require.NoError(t, err)
	assert.Equal(t, []byte("10.0.0.1:7000:1"), val)

	require.NoError(t, s.SetUint64([]byte("CurrentTerm"), 42))
	term, err := s.GetUint64([]byte("CurrentTerm"))
	require.NoError(t, err)
	assert.EqualValues(t, 42, term)
}

func TestGroupNamespacing(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(dir, "group-a", zerolog.Nop())
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	require.NoError(t, a.StoreLog(&raft.Log{Index: 9, Term: 3, Data: []byte("x")}))
	require.NoError(t, a.SetUint64([]byte("CurrentTerm"), 3))

	// Same database keys under another group id are invisible.
	b := &Store{db: a.db, group: []byte("group-b")}

	first, err := b.FirstIndex()
	require.NoError(t, err)
	assert.Zero(t, first)

	_, err = b.GetUint64([]byte("CurrentTerm"))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
