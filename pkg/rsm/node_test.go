package rsm

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quorumfs/quorumfs/pkg/command"
	"github.com/quorumfs/quorumfs/pkg/fserr"
	"github.com/quorumfs/quorumfs/pkg/storage"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func newTestNode(t *testing.T) (*Node, *storage.Engine) {
	t.Helper()

	engine := storage.New(t.TempDir(), zerolog.Nop())
	require.NoError(t, engine.Init())

	peer := fmt.Sprintf("127.0.0.1:%d:1", freePort(t))
	node, err := NewNode(NodeConfig{
		RaftPath:          t.TempDir(),
		GroupID:           "test-group",
		PeerAddr:          peer,
		InitialConf:       peer,
		ElectionTimeoutMs: 100,
	}, engine, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = node.Shutdown() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, node.WaitForLeader(ctx))
	return node, engine
}

func TestNodeSubmitAndRead(t *testing.T) {
	node, engine := newTestNode(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp := node.Submit(ctx, &command.Command{Type: command.CreateDir, Path: "data"})
	require.True(t, resp.OK, resp.Error)

	resp = node.Submit(ctx, &command.Command{
		Type: command.WriteFile, Path: "data/key", Payload: []byte("value"),
	})
	require.True(t, resp.OK, resp.Error)

	got, err := engine.ReadFile("data/key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)

	assert.True(t, node.IsLeader())
	assert.NotEmpty(t, node.LeaderID())
}

func TestNodeSubmitRejectsReadCommand(t *testing.T) {
	node, _ := newTestNode(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp := node.Submit(ctx, &command.Command{Type: command.ListDir, Path: ""})
	assert.False(t, resp.OK)
	assert.Equal(t, fserr.Serialization, fserr.CodeOf(fserr.Parse(resp.Error)))
}

func TestNodeSubmitPropagatesStorageError(t *testing.T) {
	node, _ := newTestNode(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp := node.Submit(ctx, &command.Command{Type: command.DeleteDir, Path: "a/../b"})
	assert.False(t, resp.OK)
	assert.Equal(t, fserr.InvalidPath, fserr.CodeOf(fserr.Parse(resp.Error)))
}

func TestParseInitialConf(t *testing.T) {
	servers, err := parseInitialConf("10.0.0.1:7000:1, 10.0.0.2:7000:2,10.0.0.3:7001:3")
	require.NoError(t, err)
	require.Len(t, servers, 3)
	assert.EqualValues(t, "10.0.0.1:7000:1", servers[0].ID)
	assert.EqualValues(t, "10.0.0.1:7000", servers[0].Address)
	assert.EqualValues(t, "10.0.0.3:7001", servers[2].Address)

	_, err = parseInitialConf("")
	assert.Error(t, err)

	_, err = parseInitialConf("10.0.0.1:7000")
	assert.Error(t, err)
}

func TestSplitPeer(t *testing.T) {
	addr, index, err := splitPeer("192.168.1.5:9000:42")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.5:9000", addr)
	assert.Equal(t, 42, index)

	_, _, err = splitPeer("no-colons")
	assert.Error(t, err)

	_, _, err = splitPeer("host:port:notanumber")
	assert.Error(t, err)
}
