package rsm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"

	"github.com/quorumfs/quorumfs/internal/raftstore"
	"github.com/quorumfs/quorumfs/pkg/command"
	"github.com/quorumfs/quorumfs/pkg/fserr"
	"github.com/quorumfs/quorumfs/pkg/metrics"
	"github.com/quorumfs/quorumfs/pkg/storage"
)

const (
	// snapshotRetain is how many snapshots the file snapshot store keeps.
	snapshotRetain = 3

	// applyTimeout bounds how long a proposal may sit in the leader's apply
	// queue before it is rejected. Waiting for the commit itself is governed
	// by the caller's context.
	applyTimeout = 10 * time.Second

	transportMaxPool = 3
	transportTimeout = 10 * time.Second
)

// NodeConfig carries everything needed to join (or bootstrap) a replication
// group. PeerAddr is this node's own entry in InitialConf.
type NodeConfig struct {
	// RaftPath is the directory holding log/, raft_meta/ and snapshot/.
	RaftPath string

	// GroupID names the replication group; it namespaces the log store.
	GroupID string

	// PeerAddr is this node's identity, formatted "ip:port:index".
	PeerAddr string

	// InitialConf lists every founding member as "ip:port:index", comma
	// separated. All nodes must agree on it for the initial election.
	InitialConf string

	// ElectionTimeoutMs is the raft election timeout in milliseconds.
	ElectionTimeoutMs int

	// SnapshotIntervalS is how often raft checks whether a snapshot is due,
	// in seconds.
	SnapshotIntervalS int

	// SnapshotThreshold is how many new log entries must accumulate before a
	// snapshot is taken.
	SnapshotThreshold uint64
}

// Node ties the raft instance to the storage engine and exposes the
// write-admission path. All mutations go through Submit; reads bypass the
// node entirely and hit the engine directly.
type Node struct {
	raft      *raft.Raft
	fsm       *FSM
	logs      *raftstore.Store
	stable    *raftstore.Store
	snaps     raft.SnapshotStore
	transport *raft.NetworkTransport
	localID   raft.ServerID
	log       zerolog.Logger

	observerCh chan raft.Observation
	observer   *raft.Observer
	done       chan struct{}
}

// NewNode builds the raft instance on top of an initialized engine and starts
// it. If the node has no persisted state and appears in InitialConf, the
// cluster is bootstrapped from that configuration.
func NewNode(cfg NodeConfig, engine *storage.Engine, logger zerolog.Logger) (*Node, error) {
	log := logger.With().Str("component", "node").Str("peer", cfg.PeerAddr).Logger()

	bindAddr, _, err := splitPeer(cfg.PeerAddr)
	if err != nil {
		return nil, err
	}

	for _, sub := range []string{"log", "raft_meta", "snapshot"} {
		if err := os.MkdirAll(filepath.Join(cfg.RaftPath, sub), 0o755); err != nil {
			return nil, fserr.FromOS(err, filepath.Join(cfg.RaftPath, sub))
		}
	}

	logs, err := raftstore.Open(filepath.Join(cfg.RaftPath, "log"), cfg.GroupID, logger)
	if err != nil {
		return nil, err
	}
	stable, err := raftstore.Open(filepath.Join(cfg.RaftPath, "raft_meta"), cfg.GroupID, logger)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	closeStores := func() {
		_ = stable.Close()
		_ = logs.Close()
	}

	snaps, err := raft.NewFileSnapshotStore(filepath.Join(cfg.RaftPath, "snapshot"),
		snapshotRetain, logWriter(log))
	if err != nil {
		closeStores()
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	addr, err := net.ResolveTCPAddr("tcp", bindAddr)
	if err != nil {
		closeStores()
		return nil, fserr.Newf(fserr.Network, "resolve %s: %v", bindAddr, err)
	}
	transport, err := raft.NewTCPTransport(bindAddr, addr, transportMaxPool,
		transportTimeout, logWriter(log))
	if err != nil {
		closeStores()
		return nil, fserr.Newf(fserr.Network, "raft transport on %s: %v", bindAddr, err)
	}

	fsm := NewFSM(engine, logger)

	rc := raft.DefaultConfig()
	rc.LocalID = raft.ServerID(cfg.PeerAddr)
	if cfg.ElectionTimeoutMs > 0 {
		timeout := time.Duration(cfg.ElectionTimeoutMs) * time.Millisecond
		rc.ElectionTimeout = timeout
		rc.HeartbeatTimeout = timeout
		if rc.LeaderLeaseTimeout > timeout {
			rc.LeaderLeaseTimeout = timeout
		}
	}
	if cfg.SnapshotIntervalS > 0 {
		rc.SnapshotInterval = time.Duration(cfg.SnapshotIntervalS) * time.Second
	}
	if cfg.SnapshotThreshold > 0 {
		rc.SnapshotThreshold = cfg.SnapshotThreshold
	}
	rc.LogOutput = logWriter(log)

	r, err := raft.NewRaft(rc, fsm, logs, stable, snaps, transport)
	if err != nil {
		_ = transport.Close()
		closeStores()
		return nil, fmt.Errorf("start raft: %w", err)
	}

	n := &Node{
		raft:       r,
		fsm:        fsm,
		logs:       logs,
		stable:     stable,
		snaps:      snaps,
		transport:  transport,
		localID:    rc.LocalID,
		log:        log,
		observerCh: make(chan raft.Observation, 16),
		done:       make(chan struct{}),
	}

	if cfg.InitialConf != "" {
		servers, err := parseInitialConf(cfg.InitialConf)
		if err != nil {
			_ = n.Shutdown()
			return nil, err
		}
		future := r.BootstrapCluster(raft.Configuration{Servers: servers})
		if err := future.Error(); err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
			_ = n.Shutdown()
			return nil, fmt.Errorf("bootstrap cluster: %w", err)
		}
	}

	n.observer = raft.NewObserver(n.observerCh, false, func(o *raft.Observation) bool {
		_, ok := o.Data.(raft.LeaderObservation)
		return ok
	})
	r.RegisterObserver(n.observer)
	go n.observe()

	log.Info().Str("group", cfg.GroupID).Str("bind", bindAddr).Msg("raft node started")
	return n, nil
}

func (n *Node) observe() {
	for {
		select {
		case obs := <-n.observerCh:
			lo, ok := obs.Data.(raft.LeaderObservation)
			if !ok {
				continue
			}
			if lo.LeaderID == n.localID {
				metrics.Leader.Set(1)
				n.log.Info().Msg("became leader")
			} else {
				metrics.Leader.Set(0)
				n.log.Info().Str("leader", string(lo.LeaderID)).Msg("leader changed")
			}
		case <-n.done:
			return
		}
	}
}

// Submit replicates a mutating command and waits for it to commit and apply.
// On a follower it fails fast with NotLeader naming the current leader so the
// client can redirect; consensus-layer failures during the wait surface as
// NotLeader or Timeout depending on what is known about the entry's fate.
func (n *Node) Submit(ctx context.Context, cmd *command.Command) *command.Response {
	if !cmd.Type.Mutating() {
		return command.ErrResponse(fserr.Newf(fserr.Serialization,
			"command %s is not replicable", cmd.Type))
	}

	if n.raft.State() != raft.Leader {
		return command.ErrResponse(n.notLeaderErr())
	}

	data, err := command.Encode(cmd)
	if err != nil {
		return command.ErrResponse(err)
	}

	comp := NewCompletion()
	future := n.raft.Apply(data, applyTimeout)
	go func() {
		if err := future.Error(); err != nil {
			comp.Resolve(Outcome{Err: n.mapApplyError(err)})
			return
		}
		resp, ok := future.Response().(*command.Response)
		if !ok {
			comp.Resolve(Outcome{Err: fserr.New(fserr.Raft, "unexpected apply response type")})
			return
		}
		comp.Resolve(Outcome{Response: resp})
	}()

	out, err := comp.Wait(ctx)
	if err != nil {
		return command.ErrResponse(err)
	}
	if out.Err != nil {
		return command.ErrResponse(out.Err)
	}
	return out.Response
}

// mapApplyError translates raft library failures into the wire taxonomy.
// ErrLeadershipLost means the entry was accepted but its fate is unknown;
// the client must not assume it was discarded.
func (n *Node) mapApplyError(err error) error {
	switch err {
	case raft.ErrNotLeader, raft.ErrLeadershipTransferInProgress:
		return n.notLeaderErr()
	case raft.ErrLeadershipLost:
		return fserr.New(fserr.NotLeader, "leadership lost before commit, outcome unknown")
	case raft.ErrEnqueueTimeout:
		return fserr.New(fserr.Timeout, "apply queue full")
	case raft.ErrRaftShutdown:
		return fserr.New(fserr.Raft, "raft is shut down")
	default:
		return fserr.Newf(fserr.Raft, "apply failed: %v", err)
	}
}

func (n *Node) notLeaderErr() error {
	_, id := n.raft.LeaderWithID()
	if id == "" {
		return fserr.New(fserr.NoLeader, "no leader elected")
	}
	return fserr.Newf(fserr.NotLeader, "redirect to: %s", id)
}

// IsLeader reports whether this node currently holds leadership.
func (n *Node) IsLeader() bool {
	return n.raft.State() == raft.Leader
}

// LeaderID returns the peer address of the current leader, or "" if none is
// known.
func (n *Node) LeaderID() string {
	_, id := n.raft.LeaderWithID()
	return string(id)
}

// WaitForLeader blocks until some node wins an election or ctx expires.
func (n *Node) WaitForLeader(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if _, id := n.raft.LeaderWithID(); id != "" {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fserr.Newf(fserr.NoLeader, "no leader elected: %v", ctx.Err())
		}
	}
}

// Shutdown stops raft, the transport and the backing stores, in that order.
func (n *Node) Shutdown() error {
	close(n.done)
	if n.observer != nil {
		n.raft.DeregisterObserver(n.observer)
	}

	shutdownErr := n.raft.Shutdown().Error()
	if err := n.transport.Close(); err != nil && shutdownErr == nil {
		shutdownErr = err
	}
	if err := n.stable.Close(); err != nil && shutdownErr == nil {
		shutdownErr = err
	}
	if err := n.logs.Close(); err != nil && shutdownErr == nil {
		shutdownErr = err
	}
	n.log.Info().Msg("raft node stopped")
	return shutdownErr
}

// Snapshot forces an immediate snapshot, mainly for operational tooling.
func (n *Node) Snapshot() error {
	return n.raft.Snapshot().Error()
}

// SnapshotStore exposes the underlying snapshot store for export tooling.
func (n *Node) SnapshotStore() raft.SnapshotStore {
	return n.snaps
}

// splitPeer breaks an "ip:port:index" identity into its dialable address and
// replica index.
func splitPeer(peer string) (addr string, index int, err error) {
	i := strings.LastIndex(peer, ":")
	if i < 0 {
		return "", 0, fmt.Errorf("malformed peer %q", peer)
	}
	index, err = strconv.Atoi(peer[i+1:])
	if err != nil {
		return "", 0, fmt.Errorf("malformed peer %q", peer)
	}
	addr = peer[:i]
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return "", 0, fmt.Errorf("malformed peer %q", peer)
	}
	return addr, index, nil
}

// parseInitialConf turns the comma-separated founding membership into a raft
// configuration. The full "ip:port:index" string is the server id; the
// dialable part is its address.
func parseInitialConf(conf string) ([]raft.Server, error) {
	var servers []raft.Server
	for _, peer := range strings.Split(conf, ",") {
		peer = strings.TrimSpace(peer)
		if peer == "" {
			continue
		}
		addr, _, err := splitPeer(peer)
		if err != nil {
			return nil, err
		}
		servers = append(servers, raft.Server{
			Suffrage: raft.Voter,
			ID:       raft.ServerID(peer),
			Address:  raft.ServerAddress(addr),
		})
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("initial configuration is empty")
	}
	return servers, nil
}

// logWriter adapts a zerolog logger into the io.Writer the raft library and
// its snapshot store expect for their text logs.
func logWriter(log zerolog.Logger) io.Writer {
	return rawLogWriter{log: log}
}

type rawLogWriter struct {
	log zerolog.Logger
}

func (w rawLogWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	if msg != "" {
		w.log.Debug().Msg(msg)
	}
	return len(p), nil
}
