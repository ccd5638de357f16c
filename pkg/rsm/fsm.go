// Package rsm is the hinge between the raft library and the local storage
// engine: it decodes committed log entries and drives the engine on every
// replica, gates write admission by leadership, and owns snapshot save and
// restore.
package rsm

import (
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"

	"github.com/quorumfs/quorumfs/pkg/command"
	"github.com/quorumfs/quorumfs/pkg/fserr"
	"github.com/quorumfs/quorumfs/pkg/metrics"
	"github.com/quorumfs/quorumfs/pkg/storage"
)

// FSM applies committed log entries to the storage engine. It implements
// raft.FSM; raft invokes Apply on every replica in identical order.
type FSM struct {
	engine *storage.Engine
	log    zerolog.Logger
}

var _ raft.FSM = (*FSM)(nil)

// NewFSM creates the state machine over an initialized storage engine.
func NewFSM(engine *storage.Engine, logger zerolog.Logger) *FSM {
	return &FSM{
		engine: engine,
		log:    logger.With().Str("component", "fsm").Logger(),
	}
}

// Apply executes one committed entry and returns its *command.Response. On
// the leader the response travels back to the admission path through the
// apply future; on followers raft discards it and only the storage mutation
// remains.
//
// A decode failure is logged and answered with a Serialization error. It
// must not panic, or a single bad entry would poison every replica.
func (f *FSM) Apply(entry *raft.Log) any {
	cmd, err := command.Decode(entry.Data)
	if err != nil {
		f.log.Error().Err(err).Uint64("index", entry.Index).Uint64("term", entry.Term).
			Msg("undecodable log entry")
		metrics.AppliesTotal.WithLabelValues("UNKNOWN", fserr.Serialization.String()).Inc()
		return command.ErrResponse(err)
	}

	start := time.Now()
	resp := f.apply(cmd)
	metrics.ApplyDuration.Observe(time.Since(start).Seconds())

	code := fserr.OK
	if !resp.OK {
		code = fserr.CodeOf(fserr.Parse(resp.Error))
	}
	metrics.AppliesTotal.WithLabelValues(cmd.Type.String(), code.String()).Inc()

	f.log.Debug().Uint64("index", entry.Index).Str("type", cmd.Type.String()).
		Str("path", cmd.Path).Bool("ok", resp.OK).Msg("applied")
	return resp
}

func (f *FSM) apply(cmd *command.Command) *command.Response {
	var err error
	switch cmd.Type {
	case command.CreateFile:
		err = f.engine.CreateFile(cmd.Path)
	case command.WriteFile:
		err = f.engine.WriteFile(cmd.Path, cmd.Payload)
	case command.AppendFile:
		err = f.engine.AppendFile(cmd.Path, cmd.Payload)
	case command.DeleteFile:
		err = f.engine.DeleteFile(cmd.Path)
	case command.CreateDir:
		err = f.engine.CreateDir(cmd.Path)
	case command.DeleteDir:
		err = f.engine.DeleteDir(cmd.Path)
	case command.Rename:
		err = f.engine.Rename(cmd.Path, cmd.NewPath)
	default:
		// Read types never enter the log; seeing one means a buggy or
		// hostile proposer.
		f.log.Warn().Str("type", cmd.Type.String()).Msg("non-mutating command in log")
		err = fserr.Newf(fserr.Serialization, "command %s is not replicable", cmd.Type)
	}

	if err != nil {
		return command.ErrResponse(err)
	}
	return command.OKResponse()
}

// Snapshot captures the replica tree for the raft snapshot store. The heavy
// work happens later in Persist, on the snapshot goroutine raft provides.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	return &treeSnapshot{engine: f.engine, log: f.log}, nil
}

// Restore replaces the replica tree with a snapshot archive. Raft applies
// any entries after the snapshot's last included index afterwards.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer func() { _ = rc.Close() }()

	if err := f.engine.RestoreArchive(rc); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	metrics.RestoresTotal.Inc()
	return nil
}
