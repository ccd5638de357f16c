// Package storage implements the local storage engine: the deterministic
// executor that translates replicated commands into on-disk operations.
//
// Every replica runs the same engine against its own data root. Mutations are
// idempotent where the command semantics require it (re-creating an existing
// file or deleting a missing one succeeds silently), and every successful
// write reaches stable storage before the call returns.
//
// The engine owns a per-path lock table: writers exclude readers and other
// writers on the same logical path, readers proceed concurrently. The locks
// serialize requests on this replica only; cross-replica ordering comes from
// the replicated log.
package storage

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/quorumfs/quorumfs/internal/pathlock"
	"github.com/quorumfs/quorumfs/internal/pathsafe"
	"github.com/quorumfs/quorumfs/pkg/command"
	"github.com/quorumfs/quorumfs/pkg/fserr"
)

// Engine executes filesystem commands under a single data root.
//
// Thread safety: all methods are safe for concurrent use. Overlapping
// operations on the same logical path serialize through the lock table.
type Engine struct {
	root  string
	locks *pathlock.Table
	log   zerolog.Logger

	// maxReadSize caps ReadFile results. Defaults to command.MaxReadSize;
	// tests lower it.
	maxReadSize int64
}

// New creates an engine rooted at dataRoot. Call Init before use.
func New(dataRoot string, logger zerolog.Logger) *Engine {
	return &Engine{
		root:        filepath.Clean(dataRoot),
		locks:       pathlock.NewTable(),
		log:         logger.With().Str("component", "storage").Logger(),
		maxReadSize: command.MaxReadSize,
	}
}

// Init ensures the data root exists and is a directory.
func (e *Engine) Init() error {
	st, err := os.Stat(e.root)
	switch {
	case err == nil:
		if !st.IsDir() {
			return fserr.New(fserr.NotDirectory, "data root exists but is not a directory").WithPath(e.root)
		}
	case os.IsNotExist(err):
		if err := os.MkdirAll(e.root, 0o755); err != nil {
			return fserr.FromOS(err, e.root)
		}
	default:
		return fserr.FromOS(err, e.root)
	}

	e.log.Info().Str("root", e.root).Msg("storage engine initialized")
	return nil
}

// Root returns the data root directory.
func (e *Engine) Root() string {
	return e.root
}

// resolve validates and normalizes a logical path and maps it below the data
// root. The empty logical path resolves to the root itself.
func (e *Engine) resolve(path string) (clean string, full string, err error) {
	clean, err = pathsafe.Clean(path)
	if err != nil {
		return "", "", err
	}
	if clean == "" {
		return "", e.root, nil
	}
	return clean, filepath.Join(e.root, clean), nil
}
