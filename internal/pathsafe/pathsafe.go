// Package pathsafe validates and normalizes the logical paths clients send.
//
// The storage root must not be escapable by any remote client, and validation
// is the only defense, so every operation (replicated apply and local read
// alike) goes through Clean before the path touches the filesystem.
package pathsafe

import (
	"strings"

	"github.com/quorumfs/quorumfs/pkg/command"
	"github.com/quorumfs/quorumfs/pkg/fserr"
)

// Clean validates a logical path and returns its normalized form.
//
// Rejected: leading '/', any ".." segment, embedded NUL, length above
// command.MaxPathLen. Normalization collapses repeated separators, drops "."
// segments and strips the trailing separator, so two spellings of the same
// entry always normalize to the same key. The empty path denotes the storage
// root.
func Clean(path string) (string, error) {
	if len(path) > command.MaxPathLen {
		return "", fserr.Newf(fserr.InvalidPath,
			"path is %d bytes, limit is %d", len(path), command.MaxPathLen).WithPath(path[:64] + "...")
	}
	if strings.IndexByte(path, 0) >= 0 {
		return "", fserr.New(fserr.InvalidPath, "path contains NUL byte")
	}
	if strings.HasPrefix(path, "/") {
		return "", fserr.New(fserr.InvalidPath, "absolute path not allowed").WithPath(path)
	}

	if path == "" {
		return "", nil
	}

	segments := strings.Split(path, "/")
	cleaned := segments[:0]
	for _, seg := range segments {
		if seg == "" || seg == "." {
			continue
		}
		if seg == ".." {
			return "", fserr.New(fserr.InvalidPath, "path traversal not allowed").WithPath(path)
		}
		cleaned = append(cleaned, seg)
	}

	return strings.Join(cleaned, "/"), nil
}
