package storage

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/quorumfs/quorumfs/pkg/fserr"
)

// CreateFile ensures a regular file exists at path. Creating an existing
// file succeeds silently.
func (e *Engine) CreateFile(path string) error {
	clean, full, err := e.resolve(path)
	if err != nil {
		return err
	}

	e.locks.Lock(clean)
	defer e.locks.Unlock(clean)

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil
		}
		return fserr.FromOS(err, clean)
	}
	if err := f.Close(); err != nil {
		return fserr.FromOS(err, clean)
	}
	return nil
}

// CreateDir ensures a directory exists at path. Creating an existing
// directory succeeds silently.
func (e *Engine) CreateDir(path string) error {
	clean, full, err := e.resolve(path)
	if err != nil {
		return err
	}

	e.locks.Lock(clean)
	defer e.locks.Unlock(clean)

	if err := os.Mkdir(full, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil
		}
		return fserr.FromOS(err, clean)
	}
	return nil
}

// WriteFile replaces the contents of path with data and syncs it to stable
// storage before returning. The file is created if absent.
func (e *Engine) WriteFile(path string, data []byte) error {
	clean, full, err := e.resolve(path)
	if err != nil {
		return err
	}

	e.locks.Lock(clean)
	defer e.locks.Unlock(clean)

	return writeSynced(full, clean, data, os.O_WRONLY|os.O_CREATE|os.O_TRUNC|unix.O_NOFOLLOW)
}

// AppendFile extends the contents of path with data and syncs it to stable
// storage before returning. The file is created if absent.
func (e *Engine) AppendFile(path string, data []byte) error {
	clean, full, err := e.resolve(path)
	if err != nil {
		return err
	}

	e.locks.Lock(clean)
	defer e.locks.Unlock(clean)

	return writeSynced(full, clean, data, os.O_WRONLY|os.O_CREATE|os.O_APPEND|unix.O_NOFOLLOW)
}

// writeSynced opens full with flags, writes data completely, fsyncs and
// closes. Partial writes and EINTR retries are handled inside os.File.Write.
func writeSynced(full, clean string, data []byte, flags int) error {
	f, err := os.OpenFile(full, flags, 0o644)
	if err != nil {
		return fserr.FromOS(err, clean)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fserr.FromOS(err, clean)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fserr.FromOS(err, clean)
	}
	if err := f.Close(); err != nil {
		return fserr.FromOS(err, clean)
	}
	return nil
}

// DeleteFile unlinks the file at path. Deleting a missing file succeeds
// silently; deleting a directory through DeleteFile is an error.
func (e *Engine) DeleteFile(path string) error {
	clean, full, err := e.resolve(path)
	if err != nil {
		return err
	}

	e.locks.Lock(clean)
	defer e.locks.Unlock(clean)

	if err := unix.Unlink(full); err != nil {
		if errors.Is(err, syscall.ENOENT) {
			return nil
		}
		return fserr.FromOS(err, clean)
	}
	return nil
}

// DeleteDir removes the directory at path. Deleting a missing directory
// succeeds silently; a populated directory is a NotEmpty error. The engine
// never deletes recursively.
func (e *Engine) DeleteDir(path string) error {
	clean, full, err := e.resolve(path)
	if err != nil {
		return err
	}

	e.locks.Lock(clean)
	defer e.locks.Unlock(clean)

	if err := unix.Rmdir(full); err != nil {
		if errors.Is(err, syscall.ENOENT) {
			return nil
		}
		return fserr.FromOS(err, clean)
	}
	return nil
}

// Rename atomically moves oldPath to newPath at the filesystem level.
// There is no copy+delete fallback.
func (e *Engine) Rename(oldPath, newPath string) error {
	oldClean, oldFull, err := e.resolve(oldPath)
	if err != nil {
		return err
	}
	newClean, newFull, err := e.resolve(newPath)
	if err != nil {
		return err
	}

	e.locks.LockPair(oldClean, newClean)
	defer e.locks.UnlockPair(oldClean, newClean)

	if _, err := os.Lstat(oldFull); err != nil {
		if os.IsNotExist(err) {
			return fserr.New(fserr.NotFound, "no such file or directory").WithPath(oldClean)
		}
		return fserr.FromOS(err, oldClean)
	}

	if err := os.Rename(oldFull, newFull); err != nil {
		return fserr.FromOS(err, oldClean)
	}
	return nil
}
