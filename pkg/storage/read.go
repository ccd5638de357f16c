package storage

import (
	"io"
	"os"
	"path"

	"github.com/quorumfs/quorumfs/pkg/command"
	"github.com/quorumfs/quorumfs/pkg/fserr"
)

// ReadFile returns the full contents of the file at path. Reads above the
// size cap fail with TooLarge instead of truncating.
func (e *Engine) ReadFile(p string) ([]byte, error) {
	clean, full, err := e.resolve(p)
	if err != nil {
		return nil, err
	}

	e.locks.RLock(clean)
	defer e.locks.RUnlock(clean)

	f, err := os.Open(full)
	if err != nil {
		return nil, fserr.FromOS(err, clean)
	}
	defer func() { _ = f.Close() }()

	st, err := f.Stat()
	if err != nil {
		return nil, fserr.FromOS(err, clean)
	}
	if st.IsDir() {
		return nil, fserr.New(fserr.IO, "is a directory").WithPath(clean)
	}
	if st.Size() > e.maxReadSize {
		return nil, fserr.Newf(fserr.TooLarge,
			"file is %d bytes, read limit is %d", st.Size(), e.maxReadSize).WithPath(clean)
	}

	buf := make([]byte, st.Size())
	n, err := io.ReadFull(f, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		// The file shrank between stat and read; what we got is the state.
		return buf[:n], nil
	}
	if err != nil {
		return nil, fserr.FromOS(err, clean)
	}
	return buf, nil
}

// ListDir enumerates the entry names of the directory at path, excluding
// "." and "..". Order is unspecified.
func (e *Engine) ListDir(p string) ([]string, error) {
	clean, full, err := e.resolve(p)
	if err != nil {
		return nil, err
	}

	e.locks.RLock(clean)
	defer e.locks.RUnlock(clean)

	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, fserr.FromOS(err, clean)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

// Stat reports name, size, kind and modification time of the entry at path.
func (e *Engine) Stat(p string) (*command.StatInfo, error) {
	clean, full, err := e.resolve(p)
	if err != nil {
		return nil, err
	}

	e.locks.RLock(clean)
	defer e.locks.RUnlock(clean)

	st, err := os.Stat(full)
	if err != nil {
		return nil, fserr.FromOS(err, clean)
	}

	name := path.Base(clean)
	if clean == "" {
		name = "."
	}
	return &command.StatInfo{
		Name:        name,
		Size:        st.Size(),
		IsDirectory: st.IsDir(),
		ModTimeUnix: st.ModTime().Unix(),
	}, nil
}

// Exists reports whether an entry exists at path.
func (e *Engine) Exists(p string) (bool, error) {
	clean, full, err := e.resolve(p)
	if err != nil {
		return false, err
	}

	e.locks.RLock(clean)
	defer e.locks.RUnlock(clean)

	if _, err := os.Lstat(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fserr.FromOS(err, clean)
	}
	return true, nil
}
