// Package pathlock provides a process-wide multi-reader/single-writer lock
// table keyed by logical path.
//
// The locks are advisory and local to one replica: they serialize overlapping
// requests against the local storage engine. Cluster-wide ordering comes from
// the replicated log, not from here.
package pathlock

import "sync"

type entry struct {
	readers int
	writer  bool
}

// Table maps logical paths to reader/writer state. One mutex and one
// condition variable protect the whole table; entries are dropped as soon as
// they are idle so the table stays bounded by the number of in-flight
// operations.
//
// The gate is held shared for the duration of every per-path acquisition and
// exclusively by LockAll, so a whole-table writer (snapshot restore) excludes
// every path operation at once without interacting with the per-path waits.
type Table struct {
	gate sync.RWMutex

	mu      sync.Mutex
	cond    *sync.Cond
	entries map[string]*entry
}

// NewTable creates an empty lock table.
func NewTable() *Table {
	t := &Table{entries: make(map[string]*entry)}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// RLock blocks while a writer holds path, then registers a reader.
func (t *Table) RLock(path string) {
	t.gate.RLock()
	t.mu.Lock()
	defer t.mu.Unlock()

	for t.entries[path] != nil && t.entries[path].writer {
		t.cond.Wait()
	}
	e := t.entries[path]
	if e == nil {
		e = &entry{}
		t.entries[path] = e
	}
	e.readers++
}

// RUnlock releases a reader and wakes waiters.
func (t *Table) RUnlock(path string) {
	t.mu.Lock()
	e := t.entries[path]
	if e == nil || e.readers == 0 {
		t.mu.Unlock()
		panic("pathlock: RUnlock of unlocked path " + path)
	}
	e.readers--
	t.drop(path, e)
	t.cond.Broadcast()
	t.mu.Unlock()

	t.gate.RUnlock()
}

// Lock blocks while any reader or writer holds path, then registers the
// writer.
func (t *Table) Lock(path string) {
	t.gate.RLock()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lockLocked(path)
}

// Unlock releases the writer and wakes waiters.
func (t *Table) Unlock(path string) {
	t.mu.Lock()
	t.unlockLocked(path)
	t.cond.Broadcast()
	t.mu.Unlock()

	t.gate.RUnlock()
}

func (t *Table) lockLocked(path string) {
	for t.entries[path] != nil && (t.entries[path].writer || t.entries[path].readers > 0) {
		t.cond.Wait()
	}
	e := t.entries[path]
	if e == nil {
		e = &entry{}
		t.entries[path] = e
	}
	e.writer = true
}

func (t *Table) unlockLocked(path string) {
	e := t.entries[path]
	if e == nil || !e.writer {
		t.mu.Unlock()
		panic("pathlock: Unlock of unlocked path " + path)
	}
	e.writer = false
	t.drop(path, e)
}

// LockPair write-locks two paths in lexicographic order, so concurrent
// renames with crossed arguments cannot deadlock. Equal paths take one lock.
func (t *Table) LockPair(a, b string) {
	if a == b {
		t.Lock(a)
		return
	}
	if b < a {
		a, b = b, a
	}
	t.gate.RLock()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lockLocked(a)
	t.lockLocked(b)
}

// UnlockPair releases both write locks of LockPair.
func (t *Table) UnlockPair(a, b string) {
	if a == b {
		t.Unlock(a)
		return
	}
	t.mu.Lock()
	t.unlockLocked(a)
	t.unlockLocked(b)
	t.cond.Broadcast()
	t.mu.Unlock()

	t.gate.RUnlock()
}

// LockAll write-locks the entire table: it waits until every in-flight
// reader and writer releases, then blocks all new acquisitions on any path
// until UnlockAll. Snapshot restore uses it to replace the whole tree without
// a reader observing a partial copy.
func (t *Table) LockAll() {
	t.gate.Lock()
}

// UnlockAll releases the whole-table lock taken by LockAll.
func (t *Table) UnlockAll() {
	t.gate.Unlock()
}

func (t *Table) drop(path string, e *entry) {
	if e.readers == 0 && !e.writer {
		delete(t.entries, path)
	}
}

// size reports the number of live entries; test hook.
func (t *Table) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
