package pathlock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadersShareWritersExclude(t *testing.T) {
	table := NewTable()

	table.RLock("a")
	table.RLock("a")

	writerIn := make(chan struct{})
	go func() {
		table.Lock("a")
		close(writerIn)
	}()

	select {
	case <-writerIn:
		t.Fatal("writer acquired lock while readers held it")
	case <-time.After(50 * time.Millisecond):
	}

	table.RUnlock("a")
	table.RUnlock("a")

	select {
	case <-writerIn:
	case <-time.After(2 * time.Second):
		t.Fatal("writer never acquired lock after readers released")
	}

	table.Unlock("a")
}

func TestWriterBlocksReaders(t *testing.T) {
	table := NewTable()
	table.Lock("p")

	readerIn := make(chan struct{})
	go func() {
		table.RLock("p")
		close(readerIn)
	}()

	select {
	case <-readerIn:
		t.Fatal("reader acquired lock while writer held it")
	case <-time.After(50 * time.Millisecond):
	}

	table.Unlock("p")

	select {
	case <-readerIn:
	case <-time.After(2 * time.Second):
		t.Fatal("reader never acquired lock after writer released")
	}
	table.RUnlock("p")
}

func TestIndependentPathsDoNotContend(t *testing.T) {
	table := NewTable()
	table.Lock("a")

	done := make(chan struct{})
	go func() {
		table.Lock("b")
		table.Unlock("b")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("independent path blocked")
	}
	table.Unlock("a")
}

func TestCrossedPairsDoNotDeadlock(t *testing.T) {
	table := NewTable()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			table.LockPair("old", "new")
			table.UnlockPair("old", "new")
		}()
		go func() {
			defer wg.Done()
			table.LockPair("new", "old")
			table.UnlockPair("new", "old")
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("crossed LockPair calls deadlocked")
	}
	assert.Equal(t, 0, table.size())
}

func TestLockPairSamePath(t *testing.T) {
	table := NewTable()
	table.LockPair("same", "same")
	table.UnlockPair("same", "same")
	assert.Equal(t, 0, table.size())
}

func TestLockAllWaitsForHoldersAndExcludesAll(t *testing.T) {
	table := NewTable()
	table.RLock("a/b")

	allIn := make(chan struct{})
	go func() {
		table.LockAll()
		close(allIn)
	}()

	select {
	case <-allIn:
		t.Fatal("LockAll acquired while a reader held a path")
	case <-time.After(50 * time.Millisecond):
	}

	table.RUnlock("a/b")

	select {
	case <-allIn:
	case <-time.After(2 * time.Second):
		t.Fatal("LockAll never acquired after the reader released")
	}

	// No path operation may start while the whole table is locked.
	readerIn := make(chan struct{})
	writerIn := make(chan struct{})
	go func() {
		table.RLock("x")
		close(readerIn)
		table.RUnlock("x")
	}()
	go func() {
		table.Lock("y")
		close(writerIn)
		table.Unlock("y")
	}()

	select {
	case <-readerIn:
		t.Fatal("reader acquired a path during LockAll")
	case <-writerIn:
		t.Fatal("writer acquired a path during LockAll")
	case <-time.After(50 * time.Millisecond):
	}

	table.UnlockAll()

	for _, ch := range []chan struct{}{readerIn, writerIn} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatal("path operation never resumed after UnlockAll")
		}
	}
}

func TestTableStaysBounded(t *testing.T) {
	table := NewTable()

	var counter int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				table.Lock("hot")
				counter++
				table.Unlock("hot")

				table.RLock("warm")
				table.RUnlock("warm")
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 2000, counter)
	assert.Equal(t, 0, table.size(), "idle entries must be removed")
}
