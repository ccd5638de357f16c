package rsm

import (
	"context"
	"sync"

	"github.com/quorumfs/quorumfs/pkg/command"
	"github.com/quorumfs/quorumfs/pkg/fserr"
)

// Outcome is the result carried by a Completion: either the applied
// command's response or a consensus-layer failure.
type Outcome struct {
	Response *command.Response
	Err      error
}

// Completion is the single-shot handoff between the write-admission path
// (which waits) and the goroutine that watches the raft apply future (which
// signals). The contract is notify-once, read-once: Resolve may be called
// any number of times but only the first call lands, and Wait returns the
// outcome exactly once per completion.
type Completion struct {
	once sync.Once
	ch   chan Outcome
}

// NewCompletion creates an unresolved completion.
func NewCompletion() *Completion {
	return &Completion{ch: make(chan Outcome, 1)}
}

// Resolve records the outcome. Calls after the first are ignored.
func (c *Completion) Resolve(out Outcome) {
	c.once.Do(func() {
		c.ch <- out
	})
}

// Wait blocks until the completion resolves or ctx expires. A context
// expiry surfaces as a Timeout error; the underlying apply may still commit,
// so the caller must treat the outcome as unknown.
func (c *Completion) Wait(ctx context.Context) (Outcome, error) {
	select {
	case out := <-c.ch:
		return out, nil
	case <-ctx.Done():
		return Outcome{}, fserr.Newf(fserr.Timeout,
			"timed out waiting for command to commit: %v", ctx.Err())
	}
}
