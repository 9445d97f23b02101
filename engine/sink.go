package engine

import "context"

// Token is an opaque completion handle returned by a Sink's Send. It
// resolves when the broker confirms publication (publisher confirms) or
// when the on-disk write has been fsynced.
type Token interface {
	// Done returns a channel that is closed once the token resolves.
	Done() <-chan struct{}

	// Err returns the resolution error, if any. Must only be called after
	// Done has fired.
	Err() error
}

// Sink accepts messages and returns completion tokens. Send is
// synchronous from the caller's perspective (the write is issued before
// it returns) but the returned Token completes asynchronously.
type Sink interface {
	// Start establishes the connection or opens the destination
	// directory. May block up to a caller-supplied connect timeout.
	Start(ctx context.Context) error

	// Send submits a message and returns a Token tracking its durable
	// acceptance.
	Send(ctx context.Context, msg Message) (Token, error)

	// Flush blocks until all outstanding Tokens complete or ctx expires.
	Flush(ctx context.Context) error

	// Stop releases resources. Must be idempotent.
	Stop() error
}

// resolvedToken is a Token that is already complete when returned, used
// by sinks whose Send resolves immediately (e.g. non-reliable broker
// publish, or synchronous fsync).
type resolvedToken struct {
	err error
	ch  chan struct{}
}

// newResolvedToken returns a Token that is immediately Done, carrying err
// (nil on success).
func newResolvedToken(err error) *resolvedToken {
	ch := make(chan struct{})
	close(ch)
	return &resolvedToken{err: err, ch: ch}
}

func (t *resolvedToken) Done() <-chan struct{} { return t.ch }
func (t *resolvedToken) Err() error            { return t.err }

// pendingToken is a Token resolved later by a background confirmation
// listener.
type pendingToken struct {
	ch  chan struct{}
	err error
}

func newPendingToken() *pendingToken {
	return &pendingToken{ch: make(chan struct{})}
}

// resolve completes the token exactly once.
func (t *pendingToken) resolve(err error) {
	t.err = err
	close(t.ch)
}

func (t *pendingToken) Done() <-chan struct{} { return t.ch }
func (t *pendingToken) Err() error            { return t.err }
