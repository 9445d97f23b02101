package engine

import (
	"context"

	"go.bryk.io/shovel/queuedir"
)

// QueueSinkConfig describes the on-disk directory a QueueSink writes to.
type QueueSinkConfig struct {
	// Path to the queue directory.
	Path string
}

// QueueSink implements Sink by writing each message as a new entry in a
// queuedir.Dir. Writes are fsynced before Send's Token resolves, so a
// resolved Token means the message has survived a crash.
type QueueSink struct {
	cfg QueueSinkConfig
	dir *queuedir.Dir
}

// NewQueueSink returns a Sink writing to an on-disk queue directory.
func NewQueueSink(cfg QueueSinkConfig) *QueueSink {
	return &QueueSink{cfg: cfg}
}

// Start opens (creating if necessary) the queue directory.
func (s *QueueSink) Start(ctx context.Context) error {
	dir, err := queuedir.Open(s.cfg.Path)
	if err != nil {
		return StorageError(err)
	}
	s.dir = dir
	return nil
}

// Send writes msg to a new file, fsyncs it, and renames it into place
// before returning. The Token is therefore already resolved.
func (s *QueueSink) Send(ctx context.Context, msg Message) (Token, error) {
	err := s.dir.Write(queuedir.Entry{
		Header:   msg.Header,
		Body:     msg.Body,
		Encoding: msg.Encoding,
	})
	if err != nil {
		return nil, StorageError(err)
	}
	return newResolvedToken(nil), nil
}

// Flush is a no-op: every Send already fsynced before returning.
func (s *QueueSink) Flush(ctx context.Context) error { return nil }

// Stop is a no-op: the directory handle holds no open resources.
func (s *QueueSink) Stop() error { return nil }
