package engine

import (
	"context"

	"go.bryk.io/shovel/queuedir"
)

// QueueSourceConfig describes the on-disk directory a QueueSource reads
// from.
type QueueSourceConfig struct {
	// Path to the queue directory.
	Path string

	// Remove, when set, deletes an entry once it is Acked. When unset, the
	// entry is instead released back to settled state, so it will be
	// redelivered on the next pass (subject to Loop).
	Remove bool

	// Loop, when set, makes the source re-scan the directory once its
	// current listing is exhausted instead of reporting StepExhausted.
	Loop bool
}

// QueueSource implements Source by pulling settled entries from a
// queuedir.Dir in name order.
type QueueSource struct {
	cfg     QueueSourceConfig
	id      uintptr
	dir     *queuedir.Dir
	pending []string
	scanned bool
}

// NewQueueSource returns a Source reading from an on-disk queue directory.
func NewQueueSource(cfg QueueSourceConfig) *QueueSource {
	return &QueueSource{cfg: cfg, id: nextSourceID()}
}

// Start opens the queue directory.
func (s *QueueSource) Start(ctx context.Context) error {
	dir, err := queuedir.Open(s.cfg.Path)
	if err != nil {
		return StorageError(err)
	}
	s.dir = dir
	return nil
}

// Step claims the next settled entry, if any.
func (s *QueueSource) Step(ctx context.Context) (Receipt, StepResult, error) {
	if len(s.pending) == 0 {
		if s.scanned && !s.cfg.Loop {
			return Receipt{}, StepExhausted, nil
		}
		names, err := s.dir.List()
		if err != nil {
			return Receipt{}, StepIdle, StorageError(err)
		}
		s.scanned = true
		if len(names) == 0 {
			if s.cfg.Loop {
				return Receipt{}, StepIdle, nil
			}
			return Receipt{}, StepExhausted, nil
		}
		s.pending = names
	}

	name := s.pending[0]
	s.pending = s.pending[1:]
	e, err := s.dir.Claim(name)
	if err != nil {
		// Another process may have already claimed it; treat as idle
		// rather than failing the run.
		return Receipt{}, StepIdle, nil
	}
	r := Receipt{
		Message: Message{Header: e.Header, Body: e.Body, Encoding: e.Encoding},
		Tag:     NewDeliveryTag(s.id, e.Name),
	}
	return r, StepMessage, nil
}

// Ack removes or releases the entry, per Remove.
func (s *QueueSource) Ack(tag DeliveryTag) error {
	name, ok := tag.Value().(string)
	if !ok {
		return FatalError(errBadTag)
	}
	if s.cfg.Remove {
		if err := s.dir.Remove(name); err != nil {
			return StorageError(err)
		}
		return nil
	}
	if err := s.dir.Release(name); err != nil {
		return StorageError(err)
	}
	return nil
}

// Nack releases the entry back to settled state unconditionally, so it is
// never deleted regardless of Remove; a later scan (subject to Loop) picks
// it up again.
func (s *QueueSource) Nack(tag DeliveryTag) error {
	name, ok := tag.Value().(string)
	if !ok {
		return FatalError(errBadTag)
	}
	if err := s.dir.Release(name); err != nil {
		return StorageError(err)
	}
	return nil
}

// Stop is a no-op: the directory handle holds no open resources beyond
// the entries already claimed or released.
func (s *QueueSource) Stop() error { return nil }
