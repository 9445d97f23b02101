package engine

import (
	"sync"

	"go.bryk.io/shovel/errors"
)

// outcome records how an in-flight entry was resolved.
type outcome uint8

const (
	pending outcome = iota
	sent
	dropped
)

// entry is a single in-flight record: a receipt sequence, the Source's
// delivery tag, and its current resolution state.
type entry struct {
	seq uint64
	tag DeliveryTag
	st  outcome
}

// errWindowFull is returned by Admit when the window is already at
// capacity.
var errWindowFull = errors.New("window is full")

// Window bounds in-flight memory and sequences acknowledgments. It holds
// an ordered FIFO of in-flight entries; Drain only releases a run of
// entries starting at the head that have all been resolved, which keeps
// acknowledgments in strict receipt order even when later entries resolve
// first.
type Window struct {
	mu      sync.Mutex
	size    int
	nextSeq uint64
	entries []entry
}

// NewWindow returns a Window that admits at most `size` concurrent
// in-flight entries. A size of 0 means unbounded.
func NewWindow(size int) *Window {
	return &Window{size: size}
}

// Admit registers a newly received delivery tag as Pending and returns
// the sequence number assigned to it. It fails with errWindowFull if the
// window is already at capacity.
func (w *Window) Admit(tag DeliveryTag) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.size > 0 && len(w.entries) >= w.size {
		return 0, errWindowFull
	}
	seq := w.nextSeq
	w.nextSeq++
	w.entries = append(w.entries, entry{seq: seq, tag: tag, st: pending})
	return seq, nil
}

// Complete marks the entry identified by `seq` as Sent (ok=true) or
// Dropped (ok=false). It is a no-op if the sequence is unknown, which can
// happen if shutdown already discarded the entry.
func (w *Window) Complete(seq uint64, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := range w.entries {
		if w.entries[i].seq == seq {
			if ok {
				w.entries[i].st = sent
			} else {
				w.entries[i].st = dropped
			}
			return
		}
	}
}

// Drain pops every resolved entry starting at the head of the FIFO,
// stopping at the first entry still Pending, and returns the tags to
// acknowledge in receipt order.
func (w *Window) Drain() []DeliveryTag {
	w.mu.Lock()
	defer w.mu.Unlock()
	var tags []DeliveryTag
	i := 0
	for ; i < len(w.entries); i++ {
		if w.entries[i].st == pending {
			break
		}
		tags = append(tags, w.entries[i].tag)
	}
	w.entries = w.entries[i:]
	return tags
}

// Outstanding returns the number of entries currently tracked, resolved
// or not.
func (w *Window) Outstanding() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}

// Empty reports whether the window currently holds no entries.
func (w *Window) Empty() bool {
	return w.Outstanding() == 0
}

// Full reports whether the window is at capacity and Admit would fail.
// An unbounded window (size 0) is never full.
func (w *Window) Full() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size > 0 && len(w.entries) >= w.size
}
