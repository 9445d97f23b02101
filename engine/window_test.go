package engine

import (
	"testing"

	tdd "github.com/stretchr/testify/assert"
)

func TestWindow(t *testing.T) {
	assert := tdd.New(t)

	t.Run("admit and drain in order", func(t *testing.T) {
		w := NewWindow(0)
		var seqs []uint64
		for i := 0; i < 3; i++ {
			seq, err := w.Admit(NewDeliveryTag(1, i))
			assert.Nil(err)
			seqs = append(seqs, seq)
		}
		assert.Equal(3, w.Outstanding())

		// Resolve the middle entry first; drain must still stop at the
		// unresolved head.
		w.Complete(seqs[1], true)
		assert.Empty(w.Drain())

		w.Complete(seqs[0], true)
		tags := w.Drain()
		assert.Len(tags, 2)
		assert.Equal(1, w.Outstanding())

		w.Complete(seqs[2], false)
		tags = w.Drain()
		assert.Len(tags, 1)
		assert.True(w.Empty())
	})

	t.Run("bounded window rejects over capacity", func(t *testing.T) {
		w := NewWindow(1)
		_, err := w.Admit(NewDeliveryTag(1, "a"))
		assert.Nil(err)
		assert.True(w.Full())
		_, err = w.Admit(NewDeliveryTag(1, "b"))
		assert.NotNil(err)
	})

	t.Run("unbounded window never reports full", func(t *testing.T) {
		w := NewWindow(0)
		for i := 0; i < 100; i++ {
			_, err := w.Admit(NewDeliveryTag(1, i))
			assert.Nil(err)
		}
		assert.False(w.Full())
	})
}
