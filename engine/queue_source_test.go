package engine

import (
	"context"
	"testing"

	tdd "github.com/stretchr/testify/assert"
	"go.bryk.io/shovel/queuedir"
)

func seedQueueDir(t *testing.T, n int) string {
	t.Helper()
	path := t.TempDir()
	dir, err := queuedir.Open(path)
	if err != nil {
		t.Fatalf("open queue dir: %v", err)
	}
	for i := 0; i < n; i++ {
		if err := dir.Write(queuedir.Entry{
			Header: map[string]string{"i": string(rune('a' + i))},
			Body:   []byte{byte(i)},
		}); err != nil {
			t.Fatalf("seed entry %d: %v", i, err)
		}
	}
	return path
}

func TestQueueSourceExhaustsWithoutLoop(t *testing.T) {
	assert := tdd.New(t)
	path := seedQueueDir(t, 3)

	src := NewQueueSource(QueueSourceConfig{Path: path})
	assert.Nil(src.Start(context.Background()))

	seen := 0
	for {
		_, result, err := src.Step(context.Background())
		assert.Nil(err)
		if result == StepExhausted {
			break
		}
		assert.Equal(StepMessage, result)
		seen++
	}
	assert.Equal(3, seen)
}

func TestQueueSourceLoopsAfterExhaustion(t *testing.T) {
	assert := tdd.New(t)
	path := seedQueueDir(t, 2)

	src := NewQueueSource(QueueSourceConfig{Path: path, Loop: true, Remove: false})
	assert.Nil(src.Start(context.Background()))

	var tags []DeliveryTag
	for i := 0; i < 2; i++ {
		rcpt, result, err := src.Step(context.Background())
		assert.Nil(err)
		assert.Equal(StepMessage, result)
		tags = append(tags, rcpt.Tag)
	}

	// Exhausted but looping: reports Idle, not StepExhausted.
	_, result, err := src.Step(context.Background())
	assert.Nil(err)
	assert.Equal(StepIdle, result)

	// Release (via Nack) both entries so the next scan finds them again.
	for _, tag := range tags {
		assert.Nil(src.Nack(tag))
	}

	_, result, err = src.Step(context.Background())
	assert.Nil(err)
	assert.Equal(StepMessage, result)
}

func TestQueueSourceAckRemovesWhenConfigured(t *testing.T) {
	assert := tdd.New(t)
	path := seedQueueDir(t, 1)

	src := NewQueueSource(QueueSourceConfig{Path: path, Remove: true})
	assert.Nil(src.Start(context.Background()))

	rcpt, result, err := src.Step(context.Background())
	assert.Nil(err)
	assert.Equal(StepMessage, result)

	assert.Nil(src.Ack(rcpt.Tag))

	// Looping after a Remove-ack finds nothing: the entry is gone.
	src2 := NewQueueSource(QueueSourceConfig{Path: path, Loop: true})
	assert.Nil(src2.Start(context.Background()))
	_, result, err = src2.Step(context.Background())
	assert.Nil(err)
	assert.Equal(StepIdle, result)
}

func TestQueueSourceAckReleasesWithoutRemove(t *testing.T) {
	assert := tdd.New(t)
	path := seedQueueDir(t, 1)

	src := NewQueueSource(QueueSourceConfig{Path: path, Remove: false})
	assert.Nil(src.Start(context.Background()))

	rcpt, result, err := src.Step(context.Background())
	assert.Nil(err)
	assert.Equal(StepMessage, result)
	assert.Nil(src.Ack(rcpt.Tag))

	// The entry is still on disk (released, not removed); a fresh,
	// looping source picks it back up.
	src2 := NewQueueSource(QueueSourceConfig{Path: path, Loop: true})
	assert.Nil(src2.Start(context.Background()))
	_, result, err = src2.Step(context.Background())
	assert.Nil(err)
	assert.Equal(StepMessage, result)
}
