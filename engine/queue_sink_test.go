package engine

import (
	"context"
	"testing"

	tdd "github.com/stretchr/testify/assert"
	"go.bryk.io/shovel/queuedir"
)

func TestQueueSinkSendWritesResolvedEntry(t *testing.T) {
	assert := tdd.New(t)
	path := t.TempDir()

	sink := NewQueueSink(QueueSinkConfig{Path: path})
	assert.Nil(sink.Start(context.Background()))

	msg := Message{Header: map[string]string{"k": "v"}, Body: []byte("hi"), Encoding: "utf-8"}
	tok, err := sink.Send(context.Background(), msg)
	assert.Nil(err)

	select {
	case <-tok.Done():
	default:
		t.Fatal("queue sink token should resolve synchronously")
	}
	assert.Nil(tok.Err())

	dir, err := queuedir.Open(path)
	assert.Nil(err)
	names, err := dir.List()
	assert.Nil(err)
	assert.Len(names, 1)

	e, err := dir.Claim(names[0])
	assert.Nil(err)
	assert.Equal("v", e.Header["k"])
	assert.Equal([]byte("hi"), e.Body)
	assert.Equal("utf-8", e.Encoding)
}

func TestQueueSinkFlushAndStopAreNoops(t *testing.T) {
	assert := tdd.New(t)
	sink := NewQueueSink(QueueSinkConfig{Path: t.TempDir()})
	assert.Nil(sink.Start(context.Background()))
	assert.Nil(sink.Flush(context.Background()))
	assert.Nil(sink.Stop())
}
