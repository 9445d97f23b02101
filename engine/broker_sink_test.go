package engine

import (
	"testing"

	tdd "github.com/stretchr/testify/assert"
)

func TestResolveDestinationStaticFallback(t *testing.T) {
	assert := tdd.New(t)
	cfg := BrokerSinkConfig{Exchange: "events", RoutingKey: "default"}

	exchange, routingKey, err := resolveDestination(cfg, Message{})
	assert.Nil(err)
	assert.Equal("events", exchange)
	assert.Equal("default", routingKey)
}

func TestResolveDestinationQueueHeaderOverride(t *testing.T) {
	assert := tdd.New(t)
	cfg := BrokerSinkConfig{Exchange: "events", RoutingKey: "default"}
	msg := Message{Header: map[string]string{"destination": "/queue/R"}}

	exchange, routingKey, err := resolveDestination(cfg, msg)
	assert.Nil(err)
	assert.Equal("", exchange)
	assert.Equal("R", routingKey)
}

func TestResolveDestinationTopicAndExchangeHeaderOverride(t *testing.T) {
	assert := tdd.New(t)
	cfg := BrokerSinkConfig{}

	exchange, routingKey, err := resolveDestination(cfg, Message{Header: map[string]string{"destination": "/topic/news"}})
	assert.Nil(err)
	assert.Equal("news", exchange)
	assert.Equal("", routingKey)

	exchange, routingKey, err = resolveDestination(cfg, Message{Header: map[string]string{"destination": "/exchange/fanout"}})
	assert.Nil(err)
	assert.Equal("fanout", exchange)
	assert.Equal("", routingKey)
}

func TestResolveDestinationRejectsUnrecognizedPrefix(t *testing.T) {
	assert := tdd.New(t)
	_, _, err := resolveDestination(BrokerSinkConfig{}, Message{Header: map[string]string{"destination": "bogus"}})
	assert.NotNil(err)
}

func TestAwaitConfirmResolvesOnAck(t *testing.T) {
	assert := tdd.New(t)
	ack := make(chan bool, 1)
	ack <- true
	close(ack)

	tok := newPendingToken()
	awaitConfirm(tok, ack)

	select {
	case <-tok.Done():
	default:
		t.Fatal("token was not resolved")
	}
	assert.Nil(tok.Err())
}

func TestAwaitConfirmResolvesErrorOnNack(t *testing.T) {
	assert := tdd.New(t)
	ack := make(chan bool, 1)
	ack <- false
	close(ack)

	tok := newPendingToken()
	awaitConfirm(tok, ack)

	err := tok.Err()
	assert.NotNil(err)
	kind, ok := KindOf(err)
	assert.True(ok)
	assert.Equal(KindProtocol, kind)
}

func TestAwaitConfirmResolvesErrorOnClosedChannel(t *testing.T) {
	assert := tdd.New(t)
	ack := make(chan bool)
	close(ack)

	tok := newPendingToken()
	awaitConfirm(tok, ack)

	err := tok.Err()
	assert.NotNil(err)
	kind, ok := KindOf(err)
	assert.True(ok)
	assert.Equal(KindTransport, kind)
}

func TestToPublishingCopiesHeaderAndBody(t *testing.T) {
	assert := tdd.New(t)
	msg := Message{
		Header:   map[string]string{"k": "v"},
		Body:     []byte("payload"),
		Encoding: "utf-8",
	}
	wire := toPublishing(msg)
	assert.Equal("v", wire.Headers["k"])
	assert.Equal([]byte("payload"), wire.Body)
	assert.Equal("utf-8", wire.ContentEncoding)
}
