package engine

import (
	"testing"
	"time"

	driver "github.com/rabbitmq/amqp091-go"
	tdd "github.com/stretchr/testify/assert"

	"go.bryk.io/shovel/amqp"
)

func TestMergeDeliveriesFansInEverySubscription(t *testing.T) {
	assert := tdd.New(t)

	a := make(chan driver.Delivery, 1)
	b := make(chan driver.Delivery, 1)
	c := make(chan driver.Delivery, 1)
	a <- driver.Delivery{Body: []byte("from-a")}
	b <- driver.Delivery{Body: []byte("from-b")}
	c <- driver.Delivery{Body: []byte("from-c")}
	close(a)
	close(b)
	close(c)

	merged := mergeDeliveries([]<-chan amqp.Delivery{a, b, c})

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		select {
		case d, ok := <-merged:
			assert.True(ok)
			seen[string(d.Body)] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for merged delivery")
		}
	}
	assert.True(seen["from-a"])
	assert.True(seen["from-b"])
	assert.True(seen["from-c"])

	select {
	case _, ok := <-merged:
		assert.False(ok, "merged channel should close once every source closes")
	case <-time.After(time.Second):
		t.Fatal("merged channel never closed")
	}
}

func TestMergeDeliveriesClosesImmediatelyWithNoSubscriptions(t *testing.T) {
	assert := tdd.New(t)

	merged := mergeDeliveries(nil)
	select {
	case _, ok := <-merged:
		assert.False(ok)
	case <-time.After(time.Second):
		t.Fatal("merged channel never closed")
	}
}
