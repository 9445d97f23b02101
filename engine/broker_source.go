package engine

import (
	"context"
	"sync"
	"sync/atomic"

	driver "github.com/rabbitmq/amqp091-go"
	"go.bryk.io/shovel/amqp"
	xlog "go.bryk.io/shovel/log"
)

// sourceSeq mints the per-instance identifiers DeliveryTag uses to keep
// tags from distinct Source instances from ever comparing equal.
var sourceSeq uint64

func nextSourceID() uintptr {
	return uintptr(atomic.AddUint64(&sourceSeq, 1))
}

// BrokerSourceConfig describes the broker endpoint a BrokerSource reads
// from.
type BrokerSourceConfig struct {
	// URI is the amqp[s]:// connection string.
	URI string

	// Topology is declared (exchanges, queues, bindings) before the
	// subscriptions open.
	Topology amqp.Topology

	// Queues lists every subscription destination configured for this
	// source. Per §4.1, the broker source "subscribes to every configured
	// Subscription before the first step()"; each entry here becomes its
	// own consumer subscription, fanned into a single Step(). Each name
	// must be present in Topology.Queues unless it already exists on the
	// broker.
	Queues []string

	// Reliable, when set, disables broker auto-ack: the message is only
	// removed from the queue once the Controller calls Ack.
	Reliable bool

	// Prefetch bounds how many unacknowledged deliveries the broker will
	// have outstanding to this subscription at once. Ignored when <= 0.
	Prefetch int

	// Logger receives diagnostic output; defaults to a discard logger.
	Logger xlog.Logger

	// TLS, when non-nil, secures the connection.
	TLS *tlsConfigProvider
}

// tlsConfigProvider is a placeholder indirection kept so config wiring can
// supply a *tls.Config without this package importing crypto/tls directly
// in the zero-value common case. config.Options has no TLS setting, so it
// is only set by callers that build one with NewTLSConfig.
type tlsConfigProvider = amqpTLSConfig

// BrokerSource implements Source against one or more AMQP 0-9-1 queues
// using the adapted amqp.Consumer, fanning every subscription's
// deliveries into a single merged channel.
type BrokerSource struct {
	cfg      BrokerSourceConfig
	id       uintptr
	consumer *amqp.Consumer
	subIDs   []string
	merged   <-chan amqp.Delivery
	log      xlog.Logger
}

// NewBrokerSource returns a Source reading from one or more broker queues.
func NewBrokerSource(cfg BrokerSourceConfig) *BrokerSource {
	log := cfg.Logger
	if log == nil {
		log = xlog.Discard()
	}
	return &BrokerSource{cfg: cfg, id: nextSourceID(), log: log}
}

// Start opens the broker connection, declares the configured topology and
// opens every configured subscription before returning.
func (s *BrokerSource) Start(ctx context.Context) error {
	opts := []amqp.Option{amqp.WithLogger(s.log), amqp.WithTopology(s.cfg.Topology)}
	if s.cfg.Prefetch > 0 {
		opts = append(opts, amqp.WithPrefetch(s.cfg.Prefetch, 0))
	}
	if s.cfg.TLS != nil {
		opts = append(opts, amqp.WithTLS(s.cfg.TLS.conf))
	}
	c, err := amqp.NewConsumer(s.cfg.URI, opts...)
	if err != nil {
		return TransportError(err)
	}
	select {
	case <-c.Ready():
	case <-ctx.Done():
		_ = c.Close()
		return TransportError(ctx.Err())
	}

	var subIDs []string
	var chans []<-chan amqp.Delivery
	for _, queue := range s.cfg.Queues {
		ch, id, subErr := c.Subscribe(amqp.SubscribeOptions{
			Queue:   queue,
			AutoAck: !s.cfg.Reliable,
		})
		if subErr != nil {
			_ = c.Close()
			return TransportError(subErr)
		}
		subIDs = append(subIDs, id)
		chans = append(chans, ch)
	}

	s.consumer, s.subIDs, s.merged = c, subIDs, mergeDeliveries(chans)
	return nil
}

// mergeDeliveries fans an arbitrary number of delivery channels into one,
// so Step() only ever has to read from a single channel regardless of how
// many subscriptions were opened. The merged channel closes once every
// source channel has closed.
func mergeDeliveries(chans []<-chan amqp.Delivery) <-chan amqp.Delivery {
	merged := make(chan amqp.Delivery)
	var wg sync.WaitGroup
	for _, ch := range chans {
		wg.Add(1)
		go func(ch <-chan amqp.Delivery) {
			defer wg.Done()
			for d := range ch {
				merged <- d
			}
		}(ch)
	}
	go func() {
		wg.Wait()
		close(merged)
	}()
	return merged
}

// Step makes one non-blocking attempt to read a buffered delivery from
// any of the configured subscriptions.
func (s *BrokerSource) Step(ctx context.Context) (Receipt, StepResult, error) {
	select {
	case d, ok := <-s.merged:
		if !ok {
			return Receipt{}, StepIdle, TransportError(errSourceClosed)
		}
		msg := Receipt{
			Message: fromDelivery(d),
			Tag:     NewDeliveryTag(s.id, d.DeliveryTag),
		}
		return msg, StepMessage, nil
	default:
		return Receipt{}, StepIdle, nil
	}
}

// Ack confirms the delivery with the broker (no-op in non-reliable mode
// since the broker already auto-acked it).
func (s *BrokerSource) Ack(tag DeliveryTag) error {
	if !s.cfg.Reliable {
		return nil
	}
	dt, ok := tag.Value().(uint64)
	if !ok {
		return FatalError(errBadTag)
	}
	return s.consumer.AckDelivery(dt)
}

// Nack requeues the delivery with the broker.
func (s *BrokerSource) Nack(tag DeliveryTag) error {
	if !s.cfg.Reliable {
		return nil
	}
	dt, ok := tag.Value().(uint64)
	if !ok {
		return FatalError(errBadTag)
	}
	return s.consumer.NackDelivery(dt, true)
}

// Stop closes every subscription and the underlying connection.
func (s *BrokerSource) Stop() error {
	if s.consumer == nil {
		return nil
	}
	for _, id := range s.subIDs {
		_ = s.consumer.CloseSubscription(id)
	}
	return s.consumer.Close()
}

func fromDelivery(d driver.Delivery) Message {
	hdr := make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		if s, ok := v.(string); ok {
			hdr[k] = s
		}
	}
	return Message{Header: hdr, Body: d.Body, Encoding: d.ContentEncoding}
}
