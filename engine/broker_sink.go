package engine

import (
	"context"

	"go.bryk.io/shovel/amqp"
	"go.bryk.io/shovel/config"
	xlog "go.bryk.io/shovel/log"
)

// BrokerSinkConfig describes the broker endpoint a BrokerSink publishes
// to.
type BrokerSinkConfig struct {
	// URI is the amqp[s]:// connection string.
	URI string

	// Topology is declared before the first publish.
	Topology amqp.Topology

	// Exchange and RoutingKey select the publish destination. Both are
	// overridden per-message when the message carries a `destination`
	// header (see resolveDestination): a `/queue/…` destination publishes
	// via the default exchange directly to that queue, while `/topic/…`
	// and `/exchange/…` destinations publish to the named exchange.
	Exchange   string
	RoutingKey string

	// Reliable, when set, waits for the broker's publisher confirm before
	// resolving the Token. When unset, Send resolves as soon as the frame
	// is written to the socket.
	Reliable bool

	// Persistent marks published messages for disk persistence.
	Persistent bool

	Logger xlog.Logger
	TLS    *amqpTLSConfig
}

// BrokerSink implements Sink against an AMQP 0-9-1 exchange using the
// adapted amqp.Publisher.
type BrokerSink struct {
	cfg       BrokerSinkConfig
	publisher *amqp.Publisher
	log       xlog.Logger
	stopped   bool
}

// NewBrokerSink returns a Sink publishing to a broker exchange.
func NewBrokerSink(cfg BrokerSinkConfig) *BrokerSink {
	log := cfg.Logger
	if log == nil {
		log = xlog.Discard()
	}
	return &BrokerSink{cfg: cfg, log: log}
}

// Start opens the broker connection and declares the configured topology.
func (s *BrokerSink) Start(ctx context.Context) error {
	opts := []amqp.Option{amqp.WithLogger(s.log), amqp.WithTopology(s.cfg.Topology)}
	if s.cfg.TLS != nil {
		opts = append(opts, amqp.WithTLS(s.cfg.TLS.conf))
	}
	p, err := amqp.NewPublisher(s.cfg.URI, opts...)
	if err != nil {
		return TransportError(err)
	}
	select {
	case <-p.Ready():
	case <-ctx.Done():
		_ = p.Close()
		return TransportError(ctx.Err())
	}
	s.publisher = p
	return nil
}

// Send publishes msg. The step body must never block (§5), so even in
// reliable mode Send only waits for the publish to reach the socket: the
// returned Token resolves later, off a background listener on the
// broker's publisher confirm, once the confirmation actually arrives. In
// non-reliable mode the Token is already resolved when Send returns.
func (s *BrokerSink) Send(ctx context.Context, msg Message) (Token, error) {
	if s.stopped {
		return nil, FatalError(errSinkClosed)
	}
	wire := toPublishing(msg)
	exchange, routingKey, err := resolveDestination(s.cfg, msg)
	if err != nil {
		return nil, err
	}
	opts := amqp.MessageOptions{
		Exchange:   exchange,
		RoutingKey: routingKey,
		Persistent: s.cfg.Persistent,
	}
	if !s.cfg.Reliable {
		if err := s.publisher.UnsafePush(wire, opts); err != nil {
			return nil, TransportError(err)
		}
		return newResolvedToken(nil), nil
	}
	ack, err := s.publisher.PushAsync(wire, opts)
	if err != nil {
		return nil, TransportError(err)
	}
	tok := newPendingToken()
	go awaitConfirm(tok, ack)
	return tok, nil
}

// awaitConfirm resolves tok once the broker's confirmation arrives on ack,
// run in its own goroutine so Send never blocks the Controller step body.
func awaitConfirm(tok *pendingToken, ack <-chan bool) {
	status, ok := <-ack
	if !ok {
		tok.resolve(TransportError(errUnconfirmed))
		return
	}
	if !status {
		tok.resolve(ProtocolError(errUnconfirmed))
		return
	}
	tok.resolve(nil)
}

// Flush is a no-op: every Send already returned a Token the Controller
// tracks and polls until resolved (see engine/controller.go), so there is
// no sink-internal state left to wait out here.
func (s *BrokerSink) Flush(ctx context.Context) error { return nil }

// Stop closes the publisher connection.
func (s *BrokerSink) Stop() error {
	if s.publisher == nil || s.stopped {
		return nil
	}
	s.stopped = true
	return s.publisher.Close()
}

// resolveDestination picks the exchange/routing key a message publishes
// to: the message's `destination` header, when present, overrides the
// sink's static configuration per §4.2 of the design.
func resolveDestination(cfg BrokerSinkConfig, msg Message) (exchange, routingKey string, err error) {
	exchange, routingKey = cfg.Exchange, cfg.RoutingKey
	dest, ok := msg.Header["destination"]
	if !ok || dest == "" {
		return exchange, routingKey, nil
	}
	parsed, err := config.ParseDestination(dest)
	if err != nil {
		return "", "", ProtocolError(err)
	}
	switch parsed.Kind {
	case config.KindQueue:
		// Publishing via the default exchange with routing key equal to
		// the queue name delivers directly to that queue, per AMQP 0-9-1.
		return "", parsed.Name, nil
	default:
		return parsed.Name, "", nil
	}
}

func toPublishing(msg Message) amqp.Message {
	hdr := make(map[string]interface{}, len(msg.Header))
	for k, v := range msg.Header {
		hdr[k] = v
	}
	return amqp.Message{
		Headers:         hdr,
		Body:            msg.Body,
		ContentEncoding: msg.Encoding,
	}
}
