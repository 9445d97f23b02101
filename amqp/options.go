package amqp

import (
	"crypto/tls"

	xlog "go.bryk.io/shovel/log"
)

// Option instances adjust the settings used by a session when connecting
// to a broker server. Used by both consumer and publisher instances.
type Option func(*session) error

// WithName sets a custom identifier for the session instance. If not
// provided, publishers are automatically named as "publisher-*" and
// consumers as "consumer-*".
func WithName(name string) Option {
	return func(s *session) error {
		s.name = name
		return nil
	}
}

// WithLogger sets the logger instance used to report internal session
// events. When not provided all log entries are discarded.
func WithLogger(log xlog.Logger) Option {
	return func(s *session) error {
		if log != nil {
			s.log = log
		}
		return nil
	}
}

// WithTLS enables TLS protected connections using the provided
// configuration. When `nil`, the connection is established over the
// settings included in the server's address ("amqp://" vs "amqps://").
func WithTLS(conf *tls.Config) Option {
	return func(s *session) error {
		s.tlsConf = conf
		return nil
	}
}

// WithTopology ensures the broker state matches the provided declaration
// before the session is marked as ready. Missing exchanges, queues and
// bindings will be created; existing ones are verified to match.
func WithTopology(top Topology) Option {
	return func(s *session) error {
		s.topology = top
		return nil
	}
}

// WithPrefetch adjusts the server-side credit granted to the session.
// `count` bounds the number of unacknowledged deliveries the broker will
// push before waiting for acks; `size` further bounds by bytes flushed to
// the network. A `count` of 0 disables the message-count limit.
func WithPrefetch(count, size int) Option {
	return func(s *session) error {
		s.prefetchCount = count
		s.prefetchSize = size
		return nil
	}
}
