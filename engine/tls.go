package engine

import "crypto/tls"

// amqpTLSConfig wraps a *tls.Config so BrokerSourceConfig/BrokerSinkConfig
// can carry an optional TLS setting without every caller that leaves it
// nil needing to import crypto/tls.
type amqpTLSConfig struct {
	conf *tls.Config
}

// NewTLSConfig wraps conf for use as BrokerSourceConfig.TLS /
// BrokerSinkConfig.TLS.
func NewTLSConfig(conf *tls.Config) *amqpTLSConfig {
	return &amqpTLSConfig{conf: conf}
}
