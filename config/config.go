// Package config resolves the front-end configuration surface (CLI flags
// and/or config file) into the structured values the engine package
// consumes. It owns URI parsing, subscription-destination canonicalization,
// and the validation rules the engine itself does not enforce.
package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.bryk.io/shovel/errors"
)

// Credential is opaque authentication material consumed by broker
// endpoints at connect time.
type Credential struct {
	User     string
	Password string
}

// DestinationKind classifies a canonicalized Subscription or routing
// destination.
type DestinationKind uint8

const (
	KindQueue DestinationKind = iota
	KindTopic
	KindExchange
)

func (k DestinationKind) String() string {
	switch k {
	case KindQueue:
		return "queue"
	case KindTopic:
		return "topic"
	case KindExchange:
		return "exchange"
	default:
		return "unknown"
	}
}

// Destination is the canonical form of a `/queue/…`, `/topic/…` or
// `/exchange/…` string.
type Destination struct {
	Kind DestinationKind
	Name string
}

// ParseDestination canonicalizes a subscription or routing destination
// string. An absent recognized prefix is an error.
func ParseDestination(raw string) (Destination, error) {
	switch {
	case strings.HasPrefix(raw, "/queue/"):
		return Destination{Kind: KindQueue, Name: strings.TrimPrefix(raw, "/queue/")}, nil
	case strings.HasPrefix(raw, "/topic/"):
		return Destination{Kind: KindTopic, Name: strings.TrimPrefix(raw, "/topic/")}, nil
	case strings.HasPrefix(raw, "/exchange/"):
		return Destination{Kind: KindExchange, Name: strings.TrimPrefix(raw, "/exchange/")}, nil
	default:
		return Destination{}, errors.New(fmt.Sprintf("destination %q is missing a recognized prefix", raw))
	}
}

// Subscription pairs a canonical destination with broker-specific options
// that pass through to the consumer (ack, exclusive, etc.).
type Subscription struct {
	Destination Destination
	Options     map[string]interface{}
}

// ParseSubscription parses a raw `destination` string plus its option
// mapping into a Subscription.
func ParseSubscription(destination string, options map[string]interface{}) (Subscription, error) {
	dst, err := ParseDestination(destination)
	if err != nil {
		return Subscription{}, err
	}
	return Subscription{Destination: dst, Options: options}, nil
}

// URI is the parsed form of an `amqp[s]://[user[:pass]@]host[:port]/vhost`
// connection string.
type URI struct {
	Scheme string
	Host   string
	Port   int
	VHost  string
	Cred   Credential
}

// ParseURI parses a broker connection string. An explicit credential, if
// non-zero, overrides whatever was embedded in the URI.
func ParseURI(raw string, explicit *Credential) (URI, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return URI{}, errors.Wrap(err, "parse broker uri")
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return URI{}, errors.New(fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}

	out := URI{Scheme: u.Scheme, Host: u.Hostname(), VHost: strings.TrimPrefix(u.Path, "/")}
	if p := u.Port(); p != "" {
		port, convErr := strconv.Atoi(p)
		if convErr != nil {
			return URI{}, errors.Wrap(convErr, "parse broker port")
		}
		out.Port = port
	} else if u.Scheme == "amqps" {
		out.Port = 5671
	} else {
		out.Port = 5672
	}

	if u.User != nil {
		out.Cred.User = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			out.Cred.Password = pw
		}
	}
	if explicit != nil && (explicit.User != "" || explicit.Password != "") {
		out.Cred = *explicit
	}
	return out, nil
}

// String reconstructs a connection string for the adapted amqp package's
// Consumer/Publisher constructors, which accept only an address string.
func (u URI) String() string {
	host := u.Host
	if u.Port != 0 {
		host = fmt.Sprintf("%s:%d", host, u.Port)
	}
	var userinfo string
	if u.Cred.User != "" {
		userinfo = url.UserPassword(u.Cred.User, u.Cred.Password).String() + "@"
	}
	return fmt.Sprintf("%s://%s%s/%s", u.Scheme, userinfo, host, u.VHost)
}

// BrokerEndpoint configures one side (incoming or outgoing) of the
// engine when that side is an AMQP broker.
type BrokerEndpoint struct {
	URI           URI
	Exchange      string
	RoutingKey    string
	Subscriptions []Subscription
}

// QueueEndpoint configures one side of the engine when that side is an
// on-disk directory.
type QueueEndpoint struct {
	Path string
}

// Callback configures the compiled-in named transform selected for a run.
type Callback struct {
	Code string
	Path string
	Data []string
}

// Options is the fully resolved, validated configuration the engine
// consumes. It is the canonical shape every duck-typed front-end input
// (flags, config file) is normalized into before the engine ever sees it.
type Options struct {
	IncomingBroker *BrokerEndpoint
	IncomingQueue  *QueueEndpoint
	OutgoingBroker *BrokerEndpoint
	OutgoingQueue  *QueueEndpoint

	Prefetch int
	Window   int
	Reliable bool

	Count             uint64
	Duration          time.Duration
	TimeoutInactivity time.Duration

	TimeoutConnect time.Duration
	TimeoutLinger  time.Duration

	Lazy       bool
	Loop       bool
	Remove     bool
	Statistics bool

	Callback Callback

	PIDFile string
}

// Validate enforces the rules the front-end must apply before the engine
// is constructed.
func (o Options) Validate() error {
	if (o.IncomingBroker == nil) == (o.IncomingQueue == nil) {
		return errors.New("exactly one of incoming-broker or incoming-queue must be set")
	}
	if (o.OutgoingBroker == nil) == (o.OutgoingQueue == nil) {
		return errors.New("exactly one of outgoing-broker or outgoing-queue must be set")
	}
	if (o.Loop || o.Remove) && o.IncomingQueue == nil {
		return errors.New("loop and remove require a queue source")
	}
	if o.Prefetch > 0 && o.IncomingBroker == nil {
		return errors.New("prefetch and subscribe require a broker source")
	}
	if o.IncomingBroker != nil && len(o.IncomingBroker.Subscriptions) == 0 {
		return errors.New("broker source requires at least one subscription")
	}
	if o.Callback.Data != nil && o.Callback.Code == "" && o.Callback.Path == "" {
		return errors.New("callback-data requires a callback")
	}
	return nil
}
