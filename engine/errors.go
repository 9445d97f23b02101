package engine

import (
	"go.bryk.io/shovel/errors"
)

// Kind classifies a failure according to the error taxonomy in the
// system design: configuration, transport, protocol, storage and
// transform failures each carry different recovery semantics.
type Kind uint8

const (
	// KindConfig marks errors rejected before the engine starts; they
	// have no side effects on broker or disk state.
	KindConfig Kind = iota

	// KindTransport marks network I/O failures on broker endpoints.
	// Recovered by retry only during the initial connect; otherwise fatal.
	KindTransport

	// KindProtocol marks a broker returning an unparseable frame or
	// otherwise violating the AMQP contract. Always fatal.
	KindProtocol

	// KindStorage marks local disk I/O failures on queue endpoints.
	// Per-entry source errors are logged and skipped; sink errors are
	// fatal, since silently dropping them risks data loss.
	KindStorage

	// KindTransform marks a user-supplied callback failure. The
	// affected message is dropped and the engine continues.
	KindTransform

	// KindFatal marks a failure that always triggers the shutdown
	// sequence, regardless of its origin.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindStorage:
		return "storage"
	case KindTransform:
		return "transform"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps a cause with the classification needed by the Controller to
// decide whether to retry, skip, or shut down.
type Error struct {
	Kind  Kind
	cause error
}

// Error implements the standard `error` interface.
func (e *Error) Error() string {
	return e.cause.Error()
}

// Unwrap exposes the underlying cause for `errors.Is`/`errors.As` chains.
func (e *Error) Unwrap() error {
	return e.cause
}

// Fatal reports whether this error's kind always triggers shutdown.
func (e *Error) Fatal() bool {
	return e.Kind == KindProtocol || e.Kind == KindFatal
}

// newErr builds a classified error, attaching a stacktrace via the
// errors package.
func newErr(kind Kind, cause error) *Error {
	return &Error{Kind: kind, cause: errors.WithStack(cause)}
}

// ConfigError classifies `cause` as a configuration failure.
func ConfigError(cause error) error { return newErr(KindConfig, cause) }

// TransportError classifies `cause` as a broker transport failure.
func TransportError(cause error) error { return newErr(KindTransport, cause) }

// ProtocolError classifies `cause` as an AMQP protocol violation.
func ProtocolError(cause error) error { return newErr(KindProtocol, cause) }

// StorageError classifies `cause` as a local disk I/O failure.
func StorageError(cause error) error { return newErr(KindStorage, cause) }

// TransformError classifies `cause` as a user transform failure.
func TransformError(cause error) error { return newErr(KindTransform, cause) }

// FatalError classifies `cause` as always fatal, regardless of origin.
func FatalError(cause error) error { return newErr(KindFatal, cause) }

// IsFatal reports whether `err` should trigger the shutdown sequence.
func IsFatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Fatal()
	}
	return false
}

// KindOf extracts the Kind classification from `err`, if any.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
