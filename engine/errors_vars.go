package engine

import "go.bryk.io/shovel/errors"

var (
	errSourceClosed = errors.New("source delivery channel closed")
	errBadTag       = errors.New("delivery tag has the wrong underlying type")
	errSinkClosed   = errors.New("sink is stopped")
	errUnconfirmed  = errors.New("broker did not confirm the publish")
)
