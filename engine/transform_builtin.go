package engine

import (
	"fmt"
	"sync"
)

// TransformFactory builds a new Transform instance. Used by the named
// transform registry so each run gets its own, unshared state.
type TransformFactory func() Transform

var (
	registryMu sync.Mutex
	registry   = map[string]TransformFactory{
		"identity":       func() Transform { return Identity() },
		"drop-header":    func() Transform { return &dropHeaderTransform{} },
		"set-header":     func() Transform { return &setHeaderTransform{} },
		"reject-on-header": func() Transform { return &rejectOnHeaderTransform{} },
	}
)

// RegisterTransform makes a named, compiled-in Transform available for
// selection via configuration. Registering under an existing name
// replaces it.
func RegisterTransform(name string, factory TransformFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// LookupTransform returns a fresh instance of the named transform, or an
// error if no such name was registered.
func LookupTransform(name string) (Transform, error) {
	registryMu.Lock()
	factory, ok := registry[name]
	registryMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown transform: %s", name)
	}
	return factory(), nil
}

// setHeaderTransform sets a fixed header key/value on every message that
// passes through it. Configured via Start with exactly two data entries:
// [key, value].
type setHeaderTransform struct {
	key, value string
}

func (t *setHeaderTransform) Start(data []string) error {
	if len(data) >= 2 {
		t.key, t.value = data[0], data[1]
	}
	return nil
}

func (t *setHeaderTransform) Check(msg Message) (Message, string) {
	if t.key == "" {
		return msg, ""
	}
	out := msg.Clone()
	if out.Header == nil {
		out.Header = map[string]string{}
	}
	out.Header[t.key] = t.value
	return out, ""
}

func (t *setHeaderTransform) Idle() {}
func (t *setHeaderTransform) Stop() error { return nil }

// dropHeaderTransform removes a header key from every message, without
// otherwise affecting delivery.
type dropHeaderTransform struct {
	key string
}

func (t *dropHeaderTransform) Start(data []string) error {
	if len(data) >= 1 {
		t.key = data[0]
	}
	return nil
}

func (t *dropHeaderTransform) Check(msg Message) (Message, string) {
	if t.key == "" || msg.Header == nil {
		return msg, ""
	}
	if _, ok := msg.Header[t.key]; !ok {
		return msg, ""
	}
	out := msg.Clone()
	delete(out.Header, t.key)
	return out, ""
}

func (t *dropHeaderTransform) Idle() {}
func (t *dropHeaderTransform) Stop() error { return nil }

// rejectOnHeaderTransform drops any message whose header `key` equals
// `value`, logging `reason` (or a default) as the drop cause. Configured
// via Start with data: [key, value, reason?].
type rejectOnHeaderTransform struct {
	key, value, reason string
}

func (t *rejectOnHeaderTransform) Start(data []string) error {
	if len(data) >= 2 {
		t.key, t.value = data[0], data[1]
	}
	if len(data) >= 3 {
		t.reason = data[2]
	} else {
		t.reason = "rejected"
	}
	return nil
}

func (t *rejectOnHeaderTransform) Check(msg Message) (Message, string) {
	if t.key != "" && msg.Header != nil && msg.Header[t.key] == t.value {
		return Message{}, t.reason
	}
	return msg, ""
}

func (t *rejectOnHeaderTransform) Idle() {}
func (t *rejectOnHeaderTransform) Stop() error { return nil }
