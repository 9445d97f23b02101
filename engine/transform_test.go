package engine

import (
	"testing"

	tdd "github.com/stretchr/testify/assert"
)

func TestIdentityTransform(t *testing.T) {
	assert := tdd.New(t)
	tr := Identity()
	assert.Nil(tr.Start(nil))
	msg := Message{Header: map[string]string{"a": "1"}, Body: []byte("x")}
	out, reason := tr.Check(msg)
	assert.Empty(reason)
	assert.Equal(msg.Body, out.Body)
}

func TestSetHeaderTransform(t *testing.T) {
	assert := tdd.New(t)
	tr, err := LookupTransform("set-header")
	assert.Nil(err)
	assert.Nil(tr.Start([]string{"destination", "/queue/R"}))

	out, reason := tr.Check(Message{Header: map[string]string{}})
	assert.Empty(reason)
	assert.Equal("/queue/R", out.Header["destination"])
}

func TestDropHeaderTransform(t *testing.T) {
	assert := tdd.New(t)
	tr, err := LookupTransform("drop-header")
	assert.Nil(err)
	assert.Nil(tr.Start([]string{"secret"}))

	in := Message{Header: map[string]string{"secret": "x", "keep": "y"}}
	out, reason := tr.Check(in)
	assert.Empty(reason)
	_, has := out.Header["secret"]
	assert.False(has)
	assert.Equal("y", out.Header["keep"])
	// original must be untouched
	assert.Equal("x", in.Header["secret"])
}

func TestRejectOnHeaderTransform(t *testing.T) {
	assert := tdd.New(t)

	tr, err := LookupTransform("reject-on-header")
	assert.Nil(err)
	assert.Nil(tr.Start([]string{"priority", "low", "skip"}))

	dropped := 0
	for _, p := range []string{"low", "high", "low", "high", "low"} {
		_, reason := tr.Check(Message{Header: map[string]string{"priority": p}})
		if reason != "" {
			assert.Equal("skip", reason)
			dropped++
		}
	}
	assert.Equal(3, dropped)
}

func TestRegisterTransform(t *testing.T) {
	assert := tdd.New(t)
	RegisterTransform("count-bytes", func() Transform { return &byteCounter{} })
	tr, err := LookupTransform("count-bytes")
	assert.Nil(err)
	assert.Nil(tr.Start(nil))
	_, reason := tr.Check(Message{Body: []byte("hello")})
	assert.Empty(reason)
	assert.Equal(5, tr.(*byteCounter).total)
}

type byteCounter struct{ total int }

func (b *byteCounter) Start([]string) error { return nil }
func (b *byteCounter) Check(msg Message) (Message, string) {
	b.total += len(msg.Body)
	return msg, ""
}
func (b *byteCounter) Idle()       {}
func (b *byteCounter) Stop() error { return nil }

func TestLookupTransformUnknown(t *testing.T) {
	assert := tdd.New(t)
	_, err := LookupTransform("does-not-exist")
	assert.NotNil(err)
}
