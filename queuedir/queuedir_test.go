package queuedir

import (
	"testing"

	tdd "github.com/stretchr/testify/assert"
)

func TestWriteAndList(t *testing.T) {
	assert := tdd.New(t)
	dir, err := Open(t.TempDir())
	assert.Nil(err)

	for i := 0; i < 5; i++ {
		err := dir.Write(Entry{
			Header:   map[string]string{"i": string(rune('a' + i))},
			Body:     []byte("payload"),
			Encoding: "utf-8",
		})
		assert.Nil(err)
	}

	names, err := dir.List()
	assert.Nil(err)
	assert.Len(names, 5)
}

func TestClaimAckRemove(t *testing.T) {
	assert := tdd.New(t)
	dir, err := Open(t.TempDir())
	assert.Nil(err)

	assert.Nil(dir.Write(Entry{Header: map[string]string{"k": "v"}, Body: []byte("hi"), Encoding: "utf-8"}))

	names, err := dir.List()
	assert.Nil(err)
	assert.Len(names, 1)

	e, err := dir.Claim(names[0])
	assert.Nil(err)
	assert.Equal("v", e.Header["k"])
	assert.Equal([]byte("hi"), e.Body)

	// Claimed entries are not listed again until released.
	remaining, err := dir.List()
	assert.Nil(err)
	assert.Empty(remaining)

	assert.Nil(dir.Remove(e.Name))
	remaining, err = dir.List()
	assert.Nil(err)
	assert.Empty(remaining)
}

func TestClaimAndRelease(t *testing.T) {
	assert := tdd.New(t)
	dir, err := Open(t.TempDir())
	assert.Nil(err)

	assert.Nil(dir.Write(Entry{Body: []byte("hi")}))
	names, err := dir.List()
	assert.Nil(err)
	assert.Len(names, 1)

	e, err := dir.Claim(names[0])
	assert.Nil(err)

	assert.Nil(dir.Release(e.Name))
	again, err := dir.List()
	assert.Nil(err)
	assert.Equal(names, again)
}

func TestWriteOrdering(t *testing.T) {
	assert := tdd.New(t)
	dir, err := Open(t.TempDir())
	assert.Nil(err)

	for i := 0; i < 3; i++ {
		assert.Nil(dir.Write(Entry{Body: []byte{byte(i)}}))
	}
	names, err := dir.List()
	assert.Nil(err)
	assert.Len(names, 3)

	var seqs []uint64
	for _, n := range names {
		seq, err := ParseSeq(n)
		assert.Nil(err)
		seqs = append(seqs, seq)
	}
	assert.True(seqs[0] < seqs[1])
	assert.True(seqs[1] < seqs[2])
}
