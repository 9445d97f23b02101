package pidfile

import (
	"path/filepath"
	"testing"

	tdd "github.com/stretchr/testify/assert"
)

func TestCreateRejectsExistingFile(t *testing.T) {
	assert := tdd.New(t)
	path := filepath.Join(t.TempDir(), "shovel.pid")

	f, err := Create(path)
	assert.Nil(err)
	assert.NotNil(f)

	_, err = Create(path)
	assert.NotNil(err)
}

func TestQuitRequestedAndRequestQuit(t *testing.T) {
	assert := tdd.New(t)
	path := filepath.Join(t.TempDir(), "shovel.pid")

	f, err := Create(path)
	assert.Nil(err)
	assert.False(f.QuitRequested())

	assert.Nil(RequestQuit(path))
	assert.True(f.QuitRequested())
}

func TestRemoveIsIdempotent(t *testing.T) {
	assert := tdd.New(t)
	path := filepath.Join(t.TempDir(), "shovel.pid")

	f, err := Create(path)
	assert.Nil(err)
	assert.Nil(f.Remove())
	assert.Nil(f.Remove())
}

func TestQueryReportsStoppedForMissingFile(t *testing.T) {
	assert := tdd.New(t)
	path := filepath.Join(t.TempDir(), "missing.pid")

	st, err := Query(path)
	assert.Nil(err)
	assert.False(st.Running)
}

func TestQueryReportsRunningWithPID(t *testing.T) {
	assert := tdd.New(t)
	path := filepath.Join(t.TempDir(), "shovel.pid")

	f, err := Create(path)
	assert.Nil(err)
	defer func() { _ = f.Remove() }()

	st, err := Query(path)
	assert.Nil(err)
	assert.True(st.Running)
	assert.True(st.PID > 0)
}
