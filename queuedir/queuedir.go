// Package queuedir implements a simple on-disk message queue directory.
// Each message is stored as a single file, written atomically (via a
// temporary name plus rename) and fsynced before the write is considered
// durable. There is no ecosystem library in the retrieved corpus for this
// narrow, maildir-style format, so this package is built directly on the
// standard library; see the root DESIGN.md for the justification.
package queuedir

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bryk.io/shovel/errors"
)

const (
	processingSuffix = ".processing"
	writingSuffix    = ".writing"
)

// Entry is a single on-disk message record.
type Entry struct {
	// Name is the file's base name within the directory, excluding any
	// in-progress suffix.
	Name string

	// Header is the message's header mapping.
	Header map[string]string

	// Body is the raw message payload.
	Body []byte

	// Encoding is the content encoding tag associated with Body.
	Encoding string
}

// Dir manages reads and writes against a single queue directory.
type Dir struct {
	path string
	mu   sync.Mutex
	seq  uint64
}

// Open returns a handler for the queue directory at `path`, creating it
// if it does not already exist.
func Open(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, errors.Wrap(err, "create queue directory")
	}
	return &Dir{path: path}, nil
}

// List returns the names of every settled (not in-progress) entry
// currently in the directory, sorted by name.
func (d *Dir) List() ([]string, error) {
	items, err := os.ReadDir(d.path)
	if err != nil {
		return nil, errors.Wrap(err, "read queue directory")
	}
	names := make([]string, 0, len(items))
	for _, it := range items {
		if it.IsDir() {
			continue
		}
		name := it.Name()
		if strings.HasSuffix(name, processingSuffix) || strings.HasSuffix(name, writingSuffix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Claim moves a settled entry into "processing" state, reads its
// contents, and returns the decoded Entry. The caller must eventually
// call Remove or Release on the same name.
func (d *Dir) Claim(name string) (Entry, error) {
	src := filepath.Join(d.path, name)
	dst := src + processingSuffix
	if err := os.Rename(src, dst); err != nil {
		return Entry{}, errors.Wrap(err, "claim queue entry")
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		return Entry{}, errors.Wrap(err, "read queue entry")
	}
	e, err := decode(data)
	if err != nil {
		return Entry{}, err
	}
	e.Name = name
	return e, nil
}

// Remove permanently deletes a claimed entry. Used when `remove` is set.
func (d *Dir) Remove(name string) error {
	path := filepath.Join(d.path, name) + processingSuffix
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove queue entry")
	}
	return nil
}

// Release returns a claimed entry to settled state without deleting it,
// so it will be picked up again on the next directory scan.
func (d *Dir) Release(name string) error {
	src := filepath.Join(d.path, name) + processingSuffix
	dst := filepath.Join(d.path, name)
	if err := os.Rename(src, dst); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "release queue entry")
	}
	return nil
}

// Write atomically stores a new entry: the payload is written to a
// temporary file, fsynced, then renamed into place so a concurrent reader
// never observes a partial write.
func (d *Dir) Write(e Entry) error {
	name := d.nextName()
	tmp := filepath.Join(d.path, name+writingSuffix)
	final := filepath.Join(d.path, name)

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "create queue entry")
	}
	w := bufio.NewWriter(f)
	if err := encode(w, e); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errors.Wrap(err, "encode queue entry")
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errors.Wrap(err, "flush queue entry")
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errors.Wrap(err, "fsync queue entry")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "close queue entry")
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "commit queue entry")
	}
	return nil
}

// nextName mints a file name unique within this process's lifetime:
// a timestamp prefix for rough chronological ordering plus a per-Dir
// sequence to disambiguate entries written within the same nanosecond.
func (d *Dir) nextName() string {
	d.mu.Lock()
	d.seq++
	seq := d.seq
	d.mu.Unlock()
	return fmt.Sprintf("%020d.%08d", time.Now().UnixNano(), seq)
}

// wire format: a small line-oriented encoding to avoid pulling in a
// dependency for a record this simple.
func encode(w *bufio.Writer, e Entry) error {
	if _, err := fmt.Fprintf(w, "encoding: %s\n", e.Encoding); err != nil {
		return err
	}
	keys := make([]string, 0, len(e.Header))
	for k := range e.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := fmt.Fprintf(w, "header: %s=%s\n", k, e.Header[k]); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "body: %s\n", base64.StdEncoding.EncodeToString(e.Body)); err != nil {
		return err
	}
	return nil
}

func decode(data []byte) (Entry, error) {
	e := Entry{Header: map[string]string{}}
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		idx := strings.Index(line, ": ")
		if idx < 0 {
			continue
		}
		key, rest := line[:idx], line[idx+2:]
		switch key {
		case "encoding":
			e.Encoding = rest
		case "header":
			eq := strings.Index(rest, "=")
			if eq < 0 {
				continue
			}
			e.Header[rest[:eq]] = rest[eq+1:]
		case "body":
			body, err := base64.StdEncoding.DecodeString(rest)
			if err != nil {
				return Entry{}, errors.Wrap(err, "decode queue entry body")
			}
			e.Body = body
		}
	}
	return e, nil
}

// ParseSeq extracts the sequence component minted by nextName, useful in
// tests asserting write order.
func ParseSeq(name string) (uint64, error) {
	parts := strings.SplitN(name, ".", 2)
	if len(parts) != 2 {
		return 0, errors.New("malformed queue entry name")
	}
	return strconv.ParseUint(parts[1], 10, 64)
}
