// Package outbox persists envelopes on their way to an external sink so a
// restart never loses one that was taken off the hub but not acknowledged.
package outbox

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// -------------------- State --------------------

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

var ErrNotFound = errors.New("outbox: record not found")

// -------------------- Record --------------------

type Record struct {
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

const recordHeader = 1 + 4 + 8

// binary encoding: [state:1][retries:4][lastAttempt:8][payload]
func encodeRecord(r Record) []byte {
	buf := make([]byte, recordHeader+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint32(buf[1:5], r.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(r.LastAttempt))
	copy(buf[recordHeader:], r.Payload)
	return buf
}

func decodeRecord(seq uint64, b []byte) (Record, error) {
	if len(b) < recordHeader {
		return Record{}, errors.New("outbox: invalid record length")
	}
	return Record{
		Seq:         seq,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     append([]byte(nil), b[recordHeader:]...),
	}, nil
}

// -------------------- Outbox --------------------

type Outbox struct {
	db   *pebble.DB
	sync *pebble.WriteOptions

	mu   sync.Mutex // guards high and orders high-water writes
	high uint64
}

type options struct {
	fs     vfs.FS
	noSync bool
}

type Option func(*options)

// WithInMemory keeps the outbox in memory. Meant for tests.
func WithInMemory() Option {
	return func(o *options) { o.fs = vfs.NewMem() }
}

// WithoutSync skips fsync on every write.
func WithoutSync() Option {
	return func(o *options) { o.noSync = true }
}

func Open(dir string, opts ...Option) (*Outbox, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	po := &pebble.Options{}
	if o.fs != nil {
		po.FS = o.fs
	}
	db, err := pebble.Open(dir, po)
	if err != nil {
		return nil, fmt.Errorf("open outbox %s: %w", dir, err)
	}
	wo := pebble.Sync
	if o.noSync {
		wo = pebble.NoSync
	}
	w := &Outbox{db: db, sync: wo}
	if w.high, err = w.loadHigh(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open outbox %s: %w", dir, err)
	}
	return w, nil
}

func (w *Outbox) Close() error {
	return w.db.Close()
}

// -------------------- API --------------------

// Put stores rec, replacing any record with the same sequence. The
// high-water sequence is raised in the same batch.
func (w *Outbox) Put(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	b := w.db.NewBatch()
	defer b.Close()

	if err := b.Set(keyFor(rec.Seq), encodeRecord(rec), nil); err != nil {
		return err
	}
	raise := rec.Seq > w.high
	if raise {
		var v [8]byte
		binary.BigEndian.PutUint64(v[:], rec.Seq)
		if err := b.Set([]byte(highKey), v[:], nil); err != nil {
			return err
		}
	}
	if err := b.Commit(w.sync); err != nil {
		return err
	}
	if raise {
		w.high = rec.Seq
	}
	return nil
}

// UpdateState records a send attempt outcome, keeping the payload.
func (w *Outbox) UpdateState(seq uint64, state State, retries uint32) error {
	rec, err := w.Get(seq)
	if err != nil {
		return err
	}
	rec.State = state
	rec.Retries = retries
	rec.LastAttempt = time.Now().UnixNano()
	return w.Put(rec)
}

// Delete removes a record once the sink has acknowledged it.
func (w *Outbox) Delete(seq uint64) error {
	return w.db.Delete(keyFor(seq), w.sync)
}

// Get returns the record stored for seq.
func (w *Outbox) Get(seq uint64) (Record, error) {
	val, closer, err := w.db.Get(keyFor(seq))
	if errors.Is(err, pebble.ErrNotFound) {
		return Record{}, fmt.Errorf("%w: seq %d", ErrNotFound, seq)
	}
	if err != nil {
		return Record{}, err
	}
	defer closer.Close()

	return decodeRecord(seq, val)
}

// -------------------- Scan --------------------

// Scan visits every record in sequence order.
func (w *Outbox) Scan(fn func(rec Record) error) error {
	iter, err := w.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeRecord(seq, iter.Value())
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

// ScanByState visits the records in the given state.
func (w *Outbox) ScanByState(state State, fn func(rec Record) error) error {
	return w.Scan(func(rec Record) error {
		if rec.State != state {
			return nil
		}
		return fn(rec)
	})
}

// Pending visits every record the sink has not acknowledged yet.
func (w *Outbox) Pending(fn func(rec Record) error) error {
	return w.Scan(func(rec Record) error {
		if rec.State == StateAcked {
			return nil
		}
		return fn(rec)
	})
}

// LastSeq returns the highest sequence ever stored, or 0 for a fresh
// outbox. Deleting records does not lower it.
func (w *Outbox) LastSeq() (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.high, nil
}

// Advance raises the high-water mark to seq without storing a record. It
// never lowers the mark.
func (w *Outbox) Advance(seq uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if seq <= w.high {
		return nil
	}
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], seq)
	if err := w.db.Set([]byte(highKey), v[:], w.sync); err != nil {
		return err
	}
	w.high = seq
	return nil
}

// loadHigh reads the high-water mark, falling back to the last record key
// for stores written before the mark existed.
func (w *Outbox) loadHigh() (uint64, error) {
	var high uint64
	val, closer, err := w.db.Get([]byte(highKey))
	switch {
	case err == nil:
		if len(val) != 8 {
			closer.Close()
			return 0, errors.New("outbox: invalid high-water mark")
		}
		high = binary.BigEndian.Uint64(val)
		closer.Close()
	case !errors.Is(err, pebble.ErrNotFound):
		return 0, err
	}

	iter, err := w.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if iter.Last() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return 0, err
		}
		high = max(high, seq)
	}
	return high, iter.Error()
}

// -------------------- Helpers --------------------

const (
	keyPrefix = "event/"
	highKey   = "meta/last_seq"
)

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	return strconv.ParseUint(string(bytes.TrimPrefix(b, []byte(keyPrefix))), 10, 64)
}
