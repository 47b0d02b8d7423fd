// Package eventlog implements the append-only outcome log. Every dispatched
// task and every trust-fund state change is recorded here; dispatch errors
// are observable only through this log, never surfaced to a caller. Records
// are deterministic, so identical input yields identical logs on every
// replica.
package eventlog

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	pebblestore "github.com/rzbill/deferd/internal/storage/pebble"
)

// Log provides append and read operations over the event keyspace. The log
// keeps no state outside the store: sequence numbers derive from the meta
// key as visible through the batch being staged, so a batch that is
// abandoned instead of committed leaves no trace.
type Log struct {
	db *pebblestore.DB
}

// OpenLog initializes a Log, verifying the sequence metadata decodes.
func OpenLog(db *pebblestore.DB) (*Log, error) {
	meta, err := db.Get(KeyMeta())
	if err != nil && !pebblestore.IsNotFound(err) {
		return nil, err
	}
	if err == nil && len(meta) < 8 {
		return nil, errors.New("eventlog: corrupt meta record")
	}
	return &Log{db: db}, nil
}

// LastSeq returns the last committed sequence number, zero for a fresh log.
func (l *Log) LastSeq() uint64 {
	meta, err := l.db.Get(KeyMeta())
	if err != nil || len(meta) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(meta[:8])
}

// StageAppend assigns the next sequence number and stages the record plus
// updated metadata into the batch. The batch must be indexed: the sequence
// reads through earlier staged appends, and the caller's commit makes the
// records visible atomically with the state transition that produced them.
func (l *Log) StageAppend(b *pebble.Batch, ev Event) (uint64, error) {
	last, err := lastSeqThrough(b)
	if err != nil {
		return 0, err
	}
	ev.Seq = last + 1
	val, err := EncodeEvent(ev)
	if err != nil {
		return 0, err
	}
	if err := b.Set(KeyEntry(ev.Seq), val, nil); err != nil {
		return 0, err
	}
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], ev.Seq)
	if err := b.Set(KeyMeta(), meta[:], nil); err != nil {
		return 0, err
	}
	return ev.Seq, nil
}

func lastSeqThrough(b *pebble.Batch) (uint64, error) {
	v, closer, err := b.Get(KeyMeta())
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	defer closer.Close()
	if len(v) < 8 {
		return 0, errors.New("eventlog: corrupt meta record")
	}
	return binary.BigEndian.Uint64(v[:8]), nil
}

// Read returns up to limit events with Seq >= fromSeq, in sequence order,
// keeping only those matching the filter. A nil filter matches everything.
func (l *Log) Read(fromSeq uint64, limit int, filter *Filter) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	lower := KeyEntry(fromSeq)
	upper := KeyEntry(^uint64(0))
	it, err := l.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	var out []Event
	for ok := it.First(); ok && len(out) < limit; ok = it.Next() {
		ev, ok2 := DecodeEvent(it.Value())
		if !ok2 {
			return nil, fmt.Errorf("eventlog: corrupt record at key %x", it.Key())
		}
		key := it.Key()
		ev.Seq = binary.BigEndian.Uint64(key[len(key)-8:])
		if filter.Match(ev) {
			out = append(out, ev)
		}
	}
	return out, nil
}
