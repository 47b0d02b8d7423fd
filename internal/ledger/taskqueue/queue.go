// Package taskqueue implements the persistent height-keyed task buckets.
//
// Each bucket holds the tasks due at one height in arrival order. Height 0
// is reserved as the carry-over bucket: tasks that were due but exceeded the
// per-height execution cap wait there and are ordered before newly due tasks
// at the next height. A task lives in exactly one bucket at a time and is
// deleted the moment it is drained for execution.
package taskqueue

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/rzbill/deferd/internal/ledger"
	pebblestore "github.com/rzbill/deferd/internal/storage/pebble"
)

// CarryOverHeight is the reserved bucket for due-but-unexecuted tasks.
const CarryOverHeight uint64 = 0

// Queue owns the task buckets. The scheduler is the sole writer; all
// mutating methods stage into an indexed batch committed by the caller.
type Queue struct {
	db *pebblestore.DB
}

// NewQueue binds a task queue to the store.
func NewQueue(db *pebblestore.DB) *Queue {
	return &Queue{db: db}
}

type bucketMeta struct {
	nextSeq uint64
	count   uint64
}

func (m bucketMeta) encode() []byte {
	var v [16]byte
	binary.BigEndian.PutUint64(v[:8], m.nextSeq)
	binary.BigEndian.PutUint64(v[8:], m.count)
	return v[:]
}

func decodeMeta(v []byte) (bucketMeta, error) {
	if len(v) < 16 {
		return bucketMeta{}, fmt.Errorf("taskqueue: corrupt bucket meta (%d bytes)", len(v))
	}
	return bucketMeta{
		nextSeq: binary.BigEndian.Uint64(v[:8]),
		count:   binary.BigEndian.Uint64(v[8:16]),
	}, nil
}

func readMeta(b *pebble.Batch, height uint64) (bucketMeta, error) {
	v, closer, err := b.Get(MetaKey(height))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return bucketMeta{}, nil
		}
		return bucketMeta{}, err
	}
	defer closer.Close()
	return decodeMeta(v)
}

// Enqueue appends the task to the bucket for its due height, preserving
// arrival order. The queue is only mutated after nonce admission succeeds
// upstream; this method does not validate.
func (q *Queue) Enqueue(b *pebble.Batch, t ledger.Task) error {
	meta, err := readMeta(b, t.DueHeight)
	if err != nil {
		return err
	}
	if err := b.Set(EntryKey(t.DueHeight, meta.nextSeq), ledger.EncodeTask(t), nil); err != nil {
		return err
	}
	meta.nextSeq++
	meta.count++
	return b.Set(MetaKey(t.DueHeight), meta.encode(), nil)
}

// DrainDue removes and returns, in arrival order, every task in the bucket
// for the given height. The bucket and its metadata are gone once the batch
// commits; a bucket is never executed twice.
func (q *Queue) DrainDue(b *pebble.Batch, height uint64) ([]ledger.Task, error) {
	tasks, keys, err := q.scanBucket(b, height)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		if err := b.Delete(k, nil); err != nil {
			return nil, err
		}
	}
	if err := b.Delete(MetaKey(height), nil); err != nil {
		return nil, err
	}
	return tasks, nil
}

// DrainCarryOver removes and returns the carry-over bucket contents.
func (q *Queue) DrainCarryOver(b *pebble.Batch) ([]ledger.Task, error) {
	return q.DrainDue(b, CarryOverHeight)
}

// SetCarryOver re-files the remaining tasks as the new carry-over bucket.
// The caller must have drained the carry-over bucket in the same batch.
// Order is preserved: remaining[0] is the oldest and runs first next height.
func (q *Queue) SetCarryOver(b *pebble.Batch, remaining []ledger.Task) error {
	if len(remaining) == 0 {
		return nil
	}
	for i, t := range remaining {
		if err := b.Set(EntryKey(CarryOverHeight, uint64(i)), ledger.EncodeTask(t), nil); err != nil {
			return err
		}
	}
	meta := bucketMeta{nextSeq: uint64(len(remaining)), count: uint64(len(remaining))}
	return b.Set(MetaKey(CarryOverHeight), meta.encode(), nil)
}

// Pending returns the bucket contents for a height without mutating it.
// Intended for UX/status reads; the committed state is observed.
func (q *Queue) Pending(height uint64) ([]ledger.Task, error) {
	prefix := BucketPrefix(height)
	it, err := q.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	var tasks []ledger.Task
	for ok := it.First(); ok; ok = it.Next() {
		t, ok2 := ledger.DecodeTask(it.Value())
		if !ok2 {
			return nil, fmt.Errorf("taskqueue: corrupt task record at height %d", height)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Count returns the number of tasks waiting in the bucket for a height.
func (q *Queue) Count(height uint64) (uint64, error) {
	v, err := q.db.Get(MetaKey(height))
	if err != nil {
		if pebblestore.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	meta, err := decodeMeta(v)
	if err != nil {
		return 0, err
	}
	return meta.count, nil
}

// scanBucket reads the bucket through the batch so entries staged earlier in
// the same batch are visible, returning tasks and their keys in order.
func (q *Queue) scanBucket(b *pebble.Batch, height uint64) ([]ledger.Task, [][]byte, error) {
	prefix := BucketPrefix(height)
	it, err := b.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = it.Close() }()

	var tasks []ledger.Task
	var keys [][]byte
	for ok := it.First(); ok; ok = it.Next() {
		t, ok2 := ledger.DecodeTask(it.Value())
		if !ok2 {
			return nil, nil, fmt.Errorf("taskqueue: corrupt task record at height %d", height)
		}
		tasks = append(tasks, t)
		keys = append(keys, append([]byte(nil), it.Key()...))
	}
	return tasks, keys, nil
}
