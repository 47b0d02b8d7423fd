package taskqueue

import (
	"context"
	"strings"
	"testing"

	"github.com/rzbill/deferd/internal/ledger"
	pebblestore "github.com/rzbill/deferd/internal/storage/pebble"
	"github.com/rzbill/deferd/pkg/account"
)

func openTestQueue(t *testing.T) (*Queue, *pebblestore.DB) {
	t.Helper()
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewQueue(db), db
}

func task(t *testing.T, fill string, nonce, due uint64) ledger.Task {
	t.Helper()
	id, err := account.Parse(strings.Repeat(fill, account.Size))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return ledger.Task{Submitter: id, Nonce: nonce, DueHeight: due, Action: ledger.Action{Method: "m"}}
}

func enqueue(t *testing.T, q *Queue, db *pebblestore.DB, tasks ...ledger.Task) {
	t.Helper()
	for _, tk := range tasks {
		b := db.NewIndexedBatch()
		if err := q.Enqueue(b, tk); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if err := db.CommitBatch(context.Background(), b); err != nil {
			t.Fatalf("commit: %v", err)
		}
		_ = b.Close()
	}
}

func TestEnqueuePreservesArrivalOrder(t *testing.T) {
	q, db := openTestQueue(t)
	t1 := task(t, "a1", 0, 5)
	t2 := task(t, "a1", 1, 5)
	t3 := task(t, "b2", 0, 5)
	enqueue(t, q, db, t1, t2, t3)

	got, err := q.Pending(5)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("want 3 tasks, got %d", len(got))
	}
	for i, want := range []ledger.Task{t1, t2, t3} {
		if got[i].Submitter != want.Submitter || got[i].Nonce != want.Nonce {
			t.Fatalf("position %d: got (%s,%d)", i, got[i].Submitter, got[i].Nonce)
		}
	}

	n, err := q.Count(5)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}
}

func TestDrainDueEmptiesBucket(t *testing.T) {
	q, db := openTestQueue(t)
	enqueue(t, q, db, task(t, "a1", 0, 7), task(t, "a1", 1, 7))

	b := db.NewIndexedBatch()
	defer b.Close()
	got, err := q.DrainDue(b, 7)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if err := db.CommitBatch(context.Background(), b); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("drained %d tasks, want 2", len(got))
	}

	left, err := q.Pending(7)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(left) != 0 {
		t.Fatalf("bucket not empty after drain: %d left", len(left))
	}
	n, _ := q.Count(7)
	if n != 0 {
		t.Fatalf("count = %d after drain, want 0", n)
	}
}

func TestDrainAbsentBucketIsEmpty(t *testing.T) {
	q, db := openTestQueue(t)
	b := db.NewIndexedBatch()
	defer b.Close()
	got, err := q.DrainDue(b, 99)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("absent bucket should drain empty, got %d", len(got))
	}
}

func TestCarryOverRoundtrip(t *testing.T) {
	q, db := openTestQueue(t)
	t1 := task(t, "a1", 0, 5)
	t2 := task(t, "b2", 0, 5)

	b := db.NewIndexedBatch()
	if _, err := q.DrainCarryOver(b); err != nil {
		t.Fatalf("drain carry-over: %v", err)
	}
	if err := q.SetCarryOver(b, []ledger.Task{t1, t2}); err != nil {
		t.Fatalf("set carry-over: %v", err)
	}
	if err := db.CommitBatch(context.Background(), b); err != nil {
		t.Fatalf("commit: %v", err)
	}
	_ = b.Close()

	b2 := db.NewIndexedBatch()
	defer b2.Close()
	got, err := q.DrainCarryOver(b2)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(got) != 2 || got[0].Submitter != t1.Submitter || got[1].Submitter != t2.Submitter {
		t.Fatalf("carry-over order not preserved: %+v", got)
	}
}

func TestCarryOverReplacedWithinOneBatch(t *testing.T) {
	q, db := openTestQueue(t)
	old1 := task(t, "a1", 0, 5)
	old2 := task(t, "a1", 1, 5)
	keep := task(t, "b2", 0, 6)

	// file two tasks as carry-over
	b := db.NewIndexedBatch()
	if err := q.SetCarryOver(b, []ledger.Task{old1, old2}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := db.CommitBatch(context.Background(), b); err != nil {
		t.Fatalf("commit: %v", err)
	}
	_ = b.Close()

	// drain and re-file a shorter remainder in one batch
	b2 := db.NewIndexedBatch()
	drained, err := q.DrainCarryOver(b2)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(drained) != 2 {
		t.Fatalf("drained %d, want 2", len(drained))
	}
	if err := q.SetCarryOver(b2, []ledger.Task{keep}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := db.CommitBatch(context.Background(), b2); err != nil {
		t.Fatalf("commit: %v", err)
	}
	_ = b2.Close()

	got, err := q.Pending(CarryOverHeight)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(got) != 1 || got[0].Submitter != keep.Submitter {
		t.Fatalf("stale carry-over entries survived: %+v", got)
	}
}
