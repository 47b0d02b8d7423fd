package eventlog

import (
	"context"
	"testing"

	pebblestore "github.com/rzbill/deferd/internal/storage/pebble"
)

func newTestLog(t *testing.T) (*Log, *pebblestore.DB) {
	t.Helper()
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	l, err := OpenLog(db)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	return l, db
}

func appendOne(t *testing.T, l *Log, db *pebblestore.DB, ev Event) uint64 {
	t.Helper()
	b := db.NewIndexedBatch()
	defer b.Close()
	seq, err := l.StageAppend(b, ev)
	if err != nil {
		t.Fatalf("stage append: %v", err)
	}
	if err := db.CommitBatch(context.Background(), b); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return seq
}

func TestAppendAssignsSequential(t *testing.T) {
	l, db := newTestLog(t)
	s1 := appendOne(t, l, db, Event{Height: 5, Kind: KindTaskExecutedOk, Method: "m"})
	s2 := appendOne(t, l, db, Event{Height: 5, Kind: KindTaskExecutedErr, Method: "m"})
	if !(s1 < s2) {
		t.Fatalf("expected increasing seqs: %d %d", s1, s2)
	}
	if l.LastSeq() != s2 {
		t.Fatalf("lastSeq = %d, want %d", l.LastSeq(), s2)
	}
}

func TestLastSeqSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	l, err := OpenLog(db)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	b := db.NewIndexedBatch()
	s1, err := l.StageAppend(b, Event{Height: 1, Kind: KindClockedIn})
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if err := db.CommitBatch(context.Background(), b); err != nil {
		t.Fatalf("commit: %v", err)
	}
	_ = b.Close()
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db2, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeAlways})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = db2.Close() })
	l2, err := OpenLog(db2)
	if err != nil {
		t.Fatalf("reopen log: %v", err)
	}
	if l2.LastSeq() != s1 {
		t.Fatalf("lastSeq = %d after reopen, want %d", l2.LastSeq(), s1)
	}
}

func TestAbandonedBatchLeavesNoGap(t *testing.T) {
	l, db := newTestLog(t)

	// stage but never commit
	b := db.NewIndexedBatch()
	if _, err := l.StageAppend(b, Event{Height: 1, Kind: KindClockedIn}); err != nil {
		t.Fatalf("stage: %v", err)
	}
	_ = b.Close()

	// the next committed append reuses the sequence number
	seq := appendOne(t, l, db, Event{Height: 1, Kind: KindClockedIn})
	if seq != 1 {
		t.Fatalf("seq = %d after abandoned batch, want 1", seq)
	}
	if l.LastSeq() != 1 {
		t.Fatalf("lastSeq = %d, want 1", l.LastSeq())
	}
}

func TestStageAppendReadsThroughBatch(t *testing.T) {
	l, db := newTestLog(t)

	b := db.NewIndexedBatch()
	defer b.Close()
	s1, err := l.StageAppend(b, Event{Height: 2, Kind: KindTaskExecutedOk})
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	s2, err := l.StageAppend(b, Event{Height: 2, Kind: KindTaskExecutedErr})
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if s1 != 1 || s2 != 2 {
		t.Fatalf("seqs = (%d, %d), want (1, 2)", s1, s2)
	}
	if err := db.CommitBatch(context.Background(), b); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if l.LastSeq() != 2 {
		t.Fatalf("lastSeq = %d, want 2", l.LastSeq())
	}
}

func TestReadWithFilter(t *testing.T) {
	l, db := newTestLog(t)
	appendOne(t, l, db, Event{Height: 5, Kind: KindTaskExecutedOk, Method: "transfer", Ok: true})
	appendOne(t, l, db, Event{Height: 5, Kind: KindTaskExecutedErr, Method: "transfer"})
	appendOne(t, l, db, Event{Height: 6, Kind: KindTaskExecutedOk, Method: "clock_in", Ok: true})

	all, err := l.Read(0, 10, nil)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("read %d events, want 3", len(all))
	}

	f, err := NewFilter(`kind == "TaskExecutedErr"`)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	errs, err := l.Read(0, 10, f)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(errs) != 1 || errs[0].Method != "transfer" {
		t.Fatalf("filtered read wrong: %+v", errs)
	}

	f2, err := NewFilter(`height >= 6 && ok`)
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	late, err := l.Read(0, 10, f2)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(late) != 1 || late[0].Method != "clock_in" {
		t.Fatalf("filtered read wrong: %+v", late)
	}
}

func TestFilterRejectsBadExpression(t *testing.T) {
	if _, err := NewFilter("kind =="); err == nil {
		t.Fatalf("expected compile error")
	}
}

func TestEventRecordRoundtrip(t *testing.T) {
	want := Event{Seq: 3, Height: 9, Kind: KindWithdrawn, Account: "ab", Nonce: 2, Method: "m", Ok: true, Note: "n"}
	rec, err := EncodeEvent(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, ok := DecodeEvent(rec)
	if !ok {
		t.Fatalf("decode failed")
	}
	// Seq travels in the key, not the record body.
	want.Seq = 0
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}

	rec[len(rec)-1] ^= 0xFF
	if _, ok := DecodeEvent(rec); ok {
		t.Fatalf("expected crc failure")
	}
}
