package ledger

import (
	"strings"
	"testing"

	"github.com/rzbill/deferd/pkg/account"
)

func testAccount(t *testing.T, fill string) account.ID {
	t.Helper()
	id, err := account.Parse(strings.Repeat(fill, account.Size))
	if err != nil {
		t.Fatalf("parse account: %v", err)
	}
	return id
}

func TestTaskRecordRoundtrip(t *testing.T) {
	want := Task{
		Submitter: testAccount(t, "a1"),
		Nonce:     7,
		DueHeight: 42,
		Action:    Action{Method: "transfer", Params: []byte(`{"amount":5}`)},
	}
	rec := EncodeTask(want)
	got, ok := DecodeTask(rec)
	if !ok {
		t.Fatalf("decode failed")
	}
	if got.Submitter != want.Submitter || got.Nonce != want.Nonce || got.DueHeight != want.DueHeight {
		t.Fatalf("identity fields mismatch: %+v", got)
	}
	if got.Action.Method != want.Action.Method || string(got.Action.Params) != string(want.Action.Params) {
		t.Fatalf("action mismatch: %+v", got.Action)
	}
}

func TestTaskRecordCRCFail(t *testing.T) {
	rec := EncodeTask(Task{Submitter: testAccount(t, "b2"), Action: Action{Method: "m"}})
	rec[len(rec)-1] ^= 0xFF // corrupt one byte
	if _, ok := DecodeTask(rec); ok {
		t.Fatalf("expected crc failure")
	}
}

func TestTaskRecordCorruptHeaderLength(t *testing.T) {
	rec := EncodeTask(Task{Submitter: testAccount(t, "d4"), Action: Action{Method: "m"}})

	// header length far beyond the record must fail, not slice out of range
	rec[0], rec[1], rec[2], rec[3] = 0xFF, 0xFF, 0xFF, 0xF8
	if _, ok := DecodeTask(rec); ok {
		t.Fatalf("expected decode failure for oversized header length")
	}

	// shorter than the fixed header fields must fail too
	rec[0], rec[1], rec[2], rec[3] = 0, 0, 0, 1
	if _, ok := DecodeTask(rec); ok {
		t.Fatalf("expected decode failure for undersized header length")
	}

	if _, ok := DecodeTask([]byte{1, 2, 3}); ok {
		t.Fatalf("expected decode failure for truncated record")
	}
}

func TestTaskRecordEmptyParams(t *testing.T) {
	rec := EncodeTask(Task{Submitter: testAccount(t, "c3"), Nonce: 1, DueHeight: 2, Action: Action{Method: "clock_in"}})
	got, ok := DecodeTask(rec)
	if !ok {
		t.Fatalf("decode failed")
	}
	if len(got.Action.Params) != 0 {
		t.Fatalf("want empty params, got %q", got.Action.Params)
	}
}
