package account

import (
	"strings"
	"testing"
)

func TestParseRoundtrip(t *testing.T) {
	s := strings.Repeat("ab", Size)
	id, err := Parse(s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.String() != s {
		t.Fatalf("got %q want %q", id.String(), s)
	}
	id2, err := Parse("0x" + s)
	if err != nil {
		t.Fatalf("parse 0x: %v", err)
	}
	if id != id2 {
		t.Fatalf("prefix form should decode identically")
	}
}

func TestParseRejectsBadLength(t *testing.T) {
	if _, err := Parse("abcd"); err == nil {
		t.Fatalf("expected length error")
	}
}

func TestCompareMatchesHexOrder(t *testing.T) {
	lo, _ := Parse(strings.Repeat("00", Size))
	hi, _ := Parse(strings.Repeat("ff", Size))
	if lo.Compare(hi) != -1 || hi.Compare(lo) != 1 || lo.Compare(lo) != 0 {
		t.Fatalf("compare ordering broken")
	}
	if !lo.IsZero() || hi.IsZero() {
		t.Fatalf("IsZero broken")
	}
}
