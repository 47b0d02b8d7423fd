package eventlog

import "encoding/binary"

// Keyspace helpers.
//
// Layout (byte-wise, lexicographically sortable):
//   - ledger/evt/{seq_be8} -> encoded event record
//   - ledger/evtmeta       -> last_seq(8)

var (
	entryPrefix = []byte("ledger/evt/")
	metaKey     = []byte("ledger/evtmeta")
)

// KeyEntry builds the record key for a sequence number.
func KeyEntry(seq uint64) []byte {
	k := make([]byte, 0, len(entryPrefix)+8)
	k = append(k, entryPrefix...)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], seq)
	return append(k, b[:]...)
}

// KeyMeta returns the log metadata key.
func KeyMeta() []byte { return metaKey }

// EntryPrefix returns the common prefix of all record keys.
func EntryPrefix() []byte { return entryPrefix }
