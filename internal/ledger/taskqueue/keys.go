package taskqueue

import "encoding/binary"

// Keyspace helpers.
//
// Layout (byte-wise, lexicographically sortable):
//   - ledger/task/{height_be8}/{seq_be8}  -> encoded task
//   - ledger/taskmeta/{height_be8}        -> next_seq(8) | count(8)
//
// Heights and sequences are big-endian so iteration order over a bucket is
// arrival order, and bucket drains are bounded prefix scans. Height 0 is the
// reserved carry-over bucket.

var (
	sep        = byte('/')
	entryBase  = []byte("ledger/task/")
	metaPrefix = []byte("ledger/taskmeta/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// EntryKey builds the key for one task slot in a height bucket.
func EntryKey(height, seq uint64) []byte {
	k := make([]byte, 0, len(entryBase)+17)
	k = append(k, entryBase...)
	k = appendBE8(k, height)
	k = append(k, sep)
	k = appendBE8(k, seq)
	return k
}

// BucketPrefix returns the common prefix of all entries in a height bucket.
func BucketPrefix(height uint64) []byte {
	k := make([]byte, 0, len(entryBase)+9)
	k = append(k, entryBase...)
	k = appendBE8(k, height)
	k = append(k, sep)
	return k
}

// MetaKey builds the bucket metadata key for a height.
func MetaKey(height uint64) []byte {
	k := make([]byte, 0, len(metaPrefix)+8)
	k = append(k, metaPrefix...)
	k = appendBE8(k, height)
	return k
}

// prefixUpperBound returns the exclusive upper bound for scanning all keys
// with the given prefix: the prefix with its last byte incremented.
func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xFF {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
