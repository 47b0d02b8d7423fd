// Package ledger holds the domain types shared by the scheduler core: the
// deferred task, its opaque action, and the record framing used to persist
// both. The ledger's clock is the block height; nothing in this package
// touches wall time.
package ledger

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/rzbill/deferd/pkg/account"
)

// Action is the opaque decoded call a task executes on behalf of its
// submitter. The scheduler never interprets it; Method routes to a handler
// registered by the host and Params is that handler's encoded input.
type Action struct {
	Method string
	Params []byte
}

// Task is a deferred delegated call, immutable once admitted.
type Task struct {
	Submitter account.ID
	Nonce     uint64
	DueHeight uint64
	Action    Action
}

// Task record framing: headerLen(4B BE) | header | params | crc32c(header|params)
// header: submitter(32) | nonce(8 BE) | due_height(8 BE) | method

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// EncodeTask serializes a task into its storage record.
func EncodeTask(t Task) []byte {
	header := make([]byte, 0, account.Size+16+len(t.Action.Method))
	header = append(header, t.Submitter[:]...)
	var u [8]byte
	binary.BigEndian.PutUint64(u[:], t.Nonce)
	header = append(header, u[:]...)
	binary.BigEndian.PutUint64(u[:], t.DueHeight)
	header = append(header, u[:]...)
	header = append(header, t.Action.Method...)

	out := make([]byte, 0, 4+len(header)+len(t.Action.Params)+4)
	var hb [4]byte
	binary.BigEndian.PutUint32(hb[:], uint32(len(header)))
	out = append(out, hb[:]...)
	out = append(out, header...)
	out = append(out, t.Action.Params...)
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, t.Action.Params)
	var cb [4]byte
	binary.BigEndian.PutUint32(cb[:], crc)
	out = append(out, cb[:]...)
	return out
}

// DecodeTask parses a storage record back into a task. Returns false on
// truncation or checksum mismatch.
func DecodeTask(b []byte) (Task, bool) {
	if len(b) < 8 {
		return Task{}, false
	}
	hlen := binary.BigEndian.Uint32(b[:4])
	// Compare in uint64: a huge header length must not wrap past len(b).
	if hlen < account.Size+16 || uint64(hlen) > uint64(len(b)-8) {
		return Task{}, false
	}
	headerEnd := 4 + int(hlen)
	header := b[4:headerEnd]
	params := b[headerEnd : len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, params)
	if crc != expect {
		return Task{}, false
	}

	var t Task
	copy(t.Submitter[:], header[:account.Size])
	t.Nonce = binary.BigEndian.Uint64(header[account.Size : account.Size+8])
	t.DueHeight = binary.BigEndian.Uint64(header[account.Size+8 : account.Size+16])
	t.Action.Method = string(header[account.Size+16:])
	t.Action.Params = append([]byte(nil), params...)
	return t, true
}
