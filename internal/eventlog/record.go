package eventlog

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
)

// Event is one append-only outcome record. Content is deterministic: the
// ledger's only clock is the height, so records carry no wall time.
type Event struct {
	Seq     uint64 `json:"seq"`
	Height  uint64 `json:"height"`
	Kind    string `json:"kind"`
	Account string `json:"account,omitempty"`
	Nonce   uint64 `json:"nonce"`
	Method  string `json:"method,omitempty"`
	Ok      bool   `json:"ok"`
	Note    string `json:"note,omitempty"`
}

// Event kinds emitted by the scheduler and the trust-fund module.
const (
	KindTaskExecutedOk   = "TaskExecutedOk"
	KindTaskExecutedErr  = "TaskExecutedErr"
	KindBeneficiariesSet = "BeneficiariesSet"
	KindLivingSwitchSet  = "LivingSwitchSet"
	KindClockedIn        = "ClockedIn"
	KindWithdrawn        = "Withdrawn"
)

// Record framing: height(8B BE) | json payload | crc32c(height|payload).
// The leading height allows cheap range filtering without JSON decode.

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// EncodeEvent serializes an event into its storage record. Seq is not part
// of the record body; it is the key.
func EncodeEvent(ev Event) ([]byte, error) {
	body := ev
	body.Seq = 0
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 8+len(payload)+4)
	var hb [8]byte
	binary.BigEndian.PutUint64(hb[:], ev.Height)
	out = append(out, hb[:]...)
	out = append(out, payload...)
	crc := crc32.Update(0, castagnoli, hb[:])
	crc = crc32.Update(crc, castagnoli, payload)
	var cb [4]byte
	binary.BigEndian.PutUint32(cb[:], crc)
	return append(out, cb[:]...), nil
}

// DecodeEvent parses a storage record. Returns false on truncation or
// checksum mismatch.
func DecodeEvent(b []byte) (Event, bool) {
	if len(b) < 12 {
		return Event{}, false
	}
	height := b[:8]
	payload := b[8 : len(b)-4]
	expect := binary.BigEndian.Uint32(b[len(b)-4:])
	crc := crc32.Update(0, castagnoli, height)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != expect {
		return Event{}, false
	}
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, false
	}
	ev.Height = binary.BigEndian.Uint64(height)
	return ev, true
}
