package memberactions

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EncodeBlob serializes actions into the bytes carried by a
// wireproto.PITMemberActionsBlob payload item: a count, then for each
// action a length-prefixed name, a length-prefixed event, and an
// enabled byte. Uses the same little-endian, length-prefixed style as
// wireproto's own header/item framing.
func EncodeBlob(actions []Action) []byte {
	var buf bytes.Buffer
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(actions)))
	buf.Write(countBuf[:])

	for _, a := range actions {
		writeField(&buf, []byte(a.Name))
		writeField(&buf, []byte(a.Event))
		if a.Enabled {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	}
	return buf.Bytes()
}

// DecodeBlob parses a PITMemberActionsBlob payload back into actions,
// in wire order.
func DecodeBlob(raw []byte) ([]Action, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("memberactions: short blob header: %d bytes", len(raw))
	}
	count := binary.LittleEndian.Uint32(raw[0:4])
	raw = raw[4:]

	out := make([]Action, 0, count)
	for i := uint32(0); i < count; i++ {
		name, rest, err := readField(raw)
		if err != nil {
			return nil, fmt.Errorf("memberactions: action %d name: %w", i, err)
		}
		raw = rest
		event, rest, err := readField(raw)
		if err != nil {
			return nil, fmt.Errorf("memberactions: action %d event: %w", i, err)
		}
		raw = rest
		if len(raw) < 1 {
			return nil, fmt.Errorf("memberactions: action %d: missing enabled byte", i)
		}
		enabled := raw[0] != 0
		raw = raw[1:]

		out = append(out, Action{Name: string(name), Event: Event(event), Enabled: enabled})
	}
	return out, nil
}

func writeField(buf *bytes.Buffer, data []byte) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf.Write(lenBuf[:])
	buf.Write(data)
}

func readField(raw []byte) (data []byte, rest []byte, err error) {
	if len(raw) < 4 {
		return nil, nil, fmt.Errorf("short field length header: %d bytes", len(raw))
	}
	n := binary.LittleEndian.Uint32(raw[0:4])
	raw = raw[4:]
	if uint32(len(raw)) < n {
		return nil, nil, fmt.Errorf("short field body: want %d, have %d", n, len(raw))
	}
	return raw[:n], raw[n:], nil
}
