// Package wireproto implements the little-endian, typed-payload wire
// format the core uses over the group-communication channel: a common
// header of (cargo_type, protocol_version, payload_length) followed by
// one or more typed payload items tagged (type_code, length).
package wireproto

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// CargoType identifies the kind of message carried in a GCS broadcast,
// matching the type space enumerated in the view/message plumbing
// design: transaction payload, certifier GC, sync-before-execution,
// transaction-with-guarantee, prepare-ack, member-actions, view-change.
type CargoType uint16

const (
	CargoUnknown CargoType = iota
	CargoTransaction
	CargoCertifierGC
	CargoSyncBeforeExecution
	CargoTransactionWithGuarantee
	CargoPrepareAck
	CargoMemberActions
	CargoViewChangeMarker
)

func (c CargoType) String() string {
	switch c {
	case CargoTransaction:
		return "TRANSACTION"
	case CargoCertifierGC:
		return "CERTIFIER_GC"
	case CargoSyncBeforeExecution:
		return "SYNC_BEFORE_EXECUTION"
	case CargoTransactionWithGuarantee:
		return "TRANSACTION_WITH_GUARANTEE"
	case CargoPrepareAck:
		return "PREPARE_ACK"
	case CargoMemberActions:
		return "MEMBER_ACTIONS"
	case CargoViewChangeMarker:
		return "VIEW_CHANGE_MARKER"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint16(c))
	}
}

// PayloadItemType tags the items carried inside a message body.
type PayloadItemType uint16

const (
	PITUnknown PayloadItemType = iota
	// PITTransactionData is the opaque blob produced by serializing the
	// originator's transaction-context log event + GTID log event +
	// binlog cache. The core never parses it further; it is handed to
	// the external applier pipeline verbatim.
	PITTransactionData
	// PITGTIDExecuted is the MySQL-text-encoded form of a GTID set (see
	// gtid.Set.EncodeWire), used for certifier-GC broadcasts, prepare-acks,
	// and a transaction payload's already-decided GTID (only present when
	// PITGenerateID says the sender did not ask the recipient to assign
	// its own).
	PITGTIDExecuted
	PITThreadID
	PITMemberID
	PITConsistencyLevel
	PITWriteSet
	PITMemberActionsBlob
	// PITSnapshotVersion is the MySQL-text-encoded GTID set a transaction
	// saw at its start, carried so every member certifies the same
	// transaction against the same base snapshot rather than an
	// artificially empty one.
	PITSnapshotVersion
	// PITGenerateID is a single byte (0 or 1): whether the recipient must
	// assign its own next GNO for this transaction (certify(), not
	// replay) or adopt the GTID carried in PITGTIDExecuted.
	PITGenerateID
)

// Header is the common envelope prefixing every message.
type Header struct {
	CargoType       CargoType
	ProtocolVersion uint16
	PayloadLength   uint32
}

const headerSize = 2 + 2 + 4

// PayloadItem is one typed, length-prefixed item inside a message body.
type PayloadItem struct {
	Type PayloadItemType
	Data []byte
}

// Message is a fully decoded wire message: a header plus its payload
// items in the order they were encoded.
type Message struct {
	Header Header
	Items  []PayloadItem
}

// Encode serializes m into the wire format. Unknown item types are
// still encoded — unknown-type handling (forward compatibility within a
// protocol version) is a decode-side concern.
func Encode(m Message) []byte {
	var body bytes.Buffer
	for _, item := range m.Items {
		var itemHdr [6]byte
		binary.LittleEndian.PutUint16(itemHdr[0:2], uint16(item.Type))
		binary.LittleEndian.PutUint32(itemHdr[2:6], uint32(len(item.Data)))
		body.Write(itemHdr[:])
		body.Write(item.Data)
	}

	out := make([]byte, headerSize, headerSize+body.Len())
	binary.LittleEndian.PutUint16(out[0:2], uint16(m.Header.CargoType))
	binary.LittleEndian.PutUint16(out[2:4], m.Header.ProtocolVersion)
	binary.LittleEndian.PutUint32(out[4:8], uint32(body.Len()))
	out = append(out, body.Bytes()...)
	return out
}

// Decode parses raw wire bytes into a Message. Item entries whose type
// is not one this build of the core recognizes are kept, with their
// original type code and raw bytes, rather than rejected, so that a protocol
// upgrade on the bus does not break an older member mid-rollout; the
// caller is responsible for logging a warning on unknown types, per the
// view/message plumbing contract.
func Decode(raw []byte) (Message, error) {
	if len(raw) < headerSize {
		return Message{}, fmt.Errorf("wireproto: short header: got %d bytes, want >= %d", len(raw), headerSize)
	}
	hdr := Header{
		CargoType:       CargoType(binary.LittleEndian.Uint16(raw[0:2])),
		ProtocolVersion: binary.LittleEndian.Uint16(raw[2:4]),
		PayloadLength:   binary.LittleEndian.Uint32(raw[4:8]),
	}
	body := raw[headerSize:]
	if uint32(len(body)) != hdr.PayloadLength {
		return Message{}, fmt.Errorf("wireproto: payload length mismatch: header says %d, got %d", hdr.PayloadLength, len(body))
	}

	var items []PayloadItem
	for len(body) > 0 {
		if len(body) < 6 {
			return Message{}, fmt.Errorf("wireproto: truncated item header (%d bytes left)", len(body))
		}
		itemType := PayloadItemType(binary.LittleEndian.Uint16(body[0:2]))
		itemLen := binary.LittleEndian.Uint32(body[2:6])
		body = body[6:]
		if uint32(len(body)) < itemLen {
			return Message{}, fmt.Errorf("wireproto: truncated item body: want %d, have %d", itemLen, len(body))
		}
		data := make([]byte, itemLen)
		copy(data, body[:itemLen])
		body = body[itemLen:]
		items = append(items, PayloadItem{Type: itemType, Data: data})
	}

	return Message{Header: hdr, Items: items}, nil
}

// Find returns the first item of the given type, if any.
func (m Message) Find(t PayloadItemType) (PayloadItem, bool) {
	for _, item := range m.Items {
		if item.Type == t {
			return item, true
		}
	}
	return PayloadItem{}, false
}
