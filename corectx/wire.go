package corectx

import (
	"fmt"

	"github.com/bolinfest/grouprepl/gtid"
	"github.com/bolinfest/grouprepl/wireproto"
)

// encodeCertifierGC renders this member's current group_gtid_executed as
// the periodic CargoCertifierGC broadcast §4.3's stable-set round
// consumes.
func encodeCertifierGC(executed *gtid.Set) wireproto.Message {
	return wireproto.Message{
		Header: wireproto.Header{CargoType: wireproto.CargoCertifierGC},
		Items: []wireproto.PayloadItem{
			{Type: wireproto.PITGTIDExecuted, Data: []byte(executed.EncodeWire())},
		},
	}
}

// decodeCertifierGC reverses encodeCertifierGC.
func decodeCertifierGC(msg wireproto.Message) (*gtid.Set, error) {
	item, ok := msg.Find(wireproto.PITGTIDExecuted)
	if !ok {
		return nil, fmt.Errorf("corectx: certifier-gc message missing gtid set")
	}
	set, err := gtid.ParseWire(string(item.Data))
	if err != nil {
		return nil, fmt.Errorf("corectx: decoding certifier-gc gtid set: %w", err)
	}
	return set, nil
}
