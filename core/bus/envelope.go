package bus

import (
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// EnvelopeVersion marks a payload as a relay envelope. JSON from external
// publishers without this marker is relayed verbatim, even when it happens
// to carry "origin" and "data" fields.
const EnvelopeVersion = 1

const envelopeMarker = "fanout"

// Envelope wraps a relayed text with the instance that published it, so an
// instance can skip its own publications when they come back from the bus.
type Envelope struct {
	Origin string
	Data   string
}

// EncodeEnvelope renders {"fanout":1,"origin":...,"data":...}.
//
// Data must be valid UTF-8: JSON encoding replaces invalid bytes with
// U+FFFD. Websocket text frames are checked on read, so client messages
// always are.
func EncodeEnvelope(origin, data string) ([]byte, error) {
	out, err := sjson.SetBytes(nil, envelopeMarker, EnvelopeVersion)
	if err != nil {
		return nil, err
	}
	if out, err = sjson.SetBytes(out, "origin", origin); err != nil {
		return nil, err
	}
	return sjson.SetBytes(out, "data", data)
}

// DecodeEnvelope parses a bus payload. Anything that is not a marked
// envelope is taken as raw text from an external publisher with no origin.
func DecodeEnvelope(payload []byte) Envelope {
	if gjson.ValidBytes(payload) {
		doc := gjson.ParseBytes(payload)
		marker := doc.Get(envelopeMarker)
		if doc.IsObject() && marker.Type == gjson.Number && marker.Int() == EnvelopeVersion {
			origin := doc.Get("origin")
			data := doc.Get("data")
			if origin.Type == gjson.String && data.Type == gjson.String {
				return Envelope{Origin: origin.String(), Data: data.String()}
			}
		}
	}
	return Envelope{Data: string(payload)}
}
