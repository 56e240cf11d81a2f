package codec

import (
	"encoding/json"
	"errors"

	"github.com/nicwaller/gelftcp"
	"github.com/tidwall/gjson"
)

func Json() gelftcp.CodecPlugin {
	return &jsonCodec{}
}

type jsonCodec struct{}

func (p *jsonCodec) Encode(event gelftcp.Event) ([]byte, error) {
	// map keys are sorted by encoding/json, so output is deterministic
	return json.Marshal(event.Fields)
}

func (p *jsonCodec) Decode(dat []byte) (gelftcp.Event, error) {
	return decodeObject("json", dat)
}

// decodeObject accepts only a JSON object at the top level.
// Unmarshal alone would turn a bare null into an event with no field map.
func decodeObject(codecName string, dat []byte) (gelftcp.Event, error) {
	evt := gelftcp.NewEvent()
	if !gjson.ParseBytes(dat).IsObject() {
		return evt, &DecodeError{Codec: codecName, Err: errors.New("payload is not a JSON object")}
	}
	if err := json.Unmarshal(dat, &evt.Fields); err != nil {
		return gelftcp.NewEvent(), &DecodeError{Codec: codecName, Err: err}
	}
	return evt, nil
}
