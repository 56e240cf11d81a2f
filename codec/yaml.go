package codec

import (
	"github.com/nicwaller/gelftcp"
	"gopkg.in/yaml.v3"
)

func Yaml() gelftcp.CodecPlugin {
	return &yamlCodec{}
}

type yamlCodec struct{}

func (p *yamlCodec) Encode(event gelftcp.Event) ([]byte, error) {
	return yaml.Marshal(event.Fields)
}

func (p *yamlCodec) Decode(dat []byte) (gelftcp.Event, error) {
	evt := gelftcp.NewEvent()
	if err := yaml.Unmarshal(dat, &evt.Fields); err != nil {
		return gelftcp.NewEvent(), &DecodeError{Codec: "yaml", Err: err}
	}
	if evt.Fields == nil {
		// an empty document leaves the map nil
		evt.Fields = make(map[string]any)
	}
	return evt, nil
}
