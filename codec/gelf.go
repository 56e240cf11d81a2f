package codec

import (
	"encoding/json"
	"math"
	"time"

	"github.com/nicwaller/gelftcp"
	"github.com/tidwall/gjson"
)

// GELF: Graylog Extended Log Format
// Example:
//
//	{
//	 "version": "1.1",
//	 "host": "example.org",
//	 "short_message": "A short message that helps you identify what is going on",
//	 "full_message": "Backtrace here\n\nmore stuff",
//	 "timestamp": 1385053862.3072,
//	 "level": 1,
//	 "_user_id": 9001,
//	 "_some_info": "foo",
//	 "_some_env_var": "bar"
//	}
//
// Decoding moves a numeric [timestamp] to [@timestamp]. A [timestamp] that is
// not a number is kept as it is. Events without a usable timestamp get the
// time they were decoded.
func Gelf() gelftcp.CodecPlugin {
	return &gelfCodec{now: time.Now}
}

type gelfCodec struct {
	now func() time.Time
}

const gelfVersion = "1.1"

func (p *gelfCodec) Decode(dat []byte) (gelftcp.Event, error) {
	evt, err := decodeObject("gelf", dat)
	if err != nil {
		return evt, err
	}

	if ts := gjson.GetBytes(dat, "timestamp"); ts.Type == gjson.Number {
		evt.Field("@timestamp").SetTime(UnixSeconds(ts.Float()))
		evt.Field("timestamp").Delete()
	}
	evt.Field("@timestamp").Default(p.now().UTC())

	return evt, nil
}

func (p *gelfCodec) Encode(event gelftcp.Event) ([]byte, error) {
	out := event.Copy()

	if ts, isTime := out.Fields["@timestamp"].(time.Time); isTime {
		out.Field("timestamp").SetFloat(float64(ts.UnixMicro()) / 1e6)
		out.Field("@timestamp").Delete()
	}
	out.Field("version").Default(gelfVersion)
	if host := event.Field("source_host").GetString(); host != "" {
		out.Field("host").Default(host)
	}
	if msg := event.Field("message").GetString(); msg != "" {
		out.Field("short_message").Default(msg)
	}

	return json.Marshal(out.Fields)
}

// UnixSeconds converts fractional seconds since the epoch to a UTC time,
// keeping microsecond precision.
func UnixSeconds(seconds float64) time.Time {
	whole := math.Floor(seconds)
	micros := math.Round((seconds - whole) * 1e6)
	if micros >= 1e6 {
		whole++
		micros -= 1e6
	}
	return time.Unix(int64(whole), int64(micros)*int64(time.Microsecond)).UTC()
}
