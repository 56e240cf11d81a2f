package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nicwaller/gelftcp"
)

// simple key/value pairs on a single line
// example:
//
//	key1=value key2=value
//
// See also:
//   - Logstash calls this "kv"
//     https://www.elastic.co/guide/en/logstash/current/plugins-filters-kv.html
//   - Fluentd/Fluentbit calls this "logfmt"
//     https://docs.fluentbit.io/manual/pipeline/parsers/logfmt
func Kv() gelftcp.CodecPlugin {
	return &kvCodec{}
}

type kvCodec struct{}

func (p *kvCodec) Encode(evt gelftcp.Event) ([]byte, error) {
	var sb strings.Builder
	var encodeErr error
	evt.TraverseFields(func(field gelftcp.Field) {
		if encodeErr != nil {
			return
		}
		value, err := field.Get()
		if err != nil {
			encodeErr = err
			return
		}
		if sb.Len() > 0 {
			sb.WriteString(` `)
		}
		sb.WriteString(strings.Join(field.Path, "."))
		sb.WriteString(`=`)
		switch v := value.(type) {
		case string:
			sb.WriteString(quote(v))
		case int:
			sb.WriteString(strconv.Itoa(v))
		case int64:
			sb.WriteString(strconv.FormatInt(v, 10))
		case float64:
			sb.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
		case bool:
			sb.WriteString(strconv.FormatBool(v))
		case time.Time:
			sb.WriteString(v.Format(time.RFC3339Nano))
		case nil:
			sb.WriteString("null")
		default:
			// arrays and empty objects are written as quoted JSON
			dat, err := json.Marshal(v)
			if err != nil {
				encodeErr = fmt.Errorf("kv codec cannot encode %s: %w", field.String(), err)
				return
			}
			sb.WriteString(quote(string(dat)))
		}
	})
	if encodeErr != nil {
		return nil, encodeErr
	}
	return []byte(sb.String()), nil
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

func (p *kvCodec) Decode(dat []byte) (gelftcp.Event, error) {
	evt := gelftcp.NewEvent()
	for _, field := range bytes.Fields(dat) {
		keyB, valueB, didCut := bytes.Cut(field, []byte{'='})
		if !didCut {
			evt.Field(string(field)).SetBool(true)
			continue
		}
		if len(keyB) == 0 {
			slog.Warn("kv decoder skipped a value without a key")
			continue
		}

		key := string(keyB)
		value := string(valueB)
		const quot = `"`
		if len(value) >= 2 && strings.HasSuffix(value, quot) && strings.HasPrefix(value, quot) {
			value = value[1 : len(value)-1]
			value = strings.ReplaceAll(value, `\"`, `"`)
			evt.Field(key).SetString(value)
		} else if intVal, err := strconv.Atoi(value); err == nil {
			evt.Field(key).SetInt(intVal)
		} else if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			evt.Field(key).SetFloat(floatVal)
		} else {
			evt.Field(key).SetString(value)
		}
	}
	return evt, nil
}
