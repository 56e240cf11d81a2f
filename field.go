package gelftcp

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var ErrNoSuchField = errors.New("no such field")

// represents exactly one (possibly nested) field
// like a terrible version of XPath or JSONPath
type Field struct {
	Path     []string
	original *Event
}

func (fld *Field) MustGet() any {
	v, _ := fld.Get()
	return v
}

func (fld *Field) Get() (any, error) {
	if fld.original == nil {
		return nil, fmt.Errorf("cannot Field.Get() because there is no linked event")
	}
	if len(fld.Path) == 0 {
		return nil, fmt.Errorf("cannot traverse empty Path")
	}

	level := fld.original.Fields
	for depth, key := range fld.Path {
		inner, keyExists := level[key]
		if !keyExists {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchField, fld.String())
		}
		if depth == len(fld.Path)-1 {
			return inner, nil
		}
		innerMap, isMap := inner.(map[string]any)
		if !isMap {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchField, fld.String())
		}
		level = innerMap
	}
	panic("impossible")
}

func (fld *Field) Default(value any) {
	err := fld.set(value, false)
	if err != nil {
		slog.Warn(err.Error())
	}
}

func (fld *Field) Set(value any) {
	err := fld.set(value, true)
	if err != nil {
		slog.Warn(err.Error())
	}
}

func (fld *Field) SetCarefully(value any) error {
	return fld.set(value, true)
}

func (fld *Field) set(value any, overwrite bool) error {
	if fld.original == nil {
		return fmt.Errorf("cannot Field.Set() because there is no linked event")
	}
	if len(fld.Path) == 0 {
		return fmt.Errorf("cannot traverse empty Path")
	}

	level := fld.original.Fields
	for i := 0; i < len(fld.Path)-1; i++ {
		key := fld.Path[i]
		inner, keyExists := level[key]
		if !keyExists {
			level[key] = make(map[string]any)
		} else if _, isMap := inner.(map[string]any); !isMap {
			slog.Warn(strings.Join(fld.Path[:i+1], ".") + " is getting implicitly overwritten; make sure to delete it first")
			level[key] = make(map[string]any)
		}
		level = level[key].(map[string]any)
	}

	leafKey := fld.Path[len(fld.Path)-1]
	if _, exists := level[leafKey]; exists && !overwrite {
		// being quiet is okay if we explicitly do not want overwrites
		return nil
	}

	switch value.(type) {
	case nil, string, int, int64, float64, bool, time.Time, []any, map[string]any:
		level[leafKey] = value
	default:
		return fmt.Errorf("failed Set(); rejected type %v %v", reflect.TypeOf(value), value)
	}

	return nil
}

func (fld *Field) SetString(value string) {
	fld.Set(value)
}

func (fld *Field) SetInt(value int) {
	fld.Set(value)
}

func (fld *Field) SetFloat(value float64) {
	fld.Set(value)
}

func (fld *Field) SetBool(value bool) {
	fld.Set(value)
}

func (fld *Field) SetTime(value time.Time) {
	fld.Set(value)
}

// GetString renders scalar values as text. Missing fields and
// structured values come back empty.
func (fld *Field) GetString() string {
	rawValue, err := fld.Get()
	if err != nil {
		return ""
	}

	switch v := rawValue.(type) {
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	default:
		return ""
	}
}

func (fld *Field) GetInt() int {
	rawValue, err := fld.Get()
	if err != nil {
		return 0
	}

	switch v := rawValue.(type) {
	case string:
		vv, err := strconv.Atoi(v)
		if err != nil {
			return 0
		}
		return vv
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case bool:
		if v {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func (fld *Field) GetFloat() float64 {
	rawValue, err := fld.Get()
	if err != nil {
		return 0
	}

	switch v := rawValue.(type) {
	case string:
		vv, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0.0
		}
		return vv
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	case bool:
		if v {
			return 1.0
		}
		return 0.0
	default:
		return 0.0
	}
}

func (fld *Field) Delete() {
	_ = fld.DeleteCarefully()
}

func (fld *Field) DeleteCarefully() error {
	if fld.original == nil {
		return fmt.Errorf("cannot Field.Delete() because there is no linked event")
	}
	if len(fld.Path) == 0 {
		return fmt.Errorf("cannot traverse empty Path")
	}

	level := fld.original.Fields
	for i := 0; i < len(fld.Path)-1; i++ {
		inner, isMap := level[fld.Path[i]].(map[string]any)
		if !isMap {
			// nothing to delete down there
			return nil
		}
		level = inner
	}

	delete(level, fld.Path[len(fld.Path)-1])
	return nil
}

func (fld *Field) String() string {
	var sb strings.Builder
	for _, v := range fld.Path {
		sb.WriteString(`[` + v + `]`)
	}
	return sb.String()
}
