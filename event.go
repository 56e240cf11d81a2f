package gelftcp

import (
	"sort"
)

type Event struct {
	Fields map[string]any
}

func NewEvent() Event {
	var newEvt Event
	newEvt.Fields = make(map[string]any)
	return newEvt
}

func (evt *Event) Field(path ...string) *Field {
	// warning: don't try to be clever and split the path components
	//on "." to get smaller path components. It must be possible to
	//specify fields that contain a "." in the Name!
	//
	// no need to verify that the field currently exists
	// because we can also use this for setting values
	return &Field{
		Path:     path,
		original: evt,
	}
}

func (evt *Event) Set(field string, value any) {
	evt.Field(field).Set(value)
}

func (evt *Event) Get(field string) any {
	return evt.Field(field).MustGet()
}

func (evt *Event) Has(field string) bool {
	_, err := evt.Field(field).Get()
	return err == nil
}

// Keys is a snapshot of the top-level field names, sorted.
// Renaming fields while ranging over it is safe.
func (evt *Event) Keys() []string {
	keys := make([]string, 0, len(evt.Fields))
	for k := range evt.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// depth first
type fieldCb func(field Field)

func (evt *Event) TraverseFields(cb fieldCb) {
	evt.traverseFields(true, cb, []string{}, evt.Fields)
}

func (evt *Event) traverseFields(inOrder bool, cb fieldCb, prefix []string, from map[string]any) {
	// getting an ordered set of keys is essential for deterministic encoding, especially for the kv codec
	keys := make([]string, 0, len(from))
	for k := range from {
		keys = append(keys, k)
	}
	if inOrder {
		sort.Strings(keys)
	}
	for _, k := range keys {
		v := from[k]
		path := make([]string, len(prefix), len(prefix)+1)
		copy(path, prefix)
		path = append(path, k)
		if z, isMap := v.(map[string]any); isMap && len(z) > 0 {
			evt.traverseFields(inOrder, cb, path, z)
		} else {
			cb(Field{
				Path:     path,
				original: evt,
			})
		}
	}
}

func (evt *Event) Copy() Event {
	newEvt := NewEvent()
	for k, v := range evt.Fields {
		newEvt.Fields[k] = v
	}
	return newEvt
}

// Merge copies every field of template into evt.
// Existing fields are only replaced when overwrite is set.
func (evt *Event) Merge(template *Event, overwrite bool) {
	template.traverseFields(false, func(field Field) {
		v := field.MustGet()
		field.original = evt
		if overwrite {
			field.Set(v)
		} else {
			field.Default(v)
		}
	}, []string{}, template.Fields)
}
