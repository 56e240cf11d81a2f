package filter

import (
	"github.com/nicwaller/gelftcp"
)

// Replace the value of a field with a new value, or add the field if it doesn’t already exist.
func Replace(field string, content string) gelftcp.FilterPlugin {
	return func(event *gelftcp.Event, inject chan<- *gelftcp.Event, drop func()) error {
		event.Field(field).SetString(content)
		return nil
	}
}

// AddFields sets each of fields that the event does not have yet.
func AddFields(fields map[string]string) gelftcp.FilterPlugin {
	template := gelftcp.NewEvent()
	for k, v := range fields {
		template.Field(k).SetString(v)
	}
	return func(event *gelftcp.Event, inject chan<- *gelftcp.Event, drop func()) error {
		event.Merge(&template, false)
		return nil
	}
}

func Remove(field string) gelftcp.FilterPlugin {
	return func(event *gelftcp.Event, inject chan<- *gelftcp.Event, drop func()) error {
		event.Field(field).Delete()
		return nil
	}
}

// FIXME: rename doesn't support deep fields
func Rename(oldField string, newField string) gelftcp.FilterPlugin {
	return func(event *gelftcp.Event, inject chan<- *gelftcp.Event, drop func()) error {
		return rename(event, oldField, newField)
	}
}

// rename is a no-op when the old field is missing
func rename(event *gelftcp.Event, oldField string, newField string) error {
	oldF := event.Field(oldField)
	value, err := oldF.Get()
	if err != nil {
		return nil
	}
	if err := event.Field(newField).SetCarefully(value); err != nil {
		return err
	}
	oldF.Delete()
	return nil
}
