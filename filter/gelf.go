package filter

import (
	"reflect"
	"strings"

	"github.com/nicwaller/gelftcp"
)

// Remap folds the GELF message fields into [message].
//
//   - [full_message] becomes [message], and an identical [short_message] is dropped
//   - otherwise [short_message] becomes [message]
func Remap() gelftcp.FilterPlugin {
	return func(event *gelftcp.Event, inject chan<- *gelftcp.Event, drop func()) error {
		if truthy(event.Fields["full_message"]) {
			if err := rename(event, "full_message", "message"); err != nil {
				return err
			}
			if short, exists := event.Fields["short_message"]; exists &&
				reflect.DeepEqual(short, event.Fields["message"]) {
				event.Field("short_message").Delete()
			}
		} else if truthy(event.Fields["short_message"]) {
			return rename(event, "short_message", "message")
		}
		return nil
	}
}

// null and false count as absent, the same as GELF libraries that omit them
func truthy(value any) bool {
	return value != nil && value != false
}

// StripLeadingUnderscore renames GELF additional fields, so [_foo] becomes [foo].
// Only the names present when the filter starts are renamed: [__foo] ends up
// as [_foo] and stays that way. A renamed field replaces any field already
// using the shorter name.
func StripLeadingUnderscore() gelftcp.FilterPlugin {
	return func(event *gelftcp.Event, inject chan<- *gelftcp.Event, drop func()) error {
		renamed := make(map[string]any)
		for _, key := range event.Keys() {
			if strings.HasPrefix(key, "_") {
				renamed[key[1:]] = event.Fields[key]
			}
		}
		// remove every source before writing any target,
		// otherwise [__foo] -> [_foo] could clobber the original [_foo]
		for newKey := range renamed {
			event.Field("_" + newKey).Delete()
		}
		for newKey, value := range renamed {
			event.Fields[newKey] = value
		}
		return nil
	}
}
