package gelftcp

import (
	"context"
)

// RunFilters passes an event through each filter in order and returns every
// event that made it to the end, including any injected along the way.
// Injected events only visit the filters after the one that injected them.
func RunFilters(ctx context.Context, event *Event, filters []NamedEntity[FilterPlugin]) []*Event {
	return runFiltersFrom(ctx, event, filters, 0)
}

func runFiltersFrom(ctx context.Context, event *Event, filters []NamedEntity[FilterPlugin], start int) []*Event {
	log := ContextLogger(ctx)
	survivors := make([]*Event, 0, 1)

	for i := start; i < len(filters); i++ {
		filter := filters[i]

		dropped := false
		dropFunc := func() {
			if dropped {
				log.Warn("drop() should only be called once", "filter", filter.Name)
			} else {
				dropped = true
			}
		}

		// collect injected events without limiting how many a filter may emit
		inject := make(chan *Event)
		collected := make(chan []*Event, 1)
		go func() {
			var injected []*Event
			for evt := range inject {
				injected = append(injected, evt)
			}
			collected <- injected
		}()
		err := filter.Value(event, inject, dropFunc)
		close(inject)
		for _, evt := range <-collected {
			if evt == nil {
				log.Warn("filter injected nil event", "filter", filter.Name)
				continue
			}
			survivors = append(survivors, runFiltersFrom(ctx, evt, filters, i+1)...)
		}

		if err != nil {
			// a failing filter does not stop the event
			log.Warn("filter error",
				"error", err,
				"filter", filter.Name,
			)
		} else if dropped {
			return survivors
		}
	}

	return append(survivors, event)
}
