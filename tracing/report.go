package tracing

import (
	"context"
	"sort"

	"github.com/sarchlab/kcore/datarecording"
)

// ReadEvents reads the recorded kernel events in sequence order.
func ReadEvents(
	ctx context.Context,
	reader datarecording.DataReader,
) ([]KernelEvent, error) {
	reader.MapTable(EventTable, KernelEvent{})

	results, _, err := reader.Query(ctx, EventTable,
		datarecording.QueryParams{OrderBy: "Seq"})
	if err != nil {
		return nil, err
	}

	events := make([]KernelEvent, 0, len(results))
	for _, r := range results {
		events = append(events, *r.(*KernelEvent))
	}

	return events, nil
}

// EventSummary counts the events of one kind reported by one component.
type EventSummary struct {
	Where string
	Kind  string
	Count uint64
}

// Summarize counts events by component and kind, sorted by component and
// then by kind.
func Summarize(events []KernelEvent) []EventSummary {
	type key struct{ where, kind string }

	counts := make(map[key]uint64)
	for _, e := range events {
		counts[key{e.Where, e.Kind}]++
	}

	summary := make([]EventSummary, 0, len(counts))
	for k, n := range counts {
		summary = append(summary, EventSummary{
			Where: k.where,
			Kind:  k.kind,
			Count: n,
		})
	}

	sort.Slice(summary, func(i, j int) bool {
		if summary[i].Where != summary[j].Where {
			return summary[i].Where < summary[j].Where
		}

		return summary[i].Kind < summary[j].Kind
	})

	return summary
}
