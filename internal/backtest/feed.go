package backtest

import (
	"hyperquant/internal/clock"
	"hyperquant/internal/quanttypes"
)

// Feeder supplies historical market events in increasing Source-timestamp
// order. Next returns ok=false once the feed is exhausted.
type Feeder interface {
	Next() (quanttypes.Event, bool)
}

// ReplayFeed is the simplest Feeder: a pre-sorted in-memory slice of the
// same tagged quanttypes.Event the live data adapters publish (quotes,
// trades, candles, order book snapshots/deltas). Loading from a file or a
// database is a concern for whatever builds the slice, not this type.
type ReplayFeed struct {
	events []quanttypes.Event
	pos    int
}

// NewReplayFeed constructs a feed over events, sorting defensively by
// Source timestamp since the replay engine's correctness depends on
// monotonic delivery.
func NewReplayFeed(events []quanttypes.Event) *ReplayFeed {
	sorted := make([]quanttypes.Event, len(events))
	copy(sorted, events)
	insertionSortBySource(sorted)
	return &ReplayFeed{events: sorted}
}

func (f *ReplayFeed) Next() (quanttypes.Event, bool) {
	if f.pos >= len(f.events) {
		return quanttypes.Event{}, false
	}
	e := f.events[f.pos]
	f.pos++
	return e, true
}

// insertionSortBySource keeps the feed's event order stable for equal
// timestamps; historical datasets are rarely large enough that an O(n^2)
// worst case matters, and most real feeds already arrive sorted.
func insertionSortBySource(events []quanttypes.Event) {
	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && less(events[j], events[j-1]); j-- {
			events[j], events[j-1] = events[j-1], events[j]
		}
	}
}

func less(a, b quanttypes.Event) bool {
	return a.Source < b.Source
}

// marketTopic returns the bus topic the live data adapter would have used
// for this event's kind, so strategies and the cache observe replayed
// market data exactly as they would a live feed.
func marketTopic(e quanttypes.Event) string {
	switch e.Kind {
	case quanttypes.EventMarketData:
		return "market_data." + e.Symbol.String()
	case quanttypes.EventOrderBookSnapshot:
		return "orderbook." + e.Symbol.String() + ".snapshot"
	case quanttypes.EventOrderBookDelta:
		return "orderbook." + e.Symbol.String() + ".delta"
	case quanttypes.EventTrade:
		return "trade." + e.Symbol.String()
	case quanttypes.EventCandle:
		return "candle." + e.Symbol.String()
	default:
		return string(e.Kind)
	}
}

// visibleAt returns when e should become visible to the engine, given feed
// latency: the original timestamp plus one latency sample.
func visibleAt(e quanttypes.Event, feedLatency LatencyModel) clock.Timestamp {
	return e.Source.Add(feedLatency.Sample())
}
