package clock

import "testing"

func TestISO8601RoundTrip(t *testing.T) {
	t.Parallel()
	cases := []string{
		"2024-01-01T00:00:00.000Z",
		"2024-06-15T12:30:45.123Z",
		"1970-01-01T00:00:00.000Z",
	}
	for _, c := range cases {
		ts, err := ParseISO8601(c)
		if err != nil {
			t.Fatalf("parse %q: %v", c, err)
		}
		if got := ts.ISO8601(); got != c {
			t.Errorf("round trip %q: got %q", c, got)
		}
	}
}

func TestFromSecondsAndMillis(t *testing.T) {
	t.Parallel()
	ts := FromSeconds(1700000000)
	if ts.Millis() != 1700000000000 {
		t.Errorf("Millis() = %d, want 1700000000000", ts.Millis())
	}
	if ts.Seconds() != 1700000000 {
		t.Errorf("Seconds() = %d, want 1700000000", ts.Seconds())
	}
}

func TestAddSubOrdering(t *testing.T) {
	t.Parallel()
	a := FromMillis(1000)
	b := a.Add(Duration(500))
	if b.Millis() != 1500 {
		t.Errorf("Add = %d, want 1500", b.Millis())
	}
	if b.Sub(a) != Duration(500) {
		t.Errorf("Sub = %d, want 500", b.Sub(a))
	}
	if !a.Before(b) || !b.After(a) {
		t.Error("expected a before b and b after a")
	}
}

func TestKlineIntervalMillis(t *testing.T) {
	t.Parallel()
	cases := map[KlineInterval]int64{
		Interval1m:  60_000,
		Interval5m:  300_000,
		Interval15m: 900_000,
		Interval30m: 1_800_000,
		Interval1h:  3_600_000,
		Interval4h:  14_400_000,
		Interval1d:  86_400_000,
		Interval1w:  604_800_000,
	}
	for interval, want := range cases {
		if got := int64(interval.Millis()); got != want {
			t.Errorf("%s.Millis() = %d, want %d", interval, got, want)
		}
		if !interval.Valid() {
			t.Errorf("%s should be Valid", interval)
		}
	}
	if KlineInterval("bogus").Valid() {
		t.Error("bogus interval should not be valid")
	}
}

func TestAlignToKlineIdempotentAndBounded(t *testing.T) {
	t.Parallel()
	t1 := FromMillis(1_700_000_123_456 % 9_000_000_000) // arbitrary ms value
	for _, interval := range []KlineInterval{Interval1m, Interval5m, Interval1h, Interval1d} {
		aligned := AlignToKline(t1, interval)
		again := AlignToKline(aligned, interval)
		if aligned != again {
			t.Errorf("%s: AlignToKline not idempotent: %d vs %d", interval, aligned, again)
		}
		delta := t1.Sub(aligned)
		length := interval.Millis()
		if delta < 0 || delta >= length {
			t.Errorf("%s: delta %d out of bounds [0,%d)", interval, delta, length)
		}
	}
}

func TestAlignToKlineExactBoundary(t *testing.T) {
	t.Parallel()
	// 2024-01-01T00:05:00.000Z aligned to 5m should be itself.
	ts, err := ParseISO8601("2024-01-01T00:05:00.000Z")
	if err != nil {
		t.Fatal(err)
	}
	aligned := AlignToKline(ts, Interval5m)
	if aligned != ts {
		t.Errorf("exact boundary should be unchanged: got %d want %d", aligned, ts)
	}
}

func TestAlignToKlineNegativeMillis(t *testing.T) {
	t.Parallel()
	ts := FromMillis(-30_000) // before epoch
	aligned := AlignToKline(ts, Interval1m)
	if aligned.Millis() != -60_000 {
		t.Errorf("AlignToKline(-30000, 1m) = %d, want -60000", aligned.Millis())
	}
	delta := ts.Sub(aligned)
	if delta < 0 || delta >= Interval1m.Millis() {
		t.Errorf("delta %d out of bounds", delta)
	}
}
