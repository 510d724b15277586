package backtest

import (
	"math/rand/v2"
	"testing"

	"hyperquant/internal/config"
)

func TestConstantLatencyAlwaysSameValue(t *testing.T) {
	l := NewLatencyModel(config.LatencyModelConfig{Kind: "constant", Value: 42}, nil)
	for i := 0; i < 5; i++ {
		if got := l.Sample(); got != 42 {
			t.Fatalf("sample %d: got %d, want 42", i, got)
		}
	}
}

func TestNormalLatencyClampedToRange(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	l := NewLatencyModel(config.LatencyModelConfig{Kind: "normal", Mean: 50, StdDev: 1000, Min: 10, Max: 100}, rng)
	for i := 0; i < 200; i++ {
		v := l.Sample()
		if v < 10 || v > 100 {
			t.Fatalf("sample %d out of range: %d", i, v)
		}
	}
}

func TestInterpolatedLatencyStaysWithinSampleBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	samples := []float64{5, 20, 50}
	l := NewLatencyModel(config.LatencyModelConfig{Kind: "interpolated", Samples: samples}, rng)
	for i := 0; i < 200; i++ {
		v := float64(l.Sample())
		if v < 5 || v > 50 {
			t.Fatalf("sample %d out of bounds: %v", i, v)
		}
	}
}

func TestInterpolatedLatencySingleSample(t *testing.T) {
	l := NewLatencyModel(config.LatencyModelConfig{Kind: "interpolated", Samples: []float64{7}}, rand.New(rand.NewPCG(1, 1)))
	if got := l.Sample(); got != 7 {
		t.Fatalf("got %d, want 7", got)
	}
}

func TestInterpolatedLatencyEmptySamples(t *testing.T) {
	l := NewLatencyModel(config.LatencyModelConfig{Kind: "interpolated"}, rand.New(rand.NewPCG(1, 1)))
	if got := l.Sample(); got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}
