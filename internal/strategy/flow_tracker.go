// Package strategy hosts the hot-reloadable strategy runtime and the
// reference perpetuals market-making strategy it drives.
package strategy

import (
	"math"
	"sync"

	"hyperquant/internal/clock"
	"hyperquant/internal/quanttypes"
)

// ToxicityMetrics contains calculated adverse-selection indicators for one
// symbol's recent fill flow.
type ToxicityMetrics struct {
	DirectionalImbalance float64 // [0, 1]: % of fills in dominant direction
	FillVelocity         float64 // Fills per minute
	ToxicityScore        float64 // [0, 1]: composite toxicity score
	IsToxic              bool    // true if likely getting adversely selected
}

// FlowTracker tracks recent fills in a rolling time window to detect toxic
// flow: fills that consistently go in one direction, suggesting an informed
// counterparty is picking off stale quotes right before price moves. This is
// a strategy-level spread-widening input, separate from the risk engine's
// pre-trade checks.
type FlowTracker struct {
	mu sync.RWMutex

	windowDuration clock.Duration
	fills          []quanttypes.Fill

	toxicityThreshold float64
	cooldownPeriod    clock.Duration
	maxSpreadMultiple float64

	lastToxicAt clock.Timestamp
}

// NewFlowTracker creates a flow tracker with the given configuration.
func NewFlowTracker(windowDuration clock.Duration, toxicityThreshold float64, cooldownPeriod clock.Duration, maxSpreadMultiple float64) *FlowTracker {
	return &FlowTracker{
		windowDuration:    windowDuration,
		fills:             make([]quanttypes.Fill, 0, 100),
		toxicityThreshold: toxicityThreshold,
		cooldownPeriod:    cooldownPeriod,
		maxSpreadMultiple: maxSpreadMultiple,
	}
}

// AddFill adds a new fill to the tracker and evicts stale entries outside
// the window.
func (ft *FlowTracker) AddFill(fill quanttypes.Fill) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	ft.fills = append(ft.fills, fill)
	ft.evictStaleLocked()
}

// evictStaleLocked removes fills older than the window duration. Must be
// called with the lock held.
func (ft *FlowTracker) evictStaleLocked() {
	if len(ft.fills) == 0 {
		return
	}
	cutoff := clock.Now().Add(-ft.windowDuration)
	validIdx := -1
	for i, fill := range ft.fills {
		if fill.Timestamp.After(cutoff) {
			validIdx = i
			break
		}
	}
	if validIdx == -1 {
		ft.fills = ft.fills[:0]
		return
	}
	if validIdx > 0 {
		ft.fills = ft.fills[validIdx:]
	}
}

// CalculateToxicity computes adverse-selection metrics from recent fills.
func (ft *FlowTracker) CalculateToxicity() ToxicityMetrics {
	ft.mu.Lock()
	ft.evictStaleLocked()
	ft.mu.Unlock()

	ft.mu.RLock()
	defer ft.mu.RUnlock()

	if len(ft.fills) == 0 {
		return ToxicityMetrics{}
	}

	var buyCount, sellCount int
	for _, fill := range ft.fills {
		if fill.Side == quanttypes.SideBuy {
			buyCount++
		} else {
			sellCount++
		}
	}
	totalFills := len(ft.fills)

	dominant := math.Max(float64(buyCount), float64(sellCount))
	directionalImbalance := dominant / float64(totalFills)

	if len(ft.fills) < 2 {
		return ToxicityMetrics{
			DirectionalImbalance: directionalImbalance,
			ToxicityScore:        directionalImbalance * 0.6,
			IsToxic:              directionalImbalance > ft.toxicityThreshold,
		}
	}

	windowMinutes := float64(ft.windowDuration.AsTimeDuration().Minutes())
	fillVelocity := float64(totalFills) / windowMinutes

	// Normalize velocity: >3 fills/min is treated as maximally toxic for a
	// single-symbol perpetual book.
	velocityFactor := math.Min(fillVelocity/3.0, 1.0)

	toxicityScore := 0.6*directionalImbalance + 0.4*velocityFactor

	return ToxicityMetrics{
		DirectionalImbalance: directionalImbalance,
		FillVelocity:         fillVelocity,
		ToxicityScore:        toxicityScore,
		IsToxic:              toxicityScore > ft.toxicityThreshold,
	}
}

// SpreadMultiplier returns the spread multiplier to apply based on current
// toxicity: 1.0 under normal conditions, rising toward maxSpreadMultiple
// while toxic, decaying back to 1.0 over the cooldown period.
func (ft *FlowTracker) SpreadMultiplier() float64 {
	metrics := ft.CalculateToxicity()

	if metrics.IsToxic {
		ft.mu.Lock()
		ft.lastToxicAt = clock.Now()
		ft.mu.Unlock()
	}

	ft.mu.RLock()
	inCooldown := clock.Now().Sub(ft.lastToxicAt) < ft.cooldownPeriod
	ft.mu.RUnlock()

	if !metrics.IsToxic && !inCooldown {
		return 1.0
	}

	if metrics.ToxicityScore < ft.toxicityThreshold {
		elapsed := clock.Now().Sub(ft.lastToxicAt)
		progress := math.Min(float64(elapsed)/float64(ft.cooldownPeriod), 1.0)
		return 1.0 + (ft.maxSpreadMultiple-1.0)*(1.0-progress)
	}

	normalizedScore := (metrics.ToxicityScore - ft.toxicityThreshold) / (1.0 - ft.toxicityThreshold)
	return 1.0 + (ft.maxSpreadMultiple-1.0)*math.Min(normalizedScore*2.0, 1.0)
}

// IsFlowToxic reports whether current flow shows adverse selection.
func (ft *FlowTracker) IsFlowToxic() bool {
	return ft.CalculateToxicity().IsToxic
}

// FillCount returns the number of fills in the current window.
func (ft *FlowTracker) FillCount() int {
	ft.mu.RLock()
	defer ft.mu.RUnlock()
	return len(ft.fills)
}
