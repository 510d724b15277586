package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrappedKindIsComparable(t *testing.T) {
	t.Parallel()
	wrapped := fmt.Errorf("hyperliquid ws: %w", VenueTransport)
	if !errors.Is(wrapped, VenueTransport) {
		t.Error("expected wrapped error to match VenueTransport via errors.Is")
	}
	if errors.Is(wrapped, VenueProtocol) {
		t.Error("wrapped VenueTransport should not match VenueProtocol")
	}
}

func TestKindsAreDistinct(t *testing.T) {
	t.Parallel()
	kinds := []Kind{ConfigInvalid, VenueTransport, VenueProtocol, VenueSemantic, RiskReject, StateInvariant, KillSwitchTripped}
	for i, a := range kinds {
		for j, b := range kinds {
			if i == j {
				continue
			}
			if errors.Is(a, b) {
				t.Errorf("kind %v should not match kind %v", a, b)
			}
		}
	}
}
