package store

import (
	"testing"

	"hyperquant/internal/decimal"
	"hyperquant/internal/quanttypes"
)

func TestSaveAndLoadPosition(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	sym := quanttypes.NewSymbol("ETH", "USDC")
	pos := quanttypes.Position{
		Symbol:        sym,
		Size:          decimal.MustFromString("10.5"),
		EntryPrice:    decimal.MustFromString("2000"),
		RealizedPnL:   decimal.MustFromString("1.23"),
		UnrealizedPnL: decimal.MustFromString("4.5"),
	}

	if err := s.SavePosition(pos); err != nil {
		t.Fatalf("SavePosition: %v", err)
	}

	loaded, ok, err := s.LoadPosition(sym)
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if !ok {
		t.Fatal("LoadPosition: expected ok=true")
	}
	if !loaded.Size.Equal(pos.Size) {
		t.Errorf("Size = %s, want %s", loaded.Size.String(), pos.Size.String())
	}
	if !loaded.RealizedPnL.Equal(pos.RealizedPnL) {
		t.Errorf("RealizedPnL = %s, want %s", loaded.RealizedPnL.String(), pos.RealizedPnL.String())
	}
}

func TestLoadPositionMissing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	_, ok, err := s.LoadPosition(quanttypes.NewSymbol("DOGE", "USDC"))
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if ok {
		t.Error("expected ok=false for missing position")
	}
}

func TestSavePositionOverwrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	sym := quanttypes.NewSymbol("ETH", "USDC")
	_ = s.SavePosition(quanttypes.Position{Symbol: sym, Size: decimal.NewFromInt(10)})
	_ = s.SavePosition(quanttypes.Position{Symbol: sym, Size: decimal.NewFromInt(20)})

	loaded, ok, err := s.LoadPosition(sym)
	if err != nil {
		t.Fatalf("LoadPosition: %v", err)
	}
	if !ok || !loaded.Size.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Size = %+v, want 20 (latest save)", loaded)
	}
}

func TestLoadAllRestoresEverySavedPosition(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	eth := quanttypes.NewSymbol("ETH", "USDC")
	btc := quanttypes.NewSymbol("BTC", "USDC")
	_ = s.SavePosition(quanttypes.Position{Symbol: eth, Size: decimal.NewFromInt(1)})
	_ = s.SavePosition(quanttypes.Position{Symbol: btc, Size: decimal.NewFromInt(2)})

	all, errs := s.LoadAll()
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(all))
	}
	if !all[eth].Size.Equal(decimal.NewFromInt(1)) {
		t.Errorf("eth size = %s, want 1", all[eth].Size.String())
	}
}
