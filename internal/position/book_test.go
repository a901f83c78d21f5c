package position

import (
	"errors"
	"testing"

	"github.com/Bumblebee0427/Crypto/internal/exchange"
)

func TestBuildBook_SplitsSides(t *testing.T) {
	records := []exchange.PositionRecord{
		{Symbol: "BTCUSDT", PositionSide: "LONG", Contracts: 3},
		{Symbol: "BTCUSDT", PositionSide: "SHORT", Contracts: 2},
		{Symbol: "ETHUSDT", PositionSide: "long", Contracts: 5},
	}

	book, err := BuildBook(records)
	if err != nil {
		t.Fatalf("BuildBook returned error: %v", err)
	}

	btc := book["BTCUSDT"]
	if btc.Long != 3 || btc.Short != 2 {
		t.Errorf("unexpected BTCUSDT exposure: %+v", btc)
	}
	eth := book["ETHUSDT"]
	if eth.Long != 5 || eth.Short != 0 {
		t.Errorf("unexpected ETHUSDT exposure: %+v", eth)
	}
}

func TestBuildBook_DropsZeroRecords(t *testing.T) {
	records := []exchange.PositionRecord{
		{Symbol: "BTCUSDT", PositionSide: "LONG", Contracts: 0},
		{Symbol: "ETHUSDT", PositionSide: "SHORT", Contracts: 1},
	}

	book, err := BuildBook(records)
	if err != nil {
		t.Fatalf("BuildBook returned error: %v", err)
	}

	if _, ok := book["BTCUSDT"]; ok {
		t.Errorf("zero record should not create a book entry")
	}
	if book["ETHUSDT"].Short != 1 {
		t.Errorf("unexpected ETHUSDT exposure: %+v", book["ETHUSDT"])
	}
}

func TestBuildBook_MalformedSideTag(t *testing.T) {
	records := []exchange.PositionRecord{
		{Symbol: "BTCUSDT", PositionSide: "BOTH?", Contracts: 1},
	}

	_, err := BuildBook(records)
	if err == nil {
		t.Fatalf("expected error for malformed side tag")
	}

	var malformed *ErrMalformedRecord
	if !errors.As(err, &malformed) {
		t.Fatalf("expected ErrMalformedRecord, got %T", err)
	}
	if malformed.Symbol != "BTCUSDT" {
		t.Errorf("unexpected symbol in error: %s", malformed.Symbol)
	}
}

func TestBookSymbols_Sorted(t *testing.T) {
	book := Book{
		"ETHUSDT": {Long: 1},
		"BTCUSDT": {Short: 2},
		"ADAUSDT": {Long: 3},
	}

	symbols := book.Symbols()
	want := []string{"ADAUSDT", "BTCUSDT", "ETHUSDT"}
	if len(symbols) != len(want) {
		t.Fatalf("unexpected symbol count: %d", len(symbols))
	}
	for i := range want {
		if symbols[i] != want[i] {
			t.Errorf("symbols[%d] = %s, want %s", i, symbols[i], want[i])
		}
	}
}
