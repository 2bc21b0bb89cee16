package market

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tradecoord/pkg/types"
)

var testPair = types.CurrencyPair{Base: "BNB", Quote: "BTC"}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestTopOfBookEmpty(t *testing.T) {
	t.Parallel()
	b := NewBook()

	_, _, ok := b.TopOfBook(testPair)
	if ok {
		t.Error("TopOfBook should return ok=false for a pair with no quote")
	}
}

func TestSetQuote(t *testing.T) {
	t.Parallel()
	b := NewBook()

	b.SetQuote(testPair, d("0.0015"), d("0.0016"))

	bid, ask, ok := b.TopOfBook(testPair)
	if !ok {
		t.Fatal("TopOfBook returned ok=false after SetQuote")
	}
	if !bid.Equal(d("0.0015")) {
		t.Errorf("bid = %s, want 0.0015", bid)
	}
	if !ask.Equal(d("0.0016")) {
		t.Errorf("ask = %s, want 0.0016", ask)
	}
}

func TestOnTradeApproximatesQuote(t *testing.T) {
	t.Parallel()
	b := NewBook()

	now := time.Now()
	b.OnTrade(testPair, "T1", d("0.002"), d("5"), types.Buy, now)

	bid, ask, ok := b.TopOfBook(testPair)
	if !ok {
		t.Fatal("TopOfBook returned ok=false after OnTrade")
	}
	if !bid.Equal(d("0.002")) || !ask.Equal(d("0.002")) {
		t.Errorf("bid/ask = %s/%s, want both 0.002 (approximated from trade print)", bid, ask)
	}
	if !b.LastUpdated(testPair).Equal(now) {
		t.Errorf("LastUpdated = %v, want %v", b.LastUpdated(testPair), now)
	}
}

func TestQuotesAreIndependentPerPair(t *testing.T) {
	t.Parallel()
	b := NewBook()
	other := types.CurrencyPair{Base: "ETH", Quote: "BTC"}

	b.SetQuote(testPair, d("1"), d("1.1"))
	b.SetQuote(other, d("20"), d("21"))

	bid, _, ok := b.TopOfBook(testPair)
	if !ok || !bid.Equal(d("1")) {
		t.Errorf("testPair bid = %v (ok=%v), want 1", bid, ok)
	}
	bid2, _, ok2 := b.TopOfBook(other)
	if !ok2 || !bid2.Equal(d("20")) {
		t.Errorf("other bid = %v (ok=%v), want 20", bid2, ok2)
	}
}

func TestSetQuoteOverwritesPrior(t *testing.T) {
	t.Parallel()
	b := NewBook()

	b.SetQuote(testPair, d("1"), d("2"))
	b.SetQuote(testPair, d("3"), d("4"))

	bid, ask, ok := b.TopOfBook(testPair)
	if !ok || !bid.Equal(d("3")) || !ask.Equal(d("4")) {
		t.Errorf("bid/ask = %v/%v (ok=%v), want 3/4", bid, ask, ok)
	}
}
