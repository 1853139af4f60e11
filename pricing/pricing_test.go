package pricing_test

import (
	"testing"

	"github.com/lumenwatch/ingestd/pricing"
)

func TestEstimateDollarsKnownModel(t *testing.T) {
	tbl := pricing.NewTable()
	cost, ok := tbl.EstimateDollars("openai", "gpt-4o", 1_000_000, 0)
	if !ok {
		t.Fatal("expected known model")
	}
	if cost != 2.50 {
		t.Fatalf("expected cost 2.50, got %v", cost)
	}
}

func TestEstimateDollarsUnknownModel(t *testing.T) {
	tbl := pricing.NewTable()
	cost, ok := tbl.EstimateDollars("acme", "made-up-model", 1000, 1000)
	if ok {
		t.Fatal("expected unknown model")
	}
	if cost != 0 {
		t.Fatalf("expected zero cost for unknown model, got %v", cost)
	}
}

func TestSetOverridesPrice(t *testing.T) {
	tbl := pricing.NewTable()
	tbl.Set("local", "llama", pricing.ModelPrice{Free: true})
	cost, ok := tbl.EstimateDollars("local", "llama", 5000, 5000)
	if !ok {
		t.Fatal("expected price entry to exist")
	}
	if cost != 0 {
		t.Fatalf("expected free model to cost 0, got %v", cost)
	}
}
