/*
Logic:  Per-model USD pricing table, consulted only when an ingested
        span omits an explicit cost. Adapted from a provider-pricing
        config used for pre-flight cost estimation; here it estimates
        cost after the fact for spans that never computed one
        client-side.
*/

package pricing

import (
	"strings"
	"sync"
)

// ModelPrice holds per-model token pricing in USD per 1M tokens.
type ModelPrice struct {
	InputPer1M  float64
	OutputPer1M float64
	Free        bool
}

// Table is a concurrency-safe provider/model -> price lookup.
type Table struct {
	mu     sync.RWMutex
	prices map[string]ModelPrice
}

// NewTable returns a pricing table pre-loaded with a small illustrative
// set of current-generation model rates. Operators may extend it with
// Set for models not listed here.
func NewTable() *Table {
	return &Table{
		prices: map[string]ModelPrice{
			"openai/gpt-4o":                        {InputPer1M: 2.50, OutputPer1M: 10.00},
			"openai/gpt-4o-mini":                    {InputPer1M: 0.15, OutputPer1M: 0.60},
			"openai/gpt-4-turbo":                    {InputPer1M: 10.00, OutputPer1M: 30.00},
			"openai/gpt-3.5-turbo":                  {InputPer1M: 0.50, OutputPer1M: 1.50},
			"openai/o1":                             {InputPer1M: 15.00, OutputPer1M: 60.00},
			"anthropic/claude-3-5-sonnet-20241022":  {InputPer1M: 3.00, OutputPer1M: 15.00},
			"anthropic/claude-3-5-haiku-20241022":   {InputPer1M: 0.80, OutputPer1M: 4.00},
			"anthropic/claude-3-opus-20240229":      {InputPer1M: 15.00, OutputPer1M: 75.00},
			"google/gemini-1.5-pro":                 {InputPer1M: 1.25, OutputPer1M: 5.00},
			"google/gemini-1.5-flash":               {InputPer1M: 0.075, OutputPer1M: 0.30},
			"google/gemini-2.0-flash":               {InputPer1M: 0.10, OutputPer1M: 0.40},
		},
	}
}

// Set registers or overrides the price for provider/model.
func (t *Table) Set(provider, model string, price ModelPrice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prices[key(provider, model)] = price
}

// EstimateDollars returns the USD cost of inputTokens+outputTokens
// against the given provider/model, and whether a price was found.
// A model with no known price estimates zero cost (never panics,
// never blocks ingest on a missing price entry).
func (t *Table) EstimateDollars(provider, model string, inputTokens, outputTokens int) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	p, ok := t.prices[key(provider, model)]
	if !ok {
		p, ok = t.prices[strings.ToLower(model)]
	}
	if !ok || p.Free {
		return 0, ok
	}
	cost := float64(inputTokens)/1_000_000*p.InputPer1M + float64(outputTokens)/1_000_000*p.OutputPer1M
	return cost, true
}

func key(provider, model string) string {
	if provider == "" {
		return strings.ToLower(model)
	}
	return strings.ToLower(provider) + "/" + strings.ToLower(model)
}
