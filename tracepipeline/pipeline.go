/*
Logic:  The per-event transforms applied in the handler before
        enqueue: content-storage projection (strip sensitive text by
        policy), cost conversion (dollars -> integer microdollars,
        estimated server-side when a span omits cost), and the
        trace-level rollup from its spans.
*/

package tracepipeline

import (
	"math"

	"github.com/lumenwatch/ingestd/pricing"
)

// ApplyContentPolicy nulls out input/output/metadata fields on the
// trace and every span per the project's content-storage policy.
// Applied before enqueue so stripped bytes never touch disk.
func ApplyContentPolicy(t Trace, policy ContentPolicy) Trace {
	switch policy {
	case PolicyNone:
		t.Input, t.Output, t.Metadata = nil, nil, nil
		for i := range t.Spans {
			t.Spans[i].Input, t.Spans[i].Output, t.Spans[i].Metadata = nil, nil, nil
		}
	case PolicyMetadataOnly:
		t.Input, t.Output = nil, nil
		for i := range t.Spans {
			t.Spans[i].Input, t.Spans[i].Output = nil, nil
		}
	case PolicyFull:
		// no stripping
	}
	return t
}

// ApplyCostAndRollup recomputes each span's total_tokens (always
// input+output, regardless of what the client sent), converts each
// span's dollar cost to integer microdollars — estimating it from
// priceTable when the span omitted cost — and rolls the trace's token
// and cost totals up from its spans. priceTable may be nil, in which
// case an omitted cost stays zero.
func ApplyCostAndRollup(t Trace, priceTable *pricing.Table) Trace {
	var inputSum, outputSum int
	var costSum int64

	for i := range t.Spans {
		s := &t.Spans[i]
		s.TotalTokens = s.InputTokens + s.OutputTokens

		var dollars float64
		switch {
		case s.Cost != nil:
			dollars = *s.Cost
		case priceTable != nil:
			dollars, _ = priceTable.EstimateDollars(s.Provider, s.Model, s.InputTokens, s.OutputTokens)
		}
		s.CostMicros = int64(math.Round(dollars * 1_000_000))

		inputSum += s.InputTokens
		outputSum += s.OutputTokens
		costSum += s.CostMicros
	}

	t.InputTokens = inputSum
	t.OutputTokens = outputSum
	t.TotalTokens = inputSum + outputSum
	t.CostMicros = costSum
	return t
}
