package tracepipeline_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lumenwatch/ingestd/store"
	"github.com/lumenwatch/ingestd/tracepipeline"
)

func newTraceTestStore(t *testing.T) *store.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testTraceWorkerConfig() tracepipeline.WorkerConfig {
	return tracepipeline.WorkerConfig{FlushBatchSize: 200, FlushInterval: 2 * time.Second}
}

func TestWorkerFlushPersistsTraceAndHourlyRollup(t *testing.T) {
	st := newTraceTestStore(t)
	queue := tracepipeline.NewQueue(10)
	worker := tracepipeline.NewWorker(queue, st, testTraceWorkerConfig(), zerolog.Nop())

	startedAt := int64(1_700_000_000_000)
	trace := tracepipeline.Trace{
		ID: "t1", Name: "chat", Status: "completed", StartedAt: startedAt,
		Spans: []tracepipeline.Span{
			{ID: "s1", SpanType: "generation", Model: "gpt-4o", InputTokens: 100, OutputTokens: 50,
				CostMicros: 2500, Status: "ok", StartedAt: startedAt},
		},
	}
	// cost rollup already applied (worker trusts the handler did it).
	trace.TotalTokens = 150
	trace.InputTokens = 100
	trace.OutputTokens = 50
	trace.CostMicros = 2500

	queue.Enqueue(tracepipeline.ProcessedTrace{ProjectID: "proj1", ReceivedAtMs: startedAt, Trace: trace})
	queue.Close()
	worker.Run()

	var totalTokens int
	var costMicros int64
	err := st.DB.QueryRowContext(context.Background(),
		`SELECT total_tokens, cost_micros FROM llm_traces WHERE project_id = ? AND id = ?`, "proj1", "t1",
	).Scan(&totalTokens, &costMicros)
	if err != nil {
		t.Fatalf("query trace: %v", err)
	}
	if totalTokens != 150 {
		t.Fatalf("expected total_tokens=150, got %d", totalTokens)
	}
	if costMicros != 2500 {
		t.Fatalf("expected cost_micros=2500, got %d", costMicros)
	}

	hourBucket := startedAt / 3_600_000
	var spanCount, hourlyInput int
	var hourlyCost int64
	err = st.DB.QueryRowContext(context.Background(),
		`SELECT span_count, input_tokens, cost_micros FROM llm_usage_hourly WHERE project_id = ? AND hour_bucket = ? AND model = ? AND provider = ?`,
		"proj1", hourBucket, "gpt-4o", "",
	).Scan(&spanCount, &hourlyInput, &hourlyCost)
	if err != nil {
		t.Fatalf("query hourly usage: %v", err)
	}
	if spanCount != 1 || hourlyInput != 100 || hourlyCost != 2500 {
		t.Fatalf("unexpected hourly rollup: span_count=%d input=%d cost=%d", spanCount, hourlyInput, hourlyCost)
	}
}

func TestWorkerLastWriteWinsWithinOneFlush(t *testing.T) {
	st := newTraceTestStore(t)
	queue := tracepipeline.NewQueue(10)
	worker := tracepipeline.NewWorker(queue, st, testTraceWorkerConfig(), zerolog.Nop())

	startedAt := int64(1_700_000_000_000)
	first := tracepipeline.Trace{ID: "t1", Name: "chat", Status: "running", StartedAt: startedAt}
	second := tracepipeline.Trace{ID: "t1", Name: "chat", Status: "completed", StartedAt: startedAt}

	queue.Enqueue(tracepipeline.ProcessedTrace{ProjectID: "proj1", ReceivedAtMs: startedAt, Trace: first})
	queue.Enqueue(tracepipeline.ProcessedTrace{ProjectID: "proj1", ReceivedAtMs: startedAt + 1, Trace: second})
	queue.Close()
	worker.Run()

	var status string
	err := st.DB.QueryRowContext(context.Background(),
		`SELECT status FROM llm_traces WHERE project_id = ? AND id = ?`, "proj1", "t1",
	).Scan(&status)
	if err != nil {
		t.Fatalf("query trace: %v", err)
	}
	if status != "completed" {
		t.Fatalf("expected last-write-wins status=completed, got %s", status)
	}
}

func TestWorkerPartialUpdateAddsToRollupAndPreservesFields(t *testing.T) {
	st := newTraceTestStore(t)
	queue := tracepipeline.NewQueue(10)
	worker := tracepipeline.NewWorker(queue, st, testTraceWorkerConfig(), zerolog.Nop())

	startedAt := int64(1_700_000_000_000)
	original := tracepipeline.Trace{
		ID: "t1", Name: "chat", Status: "running", StartedAt: startedAt,
		Spans: []tracepipeline.Span{
			{ID: "s1", Model: "gpt-4o", InputTokens: 100, OutputTokens: 50, CostMicros: 2500, Status: "ok", StartedAt: startedAt},
		},
		InputTokens: 100, OutputTokens: 50, TotalTokens: 150, CostMicros: 2500,
	}
	queue.Enqueue(tracepipeline.ProcessedTrace{ProjectID: "proj1", ReceivedAtMs: startedAt, Trace: original})
	queue.Close()
	worker.Run()

	queue2 := tracepipeline.NewQueue(10)
	worker2 := tracepipeline.NewWorker(queue2, st, testTraceWorkerConfig(), zerolog.Nop())

	update := tracepipeline.Trace{
		ID: "t1", Status: "completed", StartedAt: startedAt,
		Spans: []tracepipeline.Span{
			{ID: "s2", Model: "gpt-4o", InputTokens: 20, OutputTokens: 10, CostMicros: 500, Status: "ok", StartedAt: startedAt},
		},
		InputTokens: 20, OutputTokens: 10, TotalTokens: 30, CostMicros: 500,
	}
	queue2.Enqueue(tracepipeline.ProcessedTrace{ProjectID: "proj1", ReceivedAtMs: startedAt + 10, Trace: update, IsPartial: true})
	queue2.Close()
	worker2.Run()

	var name, status string
	var totalTokens int
	var costMicros int64
	err := st.DB.QueryRowContext(context.Background(),
		`SELECT name, status, total_tokens, cost_micros FROM llm_traces WHERE project_id = ? AND id = ?`, "proj1", "t1",
	).Scan(&name, &status, &totalTokens, &costMicros)
	if err != nil {
		t.Fatalf("query trace: %v", err)
	}
	if name != "chat" {
		t.Fatalf("expected name preserved from original insert, got %q", name)
	}
	if status != "completed" {
		t.Fatalf("expected status overlaid by the partial update, got %q", status)
	}
	if totalTokens != 180 {
		t.Fatalf("expected total_tokens=180 (150+30), got %d", totalTokens)
	}
	if costMicros != 3000 {
		t.Fatalf("expected cost_micros=3000 (2500+500), got %d", costMicros)
	}

	var spanCount int
	err = st.DB.QueryRowContext(context.Background(),
		`SELECT COUNT(*) FROM llm_spans WHERE project_id = ? AND trace_id = ?`, "proj1", "t1",
	).Scan(&spanCount)
	if err != nil {
		t.Fatalf("query spans: %v", err)
	}
	if spanCount != 2 {
		t.Fatalf("expected both the original and new span persisted, got %d", spanCount)
	}
}
