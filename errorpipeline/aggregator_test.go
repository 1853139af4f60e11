package errorpipeline_test

import (
	"testing"
	"time"

	"github.com/lumenwatch/ingestd/errorpipeline"
)

func TestAggregatorSeenAfterMarkSeen(t *testing.T) {
	agg, err := errorpipeline.NewAggregator()
	if err != nil {
		t.Fatalf("NewAggregator: %v", err)
	}
	defer agg.Close()

	if agg.Seen("proj1", "abc123") {
		t.Fatalf("expected not seen before MarkSeen")
	}
	agg.MarkSeen("proj1", "abc123")
	waitForSeen(t, agg, "proj1", "abc123")

	if agg.Seen("proj1", "other") {
		t.Fatalf("expected a different fingerprint to remain unseen")
	}
}

func TestAggregatorKeysAreProjectScoped(t *testing.T) {
	agg, err := errorpipeline.NewAggregator()
	if err != nil {
		t.Fatalf("NewAggregator: %v", err)
	}
	defer agg.Close()

	agg.MarkSeen("proj1", "fp1")
	waitForSeen(t, agg, "proj1", "fp1")

	if agg.Seen("proj2", "fp1") {
		t.Fatalf("expected the same fingerprint under a different project to be unseen")
	}
}

func waitForSeen(t *testing.T, agg *errorpipeline.Aggregator, projectID, fingerprint string) {
	t.Helper()
	for i := 0; i < 200; i++ {
		if agg.Seen(projectID, fingerprint) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("expected %s/%s to become visible in cache", projectID, fingerprint)
}
