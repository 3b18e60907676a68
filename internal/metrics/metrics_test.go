package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordFetch(t *testing.T) {
	before := testutil.ToFloat64(CandidateFetches.WithLabelValues("test", OutcomeOK))
	RecordFetch("test", OutcomeOK, 120*time.Millisecond)
	RecordFetch("test", OutcomeOK, 80*time.Millisecond)

	after := testutil.ToFloat64(CandidateFetches.WithLabelValues("test", OutcomeOK))
	if after-before != 2 {
		t.Errorf("expected 2 new fetches, got %v", after-before)
	}
}

func TestRecordFetch_FailureSkipsLatency(t *testing.T) {
	before := testutil.CollectAndCount(CandidateFetchDuration)
	RecordFetch("failing-provider", OutcomeNetworkError, time.Second)
	if got := testutil.CollectAndCount(CandidateFetchDuration); got != before {
		t.Errorf("expected no new latency series, got %d (was %d)", got, before)
	}
}

func TestRecordTokenAndFrame(t *testing.T) {
	RecordToken("simulating")
	if got := testutil.ToFloat64(TokensAccepted.WithLabelValues("simulating")); got < 1 {
		t.Errorf("expected token counter >= 1, got %v", got)
	}

	before := testutil.ToFloat64(StreamFrames.WithLabelValues(FrameMalformed))
	RecordFrame(FrameMalformed)
	if got := testutil.ToFloat64(StreamFrames.WithLabelValues(FrameMalformed)); got != before+1 {
		t.Errorf("expected %v, got %v", before+1, got)
	}
}
