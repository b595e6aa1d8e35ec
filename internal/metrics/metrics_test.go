package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if stagerPagesTotal == nil || stagerRecordsTotal == nil ||
		stagerBatchesTotal == nil || stagerPromotionsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveRecordsSkipsEmptyCounts(t *testing.T) {
	before := testutil.ToFloat64(stagerRecordsTotalFor(OutcomeOversized))
	ObserveRecords(OutcomeOversized, 0)
	ObserveRecords(OutcomeOversized, 2)
	if got := testutil.ToFloat64(stagerRecordsTotalFor(OutcomeOversized)) - before; got != 2 {
		t.Errorf("expected oversized counter to grow by 2, got %f", got)
	}
}

func TestObserveBatchLabelsStatus(t *testing.T) {
	Init()
	okBefore := testutil.ToFloat64(stagerBatchesTotal.WithLabelValues("success"))
	errBefore := testutil.ToFloat64(stagerBatchesTotal.WithLabelValues("error"))

	ObserveBatch(true, 10*time.Millisecond)
	ObserveBatch(false, time.Millisecond)
	ObserveBatch(true, time.Millisecond)

	if got := testutil.ToFloat64(stagerBatchesTotal.WithLabelValues("success")) - okBefore; got != 2 {
		t.Errorf("expected 2 successful batches, got %f", got)
	}
	if got := testutil.ToFloat64(stagerBatchesTotal.WithLabelValues("error")) - errBefore; got != 1 {
		t.Errorf("expected 1 failed batch, got %f", got)
	}
}

func TestObserveConfigWarning(t *testing.T) {
	Init()
	before := testutil.ToFloat64(stagerConfigWarningsTotal.WithLabelValues("pagerank_rules"))
	ObserveConfigWarning("pagerank_rules")
	if got := testutil.ToFloat64(stagerConfigWarningsTotal.WithLabelValues("pagerank_rules")) - before; got != 1 {
		t.Errorf("expected warning counter to grow by 1, got %f", got)
	}
}

func stagerRecordsTotalFor(outcome string) prometheus.Counter {
	Init()
	return stagerRecordsTotal.WithLabelValues(outcome)
}
