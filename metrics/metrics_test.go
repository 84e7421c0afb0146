package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestExtractionMetrics(t *testing.T) {
	ExtractionsTotal.Reset()
	MessagesTotal.Reset()

	ExtractionsTotal.WithLabelValues(ResultSuccess).Inc()
	ExtractionsTotal.WithLabelValues(ResultFailure).Inc()
	ExtractionsTotal.WithLabelValues(ResultSuccess).Inc()
	MessagesTotal.WithLabelValues(ResultFiltered).Add(3)

	if got := testutil.ToFloat64(ExtractionsTotal.WithLabelValues(ResultSuccess)); got != 2 {
		t.Errorf("success extractions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(MessagesTotal.WithLabelValues(ResultFiltered)); got != 3 {
		t.Errorf("filtered messages = %v, want 3", got)
	}

	expected := `
# HELP mailscrub_extractions_total Total number of extraction requests by result
# TYPE mailscrub_extractions_total counter
mailscrub_extractions_total{result="failure"} 1
mailscrub_extractions_total{result="success"} 2
`
	if err := testutil.CollectAndCompare(ExtractionsTotal, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metrics output: %v", err)
	}
}

func TestInFlightGauge(t *testing.T) {
	ExtractionsInFlight.Set(0)
	ExtractionsInFlight.Inc()
	ExtractionsInFlight.Inc()
	ExtractionsInFlight.Dec()

	if got := testutil.ToFloat64(ExtractionsInFlight); got != 1 {
		t.Errorf("in flight = %v, want 1", got)
	}
}
