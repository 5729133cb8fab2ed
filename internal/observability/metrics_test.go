package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog/log"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("cranberries", "GET", "/health", 200, 12*time.Millisecond)
	RecordReconcile("model_versions")
	SetEmittedVersions("modelA", 2)
	RecordSkippedVersion("empty_data")
	RecordWatchEvent("EventNodeChildrenChanged")
	RecordCoordError("get", "transient")
	RecordReporterWrite("create", true)

	log.Info().Msg("observability/metrics: registration idempotent and recording paths executed")
}

func TestEmittedVersionsGaugeTracksLatestValue(t *testing.T) {
	SetEmittedVersions("gauge-model", 3)
	SetEmittedVersions("gauge-model", 1)
	if got := testutil.ToFloat64(emittedVersions.WithLabelValues("gauge-model")); got != 1 {
		t.Fatalf("expected gauge=1, got %v", got)
	}
}

func TestReporterWriteResultLabels(t *testing.T) {
	before := testutil.ToFloat64(reporterWrites.WithLabelValues("delete", "error"))
	RecordReporterWrite("delete", false)
	after := testutil.ToFloat64(reporterWrites.WithLabelValues("delete", "error"))
	if after-before != 1 {
		t.Fatalf("expected error counter to advance by 1, got %v", after-before)
	}
}
