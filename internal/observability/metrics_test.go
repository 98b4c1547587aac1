package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordGeneration(t *testing.T) {
	before := testutil.ToFloat64(generationsTotal.WithLabelValues("done"))
	RecordGeneration("done")
	assert.Equal(t, before+1, testutil.ToFloat64(generationsTotal.WithLabelValues("done")))
}

func TestRecordPersistence(t *testing.T) {
	saved := testutil.ToFloat64(recommendationsPersisted)
	failed := testutil.ToFloat64(recommendationsFailed)

	RecordPersistence(3, 1)

	assert.Equal(t, saved+3, testutil.ToFloat64(recommendationsPersisted))
	assert.Equal(t, failed+1, testutil.ToFloat64(recommendationsFailed))
}

func TestRecordGenerationSuccess(t *testing.T) {
	ts := time.Unix(1714564800, 0)
	RecordGenerationSuccess(ts)
	assert.Equal(t, float64(ts.Unix()), testutil.ToFloat64(lastSuccessGauge))

	RecordGenerationSuccess(time.Time{})
	assert.Equal(t, float64(ts.Unix()), testutil.ToFloat64(lastSuccessGauge), "zero time is ignored")
}

func TestRecordHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "unmatched", "404"))
	RecordHTTPRequest("GET", "", 404)
	assert.Equal(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "unmatched", "404")))
}

func TestRecordScorerDuration(t *testing.T) {
	before := testutil.CollectAndCount(scorerDuration)
	RecordScorerDuration(250 * time.Millisecond)
	assert.Equal(t, before, testutil.CollectAndCount(scorerDuration))
}
