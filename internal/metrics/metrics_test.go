package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveCommandIncrementsLabeledCounter(t *testing.T) {
	before := testutil.ToFloat64(commandsTotal.WithLabelValues("FindEntity", "success"))
	ObserveCommand("FindEntity", 0)
	after := testutil.ToFloat64(commandsTotal.WithLabelValues("FindEntity", "success"))
	assert.Equal(t, before+1, after)
}

func TestSessionGaugeTracksStartAndEnd(t *testing.T) {
	before := testutil.ToFloat64(activeSessions)
	SessionStarted()
	assert.Equal(t, before+1, testutil.ToFloat64(activeSessions))
	SessionEnded()
	assert.Equal(t, before, testutil.ToFloat64(activeSessions))
}

func TestStatusLabelMapsKnownCodes(t *testing.T) {
	assert.Equal(t, "success", statusLabel(0))
	assert.Equal(t, "empty", statusLabel(1))
	assert.Equal(t, "exists", statusLabel(2))
	assert.Equal(t, "not_unique", statusLabel(3))
	assert.Equal(t, "error", statusLabel(-1))
}

func TestObserveTransactionRecordsIntoHistogram(t *testing.T) {
	before := testutil.CollectAndCount(transactionDuration)
	ObserveTransaction(10 * time.Millisecond)
	after := testutil.CollectAndCount(transactionDuration)
	assert.Equal(t, before, after) // same series, just another observation
}
