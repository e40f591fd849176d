package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecordSaveAttemptLabelsOutcome(t *testing.T) {
	before := testutil.ToFloat64(saveAttemptsCounter.WithLabelValues("sync", "failure"))
	RecordSaveAttempt("sync", false, 20*time.Millisecond)
	require.InDelta(t, before+1, testutil.ToFloat64(saveAttemptsCounter.WithLabelValues("sync", "failure")), 0.0001)
}

func TestRecordConfirmedIgnoresZeroTime(t *testing.T) {
	ts := time.Date(2025, time.June, 2, 14, 0, 0, 0, time.UTC)
	RecordConfirmed(ts)
	RecordConfirmed(time.Time{})
	require.Equal(t, float64(ts.Unix()), testutil.ToFloat64(lastConfirmedGauge))
}

func TestRecordMonitorTick(t *testing.T) {
	before := testutil.ToFloat64(monitorTicksCounter)
	RecordMonitorTick(4, 1)
	require.InDelta(t, before+1, testutil.ToFloat64(monitorTicksCounter), 0.0001)
	require.Equal(t, float64(4), testutil.ToFloat64(monitorUnconfirmedGauge))
	require.Equal(t, float64(1), testutil.ToFloat64(monitorExhaustedGauge))
}

func TestRecordRemotePersisted(t *testing.T) {
	before := testutil.ToFloat64(remoteSavesCounter.WithLabelValues("updated"))
	RecordRemotePersisted(false, time.Unix(100, 0))
	require.InDelta(t, before+1, testutil.ToFloat64(remoteSavesCounter.WithLabelValues("updated")), 0.0001)
	require.Equal(t, float64(100), testutil.ToFloat64(remoteLastSaveGauge))
}
