package observability

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestRecordSyncRun(t *testing.T) {
	before := testutil.ToFloat64(syncRunsCounter.WithLabelValues("completed"))
	finished := time.Unix(1_700_000_000, 0)

	RecordSyncRun("completed", finished.Add(-3*time.Second), finished)

	require.Equal(t, before+1, testutil.ToFloat64(syncRunsCounter.WithLabelValues("completed")))
	require.Equal(t, float64(finished.Unix()), testutil.ToFloat64(syncLastRunGauge))

	metric := &dto.Metric{}
	require.NoError(t, syncDuration.Write(metric))
	require.GreaterOrEqual(t, metric.GetHistogram().GetSampleCount(), uint64(1))
	require.GreaterOrEqual(t, metric.GetHistogram().GetSampleSum(), 3.0)
}

func TestRecordActivityMutationsSkipsZero(t *testing.T) {
	upserts := testutil.ToFloat64(activityMutations.WithLabelValues("upsert"))
	deletes := testutil.ToFloat64(activityMutations.WithLabelValues("delete"))

	RecordActivityMutations(3, 0)

	require.Equal(t, upserts+3, testutil.ToFloat64(activityMutations.WithLabelValues("upsert")))
	require.Equal(t, deletes, testutil.ToFloat64(activityMutations.WithLabelValues("delete")))
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(&buf, "info", "json").Info("hello", slog.Int("n", 1))
	require.True(t, strings.HasPrefix(buf.String(), "{"))

	buf.Reset()
	NewLogger(&buf, "warn", "text").Info("suppressed")
	require.Empty(t, buf.String())
}

func TestSentryDisabledWithoutDSN(t *testing.T) {
	require.NoError(t, InitSentry(SentryConfig{}, DiscardLogger()))
	CaptureError(errors.New("not reported"), map[string]string{"component": "test"})
	CaptureError(nil, nil)
}
