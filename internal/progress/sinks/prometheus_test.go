package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/reliefworks/jobharvester/internal/harvest"
	"github.com/reliefworks/jobharvester/internal/progress"
)

func TestPrometheusSinkCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	events := []progress.Event{
		{SourceID: "s1", TS: now, Stage: progress.StageCrawlStart},
		{SourceID: "s2", TS: now, Stage: progress.StageCrawlStart},
		{SourceID: "s1", TS: now, Stage: progress.StagePageIngested, Outcome: harvest.OutcomeInserted},
		{SourceID: "s1", TS: now, Stage: progress.StagePageIngested, Outcome: harvest.OutcomeSkipped},
		{SourceID: "s1", TS: now, Stage: progress.StageCrawlDone, Dur: 3 * time.Second},
		{SourceID: "s2", TS: now, Stage: progress.StageCrawlError, Note: "fetch failed"},
	}
	require.NoError(t, sink.Consume(context.Background(), events))

	require.Equal(t, float64(2), testutil.ToFloat64(sink.crawlsStarted))
	require.Equal(t, float64(0), testutil.ToFloat64(sink.crawlsRunning))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.crawlsFinished.WithLabelValues("ok")))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.crawlsFinished.WithLabelValues("error")))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.pagesByOutcome.WithLabelValues("inserted")))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.pagesByOutcome.WithLabelValues("skipped")))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestLogSinkToleratesAllStages(t *testing.T) {
	sink := NewLogSink(nil)
	now := time.Now()
	events := []progress.Event{
		{SourceID: "s1", TS: now, Stage: progress.StageCrawlStart},
		{SourceID: "s1", TS: now, Stage: progress.StageCrawlError, Note: "boom"},
		{SourceID: "s1", TS: now, Stage: progress.StagePageIngested, Outcome: harvest.OutcomeUpdated, URL: "https://example.org/jobs/1"},
	}
	require.NoError(t, sink.Consume(context.Background(), events))
	require.NoError(t, sink.Close(context.Background()))
}
