package sinks

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/reliefworks/jobharvester/internal/progress"
)

// PrometheusSink translates progress events into Prometheus metrics. It
// registers its collectors on the supplied Registerer so callers control
// exposure and tests stay isolated.
type PrometheusSink struct {
	crawlsStarted  prometheus.Counter
	crawlsFinished *prometheus.CounterVec
	crawlsRunning  prometheus.Gauge
	crawlDuration  prometheus.Histogram
	pagesByOutcome *prometheus.CounterVec
}

// NewPrometheusSink builds the sink and registers its collectors.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	s := &PrometheusSink{
		crawlsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvester_progress_crawls_started_total",
			Help: "Crawls that reported a start event.",
		}),
		crawlsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_progress_crawls_finished_total",
			Help: "Crawls that reported a terminal event, by result.",
		}, []string{"result"}),
		crawlsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_progress_crawls_running",
			Help: "Crawls currently between start and terminal events.",
		}),
		crawlDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvester_progress_crawl_duration_seconds",
			Help:    "Wall time of completed crawls.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		pagesByOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_progress_pages_ingested_total",
			Help: "Pages that completed ingestion, by persist outcome.",
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{
		s.crawlsStarted, s.crawlsFinished, s.crawlsRunning, s.crawlDuration, s.pagesByOutcome,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Consume updates metrics for each event in the batch.
func (s *PrometheusSink) Consume(_ context.Context, events []progress.Event) error {
	for _, e := range events {
		switch e.Stage {
		case progress.StageCrawlStart:
			s.crawlsStarted.Inc()
			s.crawlsRunning.Inc()
		case progress.StageCrawlDone:
			s.crawlsFinished.WithLabelValues("ok").Inc()
			s.crawlsRunning.Dec()
			s.crawlDuration.Observe(e.Dur.Seconds())
		case progress.StageCrawlError:
			s.crawlsFinished.WithLabelValues("error").Inc()
			s.crawlsRunning.Dec()
			if e.Dur > 0 {
				s.crawlDuration.Observe(e.Dur.Seconds())
			}
		case progress.StagePageIngested:
			s.pagesByOutcome.WithLabelValues(string(e.Outcome)).Inc()
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
