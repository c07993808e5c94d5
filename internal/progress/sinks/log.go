// Package sinks provides progress.Sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/reliefworks/jobharvester/internal/progress"
)

// LogSink writes progress events as structured log lines.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink returns a sink logging to the given logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{log: logger.Named("progress")}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, events []progress.Event) error {
	for _, e := range events {
		fields := []zap.Field{
			zap.String("source_id", e.SourceID),
			zap.String("stage", string(e.Stage)),
			zap.Time("ts", e.TS),
		}
		if e.URL != "" {
			fields = append(fields, zap.String("url", e.URL))
		}
		if e.Outcome != "" {
			fields = append(fields, zap.String("outcome", string(e.Outcome)))
		}
		if e.Dur > 0 {
			fields = append(fields, zap.Duration("duration", e.Dur))
		}
		if e.Note != "" {
			fields = append(fields, zap.String("note", e.Note))
		}
		if e.Stage == progress.StageCrawlError {
			s.log.Warn("crawl progress", fields...)
			continue
		}
		s.log.Info("crawl progress", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
