// Package monitor watches the ingest failure rate and raises incident
// artifacts when it breaches the rollback threshold.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/reliefworks/jobharvester/internal/harvest"
)

// Incident is the artifact written when the failure rate breaches the
// threshold. Operators use it as the trigger to flip the extractor off.
type Incident struct {
	DetectedAt     time.Time             `json:"detected_at"`
	WindowMinutes  int                   `json:"window_minutes"`
	Counts         harvest.OutcomeCounts `json:"counts"`
	FailureRatePct float64               `json:"failure_rate_pct"`
	ThresholdPct   float64               `json:"threshold_pct"`
	Message        string                `json:"message"`
}

// Checker evaluates the trailing failure rate against the threshold.
type Checker struct {
	extLogs      harvest.ExtractionLogStore
	window       time.Duration
	thresholdPct float64
	minSample    int
	incidentDir  string
	clock        harvest.Clock
	logger       *zap.Logger
}

// NewChecker builds a failure-rate checker. A minSample floor keeps low
// crawl volume from producing false alarms.
func NewChecker(extLogs harvest.ExtractionLogStore, window time.Duration, thresholdPct float64, minSample int, incidentDir string, clock harvest.Clock, logger *zap.Logger) *Checker {
	return &Checker{
		extLogs:      extLogs,
		window:       window,
		thresholdPct: thresholdPct,
		minSample:    minSample,
		incidentDir:  incidentDir,
		clock:        clock,
		logger:       logger.Named("monitor"),
	}
}

// Check evaluates the window once. It returns a non-nil Incident, already
// written to disk, when the rate breaches the threshold with enough samples.
func (c *Checker) Check(ctx context.Context) (*Incident, error) {
	now := c.clock.Now()
	counts, err := c.extLogs.CountOutcomes(ctx, now.Add(-c.window))
	if err != nil {
		return nil, fmt.Errorf("counting outcomes: %w", err)
	}

	if counts.Total() < c.minSample {
		return nil, nil
	}
	ratePct := counts.FailureRate() * 100
	if ratePct <= c.thresholdPct {
		return nil, nil
	}

	incident := &Incident{
		DetectedAt:     now,
		WindowMinutes:  int(c.window.Minutes()),
		Counts:         counts,
		FailureRatePct: ratePct,
		ThresholdPct:   c.thresholdPct,
		Message: fmt.Sprintf(
			"ingest failure rate %.1f%% over the last %d minutes (%d of %d attempts) exceeds %.1f%%; consider disabling the new extractor",
			ratePct, int(c.window.Minutes()), counts.Failed, counts.Total(), c.thresholdPct,
		),
	}
	if err := c.writeArtifact(incident); err != nil {
		return incident, err
	}
	c.logger.Error("failure rate breach",
		zap.Float64("rate_pct", ratePct),
		zap.Int("failed", counts.Failed),
		zap.Int("total", counts.Total()),
	)
	return incident, nil
}

// Run evaluates on a fixed interval until the context ends.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Check(ctx); err != nil {
				c.logger.Error("failure rate check", zap.Error(err))
			}
		}
	}
}

func (c *Checker) writeArtifact(incident *Incident) error {
	if err := os.MkdirAll(c.incidentDir, 0o755); err != nil {
		return fmt.Errorf("creating incident dir: %w", err)
	}
	name := fmt.Sprintf("incident-%s.json", incident.DetectedAt.UTC().Format("20060102-150405"))
	path := filepath.Join(c.incidentDir, name)

	data, err := json.MarshalIndent(incident, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling incident: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing incident artifact: %w", err)
	}
	return nil
}
