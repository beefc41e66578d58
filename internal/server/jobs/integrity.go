package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/recordguard/internal/logging"
	"github.com/dmitrijs2005/recordguard/internal/server/models"
)

// BatchVerifier re-verifies the ledger entries of a time window.
type BatchVerifier interface {
	VerifyBatch(ctx context.Context, from, to time.Time) (*models.IntegrityReport, error)
}

// IntegrityJob verifies the trailing window of ledger entries.
type IntegrityJob struct {
	verifier BatchVerifier
	window   time.Duration
	metrics  *Metrics
	logger   logging.Logger
	now      func() time.Time
}

func NewIntegrityJob(v BatchVerifier, window time.Duration, metrics *Metrics, logger logging.Logger) *IntegrityJob {
	return &IntegrityJob{
		verifier: v,
		window:   window,
		metrics:  metrics,
		logger:   logger.With("module", "integrity_job"),
		now:      time.Now,
	}
}

// Run checks [now-window, now]. Tampered entries are reported through the
// ledger's alerter and counted here; they are not an error.
func (j *IntegrityJob) Run(ctx context.Context) error {
	to := j.now()
	from := to.Add(-j.window)

	report, err := j.verifier.VerifyBatch(ctx, from, to)
	if err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}

	j.metrics.AddIntegrity(report.Checked, len(report.Failed))

	j.logger.Info(ctx, "integrity check finished",
		"from", from.Format(time.RFC3339), "to", to.Format(time.RFC3339),
		"checked", report.Checked, "failed", len(report.Failed))
	return nil
}
