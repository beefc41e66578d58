// Package alert delivers integrity-violation reports produced by the audit
// ledger.
package alert

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dmitrijs2005/recordguard/internal/logging"
	"github.com/dmitrijs2005/recordguard/internal/server/models"
)

// Alerter receives a report that contains at least one tampered entry.
type Alerter interface {
	IntegrityViolation(ctx context.Context, report *models.IntegrityReport) error
}

// LogAlerter writes the violation to the security log.
type LogAlerter struct {
	logger logging.Logger
}

func NewLogAlerter(logger logging.Logger) *LogAlerter {
	return &LogAlerter{logger: logger.With("module", "integrity_alert")}
}

func (a *LogAlerter) IntegrityViolation(ctx context.Context, r *models.IntegrityReport) error {
	a.logger.Error(ctx, "SECURITY: audit log tampering detected",
		"from", r.From.Format(time.RFC3339), "to", r.To.Format(time.RFC3339),
		"checked", r.Checked, "failed", len(r.Failed), "ids", strings.Join(r.Failed, ","))
	return nil
}

// Multi fans a report out to every alerter and joins their errors.
type Multi []Alerter

func (m Multi) IntegrityViolation(ctx context.Context, r *models.IntegrityReport) error {
	var errs []error
	for _, a := range m {
		if err := a.IntegrityViolation(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
