// Package usecase contains application business logic.
package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/appguard/internal/domain"
	"github.com/eliteGoblin/focusd/appguard/internal/metrics"
	"github.com/eliteGoblin/focusd/appguard/internal/policy"
)

// Detector runs one scan cycle: inspect, match, dedupe, report.
type Detector struct {
	inspector domain.ProcessInspector
	deduper   *policy.Deduper
	reporter  domain.ViolationReporter
	journal   domain.ReportJournal // optional
	observer  domain.Observer      // optional
	metrics   *metrics.Metrics     // optional
	logger    *zap.Logger
	now       func() time.Time
}

// NewDetector creates a detector. The deduper owns the ReportedSet and
// must outlive individual cycles.
func NewDetector(
	inspector domain.ProcessInspector,
	deduper *policy.Deduper,
	reporter domain.ViolationReporter,
	logger *zap.Logger,
) *Detector {
	return &Detector{
		inspector: inspector,
		deduper:   deduper,
		reporter:  reporter,
		logger:    logger,
		now:       time.Now,
	}
}

// WithJournal records every report attempt in j.
func (d *Detector) WithJournal(j domain.ReportJournal) *Detector {
	d.journal = j
	return d
}

// WithObserver notifies o after each successful report.
func (d *Detector) WithObserver(o domain.Observer) *Detector {
	d.observer = o
	return d
}

// WithMetrics records scan and report counters in m.
func (d *Detector) WithMetrics(m *metrics.Metrics) *Detector {
	d.metrics = m
	return d
}

// Deduper returns the detector's ReportedSet owner.
func (d *Detector) Deduper() *policy.Deduper {
	return d.deduper
}

// ReportedCount returns how many PIDs have been reported during this run.
func (d *Detector) ReportedCount() int {
	return d.deduper.Len()
}

// RunCycle scans once against p and reports every new violation.
// Report failures are logged and skipped; the PID stays marked and is not
// retried. The result is never nil.
func (d *Detector) RunCycle(ctx context.Context, authorityURL, credential, deviceID string, p domain.Policy) *domain.ScanResult {
	start := d.now()
	result := &domain.ScanResult{
		Matched:    make([]domain.Violation, 0),
		New:        make([]domain.Violation, 0),
		Reported:   make([]domain.Violation, 0),
		Failed:     make([]domain.Violation, 0),
		Errors:     make([]error, 0),
		ExecutedAt: start,
	}
	defer func() {
		elapsed := d.now().Sub(start)
		result.DurationMs = elapsed.Milliseconds()
		d.metrics.RecordScan(elapsed.Seconds(), d.deduper.Len())
	}()

	snapshots, err := d.inspector.Snapshot(ctx)
	if err != nil {
		d.logger.Warn("process inspection failed", zap.Error(err))
		result.Errors = append(result.Errors, err)
		return result
	}
	result.ProcessesSeen = len(snapshots)

	result.Matched = policy.Match(deviceID, snapshots, p)
	result.New = d.deduper.FilterNew(result.Matched)

	for _, v := range result.New {
		err := d.reporter.ReportViolation(ctx, authorityURL, credential, v)
		d.record(v, err)
		d.metrics.RecordReport(v.Severity, err)

		if err != nil {
			d.logger.Warn("failed to report violation",
				zap.String("app", v.AppDetected),
				zap.Int("pid", v.ProcessID),
				zap.Error(err))
			result.Failed = append(result.Failed, v)
			result.Errors = append(result.Errors, err)
			continue
		}

		d.logger.Info("reported violation",
			zap.String("app", v.AppDetected),
			zap.String("severity", v.Severity),
			zap.Int("pid", v.ProcessID))
		result.Reported = append(result.Reported, v)
		if d.observer != nil {
			d.observer.ViolationDetected(v)
		}
	}

	d.logger.Debug("scan complete",
		zap.Int("processes", result.ProcessesSeen),
		zap.Int("matched", len(result.Matched)),
		zap.Int("new", len(result.New)),
		zap.Int("reported", len(result.Reported)))

	return result
}

// DryRun inspects and matches without touching the ReportedSet or the authority.
func (d *Detector) DryRun(ctx context.Context, deviceID string, p domain.Policy) ([]domain.Violation, error) {
	snapshots, err := d.inspector.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return policy.Match(deviceID, snapshots, p), nil
}

func (d *Detector) record(v domain.Violation, reportErr error) {
	if d.journal == nil {
		return
	}
	rec := domain.ReportRecord{
		Violation:   v,
		Status:      domain.ReportSent,
		AttemptedAt: d.now(),
	}
	if reportErr != nil {
		rec.Status = domain.ReportFailed
		rec.Error = reportErr.Error()
	}
	if err := d.journal.Record(rec); err != nil {
		d.logger.Warn("failed to journal report", zap.Error(err))
	}
}
