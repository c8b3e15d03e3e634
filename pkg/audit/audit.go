// Package audit periodically re-validates flows that have left draft. Rules can change
// after a flow was approved, so an approved flow may become defective without an edit.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/processflow/pkg/models"
	"github.com/dukex/processflow/pkg/persistence"
	"github.com/dukex/processflow/pkg/validation"
	"github.com/robfig/cron/v3"
)

const pageSize = 100

// Result summarises one audit pass.
type Result struct {
	Checked   int
	Defective []int64
}

// Auditor runs the validation engine over reviewed and approved flows on a cron schedule.
type Auditor struct {
	repo     persistence.FlowRepository
	engine   *validation.Engine
	schedule string
	logger   *slog.Logger

	cron *cron.Cron

	mu      sync.Mutex
	last    Result
	lastRun time.Time
}

// New creates an auditor. schedule is a standard five-field cron expression or a
// descriptor such as "@hourly".
func New(logger *slog.Logger, repo persistence.FlowRepository, engine *validation.Engine, schedule string) (*Auditor, error) {
	_, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid audit schedule: %w", err)
	}

	return &Auditor{
		repo:     repo,
		engine:   engine,
		schedule: schedule,
		logger:   logger.With("module", "audit", "schedule", schedule),
	}, nil
}

// Start schedules the audit. Runs never overlap; a pass still running when the next one
// is due causes that one to be skipped.
func (a *Auditor) Start(ctx context.Context) error {
	logger := cronLogger{a.logger}

	a.cron = cron.New(cron.WithLogger(logger), cron.WithChain(
		cron.SkipIfStillRunning(logger),
		cron.Recover(logger),
	))

	id, err := a.cron.AddFunc(a.schedule, func() {
		_, err := a.Run(ctx)
		if err != nil {
			a.logger.ErrorContext(ctx, "Audit pass failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add audit job: %w", err)
	}

	a.logger.InfoContext(ctx, "Starting validation audit", "entry_id", id)
	a.cron.Start()

	return nil
}

// Stop unschedules the audit and waits for a running pass to finish or ctx to expire.
func (a *Auditor) Stop(ctx context.Context) error {
	if a.cron == nil {
		return nil
	}

	a.logger.InfoContext(ctx, "Stopping validation audit")

	select {
	case <-a.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run performs one audit pass and logs every flow whose committed snapshot has defects.
func (a *Auditor) Run(ctx context.Context) (Result, error) {
	result := Result{Defective: []int64{}}

	for _, status := range []models.ApprovalStatus{models.ApprovalStatusReviewed, models.ApprovalStatusApproved} {
		err := a.audit(ctx, status, &result)
		if err != nil {
			return result, err
		}
	}

	a.mu.Lock()
	a.last = result
	a.lastRun = time.Now().UTC()
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "Audit pass completed", "checked", result.Checked, "defective", len(result.Defective))

	return result, nil
}

func (a *Auditor) audit(ctx context.Context, status models.ApprovalStatus, result *Result) error {
	for offset := 0; ; offset += pageSize {
		page, err := a.repo.List(ctx, persistence.ListFlowsOptions{
			Limit:  pageSize,
			Offset: offset,
			Status: &status,
		})
		if err != nil {
			return fmt.Errorf("failed to list %s flows: %w", status, err)
		}

		for _, flow := range page.Flows {
			result.Checked++

			report := a.engine.Validate(flow)
			if report.Valid() {
				continue
			}

			result.Defective = append(result.Defective, flow.ID)

			a.logger.WarnContext(ctx, "Flow no longer passes validation",
				"flow_id", flow.ID,
				"status", flow.ApprovalStatus,
				"version", flow.Version,
				"defects", len(report),
				"rules", rules(report),
			)
		}

		if !page.HasNextPage {
			return nil
		}
	}
}

// LastRun returns the result of the most recent completed pass.
func (a *Auditor) LastRun() (Result, time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.last, a.lastRun
}

func rules(report models.Report) []string {
	seen := map[string]bool{}
	names := []string{}

	for _, d := range report {
		if !seen[d.Rule] {
			seen[d.Rule] = true
			names = append(names, d.Rule)
		}
	}

	return names
}

type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
