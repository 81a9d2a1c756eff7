// Package retention prunes aged check results, resolved incidents, and
// notification logs according to per-type policies.
package retention

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/uptimo/uptimo/internal/incident"
	"github.com/uptimo/uptimo/internal/monitor"
	"github.com/uptimo/uptimo/internal/notify"
	"github.com/uptimo/uptimo/internal/store"
)

// Retained data types.
const (
	TypeCheckResults     = "check_results"
	TypeIncidents        = "incidents"
	TypeNotificationLogs = "notification_logs"
)

// DefaultDays holds the default retention window per data type.
var DefaultDays = map[string]int{
	TypeCheckResults:     365,
	TypeIncidents:        730,
	TypeNotificationLogs: 90,
}

// Policy is the retention window for one data type.
type Policy struct {
	DataType  string    `json:"data_type"`
	Days      int       `json:"days"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Result summarizes one cleanup run for one data type.
type Result struct {
	DataType string `json:"data_type"`
	Deleted  int64  `json:"deleted"`
	Days     int    `json:"days"`
}

// Service runs scheduled and on-demand cleanup. Deletes are batched, each
// batch in its own transaction, so a large purge never holds the write lock
// for long.
type Service struct {
	db        *store.SQLiteStore
	monitors  *monitor.Store
	incidents *incident.Store
	notifs    *notify.Store
	logger    *zap.Logger

	batchSize int
	defaults  map[string]int
	cron      *cron.Cron
}

// New creates a retention service. defaults overrides the built-in retention
// windows per data type; nil keeps DefaultDays.
func New(db *store.SQLiteStore, monitors *monitor.Store, incidents *incident.Store, notifs *notify.Store, batchSize int, defaults map[string]int, logger *zap.Logger) *Service {
	if batchSize <= 0 {
		batchSize = 1000
	}
	merged := map[string]int{}
	for dt, days := range DefaultDays {
		merged[dt] = days
	}
	for dt, days := range defaults {
		if _, ok := merged[dt]; ok && days > 0 {
			merged[dt] = days
		}
	}
	return &Service{
		db:        db,
		monitors:  monitors,
		incidents: incidents,
		notifs:    notifs,
		logger:    logger,
		batchSize: batchSize,
		defaults:  merged,
	}
}

// Migrations returns the retention schema, applied under the "retention"
// component.
func Migrations() []store.Migration {
	return []store.Migration{
		{
			Version:     1,
			Description: "create retention policies table",
			Up: func(tx *sql.Tx) error {
				_, err := tx.Exec(`
					CREATE TABLE IF NOT EXISTS retention_policies (
						data_type  TEXT PRIMARY KEY,
						days       INTEGER NOT NULL,
						updated_at TIMESTAMP NOT NULL
					)
				`)
				return err
			},
		},
	}
}

// SetPolicy stores the retention window for a data type.
func (s *Service) SetPolicy(ctx context.Context, dataType string, days int) error {
	if _, ok := DefaultDays[dataType]; !ok {
		return fmt.Errorf("unknown data type %q", dataType)
	}
	if days < 1 {
		return fmt.Errorf("retention days must be at least 1, got %d", days)
	}
	_, err := s.db.DB().ExecContext(ctx, `
		INSERT INTO retention_policies (data_type, days, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(data_type) DO UPDATE SET days = excluded.days, updated_at = excluded.updated_at`,
		dataType, days, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set retention policy %s: %w", dataType, err)
	}
	return nil
}

// GetPolicy returns the policy for a data type, falling back to the default
// window when none is stored.
func (s *Service) GetPolicy(ctx context.Context, dataType string) (*Policy, error) {
	def, ok := s.defaults[dataType]
	if !ok {
		return nil, fmt.Errorf("unknown data type %q", dataType)
	}

	p := &Policy{DataType: dataType, Days: def}
	err := s.db.DB().QueryRowContext(ctx,
		`SELECT days, updated_at FROM retention_policies WHERE data_type = ?`,
		dataType).Scan(&p.Days, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get retention policy %s: %w", dataType, err)
	}
	return p, nil
}

// Cleanup deletes rows older than each type's retention window. An empty
// dataType cleans all types; daysOverride > 0 overrides the stored policy.
// A failure on one data type does not stop the sweep over the others; the
// joined errors are returned alongside the results of the types that ran.
// Running cleanup twice in a row deletes nothing the second time.
func (s *Service) Cleanup(ctx context.Context, dataType string, daysOverride int) ([]Result, error) {
	var results []Result
	var errs []error
	for _, dt := range s.targets(dataType) {
		days := daysOverride
		if days <= 0 {
			p, err := s.GetPolicy(ctx, dt)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			days = p.Days
		}
		cutoff := time.Now().UTC().AddDate(0, 0, -days)

		deleted, err := s.purge(ctx, dt, cutoff)
		if err != nil {
			s.logger.Error("retention cleanup failed",
				zap.String("data_type", dt),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("cleanup %s: %w", dt, err))
			continue
		}
		if deleted > 0 {
			s.logger.Info("retention cleanup",
				zap.String("data_type", dt),
				zap.Int64("deleted", deleted),
				zap.Time("cutoff", cutoff),
			)
		}
		results = append(results, Result{DataType: dt, Deleted: deleted, Days: days})
	}
	return results, errors.Join(errs...)
}

// Estimate reports how many rows a cleanup would delete without deleting
// anything.
func (s *Service) Estimate(ctx context.Context, dataType string, daysOverride int) ([]Result, error) {
	var results []Result
	for _, dt := range s.targets(dataType) {
		days := daysOverride
		if days <= 0 {
			p, err := s.GetPolicy(ctx, dt)
			if err != nil {
				return results, err
			}
			days = p.Days
		}
		cutoff := time.Now().UTC().AddDate(0, 0, -days)

		var n int64
		var err error
		switch dt {
		case TypeCheckResults:
			n, err = s.monitors.CountResultsBefore(ctx, cutoff)
		case TypeIncidents:
			n, err = s.incidents.CountResolvedBefore(ctx, cutoff)
		case TypeNotificationLogs:
			n, err = s.notifs.CountLogsBefore(ctx, cutoff)
		}
		if err != nil {
			return results, fmt.Errorf("estimate %s: %w", dt, err)
		}
		results = append(results, Result{DataType: dt, Deleted: n, Days: days})
	}
	return results, nil
}

// TypeStats describes the stored rows for one data type.
type TypeStats struct {
	DataType string     `json:"data_type"`
	Total    int64      `json:"total"`
	Oldest   *time.Time `json:"oldest,omitempty"`
	Newest   *time.Time `json:"newest,omitempty"`
	Days     int        `json:"days"`
}

// Stats reports row counts, age ranges, and the effective retention window
// per data type.
func (s *Service) Stats(ctx context.Context) ([]TypeStats, error) {
	var out []TypeStats
	for _, dt := range s.targets("") {
		var (
			total          int64
			oldest, newest *time.Time
			err            error
		)
		switch dt {
		case TypeCheckResults:
			total, oldest, newest, err = s.monitors.ResultStats(ctx)
		case TypeIncidents:
			total, oldest, newest, err = s.incidents.Stats(ctx)
		case TypeNotificationLogs:
			total, oldest, newest, err = s.notifs.LogStats(ctx)
		}
		if err != nil {
			return out, fmt.Errorf("stats %s: %w", dt, err)
		}
		p, err := s.GetPolicy(ctx, dt)
		if err != nil {
			return out, err
		}
		out = append(out, TypeStats{
			DataType: dt, Total: total, Oldest: oldest, Newest: newest, Days: p.Days,
		})
	}
	return out, nil
}

// purge deletes in batches, each batch in its own transaction, until no rows
// older than the cutoff remain.
func (s *Service) purge(ctx context.Context, dataType string, cutoff time.Time) (int64, error) {
	var total int64
	for {
		var deleted int64
		err := s.db.Tx(ctx, func(tx *sql.Tx) error {
			var err error
			switch dataType {
			case TypeCheckResults:
				deleted, err = s.monitors.DeleteResultsBefore(ctx, tx, cutoff, s.batchSize)
			case TypeIncidents:
				deleted, err = s.incidents.DeleteResolvedBefore(ctx, tx, cutoff, s.batchSize)
			case TypeNotificationLogs:
				deleted, err = s.notifs.DeleteLogsBefore(ctx, tx, cutoff, s.batchSize)
			default:
				err = fmt.Errorf("unknown data type %q", dataType)
			}
			return err
		})
		if err != nil {
			return total, err
		}
		total += deleted
		if deleted < int64(s.batchSize) {
			return total, nil
		}
	}
}

// StartSchedule runs Cleanup daily at runAt (HH:MM, local time).
func (s *Service) StartSchedule(ctx context.Context, runAt string) error {
	hour, minute, err := parseRunAt(runAt)
	if err != nil {
		return err
	}

	s.cron = cron.New()
	_, err = s.cron.AddFunc(fmt.Sprintf("%d %d * * *", minute, hour), func() {
		if _, err := s.Cleanup(ctx, "", 0); err != nil {
			s.logger.Error("scheduled retention cleanup failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule retention cleanup: %w", err)
	}
	s.cron.Start()
	s.logger.Info("retention schedule started", zap.String("run_at", runAt))
	return nil
}

// StopSchedule stops the cron loop and waits for a running job to finish.
func (s *Service) StopSchedule() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

func (s *Service) targets(dataType string) []string {
	if dataType != "" {
		return []string{dataType}
	}
	return []string{TypeCheckResults, TypeIncidents, TypeNotificationLogs}
}

func parseRunAt(runAt string) (hour, minute int, err error) {
	parts := strings.SplitN(runAt, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid run_at %q: want HH:MM", runAt)
	}
	if _, err := fmt.Sscanf(runAt, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid run_at %q: %w", runAt, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid run_at %q: out of range", runAt)
	}
	return hour, minute, nil
}
