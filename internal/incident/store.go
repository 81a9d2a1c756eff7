package incident

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store provides incident persistence on the shared SQLite database.
type Store struct {
	db *sql.DB
}

// NewStore creates an incident store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert persists a new incident.
func (s *Store) Insert(ctx context.Context, in *Incident) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incidents (id, monitor_id, started_at, resolved_at, status, description, is_viewed)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.MonitorID, in.StartedAt, in.ResolvedAt, in.Status, in.Description, boolToInt(in.IsViewed),
	)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

// Resolve marks the incident resolved at the given time. Resolving an
// already-resolved incident is a no-op.
func (s *Store) Resolve(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE incidents SET resolved_at = ?, status = ?
		WHERE id = ? AND status = ?`,
		at, StatusResolved, id, StatusActive,
	)
	if err != nil {
		return fmt.Errorf("resolve incident %s: %w", id, err)
	}
	return nil
}

// Get returns an incident by ID, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*Incident, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, monitor_id, started_at, resolved_at, status, description, is_viewed
		FROM incidents WHERE id = ?`, id)
	in, err := scanIncident(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get incident %s: %w", id, err)
	}
	return in, nil
}

// GetActive returns the monitor's open incident, or nil when the monitor is
// healthy.
func (s *Store) GetActive(ctx context.Context, monitorID int64) (*Incident, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, monitor_id, started_at, resolved_at, status, description, is_viewed
		FROM incidents WHERE monitor_id = ? AND status = ?
		ORDER BY started_at DESC LIMIT 1`, monitorID, StatusActive)
	in, err := scanIncident(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active incident for monitor %d: %w", monitorID, err)
	}
	return in, nil
}

// List returns the monitor's incidents, newest first.
func (s *Store) List(ctx context.Context, monitorID int64, limit int) ([]*Incident, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, monitor_id, started_at, resolved_at, status, description, is_viewed
		FROM incidents WHERE monitor_id = ?
		ORDER BY started_at DESC LIMIT ?`, monitorID, limit)
	if err != nil {
		return nil, fmt.Errorf("list incidents: %w", err)
	}
	defer rows.Close()
	return collectIncidents(rows)
}

// ListActive returns all open incidents across monitors.
func (s *Store) ListActive(ctx context.Context) ([]*Incident, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, monitor_id, started_at, resolved_at, status, description, is_viewed
		FROM incidents WHERE status = ? ORDER BY started_at DESC`, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("list active incidents: %w", err)
	}
	defer rows.Close()
	return collectIncidents(rows)
}

// CountActive returns the number of open incidents.
func (s *Store) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM incidents WHERE status = ?`, StatusActive).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active incidents: %w", err)
	}
	return n, nil
}

// MarkViewed flags an incident as seen.
func (s *Store) MarkViewed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE incidents SET is_viewed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark incident viewed %s: %w", id, err)
	}
	return nil
}

// CountResolvedBefore counts resolved incidents that ended strictly before
// the cutoff.
func (s *Store) CountResolvedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM incidents
		WHERE status = ? AND resolved_at IS NOT NULL AND resolved_at < ?`,
		StatusResolved, cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count resolved incidents: %w", err)
	}
	return n, nil
}

// DeleteResolvedBefore removes up to batch resolved incidents that ended
// strictly before the cutoff. Active incidents are never deleted.
func (s *Store) DeleteResolvedBefore(ctx context.Context, tx *sql.Tx, cutoff time.Time, batch int) (int64, error) {
	if batch <= 0 {
		batch = 1000
	}
	res, err := tx.ExecContext(ctx, `
		DELETE FROM incidents WHERE id IN (
			SELECT id FROM incidents
			WHERE status = ? AND resolved_at IS NOT NULL AND resolved_at < ?
			LIMIT ?
		)`, StatusResolved, cutoff, batch)
	if err != nil {
		return 0, fmt.Errorf("delete resolved incidents: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns the incident row count and the started_at range.
func (s *Store) Stats(ctx context.Context) (total int64, oldest, newest *time.Time, err error) {
	var lo, hi sql.NullTime
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(started_at), MAX(started_at) FROM incidents`).Scan(&total, &lo, &hi)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("incident stats: %w", err)
	}
	if lo.Valid {
		oldest = &lo.Time
	}
	if hi.Valid {
		newest = &hi.Time
	}
	return total, oldest, newest, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*Incident, error) {
	var in Incident
	var resolved sql.NullTime
	var viewed int
	if err := row.Scan(&in.ID, &in.MonitorID, &in.StartedAt, &resolved, &in.Status, &in.Description, &viewed); err != nil {
		return nil, err
	}
	if resolved.Valid {
		t := resolved.Time
		in.ResolvedAt = &t
	}
	in.IsViewed = viewed != 0
	return &in, nil
}

func collectIncidents(rows *sql.Rows) ([]*Incident, error) {
	var out []*Incident
	for rows.Next() {
		in, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
