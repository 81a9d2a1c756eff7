package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Store provides database access for monitors and check results.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const monitorColumns = `id, name, type, target, check_interval_seconds, timeout_seconds,
	active, debounce_count, config, last_tls_check, last_domain_check,
	domain_check_failed, created_at, updated_at`

// Insert persists a new monitor and assigns its ID.
func (s *Store) Insert(ctx context.Context, m *Monitor) error {
	cfg, err := m.encodeConfig()
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO monitors (
			name, type, target, check_interval_seconds, timeout_seconds,
			active, debounce_count, config, domain_check_failed, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Name, string(m.Type), m.Target,
		int(m.CheckInterval.Seconds()), int(m.Timeout.Seconds()),
		boolToInt(m.Active), m.Debounce(), cfg,
		boolToInt(m.DomainCheckFailed), m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert monitor: %w", err)
	}
	m.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert monitor id: %w", err)
	}
	return nil
}

// Update rewrites all mutable fields of a monitor.
func (s *Store) Update(ctx context.Context, m *Monitor) error {
	cfg, err := m.encodeConfig()
	if err != nil {
		return err
	}
	m.UpdatedAt = time.Now().UTC()

	_, err = s.db.ExecContext(ctx, `
		UPDATE monitors SET
			name = ?, type = ?, target = ?, check_interval_seconds = ?,
			timeout_seconds = ?, active = ?, debounce_count = ?, config = ?,
			updated_at = ?
		WHERE id = ?`,
		m.Name, string(m.Type), m.Target,
		int(m.CheckInterval.Seconds()), int(m.Timeout.Seconds()),
		boolToInt(m.Active), m.Debounce(), cfg, m.UpdatedAt, m.ID,
	)
	if err != nil {
		return fmt.Errorf("update monitor %d: %w", m.ID, err)
	}
	return nil
}

// Get returns a monitor by ID. Returns nil, nil if not found.
func (s *Store) Get(ctx context.Context, id int64) (*Monitor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+monitorColumns+` FROM monitors WHERE id = ?`, id)
	m, err := scanMonitor(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get monitor %d: %w", id, err)
	}
	return m, nil
}

// ListActive returns all active monitors ordered by creation time.
func (s *Store) ListActive(ctx context.Context) ([]Monitor, error) {
	return s.list(ctx, `SELECT `+monitorColumns+` FROM monitors WHERE active = 1 ORDER BY created_at`)
}

// List returns all monitors ordered by creation time.
func (s *Store) List(ctx context.Context) ([]Monitor, error) {
	return s.list(ctx, `SELECT `+monitorColumns+` FROM monitors ORDER BY created_at`)
}

func (s *Store) list(ctx context.Context, query string) ([]Monitor, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list monitors: %w", err)
	}
	defer rows.Close()

	var monitors []Monitor
	for rows.Next() {
		m, err := scanMonitor(rows)
		if err != nil {
			return nil, fmt.Errorf("scan monitor row: %w", err)
		}
		monitors = append(monitors, *m)
	}
	return monitors, rows.Err()
}

// Delete removes a monitor; check results cascade.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM monitors WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete monitor %d: %w", id, err)
	}
	return nil
}

// SetActive pauses or resumes a monitor.
func (s *Store) SetActive(ctx context.Context, id int64, active bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE monitors SET active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set monitor %d active: %w", id, err)
	}
	return nil
}

// MarkTLSCheck records when TLS certificate data was last collected.
func (s *Store) MarkTLSCheck(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE monitors SET last_tls_check = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("mark tls check %d: %w", id, err)
	}
	return nil
}

// MarkDomainCheck records when domain data was last collected, and whether
// the lookup failed (e.g. raw IP targets, which never resolve via WHOIS).
func (s *Store) MarkDomainCheck(ctx context.Context, id int64, at time.Time, failed bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE monitors SET last_domain_check = ?, domain_check_failed = ? WHERE id = ?`,
		at, boolToInt(failed), id)
	if err != nil {
		return fmt.Errorf("mark domain check %d: %w", id, err)
	}
	return nil
}

// -- Check results --

// InsertResult appends a check result. Results are immutable once written.
func (s *Store) InsertResult(ctx context.Context, r *CheckResult) error {
	var extra sql.NullString
	if len(r.Extra) > 0 {
		b, err := json.Marshal(r.Extra)
		if err != nil {
			return fmt.Errorf("marshal result extra: %w", err)
		}
		extra = sql.NullString{String: string(b), Valid: true}
	}

	var rt sql.NullFloat64
	if r.ResponseTimeMs != nil {
		rt = sql.NullFloat64{Float64: *r.ResponseTimeMs, Valid: true}
	}
	var code sql.NullInt64
	if r.StatusCode != nil {
		code = sql.NullInt64{Int64: int64(*r.StatusCode), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO check_results (
			monitor_id, timestamp, status, response_time_ms, status_code,
			error_kind, error_message, extra
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.MonitorID, r.Timestamp, string(r.Status), rt, code,
		nullString(r.ErrorKind), nullString(r.ErrorMessage), extra,
	)
	if err != nil {
		return fmt.Errorf("insert check result: %w", err)
	}
	r.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert check result id: %w", err)
	}
	return nil
}

const resultColumns = `id, monitor_id, timestamp, status, response_time_ms,
	status_code, error_kind, error_message, extra`

// LatestResult returns the most recent result for a monitor. Returns nil, nil
// if the monitor has never been checked.
func (s *Store) LatestResult(ctx context.Context, monitorID int64) (*CheckResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+resultColumns+` FROM check_results
		WHERE monitor_id = ? ORDER BY timestamp DESC, id DESC LIMIT 1`,
		monitorID,
	)
	r, err := scanResult(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("latest result for monitor %d: %w", monitorID, err)
	}
	return r, nil
}

// ListResults returns results for a monitor, newest first. If limit <= 0,
// defaults to 100.
func (s *Store) ListResults(ctx context.Context, monitorID int64, limit int) ([]CheckResult, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+resultColumns+` FROM check_results
		WHERE monitor_id = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		monitorID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()
	return collectResults(rows)
}

// ListResultsSince returns results for a monitor at or after the given time,
// oldest first.
func (s *Store) ListResultsSince(ctx context.Context, monitorID int64, since time.Time) ([]CheckResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+resultColumns+` FROM check_results
		WHERE monitor_id = ? AND timestamp >= ? ORDER BY timestamp, id`,
		monitorID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("list results since: %w", err)
	}
	defer rows.Close()
	return collectResults(rows)
}

// UptimePercent returns the percentage of up results over total results in
// the trailing window, rounded to two decimals. Returns 0 with no data.
func (s *Store) UptimePercent(ctx context.Context, monitorID int64, since time.Time) (float64, error) {
	var total, up int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = 'up' THEN 1 ELSE 0 END), 0)
		FROM check_results WHERE monitor_id = ? AND timestamp >= ?`,
		monitorID, since,
	).Scan(&total, &up)
	if err != nil {
		return 0, fmt.Errorf("uptime percent for monitor %d: %w", monitorID, err)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(int(float64(up)/float64(total)*10000+0.5)) / 100, nil
}

// AverageResponseTime returns the mean response time of up results in the
// trailing window, in milliseconds. Returns 0 with no data.
func (s *Store) AverageResponseTime(ctx context.Context, monitorID int64, since time.Time) (float64, error) {
	var avg sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT AVG(response_time_ms) FROM check_results
		WHERE monitor_id = ? AND timestamp >= ? AND status = 'up'
		AND response_time_ms IS NOT NULL`,
		monitorID, since,
	).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("average response time for monitor %d: %w", monitorID, err)
	}
	return avg.Float64, nil
}

// CountResultsBefore returns how many results are strictly older than cutoff.
func (s *Store) CountResultsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM check_results WHERE timestamp < ?`, cutoff,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count results before: %w", err)
	}
	return n, nil
}

// DeleteResultsBefore deletes up to batch results strictly older than cutoff
// inside the given transaction. Returns the number of rows deleted.
func (s *Store) DeleteResultsBefore(ctx context.Context, tx *sql.Tx, cutoff time.Time, batch int) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		DELETE FROM check_results WHERE id IN (
			SELECT id FROM check_results WHERE timestamp < ? LIMIT ?
		)`, cutoff, batch)
	if err != nil {
		return 0, fmt.Errorf("delete old results: %w", err)
	}
	return res.RowsAffected()
}

// ResultStats returns total count and oldest/newest timestamps for check results.
func (s *Store) ResultStats(ctx context.Context) (total int64, oldest, newest *time.Time, err error) {
	var o, n sql.NullTime
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(timestamp), MAX(timestamp) FROM check_results`,
	).Scan(&total, &o, &n)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("result stats: %w", err)
	}
	if o.Valid {
		oldest = &o.Time
	}
	if n.Valid {
		newest = &n.Time
	}
	return total, oldest, newest, nil
}

// -- scan helpers --

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMonitor(row rowScanner) (*Monitor, error) {
	var m Monitor
	var (
		typ, cfg                      string
		intervalSec, timeoutSec       int
		activeInt, debounce, dcFailed int
		lastTLS, lastDomain           sql.NullTime
	)
	err := row.Scan(
		&m.ID, &m.Name, &typ, &m.Target, &intervalSec, &timeoutSec,
		&activeInt, &debounce, &cfg, &lastTLS, &lastDomain,
		&dcFailed, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.Type = Type(typ)
	m.CheckInterval = time.Duration(intervalSec) * time.Second
	m.Timeout = time.Duration(timeoutSec) * time.Second
	m.Active = activeInt != 0
	m.DebounceCount = debounce
	m.DomainCheckFailed = dcFailed != 0
	if lastTLS.Valid {
		t := lastTLS.Time
		m.LastTLSCheck = &t
	}
	if lastDomain.Valid {
		t := lastDomain.Time
		m.LastDomainCheck = &t
	}
	if err := m.decodeConfig(cfg); err != nil {
		return nil, fmt.Errorf("decode config for monitor %d: %w", m.ID, err)
	}
	return &m, nil
}

func scanResult(row rowScanner) (*CheckResult, error) {
	var r CheckResult
	var (
		status     string
		rt         sql.NullFloat64
		code       sql.NullInt64
		kind, msg  sql.NullString
		extra      sql.NullString
	)
	err := row.Scan(
		&r.ID, &r.MonitorID, &r.Timestamp, &status, &rt, &code, &kind, &msg, &extra,
	)
	if err != nil {
		return nil, err
	}
	r.Status = Status(status)
	if rt.Valid {
		v := rt.Float64
		r.ResponseTimeMs = &v
	}
	if code.Valid {
		v := int(code.Int64)
		r.StatusCode = &v
	}
	r.ErrorKind = kind.String
	r.ErrorMessage = msg.String
	if extra.Valid && extra.String != "" {
		if err := json.Unmarshal([]byte(extra.String), &r.Extra); err != nil {
			return nil, fmt.Errorf("decode result extra: %w", err)
		}
	}
	return &r, nil
}

func collectResults(rows *sql.Rows) ([]CheckResult, error) {
	var results []CheckResult
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		results = append(results, *r)
	}
	return results, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
