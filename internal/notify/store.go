package notify

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store provides channel, binding, and delivery-log persistence.
type Store struct {
	db *sql.DB
}

// NewStore creates a notification store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// InsertChannel persists a new channel.
func (s *Store) InsertChannel(ctx context.Context, c *Channel) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_channels (id, name, type, config, enabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Type, c.Config, boolToInt(c.Enabled), c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert channel: %w", err)
	}
	return nil
}

// UpdateChannel rewrites a channel's settings.
func (s *Store) UpdateChannel(ctx context.Context, c *Channel) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notification_channels SET name = ?, type = ?, config = ?, enabled = ?
		WHERE id = ?`,
		c.Name, c.Type, c.Config, boolToInt(c.Enabled), c.ID,
	)
	if err != nil {
		return fmt.Errorf("update channel %s: %w", c.ID, err)
	}
	return nil
}

// GetChannel returns a channel by ID, or nil when it does not exist.
func (s *Store) GetChannel(ctx context.Context, id string) (*Channel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, config, enabled, created_at
		FROM notification_channels WHERE id = ?`, id)
	c, err := scanChannel(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get channel %s: %w", id, err)
	}
	return c, nil
}

// ListChannels returns all channels.
func (s *Store) ListChannels(ctx context.Context) ([]*Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, config, enabled, created_at
		FROM notification_channels ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var out []*Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteChannel removes a channel and its bindings.
func (s *Store) DeleteChannel(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM notification_channels WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete channel %s: %w", id, err)
	}
	return nil
}

// Bind attaches a channel to a monitor, replacing any existing binding for
// the pair.
func (s *Store) Bind(ctx context.Context, b *Binding) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitor_channels (monitor_id, channel_id, notify_on_down, notify_on_up, escalate_after_minutes)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(monitor_id, channel_id) DO UPDATE SET
			notify_on_down = excluded.notify_on_down,
			notify_on_up = excluded.notify_on_up,
			escalate_after_minutes = excluded.escalate_after_minutes`,
		b.MonitorID, b.ChannelID, boolToInt(b.NotifyOnDown), boolToInt(b.NotifyOnUp), b.EscalateAfterMinutes,
	)
	if err != nil {
		return fmt.Errorf("bind channel %s to monitor %d: %w", b.ChannelID, b.MonitorID, err)
	}
	return nil
}

// Unbind detaches a channel from a monitor.
func (s *Store) Unbind(ctx context.Context, monitorID int64, channelID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM monitor_channels WHERE monitor_id = ? AND channel_id = ?`,
		monitorID, channelID)
	if err != nil {
		return fmt.Errorf("unbind channel %s from monitor %d: %w", channelID, monitorID, err)
	}
	return nil
}

// BindingsForMonitor returns the monitor's bindings whose channels are
// enabled, joined with the channel rows.
func (s *Store) BindingsForMonitor(ctx context.Context, monitorID int64) ([]*Binding, []*Channel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT mc.monitor_id, mc.channel_id, mc.notify_on_down, mc.notify_on_up, mc.escalate_after_minutes,
		       nc.id, nc.name, nc.type, nc.config, nc.enabled, nc.created_at
		FROM monitor_channels mc
		JOIN notification_channels nc ON nc.id = mc.channel_id
		WHERE mc.monitor_id = ? AND nc.enabled = 1`, monitorID)
	if err != nil {
		return nil, nil, fmt.Errorf("list bindings for monitor %d: %w", monitorID, err)
	}
	defer rows.Close()

	var bindings []*Binding
	var channels []*Channel
	for rows.Next() {
		var b Binding
		var c Channel
		var bDown, bUp, cEnabled int
		if err := rows.Scan(
			&b.MonitorID, &b.ChannelID, &bDown, &bUp, &b.EscalateAfterMinutes,
			&c.ID, &c.Name, &c.Type, &c.Config, &cEnabled, &c.CreatedAt,
		); err != nil {
			return nil, nil, fmt.Errorf("scan binding: %w", err)
		}
		b.NotifyOnDown = bDown != 0
		b.NotifyOnUp = bUp != 0
		c.Enabled = cEnabled != 0
		bindings = append(bindings, &b)
		channels = append(channels, &c)
	}
	return bindings, channels, rows.Err()
}

// InsertLog records a delivery attempt.
func (s *Store) InsertLog(ctx context.Context, e *LogEntry) error {
	if e.SentAt.IsZero() {
		e.SentAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_logs (incident_id, channel_id, monitor_id, kind, success, error, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.IncidentID, e.ChannelID, e.MonitorID, e.Kind, boolToInt(e.Success), e.Error, e.SentAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification log: %w", err)
	}
	e.ID, _ = res.LastInsertId()
	return nil
}

// ListLogs returns recent delivery attempts, newest first.
func (s *Store) ListLogs(ctx context.Context, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_id, channel_id, monitor_id, kind, success, error, sent_at
		FROM notification_logs ORDER BY sent_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list notification logs: %w", err)
	}
	defer rows.Close()

	var out []*LogEntry
	for rows.Next() {
		var e LogEntry
		var success int
		if err := rows.Scan(&e.ID, &e.IncidentID, &e.ChannelID, &e.MonitorID, &e.Kind, &success, &e.Error, &e.SentAt); err != nil {
			return nil, fmt.Errorf("scan notification log: %w", err)
		}
		e.Success = success != 0
		out = append(out, &e)
	}
	return out, rows.Err()
}

// LogsForIncident returns all delivery attempts for one incident.
func (s *Store) LogsForIncident(ctx context.Context, incidentID string) ([]*LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_id, channel_id, monitor_id, kind, success, error, sent_at
		FROM notification_logs WHERE incident_id = ? ORDER BY sent_at`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list logs for incident %s: %w", incidentID, err)
	}
	defer rows.Close()

	var out []*LogEntry
	for rows.Next() {
		var e LogEntry
		var success int
		if err := rows.Scan(&e.ID, &e.IncidentID, &e.ChannelID, &e.MonitorID, &e.Kind, &success, &e.Error, &e.SentAt); err != nil {
			return nil, fmt.Errorf("scan notification log: %w", err)
		}
		e.Success = success != 0
		out = append(out, &e)
	}
	return out, rows.Err()
}

// HasEscalation reports whether an escalation was already logged for the
// incident/channel pair.
func (s *Store) HasEscalation(ctx context.Context, incidentID, channelID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notification_logs
		WHERE incident_id = ? AND channel_id = ? AND kind = ?`,
		incidentID, channelID, KindEscalation,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check escalation log for incident %s: %w", incidentID, err)
	}
	return n > 0, nil
}

// CountLogsBefore counts log entries sent strictly before the cutoff.
func (s *Store) CountLogsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notification_logs WHERE sent_at < ?`, cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count notification logs: %w", err)
	}
	return n, nil
}

// DeleteLogsBefore removes up to batch log entries sent strictly before the
// cutoff.
func (s *Store) DeleteLogsBefore(ctx context.Context, tx *sql.Tx, cutoff time.Time, batch int) (int64, error) {
	if batch <= 0 {
		batch = 1000
	}
	res, err := tx.ExecContext(ctx, `
		DELETE FROM notification_logs WHERE id IN (
			SELECT id FROM notification_logs WHERE sent_at < ? LIMIT ?
		)`, cutoff, batch)
	if err != nil {
		return 0, fmt.Errorf("delete notification logs: %w", err)
	}
	return res.RowsAffected()
}

// LogStats returns the delivery-log row count and the sent_at range.
func (s *Store) LogStats(ctx context.Context) (total int64, oldest, newest *time.Time, err error) {
	var lo, hi sql.NullTime
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), MIN(sent_at), MAX(sent_at) FROM notification_logs`).Scan(&total, &lo, &hi)
	if err != nil {
		return 0, nil, nil, fmt.Errorf("notification log stats: %w", err)
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

func scanChannel(row rowScanner) (*Channel, error) {
	var c Channel
	var enabled int
	if err := row.Scan(&c.ID, &c.Name, &c.Type, &c.Config, &enabled, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Enabled = enabled != 0
	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
