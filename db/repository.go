package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DefaultQueryLimit caps list queries when the caller passes a limit <= 0.
const DefaultQueryLimit = 100

// GenerationEvent is one response received from the generator service.
type GenerationEvent struct {
	ID         int64
	SessionID  string
	ObjectID   string
	UserID     string
	Executor   string
	GenType    string
	Status     string
	AvgTime    *float64 // Estimate in seconds, sent with queued responses
	Content    string   // Result URL for done, error text for error
	FileName   string
	Premium    bool
	ReceivedAt time.Time
}

// ConnectionEvent records a connection loss or establishment.
type ConnectionEvent struct {
	ID         int64
	SessionID  string
	Event      string
	Detail     string
	OccurredAt time.Time
}

// Connection event names.
const (
	ConnectionEstablished = "connected"
	ConnectionLost        = "lost"
)

// EstimateReport compares the service's queue estimate for one generation
// with the observed time from queued to done.
type EstimateReport struct {
	ObjectID string
	UserID   string
	Executor string
	Estimate float64 // seconds
	Actual   float64 // seconds
}

// Error is Estimate minus Actual. Positive means the service overestimated.
func (r EstimateReport) Error() float64 {
	return r.Estimate - r.Actual
}

// Repository runs the journal's SQL.
type Repository struct {
	db *Database
}

// NewRepository wraps an open Database.
func NewRepository(db *Database) *Repository {
	return &Repository{db: db}
}

// InsertGenerationEvent stores ev and returns its row id.
func (r *Repository) InsertGenerationEvent(ctx context.Context, ev GenerationEvent) (int64, error) {
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	var avg sql.NullFloat64
	if ev.AvgTime != nil {
		avg = sql.NullFloat64{Float64: *ev.AvgTime, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO generation_events (
			session_id, object_id, user_id, executor, gen_type, status,
			avg_time, content, file_name, premium, received_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.SessionID, ev.ObjectID, ev.UserID, ev.Executor, ev.GenType, ev.Status,
		avg, ev.Content, ev.FileName, ev.Premium, ev.ReceivedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert generation event: %w", err)
	}
	return res.LastInsertId()
}

// InsertConnectionEvent stores ev and returns its row id.
func (r *Repository) InsertConnectionEvent(ctx context.Context, ev ConnectionEvent) (int64, error) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO connection_events (session_id, event, detail, occurred_ms)
		VALUES (?, ?, ?, ?)`,
		ev.SessionID, ev.Event, ev.Detail, ev.OccurredAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert connection event: %w", err)
	}
	return res.LastInsertId()
}

// EventsForUser returns the most recent events of one user, newest first.
func (r *Repository) EventsForUser(ctx context.Context, userID string, limit int) ([]GenerationEvent, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, object_id, user_id, executor, gen_type, status,
		       avg_time, content, file_name, premium, received_ms
		FROM generation_events
		WHERE user_id = ?
		ORDER BY received_ms DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query generation events: %w", err)
	}
	defer rows.Close()

	var out []GenerationEvent
	for rows.Next() {
		var (
			ev  GenerationEvent
			avg sql.NullFloat64
			ms  int64
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.ObjectID, &ev.UserID, &ev.Executor,
			&ev.GenType, &ev.Status, &avg, &ev.Content, &ev.FileName, &ev.Premium, &ms); err != nil {
			return nil, fmt.Errorf("failed to scan generation event: %w", err)
		}
		if avg.Valid {
			v := avg.Float64
			ev.AvgTime = &v
		}
		ev.ReceivedAt = time.UnixMilli(ms)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// EstimateReports pairs the first queued event carrying an estimate with
// the first done event of the same object, newest completions first.
func (r *Repository) EstimateReports(ctx context.Context, limit int) ([]EstimateReport, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT q.object_id, q.user_id, q.executor, q.avg_time, q.first_ms, d.first_ms
		FROM (
			SELECT object_id, user_id, executor, avg_time, MIN(received_ms) AS first_ms
			FROM generation_events
			WHERE status = 'queued' AND avg_time IS NOT NULL AND object_id != ''
			GROUP BY object_id
		) q
		JOIN (
			SELECT object_id, MIN(received_ms) AS first_ms
			FROM generation_events
			WHERE status = 'done' AND object_id != ''
			GROUP BY object_id
		) d ON d.object_id = q.object_id
		ORDER BY d.first_ms DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query estimate reports: %w", err)
	}
	defer rows.Close()

	var out []EstimateReport
	for rows.Next() {
		var (
			rep              EstimateReport
			queuedMS, doneMS int64
		)
		if err := rows.Scan(&rep.ObjectID, &rep.UserID, &rep.Executor, &rep.Estimate, &queuedMS, &doneMS); err != nil {
			return nil, fmt.Errorf("failed to scan estimate report: %w", err)
		}
		rep.Actual = float64(doneMS-queuedMS) / 1000
		out = append(out, rep)
	}
	return out, rows.Err()
}

// CountConnectionEvents returns how many events named event were stored.
func (r *Repository) CountConnectionEvents(ctx context.Context, event string) (int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT COUNT(*) FROM connection_events WHERE event = ?`, event)
	if err != nil {
		return 0, fmt.Errorf("failed to count connection events: %w", err)
	}
	defer rows.Close()
	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, rows.Err()
}

// PruneBefore deletes journal rows older than cutoff and returns the number
// of generation events removed.
func (r *Repository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ms := cutoff.UnixMilli()
	res, err := r.db.ExecContext(ctx, `DELETE FROM generation_events WHERE received_ms < ?`, ms)
	if err != nil {
		return 0, fmt.Errorf("failed to prune generation events: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM connection_events WHERE occurred_ms < ?`, ms); err != nil {
		return 0, fmt.Errorf("failed to prune connection events: %w", err)
	}
	return res.RowsAffected()
}
