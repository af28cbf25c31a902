package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/tarang-care/tarang-live/pkg/metrics"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Reason tells how a session finished.
type Reason string

const (
	// ReasonEnded is an explicit end by a participant.
	ReasonEnded Reason = "ended"
	// ReasonLeft is a teardown without an explicit end, such as process shutdown.
	ReasonLeft Reason = "left"
)

// SessionRecord is the persisted summary of a finished live session.
type SessionRecord struct {
	ID        string
	Room      string
	Role      string
	Reason    Reason
	PeerState string
	StartedAt time.Time
	EndedAt   time.Time
	Summary   metrics.Summary

	// Result is set once the screening endpoint has scored the session.
	Result *Result
}

// Duration is the wall time between start and end.
func (r *SessionRecord) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Result is the screening endpoint's response for a session.
type Result struct {
	RemoteID       string
	RiskScore      float64
	Confidence     string // e.g. "High (Signals Aligned)"
	Recommendation string
	ReportURL      string
	CreatedAt      time.Time
}

// SessionRepository provides operations on session records.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Save inserts a record, replacing any record with the same ID.
func (r *SessionRepository) Save(ctx context.Context, rec *SessionRecord) error {
	sum := rec.Summary
	_, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions
		 (id, room, role, reason, peer_state, started_at, ended_at,
		  samples, detected, eye_contact, motor_coordination, engagement)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Room, rec.Role, string(rec.Reason), rec.PeerState,
		rec.StartedAt.UnixMilli(), rec.EndedAt.UnixMilli(),
		sum.Samples, sum.Detected, sum.EyeContact, sum.MotorStability, sum.Engagement,
	)
	return err
}

// SetResult stores the screening result of a saved session.
func (r *SessionRepository) SetResult(ctx context.Context, sessionID string, res Result) error {
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now()
	}
	result, err := r.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO screening_results
		 (session_id, remote_id, risk_score, confidence, recommendation, report_url, created_at)
		 SELECT ?, ?, ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM sessions WHERE id = ?)`,
		sessionID, res.RemoteID, res.RiskScore, res.Confidence, res.Recommendation, res.ReportURL,
		res.CreatedAt.UnixMilli(), sessionID,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const selectSession = `SELECT s.id, s.room, s.role, s.reason, s.peer_state, s.started_at, s.ended_at,
	s.samples, s.detected, s.eye_contact, s.motor_coordination, s.engagement,
	r.remote_id, r.risk_score, r.confidence, r.recommendation, r.report_url, r.created_at
	FROM sessions s LEFT JOIN screening_results r ON r.session_id = s.id`

// Get retrieves a session record by ID.
func (r *SessionRepository) Get(ctx context.Context, id string) (*SessionRecord, error) {
	rec, err := scanSession(r.db.QueryRowContext(ctx, selectSession+` WHERE s.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

// List returns the most recent records first. limit <= 0 means no limit.
func (r *SessionRepository) List(ctx context.Context, limit int) ([]*SessionRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.QueryContext(ctx, selectSession+` ORDER BY s.ended_at DESC, s.id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Delete removes a session record and its result.
func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM screening_results WHERE session_id = ?`, id); err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*SessionRecord, error) {
	var (
		rec            SessionRecord
		reason         string
		started, ended int64
		remoteID       sql.NullString
		recommendation sql.NullString
		reportURL      sql.NullString
		risk           sql.NullFloat64
		confidence     sql.NullString
		createdAt      sql.NullInt64
	)
	err := row.Scan(
		&rec.ID, &rec.Room, &rec.Role, &reason, &rec.PeerState, &started, &ended,
		&rec.Summary.Samples, &rec.Summary.Detected,
		&rec.Summary.EyeContact, &rec.Summary.MotorStability, &rec.Summary.Engagement,
		&remoteID, &risk, &confidence, &recommendation, &reportURL, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Reason = Reason(reason)
	rec.StartedAt = time.UnixMilli(started)
	rec.EndedAt = time.UnixMilli(ended)
	if risk.Valid {
		rec.Result = &Result{
			RemoteID:       remoteID.String,
			RiskScore:      risk.Float64,
			Confidence:     confidence.String,
			Recommendation: recommendation.String,
			ReportURL:      reportURL.String,
			CreatedAt:      time.UnixMilli(createdAt.Int64),
		}
	}
	return &rec, nil
}
