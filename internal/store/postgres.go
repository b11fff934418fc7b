package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/XlinCLab/Baum2025-PCIBEX/internal/experiment"
)

var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) CreateResearcher(ctx context.Context, researcher Researcher) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO researchers (id, email, display_name, password_hash, role)
		VALUES ($1, LOWER($2), $3, $4, $5)
	`, researcher.ID, researcher.Email, researcher.DisplayName, researcher.PasswordHash, researcher.Role)
	if err != nil {
		return fmt.Errorf("insert researcher: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetResearcherByEmail(ctx context.Context, email string) (Researcher, error) {
	return s.getResearcher(ctx, `WHERE email = LOWER($1)`, strings.TrimSpace(email))
}

func (s *PostgresStore) GetResearcherByID(ctx context.Context, researcherID string) (Researcher, error) {
	return s.getResearcher(ctx, `WHERE id = $1`, researcherID)
}

func (s *PostgresStore) getResearcher(ctx context.Context, where string, arg string) (Researcher, error) {
	var researcher Researcher
	var deactivated sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, password_hash, role, deactivated_at, created_at, updated_at
		FROM researchers `+where, arg).Scan(
		&researcher.ID,
		&researcher.Email,
		&researcher.DisplayName,
		&researcher.PasswordHash,
		&researcher.Role,
		&deactivated,
		&researcher.CreatedAt,
		&researcher.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Researcher{}, ErrNotFound
	}
	if err != nil {
		return Researcher{}, fmt.Errorf("read researcher: %w", err)
	}
	if deactivated.Valid {
		researcher.DeactivatedAt = &deactivated.Time
	}
	return researcher, nil
}

func (s *PostgresStore) CountResearchers(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM researchers`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count researchers: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) InsertSession(ctx context.Context, session Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, experiment, status, total, started_at)
		VALUES ($1, $2, $3, $4, $5)
	`, session.ID, session.Experiment, SessionRunning, session.Total, session.StartedAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// SubmitResults stores the session summary and its records in one
// transaction. Records already stored for the session are kept as they are.
func (s *PostgresStore) SubmitResults(ctx context.Context, submission Submission) error {
	session := submission.Session
	demographics, err := json.Marshal(nonNilMap(session.Demographics))
	if err != nil {
		return fmt.Errorf("encode demographics: %w", err)
	}
	timestamps, err := json.Marshal(nonNilSlice(session.Timestamps))
	if err != nil {
		return fmt.Errorf("encode timestamps: %w", err)
	}
	warnings, err := json.Marshal(nonNilSlice(session.Warnings))
	if err != nil {
		return fmt.Errorf("encode warnings: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin submit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET status = $2, demographics = $3::jsonb, timestamps = $4::jsonb, warnings = $5::jsonb,
			progress = $6, total = $7, submitted_at = COALESCE(submitted_at, NOW())
		WHERE id = $1
	`, session.ID, SessionSubmitted, string(demographics), string(timestamps), string(warnings), session.Progress, session.Total)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("submit session %s: %w", session.ID, ErrNotFound)
	}

	for seq, record := range submission.Records {
		fields, err := json.Marshal(nonNilSlice(record.Fields))
		if err != nil {
			return fmt.Errorf("encode fields: %w", err)
		}
		readings, err := json.Marshal(nonNilSlice(record.Readings))
		if err != nil {
			return fmt.Errorf("encode readings: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO trial_records (session_id, seq, trial_id, label, countable, fields, readings, committed_at)
			VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8)
			ON CONFLICT (session_id, trial_id) DO NOTHING
		`, session.ID, seq, record.TrialID, record.Label, record.Countable, string(fields), string(readings), record.CommittedAt); err != nil {
			return fmt.Errorf("insert trial record %s: %w", record.TrialID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit submit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkSessionFinished(ctx context.Context, sessionID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = $2, finished_at = $3 WHERE id = $1 AND finished_at IS NULL
	`, sessionID, SessionFinished, at)
	if err != nil {
		return fmt.Errorf("finish session: %w", err)
	}
	return nil
}

const sessionColumns = `
	s.id, s.experiment, s.status, s.demographics, s.timestamps, s.warnings, s.progress, s.total,
	(SELECT COUNT(*) FROM trial_records tr WHERE tr.session_id = s.id),
	s.started_at, s.submitted_at, s.finished_at`

func (s *PostgresStore) ListSessions(ctx context.Context, status string, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions s
		WHERE ($1 = '' OR s.status = $1)
		ORDER BY s.started_at DESC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE s.id = $1`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return session, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var session Session
	var demographics, timestamps, warnings []byte
	var submitted, finished sql.NullTime
	err := row.Scan(
		&session.ID,
		&session.Experiment,
		&session.Status,
		&demographics,
		&timestamps,
		&warnings,
		&session.Progress,
		&session.Total,
		&session.RecordCount,
		&session.StartedAt,
		&submitted,
		&finished,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	if err := json.Unmarshal(demographics, &session.Demographics); err != nil {
		return Session{}, fmt.Errorf("decode demographics: %w", err)
	}
	if err := json.Unmarshal(timestamps, &session.Timestamps); err != nil {
		return Session{}, fmt.Errorf("decode timestamps: %w", err)
	}
	if err := json.Unmarshal(warnings, &session.Warnings); err != nil {
		return Session{}, fmt.Errorf("decode warnings: %w", err)
	}
	if submitted.Valid {
		session.SubmittedAt = &submitted.Time
	}
	if finished.Valid {
		session.FinishedAt = &finished.Time
	}
	return session, nil
}

func (s *PostgresStore) ListTrialRecords(ctx context.Context, sessionID string) ([]experiment.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trial_id, label, countable, fields, readings, committed_at
		FROM trial_records
		WHERE session_id = $1
		ORDER BY seq ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list trial records: %w", err)
	}
	defer rows.Close()

	records := make([]experiment.Record, 0)
	for rows.Next() {
		var record experiment.Record
		var fields, readings []byte
		if err := rows.Scan(&record.TrialID, &record.Label, &record.Countable, &fields, &readings, &record.CommittedAt); err != nil {
			return nil, fmt.Errorf("scan trial record: %w", err)
		}
		if err := json.Unmarshal(fields, &record.Fields); err != nil {
			return nil, fmt.Errorf("decode fields of %s: %w", record.TrialID, err)
		}
		if err := json.Unmarshal(readings, &record.Readings); err != nil {
			return nil, fmt.Errorf("decode readings of %s: %w", record.TrialID, err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// ReplaceStimulusItems swaps all stored items of one kind for a new version.
func (s *PostgresStore) ReplaceStimulusItems(ctx context.Context, kind string, items []StimulusItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin stimulus tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM stimulus_items WHERE kind = $1`, kind); err != nil {
		return fmt.Errorf("clear stimulus items: %w", err)
	}
	for _, item := range items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO stimulus_items (kind, item_id, label, condition, anaphor_type, anchor, anaphor, stimulus, question, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, kind, item.ItemID, item.Label, item.Condition, item.AnaphorType, item.Anchor, item.Anaphor, item.Stimulus, item.Question, item.Version); err != nil {
			return fmt.Errorf("insert stimulus item %s: %w", item.ItemID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit stimulus tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListStimulusItems(ctx context.Context) ([]StimulusItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, item_id, label, condition, anaphor_type, anchor, anaphor, stimulus, question, version, updated_at
		FROM stimulus_items
		ORDER BY kind, label, item_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list stimulus items: %w", err)
	}
	defer rows.Close()

	items := make([]StimulusItem, 0)
	for rows.Next() {
		var item StimulusItem
		if err := rows.Scan(&item.Kind, &item.ItemID, &item.Label, &item.Condition, &item.AnaphorType, &item.Anchor, &item.Anaphor, &item.Stimulus, &item.Question, &item.Version, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stimulus item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
