package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // driver: sqlite

	"examprep-sync-service/internal/domain"
)

const snapshotKey = "session_snapshot"

// LicensePrefKey is the kv slot holding the user's preferred license.
const LicensePrefKey = "license_pref"

// Store is the durable on-device cache: users mirror, license question
// banks, the pending-result queue and a kv slot for the session snapshot
// and license preference. All operations survive process restart.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the cache database at path and ensures the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure cache schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS profile_mirror (
  id TEXT PRIMARY KEY,
  display_name TEXT NOT NULL,
  role TEXT NOT NULL,
  assigned_course_id TEXT NOT NULL DEFAULT '',
  offline_access INTEGER NOT NULL DEFAULT 0,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS question_banks (
  license_id TEXT PRIMARY KEY,
  data TEXT NOT NULL,
  refreshed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_results (
  local_id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  license_id TEXT NOT NULL,
  subject_name TEXT NOT NULL DEFAULT '',
  exam_kind TEXT NOT NULL,
  score INTEGER NOT NULL,
  total_questions INTEGER NOT NULL,
  time_spent_seconds INTEGER NOT NULL,
  created_at INTEGER NOT NULL,
  sync_state TEXT NOT NULL DEFAULT 'pending'
);

CREATE TABLE IF NOT EXISTS quota_counters (
  key TEXT PRIMARY KEY,
  period TEXT NOT NULL,
  count INTEGER NOT NULL,
  window_start INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS kv (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
`

func (s *Store) Profile(ctx context.Context) (domain.UserProfile, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, display_name, role, assigned_course_id, offline_access, updated_at
		FROM profile_mirror ORDER BY updated_at DESC LIMIT 1`)
	var p domain.UserProfile
	var offline int
	var updatedAt int64
	if err := row.Scan(&p.ID, &p.DisplayName, &p.Role, &p.AssignedCourseID, &offline, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.UserProfile{}, false, nil
		}
		return domain.UserProfile{}, false, err
	}
	p.OfflineAccessAllowed = offline != 0
	p.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return p, true, nil
}

func (s *Store) SaveProfile(ctx context.Context, p domain.UserProfile) error {
	offline := 0
	if p.OfflineAccessAllowed {
		offline = 1
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO profile_mirror (id, display_name, role, assigned_course_id, offline_access, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET display_name=excluded.display_name, role=excluded.role,
			assigned_course_id=excluded.assigned_course_id, offline_access=excluded.offline_access, updated_at=excluded.updated_at`,
		p.ID, p.DisplayName, p.Role, p.AssignedCourseID, offline, p.UpdatedAt.UnixMilli())
	return err
}

func (s *Store) QuestionBank(ctx context.Context, licenseID string) (domain.QuestionBank, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT data FROM question_banks WHERE license_id=$1`, licenseID)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.QuestionBank{}, false, nil
		}
		return domain.QuestionBank{}, false, err
	}
	var bank domain.QuestionBank
	if err := json.Unmarshal([]byte(raw), &bank); err != nil {
		return domain.QuestionBank{}, false, fmt.Errorf("unmarshal question bank: %w", err)
	}
	return bank, true, nil
}

// SaveQuestionBank overwrites the cached bank for its license as one unit.
func (s *Store) SaveQuestionBank(ctx context.Context, bank domain.QuestionBank) error {
	raw, err := json.Marshal(bank)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO question_banks (license_id, data, refreshed_at) VALUES ($1,$2,$3)
		ON CONFLICT (license_id) DO UPDATE SET data=excluded.data, refreshed_at=excluded.refreshed_at`,
		bank.LicenseID, string(raw), bank.RefreshedAt.UnixMilli())
	return err
}

func (s *Store) Enqueue(ctx context.Context, r domain.PendingResult) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO pending_results
		(local_id, user_id, license_id, subject_name, exam_kind, score, total_questions, time_spent_seconds, created_at, sync_state)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,'pending')`,
		r.LocalID, r.UserID, r.LicenseID, r.SubjectName, string(r.ExamKind),
		r.Score, r.TotalQuestions, r.TimeSpentSeconds, r.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("enqueue result: %w", err)
	}
	return nil
}

// Pending lists queued results in enqueue order.
func (s *Store) Pending(ctx context.Context) ([]domain.PendingResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT local_id, user_id, license_id, subject_name, exam_kind, score, total_questions, time_spent_seconds, created_at
		FROM pending_results WHERE sync_state='pending' ORDER BY created_at, local_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PendingResult
	for rows.Next() {
		var r domain.PendingResult
		var kind string
		var createdAt int64
		if err := rows.Scan(&r.LocalID, &r.UserID, &r.LicenseID, &r.SubjectName, &kind,
			&r.Score, &r.TotalQuestions, &r.TimeSpentSeconds, &createdAt); err != nil {
			return nil, err
		}
		r.ExamKind = domain.ExamKind(kind)
		r.CreatedAt = time.UnixMilli(createdAt).UTC()
		r.SyncState = domain.SyncPending
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkSynced promotes a result at most once; re-marking is a no-op.
func (s *Store) MarkSynced(ctx context.Context, localID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE pending_results SET sync_state='synced'
		WHERE local_id=$1 AND sync_state='pending'`, localID)
	return err
}

func (s *Store) Load(ctx context.Context) (domain.QuizSessionSnapshot, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=$1`, snapshotKey)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.QuizSessionSnapshot{}, false, nil
		}
		return domain.QuizSessionSnapshot{}, false, err
	}
	var snap domain.QuizSessionSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		// Corrupt slot reads as absence.
		return domain.QuizSessionSnapshot{}, false, nil
	}
	return snap, true, nil
}

func (s *Store) Save(ctx context.Context, snap domain.QuizSessionSnapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.putKV(ctx, snapshotKey, string(raw))
}

func (s *Store) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key=$1`, snapshotKey)
	return err
}

func (s *Store) Counter(ctx context.Context, key string) (domain.QuotaCounter, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT key, period, count, window_start FROM quota_counters WHERE key=$1`, key)
	var c domain.QuotaCounter
	var period string
	var windowStart int64
	if err := row.Scan(&c.Key, &period, &c.Count, &windowStart); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.QuotaCounter{}, false, nil
		}
		return domain.QuotaCounter{}, false, err
	}
	c.Period = domain.PeriodKind(period)
	c.WindowStart = time.UnixMilli(windowStart).UTC()
	return c, true, nil
}

func (s *Store) SaveCounter(ctx context.Context, c domain.QuotaCounter) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO quota_counters (key, period, count, window_start) VALUES ($1,$2,$3,$4)
		ON CONFLICT (key) DO UPDATE SET period=excluded.period, count=excluded.count, window_start=excluded.window_start`,
		c.Key, string(c.Period), c.Count, c.WindowStart.UnixMilli())
	return err
}

// LicensePreference returns the stored license preference, if any.
func (s *Store) LicensePreference(ctx context.Context) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=$1`, LicensePrefKey)
	var v string
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) SaveLicensePreference(ctx context.Context, licenseID string) error {
	return s.putKV(ctx, LicensePrefKey, licenseID)
}

func (s *Store) putKV(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO kv (key, value) VALUES ($1,$2)
		ON CONFLICT (key) DO UPDATE SET value=excluded.value`, key, value)
	return err
}
