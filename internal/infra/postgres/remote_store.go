package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"examprep-sync-service/internal/domain"
)

// RemoteStore is the authoritative backend over Postgres.
type RemoteStore struct {
	pool *pgxpool.Pool
}

func NewRemoteStore(pool *pgxpool.Pool) *RemoteStore {
	return &RemoteStore{pool: pool}
}

// SaveResult inserts a finished result, deduplicating on the client-generated
// local ID so that retried drains never create a second row.
func (s *RemoteStore) SaveResult(ctx context.Context, r domain.PendingResult) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO exam_results
		(id, student_id, license_id, subject_name, type, score, total_questions, time_taken, completed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO NOTHING`,
		r.LocalID, r.UserID, r.LicenseID, r.SubjectName, string(r.ExamKind),
		r.Score, r.TotalQuestions, r.TimeSpentSeconds, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

func (s *RemoteStore) FetchQuestionBank(ctx context.Context, licenseID string) (domain.QuestionBank, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM question_banks WHERE license_id=$1`, licenseID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.QuestionBank{}, domain.ErrBankNotFound
		}
		return domain.QuestionBank{}, fmt.Errorf("load question bank: %w", err)
	}
	var bank domain.QuestionBank
	if err := json.Unmarshal(raw, &bank); err != nil {
		return domain.QuestionBank{}, fmt.Errorf("unmarshal question bank: %w", err)
	}
	bank.LicenseID = licenseID
	return bank, nil
}

func (s *RemoteStore) FetchProfile(ctx context.Context, userID string) (domain.UserProfile, error) {
	p := domain.UserProfile{ID: userID}
	err := s.pool.QueryRow(ctx, `SELECT display_name, role, assigned_course_id, offline_access_allowed, updated_at
		FROM users WHERE id=$1`, userID).
		Scan(&p.DisplayName, &p.Role, &p.AssignedCourseID, &p.OfflineAccessAllowed, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserProfile{}, domain.ErrProfileNotFound
		}
		return domain.UserProfile{}, fmt.Errorf("load profile: %w", err)
	}
	return p, nil
}
