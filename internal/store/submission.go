package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/aferrand/preintake/internal/model"
)

// secureKeyAlphabet avoids characters patients misread over the phone.
const secureKeyAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const secureKeyLength = 8

// NewSecureKey returns a short random token a patient can keep to
// resume a draft or hand to a clinician.
func NewSecureKey() (string, error) {
	buf := make([]byte, secureKeyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate secure key: %w", err)
	}
	for i, b := range buf {
		buf[i] = secureKeyAlphabet[int(b)%len(secureKeyAlphabet)]
	}
	return string(buf), nil
}

// CreateSubmission opens a new draft submission with a fresh secure key.
func (s *SQLite) CreateSubmission(ctx context.Context, patient model.PatientInfo) (model.Submission, error) {
	key, err := NewSecureKey()
	if err != nil {
		return model.Submission{}, err
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, secure_key, patient_first_name, patient_last_name, status, submission_count)
		 VALUES (?, ?, ?, ?, 'draft', 0)`,
		id, key, patient.FirstName, patient.LastName)
	if err != nil {
		return model.Submission{}, err
	}
	return s.Submission(ctx, id)
}

// Submission returns a submission by id.
func (s *SQLite) Submission(ctx context.Context, id string) (model.Submission, error) {
	return s.submissionWhere(ctx, "id = ?", id)
}

// SubmissionByKey returns a submission by its secure key.
func (s *SQLite) SubmissionByKey(ctx context.Context, secureKey string) (model.Submission, error) {
	return s.submissionWhere(ctx, "secure_key = ?", secureKey)
}

func (s *SQLite) submissionWhere(ctx context.Context, where string, arg any) (model.Submission, error) {
	var sub model.Submission
	err := s.db.QueryRowContext(ctx,
		`SELECT id, secure_key, patient_first_name, patient_last_name, status, submission_count, created_at, updated_at
		 FROM submissions WHERE `+where, arg,
	).Scan(&sub.ID, &sub.SecureKey, &sub.Patient.FirstName, &sub.Patient.LastName,
		&sub.Status, &sub.SubmissionCount, &sub.CreatedAt, &sub.UpdatedAt)
	return sub, err
}

// TouchSubmission refreshes the last-modified marker.
func (s *SQLite) TouchSubmission(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}

// FinalizeSubmission stores the snapshot and moves the submission to its
// terminal status, bumping the submission counter.
func (s *SQLite) FinalizeSubmission(ctx context.Context, id string, snapshot []model.SnapshotEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE submission_id = ?`, id); err != nil {
		return err
	}
	for i, e := range snapshot {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO snapshots (submission_id, question_id, text, type, value, section_id, parent_id, is_required, note, position)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, e.QuestionID, e.Text, e.Type, e.Value, nullInt(e.SectionID), nullInt(e.ParentID), e.Required, e.Note, i)
		if err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE submissions
		 SET status = 'submitted',
		     submission_count = submission_count + 1,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// Snapshot returns the finalized snapshot of a submission in capture order.
func (s *SQLite) Snapshot(ctx context.Context, submissionID string) ([]model.SnapshotEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT question_id, text, type, value, section_id, parent_id, is_required, note
		 FROM snapshots WHERE submission_id = ? ORDER BY position`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []model.SnapshotEntry
	for rows.Next() {
		var e model.SnapshotEntry
		var sectionID, parentID sql.NullInt64
		if err := rows.Scan(&e.QuestionID, &e.Text, &e.Type, &e.Value, &sectionID, &parentID, &e.Required, &e.Note); err != nil {
			return nil, err
		}
		e.SectionID = sectionID.Int64
		e.ParentID = parentID.Int64
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
