// Package store persists questionnaire reference data, submissions and
// answers. The default backend is SQLite; a PostgreSQL backend lives in
// the postgres subpackage.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/aferrand/preintake/internal/model"

	_ "modernc.org/sqlite"
)

// Store is the full persistence surface. The session controller only
// needs a subset; the handler and CLI use the rest.
type Store interface {
	Sections(ctx context.Context) ([]model.Section, error)
	Questions(ctx context.Context) ([]model.Question, error)
	Answers(ctx context.Context, submissionID string) ([]model.Answer, error)
	UpsertAnswer(ctx context.Context, a model.Answer) error
	DeleteAnswer(ctx context.Context, submissionID string, questionID int64) error

	CreateSubmission(ctx context.Context, patient model.PatientInfo) (model.Submission, error)
	Submission(ctx context.Context, id string) (model.Submission, error)
	SubmissionByKey(ctx context.Context, secureKey string) (model.Submission, error)
	TouchSubmission(ctx context.Context, id string) error
	FinalizeSubmission(ctx context.Context, id string, snapshot []model.SnapshotEntry) error
	Snapshot(ctx context.Context, submissionID string) ([]model.SnapshotEntry, error)

	InsertSection(ctx context.Context, s model.Section) (int64, error)
	InsertQuestion(ctx context.Context, q model.Question) (int64, error)
	ImportedFileHash(ctx context.Context, path string) (string, error)
	SetImportedFileHash(ctx context.Context, path, hash string) error

	Close() error
}

// SQLite implements Store on a local SQLite database.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// Open opens (and migrates) a SQLite database at the given path.
func Open(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		order_index INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS questions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		section_id INTEGER,
		parent_id INTEGER,
		text TEXT NOT NULL,
		type TEXT NOT NULL,
		options TEXT,
		condition TEXT,
		order_index INTEGER NOT NULL DEFAULT 0,
		is_required INTEGER NOT NULL DEFAULT 0,
		notes TEXT NOT NULL DEFAULT '',
		min_value REAL,
		max_value REAL,
		FOREIGN KEY (section_id) REFERENCES sections(id)
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		secure_key TEXT NOT NULL UNIQUE,
		patient_first_name TEXT NOT NULL DEFAULT '',
		patient_last_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'draft',
		submission_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS answers (
		submission_id TEXT NOT NULL,
		question_id INTEGER NOT NULL,
		value TEXT NOT NULL,
		additional_notes TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (submission_id, question_id),
		FOREIGN KEY (submission_id) REFERENCES submissions(id),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		submission_id TEXT NOT NULL,
		question_id INTEGER NOT NULL,
		text TEXT NOT NULL,
		type TEXT NOT NULL,
		value TEXT NOT NULL,
		section_id INTEGER,
		parent_id INTEGER,
		is_required INTEGER NOT NULL DEFAULT 0,
		note TEXT NOT NULL DEFAULT '',
		position INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (submission_id, question_id),
		FOREIGN KEY (submission_id) REFERENCES submissions(id)
	);

	CREATE TABLE IF NOT EXISTS imports (
		path TEXT PRIMARY KEY,
		sha256 TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Sections returns all sections ordered by ordering key.
func (s *SQLite) Sections(ctx context.Context) ([]model.Section, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, order_index FROM sections ORDER BY order_index, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sections []model.Section
	for rows.Next() {
		var sec model.Section
		if err := rows.Scan(&sec.ID, &sec.Name, &sec.Description, &sec.OrderIndex); err != nil {
			return nil, err
		}
		sections = append(sections, sec)
	}
	return sections, rows.Err()
}

// Questions returns all questions ordered by section then ordering key.
func (s *SQLite) Questions(ctx context.Context) ([]model.Question, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, section_id, parent_id, text, type, options, condition,
		        order_index, is_required, notes, min_value, max_value
		 FROM questions ORDER BY section_id, order_index, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var questions []model.Question
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

func scanQuestion(rows *sql.Rows) (model.Question, error) {
	var q model.Question
	var sectionID, parentID sql.NullInt64
	var options, condition sql.NullString
	var minValue, maxValue sql.NullFloat64
	err := rows.Scan(&q.ID, &sectionID, &parentID, &q.Text, &q.Type, &options, &condition,
		&q.OrderIndex, &q.Required, &q.Notes, &minValue, &maxValue)
	if err != nil {
		return q, err
	}
	q.SectionID = sectionID.Int64
	q.ParentID = parentID.Int64
	if options.Valid && options.String != "" {
		q.Options = json.RawMessage(options.String)
	}
	if condition.Valid && condition.String != "" {
		q.Condition = json.RawMessage(condition.String)
	}
	if minValue.Valid {
		q.Min = &minValue.Float64
	}
	if maxValue.Valid {
		q.Max = &maxValue.Float64
	}
	return q, nil
}

// Answers returns all answers recorded for a submission.
func (s *SQLite) Answers(ctx context.Context, submissionID string) ([]model.Answer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT submission_id, question_id, value, additional_notes, created_at, updated_at
		 FROM answers WHERE submission_id = ? ORDER BY question_id`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var answers []model.Answer
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.SubmissionID, &a.QuestionID, &a.Value, &a.Note, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// UpsertAnswer writes the single answer row for (submission, question).
func (s *SQLite) UpsertAnswer(ctx context.Context, a model.Answer) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO answers (submission_id, question_id, value, additional_notes)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(submission_id, question_id)
		 DO UPDATE SET value = excluded.value,
		               additional_notes = excluded.additional_notes,
		               updated_at = CURRENT_TIMESTAMP`,
		a.SubmissionID, a.QuestionID, a.Value, a.Note)
	return err
}

// DeleteAnswer removes the answer row for (submission, question), if any.
func (s *SQLite) DeleteAnswer(ctx context.Context, submissionID string, questionID int64) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM answers WHERE submission_id = ? AND question_id = ?`,
		submissionID, questionID)
	return err
}

// InsertSection stores a section, keeping an explicit id when provided.
func (s *SQLite) InsertSection(ctx context.Context, sec model.Section) (int64, error) {
	if sec.ID != 0 {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO sections (id, name, description, order_index) VALUES (?, ?, ?, ?)`,
			sec.ID, sec.Name, sec.Description, sec.OrderIndex)
		return sec.ID, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sections (name, description, order_index) VALUES (?, ?, ?)`,
		sec.Name, sec.Description, sec.OrderIndex)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// InsertQuestion stores a question, keeping an explicit id when provided.
func (s *SQLite) InsertQuestion(ctx context.Context, q model.Question) (int64, error) {
	sectionID := nullInt(q.SectionID)
	parentID := nullInt(q.ParentID)
	options := nullJSON(q.Options)
	condition := nullJSON(q.Condition)

	if q.ID != 0 {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO questions (id, section_id, parent_id, text, type, options, condition,
			                        order_index, is_required, notes, min_value, max_value)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			q.ID, sectionID, parentID, q.Text, q.Type, options, condition,
			q.OrderIndex, q.Required, q.Notes, q.Min, q.Max)
		return q.ID, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO questions (section_id, parent_id, text, type, options, condition,
		                        order_index, is_required, notes, min_value, max_value)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sectionID, parentID, q.Text, q.Type, options, condition,
		q.OrderIndex, q.Required, q.Notes, q.Min, q.Max)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ImportedFileHash returns the recorded content hash for a seed file.
// Empty string means the file was never imported.
func (s *SQLite) ImportedFileHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT sha256 FROM imports WHERE path = ?`, path).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

// SetImportedFileHash records the content hash of an imported seed file.
func (s *SQLite) SetImportedFileHash(ctx context.Context, path, hash string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO imports (path, sha256) VALUES (?, ?)
		 ON CONFLICT(path) DO UPDATE SET sha256 = excluded.sha256`,
		path, hash)
	return err
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
