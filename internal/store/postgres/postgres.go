// Package postgres implements the store on PostgreSQL via sqlx, for
// deployments where the questionnaire is shared between devices rather
// than kept in a local file.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/aferrand/preintake/internal/model"
	"github.com/aferrand/preintake/internal/store"
)

// Postgres implements store.Store on a PostgreSQL database.
type Postgres struct {
	db *sqlx.DB
}

var _ store.Store = (*Postgres)(nil)

// Open connects to PostgreSQL and applies the schema.
func Open(dsn string) (*Postgres, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	p := &Postgres{db: db}
	if err := p.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return p, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sections (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		order_index INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS questions (
		id BIGSERIAL PRIMARY KEY,
		section_id BIGINT REFERENCES sections(id),
		parent_id BIGINT,
		text TEXT NOT NULL,
		type TEXT NOT NULL,
		options JSONB,
		condition JSONB,
		order_index INTEGER NOT NULL DEFAULT 0,
		is_required BOOLEAN NOT NULL DEFAULT FALSE,
		notes TEXT NOT NULL DEFAULT '',
		min_value DOUBLE PRECISION,
		max_value DOUBLE PRECISION
	);

	CREATE TABLE IF NOT EXISTS submissions (
		id TEXT PRIMARY KEY,
		secure_key TEXT NOT NULL UNIQUE,
		patient_first_name TEXT NOT NULL DEFAULT '',
		patient_last_name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'draft',
		submission_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS answers (
		submission_id TEXT NOT NULL REFERENCES submissions(id),
		question_id BIGINT NOT NULL,
		value TEXT NOT NULL,
		additional_notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (submission_id, question_id)
	);

	CREATE TABLE IF NOT EXISTS snapshots (
		submission_id TEXT NOT NULL REFERENCES submissions(id),
		question_id BIGINT NOT NULL,
		text TEXT NOT NULL,
		type TEXT NOT NULL,
		value TEXT NOT NULL,
		section_id BIGINT,
		parent_id BIGINT,
		is_required BOOLEAN NOT NULL DEFAULT FALSE,
		note TEXT NOT NULL DEFAULT '',
		position INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (submission_id, question_id)
	);

	CREATE TABLE IF NOT EXISTS imports (
		path TEXT PRIMARY KEY,
		sha256 TEXT NOT NULL
	);
	`
	_, err := p.db.Exec(schema)
	return err
}

type questionRow struct {
	ID         int64           `db:"id"`
	SectionID  sql.NullInt64   `db:"section_id"`
	ParentID   sql.NullInt64   `db:"parent_id"`
	Text       string          `db:"text"`
	Type       string          `db:"type"`
	Options    sql.NullString  `db:"options"`
	Condition  sql.NullString  `db:"condition"`
	OrderIndex int             `db:"order_index"`
	Required   bool            `db:"is_required"`
	Notes      string          `db:"notes"`
	MinValue   sql.NullFloat64 `db:"min_value"`
	MaxValue   sql.NullFloat64 `db:"max_value"`
}

func (r questionRow) toModel() model.Question {
	q := model.Question{
		ID:         r.ID,
		SectionID:  r.SectionID.Int64,
		ParentID:   r.ParentID.Int64,
		Text:       r.Text,
		Type:       model.QuestionType(r.Type),
		OrderIndex: r.OrderIndex,
		Required:   r.Required,
		Notes:      r.Notes,
	}
	if r.Options.Valid && r.Options.String != "" {
		q.Options = json.RawMessage(r.Options.String)
	}
	if r.Condition.Valid && r.Condition.String != "" {
		q.Condition = json.RawMessage(r.Condition.String)
	}
	if r.MinValue.Valid {
		q.Min = &r.MinValue.Float64
	}
	if r.MaxValue.Valid {
		q.Max = &r.MaxValue.Float64
	}
	return q
}

func (p *Postgres) Sections(ctx context.Context) ([]model.Section, error) {
	type sectionRow struct {
		ID          int64  `db:"id"`
		Name        string `db:"name"`
		Description string `db:"description"`
		OrderIndex  int    `db:"order_index"`
	}
	var rows []sectionRow
	err := p.db.SelectContext(ctx, &rows,
		`SELECT id, name, description, order_index FROM sections ORDER BY order_index, id`)
	if err != nil {
		return nil, err
	}
	sections := make([]model.Section, len(rows))
	for i, r := range rows {
		sections[i] = model.Section{ID: r.ID, Name: r.Name, Description: r.Description, OrderIndex: r.OrderIndex}
	}
	return sections, nil
}

func (p *Postgres) Questions(ctx context.Context) ([]model.Question, error) {
	var rows []questionRow
	err := p.db.SelectContext(ctx, &rows,
		`SELECT id, section_id, parent_id, text, type, options, condition,
		        order_index, is_required, notes, min_value, max_value
		 FROM questions ORDER BY section_id, order_index, id`)
	if err != nil {
		return nil, err
	}
	questions := make([]model.Question, len(rows))
	for i, r := range rows {
		questions[i] = r.toModel()
	}
	return questions, nil
}

type answerRow struct {
	SubmissionID string    `db:"submission_id"`
	QuestionID   int64     `db:"question_id"`
	Value        string    `db:"value"`
	Note         string    `db:"additional_notes"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (p *Postgres) Answers(ctx context.Context, submissionID string) ([]model.Answer, error) {
	var rows []answerRow
	err := p.db.SelectContext(ctx, &rows,
		`SELECT submission_id, question_id, value, additional_notes, created_at, updated_at
		 FROM answers WHERE submission_id = $1 ORDER BY question_id`, submissionID)
	if err != nil {
		return nil, err
	}
	answers := make([]model.Answer, len(rows))
	for i, r := range rows {
		answers[i] = model.Answer{
			SubmissionID: r.SubmissionID,
			QuestionID:   r.QuestionID,
			Value:        r.Value,
			Note:         r.Note,
			CreatedAt:    r.CreatedAt,
			UpdatedAt:    r.UpdatedAt,
		}
	}
	return answers, nil
}

func (p *Postgres) UpsertAnswer(ctx context.Context, a model.Answer) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO answers (submission_id, question_id, value, additional_notes)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (submission_id, question_id)
		 DO UPDATE SET value = EXCLUDED.value,
		               additional_notes = EXCLUDED.additional_notes,
		               updated_at = NOW()`,
		a.SubmissionID, a.QuestionID, a.Value, a.Note)
	return err
}

func (p *Postgres) DeleteAnswer(ctx context.Context, submissionID string, questionID int64) error {
	_, err := p.db.ExecContext(ctx,
		`DELETE FROM answers WHERE submission_id = $1 AND question_id = $2`,
		submissionID, questionID)
	return err
}

type submissionRow struct {
	ID              string    `db:"id"`
	SecureKey       string    `db:"secure_key"`
	FirstName       string    `db:"patient_first_name"`
	LastName        string    `db:"patient_last_name"`
	Status          string    `db:"status"`
	SubmissionCount int       `db:"submission_count"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r submissionRow) toModel() model.Submission {
	return model.Submission{
		ID:              r.ID,
		SecureKey:       r.SecureKey,
		Patient:         model.PatientInfo{FirstName: r.FirstName, LastName: r.LastName},
		Status:          model.SubmissionStatus(r.Status),
		SubmissionCount: r.SubmissionCount,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func (p *Postgres) CreateSubmission(ctx context.Context, patient model.PatientInfo) (model.Submission, error) {
	key, err := store.NewSecureKey()
	if err != nil {
		return model.Submission{}, err
	}
	var row submissionRow
	err = p.db.GetContext(ctx, &row,
		`INSERT INTO submissions (id, secure_key, patient_first_name, patient_last_name)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, secure_key, patient_first_name, patient_last_name, status, submission_count, created_at, updated_at`,
		uuid.NewString(), key, patient.FirstName, patient.LastName)
	if err != nil {
		return model.Submission{}, err
	}
	return row.toModel(), nil
}

func (p *Postgres) Submission(ctx context.Context, id string) (model.Submission, error) {
	return p.submissionWhere(ctx, "id = $1", id)
}

func (p *Postgres) SubmissionByKey(ctx context.Context, secureKey string) (model.Submission, error) {
	return p.submissionWhere(ctx, "secure_key = $1", secureKey)
}

func (p *Postgres) submissionWhere(ctx context.Context, where string, arg any) (model.Submission, error) {
	var row submissionRow
	err := p.db.GetContext(ctx, &row,
		`SELECT id, secure_key, patient_first_name, patient_last_name, status, submission_count, created_at, updated_at
		 FROM submissions WHERE `+where, arg)
	if err != nil {
		return model.Submission{}, err
	}
	return row.toModel(), nil
}

func (p *Postgres) TouchSubmission(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE submissions SET updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (p *Postgres) FinalizeSubmission(ctx context.Context, id string, snapshot []model.SnapshotEntry) error {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE submission_id = $1`, id); err != nil {
		return err
	}
	for i, e := range snapshot {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO snapshots (submission_id, question_id, text, type, value, section_id, parent_id, is_required, note, position)
			 VALUES ($1, $2, $3, $4, $5, NULLIF($6, 0), NULLIF($7, 0), $8, $9, $10)`,
			id, e.QuestionID, e.Text, e.Type, e.Value, e.SectionID, e.ParentID, e.Required, e.Note, i)
		if err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE submissions
		 SET status = 'submitted',
		     submission_count = submission_count + 1,
		     updated_at = NOW()
		 WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *Postgres) Snapshot(ctx context.Context, submissionID string) ([]model.SnapshotEntry, error) {
	type snapshotRow struct {
		QuestionID int64         `db:"question_id"`
		Text       string        `db:"text"`
		Type       string        `db:"type"`
		Value      string        `db:"value"`
		SectionID  sql.NullInt64 `db:"section_id"`
		ParentID   sql.NullInt64 `db:"parent_id"`
		Required   bool          `db:"is_required"`
		Note       string        `db:"note"`
	}
	var rows []snapshotRow
	err := p.db.SelectContext(ctx, &rows,
		`SELECT question_id, text, type, value, section_id, parent_id, is_required, note
		 FROM snapshots WHERE submission_id = $1 ORDER BY position`, submissionID)
	if err != nil {
		return nil, err
	}
	entries := make([]model.SnapshotEntry, len(rows))
	for i, r := range rows {
		entries[i] = model.SnapshotEntry{
			QuestionID: r.QuestionID,
			Text:       r.Text,
			Type:       model.QuestionType(r.Type),
			Value:      r.Value,
			SectionID:  r.SectionID.Int64,
			ParentID:   r.ParentID.Int64,
			Required:   r.Required,
			Note:       r.Note,
		}
	}
	return entries, nil
}

func (p *Postgres) InsertSection(ctx context.Context, sec model.Section) (int64, error) {
	if sec.ID != 0 {
		_, err := p.db.ExecContext(ctx,
			`INSERT INTO sections (id, name, description, order_index) VALUES ($1, $2, $3, $4)`,
			sec.ID, sec.Name, sec.Description, sec.OrderIndex)
		return sec.ID, err
	}
	var id int64
	err := p.db.GetContext(ctx, &id,
		`INSERT INTO sections (name, description, order_index) VALUES ($1, $2, $3) RETURNING id`,
		sec.Name, sec.Description, sec.OrderIndex)
	return id, err
}

func (p *Postgres) InsertQuestion(ctx context.Context, q model.Question) (int64, error) {
	args := []any{
		nullInt(q.SectionID), nullInt(q.ParentID), q.Text, string(q.Type),
		nullJSON(q.Options), nullJSON(q.Condition),
		q.OrderIndex, q.Required, q.Notes, q.Min, q.Max,
	}
	if q.ID != 0 {
		_, err := p.db.ExecContext(ctx,
			`INSERT INTO questions (id, section_id, parent_id, text, type, options, condition,
			                        order_index, is_required, notes, min_value, max_value)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			append([]any{q.ID}, args...)...)
		return q.ID, err
	}
	var id int64
	err := p.db.GetContext(ctx, &id,
		`INSERT INTO questions (section_id, parent_id, text, type, options, condition,
		                        order_index, is_required, notes, min_value, max_value)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`, args...)
	return id, err
}

func (p *Postgres) ImportedFileHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := p.db.GetContext(ctx, &hash, `SELECT sha256 FROM imports WHERE path = $1`, path)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return hash, err
}

func (p *Postgres) SetImportedFileHash(ctx context.Context, path, hash string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO imports (path, sha256) VALUES ($1, $2)
		 ON CONFLICT (path) DO UPDATE SET sha256 = EXCLUDED.sha256`,
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
