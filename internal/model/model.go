package model

import (
	"encoding/json"
	"time"
)

// QuestionType is the closed set of question kinds the engine understands.
type QuestionType string

const (
	// TypeMessage is static text shown to the patient; it is never an input.
	TypeMessage QuestionType = "message"
	// TypeGroup is a non-leaf question whose value is derived from its children.
	TypeGroup QuestionType = "group"
	// TypeYesNo is a oui/non toggle. TypeBoolean is its legacy spelling.
	TypeYesNo    QuestionType = "yesno"
	TypeBoolean  QuestionType = "boolean"
	TypeText     QuestionType = "text"
	TypeTextArea QuestionType = "textarea"
	TypeNumber   QuestionType = "number"
	TypeDate     QuestionType = "date"
	TypeSelect   QuestionType = "select"
	TypeRadio    QuestionType = "radio"
	// TypeCheckboxes stores its value as a JSON array serialized to string.
	TypeCheckboxes QuestionType = "checkboxes"
)

// YesNo reports whether the type is one of the two yes/no spellings.
func (t QuestionType) YesNo() bool {
	return t == TypeYesNo || t == TypeBoolean
}

// Input reports whether the question collects a value directly from the
// patient. Groups derive their value and messages are static text.
func (t QuestionType) Input() bool {
	return t != TypeGroup && t != TypeMessage
}

// Canonical yes/no answer values. The questionnaire content is French.
const (
	AnswerYes = "oui"
	AnswerNo  = "non"
)

// SubmissionStatus is the lifecycle state of a submission.
type SubmissionStatus string

const (
	StatusDraft     SubmissionStatus = "draft"
	StatusSubmitted SubmissionStatus = "submitted"
)

// Section is a named, ordered grouping of questions. Read-only reference
// data for the duration of a session.
type Section struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	OrderIndex  int    `json:"order_index"`
}

// Question is a single questionnaire entry. Questions form a forest:
// ParentID links a question to its parent, 0 means top-level within the
// section. Options and Condition are opaque JSON authored outside this
// system; the engine tolerates any of their documented shapes.
type Question struct {
	ID         int64           `json:"id"`
	SectionID  int64           `json:"section_id,omitempty"`
	ParentID   int64           `json:"parent_id,omitempty"`
	Text       string          `json:"text"`
	Type       QuestionType    `json:"type"`
	Options    json.RawMessage `json:"options,omitempty"`
	Condition  json.RawMessage `json:"condition,omitempty"`
	OrderIndex int             `json:"order_index"`
	Required   bool            `json:"is_required"`
	Notes      string          `json:"notes,omitempty"`
	Min        *float64        `json:"min,omitempty"`
	Max        *float64        `json:"max,omitempty"`
}

// Answer is one recorded value for a (submission, question) pair. The
// storage layer guarantees at most one row per pair.
type Answer struct {
	SubmissionID string    `json:"submission_id"`
	QuestionID   int64     `json:"question_id"`
	Value        string    `json:"value"`
	Note         string    `json:"additional_notes,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// PatientInfo is captured once when a submission is created.
type PatientInfo struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Submission is one patient's pass through the questionnaire. SecureKey
// is a short token the patient keeps to resume the draft or share the
// finalized result with a clinician.
type Submission struct {
	ID              string           `json:"id"`
	SecureKey       string           `json:"secure_key"`
	Patient         PatientInfo      `json:"patient_info"`
	Status          SubmissionStatus `json:"status"`
	SubmissionCount int              `json:"submission_count"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// QuestionNode is a question with its ordered children and the answer
// value known at tree-build time. The value goes stale as soon as the
// patient edits; the session controller is authoritative afterwards.
type QuestionNode struct {
	Question
	Value    string          `json:"value,omitempty"`
	Children []*QuestionNode `json:"children,omitempty"`
}

// SectionNode is a section with its ordered top-level question trees.
type SectionNode struct {
	Section
	Questions []*QuestionNode `json:"questions"`
}

// SnapshotEntry is one line of the finalized submission: a question that
// was visible and answered at submit time.
type SnapshotEntry struct {
	QuestionID int64        `json:"question_id"`
	Text       string       `json:"text"`
	Type       QuestionType `json:"type"`
	Value      string       `json:"value"`
	SectionID  int64        `json:"section_id,omitempty"`
	ParentID   int64        `json:"parent_id,omitempty"`
	Required   bool         `json:"is_required"`
	Note       string       `json:"note,omitempty"`
}

// QuestionnaireImport is the seed file format consumed by the seed command.
type QuestionnaireImport struct {
	Sections  []Section  `json:"sections"`
	Questions []Question `json:"questions"`
}
