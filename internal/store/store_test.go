package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/aferrand/preintake/internal/model"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedQuestionnaire(t *testing.T, s *SQLite) {
	t.Helper()
	ctx := context.Background()
	if _, err := s.InsertSection(ctx, model.Section{ID: 1, Name: "Général", OrderIndex: 1}); err != nil {
		t.Fatalf("InsertSection: %v", err)
	}
	min := 0.0
	max := 120.0
	questions := []model.Question{
		{ID: 1, SectionID: 1, Text: "Êtes-vous suivi ?", Type: model.TypeYesNo, Required: true, OrderIndex: 1},
		{ID: 2, SectionID: 1, ParentID: 1, Text: "Précisez", Type: model.TypeText, OrderIndex: 1,
			Condition: json.RawMessage(`"oui"`)},
		{ID: 3, SectionID: 1, Text: "Votre âge", Type: model.TypeNumber, OrderIndex: 2,
			Min: &min, Max: &max, Options: json.RawMessage(`{"values":["a","b"]}`)},
	}
	for _, q := range questions {
		if _, err := s.InsertQuestion(ctx, q); err != nil {
			t.Fatalf("InsertQuestion(%d): %v", q.ID, err)
		}
	}
}

func TestQuestionRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seedQuestionnaire(t, s)
	ctx := context.Background()

	sections, err := s.Sections(ctx)
	if err != nil {
		t.Fatalf("Sections: %v", err)
	}
	if len(sections) != 1 || sections[0].Name != "Général" {
		t.Fatalf("unexpected sections: %+v", sections)
	}

	questions, err := s.Questions(ctx)
	if err != nil {
		t.Fatalf("Questions: %v", err)
	}
	if len(questions) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(questions))
	}

	byID := make(map[int64]model.Question)
	for _, q := range questions {
		byID[q.ID] = q
	}
	if byID[2].ParentID != 1 {
		t.Errorf("question 2 parent = %d, want 1", byID[2].ParentID)
	}
	if string(byID[2].Condition) != `"oui"` {
		t.Errorf("question 2 condition = %s", byID[2].Condition)
	}
	if byID[1].ParentID != 0 {
		t.Errorf("top-level question should have zero parent, got %d", byID[1].ParentID)
	}
	if byID[3].Min == nil || *byID[3].Min != 0 || byID[3].Max == nil || *byID[3].Max != 120 {
		t.Errorf("question 3 bounds = %v, %v", byID[3].Min, byID[3].Max)
	}
	if string(byID[3].Options) != `{"values":["a","b"]}` {
		t.Errorf("question 3 options = %s", byID[3].Options)
	}
}

func TestSubmissionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sub, err := s.CreateSubmission(ctx, model.PatientInfo{FirstName: "Marie", LastName: "Curie"})
	if err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	if sub.ID == "" || len(sub.SecureKey) != 8 {
		t.Fatalf("bad submission identity: %+v", sub)
	}
	if sub.Status != model.StatusDraft || sub.SubmissionCount != 0 {
		t.Fatalf("new submission not a draft: %+v", sub)
	}

	byKey, err := s.SubmissionByKey(ctx, sub.SecureKey)
	if err != nil {
		t.Fatalf("SubmissionByKey: %v", err)
	}
	if byKey.ID != sub.ID {
		t.Errorf("lookup by key returned %q, want %q", byKey.ID, sub.ID)
	}
	if byKey.Patient.FirstName != "Marie" {
		t.Errorf("patient first name = %q", byKey.Patient.FirstName)
	}

	if _, err := s.Submission(ctx, "nope"); err != sql.ErrNoRows {
		t.Errorf("expected ErrNoRows for unknown id, got %v", err)
	}
}

func TestAnswerUpsert(t *testing.T) {
	s := newTestStore(t)
	seedQuestionnaire(t, s)
	ctx := context.Background()

	sub, err := s.CreateSubmission(ctx, model.PatientInfo{})
	if err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}

	a := model.Answer{SubmissionID: sub.ID, QuestionID: 1, Value: "oui"}
	if err := s.UpsertAnswer(ctx, a); err != nil {
		t.Fatalf("UpsertAnswer: %v", err)
	}
	a.Value = "non"
	a.Note = "à vérifier"
	if err := s.UpsertAnswer(ctx, a); err != nil {
		t.Fatalf("UpsertAnswer update: %v", err)
	}

	answers, err := s.Answers(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Answers: %v", err)
	}
	if len(answers) != 1 {
		t.Fatalf("upsert should keep one row per question, got %d", len(answers))
	}
	if answers[0].Value != "non" || answers[0].Note != "à vérifier" {
		t.Errorf("answer not updated: %+v", answers[0])
	}

	if err := s.DeleteAnswer(ctx, sub.ID, 1); err != nil {
		t.Fatalf("DeleteAnswer: %v", err)
	}
	answers, err = s.Answers(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Answers after delete: %v", err)
	}
	if len(answers) != 0 {
		t.Errorf("expected no answers after delete, got %+v", answers)
	}
}

func TestFinalizeSubmission(t *testing.T) {
	s := newTestStore(t)
	seedQuestionnaire(t, s)
	ctx := context.Background()

	sub, err := s.CreateSubmission(ctx, model.PatientInfo{})
	if err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}

	snapshot := []model.SnapshotEntry{
		{QuestionID: 1, Text: "Êtes-vous suivi ?", Type: model.TypeYesNo, Value: "oui", SectionID: 1, Required: true},
		{QuestionID: 2, Text: "Précisez", Type: model.TypeText, Value: "cardiologue", SectionID: 1, ParentID: 1},
	}
	if err := s.FinalizeSubmission(ctx, sub.ID, snapshot); err != nil {
		t.Fatalf("FinalizeSubmission: %v", err)
	}

	sub, err = s.Submission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Submission: %v", err)
	}
	if sub.Status != model.StatusSubmitted {
		t.Errorf("status = %q, want submitted", sub.Status)
	}
	if sub.SubmissionCount != 1 {
		t.Errorf("submission count = %d, want 1", sub.SubmissionCount)
	}

	got, err := s.Snapshot(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(got) != 2 || got[0].QuestionID != 1 || got[1].QuestionID != 2 {
		t.Fatalf("snapshot order lost: %+v", got)
	}
	if got[1].Value != "cardiologue" || got[1].ParentID != 1 {
		t.Errorf("snapshot entry mangled: %+v", got[1])
	}

	// Re-finalizing replaces the snapshot and bumps the counter.
	if err := s.FinalizeSubmission(ctx, sub.ID, snapshot[:1]); err != nil {
		t.Fatalf("FinalizeSubmission again: %v", err)
	}
	got, err = s.Snapshot(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected replaced snapshot of 1 entry, got %d", len(got))
	}
	sub, _ = s.Submission(ctx, sub.ID)
	if sub.SubmissionCount != 2 {
		t.Errorf("submission count = %d, want 2", sub.SubmissionCount)
	}
}

func TestImportedFileHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hash, err := s.ImportedFileHash(ctx, "questionnaire.json")
	if err != nil {
		t.Fatalf("ImportedFileHash: %v", err)
	}
	if hash != "" {
		t.Fatalf("expected empty hash for unknown file, got %q", hash)
	}

	if err := s.SetImportedFileHash(ctx, "questionnaire.json", "abc123"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	hash, err = s.ImportedFileHash(ctx, "questionnaire.json")
	if err != nil {
		t.Fatalf("ImportedFileHash: %v", err)
	}
	if hash != "abc123" {
		t.Errorf("hash = %q, want abc123", hash)
	}
}

func TestNewSecureKey(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		key, err := NewSecureKey()
		if err != nil {
			t.Fatalf("NewSecureKey: %v", err)
		}
		if len(key) != 8 {
			t.Fatalf("key length = %d, want 8", len(key))
		}
		for _, r := range key {
			switch r {
			case 'I', 'O', '0', '1':
				t.Errorf("key %q contains ambiguous character %q", key, r)
			}
		}
		seen[key] = true
	}
	if len(seen) < 40 {
		t.Errorf("keys look non-random: %d distinct out of 50", len(seen))
	}
}
