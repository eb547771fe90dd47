package engine

import (
	"testing"

	"github.com/aferrand/preintake/internal/model"
)

func allVisible(*model.QuestionNode) bool { return true }

func node(id int64, text string, typ model.QuestionType, required bool, children ...*model.QuestionNode) *model.QuestionNode {
	return &model.QuestionNode{
		Question: model.Question{ID: id, Text: text, Type: typ, Required: required},
		Children: children,
	}
}

func TestValidateRequiredUnanswered(t *testing.T) {
	questions := []*model.QuestionNode{
		node(1, "Nom", model.TypeText, true),
		node(2, "Commentaire", model.TypeText, false),
	}

	res := ValidateRequired(questions, map[int64]string{}, allVisible)
	if res.Valid {
		t.Fatal("expected invalid result")
	}
	if len(res.Missing) != 1 || res.Missing[0].Question.ID != 1 {
		t.Fatalf("expected question 1 missing, got %+v", res.Missing)
	}
	if res.Missing[0].Reason != MissingUnanswered {
		t.Errorf("reason = %q, want %q", res.Missing[0].Reason, MissingUnanswered)
	}

	res = ValidateRequired(questions, map[int64]string{1: "Dupont"}, allVisible)
	if !res.Valid {
		t.Errorf("expected valid result, missing %+v", res.Missing)
	}
}

func TestValidateRequiredInvisibleExempt(t *testing.T) {
	questions := []*model.QuestionNode{
		node(1, "Suivi ?", model.TypeYesNo, true,
			node(2, "Précisez", model.TypeText, true,
				node(3, "Depuis quand ?", model.TypeDate, true))),
	}
	hidden := func(n *model.QuestionNode) bool { return n.ID == 1 }

	// Question 2 is invisible, so it and its whole subtree are exempt.
	res := ValidateRequired(questions, map[int64]string{1: "non"}, hidden)
	if !res.Valid {
		t.Errorf("invisible subtree should be exempt, missing %+v", res.Missing)
	}
}

func TestValidateRequiredGroup(t *testing.T) {
	questions := []*model.QuestionNode{
		node(10, "Allergies", model.TypeGroup, true,
			node(11, "Pollen", model.TypeYesNo, false),
			node(12, "Médicaments", model.TypeYesNo, false)),
	}

	res := ValidateRequired(questions, map[int64]string{}, allVisible)
	if res.Valid {
		t.Fatal("empty required group should be invalid")
	}
	if res.Missing[0].Reason != MissingGroupEmpty {
		t.Errorf("reason = %q, want %q", res.Missing[0].Reason, MissingGroupEmpty)
	}

	// One answered child satisfies the group.
	res = ValidateRequired(questions, map[int64]string{11: "non"}, allVisible)
	if !res.Valid {
		t.Errorf("group with an answered child should be valid, missing %+v", res.Missing)
	}

	// An answer on an invisible child does not count.
	hidden := func(n *model.QuestionNode) bool { return n.ID != 11 }
	res = ValidateRequired(questions, map[int64]string{11: "oui"}, hidden)
	if res.Valid {
		t.Error("answer on an invisible child should not satisfy the group")
	}
}

func TestValidateRequiredMessageExempt(t *testing.T) {
	questions := []*model.QuestionNode{
		node(1, "Merci de répondre honnêtement.", model.TypeMessage, true),
	}
	res := ValidateRequired(questions, map[int64]string{}, allVisible)
	if !res.Valid {
		t.Errorf("message questions are never required, missing %+v", res.Missing)
	}
}

func TestValidateRequiredBreadcrumb(t *testing.T) {
	questions := []*model.QuestionNode{
		node(1, "Traitements", model.TypeGroup, false,
			node(2, "Anticoagulants", model.TypeYesNo, false,
				node(3, "Lequel ?", model.TypeText, true))),
	}

	res := ValidateRequired(questions, map[int64]string{2: "oui"}, allVisible)
	if res.Valid {
		t.Fatal("expected question 3 missing")
	}
	want := "Traitements > Anticoagulants > Lequel ?"
	if res.Missing[0].Path != want {
		t.Errorf("path = %q, want %q", res.Missing[0].Path, want)
	}
}

func TestValidateRequiredReportsAllGaps(t *testing.T) {
	questions := []*model.QuestionNode{
		node(1, "Nom", model.TypeText, true),
		node(2, "Suivi ?", model.TypeYesNo, true,
			node(3, "Précisez", model.TypeText, true)),
	}

	res := ValidateRequired(questions, map[int64]string{2: "oui"}, allVisible)
	if len(res.Missing) != 2 {
		t.Fatalf("expected 2 missing questions, got %+v", res.Missing)
	}
	if res.Missing[0].Question.ID != 1 || res.Missing[1].Question.ID != 3 {
		t.Errorf("missing ids = %d, %d, want 1, 3",
			res.Missing[0].Question.ID, res.Missing[1].Question.ID)
	}
}
