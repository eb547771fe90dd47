package engine

import (
	"testing"

	"github.com/aferrand/preintake/internal/model"
)

func testSections() []model.Section {
	return []model.Section{
		{ID: 2, Name: "Antécédents", OrderIndex: 2},
		{ID: 1, Name: "Général", OrderIndex: 1},
	}
}

func testQuestions() []model.Question {
	return []model.Question{
		{ID: 3, SectionID: 1, Text: "Médecin traitant", Type: model.TypeText, OrderIndex: 2},
		{ID: 1, SectionID: 1, Text: "Êtes-vous suivi ?", Type: model.TypeYesNo, OrderIndex: 1},
		{ID: 2, SectionID: 1, ParentID: 1, Text: "Précisez", Type: model.TypeText, OrderIndex: 1},
		{ID: 10, SectionID: 2, Text: "Allergies", Type: model.TypeGroup, OrderIndex: 1},
		{ID: 11, SectionID: 2, ParentID: 10, Text: "Pollen", Type: model.TypeYesNo, OrderIndex: 1},
		{ID: 12, SectionID: 2, ParentID: 10, Text: "Médicaments", Type: model.TypeYesNo, OrderIndex: 2},
	}
}

func TestBuildTreeOrdering(t *testing.T) {
	tree := BuildTree(testSections(), testQuestions(), nil)

	if len(tree) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(tree))
	}
	if tree[0].ID != 1 || tree[1].ID != 2 {
		t.Errorf("sections out of order: got %d, %d", tree[0].ID, tree[1].ID)
	}

	first := tree[0].Questions
	if len(first) != 2 {
		t.Fatalf("expected 2 top-level questions in section 1, got %d", len(first))
	}
	if first[0].ID != 1 || first[1].ID != 3 {
		t.Errorf("section 1 questions out of order: got %d, %d", first[0].ID, first[1].ID)
	}

	if len(first[0].Children) != 1 || first[0].Children[0].ID != 2 {
		t.Errorf("question 1 should have child 2, got %+v", first[0].Children)
	}

	group := tree[1].Questions[0]
	if group.ID != 10 || len(group.Children) != 2 {
		t.Fatalf("expected group 10 with 2 children, got %+v", group)
	}
	if group.Children[0].ID != 11 || group.Children[1].ID != 12 {
		t.Errorf("group children out of order: got %d, %d", group.Children[0].ID, group.Children[1].ID)
	}
}

func TestBuildTreeStableOnEqualOrder(t *testing.T) {
	questions := []model.Question{
		{ID: 5, SectionID: 1, Text: "a", Type: model.TypeText},
		{ID: 6, SectionID: 1, Text: "b", Type: model.TypeText},
		{ID: 7, SectionID: 1, Text: "c", Type: model.TypeText},
	}
	tree := BuildTree([]model.Section{{ID: 1}}, questions, nil)
	got := tree[0].Questions
	if got[0].ID != 5 || got[1].ID != 6 || got[2].ID != 7 {
		t.Errorf("equal order keys should keep storage order, got %d, %d, %d",
			got[0].ID, got[1].ID, got[2].ID)
	}
}

func TestBuildTreeAttachesAnswers(t *testing.T) {
	answers := []model.Answer{
		{QuestionID: 1, Value: "oui"},
		{QuestionID: 2, Value: "cardiologue"},
	}
	tree := BuildTree(testSections(), testQuestions(), answers)

	q1 := tree[0].Questions[0]
	if q1.Value != "oui" {
		t.Errorf("question 1 value = %q, want oui", q1.Value)
	}
	if q1.Children[0].Value != "cardiologue" {
		t.Errorf("question 2 value = %q, want cardiologue", q1.Children[0].Value)
	}
	if tree[0].Questions[1].Value != "" {
		t.Errorf("unanswered question 3 should have empty value")
	}
}

func TestBuildTreeOrphanUnreachable(t *testing.T) {
	questions := append(testQuestions(),
		model.Question{ID: 99, SectionID: 1, ParentID: 404, Text: "orphan", Type: model.TypeText})
	tree := BuildTree(testSections(), questions, nil)

	var seen func(nodes []*model.QuestionNode) bool
	seen = func(nodes []*model.QuestionNode) bool {
		for _, n := range nodes {
			if n.ID == 99 || seen(n.Children) {
				return true
			}
		}
		return false
	}
	for _, s := range tree {
		if seen(s.Questions) {
			t.Error("orphan question should not be reachable")
		}
	}
}
