package engine

import (
	"sort"

	"github.com/aferrand/preintake/internal/model"
)

// BuildTree assembles flat section, question and answer rows into the
// ordered section > question > children structure the session renders.
//
// Sections and sibling questions sort by ordering key; ties keep
// storage order, which matters because equal or zero ordering keys are
// common. Each node carries the last known answer value for its
// question. A question whose parent id matches no other question is
// silently unreachable.
func BuildTree(sections []model.Section, questions []model.Question, answers []model.Answer) []*model.SectionNode {
	values := make(map[int64]string, len(answers))
	for _, a := range answers {
		// Last row wins if the uniqueness invariant was ever violated.
		if a.QuestionID != 0 {
			values[a.QuestionID] = a.Value
		}
	}

	ordered := make([]model.Section, len(sections))
	copy(ordered, sections)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].OrderIndex < ordered[j].OrderIndex
	})

	nodes := make([]*model.SectionNode, 0, len(ordered))
	for _, s := range ordered {
		var sectionQuestions []model.Question
		for _, q := range questions {
			if q.SectionID == s.ID {
				sectionQuestions = append(sectionQuestions, q)
			}
		}
		nodes = append(nodes, &model.SectionNode{
			Section:   s,
			Questions: buildBranch(sectionQuestions, 0, values),
		})
	}
	return nodes
}

func buildBranch(questions []model.Question, parentID int64, values map[int64]string) []*model.QuestionNode {
	var siblings []model.Question
	for _, q := range questions {
		if q.ParentID == parentID {
			siblings = append(siblings, q)
		}
	}
	sort.SliceStable(siblings, func(i, j int) bool {
		return siblings[i].OrderIndex < siblings[j].OrderIndex
	})

	nodes := make([]*model.QuestionNode, 0, len(siblings))
	for _, q := range siblings {
		nodes = append(nodes, &model.QuestionNode{
			Question: q,
			Value:    values[q.ID],
			Children: buildBranch(questions, q.ID, values),
		})
	}
	return nodes
}
