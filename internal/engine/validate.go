package engine

import (
	"github.com/aferrand/preintake/internal/model"
)

// MissingReason says why a question was reported as missing, so the
// caller can phrase the message.
type MissingReason string

const (
	// MissingUnanswered is a required input with no recorded answer.
	MissingUnanswered MissingReason = "unanswered"
	// MissingGroupEmpty is a required group none of whose visible
	// children has a recorded answer.
	MissingGroupEmpty MissingReason = "group_empty"
)

// MissingQuestion is one unmet requirement. Path is a breadcrumb through
// the question's ancestors for display; it is not a domain value.
type MissingQuestion struct {
	Question model.Question
	Path     string
	Reason   MissingReason
}

// ValidationResult reports section completeness.
type ValidationResult struct {
	Valid   bool
	Missing []MissingQuestion
}

// ValidateRequired walks the question forest and collects every required
// question that lacks an answer, honoring the supplied visibility
// predicate: an invisible question and its whole subtree are exempt.
//
// A required group is satisfied as soon as any of its visible children
// has an answer; message questions are never required. The walk
// continues below missing questions so that all gaps across subtrees are
// reported, not just the first.
func ValidateRequired(questions []*model.QuestionNode, answers map[int64]string, visible func(*model.QuestionNode) bool) ValidationResult {
	var missing []MissingQuestion
	walkRequired(questions, answers, visible, "", &missing)
	return ValidationResult{Valid: len(missing) == 0, Missing: missing}
}

func walkRequired(questions []*model.QuestionNode, answers map[int64]string, visible func(*model.QuestionNode) bool, parentPath string, missing *[]MissingQuestion) {
	for _, q := range questions {
		if !visible(q) {
			continue
		}
		path := q.Text
		if parentPath != "" {
			path = parentPath + " > " + q.Text
		}

		if q.Required && q.Type.Input() && answers[q.ID] == "" {
			*missing = append(*missing, MissingQuestion{Question: q.Question, Path: path, Reason: MissingUnanswered})
		}

		if q.Required && q.Type == model.TypeGroup {
			answered := false
			for _, child := range q.Children {
				if answers[child.ID] != "" && visible(child) {
					answered = true
					break
				}
			}
			if !answered {
				*missing = append(*missing, MissingQuestion{Question: q.Question, Path: path, Reason: MissingGroupEmpty})
			}
		}

		walkRequired(q.Children, answers, visible, path, missing)
	}
}
