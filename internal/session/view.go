package session

import (
	"github.com/aferrand/preintake/internal/engine"
	"github.com/aferrand/preintake/internal/model"
)

// QuestionView is what the rendering layer needs to display one visible
// question: the live value and note, parsed options, and the subtree of
// visible children.
type QuestionView struct {
	ID       int64              `json:"id"`
	ParentID int64              `json:"parent_id,omitempty"`
	Text     string             `json:"text"`
	Type     model.QuestionType `json:"type"`
	Value    string             `json:"value,omitempty"`
	Note     string             `json:"note,omitempty"`
	Help     string             `json:"help,omitempty"`
	Required bool               `json:"is_required"`
	Options  []engine.Option    `json:"options,omitempty"`
	Min      *float64           `json:"min,omitempty"`
	Max      *float64           `json:"max,omitempty"`
	Children []QuestionView     `json:"children,omitempty"`
}

// SectionView is the current section prepared for rendering, with the
// completion gate and progress the navigation controls rely on.
type SectionView struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Index       int            `json:"index"`
	Total       int            `json:"total"`
	Last        bool           `json:"last"`
	Progress    float64        `json:"progress"`
	Complete    bool           `json:"complete"`
	Questions   []QuestionView `json:"questions"`
}

// CurrentSection renders the section the patient is on. Invisible
// questions are omitted entirely, values and notes come from the live
// session state, not the build-time tree.
func (c *Controller) CurrentSection() SectionView {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := len(c.sections)
	if total == 0 || c.section >= total {
		return SectionView{Total: total}
	}

	s := c.sections[c.section]
	view := SectionView{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		Index:       c.section,
		Total:       total,
		Last:        c.section == total-1,
		Progress:    float64(c.section+1) / float64(total),
		Complete:    c.validateSection(c.section).Valid,
		Questions:   c.renderQuestions(s.Questions),
	}
	return view
}

func (c *Controller) renderQuestions(nodes []*model.QuestionNode) []QuestionView {
	var views []QuestionView
	for _, n := range nodes {
		if !c.visible(n.ID) {
			continue
		}
		views = append(views, QuestionView{
			ID:       n.ID,
			ParentID: n.ParentID,
			Text:     n.Text,
			Type:     n.Type,
			Value:    c.answers[n.ID],
			Note:     c.notes[n.ID],
			Help:     n.Notes,
			Required: n.Required,
			Options:  engine.ParseSelectOptions(n.Options),
			Min:      n.Min,
			Max:      n.Max,
			Children: c.renderQuestions(n.Children),
		})
	}
	return views
}
