// Package session owns the live state of one patient's pass through the
// questionnaire: current answers and notes, section position, and the
// side effects an answer change sets off (group aggregation, cascading
// hide-and-forget, persistence).
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aferrand/preintake/internal/engine"
	"github.com/aferrand/preintake/internal/model"
)

// Store is the persistence surface the controller consumes. Reads happen
// once at session start; writes are fire-and-forget except finalization.
type Store interface {
	Sections(ctx context.Context) ([]model.Section, error)
	Questions(ctx context.Context) ([]model.Question, error)
	Answers(ctx context.Context, submissionID string) ([]model.Answer, error)
	UpsertAnswer(ctx context.Context, a model.Answer) error
	DeleteAnswer(ctx context.Context, submissionID string, questionID int64) error
	TouchSubmission(ctx context.Context, submissionID string) error
	FinalizeSubmission(ctx context.Context, submissionID string, snapshot []model.SnapshotEntry) error
}

// IncompleteError reports the required questions still unanswered in the
// current section. It blocks navigation, not a system failure.
type IncompleteError struct {
	Missing []engine.MissingQuestion
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%d required questions unanswered", len(e.Missing))
}

// ErrNotLastSection is returned by Submit when the session is not
// positioned on the last section.
var ErrNotLastSection = errors.New("submit is only allowed from the last section")

// Controller drives one questionnaire session. It assumes a single
// editor; the mutex only guards against overlapping HTTP requests, not
// concurrent sessions on the same submission.
type Controller struct {
	store Store
	log   *slog.Logger

	submission model.Submission
	sections   []*model.SectionNode

	// Arena view of the question forest: flat index plus child lists,
	// so cascades can mutate the answer map while walking.
	byID     map[int64]*model.Question
	children map[int64][]int64
	conds    map[int64]engine.Condition

	mu      sync.Mutex
	answers map[int64]string
	notes   map[int64]string
	section int

	wg sync.WaitGroup
}

// New loads the questionnaire and the submission's persisted answers,
// builds the session tree, and seeds every unanswered yes/no question to
// "non" so group aggregation and validation always see a determinate
// value. Seeded defaults are persisted like ordinary answers.
func New(ctx context.Context, st Store, submission model.Submission, log *slog.Logger) (*Controller, error) {
	if log == nil {
		log = slog.Default()
	}

	sections, err := st.Sections(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch sections: %w", err)
	}
	questions, err := st.Questions(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch questions: %w", err)
	}
	answers, err := st.Answers(ctx, submission.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch answers: %w", err)
	}

	c := &Controller{
		store:      st,
		log:        log,
		submission: submission,
		sections:   engine.BuildTree(sections, questions, answers),
		byID:       make(map[int64]*model.Question, len(questions)),
		children:   make(map[int64][]int64),
		conds:      make(map[int64]engine.Condition, len(questions)),
		answers:    make(map[int64]string, len(answers)),
		notes:      make(map[int64]string),
	}

	for i := range questions {
		q := &questions[i]
		c.byID[q.ID] = q
		c.conds[q.ID] = engine.ParseCondition(q.Condition)
		if q.ParentID != 0 {
			c.children[q.ParentID] = append(c.children[q.ParentID], q.ID)
		}
	}
	for _, a := range answers {
		c.answers[a.QuestionID] = a.Value
		if a.Note != "" {
			c.notes[a.QuestionID] = a.Note
		}
	}

	var effects []effect
	for i := range questions {
		q := &questions[i]
		if q.Type.YesNo() {
			if _, ok := c.answers[q.ID]; !ok {
				c.answers[q.ID] = model.AnswerNo
				effects = append(effects, c.upsertEffect(q.ID))
			}
		}
	}
	c.dispatch(ctx, effects)

	return c, nil
}

// Submission returns the submission this session edits.
func (c *Controller) Submission() model.Submission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submission
}

// AnswerChange records a new value for a question and applies its side
// effects in order: the direct write, group aggregation on the parent,
// then the hide-and-forget cascade against the post-aggregation answer
// map. All resulting writes are persisted in the background.
func (c *Controller) AnswerChange(ctx context.Context, questionID int64, value string) {
	c.mu.Lock()
	effects := c.applyAnswer(questionID, value)
	c.mu.Unlock()
	c.dispatch(ctx, effects)
}

func (c *Controller) applyAnswer(questionID int64, value string) []effect {
	c.answers[questionID] = value
	effects := []effect{c.upsertEffect(questionID)}

	if q := c.byID[questionID]; q != nil && q.ParentID != 0 {
		if parent := c.byID[q.ParentID]; parent != nil && parent.Type == model.TypeGroup {
			if e, ok := c.aggregateGroup(parent); ok {
				effects = append(effects, e)
			}
		}
	}

	effects = c.cascade(effects)
	return append(effects, effect{op: opTouch})
}

// aggregateGroup derives the group's own value from its children: "oui"
// if any visible child says oui, "non" otherwise. The value stays unset
// until every required child has answered.
func (c *Controller) aggregateGroup(group *model.Question) (effect, bool) {
	kids := c.children[group.ID]
	for _, id := range kids {
		child := c.byID[id]
		if child.Required && c.answers[id] == "" {
			return effect{}, false
		}
	}

	value := model.AnswerNo
	for _, id := range kids {
		if c.answers[id] == model.AnswerYes && c.visible(id) {
			value = model.AnswerYes
			break
		}
	}
	c.answers[group.ID] = value
	return c.upsertEffect(group.ID), true
}

// cascade removes answers of questions that the latest change hid.
// It walks the whole forest depth-first against the updated answer map;
// once a node is invisible its entire subtree is off the record, so
// answers below it are forgotten too.
func (c *Controller) cascade(effects []effect) []effect {
	for _, s := range c.sections {
		for _, root := range s.Questions {
			effects = c.cascadeNode(root.ID, effects)
		}
	}
	return effects
}

func (c *Controller) cascadeNode(id int64, effects []effect) []effect {
	if !c.visible(id) {
		return c.forgetSubtree(id, effects)
	}
	for _, child := range c.children[id] {
		effects = c.cascadeNode(child, effects)
	}
	return effects
}

func (c *Controller) forgetSubtree(id int64, effects []effect) []effect {
	if _, ok := c.answers[id]; ok {
		delete(c.answers, id)
		delete(c.notes, id)
		effects = append(effects, effect{op: opDelete, answer: model.Answer{SubmissionID: c.submission.ID, QuestionID: id}})
	}
	for _, child := range c.children[id] {
		effects = c.forgetSubtree(child, effects)
	}
	return effects
}

// NoteChange records a free-text note. Notes live on the answer row, so
// the answer is re-persisted when one exists; otherwise the note waits
// in memory until the question is answered.
func (c *Controller) NoteChange(ctx context.Context, questionID int64, note string) {
	c.mu.Lock()
	c.notes[questionID] = note
	var effects []effect
	if _, ok := c.answers[questionID]; ok {
		effects = append(effects, c.upsertEffect(questionID))
	}
	c.mu.Unlock()
	c.dispatch(ctx, effects)
}

// NextSection validates the current section and advances on success.
// At the last section it validates but does not move; Submit is the
// operation that leaves the questionnaire.
func (c *Controller) NextSection() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if res := c.validateSection(c.section); !res.Valid {
		return &IncompleteError{Missing: res.Missing}
	}
	if c.section < len(c.sections)-1 {
		c.section++
	}
	return nil
}

// PreviousSection steps back one section; no validation applies.
func (c *Controller) PreviousSection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.section > 0 {
		c.section--
	}
}

// Submit finalizes the submission from the last section. It runs the
// same validation as NextSection, captures the snapshot of visible
// answered questions, and persists it synchronously: unlike answer
// writes, a finalization failure is surfaced so the patient can retry.
func (c *Controller) Submit(ctx context.Context) error {
	c.mu.Lock()
	if c.section != len(c.sections)-1 {
		c.mu.Unlock()
		return ErrNotLastSection
	}
	if res := c.validateSection(c.section); !res.Valid {
		c.mu.Unlock()
		return &IncompleteError{Missing: res.Missing}
	}
	snapshot := c.snapshot()
	c.mu.Unlock()

	if err := c.store.FinalizeSubmission(ctx, c.submission.ID, snapshot); err != nil {
		return fmt.Errorf("finalize submission: %w", err)
	}

	c.mu.Lock()
	c.submission.Status = model.StatusSubmitted
	c.submission.SubmissionCount++
	c.mu.Unlock()
	return nil
}

// snapshot captures every currently visible question holding a
// non-blank answer, in section and tree order. Answers still cached for
// hidden questions are excluded.
func (c *Controller) snapshot() []model.SnapshotEntry {
	var entries []model.SnapshotEntry
	var walk func(nodes []*model.QuestionNode)
	walk = func(nodes []*model.QuestionNode) {
		for _, n := range nodes {
			if !c.visible(n.ID) {
				continue
			}
			if value := c.answers[n.ID]; strings.TrimSpace(value) != "" {
				entries = append(entries, model.SnapshotEntry{
					QuestionID: n.ID,
					Text:       n.Text,
					Type:       n.Type,
					Value:      value,
					SectionID:  n.SectionID,
					ParentID:   n.ParentID,
					Required:   n.Required,
					Note:       c.notes[n.ID],
				})
			}
			walk(n.Children)
		}
	}
	for _, s := range c.sections {
		walk(s.Questions)
	}
	return entries
}

// ValidateCurrentSection reports completeness of the section the
// patient is on, for the rendering layer's navigation gate.
func (c *Controller) ValidateCurrentSection() engine.ValidationResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validateSection(c.section)
}

func (c *Controller) validateSection(index int) engine.ValidationResult {
	if index < 0 || index >= len(c.sections) {
		return engine.ValidationResult{Valid: true}
	}
	return engine.ValidateRequired(c.sections[index].Questions, c.answers, func(n *model.QuestionNode) bool {
		return c.visible(n.ID)
	})
}

// Progress is (current section + 1) / total sections.
func (c *Controller) Progress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sections) == 0 {
		return 0
	}
	return float64(c.section+1) / float64(len(c.sections))
}

// visible evaluates a question's condition against the live answer map.
// Callers hold c.mu.
func (c *Controller) visible(id int64) bool {
	cond := c.conds[id]
	if cond == nil {
		return true
	}
	var parentValue string
	if q := c.byID[id]; q != nil && q.ParentID != 0 {
		parentValue = c.answers[q.ParentID]
	}
	return cond.Evaluate(parentValue, c.answers)
}

// Answer returns the live value for a question.
func (c *Controller) Answer(questionID int64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answers[questionID]
}

// Wait blocks until all background persistence launched so far has
// settled. Used on shutdown and in tests; the interactive flow never
// waits.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) upsertEffect(questionID int64) effect {
	return effect{
		op: opUpsert,
		answer: model.Answer{
			SubmissionID: c.submission.ID,
			QuestionID:   questionID,
			Value:        c.answers[questionID],
			Note:         c.notes[questionID],
		},
	}
}
