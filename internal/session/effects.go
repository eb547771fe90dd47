package session

import (
	"context"

	"github.com/aferrand/preintake/internal/model"
)

// effect is one storage write produced by a state transition. State
// mutates synchronously and returns its effects; dispatch performs them
// in the background so persistence never blocks the patient.
type effect struct {
	op     effectOp
	answer model.Answer
}

type effectOp int

const (
	opUpsert effectOp = iota
	opDelete
	opTouch
)

// dispatch launches every effect on its own goroutine. Effects from one
// change may race each other to storage; ordering only matters for the
// in-memory transition, which already happened. Failures are logged and
// swallowed: the in-memory state stays authoritative for the session.
func (c *Controller) dispatch(ctx context.Context, effects []effect) {
	if len(effects) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, e := range effects {
		c.wg.Add(1)
		go func(e effect) {
			defer c.wg.Done()
			var err error
			switch e.op {
			case opUpsert:
				err = c.store.UpsertAnswer(ctx, e.answer)
			case opDelete:
				err = c.store.DeleteAnswer(ctx, c.submission.ID, e.answer.QuestionID)
			case opTouch:
				err = c.store.TouchSubmission(ctx, c.submission.ID)
			}
			if err != nil {
				c.log.Error("persist questionnaire state",
					"submission_id", c.submission.ID,
					"question_id", e.answer.QuestionID,
					"error", err)
			}
		}(e)
	}
}
