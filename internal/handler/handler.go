// Package handler exposes the questionnaire over a JSON API. Each draft
// submission gets a long-lived session controller; the handler keeps the
// registry and translates controller errors into HTTP responses.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/aferrand/preintake/internal/engine"
	"github.com/aferrand/preintake/internal/i18n"
	"github.com/aferrand/preintake/internal/model"
	"github.com/aferrand/preintake/internal/session"
	"github.com/aferrand/preintake/internal/store"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store store.Store

	mu       sync.Mutex
	sessions map[string]*session.Controller
}

// New creates a new Handler.
func New(s store.Store) *Handler {
	return &Handler{
		store:    s,
		sessions: make(map[string]*session.Controller),
	}
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/submissions", h.handleCreate)
	r.Get("/api/submissions/key/{secureKey}", h.handleByKey)
	r.Get("/api/submissions/{submissionID}/section", h.handleSection)
	r.Post("/api/submissions/{submissionID}/answers", h.handleAnswer)
	r.Post("/api/submissions/{submissionID}/notes", h.handleNote)
	r.Post("/api/submissions/{submissionID}/next", h.handleNext)
	r.Post("/api/submissions/{submissionID}/previous", h.handlePrevious)
	r.Post("/api/submissions/{submissionID}/submit", h.handleSubmit)
}

// Shutdown waits for the background writes of every live session.
func (h *Handler) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.sessions {
		c.Wait()
	}
}

// controller returns the live session for a draft submission, creating
// it on first access so patients can resume where they left off.
func (h *Handler) controller(r *http.Request, submissionID string) (*session.Controller, error) {
	h.mu.Lock()
	if c, ok := h.sessions[submissionID]; ok {
		h.mu.Unlock()
		return c, nil
	}
	h.mu.Unlock()

	sub, err := h.store.Submission(r.Context(), submissionID)
	if err != nil {
		return nil, err
	}
	c, err := session.New(r.Context(), h.store, sub, slog.Default())
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.sessions[submissionID]; ok {
		return existing, nil
	}
	h.sessions[submissionID] = c
	return c, nil
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var patient model.PatientInfo
	if err := json.NewDecoder(r.Body).Decode(&patient); err != nil {
		writeError(w, http.StatusBadRequest, i18n.T(r.Context(), "InvalidRequest"))
		return
	}

	sub, err := h.store.CreateSubmission(r.Context(), patient)
	if err != nil {
		slog.Error("create submission", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// handleByKey serves a clinician or returning patient looking up a
// submission by its secure key. Submitted questionnaires come back with
// their snapshot; drafts come back with the id so the session can resume.
func (h *Handler) handleByKey(w http.ResponseWriter, r *http.Request) {
	sub, err := h.store.SubmissionByKey(r.Context(), chi.URLParam(r, "secureKey"))
	if err != nil {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "SubmissionNotFound"))
		return
	}

	resp := struct {
		Submission model.Submission      `json:"submission"`
		Snapshot   []model.SnapshotEntry `json:"snapshot,omitempty"`
	}{Submission: sub}

	if sub.Status == model.StatusSubmitted {
		snapshot, err := h.store.Snapshot(r.Context(), sub.ID)
		if err != nil {
			slog.Error("load snapshot", "submission", sub.ID, "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp.Snapshot = snapshot
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSection(w http.ResponseWriter, r *http.Request) {
	c, ok := h.draftSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sectionResponse(r, c.CurrentSection()))
}

// sectionResponse decorates the section view with the localized
// position label the client shows above the questions.
func sectionResponse(r *http.Request, view session.SectionView) any {
	return struct {
		session.SectionView
		PositionLabel string `json:"position_label"`
	}{
		SectionView: view,
		PositionLabel: i18n.Td(r.Context(), "SectionN", map[string]any{
			"Index": view.Index + 1,
			"Total": view.Total,
		}),
	}
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	c, ok := h.draftSession(w, r)
	if !ok {
		return
	}

	var req struct {
		QuestionID int64  `json:"question_id"`
		Value      string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QuestionID == 0 {
		writeError(w, http.StatusBadRequest, i18n.T(r.Context(), "InvalidRequest"))
		return
	}

	c.AnswerChange(r.Context(), req.QuestionID, req.Value)
	writeJSON(w, http.StatusOK, sectionResponse(r, c.CurrentSection()))
}

func (h *Handler) handleNote(w http.ResponseWriter, r *http.Request) {
	c, ok := h.draftSession(w, r)
	if !ok {
		return
	}

	var req struct {
		QuestionID int64  `json:"question_id"`
		Note       string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.QuestionID == 0 {
		writeError(w, http.StatusBadRequest, i18n.T(r.Context(), "InvalidRequest"))
		return
	}

	c.NoteChange(r.Context(), req.QuestionID, req.Note)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleNext(w http.ResponseWriter, r *http.Request) {
	c, ok := h.draftSession(w, r)
	if !ok {
		return
	}

	if err := c.NextSection(); err != nil {
		h.writeValidationError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sectionResponse(r, c.CurrentSection()))
}

func (h *Handler) handlePrevious(w http.ResponseWriter, r *http.Request) {
	c, ok := h.draftSession(w, r)
	if !ok {
		return
	}
	c.PreviousSection()
	writeJSON(w, http.StatusOK, sectionResponse(r, c.CurrentSection()))
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	c, ok := h.draftSession(w, r)
	if !ok {
		return
	}

	if err := c.Submit(r.Context()); err != nil {
		switch {
		case errors.Is(err, session.ErrNotLastSection):
			writeError(w, http.StatusConflict, i18n.T(r.Context(), "SubmitFromLastSection"))
		case isIncomplete(err):
			h.writeValidationError(w, r, err)
		default:
			slog.Error("submit", "submission", c.Submission().ID, "error", err)
			writeError(w, http.StatusInternalServerError, i18n.T(r.Context(), "SubmitFailed"))
		}
		return
	}

	h.mu.Lock()
	delete(h.sessions, c.Submission().ID)
	h.mu.Unlock()
	c.Wait()

	writeJSON(w, http.StatusOK, c.Submission())
}

// draftSession resolves the routed submission to a live session,
// refusing submissions that already reached their terminal status.
func (h *Handler) draftSession(w http.ResponseWriter, r *http.Request) (*session.Controller, bool) {
	id := chi.URLParam(r, "submissionID")
	c, err := h.controller(r, id)
	if err != nil {
		writeError(w, http.StatusNotFound, i18n.T(r.Context(), "SubmissionNotFound"))
		return nil, false
	}
	if c.Submission().Status == model.StatusSubmitted {
		writeError(w, http.StatusConflict, i18n.T(r.Context(), "SubmissionAlreadySubmitted"))
		return nil, false
	}
	return c, true
}

type missingPayload struct {
	QuestionID int64  `json:"question_id"`
	Label      string `json:"label"`
	Message    string `json:"message"`
}

func (h *Handler) writeValidationError(w http.ResponseWriter, r *http.Request, err error) {
	var inc *session.IncompleteError
	if !errors.As(err, &inc) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	missing := make([]missingPayload, len(inc.Missing))
	for i, m := range inc.Missing {
		msg := i18n.T(r.Context(), "QuestionUnanswered")
		if m.Reason == engine.MissingGroupEmpty {
			msg = i18n.T(r.Context(), "GroupNeedsAnswer")
		}
		missing[i] = missingPayload{QuestionID: m.Question.ID, Label: m.Path, Message: msg}
	}

	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"error":   i18n.Tp(r.Context(), "SectionIncomplete", len(missing)),
		"missing": missing,
	})
}

func isIncomplete(err error) bool {
	var inc *session.IncompleteError
	return errors.As(err, &inc)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
