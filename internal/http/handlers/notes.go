package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/notevault/server/internal/logger"
	"github.com/notevault/server/internal/middleware"
	"github.com/notevault/server/internal/model"
	"github.com/notevault/server/internal/repo"
)

// NotesHandler serves the caller's notes.
type NotesHandler struct {
	notes repo.NoteRepo
	log   *slog.Logger
}

func NewNotesHandler(notes repo.NoteRepo, log *slog.Logger) *NotesHandler {
	if log == nil {
		log = logger.Discard()
	}
	return &NotesHandler{notes: notes, log: log.With(logger.Component("notes_handler"))}
}

type createNoteRequest struct {
	Content string `json:"content"`
}

type noteResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

func newNoteResponse(n model.Note) noteResponse {
	return noteResponse{
		ID:        n.ID.String(),
		UserID:    n.UserID.String(),
		Content:   n.Content,
		CreatedAt: n.CreatedAt,
	}
}

// HandleCreate handles POST /notes
func (h *NotesHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		respondWithError(w, http.StatusBadRequest, "Content required")
		return
	}

	note, err := h.notes.Create(r.Context(), identity.ID, req.Content)
	if err != nil {
		h.log.ErrorContext(r.Context(), "failed to create note", logger.UserID(identity.ID), logger.Error(err))
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]noteResponse{"note": newNoteResponse(note)})
}

// HandleList handles GET /notes
func (h *NotesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	notes, err := h.notes.ListByUser(r.Context(), identity.ID)
	if err != nil {
		h.log.ErrorContext(r.Context(), "failed to list notes", logger.UserID(identity.ID), logger.Error(err))
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]noteResponse, 0, len(notes))
	for _, n := range notes {
		out = append(out, newNoteResponse(n))
	}
	respondJSON(w, http.StatusOK, map[string][]noteResponse{"notes": out})
}

// HandleDelete handles DELETE /notes/{id}. Deleting a note the caller does
// not own is a no-op.
func (h *NotesHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	noteID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid note id")
		return
	}

	if err := h.notes.Delete(r.Context(), identity.ID, noteID); err != nil {
		h.log.ErrorContext(r.Context(), "failed to delete note", logger.UserID(identity.ID), logger.Error(err))
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message": "Note deleted"})
}
