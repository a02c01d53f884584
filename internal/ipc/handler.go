// Package ipc provides the HTTP API of the claim engine.
package ipc

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/firstclaim/claim-engine/internal/domain"
	"github.com/firstclaim/claim-engine/internal/guard"
	"github.com/firstclaim/claim-engine/internal/orchestrator"
	"github.com/firstclaim/claim-engine/internal/refdata"
	"github.com/firstclaim/claim-engine/internal/store"
)

// Handler holds all dependencies for the HTTP handlers.
type Handler struct {
	Orchestrator *orchestrator.Orchestrator
	Lookup       refdata.Lookup
	DB           *sql.DB
	Sessions     *store.SessionRepo
	Messages     *store.MessageRepo
	Snapshots    *store.SnapshotRepo
	Logger       *zap.Logger
}

// NewHandler creates a Handler over the given orchestrator and lookup.
func NewHandler(orch *orchestrator.Orchestrator, lookup refdata.Lookup, db *sql.DB, logger *zap.Logger) *Handler {
	return &Handler{
		Orchestrator: orch,
		Lookup:       lookup,
		DB:           db,
		Sessions:     &store.SessionRepo{},
		Messages:     &store.MessageRepo{},
		Snapshots:    &store.SnapshotRepo{},
		Logger:       logger,
	}
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger == nil {
		return zap.NewNop()
	}
	return h.Logger
}

// AnalyzeRequest is the body for POST /api/v1/analyze.
type AnalyzeRequest struct {
	ClinicalNotes string       `json:"clinicalNotes"`
	Patient       *PatientInfo `json:"patient,omitempty"`
}

// PatientInfo carries optional demographics.
type PatientInfo struct {
	Sex string `json:"sex,omitempty"`
	Age *int   `json:"age,omitempty"`
}

// ChatRequest is the body for POST /api/v1/chat.
type ChatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// SessionDetail is the response for GET /api/v1/sessions/{id}.
type SessionDetail struct {
	ID            string               `json:"id"`
	Status        domain.SessionStatus `json:"status"`
	ClinicalNotes string               `json:"clinicalNotes"`
	Claim         *domain.Claim        `json:"claim"`
	Highlights    []domain.Highlight   `json:"highlights"`
	Turns         int                  `json:"turns"`
	CreatedAt     int64                `json:"createdAt"`
	UpdatedAt     int64                `json:"updatedAt"`
	Messages      []domain.Message     `json:"messages"`
}

// SnapshotView is one entry of GET /api/v1/sessions/{id}/snapshots.
type SnapshotView struct {
	Turn      int             `json:"turn"`
	Claim     json.RawMessage `json:"claim"`
	Checksum  string          `json:"checksum"`
	CreatedAt int64           `json:"createdAt"`
}

// APIError is a structured error response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Analyze handles POST /api/v1/analyze and streams the turn as SSE.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.ClinicalNotes) == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "clinicalNotes is required"})
		return
	}
	areq := orchestrator.AnalysisRequest{SourceText: req.ClinicalNotes, CallerID: callerID(r)}
	if req.Patient != nil {
		sex := domain.Sex(strings.ToUpper(req.Patient.Sex))
		if sex != "" && !sex.Valid() {
			writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "patient.sex must be M or F"})
			return
		}
		areq.Patient = orchestrator.PatientHints{Sex: sex, Age: req.Patient.Age}
	}

	sink, ok := newSSESink(w, h.logger())
	if !ok {
		writeJSON(w, http.StatusInternalServerError, APIError{Code: 500, Message: "streaming not supported"})
		return
	}
	h.Orchestrator.StartAnalysis(r.Context(), areq, sink)
}

// Chat handles POST /api/v1/chat and streams the turn as SSE.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
		return
	}
	if req.SessionID == "" || strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "sessionId and message are required"})
		return
	}

	sink, ok := newSSESink(w, h.logger())
	if !ok {
		writeJSON(w, http.StatusInternalServerError, APIError{Code: 500, Message: "streaming not supported"})
		return
	}
	h.Orchestrator.ContinueChat(r.Context(), orchestrator.ChatRequest{
		SessionID: req.SessionID,
		Message:   req.Message,
		CallerID:  callerID(r),
	}, sink)
}

// ListSessions handles GET /api/v1/sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Sessions.ListByUser(r.Context(), h.DB, callerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []domain.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GetSession handles GET /api/v1/sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	msgs, err := h.Messages.ListBySession(r.Context(), h.DB, sess.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	highlights := sess.Highlights
	if highlights == nil {
		highlights = []domain.Highlight{}
	}
	writeJSON(w, http.StatusOK, SessionDetail{
		ID:            sess.ID,
		Status:        sess.Status,
		ClinicalNotes: sess.SourceText,
		Claim:         sess.Claim,
		Highlights:    highlights,
		Turns:         sess.Turns,
		CreatedAt:     sess.CreatedAt,
		UpdatedAt:     sess.UpdatedAt,
		Messages:      msgs,
	})
}

// DeleteSession handles DELETE /api/v1/sessions/{id}.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	if err := h.Sessions.Delete(r.Context(), h.DB, sess.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSnapshots handles GET /api/v1/sessions/{id}/snapshots.
func (h *Handler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	snaps, err := h.Snapshots.ListBySession(r.Context(), h.DB, sess.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]SnapshotView, 0, len(snaps))
	for _, s := range snaps {
		views = append(views, SnapshotView{
			Turn:      s.Turn,
			Claim:     json.RawMessage(s.ClaimJSON),
			Checksum:  s.Checksum,
			CreatedAt: s.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// SearchCodes handles GET /api/v1/codes/search?q=...&billable=...&limit=N.
func (h *Handler) SearchCodes(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "q is required"})
		return
	}
	billableOnly := r.URL.Query().Get("billable") != "false"
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		parsed, err := strconv.Atoi(s)
		if err == nil && parsed > 0 {
			limit = parsed
		}
	}

	codes, err := h.Lookup.Search(r.Context(), q, billableOnly, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, codes)
}

// GetCode handles GET /api/v1/codes/{code}.
func (h *Handler) GetCode(w http.ResponseWriter, r *http.Request) {
	code, err := h.Lookup.Get(r.Context(), r.PathValue("code"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, code)
}

// ownedSession loads the {id} session and checks the caller owns it. It
// writes the error response itself.
func (h *Handler) ownedSession(w http.ResponseWriter, r *http.Request) (*domain.Session, bool) {
	sess, err := h.Sessions.GetByID(r.Context(), h.DB, r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	if err := guard.CheckOwner(sess, callerID(r)); err != nil {
		writeError(w, err)
		return nil, false
	}
	return sess, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var engErr *domain.EngineError
	if errors.As(err, &engErr) {
		status := http.StatusInternalServerError
		switch engErr.Code {
		case domain.ErrSessionNotFound.Code, domain.ErrCodeNotFound.Code:
			status = http.StatusNotFound
		case domain.ErrSessionForbidden.Code, domain.ErrBudgetExceeded.Code:
			status = http.StatusForbidden
		case domain.ErrUnauthorized.Code:
			status = http.StatusUnauthorized
		case domain.ErrSessionBusy.Code:
			status = http.StatusConflict
		case domain.ErrEmptyInput.Code:
			status = http.StatusBadRequest
		case domain.ErrRateLimitExceeded.Code:
			status = http.StatusTooManyRequests
		}
		writeJSON(w, status, APIError{Code: engErr.Code, Message: engErr.Message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, APIError{Code: -1, Message: err.Error()})
}

// sseSink writes each turn event as one SSE data frame.
type sseSink struct {
	w      http.ResponseWriter
	f      http.Flusher
	logger *zap.Logger
}

func newSSESink(w http.ResponseWriter, logger *zap.Logger) (*sseSink, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &sseSink{w: w, f: f, logger: logger}, true
}

// Emit implements orchestrator.Sink.
func (s *sseSink) Emit(ev domain.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Error("marshal event", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}
	fmt.Fprintf(s.w, "data: %s\n\n", data)
	s.f.Flush()
}
