package api

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/netdevpbx/netdevpbx/internal/database"
	"github.com/netdevpbx/netdevpbx/internal/database/models"
)

type callResponse struct {
	ID          int64   `json:"id"`
	CallID      string  `json:"call_id"`
	ChannelID   string  `json:"channel_id"`
	Caller      string  `json:"caller"`
	Destination string  `json:"destination"`
	StartedAt   string  `json:"started_at"`
	AnsweredAt  *string `json:"answered_at"`
	EndedAt     *string `json:"ended_at"`
	Duration    *int64  `json:"duration_seconds"`
	HangupCause string  `json:"hangup_cause"`
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func toCallResponse(c *models.Call) callResponse {
	resp := callResponse{
		ID:          c.ID,
		CallID:      c.CallID,
		ChannelID:   c.ChannelID,
		Caller:      c.Caller,
		Destination: c.Destination,
		StartedAt:   c.StartedAt.Format(time.RFC3339),
		AnsweredAt:  formatTime(c.AnsweredAt),
		EndedAt:     formatTime(c.EndedAt),
		HangupCause: c.HangupCause,
	}
	if c.EndedAt != nil {
		d := int64(c.EndedAt.Sub(c.StartedAt).Seconds())
		resp.Duration = &d
	}
	return resp
}

// handleListCalls returns call detail records, newest first.
func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	p, msg := parsePagination(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	calls, total, err := s.deps.Store.Calls.List(r.Context(), database.ListFilter{Limit: p.Limit, Offset: p.Offset})
	if err != nil {
		s.logger.Error("list calls: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]callResponse, len(calls))
	for i := range calls {
		items[i] = toCallResponse(&calls[i])
	}
	writeJSON(w, http.StatusOK, PaginatedResponse{Items: items, Total: total, Limit: p.Limit, Offset: p.Offset})
}

type collectionResponse struct {
	ID          int64  `json:"id"`
	ChannelID   string `json:"channel_id"`
	CallID      string `json:"call_id"`
	Application string `json:"application"`
	VarName     string `json:"var_name,omitempty"`
	Requested   int    `json:"requested"`
	TimeoutMS   int    `json:"timeout_ms"`
	Digits      string `json:"digits"`
	Result      string `json:"result"`
	Reason      string `json:"reason,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func toCollectionResponse(c *models.DigitCollection) collectionResponse {
	return collectionResponse{
		ID:          c.ID,
		ChannelID:   c.ChannelID,
		CallID:      c.CallID,
		Application: c.Application,
		VarName:     c.VarName,
		Requested:   c.Requested,
		TimeoutMS:   c.TimeoutMS,
		Digits:      c.Digits,
		Result:      c.Result,
		Reason:      c.Reason,
		CreatedAt:   c.CreatedAt.Format(time.RFC3339),
	}
}

// handleListCollections returns digit collection outcomes, optionally
// filtered by ?result=success|timeout|failure.
func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	p, msg := parsePagination(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	result := r.URL.Query().Get("result")
	switch result {
	case "", "success", "timeout", "failure":
	default:
		writeError(w, http.StatusBadRequest, "result must be one of success, timeout, failure")
		return
	}

	collections, total, err := s.deps.Store.Collections.List(r.Context(), database.CollectionListFilter{
		ListFilter: database.ListFilter{Limit: p.Limit, Offset: p.Offset},
		Result:     result,
	})
	if err != nil {
		s.logger.Error("list collections: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]collectionResponse, len(collections))
	for i := range collections {
		items[i] = toCollectionResponse(&collections[i])
	}
	writeJSON(w, http.StatusOK, PaginatedResponse{Items: items, Total: total, Limit: p.Limit, Offset: p.Offset})
}

// handleCollectionSummary returns the number of collections per result.
func (s *Server) handleCollectionSummary(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Store.Collections.CountByResult(r.Context())
	if err != nil {
		s.logger.Error("collection summary: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	summary := map[string]int64{"success": 0, "timeout": 0, "failure": 0}
	for result, n := range counts {
		summary[result] = n
	}
	writeJSON(w, http.StatusOK, summary)
}

type recordingResponse struct {
	ID         int64  `json:"id"`
	ChannelID  string `json:"channel_id"`
	CallID     string `json:"call_id"`
	Digits     string `json:"digits"`
	FileName   string `json:"file_name"`
	SizeBytes  int64  `json:"size_bytes"`
	DurationMS int64  `json:"duration_ms"`
	CreatedAt  string `json:"created_at"`
	AudioURL   string `json:"audio_url"`
}

func toRecordingResponse(rec *models.Recording) recordingResponse {
	return recordingResponse{
		ID:         rec.ID,
		ChannelID:  rec.ChannelID,
		CallID:     rec.CallID,
		Digits:     rec.Digits,
		FileName:   filepath.Base(rec.FilePath),
		SizeBytes:  rec.SizeBytes,
		DurationMS: rec.DurationMS,
		CreatedAt:  rec.CreatedAt.Format(time.RFC3339),
		AudioURL:   fmt.Sprintf("/api/v1/recordings/%d/audio", rec.ID),
	}
}

func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	p, msg := parsePagination(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	recs, total, err := s.deps.Store.Recordings.List(r.Context(), database.ListFilter{Limit: p.Limit, Offset: p.Offset})
	if err != nil {
		s.logger.Error("list recordings: failed to query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]recordingResponse, len(recs))
	for i := range recs {
		items[i] = toRecordingResponse(&recs[i])
	}
	writeJSON(w, http.StatusOK, PaginatedResponse{Items: items, Total: total, Limit: p.Limit, Offset: p.Offset})
}

// lookupRecording resolves the {id} URL parameter, writing the error
// response itself when it returns nil.
func (s *Server) lookupRecording(w http.ResponseWriter, r *http.Request) *models.Recording {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid recording id")
		return nil
	}
	rec, err := s.deps.Store.Recordings.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("get recording: failed to query", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "recording not found")
		return nil
	}
	return rec
}

func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request) {
	if rec := s.lookupRecording(w, r); rec != nil {
		writeJSON(w, http.StatusOK, toRecordingResponse(rec))
	}
}

// handleRecordingAudio streams the WAV file. Range requests are honoured.
func (s *Server) handleRecordingAudio(w http.ResponseWriter, r *http.Request) {
	rec := s.lookupRecording(w, r)
	if rec == nil {
		return
	}

	f, err := os.Open(rec.FilePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeError(w, http.StatusNotFound, "recording file not found on disk")
			return
		}
		s.logger.Error("recording audio: failed to open file", "id", rec.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer f.Close()

	name := filepath.Base(rec.FilePath)
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", name))
	http.ServeContent(w, r, name, rec.CreatedAt, f)
}
