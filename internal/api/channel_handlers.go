package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/netdevpbx/netdevpbx/internal/media"
	"github.com/netdevpbx/netdevpbx/internal/session"
)

// maxDTMFDigits bounds the digits sent in one request.
const maxDTMFDigits = 32

type channelResponse struct {
	ID          string            `json:"id"`
	CallID      string            `json:"call_id"`
	Name        string            `json:"name"`
	Caller      string            `json:"caller"`
	Destination string            `json:"destination"`
	State       string            `json:"state"`
	CreatedAt   string            `json:"created_at"`
	AnsweredAt  *string           `json:"answered_at"`
	Variables   map[string]string `json:"variables"`
}

func toChannelResponse(ch *session.Channel) channelResponse {
	resp := channelResponse{
		ID:          ch.ID(),
		CallID:      ch.CallID(),
		Name:        ch.Name(),
		Caller:      ch.Caller(),
		Destination: ch.Destination(),
		State:       string(ch.State()),
		CreatedAt:   ch.CreatedAt().Format(time.RFC3339),
		Variables:   ch.Variables(),
	}
	if at := ch.AnsweredAt(); !at.IsZero() {
		s := at.Format(time.RFC3339)
		resp.AnsweredAt = &s
	}
	return resp
}

// lookupChannel resolves the {id} URL parameter, writing a 404 when the
// channel is gone.
func (s *Server) lookupChannel(w http.ResponseWriter, r *http.Request) (*session.Channel, bool) {
	ch, ok := s.deps.Channels.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "channel not found")
		return nil, false
	}
	return ch, true
}

// handleListChannels returns the live channels, oldest first.
func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels := s.deps.Channels.List()
	items := make([]channelResponse, len(channels))
	for i, ch := range channels {
		items[i] = toChannelResponse(ch)
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.lookupChannel(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toChannelResponse(ch))
}

// handleHangupChannel hangs up a live channel on behalf of an operator.
func (s *Server) handleHangupChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.lookupChannel(w, r)
	if !ok {
		return
	}
	s.logger.Info("hanging up channel on request", "channel_id", ch.ID(), "remote_addr", r.RemoteAddr)
	ch.Hangup(session.CauseAdmin)
	w.WriteHeader(http.StatusNoContent)
}

type dtmfRequest struct {
	Digits string `json:"digits"`
}

// handleSendDTMF plays key presses to the caller as RFC 4733 events.
func (s *Server) handleSendDTMF(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.lookupChannel(w, r)
	if !ok {
		return
	}

	var req dtmfRequest
	if msg := readJSON(r, &req); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if req.Digits == "" || len(req.Digits) > maxDTMFDigits {
		writeError(w, http.StatusBadRequest, "digits must be 1 to 32 characters")
		return
	}
	for i := 0; i < len(req.Digits); i++ {
		if !media.ValidSignal(req.Digits[i]) {
			writeError(w, http.StatusBadRequest, "digits may only contain 0-9, *, # and A-D")
			return
		}
	}

	if err := ch.SendDigits(r.Context(), req.Digits); err != nil {
		if errors.Is(err, session.ErrHungUp) {
			writeError(w, http.StatusConflict, "channel hung up")
			return
		}
		s.logger.Error("send dtmf: failed", "channel_id", ch.ID(), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sent": req.Digits})
}

type applicationResponse struct {
	Name        string `json:"name"`
	Syntax      string `json:"syntax"`
	Description string `json:"description"`
}

// handleListApplications lists the dialplan applications available to
// extensions.
func (s *Server) handleListApplications(w http.ResponseWriter, r *http.Request) {
	apps := s.deps.Dialplan.Registry().List()
	items := make([]applicationResponse, len(apps))
	for i, app := range apps {
		items[i] = applicationResponse{
			Name:        app.Name(),
			Syntax:      app.Syntax(),
			Description: app.Description(),
		}
	}
	writeJSON(w, http.StatusOK, items)
}

// handleGetDialplan returns the loaded extensions.
func (s *Server) handleGetDialplan(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Dialplan.Dialplan())
}
