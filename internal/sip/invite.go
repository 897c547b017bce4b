package sip

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/netdevpbx/netdevpbx/internal/dialplan"
	"github.com/netdevpbx/netdevpbx/internal/media"
	"github.com/netdevpbx/netdevpbx/internal/session"
)

// call ties a live channel to its INVITE dialog.
type call struct {
	ch  *session.Channel
	dlg *dialog
}

// callTable indexes live calls by SIP Call-ID.
type callTable struct {
	mu    sync.RWMutex
	calls map[string]*call
}

func newCallTable() *callTable {
	return &callTable{calls: make(map[string]*call)}
}

func (t *callTable) add(callID string, c *call) {
	t.mu.Lock()
	t.calls[callID] = c
	t.mu.Unlock()
}

func (t *callTable) get(callID string) *call {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.calls[callID]
}

func (t *callTable) remove(callID string, c *call) {
	t.mu.Lock()
	if t.calls[callID] == c {
		delete(t.calls, callID)
	}
	t.mu.Unlock()
}

func (t *callTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.calls)
}

// Dialplan resolves a dialled number and runs the extension.
// *dialplan.Executor implements it.
type Dialplan interface {
	Lookup(number string) (*dialplan.Extension, bool)
	Execute(ctx context.Context, ch dialplan.Channel, ext *dialplan.Extension) error
}

// InviteOptions configures call setup.
type InviteOptions struct {
	MediaIP    string
	Policy     media.NegotiationPolicy
	InbandDTMF bool
}

// InviteHandler turns incoming INVITEs into channels and runs the dialled
// extension on each of them.
type InviteHandler struct {
	opts     InviteOptions
	channels *session.Manager
	dialplan Dialplan
	ports    *media.PortPool
	auth     *Authenticator // nil when authentication is disabled
	limiter  *SourceLimiter // nil when rate limiting is disabled
	client   *sipgo.Client
	contact  sip.ContactHeader
	calls    *callTable
	tracer   *MessageTracer
	logger   *slog.Logger
}

// HandleInvite processes an incoming INVITE. It blocks until the INVITE
// transaction has its final response, which sipgo requires before the
// transaction is released.
func (h *InviteHandler) HandleInvite(req *sip.Request, tx sip.ServerTransaction) {
	h.tracer.Request("recv", req)
	callID := ""
	if cid := req.CallID(); cid != nil {
		callID = cid.Value()
	}

	if c := h.calls.get(callID); c != nil {
		h.logger.Debug("re-invite received", "call_id", callID)
		c.dlg.Reinvite(req, tx)
		return
	}

	logger := h.logger.With("call_id", callID)
	logger.Info("invite received",
		"from", req.From().Address.User,
		"to", req.Recipient.User,
		"source", req.Source(),
	)

	if h.limiter != nil && !h.limiter.Allow(req.Source()) {
		logger.Warn("invite rate exceeded", "source", req.Source())
		res := sip.NewResponseFromRequest(req, 503, "Service Unavailable", nil)
		res.AppendHeader(sip.NewHeader("Retry-After", "5"))
		if err := tx.Respond(res); err != nil {
			logger.Error("failed to send 503", "error", err)
		}
		return
	}

	if err := tx.Respond(sip.NewResponseFromRequest(req, 100, "Trying", nil)); err != nil {
		logger.Error("failed to send 100 trying", "error", err)
		return
	}

	if h.auth != nil && !h.auth.Authenticate(req, tx) {
		return
	}

	number := req.Recipient.User
	ext, ok := h.dialplan.Lookup(number)
	if !ok {
		logger.Info("no extension for dialled number", "number", number)
		respond(tx, req, 404, "Not Found")
		return
	}

	negotiated, status, reason := h.negotiate(req)
	if negotiated == nil {
		logger.Warn("sdp negotiation failed", "status", status, "reason", reason)
		respond(tx, req, status, reason)
		return
	}

	var chRef atomic.Pointer[session.Channel]
	endpoint, err := media.NewEndpoint(h.ports, media.EndpointConfig{
		Negotiated: negotiated,
		InbandDTMF: h.opts.InbandDTMF,
		OnSignal: func(signal byte, source media.SignalSource) {
			if ch := chRef.Load(); ch != nil {
				ch.ReceiveSignal(signal, source)
			}
		},
	}, h.logger)
	if err != nil {
		logger.Error("failed to allocate media endpoint", "error", err)
		if errors.Is(err, media.ErrNoPorts) {
			respond(tx, req, 503, "Service Unavailable")
		} else {
			respond(tx, req, 500, "Internal Server Error")
		}
		return
	}

	answer := media.BuildAnswer(h.opts.MediaIP, endpoint.LocalPort(), negotiated).Marshal()
	dlg := newDialog(req, tx, h.client, h.contact, answer, h.tracer, logger)

	ch := h.channels.Create(session.Params{
		CallID:      callID,
		Caller:      req.From().Address.User,
		Destination: number,
		Media:       endpoint,
		Signaller:   dlg,
	})
	chRef.Store(ch)
	c := &call{ch: ch, dlg: dlg}
	h.calls.add(callID, c)
	endpoint.Start(ch.Context())

	logger.Info("running extension",
		"channel_id", ch.ID(),
		"extension", ext.Number,
		"codec", negotiated.Codec.Name,
		"rtp_port", endpoint.LocalPort(),
	)

	go func() {
		defer h.calls.remove(callID, c)
		if err := h.dialplan.Execute(ch.Context(), ch, ext); err != nil {
			logger.Error("extension failed", "channel_id", ch.ID(), "error", err)
		}
	}()

	select {
	case <-dlg.Done():
	case <-tx.Done():
		if dlg.Answered() {
			return
		}
		// The transaction ended without our final response, e.g. the
		// caller's CANCEL was answered by the transaction layer.
		logger.Info("invite transaction ended before answer")
		ch.RemoteCancel()
	}
}

// negotiate parses the SDP offer and picks the codec. On failure it
// returns the status to reject the INVITE with.
func (h *InviteHandler) negotiate(req *sip.Request) (*media.Negotiated, int, string) {
	ct := req.ContentType()
	if ct == nil || len(req.Body()) == 0 {
		return nil, 488, "Not Acceptable Here"
	}
	if !strings.HasPrefix(strings.ToLower(ct.Value()), "application/sdp") {
		return nil, 415, "Unsupported Media Type"
	}
	offer, err := media.ParseSDP(req.Body())
	if err != nil {
		return nil, 400, "Bad Request"
	}
	negotiated, err := media.Negotiate(offer, h.opts.Policy)
	if err != nil {
		return nil, 488, "Not Acceptable Here"
	}
	return negotiated, 0, ""
}
