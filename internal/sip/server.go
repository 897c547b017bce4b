// Package sip is the signalling side of the server: it accepts INVITEs,
// answers them with an RTP endpoint, and hands each call to the dialplan.
package sip

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"golang.org/x/time/rate"

	"github.com/netdevpbx/netdevpbx/internal/config"
	"github.com/netdevpbx/netdevpbx/internal/media"
	"github.com/netdevpbx/netdevpbx/internal/session"
)

const (
	allowedMethods  = "INVITE, ACK, CANCEL, BYE, OPTIONS, INFO"
	cleanupInterval = time.Minute
	limiterMaxAge   = 10 * time.Minute
)

// Server wraps the sipgo stack with the netdevpbx handlers.
type Server struct {
	cfg     *config.Config
	ua      *sipgo.UserAgent
	srv     *sipgo.Server
	client  *sipgo.Client
	invites *InviteHandler
	calls   *callTable
	tracer  *MessageTracer
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewServer creates a SIP server with all handlers registered.
func NewServer(cfg *config.Config, channels *session.Manager, dp Dialplan, ports *media.PortPool, logger *slog.Logger) (*Server, error) {
	logger = logger.With("component", "sip")

	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent("netdevpbx"),
		sipgo.WithUserAgentHostname(cfg.SIPHost()),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sip user agent: %w", err)
	}

	srv, err := sipgo.NewServer(ua, sipgo.WithServerLogger(logger))
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("creating sip server: %w", err)
	}

	client, err := sipgo.NewClient(ua, sipgo.WithClientLogger(logger))
	if err != nil {
		srv.Close()
		ua.Close()
		return nil, fmt.Errorf("creating sip client: %w", err)
	}

	tracer := NewMessageTracer(logger, ParseTraceLevel(cfg.SIPTrace))
	calls := newCallTable()

	invites := &InviteHandler{
		opts: InviteOptions{
			MediaIP:    cfg.MediaIP(),
			Policy:     cfg.Negotiation(),
			InbandDTMF: cfg.InbandDTMF,
		},
		channels: channels,
		dialplan: dp,
		ports:    ports,
		client:   client,
		contact: sip.ContactHeader{
			Address: sip.Uri{User: "netdevpbx", Host: cfg.MediaIP(), Port: cfg.SIPPort},
		},
		calls:  calls,
		tracer: tracer,
		logger: logger.With("subsystem", "invite"),
	}
	if cfg.AuthEnabled() {
		invites.auth = NewAuthenticator(cfg.SIPAuthUser, cfg.SIPAuthPassword, logger)
	}
	if cfg.InviteRate > 0 {
		invites.limiter = NewSourceLimiter(rate.Limit(cfg.InviteRate), int(cfg.InviteRate*2))
	}

	s := &Server{
		cfg:     cfg,
		ua:      ua,
		srv:     srv,
		client:  client,
		invites: invites,
		calls:   calls,
		tracer:  tracer,
		logger:  logger,
	}
	s.registerHandlers()
	return s, nil
}

// registerHandlers attaches SIP method handlers to the server.
func (s *Server) registerHandlers() {
	s.srv.OnInvite(s.invites.HandleInvite)
	s.srv.OnAck(s.handleACK)
	s.srv.OnBye(s.handleBye)
	s.srv.OnCancel(s.handleCancel)
	s.srv.OnOptions(s.handleOptions)
	s.srv.OnInfo(s.handleInfo)
}

// Start begins listening on UDP and TCP. Listeners run until Stop or ctx
// is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	addr := fmt.Sprintf("0.0.0.0:%d", s.cfg.SIPPort)

	for _, network := range []string{"udp", "tcp"} {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logger.Info("sip listener starting", "transport", network, "addr", addr)
			if err := s.srv.ListenAndServe(ctx, network, addr); err != nil && ctx.Err() == nil {
				s.logger.Error("sip listener stopped", "transport", network, "error", err)
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runCleanup(ctx)
	}()

	return nil
}

// runCleanup periodically expires nonces and idle rate limiter entries.
func (s *Server) runCleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.invites.auth != nil {
				s.invites.auth.CleanExpired()
			}
			if s.invites.limiter != nil {
				if n := s.invites.limiter.Cleanup(limiterMaxAge); n > 0 {
					s.logger.Debug("invite limiter cleanup", "removed", n, "remaining", s.invites.limiter.Len())
				}
			}
		}
	}
}

// Stop shuts down the listeners and waits for them to exit. Live calls
// should be hung up first so their BYEs can still be sent.
func (s *Server) Stop() {
	s.logger.Info("stopping sip server")
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.client.Close()
	s.srv.Close()
	s.ua.Close()
	s.logger.Info("sip server stopped")
}

// ActiveDialogs returns the number of INVITE dialogs still tracked.
func (s *Server) ActiveDialogs() int {
	return s.calls.len()
}

func (s *Server) handleACK(req *sip.Request, tx sip.ServerTransaction) {
	s.tracer.Request("recv", req)
	s.logger.Debug("sip ack received", "call_id", callIDOf(req), "source", req.Source())
}

// handleBye ends the call when the caller hangs up.
func (s *Server) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	s.tracer.Request("recv", req)
	callID := callIDOf(req)

	c := s.calls.get(callID)
	if c == nil {
		s.logger.Debug("bye for unknown call", "call_id", callID, "source", req.Source())
		respond(tx, req, 481, "Call/Transaction Does Not Exist")
		return
	}

	s.logger.Info("caller hung up", "call_id", callID, "channel_id", c.ch.ID())
	respond(tx, req, 200, "OK")
	c.ch.RemoteHangup()
}

// handleCancel abandons a call that has not been answered yet.
func (s *Server) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	s.tracer.Request("recv", req)
	callID := callIDOf(req)

	c := s.calls.get(callID)
	if c == nil {
		respond(tx, req, 481, "Call/Transaction Does Not Exist")
		return
	}
	respond(tx, req, 200, "OK")

	if c.dlg.Cancel() {
		s.logger.Info("call cancelled", "call_id", callID, "channel_id", c.ch.ID())
		c.ch.RemoteCancel()
	}
}

// handleOptions answers keepalive pings.
func (s *Server) handleOptions(req *sip.Request, tx sip.ServerTransaction) {
	s.tracer.Request("recv", req)
	s.logger.Debug("sip options received", "from", req.From().Address.User, "source", req.Source())

	res := sip.NewResponseFromRequest(req, 200, "OK", nil)
	res.AppendHeader(sip.NewHeader("Accept", "application/sdp"))
	res.AppendHeader(sip.NewHeader("Allow", allowedMethods))
	if err := tx.Respond(res); err != nil {
		s.logger.Error("failed to respond to options", "error", err)
	}
}

// handleInfo feeds DTMF carried in SIP INFO into the call's key presses.
func (s *Server) handleInfo(req *sip.Request, tx sip.ServerTransaction) {
	s.tracer.Request("recv", req)
	callID := callIDOf(req)

	c := s.calls.get(callID)
	if c == nil {
		respond(tx, req, 481, "Call/Transaction Does Not Exist")
		return
	}

	ct := req.ContentType()
	if ct == nil {
		respond(tx, req, 200, "OK")
		return
	}
	info, err := media.ParseSIPInfoDTMF(ct.Value(), req.Body())
	if err != nil {
		s.logger.Debug("sip info without dtmf",
			"call_id", callID,
			"content_type", ct.Value(),
			"error", err,
		)
		respond(tx, req, 200, "OK")
		return
	}

	s.logger.Debug("sip info dtmf received",
		"call_id", callID,
		"signal", string(info.Signal),
		"duration", info.Duration,
	)
	c.ch.ReceiveSignal(info.Signal, media.SourceSIPInfo)
	respond(tx, req, 200, "OK")
}

func callIDOf(req *sip.Request) string {
	if cid := req.CallID(); cid != nil {
		return cid.Value()
	}
	return ""
}

// respond sends a body-less response, logging failures.
func respond(tx sip.ServerTransaction, req *sip.Request, code int, reason string) {
	res := sip.NewResponseFromRequest(req, code, reason, nil)
	if err := tx.Respond(res); err != nil {
		slog.Error("failed to send sip response",
			"method", req.Method,
			"code", code,
			"error", err,
		)
	}
}
