package sip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"

	"github.com/netdevpbx/netdevpbx/internal/session"
)

// byeTimeout bounds how long Terminate waits for the BYE transaction.
const byeTimeout = 5 * time.Second

// errFinalSent is returned when a response is attempted after the INVITE
// transaction already has its final response.
var errFinalSent = errors.New("final response already sent")

// dialog is the server side of one INVITE dialog. It implements
// session.Signaller for the channel created from the INVITE.
type dialog struct {
	req      *sip.Request
	tx       sip.ServerTransaction
	client   *sipgo.Client
	contact  sip.ContactHeader
	localTag string
	answer   []byte // SDP answer sent with 183 and 200
	tracer   *MessageTracer
	logger   *slog.Logger

	mu       sync.Mutex
	answered bool
	final    bool
	cseq     uint32
	done     chan struct{} // closed once the final response is sent
}

func newDialog(req *sip.Request, tx sip.ServerTransaction, client *sipgo.Client, contact sip.ContactHeader,
	answer []byte, tracer *MessageTracer, logger *slog.Logger) *dialog {
	var cseq uint32
	if h := req.CSeq(); h != nil {
		cseq = h.SeqNo
	}
	return &dialog{
		req:      req,
		tx:       tx,
		client:   client,
		contact:  contact,
		localTag: uuid.NewString()[:8],
		answer:   answer,
		tracer:   tracer,
		logger:   logger,
		cseq:     cseq,
		done:     make(chan struct{}),
	}
}

// Done is closed once the INVITE has a final response.
func (d *dialog) Done() <-chan struct{} { return d.done }

// Answered reports whether the 200 OK was sent.
func (d *dialog) Answered() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.answered
}

// response builds a response in this dialog: our To tag and Contact, plus
// the SDP answer when withSDP is set.
func (d *dialog) response(code int, reason string, withSDP bool) *sip.Response {
	var body []byte
	if withSDP {
		body = d.answer
	}
	res := sip.NewResponseFromRequest(d.req, code, reason, body)
	if to := res.To(); to != nil && code > 100 {
		if to.Params == nil {
			to.Params = sip.NewParams()
		}
		to.Params.Add("tag", d.localTag)
	}
	if code >= 180 && code < 300 {
		res.AppendHeader(&sip.ContactHeader{Address: d.contact.Address})
	}
	if withSDP {
		res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	}
	return res
}

func (d *dialog) send(res *sip.Response) error {
	d.tracer.Response("send", res)
	return d.tx.Respond(res)
}

// sendFinal sends a final response unless one was already sent.
func (d *dialog) sendFinal(res *sip.Response) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.final {
		return errFinalSent
	}
	if err := d.send(res); err != nil {
		return err
	}
	d.final = true
	d.answered = res.StatusCode >= 200 && res.StatusCode < 300
	close(d.done)
	return nil
}

// Progress sends 183 Session Progress with the SDP answer.
func (d *dialog) Progress(_ context.Context, _ *session.Channel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.final {
		return errFinalSent
	}
	return d.send(d.response(183, "Session Progress", true))
}

// Answer sends 200 OK with the SDP answer.
func (d *dialog) Answer(_ context.Context, ch *session.Channel) error {
	if err := d.sendFinal(d.response(200, "OK", true)); err != nil {
		return err
	}
	d.logger.Info("call answered", "channel_id", ch.ID())
	return nil
}

// Terminate ends the call from our side: BYE once answered, otherwise a
// final error response for the INVITE.
func (d *dialog) Terminate(ch *session.Channel, cause string) {
	if !d.Answered() {
		code, reason := causeStatus(cause)
		if err := d.sendFinal(d.response(code, reason, false)); err != nil && !errors.Is(err, errFinalSent) {
			d.logger.Error("failed to reject call", "code", code, "error", err)
		}
		if !d.Answered() {
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), byeTimeout)
	defer cancel()
	if err := d.bye(ctx); err != nil {
		d.logger.Warn("bye failed", "channel_id", ch.ID(), "cause", cause, "error", err)
		return
	}
	d.logger.Debug("bye sent", "channel_id", ch.ID(), "cause", cause)
}

// Cancel answers a CANCELled INVITE with 487 Request Terminated. It reports
// false when the call was already answered.
func (d *dialog) Cancel() bool {
	err := d.sendFinal(d.response(487, "Request Terminated", false))
	if err != nil && !errors.Is(err, errFinalSent) {
		d.logger.Warn("failed to send 487", "error", err)
	}
	return !d.Answered()
}

// Reinvite answers a re-INVITE in this dialog with the original SDP answer.
func (d *dialog) Reinvite(req *sip.Request, tx sip.ServerTransaction) {
	res := sip.NewResponseFromRequest(req, 200, "OK", d.answer)
	res.AppendHeader(&sip.ContactHeader{Address: d.contact.Address})
	res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	d.tracer.Response("send", res)
	if err := tx.Respond(res); err != nil {
		d.logger.Error("failed to answer re-invite", "error", err)
	}
}

// bye sends an in-dialog BYE to the caller and waits for its final response.
func (d *dialog) bye(ctx context.Context) error {
	req := d.byeRequest()
	d.tracer.Request("send", req)

	tx, err := d.client.TransactionRequest(ctx, req, sipgo.ClientRequestBuild)
	if err != nil {
		return fmt.Errorf("sending bye: %w", err)
	}
	defer tx.Terminate()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tx.Done():
			if err := tx.Err(); err != nil {
				return fmt.Errorf("bye transaction: %w", err)
			}
			return errors.New("bye transaction ended without final response")
		case res := <-tx.Responses():
			d.tracer.Response("recv", res)
			if res.StatusCode < 200 {
				continue
			}
			if res.StatusCode >= 300 {
				return fmt.Errorf("bye rejected: %d %s", res.StatusCode, res.Reason)
			}
			return nil
		}
	}
}

// byeRequest builds a BYE for the caller's leg: From and To swap roles, the
// request goes to the caller's Contact at its observed source address.
func (d *dialog) byeRequest() *sip.Request {
	target := d.req.From().Address
	if c := d.req.Contact(); c != nil {
		target = c.Address
	}
	bye := sip.NewRequest(sip.BYE, *target.Clone())
	bye.SipVersion = d.req.SipVersion

	callerTo := d.req.To()
	fromParams := sip.NewParams()
	fromParams.Add("tag", d.localTag)
	bye.AppendHeader(&sip.FromHeader{
		DisplayName: callerTo.DisplayName,
		Address:     *callerTo.Address.Clone(),
		Params:      fromParams,
	})

	callerFrom := d.req.From()
	bye.AppendHeader(&sip.ToHeader{
		DisplayName: callerFrom.DisplayName,
		Address:     *callerFrom.Address.Clone(),
		Params:      callerFrom.Params.Clone(),
	})

	if h := d.req.CallID(); h != nil {
		bye.AppendHeader(sip.HeaderClone(h))
	}

	d.mu.Lock()
	d.cseq++
	seq := d.cseq
	d.mu.Unlock()
	bye.AppendHeader(&sip.CSeqHeader{SeqNo: seq, MethodName: sip.BYE})

	maxFwd := sip.MaxForwardsHeader(70)
	bye.AppendHeader(&maxFwd)

	bye.SetTransport(d.req.Transport())
	bye.SetDestination(d.req.Source())
	return bye
}

// causeStatus maps a hang-up cause to the final response of an unanswered
// INVITE.
func causeStatus(cause string) (int, string) {
	switch cause {
	case session.CauseNoRoute:
		return 404, "Not Found"
	case "USER_BUSY":
		return 486, "Busy Here"
	case "CALL_REJECTED":
		return 603, "Decline"
	case session.CauseShutdown:
		return 503, "Service Unavailable"
	default:
		return 480, "Temporarily Unavailable"
	}
}
