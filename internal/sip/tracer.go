package sip

import (
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/emiago/sipgo/sip"
)

// TraceLevel controls how much of each SIP message is logged.
type TraceLevel int32

const (
	TraceOff TraceLevel = iota
	// TraceHeaders logs the start line and headers without the SDP body.
	TraceHeaders
	// TraceFull logs the complete message.
	TraceFull
)

// ParseTraceLevel converts the sip-trace setting to a TraceLevel.
// Unknown values disable tracing.
func ParseTraceLevel(s string) TraceLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "headers":
		return TraceHeaders
	case "full":
		return TraceFull
	default:
		return TraceOff
	}
}

func (l TraceLevel) String() string {
	switch l {
	case TraceHeaders:
		return "headers"
	case TraceFull:
		return "full"
	default:
		return "off"
	}
}

// MessageTracer logs SIP messages handled by the server at debug level.
type MessageTracer struct {
	logger *slog.Logger
	level  atomic.Int32
}

// NewMessageTracer creates a tracer logging at the given level.
func NewMessageTracer(logger *slog.Logger, level TraceLevel) *MessageTracer {
	t := &MessageTracer{
		logger: logger.With("subsystem", "tracer"),
	}
	t.level.Store(int32(level))
	return t
}

// SetLevel changes the trace level at runtime.
func (t *MessageTracer) SetLevel(l TraceLevel) {
	t.level.Store(int32(l))
	t.logger.Info("sip trace level changed", "level", l.String())
}

// Level returns the current trace level.
func (t *MessageTracer) Level() TraceLevel {
	return TraceLevel(t.level.Load())
}

// Request traces a request received from or sent to peer.
func (t *MessageTracer) Request(direction string, req *sip.Request) {
	if t == nil || t.Level() == TraceOff {
		return
	}
	t.log(direction, req.Source(), req.Destination(), req.String())
}

// Response traces a response received from or sent to peer.
func (t *MessageTracer) Response(direction string, res *sip.Response) {
	if t == nil || t.Level() == TraceOff {
		return
	}
	t.log(direction, res.Source(), res.Destination(), res.String())
}

func (t *MessageTracer) log(direction, source, destination, msg string) {
	t.logger.Debug("sip "+direction,
		"direction", direction,
		"source", source,
		"destination", destination,
		"message", formatMessage(msg, t.Level()),
	)
}

// formatMessage strips the body unless the level is TraceFull.
func formatMessage(msg string, l TraceLevel) string {
	if l == TraceFull {
		return msg
	}
	if head, _, ok := strings.Cut(msg, "\r\n\r\n"); ok {
		return head
	}
	return msg
}
