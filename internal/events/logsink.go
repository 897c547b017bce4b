package events

import "log/slog"

// LogSink writes channel lifecycle and DTMF events to a logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a sink logging under the "channel-events" subsystem.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("subsystem", "channel-events")}
}

// Publish implements Sink.
func (s *LogSink) Publish(e Event) {
	switch e.Type {
	case ChannelCreate:
		s.logger.Info("a new channel is born", "channel", e.ChannelName, "channel_id", e.ChannelID, "call_id", e.CallID)
	case ChannelAnswer:
		s.logger.Info("channel answered", "channel", e.ChannelName, "channel_id", e.ChannelID)
	case ChannelDestroy:
		s.logger.Info("a channel has been destroyed", "channel", e.ChannelName, "channel_id", e.ChannelID, "call_id", e.CallID, "cause", e.Cause)
	case DTMF:
		s.logger.Info("dtmf received", "channel", e.ChannelName, "digit", e.Digit, "source", e.Source)
	case ChannelExecuteComplete:
		s.logger.Debug("application complete", "channel", e.ChannelName, "application", e.Application, "result", e.Result)
	default:
		s.logger.Debug("unhandled event", "type", e.Type)
	}
}
