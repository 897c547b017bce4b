package database

import (
	"context"
	"log/slog"

	"github.com/netdevpbx/netdevpbx/internal/database/models"
	"github.com/netdevpbx/netdevpbx/internal/events"
)

// TrackCalls writes call detail records from channel lifecycle events until
// ctx is cancelled or in is closed.
func TrackCalls(ctx context.Context, calls CallRepository, in <-chan events.Event, logger *slog.Logger) {
	logger = logger.With("subsystem", "call-tracker")
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-in:
			if !ok {
				return
			}
			var err error
			switch e.Type {
			case events.ChannelCreate:
				err = calls.Create(ctx, &models.Call{
					CallID:      e.CallID,
					ChannelID:   e.ChannelID,
					Caller:      e.Caller,
					Destination: e.Destination,
					StartedAt:   e.Time.UTC(),
				})
			case events.ChannelAnswer:
				err = calls.MarkAnswered(ctx, e.ChannelID, e.Time.UTC())
			case events.ChannelDestroy:
				err = calls.MarkEnded(ctx, e.ChannelID, e.Time.UTC(), e.Cause)
			}
			if err != nil {
				logger.Error("failed to record call event", "type", e.Type, "channel_id", e.ChannelID, "error", err)
			}
		}
	}
}
