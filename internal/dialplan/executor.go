package dialplan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/netdevpbx/netdevpbx/internal/events"
	"github.com/netdevpbx/netdevpbx/internal/session"
)

// Executor runs extensions on channels.
type Executor struct {
	registry *Registry
	dialplan *Dialplan
	logger   *slog.Logger
}

// NewExecutor creates an executor. The dialplan must validate against the
// registry.
func NewExecutor(reg *Registry, dp *Dialplan, logger *slog.Logger) (*Executor, error) {
	if err := dp.Validate(reg); err != nil {
		return nil, err
	}
	return &Executor{
		registry: reg,
		dialplan: dp,
		logger:   logger.With("subsystem", "dialplan"),
	}, nil
}

// Lookup returns the extension for a dialled number.
func (e *Executor) Lookup(number string) (*Extension, bool) {
	return e.dialplan.Lookup(number)
}

// Registry returns the applications the executor can run.
func (e *Executor) Registry() *Registry { return e.registry }

// Dialplan returns the loaded extensions.
func (e *Executor) Dialplan() *Dialplan { return e.dialplan }

// Execute runs ext's actions in order, publishing CHANNEL_EXECUTE_COMPLETE
// after each. A failing application is logged and execution continues while
// the channel is up. The channel is hung up when the actions run out.
func (e *Executor) Execute(ctx context.Context, ch Channel, ext *Extension) error {
	logger := e.logger.With("channel_id", ch.ID(), "call_id", ch.CallID(), "extension", ext.Number)
	logger.Info("executing extension", "actions", len(ext.Actions))

	defer func() {
		if ch.Ready() {
			ch.Hangup(session.CauseNormalClearing)
		}
	}()

	for _, action := range ext.Actions {
		if !ch.Ready() {
			logger.Debug("channel hung up, stopping extension")
			return nil
		}

		app, ok := e.registry.Lookup(action.Application)
		if !ok {
			return fmt.Errorf("%w %q", ErrUnknownApplication, action.Application)
		}

		logger.Debug("executing application", "application", action.Application, "data", action.Data)
		result, err := app.Run(ctx, ch, action.Data)
		switch {
		case err == nil:
		case errors.Is(err, session.ErrHungUp), errors.Is(err, context.Canceled):
			logger.Debug("application interrupted", "application", action.Application, "error", err)
		default:
			logger.Warn("application failed", "application", action.Application, "error", err)
		}

		ch.Publish(events.Event{
			Type:        events.ChannelExecuteComplete,
			Application: action.Application,
			Data:        action.Data,
			Result:      result,
		})

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}
