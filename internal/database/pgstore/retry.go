package pgstore

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// retryDelays is the wait before each reconnect attempt.
var retryDelays = []time.Duration{time.Second, 3 * time.Second, 5 * time.Second}

// retry runs fn until it succeeds, fails with a non-retriable error, or the
// delays are exhausted.
func retry(ctx context.Context, logger *slog.Logger, fn func() error) error {
	err := fn()
	for _, delay := range retryDelays {
		if err == nil || !isRetriable(err) {
			return err
		}
		logger.Warn("postgresql unavailable, retrying", "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		err = fn()
	}
	return err
}

// isRetriable reports whether err is a connection exception (class 08), a
// server that is still starting up, a failed dial or a network timeout.
func isRetriable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code) || pgErr.Code == pgerrcode.CannotConnectNow
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
