package dialplan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/netdevpbx/netdevpbx/internal/database"
	"github.com/netdevpbx/netdevpbx/internal/database/models"
	"github.com/netdevpbx/netdevpbx/internal/dtmf"
)

// ReadResultVariable holds the outcome of the last digit collection.
const ReadResultVariable = "read_result"

// persistTimeout bounds database writes made after a collection, which may
// happen after the caller hung up.
const persistTimeout = 5 * time.Second

// ErrNoArguments is returned by ParseReadDigitsArgs for empty data.
var ErrNoArguments = errors.New("no arguments specified")

// ReadDigitsArgs are the parsed arguments of read_digits.
type ReadDigitsArgs struct {
	Digits  int
	VarName string
	Timeout time.Duration
}

// ParseReadDigitsArgs parses "<num_digits> [<var_name> [<timeout_ms>]]".
// Numbers are read like C atoi: leading digits only, anything else is 0.
// num_digits below 1 becomes 1; an absent timeout is 10 s and a timeout
// below 1000 ms becomes 1000 ms.
func ParseReadDigitsArgs(data string) (ReadDigitsArgs, error) {
	fields := strings.Fields(data)
	if len(fields) == 0 {
		return ReadDigitsArgs{}, ErrNoArguments
	}

	args := ReadDigitsArgs{
		Digits:  atoi(fields[0]),
		Timeout: dtmf.DefaultTimeout,
	}
	if len(fields) > 1 {
		args.VarName = fields[1]
	}
	if len(fields) > 2 {
		args.Timeout = time.Duration(atoi(fields[2])) * time.Millisecond
	}

	if args.Digits < dtmf.MinDigits {
		args.Digits = dtmf.MinDigits
	}
	if args.Timeout < dtmf.MinTimeout {
		args.Timeout = dtmf.MinTimeout
	}
	return args, nil
}

// Request builds the collection request with the default buffer capacity.
func (a ReadDigitsArgs) Request() dtmf.Request {
	return dtmf.NewRequest(a.Digits, a.Timeout, dtmf.DefaultCapacity)
}

// maxAtoi caps parsed numbers well below int overflow.
const maxAtoi = 1 << 30

func atoi(s string) int {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	neg := false
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		neg = s[i] == '-'
		i++
	}
	n := 0
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
		n = n*10 + int(s[i]-'0')
		if n > maxAtoi {
			n = maxAtoi
		}
	}
	if neg {
		return -n
	}
	return n
}

// ReadDigits is the read_digits application: it collects a fixed number of
// DTMF digits, stores them in a channel variable and sets read_result.
type ReadDigits struct {
	collections database.CollectionRepository
	logger      *slog.Logger
}

// NewReadDigits creates the application. collections may be nil.
func NewReadDigits(collections database.CollectionRepository, logger *slog.Logger) *ReadDigits {
	return &ReadDigits{
		collections: collections,
		logger:      logger.With("application", "read_digits"),
	}
}

func (a *ReadDigits) Name() string   { return "read_digits" }
func (a *ReadDigits) Syntax() string { return "<num_digits> [<var_name> [<timeout>]]" }
func (a *ReadDigits) Description() string {
	return "Collect DTMF digits into a channel variable, ignoring * and #"
}

// Run implements Application. The returned label is the value written to
// read_result.
func (a *ReadDigits) Run(ctx context.Context, ch Channel, data string) (string, error) {
	logger := a.logger.With("channel_id", ch.ID(), "call_id", ch.CallID())

	if err := ch.PreAnswer(ctx); err != nil {
		ch.SetVariable(ReadResultVariable, dtmf.Failure.String())
		return dtmf.Failure.String(), fmt.Errorf("pre-answering: %w", err)
	}

	args, err := ParseReadDigitsArgs(data)
	if err != nil {
		logger.Error("no arguments specified")
		ch.SetVariable(ReadResultVariable, dtmf.Failure.String())
		return dtmf.Failure.String(), err
	}

	req := args.Request()
	var result dtmf.Result
	if err := req.Validate(); err != nil {
		logger.Error("buffer too small", "digits", req.Digits, "capacity", req.Capacity)
		result = dtmf.Result{Outcome: dtmf.Failure, Err: err}
	} else {
		result = dtmf.Collect(ctx, req, ch.Tones())
		if args.VarName != "" {
			ch.SetVariable(args.VarName, result.Digits)
		}
	}

	ch.SetVariable(ReadResultVariable, result.Outcome.String())
	logger.Info("read digits complete", "status", result.Outcome.String(), "digits", result.Digits)

	recordCollection(ctx, a.collections, logger, ch, a.Name(), args.VarName, req, result)
	return result.Outcome.String(), nil
}

// recordCollection stores the outcome when a repository is configured.
func recordCollection(ctx context.Context, repo database.CollectionRepository, logger *slog.Logger,
	ch Channel, app, varName string, req dtmf.Request, result dtmf.Result) {
	if repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	err := repo.Create(ctx, &models.DigitCollection{
		ChannelID:   ch.ID(),
		CallID:      ch.CallID(),
		Application: app,
		VarName:     varName,
		Requested:   req.Digits,
		TimeoutMS:   int(req.Timeout / time.Millisecond),
		Digits:      result.Digits,
		Result:      result.Outcome.String(),
		Reason:      result.Reason(),
	})
	if err != nil {
		logger.Error("failed to store digit collection", "error", err)
	}
}
