package dialplan

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/netdevpbx/netdevpbx/internal/session"
)

// resultOK labels applications that completed normally.
const resultOK = "ok"

// basicApp adapts a function to Application.
type basicApp struct {
	name        string
	syntax      string
	description string
	run         func(ctx context.Context, ch Channel, data string) error
}

func (a *basicApp) Name() string        { return a.name }
func (a *basicApp) Syntax() string      { return a.syntax }
func (a *basicApp) Description() string { return a.description }

func (a *basicApp) Run(ctx context.Context, ch Channel, data string) (string, error) {
	if err := a.run(ctx, ch, data); err != nil {
		return "failure", err
	}
	return resultOK, nil
}

// BasicApps returns the small building-block applications. Relative
// playback paths are resolved against promptDir.
func BasicApps(promptDir string) []Application {
	return []Application{
		&basicApp{
			name:        "answer",
			description: "Answer the call",
			run: func(ctx context.Context, ch Channel, _ string) error {
				return ch.Answer(ctx)
			},
		},
		&basicApp{
			name:        "pre_answer",
			description: "Enable early media without answering",
			run: func(ctx context.Context, ch Channel, _ string) error {
				return ch.PreAnswer(ctx)
			},
		},
		&basicApp{
			name:        "hangup",
			syntax:      "[<cause>]",
			description: "Hang up the call",
			run: func(_ context.Context, ch Channel, data string) error {
				cause := strings.TrimSpace(data)
				if cause == "" {
					cause = session.CauseNormalClearing
				}
				ch.Hangup(cause)
				return nil
			},
		},
		&basicApp{
			name:        "sleep",
			syntax:      "<ms>",
			description: "Pause the dialplan",
			run: func(ctx context.Context, ch Channel, data string) error {
				ms := atoi(data)
				if ms <= 0 {
					return nil
				}
				return ch.Sleep(ctx, time.Duration(ms)*time.Millisecond)
			},
		},
		&basicApp{
			name:        "playback",
			syntax:      "<file>",
			description: "Play a G.711 WAV file",
			run: func(ctx context.Context, ch Channel, data string) error {
				path := strings.TrimSpace(data)
				if path == "" {
					return fmt.Errorf("playback: no file specified")
				}
				if !filepath.IsAbs(path) {
					path = filepath.Join(promptDir, path)
				}
				return ch.PlayFile(ctx, path)
			},
		},
		&basicApp{
			name:        "gentones",
			syntax:      "%(<on>,<off>,<freq>[+<freq>])[;...]",
			description: "Generate tones",
			run: func(ctx context.Context, ch Channel, data string) error {
				return ch.PlayTone(ctx, strings.TrimSpace(data))
			},
		},
		&basicApp{
			name:        "send_dtmf",
			syntax:      "<digits>",
			description: "Send DTMF digits to the caller",
			run: func(ctx context.Context, ch Channel, data string) error {
				return ch.SendDigits(ctx, strings.TrimSpace(data))
			},
		},
		&basicApp{
			name:        "flush_dtmf",
			description: "Discard buffered DTMF",
			run: func(_ context.Context, ch Channel, _ string) error {
				ch.FlushTones()
				return nil
			},
		},
		&basicApp{
			name:        "set",
			syntax:      "<name>=<value>",
			description: "Set a channel variable",
			run: func(_ context.Context, ch Channel, data string) error {
				name, value, ok := strings.Cut(data, "=")
				name = strings.TrimSpace(name)
				if !ok || name == "" {
					return fmt.Errorf("set: want <name>=<value>, got %q", data)
				}
				ch.SetVariable(name, value)
				return nil
			},
		},
	}
}
