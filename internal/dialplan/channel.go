// Package dialplan maps dialled numbers to sequences of applications and
// implements the applications themselves, most notably read_digits and
// net_dev_record.
package dialplan

import (
	"context"
	"time"

	"github.com/netdevpbx/netdevpbx/internal/dtmf"
	"github.com/netdevpbx/netdevpbx/internal/events"
	"github.com/netdevpbx/netdevpbx/internal/media"
)

// Channel is the call leg an application runs on. *session.Channel
// implements it.
type Channel interface {
	ID() string
	CallID() string
	Name() string
	Context() context.Context
	Ready() bool

	PreAnswer(ctx context.Context) error
	Answer(ctx context.Context) error
	Hangup(cause string)

	SetVariable(name, value string)
	Variable(name string) string

	Tones() dtmf.TonesChannel
	FlushTones() int

	PlayFile(ctx context.Context, path string) error
	PlayTone(ctx context.Context, spec string) error
	SendDigits(ctx context.Context, digits string) error
	StartRecording(path string, opts media.RecordOptions) (<-chan struct{}, error)
	StopRecording() (media.RecordingInfo, bool)
	Sleep(ctx context.Context, d time.Duration) error

	Publish(e events.Event)
}
