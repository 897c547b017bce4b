// Package session tracks the live calls handled by the server. A Channel
// binds one SIP dialog to its media endpoint, received key presses and
// channel variables.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/netdevpbx/netdevpbx/internal/dtmf"
	"github.com/netdevpbx/netdevpbx/internal/events"
	"github.com/netdevpbx/netdevpbx/internal/media"
)

// State is the signalling state of a channel.
type State string

const (
	StateNew      State = "new"
	StateEarly    State = "early"
	StateAnswered State = "answered"
	StateHungUp   State = "hungup"
)

// ErrHungUp is returned by operations on a channel that has been torn down.
var ErrHungUp = errors.New("channel hung up")

// Hang-up causes.
const (
	CauseNormalClearing = "NORMAL_CLEARING"
	CauseRemoteBye      = "REMOTE_BYE"
	CauseCancelled      = "ORIGINATOR_CANCEL"
	CauseNoRoute        = "NO_ROUTE_DESTINATION"
	CauseShutdown       = "SYSTEM_SHUTDOWN"
	CauseAdmin          = "MANAGER_REQUEST"
)

// Media is the audio side of a channel. *media.Endpoint implements it.
type Media interface {
	PlayFile(ctx context.Context, path string) (*media.PlayResult, error)
	PlayTone(ctx context.Context, tones []media.Tone) (*media.PlayResult, error)
	SendDigits(ctx context.Context, digits string) error
	StartRecording(path string, opts media.RecordOptions) (*media.Recorder, error)
	StopRecording() (media.RecordingInfo, bool)
	Close()
}

// Signaller drives the SIP side of a channel.
type Signaller interface {
	// Progress sends early media (183 Session Progress).
	Progress(ctx context.Context, ch *Channel) error
	// Answer sends the final 200 OK.
	Answer(ctx context.Context, ch *Channel) error
	// Terminate ends the dialog: BYE when answered, a final error
	// response otherwise. It is not called when the caller hung up.
	Terminate(ch *Channel, cause string)
}

// Params describes a new channel.
type Params struct {
	CallID      string
	Caller      string
	Destination string
	Media       Media
	Signaller   Signaller
}

// Channel is one live call leg.
type Channel struct {
	id          string
	callID      string
	name        string
	caller      string
	destination string
	createdAt   time.Time

	tones     *media.ToneBuffer
	media     Media
	signaller Signaller
	sink      events.Sink
	logger    *slog.Logger
	onClose   func(*Channel)

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	vars        map[string]string
	answeredAt  time.Time
	hangupCause string
	recorder    *media.Recorder
}

func newChannel(p Params, sink events.Sink, logger *slog.Logger, onClose func(*Channel)) *Channel {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	ch := &Channel{
		id:          id,
		callID:      p.CallID,
		name:        fmt.Sprintf("sip/%s@%s", p.Caller, p.Destination),
		caller:      p.Caller,
		destination: p.Destination,
		createdAt:   time.Now(),
		tones:       media.NewToneBuffer(),
		media:       p.Media,
		signaller:   p.Signaller,
		sink:        sink,
		onClose:     onClose,
		ctx:         ctx,
		cancel:      cancel,
		state:       StateNew,
		vars:        make(map[string]string),
	}
	ch.logger = logger.With("channel_id", id, "call_id", p.CallID)
	return ch
}

func (c *Channel) ID() string           { return c.id }
func (c *Channel) CallID() string       { return c.callID }
func (c *Channel) Name() string         { return c.name }
func (c *Channel) Caller() string       { return c.caller }
func (c *Channel) Destination() string  { return c.destination }
func (c *Channel) CreatedAt() time.Time { return c.createdAt }

// Context is cancelled when the channel hangs up.
func (c *Channel) Context() context.Context { return c.ctx }

// State returns the current signalling state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AnsweredAt returns when the channel was answered, or the zero time.
func (c *Channel) AnsweredAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answeredAt
}

// HangupCause returns the cause recorded at hang-up.
func (c *Channel) HangupCause() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hangupCause
}

// Ready reports whether the channel is still up.
func (c *Channel) Ready() bool {
	return c.State() != StateHungUp
}

// PreAnswer enables early media. It is a no-op once answered.
func (c *Channel) PreAnswer(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateHungUp:
		c.mu.Unlock()
		return ErrHungUp
	case StateEarly, StateAnswered:
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.signaller.Progress(ctx, c); err != nil {
		return fmt.Errorf("pre-answering channel: %w", err)
	}
	c.mu.Lock()
	if c.state == StateNew {
		c.state = StateEarly
	}
	c.mu.Unlock()
	return nil
}

// Answer answers the call. It is a no-op if already answered.
func (c *Channel) Answer(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateHungUp:
		c.mu.Unlock()
		return ErrHungUp
	case StateAnswered:
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.signaller.Answer(ctx, c); err != nil {
		return fmt.Errorf("answering channel: %w", err)
	}

	c.mu.Lock()
	if c.state == StateHungUp {
		c.mu.Unlock()
		return ErrHungUp
	}
	c.state = StateAnswered
	c.answeredAt = time.Now()
	c.mu.Unlock()

	c.publish(events.Event{Type: events.ChannelAnswer})
	return nil
}

// SetVariable stores a channel variable.
func (c *Channel) SetVariable(name, value string) {
	c.mu.Lock()
	c.vars[name] = value
	c.mu.Unlock()
}

// Variable returns a channel variable, or "" if unset.
func (c *Channel) Variable(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vars[name]
}

// Variables returns a copy of all channel variables.
func (c *Channel) Variables() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.vars)
}

// Tones returns the channel's received key presses for digit collection.
func (c *Channel) Tones() dtmf.TonesChannel { return c.tones }

// FlushTones discards key presses received so far.
func (c *Channel) FlushTones() int { return c.tones.Flush() }

// ReceiveSignal queues a key press and publishes a DTMF event.
func (c *Channel) ReceiveSignal(signal byte, source media.SignalSource) {
	if !c.tones.Push(signal) {
		return
	}
	c.logger.Debug("dtmf received", "digit", string(signal), "source", source)
	c.publish(events.Event{Type: events.DTMF, Digit: string(signal), Source: string(source)})
}

// PlayFile plays a WAV prompt to the caller.
func (c *Channel) PlayFile(ctx context.Context, path string) error {
	if !c.Ready() {
		return ErrHungUp
	}
	_, err := c.media.PlayFile(ctx, path)
	return err
}

// PlayTone plays a tone sequence such as "%(1000,0,640)".
func (c *Channel) PlayTone(ctx context.Context, spec string) error {
	tones, err := media.ParseToneSpec(spec)
	if err != nil {
		return err
	}
	if !c.Ready() {
		return ErrHungUp
	}
	_, err = c.media.PlayTone(ctx, tones)
	return err
}

// SendDigits sends key presses to the caller.
func (c *Channel) SendDigits(ctx context.Context, digits string) error {
	if !c.Ready() {
		return ErrHungUp
	}
	return c.media.SendDigits(ctx, digits)
}

// StartRecording records the caller's audio to path. The returned channel
// is closed when the caller has been silent for opts.SilenceTimeout.
func (c *Channel) StartRecording(path string, opts media.RecordOptions) (<-chan struct{}, error) {
	if !c.Ready() {
		return nil, ErrHungUp
	}
	rec, err := c.media.StartRecording(path, opts)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.recorder = rec
	c.mu.Unlock()
	return rec.Silence(), nil
}

// StopRecording finalizes the last recording started on this channel. It
// still reports the recording when hang-up already closed it.
func (c *Channel) StopRecording() (media.RecordingInfo, bool) {
	c.mu.Lock()
	rec := c.recorder
	c.recorder = nil
	c.mu.Unlock()
	if rec == nil {
		return media.RecordingInfo{}, false
	}
	c.media.StopRecording()
	return rec.Stop(), true
}

// Sleep pauses for d or until the channel hangs up.
func (c *Channel) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrHungUp
	}
}

// Hangup ends the call from our side.
func (c *Channel) Hangup(cause string) {
	c.teardown(cause, true)
}

// RemoteHangup records that the caller ended the call with BYE.
func (c *Channel) RemoteHangup() {
	c.teardown(CauseRemoteBye, false)
}

// RemoteCancel records that the caller abandoned the call before it was
// answered.
func (c *Channel) RemoteCancel() {
	c.teardown(CauseCancelled, false)
}

func (c *Channel) teardown(cause string, signal bool) {
	c.mu.Lock()
	if c.state == StateHungUp {
		c.mu.Unlock()
		return
	}
	c.state = StateHungUp
	c.hangupCause = cause
	c.mu.Unlock()

	c.tones.Close()
	c.cancel()
	if signal {
		c.signaller.Terminate(c, cause)
	}
	if c.media != nil {
		c.media.Close()
	}

	c.logger.Info("channel hung up", "cause", cause)
	c.publish(events.Event{Type: events.ChannelDestroy, Cause: cause})
	if c.onClose != nil {
		c.onClose(c)
	}
}

// Publish sends an event about this channel to the event sink.
func (c *Channel) Publish(e events.Event) {
	c.publish(e)
}

func (c *Channel) publish(e events.Event) {
	if c.sink == nil {
		return
	}
	e.ChannelID = c.id
	e.ChannelName = c.name
	e.CallID = c.callID
	e.Caller = c.caller
	e.Destination = c.destination
	c.sink.Publish(e)
}
