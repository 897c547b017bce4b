package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/netdevpbx/netdevpbx/internal/dtmf"
	"github.com/netdevpbx/netdevpbx/internal/events"
	"github.com/netdevpbx/netdevpbx/internal/media"
)

type fakeSignaller struct {
	mu         sync.Mutex
	progress   int
	answers    int
	terminated []string
	answerErr  error
}

func (f *fakeSignaller) Progress(context.Context, *Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.progress++
	return nil
}

func (f *fakeSignaller) Answer(context.Context, *Channel) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers++
	return f.answerErr
}

func (f *fakeSignaller) Terminate(_ *Channel, cause string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, cause)
}

type fakeMedia struct {
	played []string
	sent   []string
	closed bool
	rec    *media.Recorder
}

func (f *fakeMedia) PlayFile(_ context.Context, path string) (*media.PlayResult, error) {
	f.played = append(f.played, path)
	return &media.PlayResult{}, nil
}

func (f *fakeMedia) PlayTone(_ context.Context, tones []media.Tone) (*media.PlayResult, error) {
	f.played = append(f.played, "tone")
	return &media.PlayResult{}, nil
}

func (f *fakeMedia) SendDigits(_ context.Context, digits string) error {
	f.sent = append(f.sent, digits)
	return nil
}

func (f *fakeMedia) StartRecording(path string, opts media.RecordOptions) (*media.Recorder, error) {
	rec, err := media.NewRecorder(path, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return nil, err
	}
	f.rec = rec
	return rec, nil
}

func (f *fakeMedia) StopRecording() (media.RecordingInfo, bool) {
	if f.rec == nil {
		return media.RecordingInfo{}, false
	}
	rec := f.rec
	f.rec = nil
	return rec.Stop(), true
}

func (f *fakeMedia) Close() {
	f.closed = true
	f.StopRecording()
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingSink) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Type
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestManager() (*Manager, *recordingSink) {
	sink := &recordingSink{}
	return NewManager(sink, slog.New(slog.NewTextHandler(io.Discard, nil))), sink
}

func TestChannel_Lifecycle(t *testing.T) {
	m, sink := newTestManager()
	sig := &fakeSignaller{}
	med := &fakeMedia{}
	ch := m.Create(Params{CallID: "abc@host", Caller: "1000", Destination: "1234", Media: med, Signaller: sig})

	if ch.State() != StateNew || !ch.Ready() {
		t.Fatalf("new channel state = %s", ch.State())
	}
	if got, ok := m.ByCallID("abc@host"); !ok || got != ch {
		t.Error("ByCallID did not find channel")
	}
	if ch.Name() != "sip/1000@1234" {
		t.Errorf("Name() = %q", ch.Name())
	}

	if err := ch.PreAnswer(context.Background()); err != nil {
		t.Fatalf("PreAnswer: %v", err)
	}
	if err := ch.PreAnswer(context.Background()); err != nil {
		t.Fatalf("second PreAnswer: %v", err)
	}
	if err := ch.Answer(context.Background()); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if ch.State() != StateAnswered || ch.AnsweredAt().IsZero() {
		t.Errorf("state = %s after Answer", ch.State())
	}
	if sig.progress != 1 || sig.answers != 1 {
		t.Errorf("progress/answers = %d/%d, want 1/1", sig.progress, sig.answers)
	}

	ch.Hangup(CauseNormalClearing)
	ch.Hangup(CauseNormalClearing)

	if ch.Ready() || ch.HangupCause() != CauseNormalClearing {
		t.Errorf("after hangup: ready=%v cause=%q", ch.Ready(), ch.HangupCause())
	}
	if len(sig.terminated) != 1 {
		t.Errorf("Terminate called %d times, want 1", len(sig.terminated))
	}
	if !med.closed {
		t.Error("media not closed")
	}
	if m.Count() != 0 {
		t.Errorf("Count() = %d after hangup", m.Count())
	}
	select {
	case <-ch.Context().Done():
	default:
		t.Error("context not cancelled on hangup")
	}

	want := []events.Type{events.ChannelCreate, events.ChannelAnswer, events.ChannelDestroy}
	got := sink.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestChannel_RemoteHangupDoesNotSignal(t *testing.T) {
	m, _ := newTestManager()
	sig := &fakeSignaller{}
	ch := m.Create(Params{CallID: "x", Media: &fakeMedia{}, Signaller: sig})

	ch.RemoteHangup()
	if len(sig.terminated) != 0 {
		t.Error("Terminate called on remote hangup")
	}
	if ch.HangupCause() != CauseRemoteBye {
		t.Errorf("cause = %q", ch.HangupCause())
	}
	if err := ch.Answer(context.Background()); !errors.Is(err, ErrHungUp) {
		t.Errorf("Answer after hangup = %v, want ErrHungUp", err)
	}
	if err := ch.PlayFile(context.Background(), "x.wav"); !errors.Is(err, ErrHungUp) {
		t.Errorf("PlayFile after hangup = %v, want ErrHungUp", err)
	}
}

func TestChannel_AnswerFailure(t *testing.T) {
	m, _ := newTestManager()
	ch := m.Create(Params{CallID: "x", Media: &fakeMedia{}, Signaller: &fakeSignaller{answerErr: errors.New("transport down")}})
	if err := ch.Answer(context.Background()); err == nil {
		t.Fatal("Answer succeeded")
	}
	if ch.State() != StateNew {
		t.Errorf("state = %s, want new", ch.State())
	}
}

func TestChannel_SignalsFeedCollector(t *testing.T) {
	m, sink := newTestManager()
	ch := m.Create(Params{CallID: "x", Media: &fakeMedia{}, Signaller: &fakeSignaller{}})

	go func() {
		for _, s := range []byte("#12*34") {
			time.Sleep(5 * time.Millisecond)
			ch.ReceiveSignal(s, media.SourceSIPInfo)
		}
	}()

	res := dtmf.Collect(context.Background(), dtmf.NewRequest(4, time.Second, 0), ch.Tones())
	if res.Outcome != dtmf.Success || res.Digits != "1234" {
		t.Errorf("result = %v/%q", res.Outcome, res.Digits)
	}

	dtmfEvents := 0
	for _, ty := range sink.types() {
		if ty == events.DTMF {
			dtmfEvents++
		}
	}
	if dtmfEvents != 6 {
		t.Errorf("DTMF events = %d, want 6", dtmfEvents)
	}
}

func TestChannel_HangupFailsCollection(t *testing.T) {
	m, _ := newTestManager()
	ch := m.Create(Params{CallID: "x", Media: &fakeMedia{}, Signaller: &fakeSignaller{}})
	go func() {
		time.Sleep(30 * time.Millisecond)
		ch.RemoteHangup()
	}()

	res := dtmf.Collect(context.Background(), dtmf.NewRequest(4, 5*time.Second, 0), ch.Tones())
	if res.Outcome != dtmf.Failure {
		t.Errorf("Outcome = %v, want failure", res.Outcome)
	}
}

func TestChannel_VariablesAndMedia(t *testing.T) {
	m, _ := newTestManager()
	med := &fakeMedia{}
	ch := m.Create(Params{CallID: "x", Media: med, Signaller: &fakeSignaller{}})

	ch.SetVariable("read_result", "success")
	if ch.Variable("read_result") != "success" || ch.Variable("missing") != "" {
		t.Error("variable lookup failed")
	}
	vars := ch.Variables()
	vars["read_result"] = "changed"
	if ch.Variable("read_result") != "success" {
		t.Error("Variables() did not return a copy")
	}

	if err := ch.PlayTone(context.Background(), "%(1000,0,640)"); err != nil {
		t.Errorf("PlayTone: %v", err)
	}
	if err := ch.PlayTone(context.Background(), "bogus"); err == nil {
		t.Error("PlayTone accepted a bad spec")
	}
	if err := ch.SendDigits(context.Background(), "12345678"); err != nil || med.sent[0] != "12345678" {
		t.Errorf("SendDigits: %v %v", err, med.sent)
	}
}

func TestChannel_SleepInterruptedByHangup(t *testing.T) {
	m, _ := newTestManager()
	ch := m.Create(Params{CallID: "x", Media: &fakeMedia{}, Signaller: &fakeSignaller{}})
	go func() {
		time.Sleep(20 * time.Millisecond)
		ch.Hangup(CauseNormalClearing)
	}()
	if err := ch.Sleep(context.Background(), 5*time.Second); !errors.Is(err, ErrHungUp) {
		t.Errorf("Sleep = %v, want ErrHungUp", err)
	}
}

func TestManager_ListAndHangupAll(t *testing.T) {
	m, _ := newTestManager()
	first := m.Create(Params{CallID: "a", Media: &fakeMedia{}, Signaller: &fakeSignaller{}})
	time.Sleep(time.Millisecond)
	m.Create(Params{CallID: "b", Media: &fakeMedia{}, Signaller: &fakeSignaller{}})

	list := m.List()
	if len(list) != 2 || list[0] != first {
		t.Fatalf("List() = %v", list)
	}
	if got, ok := m.Get(first.ID()); !ok || got != first {
		t.Error("Get did not find channel")
	}

	m.HangupAll(CauseShutdown)
	if m.Count() != 0 {
		t.Errorf("Count() = %d after HangupAll", m.Count())
	}
	if first.HangupCause() != CauseShutdown {
		t.Errorf("cause = %q", first.HangupCause())
	}
}

func TestChannel_RecordingSurvivesHangup(t *testing.T) {
	m, _ := newTestManager()
	ch := m.Create(Params{CallID: "rec@host", Caller: "1000", Destination: "1234", Media: &fakeMedia{}, Signaller: &fakeSignaller{}})

	if _, ok := ch.StopRecording(); ok {
		t.Error("StopRecording with nothing recording reported ok")
	}

	path := filepath.Join(t.TempDir(), "recording1234.wav")
	if _, err := ch.StartRecording(path, media.RecordOptions{}); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	ch.RemoteHangup()

	info, ok := ch.StopRecording()
	if !ok || info.Path != path {
		t.Fatalf("StopRecording = %+v, %v", info, ok)
	}
	if _, err := ch.StartRecording(path, media.RecordOptions{}); !errors.Is(err, ErrHungUp) {
		t.Errorf("StartRecording after hang-up = %v", err)
	}
}

func TestChannel_RemoteCancel(t *testing.T) {
	m, _ := newTestManager()
	sig := &fakeSignaller{}
	ch := m.Create(Params{CallID: "c", Media: &fakeMedia{}, Signaller: sig})

	ch.RemoteCancel()
	if len(sig.terminated) != 0 {
		t.Error("Terminate called on cancel")
	}
	if ch.HangupCause() != CauseCancelled {
		t.Errorf("cause = %q, want %q", ch.HangupCause(), CauseCancelled)
	}
	if _, ok := m.ByCallID("c"); ok {
		t.Error("cancelled channel still registered")
	}
}
