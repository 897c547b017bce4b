package dialplan

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/netdevpbx/netdevpbx/internal/database"
	"github.com/netdevpbx/netdevpbx/internal/database/models"
	"github.com/netdevpbx/netdevpbx/internal/dtmf"
	"github.com/netdevpbx/netdevpbx/internal/events"
	"github.com/netdevpbx/netdevpbx/internal/media"
	"github.com/netdevpbx/netdevpbx/internal/session"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeChannel implements Channel, recording what applications do to it.
type fakeChannel struct {
	mu sync.Mutex

	tones        dtmf.TonesChannel
	preAnswerErr error
	hangupOnSlp  bool
	silence      chan struct{} // returned by StartRecording

	down        bool
	preAnswered bool
	answered    bool
	vars        map[string]string
	played      []string
	tonesPlayed []string
	sent        []string
	slept       []time.Duration
	flushed     int
	recording   string
	recorded    []string
	recordOpts  media.RecordOptions
	hangupCause string
	events      []events.Event
}

func newFakeChannel(tones dtmf.TonesChannel) *fakeChannel {
	return &fakeChannel{tones: tones, vars: make(map[string]string)}
}

func (f *fakeChannel) ID() string               { return "ch-1" }
func (f *fakeChannel) CallID() string           { return "call-1@host" }
func (f *fakeChannel) Name() string             { return "sip/1000@1234" }
func (f *fakeChannel) Context() context.Context { return context.Background() }
func (f *fakeChannel) Tones() dtmf.TonesChannel { return f.tones }
func (f *fakeChannel) Variable(name string) string {
	v, _ := f.variable(name)
	return v
}

func (f *fakeChannel) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.down
}

func (f *fakeChannel) PreAnswer(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.preAnswerErr != nil {
		return f.preAnswerErr
	}
	f.preAnswered = true
	return nil
}

func (f *fakeChannel) Answer(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return session.ErrHungUp
	}
	f.answered = true
	return nil
}

func (f *fakeChannel) Hangup(cause string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return
	}
	f.down = true
	f.hangupCause = cause
}

func (f *fakeChannel) SetVariable(name, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vars[name] = value
}

func (f *fakeChannel) variable(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vars[name]
	return v, ok
}

func (f *fakeChannel) FlushTones() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed++
	return 0
}

func (f *fakeChannel) PlayFile(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return session.ErrHungUp
	}
	f.played = append(f.played, path)
	return nil
}

func (f *fakeChannel) PlayTone(_ context.Context, spec string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return session.ErrHungUp
	}
	f.tonesPlayed = append(f.tonesPlayed, spec)
	return nil
}

func (f *fakeChannel) SendDigits(_ context.Context, digits string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, digits)
	return nil
}

func (f *fakeChannel) StartRecording(path string, opts media.RecordOptions) (<-chan struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, session.ErrHungUp
	}
	f.recording = path
	f.recorded = append(f.recorded, path)
	f.recordOpts = opts
	return f.silence, nil
}

func (f *fakeChannel) StopRecording() (media.RecordingInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recording == "" {
		return media.RecordingInfo{}, false
	}
	info := media.RecordingInfo{Path: f.recording, Bytes: 8044, Duration: time.Second}
	f.recording = ""
	return info, true
}

// Sleep returns at once. With hangupOnSlp set the caller hangs up instead.
func (f *fakeChannel) Sleep(_ context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hangupOnSlp {
		f.down = true
		f.hangupCause = session.CauseRemoteBye
	}
	if f.down {
		return session.ErrHungUp
	}
	f.slept = append(f.slept, d)
	return nil
}

func (f *fakeChannel) Publish(e events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

// scriptedTones replays canned reads, then times out. With block set it
// waits for the context instead of timing out.
type scriptedTones struct {
	reads    []scriptedRead
	block    bool
	calls    int
	timeouts []time.Duration
}

type scriptedRead struct {
	data string
	err  error
}

func (s *scriptedTones) ReadTones(ctx context.Context, buf []byte, want int, timeout time.Duration) (int, error) {
	s.timeouts = append(s.timeouts, timeout)
	if s.calls >= len(s.reads) {
		s.calls++
		if s.block {
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return 0, dtmf.ErrTimeout
	}
	r := s.reads[s.calls]
	s.calls++
	if len(r.data) > want {
		r.data = r.data[:want]
	}
	return copy(buf, r.data), r.err
}

// memCollections implements database.CollectionRepository in memory.
type memCollections struct {
	rows []models.DigitCollection
}

func (m *memCollections) Create(_ context.Context, c *models.DigitCollection) error {
	c.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, *c)
	return nil
}

func (m *memCollections) List(context.Context, database.CollectionListFilter) ([]models.DigitCollection, int, error) {
	return m.rows, len(m.rows), nil
}

func (m *memCollections) CountByResult(context.Context) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, r := range m.rows {
		out[r.Result]++
	}
	return out, nil
}

// memRecordings implements database.RecordingRepository in memory.
type memRecordings struct {
	rows []models.Recording
}

func (m *memRecordings) Create(_ context.Context, r *models.Recording) error {
	r.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, *r)
	return nil
}

func (m *memRecordings) GetByID(_ context.Context, id int64) (*models.Recording, error) {
	for i := range m.rows {
		if m.rows[i].ID == id {
			return &m.rows[i], nil
		}
	}
	return nil, nil
}

func (m *memRecordings) List(context.Context, database.ListFilter) ([]models.Recording, int, error) {
	return m.rows, len(m.rows), nil
}

func (m *memRecordings) Count(context.Context) (int64, error) {
	return int64(len(m.rows)), nil
}

func (m *memRecordings) DeleteBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	var paths []string
	kept := m.rows[:0]
	for _, r := range m.rows {
		if r.CreatedAt.Before(cutoff) {
			paths = append(paths, r.FilePath)
			continue
		}
		kept = append(kept, r)
	}
	m.rows = kept
	return paths, nil
}
