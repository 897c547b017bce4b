package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/netdevpbx/netdevpbx/internal/database"
	"github.com/netdevpbx/netdevpbx/internal/database/models"
	"github.com/netdevpbx/netdevpbx/internal/dialplan"
	"github.com/netdevpbx/netdevpbx/internal/media"
	"github.com/netdevpbx/netdevpbx/internal/session"
)

type stubMedia struct {
	mu   sync.Mutex
	sent []string
}

func (m *stubMedia) PlayFile(context.Context, string) (*media.PlayResult, error) {
	return &media.PlayResult{}, nil
}

func (m *stubMedia) PlayTone(context.Context, []media.Tone) (*media.PlayResult, error) {
	return &media.PlayResult{}, nil
}

func (m *stubMedia) SendDigits(_ context.Context, digits string) error {
	m.mu.Lock()
	m.sent = append(m.sent, digits)
	m.mu.Unlock()
	return nil
}

func (m *stubMedia) StartRecording(string, media.RecordOptions) (*media.Recorder, error) {
	return nil, nil
}

func (m *stubMedia) StopRecording() (media.RecordingInfo, bool) { return media.RecordingInfo{}, false }
func (m *stubMedia) Close()                                     {}

type stubSignaller struct {
	mu    sync.Mutex
	cause string
}

func (s *stubSignaller) Progress(context.Context, *session.Channel) error { return nil }
func (s *stubSignaller) Answer(context.Context, *session.Channel) error   { return nil }

func (s *stubSignaller) Terminate(_ *session.Channel, cause string) {
	s.mu.Lock()
	s.cause = cause
	s.mu.Unlock()
}

type testEnv struct {
	srv      *Server
	store    *database.Store
	channels *session.Manager
	ch       *session.Channel
	media    *stubMedia
	sig      *stubSignaller
	dir      string
}

func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := t.TempDir()

	db, err := database.Open(dir)
	if err != nil {
		t.Fatalf("database.Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := database.NewStore(db)

	reg := dialplan.NewRegistry()
	reg.MustRegister(dialplan.BasicApps(dir)...)
	reg.MustRegister(
		dialplan.NewReadDigits(store.Collections, logger),
		dialplan.NewNetDevRecord(dialplan.NetDevRecordConfig{PromptDir: dir, RecordingDir: dir}, store.Collections, store.Recordings, logger),
	)
	exec, err := dialplan.NewExecutor(reg, dialplan.Default(), logger)
	if err != nil {
		t.Fatalf("NewExecutor() error: %v", err)
	}

	channels := session.NewManager(nil, logger)
	m := &stubMedia{}
	sig := &stubSignaller{}
	ch := channels.Create(session.Params{
		CallID:      "abc@192.0.2.10",
		Caller:      "alice",
		Destination: "1234",
		Media:       m,
		Signaller:   sig,
	})

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "netdevpbx_up 1\n")
	})
	srv := NewServer(Deps{
		Channels: channels,
		Store:    store,
		Dialplan: exec,
		Metrics:  metrics,
		Token:    token,
		Logger:   logger,
	})
	return &testEnv{srv: srv, store: store, channels: channels, ch: ch, media: m, sig: sig, dir: dir}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rr := httptest.NewRecorder()
	e.srv.ServeHTTP(rr, req)
	return rr
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	env := envelope{Data: dst}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding %s: %v", rr.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "secret")

	rr := env.do(t, http.MethodGet, "/api/v1/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 without a token", rr.Code)
	}
	var health healthResponse
	decodeData(t, rr, &health)
	if health.Status != "ok" || health.ActiveChannels != 1 {
		t.Errorf("health = %+v", health)
	}
}

func TestBearerTokenRequired(t *testing.T) {
	env := newTestEnv(t, "secret")

	if rr := env.do(t, http.MethodGet, "/api/v1/channels", ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/channels", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rr := httptest.NewRecorder()
	env.srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status with token = %d, want 200", rr.Code)
	}
}

func TestChannels(t *testing.T) {
	env := newTestEnv(t, "")
	env.ch.SetVariable("entered_digits", "4321")

	rr := env.do(t, http.MethodGet, "/api/v1/channels", "")
	var list []channelResponse
	decodeData(t, rr, &list)
	if len(list) != 1 {
		t.Fatalf("got %d channels, want 1", len(list))
	}
	got := list[0]
	if got.ID != env.ch.ID() || got.Caller != "alice" || got.State != "new" || got.AnsweredAt != nil {
		t.Errorf("channel = %+v", got)
	}
	if got.Variables["entered_digits"] != "4321" {
		t.Errorf("variables = %v", got.Variables)
	}

	rr = env.do(t, http.MethodGet, "/api/v1/channels/"+env.ch.ID(), "")
	if rr.Code != http.StatusOK {
		t.Errorf("get status = %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/api/v1/channels/nope", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown channel status = %d, want 404", rr.Code)
	}
}

func TestHangupChannel(t *testing.T) {
	env := newTestEnv(t, "")

	rr := env.do(t, http.MethodDelete, "/api/v1/channels/"+env.ch.ID(), "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if env.ch.HangupCause() != session.CauseAdmin {
		t.Errorf("cause = %q, want %q", env.ch.HangupCause(), session.CauseAdmin)
	}
	if env.sig.cause != session.CauseAdmin {
		t.Errorf("signaller cause = %q", env.sig.cause)
	}
	if env.channels.Count() != 0 {
		t.Errorf("channel still registered")
	}

	if rr := env.do(t, http.MethodDelete, "/api/v1/channels/"+env.ch.ID(), ""); rr.Code != http.StatusNotFound {
		t.Errorf("second hangup status = %d, want 404", rr.Code)
	}
}

func TestSendDTMF(t *testing.T) {
	env := newTestEnv(t, "")
	path := "/api/v1/channels/" + env.ch.ID() + "/dtmf"

	tests := map[string]struct {
		body string
		want int
	}{
		"valid":     {`{"digits":"12#"}`, http.StatusOK},
		"empty":     {`{"digits":""}`, http.StatusBadRequest},
		"invalid":   {`{"digits":"12x"}`, http.StatusBadRequest},
		"too long":  {`{"digits":"` + strings.Repeat("1", 33) + `"}`, http.StatusBadRequest},
		"malformed": {`{"digits":`, http.StatusBadRequest},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if rr := env.do(t, http.MethodPost, path, tt.body); rr.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}

	env.media.mu.Lock()
	defer env.media.mu.Unlock()
	if len(env.media.sent) != 1 || env.media.sent[0] != "12#" {
		t.Errorf("sent = %v, want [12#]", env.media.sent)
	}
}

func TestSendDTMF_HungUp(t *testing.T) {
	env := newTestEnv(t, "")
	id := env.ch.ID()
	env.ch.Hangup(session.CauseNormalClearing)

	if rr := env.do(t, http.MethodPost, "/api/v1/channels/"+id+"/dtmf", `{"digits":"1"}`); rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestCollections(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()
	for _, c := range []models.DigitCollection{
		{ChannelID: "ch-1", Application: "read_digits", VarName: "pin", Requested: 4, TimeoutMS: 10000, Digits: "1234", Result: "success"},
		{ChannelID: "ch-2", Application: "read_digits", VarName: "pin", Requested: 4, TimeoutMS: 10000, Digits: "12", Result: "timeout"},
		{ChannelID: "ch-3", Application: "net_dev_record", Requested: 4, TimeoutMS: 5000, Result: "timeout"},
	} {
		if err := env.store.Collections.Create(ctx, &c); err != nil {
			t.Fatalf("Create() error: %v", err)
		}
	}

	rr := env.do(t, http.MethodGet, "/api/v1/collections?result=timeout", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var page struct {
		Items []collectionResponse `json:"items"`
		Total int                  `json:"total"`
	}
	decodeData(t, rr, &page)
	if page.Total != 2 || len(page.Items) != 2 {
		t.Fatalf("page = %+v", page)
	}
	for _, item := range page.Items {
		if item.Result != "timeout" {
			t.Errorf("item result = %q", item.Result)
		}
	}

	if rr := env.do(t, http.MethodGet, "/api/v1/collections?result=maybe", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad filter status = %d, want 400", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/api/v1/collections?limit=0", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rr.Code)
	}

	rr = env.do(t, http.MethodGet, "/api/v1/collections/summary", "")
	var summary map[string]int64
	decodeData(t, rr, &summary)
	if summary["success"] != 1 || summary["timeout"] != 2 || summary["failure"] != 0 {
		t.Errorf("summary = %v", summary)
	}
}

func TestRecordings(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()

	audio := []byte("RIFF....WAVEfmt ")
	path := filepath.Join(env.dir, "recording1234.wav")
	if err := os.WriteFile(path, audio, 0o640); err != nil {
		t.Fatal(err)
	}
	rec := &models.Recording{ChannelID: "ch-1", Digits: "1234", FilePath: path, SizeBytes: int64(len(audio))}
	if err := env.store.Recordings.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	gone := &models.Recording{ChannelID: "ch-2", Digits: "9999", FilePath: filepath.Join(env.dir, "missing.wav")}
	if err := env.store.Recordings.Create(ctx, gone); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	rr := env.do(t, http.MethodGet, "/api/v1/recordings", "")
	var page struct {
		Items []recordingResponse `json:"items"`
		Total int                 `json:"total"`
	}
	decodeData(t, rr, &page)
	if page.Total != 2 {
		t.Fatalf("total = %d, want 2", page.Total)
	}

	rr = env.do(t, http.MethodGet, "/api/v1/recordings/1", "")
	var got recordingResponse
	decodeData(t, rr, &got)
	if got.FileName != "recording1234.wav" || got.AudioURL != "/api/v1/recordings/1/audio" {
		t.Errorf("recording = %+v", got)
	}

	rr = env.do(t, http.MethodGet, "/api/v1/recordings/1/audio", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("audio status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("content-type = %q", ct)
	}
	if !bytes.Equal(rr.Body.Bytes(), audio) {
		t.Errorf("body = %q", rr.Body.Bytes())
	}

	tests := map[string]struct {
		path string
		want int
	}{
		"missing file": {"/api/v1/recordings/2/audio", http.StatusNotFound},
		"unknown id":   {"/api/v1/recordings/99", http.StatusNotFound},
		"bad id":       {"/api/v1/recordings/abc", http.StatusBadRequest},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if rr := env.do(t, http.MethodGet, tt.path, ""); rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestApplicationsAndDialplan(t *testing.T) {
	env := newTestEnv(t, "")

	rr := env.do(t, http.MethodGet, "/api/v1/applications", "")
	var apps []applicationResponse
	decodeData(t, rr, &apps)
	names := make(map[string]bool)
	for _, a := range apps {
		names[a.Name] = true
	}
	for _, want := range []string{"read_digits", "net_dev_record"} {
		if !names[want] {
			t.Errorf("application %s not listed", want)
		}
	}

	rr = env.do(t, http.MethodGet, "/api/v1/dialplan", "")
	var dp dialplan.Dialplan
	decodeData(t, rr, &dp)
	if len(dp.Extensions) == 0 {
		t.Error("dialplan has no extensions")
	}
}

func TestMetricsAndNotFound(t *testing.T) {
	env := newTestEnv(t, "secret")

	rr := env.do(t, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "netdevpbx_up") {
		t.Errorf("metrics = %d %q", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodGet, "/api/v2/nothing", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
	var e envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &e); err != nil || e.Error != "not found" {
		t.Errorf("body = %s", rr.Body.String())
	}
}
