package dialplan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/netdevpbx/netdevpbx/internal/database"
	"github.com/netdevpbx/netdevpbx/internal/database/models"
	"github.com/netdevpbx/netdevpbx/internal/dtmf"
	"github.com/netdevpbx/netdevpbx/internal/media"
	"github.com/netdevpbx/netdevpbx/internal/prompts"
	"github.com/netdevpbx/netdevpbx/internal/session"
)

const (
	// answerPause lets the caller's media path settle after answering.
	answerPause = 2 * time.Second

	// beepTone is played right before digit collection.
	beepTone = "%(1000,0,640)"

	netDevRecordDigits  = 4
	netDevRecordTimeout = 5 * time.Second

	// DefaultMaxRecording caps a recording when no limit is configured.
	DefaultMaxRecording = 240 * time.Second
)

// Why a recording ended.
const (
	recordStopHangup  = "hangup"
	recordStopKey     = "dtmf"
	recordStopSilence = "silence"
	recordStopLimit   = "limit"
)

// NetDevRecordConfig configures net_dev_record.
type NetDevRecordConfig struct {
	// PromptDir holds digits/<d>.wav and misc/call_monitoring_blurb.wav.
	PromptDir string
	// RecordingDir receives recording<digits>.wav files.
	RecordingDir string
	// WelcomePrompt is played after answering when set.
	WelcomePrompt string
	// MaxRecording bounds the recording length.
	MaxRecording time.Duration
	// SilenceThreshold and SilenceTimeout end the recording once the
	// caller's level stays below the threshold for the timeout. A zero
	// value of either disables it.
	SilenceThreshold int
	SilenceTimeout   time.Duration
}

// NetDevRecord is the net_dev_record application. It answers, beeps,
// collects a four digit code, reads it back and records the caller. The
// recording is named after the code and ends on hang-up, a key press, a
// stretch of silence or MaxRecording.
type NetDevRecord struct {
	cfg         NetDevRecordConfig
	collections database.CollectionRepository
	recordings  database.RecordingRepository
	logger      *slog.Logger
}

// NewNetDevRecord creates the application. Either repository may be nil.
func NewNetDevRecord(cfg NetDevRecordConfig, collections database.CollectionRepository,
	recordings database.RecordingRepository, logger *slog.Logger) *NetDevRecord {
	if cfg.MaxRecording <= 0 {
		cfg.MaxRecording = DefaultMaxRecording
	}
	return &NetDevRecord{
		cfg:         cfg,
		collections: collections,
		recordings:  recordings,
		logger:      logger.With("application", "net_dev_record"),
	}
}

func (a *NetDevRecord) Name() string   { return "net_dev_record" }
func (a *NetDevRecord) Syntax() string { return "" }
func (a *NetDevRecord) Description() string {
	return "Collect a 4 digit code, then record the caller to recording<code>.wav"
}

// Run implements Application.
func (a *NetDevRecord) Run(ctx context.Context, ch Channel, _ string) (string, error) {
	logger := a.logger.With("channel_id", ch.ID(), "call_id", ch.CallID())

	if err := ch.Answer(ctx); err != nil {
		return "failure", fmt.Errorf("answering: %w", err)
	}
	if err := ch.Sleep(ctx, answerPause); err != nil {
		return "failure", err
	}

	if a.cfg.WelcomePrompt != "" {
		if err := a.play(ctx, ch, a.cfg.WelcomePrompt); err != nil {
			return "failure", err
		}
	}

	if err := ch.PlayTone(ctx, beepTone); err != nil {
		if errors.Is(err, session.ErrHungUp) {
			return "failure", err
		}
		logger.Warn("failed to play beep", "error", err)
	}

	ch.FlushTones()
	logger.Debug("collecting digits", "digits", netDevRecordDigits, "timeout", netDevRecordTimeout)
	req := dtmf.NewRequest(netDevRecordDigits, netDevRecordTimeout, dtmf.DefaultCapacity)
	result := dtmf.Collect(ctx, req, ch.Tones())
	logger.Info("read digits complete", "status", result.Outcome.String(), "digits", result.Digits)
	recordCollection(ctx, a.collections, logger, ch, a.Name(), "", req, result)

	if result.Outcome != dtmf.Success {
		logger.Warn("not enough digits", "digits", result.Digits, "reason", result.Reason())
		if ch.Ready() {
			if err := a.playPrompt(ctx, ch, prompts.BlurbFile); err != nil {
				return result.Outcome.String(), err
			}
			ch.Hangup(session.CauseNormalClearing)
		}
		return result.Outcome.String(), nil
	}

	for i := 0; i < len(result.Digits); i++ {
		if err := a.playPrompt(ctx, ch, prompts.DigitFile(result.Digits[i])); err != nil {
			return "failure", err
		}
	}

	info, err := a.record(ctx, ch, result.Digits, logger)
	if err != nil {
		return "failure", err
	}
	a.storeRecording(ctx, logger, ch, result.Digits, info)

	if ch.Ready() {
		if err := a.playPrompt(ctx, ch, prompts.BlurbFile); err != nil {
			return "success", err
		}
	}
	return "success", nil
}

// record captures the caller until the recording ends.
func (a *NetDevRecord) record(ctx context.Context, ch Channel, digits string, logger *slog.Logger) (media.RecordingInfo, error) {
	path := media.RecordingPath(a.cfg.RecordingDir, digits)
	// Keys pressed during the read-back must not end the recording.
	ch.FlushTones()
	silence, err := ch.StartRecording(path, media.RecordOptions{
		SilenceThreshold: a.cfg.SilenceThreshold,
		SilenceTimeout:   a.cfg.SilenceTimeout,
	})
	if err != nil {
		return media.RecordingInfo{}, fmt.Errorf("starting recording: %w", err)
	}

	reason, err := a.awaitRecordingEnd(ctx, ch, silence)
	info, _ := ch.StopRecording()
	if info.Path == "" {
		info.Path = path
	}
	if err != nil {
		return info, err
	}
	logger.Debug("recording ended", "reason", reason)
	return info, nil
}

// awaitRecordingEnd blocks until a key press, silence, hang-up or the
// recording limit and reports which one it was.
func (a *NetDevRecord) awaitRecordingEnd(ctx context.Context, ch Channel, silence <-chan struct{}) (string, error) {
	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var silent atomic.Bool
	go func() {
		select {
		case <-silence:
			silent.Store(true)
			cancel()
		case <-readCtx.Done():
		}
	}()

	var key [1]byte
	n, err := ch.Tones().ReadTones(readCtx, key[:], 1, a.cfg.MaxRecording)
	switch {
	case n > 0:
		return recordStopKey, nil
	case err == nil || errors.Is(err, dtmf.ErrTimeout):
		return recordStopLimit, nil
	case silent.Load():
		return recordStopSilence, nil
	case ctx.Err() != nil:
		return "", ctx.Err()
	default:
		return recordStopHangup, nil
	}
}

func (a *NetDevRecord) storeRecording(ctx context.Context, logger *slog.Logger, ch Channel, digits string, info media.RecordingInfo) {
	logger.Info("recording finished", "file", info.Path, "duration", info.Duration)
	if a.recordings == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	err := a.recordings.Create(ctx, &models.Recording{
		ChannelID:  ch.ID(),
		CallID:     ch.CallID(),
		Digits:     digits,
		FilePath:   info.Path,
		SizeBytes:  info.Bytes,
		DurationMS: info.Duration.Milliseconds(),
	})
	if err != nil {
		logger.Error("failed to store recording", "error", err)
	}
}

// playPrompt plays a file under PromptDir, skipping prompts that are not
// installed.
func (a *NetDevRecord) playPrompt(ctx context.Context, ch Channel, name string) error {
	path := filepath.Join(a.cfg.PromptDir, name)
	if _, err := os.Stat(path); err != nil {
		a.logger.Debug("prompt not installed", "file", path)
		return nil
	}
	return a.play(ctx, ch, path)
}

// play plays path. Only hang-up is fatal; other playback errors are logged.
func (a *NetDevRecord) play(ctx context.Context, ch Channel, path string) error {
	err := ch.PlayFile(ctx, path)
	if err == nil {
		return nil
	}
	if errors.Is(err, session.ErrHungUp) || !ch.Ready() {
		return session.ErrHungUp
	}
	a.logger.Warn("failed to play prompt", "file", path, "error", err)
	return nil
}
