package prompts

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/netdevpbx/netdevpbx/internal/media"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInstall(t *testing.T) {
	dir := t.TempDir()

	n, err := Install(dir, quietLogger())
	if err != nil {
		t.Fatalf("Install() error: %v", err)
	}
	if n != 11 {
		t.Errorf("created %d prompts, want 11", n)
	}

	for _, p := range Defaults() {
		if _, err := media.ValidateWAVFile(filepath.Join(dir, p.Name)); err != nil {
			t.Errorf("%s: %v", p.Name, err)
		}
	}
	if problems := Check(dir); len(problems) != 0 {
		t.Errorf("Check() = %v", problems)
	}
}

func TestInstall_KeepsExisting(t *testing.T) {
	dir := t.TempDir()
	custom := filepath.Join(dir, DigitFile('7'))
	if err := os.MkdirAll(filepath.Dir(custom), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(custom, []byte("voice"), 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := Install(dir, quietLogger())
	if err != nil {
		t.Fatalf("Install() error: %v", err)
	}
	if n != 10 {
		t.Errorf("created %d prompts, want 10", n)
	}
	data, _ := os.ReadFile(custom)
	if string(data) != "voice" {
		t.Error("existing prompt was overwritten")
	}

	if n, _ := Install(dir, quietLogger()); n != 0 {
		t.Errorf("second Install() created %d prompts", n)
	}

	// The hand-placed file is not a WAV, so Check reports it.
	problems := Check(dir)
	if len(problems) != 1 || problems[custom] == nil {
		t.Errorf("Check() = %v, want only %s", problems, custom)
	}
}

func TestCheck_Extra(t *testing.T) {
	dir := t.TempDir()
	if _, err := Install(dir, quietLogger()); err != nil {
		t.Fatal(err)
	}
	missing := filepath.Join(dir, "welcome.wav")
	if problems := Check(dir, missing); problems[missing] == nil {
		t.Errorf("Check() did not report %s", missing)
	}
}

func TestDigitCue(t *testing.T) {
	tests := map[byte]int{'1': 1, '5': 5, '9': 9, '0': 10}
	for d, pips := range tests {
		tones := digitCue(d)
		if len(tones) != pips {
			t.Errorf("digitCue(%c) has %d pips, want %d", d, len(tones), pips)
			continue
		}
		if last := tones[len(tones)-1]; last.Off != digitTail {
			t.Errorf("digitCue(%c) last gap = %v", d, last.Off)
		}
	}

	var total time.Duration
	for _, tone := range digitCue('3') {
		total += tone.On + tone.Off
	}
	if want := 3*pipOn + 2*pipOff + digitTail; total != want {
		t.Errorf("digitCue(3) length = %v, want %v", total, want)
	}
}
