// Package prompts installs the audio prompts net_dev_record plays. Prompts
// missing from the prompt directory are generated as short tone cues
// (G.711 u-law WAV, 8 kHz mono) so a fresh install can take calls before
// voice recordings are dropped in. Existing files are never overwritten.
package prompts

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/netdevpbx/netdevpbx/internal/media"
)

// BlurbFile is played after the code has been read back.
const BlurbFile = "misc/call_monitoring_blurb.wav"

const (
	pipFrequency = 800
	pipOn        = 60 * time.Millisecond
	pipOff       = 90 * time.Millisecond
	// digitTail separates one read-back digit from the next.
	digitTail = 400 * time.Millisecond
)

// Prompt is a file under the prompt directory and the tones generated for
// it when it is missing.
type Prompt struct {
	Name  string
	Tones []media.Tone
}

// DigitFile returns the prompt name for a read-back digit.
func DigitFile(d byte) string {
	return filepath.Join("digits", string(d)+".wav")
}

// Defaults returns the prompts net_dev_record expects: one per digit and
// the closing blurb.
func Defaults() []Prompt {
	out := make([]Prompt, 0, 11)
	for d := byte('0'); d <= '9'; d++ {
		out = append(out, Prompt{Name: DigitFile(d), Tones: digitCue(d)})
	}
	out = append(out, Prompt{Name: BlurbFile, Tones: []media.Tone{
		{On: 200 * time.Millisecond, Off: 50 * time.Millisecond, Frequencies: []float64{660}},
		{On: 200 * time.Millisecond, Off: 50 * time.Millisecond, Frequencies: []float64{880}},
		{On: 400 * time.Millisecond, Off: 300 * time.Millisecond, Frequencies: []float64{660, 880}},
	}})
	return out
}

// digitCue counts the digit out in pips; zero is ten pips.
func digitCue(d byte) []media.Tone {
	n, _ := strconv.Atoi(string(d))
	if n == 0 {
		n = 10
	}
	tones := make([]media.Tone, n)
	for i := range tones {
		tones[i] = media.Tone{On: pipOn, Off: pipOff, Frequencies: []float64{pipFrequency}}
	}
	tones[n-1].Off = digitTail
	return tones
}

// Install writes every default prompt missing from dir and returns how many
// were created.
func Install(dir string, logger *slog.Logger) (int, error) {
	created := 0
	for _, p := range Defaults() {
		path := filepath.Join(dir, p.Name)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !errors.Is(err, fs.ErrNotExist) {
			return created, fmt.Errorf("checking prompt %s: %w", p.Name, err)
		}

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return created, fmt.Errorf("creating prompt directory: %w", err)
		}
		if err := media.WriteToneWAV(path, p.Tones); err != nil {
			return created, fmt.Errorf("generating prompt %s: %w", p.Name, err)
		}
		created++
		logger.Debug("generated placeholder prompt", "file", path)
	}
	if created > 0 {
		logger.Info("installed placeholder prompts", "dir", dir, "count", created)
	}
	return created, nil
}

// Check validates the default prompts plus any extra paths and returns the
// problems found, keyed by path. Extra paths are used as given.
func Check(dir string, extra ...string) map[string]error {
	paths := make([]string, 0, 11+len(extra))
	for _, p := range Defaults() {
		paths = append(paths, filepath.Join(dir, p.Name))
	}
	paths = append(paths, extra...)

	problems := make(map[string]error)
	for _, path := range paths {
		if _, err := media.ValidateWAVFile(path); err != nil {
			problems[path] = err
		}
	}
	return problems
}
