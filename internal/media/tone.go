package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cwbudde/algo-dsp/dsp/core"
	"github.com/cwbudde/algo-dsp/dsp/signal"
)

// toneAmplitude is the peak level of generated tones relative to full scale.
const toneAmplitude = 0.3

// Tone is one segment of a tone sequence: Frequencies played together for
// On, then silence for Off.
type Tone struct {
	On          time.Duration
	Off         time.Duration
	Frequencies []float64
}

// ParseToneSpec parses a tone sequence in the %(on,off,freq[+freq...])
// notation, for example "%(1000,0,640)" or "%(100,100,350+440);%(500,0,480)".
func ParseToneSpec(spec string) ([]Tone, error) {
	var tones []Tone
	for _, part := range strings.Split(spec, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.HasPrefix(part, "%(") || !strings.HasSuffix(part, ")") {
			return nil, fmt.Errorf("invalid tone %q: want %%(on,off,freq)", part)
		}
		fields := strings.Split(part[2:len(part)-1], ",")
		if len(fields) != 3 {
			return nil, fmt.Errorf("invalid tone %q: want 3 fields, got %d", part, len(fields))
		}

		on, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil || on <= 0 {
			return nil, fmt.Errorf("invalid tone %q: bad on duration", part)
		}
		off, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil || off < 0 {
			return nil, fmt.Errorf("invalid tone %q: bad off duration", part)
		}

		t := Tone{On: time.Duration(on) * time.Millisecond, Off: time.Duration(off) * time.Millisecond}
		for _, f := range strings.Split(fields[2], "+") {
			hz, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil || hz <= 0 || hz >= clockRate/2 {
				return nil, fmt.Errorf("invalid tone %q: bad frequency %q", part, f)
			}
			t.Frequencies = append(t.Frequencies, hz)
		}
		tones = append(tones, t)
	}
	if len(tones) == 0 {
		return nil, fmt.Errorf("empty tone spec")
	}
	return tones, nil
}

// synthesize renders a tone sequence as linear PCM at 8 kHz.
func synthesize(tones []Tone) ([]int16, error) {
	gen := signal.NewGenerator(core.WithSampleRate(clockRate))
	var out []int16

	for _, t := range tones {
		on := int(t.On * clockRate / time.Second)
		mix := make([]float64, on)
		amp := toneAmplitude / float64(len(t.Frequencies))
		for _, hz := range t.Frequencies {
			wave, err := gen.Sine(hz, amp, on)
			if err != nil {
				return nil, fmt.Errorf("generating %.0f Hz: %w", hz, err)
			}
			for i, v := range wave {
				mix[i] += v
			}
		}
		for _, v := range mix {
			out = append(out, int16(v*32767))
		}
		out = append(out, make([]int16, int(t.Off*clockRate/time.Second))...)
	}
	return out, nil
}

// WriteToneWAV renders tones into an 8 kHz u-law WAV file at path.
func WriteToneWAV(path string, tones []Tone) error {
	pcm, err := synthesize(tones)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))
	if err := writeWAVHeader(&buf, uint32(len(pcm))); err != nil {
		return err
	}
	for _, v := range pcm {
		buf.WriteByte(encodeUlaw(v))
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing tone wav: %w", err)
	}
	return nil
}

// encodeFrames converts PCM to G.711 frames of samplesPerPacket bytes,
// padding the final frame with silence.
func encodeFrames(payloadType int, pcm []int16) [][]byte {
	var frames [][]byte
	for start := 0; start < len(pcm); start += samplesPerPacket {
		frame := make([]byte, samplesPerPacket)
		for i := range frame {
			if start+i < len(pcm) {
				frame[i] = EncodeSample(payloadType, pcm[start+i])
			} else {
				frame[i] = silenceByte(payloadType)
			}
		}
		frames = append(frames, frame)
	}
	return frames
}

// PlayTone generates the tone sequence and streams it to the remote side.
func (p *Player) PlayTone(ctx context.Context, tones []Tone) (*PlayResult, error) {
	pcm, err := synthesize(tones)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("playing tone", "segments", len(tones), "samples", len(pcm))
	return p.streamFrames(ctx, encodeFrames(p.payloadType, pcm))
}
