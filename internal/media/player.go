package media

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

const (
	// WAV format codes for G.711.
	wavFormatPCMA = 6
	wavFormatPCMU = 7

	// wavHeaderSize is the canonical 44-byte header written by the recorder.
	wavHeaderSize = 44

	// samplesPerPacket is 20 ms of 8 kHz G.711 (one byte per sample).
	samplesPerPacket = 160

	packetDuration = 20 * time.Millisecond

	// dtmfEventDuration and dtmfGap are used when sending key presses.
	dtmfEventDuration = 100 * time.Millisecond
	dtmfGap           = 50 * time.Millisecond
	dtmfVolume        = 10
	dtmfEndRepeats    = 3
)

// wavInfo describes the audio stream of a WAV file.
type wavInfo struct {
	Format        uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
	DataSize      uint32
}

// readWAVHeader walks the RIFF chunks up to "data" and leaves r positioned at
// the first audio byte.
func readWAVHeader(r io.ReadSeeker) (*wavInfo, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("reading riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, errors.New("not a RIFF/WAVE file")
	}

	info := &wavInfo{}
	haveFmt := false
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, errors.New("wav file missing data chunk")
			}
			return nil, fmt.Errorf("reading chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("fmt chunk too small: %d bytes", size)
			}
			var f [16]byte
			if _, err := io.ReadFull(r, f[:]); err != nil {
				return nil, fmt.Errorf("reading fmt chunk: %w", err)
			}
			info.Format = binary.LittleEndian.Uint16(f[0:2])
			info.Channels = binary.LittleEndian.Uint16(f[2:4])
			info.SampleRate = binary.LittleEndian.Uint32(f[4:8])
			info.BitsPerSample = binary.LittleEndian.Uint16(f[14:16])
			if _, err := r.Seek(int64(size-16+size%2), io.SeekCurrent); err != nil {
				return nil, fmt.Errorf("skipping fmt extension: %w", err)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, errors.New("wav data chunk before fmt chunk")
			}
			info.DataSize = size
			return info, nil
		default:
			if _, err := r.Seek(int64(size+size%2), io.SeekCurrent); err != nil {
				return nil, fmt.Errorf("skipping chunk %q: %w", id, err)
			}
		}
	}
}

// payloadType validates the stream is 8 kHz mono 8-bit G.711 and returns
// the matching RTP payload type.
func (w *wavInfo) payloadType() (int, error) {
	var pt int
	switch w.Format {
	case wavFormatPCMU:
		pt = PayloadPCMU
	case wavFormatPCMA:
		pt = PayloadPCMA
	default:
		return 0, fmt.Errorf("unsupported wav format %d: only G.711 a-law (6) and u-law (7) are supported", w.Format)
	}
	if w.Channels != 1 {
		return 0, fmt.Errorf("wav file must be mono, got %d channels", w.Channels)
	}
	if w.SampleRate != clockRate {
		return 0, fmt.Errorf("wav file must be 8000 Hz, got %d Hz", w.SampleRate)
	}
	if w.BitsPerSample != 8 {
		return 0, fmt.Errorf("wav file must be 8-bit, got %d-bit", w.BitsPerSample)
	}
	return pt, nil
}

// ValidateWAVFile checks that path is a playable G.711 prompt and returns
// its duration.
func ValidateWAVFile(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening wav file: %w", err)
	}
	defer f.Close()

	info, err := readWAVHeader(f)
	if err != nil {
		return 0, fmt.Errorf("parsing wav header: %w", err)
	}
	if _, err := info.payloadType(); err != nil {
		return 0, err
	}
	return time.Duration(info.DataSize) * time.Second / clockRate, nil
}

// PlayResult holds the outcome of a playback.
type PlayResult struct {
	PacketsSent int
	Duration    time.Duration
}

// Player paces audio out of an endpoint in 20 ms RTP packets using the
// negotiated payload type. Prompts recorded in the other G.711 law are
// transcoded on the fly.
type Player struct {
	out         *rtpSender
	payloadType int
	eventPT     int
	logger      *slog.Logger
}

func newPlayer(out *rtpSender, payloadType, eventPT int, logger *slog.Logger) *Player {
	return &Player{
		out:         out,
		payloadType: payloadType,
		eventPT:     eventPT,
		logger:      logger.With("subsystem", "audio-player"),
	}
}

// PlayFile streams a G.711 WAV prompt. Cancelling ctx stops playback and
// returns ctx.Err() with the partial result.
func (p *Player) PlayFile(ctx context.Context, path string) (*PlayResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening audio file: %w", err)
	}
	defer f.Close()

	info, err := readWAVHeader(f)
	if err != nil {
		return nil, fmt.Errorf("parsing wav header: %w", err)
	}
	srcPT, err := info.payloadType()
	if err != nil {
		return nil, err
	}

	data := make([]byte, info.DataSize)
	n, err := io.ReadFull(f, data)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("reading audio data: %w", err)
	}
	data = data[:n]

	if srcPT != p.payloadType {
		for i, b := range data {
			data[i] = EncodeSample(p.payloadType, DecodeSample(srcPT, b))
		}
	}

	p.logger.Info("playing audio file",
		"path", path,
		"payload_type", p.payloadType,
		"data_bytes", len(data),
	)

	var frames [][]byte
	for start := 0; start < len(data); start += samplesPerPacket {
		frame := make([]byte, samplesPerPacket)
		copied := copy(frame, data[start:])
		for i := copied; i < len(frame); i++ {
			frame[i] = silenceByte(p.payloadType)
		}
		frames = append(frames, frame)
	}
	return p.streamFrames(ctx, frames)
}

// streamFrames sends each frame as one RTP packet with wall-clock pacing.
func (p *Player) streamFrames(ctx context.Context, frames [][]byte) (*PlayResult, error) {
	start := time.Now()
	res := &PlayResult{}

	for i, frame := range frames {
		select {
		case <-ctx.Done():
			res.Duration = time.Since(start)
			return res, ctx.Err()
		default:
		}

		if err := p.out.send(p.payloadType, i == 0, frame, samplesPerPacket); err != nil {
			return res, err
		}
		res.PacketsSent++

		expected := time.Duration(res.PacketsSent) * packetDuration
		if wait := expected - time.Since(start); wait > 0 {
			if err := sleepCtx(ctx, wait); err != nil {
				res.Duration = time.Since(start)
				return res, err
			}
		}
	}

	res.Duration = time.Since(start)
	p.logger.Debug("playback complete", "packets_sent", res.PacketsSent, "duration", res.Duration)
	return res, nil
}

// SendDigits transmits each keypad symbol as an RFC 2833 telephone-event.
// Unknown symbols are skipped.
func (p *Player) SendDigits(ctx context.Context, digits string) error {
	if p.eventPT == 0 {
		return errors.New("telephone-event not negotiated")
	}

	step := uint32(samplesPerPacket)
	total := uint32(dtmfEventDuration / packetDuration * samplesPerPacket)

	for i := 0; i < len(digits); i++ {
		code, ok := EventCode(digits[i])
		if !ok {
			continue
		}
		ts := p.out.timestamp()
		for dur := step; dur <= total; dur += step {
			ev := DTMFEvent{Event: code, Volume: dtmfVolume, Duration: uint16(dur)}
			if err := p.out.sendAt(p.eventPT, dur == step, ts, ev.Marshal(), 0); err != nil {
				return err
			}
			if err := sleepCtx(ctx, packetDuration); err != nil {
				return err
			}
		}
		end := DTMFEvent{Event: code, End: true, Volume: dtmfVolume, Duration: uint16(total)}
		for r := 0; r < dtmfEndRepeats; r++ {
			if err := p.out.sendAt(p.eventPT, false, ts, end.Marshal(), 0); err != nil {
				return err
			}
		}
		p.out.advance(total)
		p.logger.Debug("sent dtmf", "signal", string(digits[i]))

		if err := sleepCtx(ctx, dtmfGap); err != nil {
			return err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
