package media

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	// recorderQueue holds ~2.5 s of 20 ms packets.
	recorderQueue = 128

	// recorderFlushSize is one second of 8 kHz u-law.
	recorderFlushSize = clockRate
)

// RecordOptions controls when a recording ends on its own.
type RecordOptions struct {
	// SilenceThreshold is the mean absolute sample level below which a
	// frame counts as silent. Zero disables silence detection.
	SilenceThreshold int
	// SilenceTimeout is how much continuous silence ends the recording.
	SilenceTimeout time.Duration
}

func (o RecordOptions) detectsSilence() bool {
	return o.SilenceThreshold > 0 && o.SilenceTimeout > 0
}

type recordedFrame struct {
	payload     []byte
	payloadType int
}

// Recorder writes the caller's audio to a G.711 u-law WAV file. Frames are
// queued by Feed and written by a dedicated goroutine; the header is
// rewritten with the final size on Stop.
//
// Feed never blocks: frames are dropped when the writer falls behind.
// Feed may be called concurrently with Stop.
type Recorder struct {
	path   string
	opts   RecordOptions
	logger *slog.Logger

	mu       sync.Mutex
	file     *os.File
	dataSize uint32
	stopped  bool
	started  time.Time

	stopOnce sync.Once
	info     RecordingInfo

	frames chan recordedFrame
	done   chan struct{}

	// owned by writeLoop
	silentSamples int
	silent        bool
	silence       chan struct{}
}

// NewRecorder creates path (and its parent directories) and starts writing.
func NewRecorder(path string, opts RecordOptions, logger *slog.Logger) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating recording directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating recording file: %w", err)
	}
	if err := writeWAVHeader(f, 0); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("writing wav header: %w", err)
	}

	r := &Recorder{
		path:    path,
		opts:    opts,
		logger:  logger.With("subsystem", "recorder", "file", path),
		file:    f,
		started: time.Now(),
		frames:  make(chan recordedFrame, recorderQueue),
		done:    make(chan struct{}),
		silence: make(chan struct{}),
	}
	go r.writeLoop()

	r.logger.Info("recording started")
	return r, nil
}

// Feed queues one RTP payload. The payload is copied.
func (r *Recorder) Feed(payload []byte, payloadType int) {
	if len(payload) == 0 || (payloadType != PayloadPCMU && payloadType != PayloadPCMA) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	frame := recordedFrame{payload: append([]byte(nil), payload...), payloadType: payloadType}
	select {
	case r.frames <- frame:
	default:
	}
}

// RecordingInfo describes a finished recording.
type RecordingInfo struct {
	Path     string
	Bytes    int64
	Duration time.Duration
}

// Stop drains queued frames, finalizes the header and closes the file.
// Later calls return the same info.
func (r *Recorder) Stop() RecordingInfo {
	r.stopOnce.Do(r.finish)
	return r.info
}

func (r *Recorder) finish() {
	r.mu.Lock()
	r.stopped = true
	close(r.frames)
	r.mu.Unlock()

	<-r.done

	if _, err := r.file.Seek(0, io.SeekStart); err != nil {
		r.logger.Error("failed to seek for wav header rewrite", "error", err)
	} else if err := writeWAVHeader(r.file, r.dataSize); err != nil {
		r.logger.Error("failed to rewrite wav header", "error", err)
	}
	if err := r.file.Close(); err != nil {
		r.logger.Error("failed to close recording", "error", err)
	}

	r.info = RecordingInfo{
		Path:     r.path,
		Bytes:    int64(wavHeaderSize) + int64(r.dataSize),
		Duration: time.Duration(r.dataSize) * time.Second / clockRate,
	}
	r.logger.Info("recording stopped", "duration", r.info.Duration, "bytes", r.info.Bytes)
}

// Path returns the file being written.
func (r *Recorder) Path() string { return r.path }

// Silence is closed once the caller has been silent for SilenceTimeout. It
// is never closed when silence detection is disabled.
func (r *Recorder) Silence() <-chan struct{} { return r.silence }

// trackSilence accounts one frame with the given mean level.
func (r *Recorder) trackSilence(level, samples int) {
	if r.silent || !r.opts.detectsSilence() {
		return
	}
	if level >= r.opts.SilenceThreshold {
		r.silentSamples = 0
		return
	}
	r.silentSamples += samples
	if time.Duration(r.silentSamples)*time.Second/clockRate >= r.opts.SilenceTimeout {
		r.silent = true
		close(r.silence)
		r.logger.Debug("silence limit reached", "threshold", r.opts.SilenceThreshold, "timeout", r.opts.SilenceTimeout)
	}
}

func (r *Recorder) writeLoop() {
	defer close(r.done)

	buf := make([]byte, 0, recorderFlushSize)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		n, err := r.file.Write(buf)
		if err != nil {
			r.logger.Error("failed to write recording data", "error", err)
		}
		r.dataSize += uint32(n)
		buf = buf[:0]
	}

	for frame := range r.frames {
		energy := 0
		if frame.payloadType == PayloadPCMU {
			buf = append(buf, frame.payload...)
			for _, b := range frame.payload {
				energy += absSample(ulawToLinear[b])
			}
		} else {
			for _, b := range frame.payload {
				s := alawToLinear[b]
				buf = append(buf, encodeUlaw(s))
				energy += absSample(s)
			}
		}
		r.trackSilence(energy/len(frame.payload), len(frame.payload))
		if len(buf) >= recorderFlushSize {
			flush()
		}
	}
	flush()
}

func absSample(s int16) int {
	if s < 0 {
		return -int(s)
	}
	return int(s)
}

// writeWAVHeader writes a 44-byte header for 8 kHz mono u-law audio.
func writeWAVHeader(w io.Writer, dataSize uint32) error {
	var hdr [wavHeaderSize]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], wavHeaderSize-8+dataSize)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], wavFormatPCMU)
	binary.LittleEndian.PutUint16(hdr[22:24], 1)
	binary.LittleEndian.PutUint32(hdr[24:28], clockRate)
	binary.LittleEndian.PutUint32(hdr[28:32], clockRate)
	binary.LittleEndian.PutUint16(hdr[32:34], 1)
	binary.LittleEndian.PutUint16(hdr[34:36], 8)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], dataSize)
	_, err := w.Write(hdr[:])
	return err
}

// RecordingPath returns where the recording for the collected digits is
// stored: <dir>/recording<digits>.wav.
func RecordingPath(dir, digits string) string {
	return filepath.Join(dir, "recording"+digits+".wav")
}
