package media

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// readDeadline bounds each socket read so the receive loop notices Close.
const readDeadline = 100 * time.Millisecond

// SignalSource names where a key press was detected.
type SignalSource string

const (
	SourceRFC2833 SignalSource = "rfc2833"
	SourceInband  SignalSource = "inband"
	SourceSIPInfo SignalSource = "sip-info"
)

// EndpointConfig configures a call's media endpoint.
type EndpointConfig struct {
	Negotiated *Negotiated

	// InbandDTMF enables Goertzel detection on received audio.
	InbandDTMF bool

	// OnSignal is called from the receive loop for each detected key press.
	OnSignal func(signal byte, source SignalSource)
}

// Endpoint terminates the RTP stream of one call. It receives the caller's
// audio and telephone-events, reports key presses, feeds an active recorder,
// and plays prompts, tones and DTMF back to the caller.
type Endpoint struct {
	pool    *PortPool
	sockets *SocketPair
	logger  *slog.Logger

	codec   Codec
	eventPT int
	remote  atomic.Pointer[net.UDPAddr]
	learned atomic.Bool

	out    *rtpSender
	player *Player
	inband *InbandDetector
	signal func(byte, SignalSource)

	recMu    sync.Mutex
	recorder *Recorder

	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewEndpoint allocates a socket pair from pool and prepares the endpoint.
// Call Start to begin receiving.
func NewEndpoint(pool *PortPool, cfg EndpointConfig, logger *slog.Logger) (*Endpoint, error) {
	sockets, err := pool.Allocate()
	if err != nil {
		return nil, err
	}

	e := &Endpoint{
		pool:    pool,
		sockets: sockets,
		logger:  logger.With("subsystem", "endpoint", "rtp_port", sockets.RTPPort),
		codec:   cfg.Negotiated.Codec,
		eventPT: cfg.Negotiated.EventPT,
		signal:  cfg.OnSignal,
		done:    make(chan struct{}),
	}
	e.remote.Store(cfg.Negotiated.Remote)
	if e.signal == nil {
		e.signal = func(byte, SignalSource) {}
	}
	if cfg.InbandDTMF {
		det, err := NewInbandDetector()
		if err != nil {
			pool.Release(sockets)
			return nil, err
		}
		e.inband = det
	}

	e.out = newRTPSender(sockets.RTPConn, e.remote.Load)
	e.player = newPlayer(e.out, e.codec.PayloadType, e.eventPT, e.logger)
	return e, nil
}

// LocalPort returns the RTP port advertised in the SDP answer.
func (e *Endpoint) LocalPort() int { return e.sockets.RTPPort }

// Codec returns the negotiated audio codec.
func (e *Endpoint) Codec() Codec { return e.codec }

// Remote returns the address RTP is sent to.
func (e *Endpoint) Remote() *net.UDPAddr { return e.remote.Load() }

// Player returns the endpoint's outbound audio player.
func (e *Endpoint) Player() *Player { return e.player }

// Start runs the receive loop until Close or ctx is done.
func (e *Endpoint) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	go e.receiveLoop(ctx)
}

func (e *Endpoint) receiveLoop(ctx context.Context) {
	defer close(e.done)

	buf := make([]byte, maxRTPPacket)
	var dedupe eventDeduper

	for ctx.Err() == nil {
		e.sockets.RTPConn.SetReadDeadline(time.Now().Add(readDeadline))
		n, from, err := e.sockets.RTPConn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			e.logger.Debug("rtp read error", "error", err)
			continue
		}

		hdr, payload, ok := parseRTP(buf[:n])
		if !ok {
			continue
		}

		// Symmetric RTP: answer to where the caller actually sends from.
		if e.learned.CompareAndSwap(false, true) {
			if cur := e.remote.Load(); cur == nil || !cur.IP.Equal(from.IP) || cur.Port != from.Port {
				e.logger.Debug("learned remote rtp address", "from", from.String())
				e.remote.Store(from)
			}
		}

		switch {
		case e.eventPT != 0 && hdr.PayloadType == e.eventPT:
			if sig := dedupe.accept(ParseDTMFEvent(payload), hdr.Timestamp); sig != 0 {
				e.signal(sig, SourceRFC2833)
			}
		case hdr.PayloadType == PayloadPCMU || hdr.PayloadType == PayloadPCMA:
			if e.inband != nil {
				e.inband.FeedPayload(hdr.PayloadType, payload, func(sig byte) {
					e.signal(sig, SourceInband)
				})
			}
			e.recMu.Lock()
			if e.recorder != nil {
				e.recorder.Feed(payload, hdr.PayloadType)
			}
			e.recMu.Unlock()
		}
	}
}

// PlayFile streams a WAV prompt to the caller.
func (e *Endpoint) PlayFile(ctx context.Context, path string) (*PlayResult, error) {
	return e.player.PlayFile(ctx, path)
}

// PlayTone streams a generated tone sequence to the caller.
func (e *Endpoint) PlayTone(ctx context.Context, tones []Tone) (*PlayResult, error) {
	return e.player.PlayTone(ctx, tones)
}

// SendDigits sends key presses to the caller as telephone-events.
func (e *Endpoint) SendDigits(ctx context.Context, digits string) error {
	return e.player.SendDigits(ctx, digits)
}

// StartRecording begins writing received audio to path, replacing any
// recording already in progress.
func (e *Endpoint) StartRecording(path string, opts RecordOptions) (*Recorder, error) {
	rec, err := NewRecorder(path, opts, e.logger)
	if err != nil {
		return nil, err
	}
	e.recMu.Lock()
	prev := e.recorder
	e.recorder = rec
	e.recMu.Unlock()
	if prev != nil {
		prev.Stop()
	}
	return rec, nil
}

// StopRecording finalizes the active recording. ok is false when nothing
// was being recorded.
func (e *Endpoint) StopRecording() (info RecordingInfo, ok bool) {
	e.recMu.Lock()
	rec := e.recorder
	e.recorder = nil
	e.recMu.Unlock()
	if rec == nil {
		return RecordingInfo{}, false
	}
	return rec.Stop(), true
}

// Close stops the receive loop, finalizes any recording and returns the
// ports to the pool.
func (e *Endpoint) Close() {
	e.closeOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
		e.StopRecording()
		e.pool.Release(e.sockets)
		if e.cancel != nil {
			<-e.done
		}
	})
}
