package media

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// ErrNoPorts is returned when every RTP port pair in the range is in use.
var ErrNoPorts = errors.New("no rtp ports available")

// SocketPair is a bound RTP socket on an even port and its RTCP companion
// on the next odd port.
type SocketPair struct {
	RTPPort  int
	RTPConn  *net.UDPConn
	RTCPConn *net.UDPConn
}

// Close closes both sockets.
func (sp *SocketPair) Close() error {
	return errors.Join(sp.RTPConn.Close(), sp.RTCPConn.Close())
}

// PortPool hands out RTP/RTCP socket pairs from a fixed port range. Ports
// are scanned round-robin so a just-released pair is not reused at once.
type PortPool struct {
	min, max int
	logger   *slog.Logger

	mu    sync.Mutex
	inUse map[int]struct{}
	next  int
}

// NewPortPool creates a pool over [portMin, portMax]. portMin must be even.
func NewPortPool(portMin, portMax int, logger *slog.Logger) (*PortPool, error) {
	if portMin%2 != 0 {
		return nil, fmt.Errorf("rtp port min must be even, got %d", portMin)
	}
	if portMax <= portMin {
		return nil, fmt.Errorf("rtp port max (%d) must be greater than min (%d)", portMax, portMin)
	}
	p := &PortPool{
		min:    portMin,
		max:    portMax,
		logger: logger.With("subsystem", "rtp-ports"),
		inUse:  make(map[int]struct{}),
		next:   portMin,
	}
	p.logger.Info("rtp port pool ready", "port_min", portMin, "port_max", portMax, "pairs", p.Capacity())
	return p, nil
}

// Capacity returns the number of pairs in the range.
func (p *PortPool) Capacity() int {
	return (p.max - p.min + 1) / 2
}

// InUse returns the number of allocated pairs.
func (p *PortPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inUse)
}

// Allocate binds the next free pair. Ports held by other processes are
// skipped.
func (p *PortPool) Allocate() (*SocketPair, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for tried := 0; tried < p.Capacity(); tried++ {
		port := p.next
		p.next += 2
		if p.next+1 > p.max {
			p.next = p.min
		}
		if _, taken := p.inUse[port]; taken {
			continue
		}

		pair, err := bindPair(port)
		if err != nil {
			p.logger.Debug("port pair bind failed", "rtp_port", port, "error", err)
			continue
		}
		p.inUse[port] = struct{}{}
		return pair, nil
	}
	return nil, ErrNoPorts
}

// Release closes the sockets and returns the pair to the pool.
func (p *PortPool) Release(pair *SocketPair) {
	if pair == nil {
		return
	}
	if err := pair.Close(); err != nil {
		p.logger.Warn("error closing socket pair", "rtp_port", pair.RTPPort, "error", err)
	}
	p.mu.Lock()
	delete(p.inUse, pair.RTPPort)
	p.mu.Unlock()
}

func bindPair(port int) (*SocketPair, error) {
	rtp, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, fmt.Errorf("binding rtp port %d: %w", port, err)
	}
	rtcp, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: port + 1})
	if err != nil {
		rtp.Close()
		return nil, fmt.Errorf("binding rtcp port %d: %w", port+1, err)
	}
	return &SocketPair{RTPPort: port, RTPConn: rtp, RTCPConn: rtcp}, nil
}
