package media

import (
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
)

const (
	// RTP payload types for supported codecs.
	PayloadPCMU = 0 // G.711 u-law
	PayloadPCMA = 8 // G.711 a-law

	// maxRTPPacket is the largest UDP datagram the receive loop accepts.
	maxRTPPacket = 1500

	// rtpHeaderSize is the fixed RTP header size (no CSRCs, no extensions).
	rtpHeaderSize = 12

	rtpVersion = 2

	// clockRate is the RTP clock for G.711 and telephone-event.
	clockRate = 8000
)

// rtpHeader holds the RTP fields the endpoint uses.
type rtpHeader struct {
	PayloadType int
	Marker      bool
	Seq         uint16
	Timestamp   uint32
	SSRC        uint32
}

// parseRTP splits a datagram into header and payload, skipping CSRCs, the
// header extension and padding. ok is false for anything that is not RTPv2.
func parseRTP(pkt []byte) (hdr rtpHeader, payload []byte, ok bool) {
	if len(pkt) < rtpHeaderSize || pkt[0]>>6 != rtpVersion {
		return hdr, nil, false
	}
	hdr = rtpHeader{
		PayloadType: int(pkt[1] & 0x7F),
		Marker:      pkt[1]&0x80 != 0,
		Seq:         binary.BigEndian.Uint16(pkt[2:4]),
		Timestamp:   binary.BigEndian.Uint32(pkt[4:8]),
		SSRC:        binary.BigEndian.Uint32(pkt[8:12]),
	}

	offset := rtpHeaderSize + int(pkt[0]&0x0F)*4
	if pkt[0]&0x10 != 0 {
		if len(pkt) < offset+4 {
			return hdr, nil, false
		}
		offset += 4 + int(binary.BigEndian.Uint16(pkt[offset+2:offset+4]))*4
	}
	end := len(pkt)
	if pkt[0]&0x20 != 0 && end > 0 {
		end -= int(pkt[end-1])
	}
	if offset > end {
		return hdr, nil, false
	}
	return hdr, pkt[offset:end], true
}

// buildRTPHeader writes a 12-byte RTP header into buf.
// marker should be true for the first packet of a talkspurt.
func buildRTPHeader(buf []byte, pt int, marker bool, seq uint16, ts uint32, ssrc uint32) {
	buf[0] = rtpVersion << 6
	buf[1] = byte(pt & 0x7F)
	if marker {
		buf[1] |= 0x80
	}
	binary.BigEndian.PutUint16(buf[2:4], seq)
	binary.BigEndian.PutUint32(buf[4:8], ts)
	binary.BigEndian.PutUint32(buf[8:12], ssrc)
}

// rtpSender owns the outgoing RTP stream of an endpoint so prompts, tones
// and telephone-events share one SSRC and a continuous sequence.
type rtpSender struct {
	conn   *net.UDPConn
	remote func() *net.UDPAddr

	mu   sync.Mutex
	ssrc uint32
	seq  uint16
	ts   uint32
	buf  []byte
}

func newRTPSender(conn *net.UDPConn, remote func() *net.UDPAddr) *rtpSender {
	return &rtpSender{
		conn:   conn,
		remote: remote,
		ssrc:   rand.Uint32(),
		seq:    uint16(rand.UintN(65536)),
		ts:     rand.Uint32(),
		buf:    make([]byte, maxRTPPacket),
	}
}

// send writes one packet stamped with the current timestamp, then advances
// the timestamp by advance clock ticks.
func (s *rtpSender) send(pt int, marker bool, payload []byte, advance uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLocked(pt, marker, s.ts, payload, advance)
}

// sendAt writes one packet with an explicit timestamp, leaving the stream
// timestamp alone unless advance is non-zero. Telephone-events keep the
// timestamp of the event start across all packets of one event.
func (s *rtpSender) sendAt(pt int, marker bool, ts uint32, payload []byte, advance uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLocked(pt, marker, ts, payload, advance)
}

func (s *rtpSender) sendLocked(pt int, marker bool, ts uint32, payload []byte, advance uint32) error {
	remote := s.remote()
	if remote == nil {
		return fmt.Errorf("sending rtp: no remote address")
	}
	n := rtpHeaderSize + len(payload)
	if n > len(s.buf) {
		return fmt.Errorf("sending rtp: payload of %d bytes too large", len(payload))
	}
	buildRTPHeader(s.buf[:rtpHeaderSize], pt, marker, s.seq, ts, s.ssrc)
	copy(s.buf[rtpHeaderSize:], payload)
	if _, err := s.conn.WriteToUDP(s.buf[:n], remote); err != nil {
		return fmt.Errorf("sending rtp packet: %w", err)
	}
	s.seq++
	s.ts += advance
	return nil
}

// timestamp returns the next stream timestamp.
func (s *rtpSender) timestamp() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ts
}

// advance moves the stream timestamp forward without sending.
func (s *rtpSender) advance(ticks uint32) {
	s.mu.Lock()
	s.ts += ticks
	s.mu.Unlock()
}
