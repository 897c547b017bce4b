package media

import (
	"encoding/binary"
	"errors"
	"strconv"
	"strings"
)

// DefaultTelephoneEventPT is the payload type offered for RFC 2833
// telephone-event when the remote side does not pick one.
const DefaultTelephoneEventPT = 101

// DTMFEvent is an RFC 2833 telephone-event payload:
//
//	|     event     |E|R| volume    |          duration             |
type DTMFEvent struct {
	Event    uint8  // 0-9 digits, 10 = *, 11 = #, 12-15 = A-D
	End      bool   // E bit: last packet(s) of the event
	Volume   uint8  // power level in -dBm0 (0-63)
	Duration uint16 // in timestamp units
}

const dtmfPayloadSize = 4

// ParseDTMFEvent parses a telephone-event payload. It returns nil if the
// payload is too short.
func ParseDTMFEvent(payload []byte) *DTMFEvent {
	if len(payload) < dtmfPayloadSize {
		return nil
	}
	return &DTMFEvent{
		Event:    payload[0],
		End:      payload[1]&0x80 != 0,
		Volume:   payload[1] & 0x3F,
		Duration: binary.BigEndian.Uint16(payload[2:4]),
	}
}

// Marshal encodes the event as a 4-byte telephone-event payload.
func (e DTMFEvent) Marshal() []byte {
	b := make([]byte, dtmfPayloadSize)
	b[0] = e.Event
	b[1] = e.Volume & 0x3F
	if e.End {
		b[1] |= 0x80
	}
	binary.BigEndian.PutUint16(b[2:4], e.Duration)
	return b
}

// Signal returns the keypad symbol for the event, or 0 for codes outside
// the 16 DTMF keys.
func (e DTMFEvent) Signal() byte {
	return EventSignal(e.Event)
}

// EventSignal maps a telephone-event code to its keypad symbol.
func EventSignal(code uint8) byte {
	switch {
	case code <= 9:
		return '0' + code
	case code == 10:
		return '*'
	case code == 11:
		return '#'
	case code >= 12 && code <= 15:
		return 'A' + code - 12
	default:
		return 0
	}
}

// EventCode maps a keypad symbol to its telephone-event code.
func EventCode(signal byte) (uint8, bool) {
	switch {
	case signal >= '0' && signal <= '9':
		return signal - '0', true
	case signal == '*':
		return 10, true
	case signal == '#':
		return 11, true
	case signal >= 'A' && signal <= 'D':
		return signal - 'A' + 12, true
	case signal >= 'a' && signal <= 'd':
		return signal - 'a' + 12, true
	default:
		return 0, false
	}
}

// ValidSignal reports whether c is one of the 16 DTMF keypad symbols.
func ValidSignal(c byte) bool {
	_, ok := EventCode(c)
	return ok
}

// eventDeduper suppresses the redundant End packets a sender transmits for
// one key press. A press is identified by its event code and RTP timestamp.
type eventDeduper struct {
	seen  bool
	event uint8
	ts    uint32
}

// accept returns the signal for a completed key press, or 0 if the packet
// is not an End packet or repeats one already reported.
func (d *eventDeduper) accept(ev *DTMFEvent, ts uint32) byte {
	if ev == nil || !ev.End {
		return 0
	}
	if d.seen && d.event == ev.Event && d.ts == ts {
		return 0
	}
	d.seen, d.event, d.ts = true, ev.Event, ts
	return ev.Signal()
}

// DTMFInfo is a key press carried in a SIP INFO request.
type DTMFInfo struct {
	Signal   byte
	Duration int // milliseconds, 0 when absent
}

// ErrInvalidDTMFInfo is returned when a SIP INFO body is not a DTMF event.
var ErrInvalidDTMFInfo = errors.New("invalid dtmf info body")

// ParseSIPInfoDTMF parses a SIP INFO body by content type. Supported types
// are application/dtmf-relay ("Signal=5\r\nDuration=160") and
// application/dtmf (a bare symbol).
func ParseSIPInfoDTMF(contentType string, body []byte) (*DTMFInfo, error) {
	ct, _, _ := strings.Cut(strings.ToLower(contentType), ";")
	switch strings.TrimSpace(ct) {
	case "application/dtmf-relay":
		return parseDTMFRelay(body)
	case "application/dtmf":
		sig := strings.TrimSpace(string(body))
		if len(sig) != 1 || !ValidSignal(sig[0]) {
			return nil, ErrInvalidDTMFInfo
		}
		return &DTMFInfo{Signal: strings.ToUpper(sig)[0]}, nil
	default:
		return nil, ErrInvalidDTMFInfo
	}
}

func parseDTMFRelay(body []byte) (*DTMFInfo, error) {
	var info *DTMFInfo
	duration := 0
	for _, line := range strings.Split(string(body), "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "signal":
			if len(value) != 1 || !ValidSignal(value[0]) {
				return nil, ErrInvalidDTMFInfo
			}
			info = &DTMFInfo{Signal: strings.ToUpper(value)[0]}
		case "duration":
			if d, err := strconv.Atoi(value); err == nil && d >= 0 {
				duration = d
			}
		}
	}
	if info == nil {
		return nil, ErrInvalidDTMFInfo
	}
	info.Duration = duration
	return info, nil
}
