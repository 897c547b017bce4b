package media

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Connection is an SDP c= line: <nettype> <addrtype> <address>.
type Connection struct {
	NetType  string
	AddrType string
	Address  string
}

func (c Connection) String() string {
	return c.NetType + " " + c.AddrType + " " + c.Address
}

// Origin is an SDP o= line.
type Origin struct {
	Username       string
	SessionID      string
	SessionVersion string
	NetType        string
	AddrType       string
	Address        string
}

func (o Origin) String() string {
	return strings.Join([]string{o.Username, o.SessionID, o.SessionVersion, o.NetType, o.AddrType, o.Address}, " ")
}

// Codec is one payload format of a media section.
type Codec struct {
	PayloadType int
	Name        string
	ClockRate   int
	Fmtp        string
}

// rtpmap renders the a=rtpmap value.
func (c Codec) rtpmap() string {
	return strconv.Itoa(c.PayloadType) + " " + c.Name + "/" + strconv.Itoa(c.ClockRate)
}

// MediaDescription is an m= section with its attributes.
type MediaDescription struct {
	Type       string
	Port       int
	Proto      string
	Formats    []int
	Connection *Connection
	Codecs     []Codec
	Attributes []string
	Direction  string
}

// codec returns the format for pt, falling back to the static payload
// assignments for G.711 when the offer carries no rtpmap.
func (m *MediaDescription) codec(pt int) (Codec, bool) {
	for _, c := range m.Codecs {
		if c.PayloadType == pt && c.Name != "" {
			return c, true
		}
	}
	switch pt {
	case PayloadPCMU:
		return Codec{PayloadType: PayloadPCMU, Name: "PCMU", ClockRate: clockRate}, true
	case PayloadPCMA:
		return Codec{PayloadType: PayloadPCMA, Name: "PCMA", ClockRate: clockRate}, true
	}
	return Codec{}, false
}

// SessionDescription is a parsed SDP body.
type SessionDescription struct {
	Version     int
	Origin      Origin
	SessionName string
	Connection  *Connection
	Time        string
	Attributes  []string
	Media       []MediaDescription
}

// AudioMedia returns the first audio section, or nil.
func (s *SessionDescription) AudioMedia() *MediaDescription {
	for i := range s.Media {
		if s.Media[i].Type == "audio" {
			return &s.Media[i]
		}
	}
	return nil
}

// ConnectionAddress returns the media-level address, else the session one.
func (s *SessionDescription) ConnectionAddress(m *MediaDescription) string {
	if m.Connection != nil {
		return m.Connection.Address
	}
	if s.Connection != nil {
		return s.Connection.Address
	}
	return ""
}

// ParseSDP parses an SDP body. Unknown and malformed lines are skipped.
func ParseSDP(data []byte) (*SessionDescription, error) {
	text := strings.TrimSpace(strings.ReplaceAll(string(data), "\r\n", "\n"))
	if text == "" {
		return nil, errors.New("empty sdp body")
	}

	sd := &SessionDescription{}
	var media *MediaDescription

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if len(line) < 2 || line[1] != '=' {
			continue
		}
		value := line[2:]

		switch line[0] {
		case 'v':
			v, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid sdp version: %w", err)
			}
			sd.Version = v
		case 'o':
			f := strings.Fields(value)
			if len(f) < 6 {
				return nil, fmt.Errorf("invalid sdp origin: expected 6 fields, got %d", len(f))
			}
			sd.Origin = Origin{f[0], f[1], f[2], f[3], f[4], f[5]}
		case 's':
			sd.SessionName = value
		case 't':
			sd.Time = value
		case 'c':
			conn, err := parseConnection(value)
			if err != nil {
				return nil, fmt.Errorf("invalid sdp connection: %w", err)
			}
			if media != nil {
				media.Connection = &conn
			} else {
				sd.Connection = &conn
			}
		case 'm':
			md, err := parseMediaLine(value)
			if err != nil {
				return nil, fmt.Errorf("invalid sdp media line: %w", err)
			}
			sd.Media = append(sd.Media, md)
			media = &sd.Media[len(sd.Media)-1]
		case 'a':
			if media == nil {
				sd.Attributes = append(sd.Attributes, value)
				continue
			}
			media.Attributes = append(media.Attributes, value)
			parseMediaAttribute(media, value)
		}
	}
	return sd, nil
}

func parseConnection(value string) (Connection, error) {
	f := strings.Fields(value)
	if len(f) < 3 {
		return Connection{}, fmt.Errorf("expected 3 fields, got %d", len(f))
	}
	addr, _, _ := strings.Cut(f[2], "/")
	if net.ParseIP(addr) == nil {
		return Connection{}, fmt.Errorf("invalid ip address %q", addr)
	}
	return Connection{NetType: f[0], AddrType: f[1], Address: addr}, nil
}

func parseMediaLine(value string) (MediaDescription, error) {
	f := strings.Fields(value)
	if len(f) < 4 {
		return MediaDescription{}, fmt.Errorf("expected at least 4 fields, got %d", len(f))
	}
	portStr, _, _ := strings.Cut(f[1], "/")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return MediaDescription{}, fmt.Errorf("invalid port: %w", err)
	}
	md := MediaDescription{Type: f[0], Port: port, Proto: f[2], Direction: "sendrecv"}
	for _, s := range f[3:] {
		pt, err := strconv.Atoi(s)
		if err != nil {
			return MediaDescription{}, fmt.Errorf("invalid payload type %q: %w", s, err)
		}
		md.Formats = append(md.Formats, pt)
	}
	return md, nil
}

func parseMediaAttribute(md *MediaDescription, attr string) {
	name, value, _ := strings.Cut(attr, ":")
	switch name {
	case "rtpmap":
		ptStr, enc, ok := strings.Cut(value, " ")
		if !ok {
			return
		}
		pt, err := strconv.Atoi(ptStr)
		if err != nil {
			return
		}
		parts := strings.Split(enc, "/")
		if len(parts) < 2 {
			return
		}
		rate, err := strconv.Atoi(parts[1])
		if err != nil {
			return
		}
		c := md.codecSlot(pt)
		c.Name, c.ClockRate = parts[0], rate
	case "fmtp":
		ptStr, params, ok := strings.Cut(value, " ")
		if !ok {
			return
		}
		if pt, err := strconv.Atoi(ptStr); err == nil {
			md.codecSlot(pt).Fmtp = params
		}
	case "sendrecv", "sendonly", "recvonly", "inactive":
		md.Direction = name
	}
}

// codecSlot returns the codec entry for pt, adding one if needed, so that
// fmtp and rtpmap lines may arrive in any order.
func (m *MediaDescription) codecSlot(pt int) *Codec {
	for i := range m.Codecs {
		if m.Codecs[i].PayloadType == pt {
			return &m.Codecs[i]
		}
	}
	m.Codecs = append(m.Codecs, Codec{PayloadType: pt})
	return &m.Codecs[len(m.Codecs)-1]
}

// Marshal renders the session description with CRLF line endings.
func (s *SessionDescription) Marshal() []byte {
	var b strings.Builder
	line := func(k byte, v string) {
		b.WriteByte(k)
		b.WriteByte('=')
		b.WriteString(v)
		b.WriteString("\r\n")
	}

	line('v', strconv.Itoa(s.Version))
	line('o', s.Origin.String())
	line('s', s.SessionName)
	if s.Connection != nil {
		line('c', s.Connection.String())
	}
	line('t', s.Time)
	for _, a := range s.Attributes {
		line('a', a)
	}
	for _, m := range s.Media {
		fmts := make([]string, len(m.Formats))
		for i, f := range m.Formats {
			fmts[i] = strconv.Itoa(f)
		}
		line('m', m.Type+" "+strconv.Itoa(m.Port)+" "+m.Proto+" "+strings.Join(fmts, " "))
		if m.Connection != nil {
			line('c', m.Connection.String())
		}
		for _, a := range m.Attributes {
			line('a', a)
		}
	}
	return []byte(b.String())
}

// NegotiationPolicy selects the audio codec from an offer.
type NegotiationPolicy string

const (
	// PolicyGreedy picks our most preferred codec the offer supports.
	PolicyGreedy NegotiationPolicy = "greedy"
	// PolicyGenerous picks the offerer's most preferred codec we support.
	PolicyGenerous NegotiationPolicy = "generous"
	// PolicyEvil accepts only our most preferred codec.
	PolicyEvil NegotiationPolicy = "evil"
)

// ParsePolicy validates a codec negotiation policy name.
func ParsePolicy(s string) (NegotiationPolicy, error) {
	switch p := NegotiationPolicy(strings.ToLower(s)); p {
	case PolicyGreedy, PolicyGenerous, PolicyEvil:
		return p, nil
	}
	return "", fmt.Errorf("invalid codec negotiation %q: must be greedy, generous or evil", s)
}

// localCodecs lists the codecs we accept, most preferred first.
var localCodecs = []string{"PCMU", "PCMA"}

var (
	// ErrNoAudio is returned when an offer has no usable audio section.
	ErrNoAudio = errors.New("sdp offer has no audio stream")
	// ErrNoCommonCodec is returned when no offered codec is acceptable.
	ErrNoCommonCodec = errors.New("no common codec")
)

// Negotiated is the result of answering an offer.
type Negotiated struct {
	Remote  *net.UDPAddr
	Codec   Codec
	EventPT int // telephone-event payload type, 0 when not offered
}

// Negotiate selects the audio codec and telephone-event payload type from
// an offer according to policy.
func Negotiate(offer *SessionDescription, policy NegotiationPolicy) (*Negotiated, error) {
	audio := offer.AudioMedia()
	if audio == nil || audio.Port == 0 {
		return nil, ErrNoAudio
	}
	ip := net.ParseIP(offer.ConnectionAddress(audio))
	if ip == nil {
		return nil, fmt.Errorf("sdp offer has no connection address: %w", ErrNoAudio)
	}

	offered := make(map[string]Codec)
	var order []string
	eventPT := 0
	for _, pt := range audio.Formats {
		c, ok := audio.codec(pt)
		if !ok {
			continue
		}
		name := strings.ToUpper(c.Name)
		if name == "TELEPHONE-EVENT" && c.ClockRate == clockRate {
			if eventPT == 0 {
				eventPT = pt
			}
			continue
		}
		if _, dup := offered[name]; !dup && c.ClockRate == clockRate {
			offered[name] = c
			order = append(order, name)
		}
	}

	var candidates []string
	switch policy {
	case PolicyGenerous:
		candidates = order
	case PolicyEvil:
		candidates = localCodecs[:1]
	default:
		candidates = localCodecs
	}

	for _, name := range candidates {
		c, ok := offered[name]
		if !ok || !isLocalCodec(name) {
			continue
		}
		return &Negotiated{
			Remote:  &net.UDPAddr{IP: ip, Port: audio.Port},
			Codec:   c,
			EventPT: eventPT,
		}, nil
	}
	return nil, ErrNoCommonCodec
}

func isLocalCodec(name string) bool {
	for _, c := range localCodecs {
		if c == name {
			return true
		}
	}
	return false
}

// BuildAnswer returns the SDP answer advertising localIP:port for the
// negotiated codec and telephone-event.
func BuildAnswer(localIP string, port int, n *Negotiated) *SessionDescription {
	addrType := "IP4"
	if ip := net.ParseIP(localIP); ip != nil && ip.To4() == nil {
		addrType = "IP6"
	}
	id := strconv.FormatInt(time.Now().Unix(), 10)

	audio := MediaDescription{
		Type:    "audio",
		Port:    port,
		Proto:   "RTP/AVP",
		Formats: []int{n.Codec.PayloadType},
		Attributes: []string{
			"rtpmap:" + Codec{PayloadType: n.Codec.PayloadType, Name: strings.ToUpper(n.Codec.Name), ClockRate: clockRate}.rtpmap(),
		},
		Direction: "sendrecv",
	}
	if n.EventPT != 0 {
		audio.Formats = append(audio.Formats, n.EventPT)
		audio.Attributes = append(audio.Attributes,
			"rtpmap:"+Codec{PayloadType: n.EventPT, Name: "telephone-event", ClockRate: clockRate}.rtpmap(),
			"fmtp:"+strconv.Itoa(n.EventPT)+" 0-16",
		)
	}
	audio.Attributes = append(audio.Attributes, "ptime:20", "sendrecv")

	return &SessionDescription{
		Origin:      Origin{"netdevpbx", id, id, "IN", addrType, localIP},
		SessionName: "netdevpbx",
		Connection:  &Connection{NetType: "IN", AddrType: addrType, Address: localIP},
		Time:        "0 0",
		Media:       []MediaDescription{audio},
	}
}
