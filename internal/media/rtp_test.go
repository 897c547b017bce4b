package media

import "testing"

func TestBuildAndParseRTP(t *testing.T) {
	pkt := make([]byte, rtpHeaderSize+4)
	buildRTPHeader(pkt, 101, true, 0x1234, 0xDEADBEEF, 0xCAFEBABE)
	copy(pkt[rtpHeaderSize:], []byte{1, 2, 3, 4})

	hdr, payload, ok := parseRTP(pkt)
	if !ok {
		t.Fatal("parseRTP rejected a valid packet")
	}
	if hdr.PayloadType != 101 || !hdr.Marker || hdr.Seq != 0x1234 || hdr.Timestamp != 0xDEADBEEF || hdr.SSRC != 0xCAFEBABE {
		t.Errorf("header = %+v", hdr)
	}
	if len(payload) != 4 || payload[3] != 4 {
		t.Errorf("payload = %v", payload)
	}
}

func TestParseRTP_CSRCAndPadding(t *testing.T) {
	pkt := make([]byte, rtpHeaderSize+4+3+2)
	buildRTPHeader(pkt, 0, false, 1, 2, 3)
	pkt[0] |= 0x20 | 0x01 // padding, one CSRC
	pkt[rtpHeaderSize+4] = 0xAA
	pkt[len(pkt)-1] = 2

	_, payload, ok := parseRTP(pkt)
	if !ok {
		t.Fatal("parseRTP rejected packet")
	}
	if len(payload) != 3 || payload[0] != 0xAA {
		t.Errorf("payload = %v, want 3 bytes starting 0xAA", payload)
	}
}

func TestParseRTP_Invalid(t *testing.T) {
	if _, _, ok := parseRTP([]byte{0x80, 0}); ok {
		t.Error("short packet accepted")
	}
	pkt := make([]byte, rtpHeaderSize)
	pkt[0] = 1 << 6
	if _, _, ok := parseRTP(pkt); ok {
		t.Error("version 1 packet accepted")
	}
}
