package sip

import (
	"io"
	"log/slog"

	"github.com/emiago/sipgo/sip"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testOffer = "v=0\r\n" +
	"o=- 1 1 IN IP4 192.0.2.10\r\n" +
	"s=-\r\n" +
	"c=IN IP4 192.0.2.10\r\n" +
	"t=0 0\r\n" +
	"m=audio 40000 RTP/AVP 8 0 101\r\n" +
	"a=rtpmap:8 PCMA/8000\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n" +
	"a=rtpmap:101 telephone-event/8000\r\n" +
	"a=fmtp:101 0-16\r\n"

// newInvite builds an INVITE from sip:alice@192.0.2.10 to sip:<number>@pbx.
func newInvite(number string, body []byte) *sip.Request {
	req := sip.NewRequest(sip.INVITE, sip.Uri{User: number, Host: "pbx.example.com"})

	fromParams := sip.NewParams()
	fromParams.Add("tag", "caller-tag")
	req.AppendHeader(&sip.FromHeader{
		DisplayName: "Alice",
		Address:     sip.Uri{User: "alice", Host: "192.0.2.10"},
		Params:      fromParams,
	})
	req.AppendHeader(&sip.ToHeader{
		Address: sip.Uri{User: number, Host: "pbx.example.com"},
		Params:  sip.NewParams(),
	})
	callID := sip.CallIDHeader("call-1@192.0.2.10")
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: 7, MethodName: sip.INVITE})
	req.AppendHeader(&sip.ContactHeader{Address: sip.Uri{User: "alice", Host: "192.0.2.10", Port: 5062}})

	if body != nil {
		ct := sip.ContentTypeHeader("application/sdp")
		req.AppendHeader(&ct)
		req.SetBody(body)
	}
	req.SetTransport("UDP")
	req.SetSource("198.51.100.7:5062")
	return req
}
