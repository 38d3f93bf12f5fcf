package wire

import (
	"bytes"
	"errors"
	"net"
	"testing"
)

func mustIP(t *testing.T, s string) net.IP {
	t.Helper()
	ip := net.ParseIP(s)
	if ip == nil {
		t.Fatalf("bad test IP %q", s)
	}
	return ip.To16()
}

func sampleMapRequest(t *testing.T) *MapRequest {
	t.Helper()
	return &MapRequest{
		Header: RequestHeader{
			Version:           Version,
			Opcode:            OpcodeMap,
			RequestedLifetime: 120,
			ClientIP:          mustIP(t, "2001:db8::1"),
		},
		Nonce:                 Nonce{0x01020304, 0x05060708, 0x090a0b0c},
		Protocol:              6,
		InternalPort:          8080,
		SuggestedExternalPort: 9090,
		SuggestedExternalIP:   mustIP(t, "2001:db8::2"),
	}
}

func TestClassify_MapRequest(t *testing.T) {
	req := sampleMapRequest(t)
	op, isResp, err := Classify(req.Encode())
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if op != OpcodeMap {
		t.Errorf("opcode = %v, want MAP", op)
	}
	if isResp {
		t.Error("isResponse = true for a request")
	}
}

func TestClassify_ResponseBit(t *testing.T) {
	resp := NewMapResponse(sampleMapRequest(t), ResultSuccess, 120, 5, 9090, mustIP(t, "2001:db8::2"))
	op, isResp, err := Classify(resp.Encode())
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if op != OpcodeMap {
		t.Errorf("opcode = %v, want MAP", op)
	}
	if !isResp {
		t.Error("isResponse = false for a response")
	}
}

func TestClassify_UnsupportedVersion(t *testing.T) {
	buf := sampleMapRequest(t).Encode()
	buf[0] = 1
	op, _, err := Classify(buf)
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("err = %v, want ErrUnsupportedVersion", err)
	}
	// Opcode must still be reported so the caller can echo it.
	if op != OpcodeMap {
		t.Errorf("opcode = %v, want MAP", op)
	}
}

func TestClassify_UnsupportedOpcode(t *testing.T) {
	buf := sampleMapRequest(t).Encode()
	buf[1] = 42
	_, _, err := Classify(buf)
	if !errors.Is(err, ErrUnsupportedOpcode) {
		t.Fatalf("err = %v, want ErrUnsupportedOpcode", err)
	}
}

func TestClassify_TooShort(t *testing.T) {
	if _, _, err := Classify([]byte{Version}); !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestDecodeMapRequest_RoundTrip(t *testing.T) {
	want := sampleMapRequest(t)
	raw := want.Encode()
	if len(raw) != MapRequestSize {
		t.Fatalf("len(raw) = %d, want %d", len(raw), MapRequestSize)
	}

	got, err := DecodeMapRequest(raw)
	if err != nil {
		t.Fatalf("DecodeMapRequest() error = %v", err)
	}
	if got.Header.RequestedLifetime != want.Header.RequestedLifetime {
		t.Errorf("lifetime = %d, want %d", got.Header.RequestedLifetime, want.Header.RequestedLifetime)
	}
	if got.Nonce != want.Nonce {
		t.Errorf("nonce = %v, want %v", got.Nonce, want.Nonce)
	}
	if got.Protocol != want.Protocol || got.InternalPort != want.InternalPort || got.SuggestedExternalPort != want.SuggestedExternalPort {
		t.Errorf("payload fields = (%d, %d, %d), want (%d, %d, %d)",
			got.Protocol, got.InternalPort, got.SuggestedExternalPort,
			want.Protocol, want.InternalPort, want.SuggestedExternalPort)
	}
	if !got.Header.ClientIP.Equal(want.Header.ClientIP) {
		t.Errorf("client IP = %v, want %v", got.Header.ClientIP, want.Header.ClientIP)
	}
	if !got.SuggestedExternalIP.Equal(want.SuggestedExternalIP) {
		t.Errorf("suggested external IP = %v, want %v", got.SuggestedExternalIP, want.SuggestedExternalIP)
	}

	// Re-encoding must reproduce the original bytes.
	if !bytes.Equal(got.Encode(), raw) {
		t.Error("re-encoded MAP request differs from original bytes")
	}
}

func TestDecodeMapRequest_WrongSize(t *testing.T) {
	raw := sampleMapRequest(t).Encode()
	if _, err := DecodeMapRequest(raw[:MapRequestSize-1]); !errors.Is(err, ErrMalformed) {
		t.Errorf("short packet: err = %v, want ErrMalformed", err)
	}
	if _, err := DecodeMapRequest(append(raw, 0)); !errors.Is(err, ErrMalformed) {
		t.Errorf("long packet: err = %v, want ErrMalformed", err)
	}
}

func TestDecodePeerRequest_RoundTrip(t *testing.T) {
	want := &PeerRequest{
		MapRequest:     *sampleMapRequest(t),
		RemotePeerPort: 4433,
		RemotePeerIP:   mustIP(t, "2001:db8::99"),
	}
	want.Header.Opcode = OpcodePeer

	raw := want.Encode()
	if len(raw) != PeerRequestSize {
		t.Fatalf("len(raw) = %d, want %d", len(raw), PeerRequestSize)
	}

	got, err := DecodePeerRequest(raw)
	if err != nil {
		t.Fatalf("DecodePeerRequest() error = %v", err)
	}
	if got.RemotePeerPort != want.RemotePeerPort {
		t.Errorf("remote peer port = %d, want %d", got.RemotePeerPort, want.RemotePeerPort)
	}
	if !got.RemotePeerIP.Equal(want.RemotePeerIP) {
		t.Errorf("remote peer IP = %v, want %v", got.RemotePeerIP, want.RemotePeerIP)
	}
	if !bytes.Equal(got.Encode(), raw) {
		t.Error("re-encoded PEER request differs from original bytes")
	}
}

func TestDecodeAnnounceRequest_RoundTrip(t *testing.T) {
	want := &AnnounceRequest{Header: RequestHeader{
		Version:  Version,
		Opcode:   OpcodeAnnounce,
		ClientIP: mustIP(t, "192.0.2.7"),
	}}
	raw := want.Encode()
	got, err := DecodeAnnounceRequest(raw)
	if err != nil {
		t.Fatalf("DecodeAnnounceRequest() error = %v", err)
	}
	if !bytes.Equal(got.Encode(), raw) {
		t.Error("re-encoded ANNOUNCE request differs from original bytes")
	}
	// IPv4 client addresses must be carried as IPv4-mapped IPv6.
	if got.Header.ClientIP.To4() == nil {
		t.Errorf("client IP = %v, want an IPv4-mapped address", got.Header.ClientIP)
	}
}

func TestMapResponse_RoundTrip(t *testing.T) {
	req := sampleMapRequest(t)
	want := NewMapResponse(req, ResultSuccess, 600, 17, 9090, mustIP(t, "203.0.113.5"))

	raw := want.Encode()
	if len(raw) != MapResponseSize {
		t.Fatalf("len(raw) = %d, want %d", len(raw), MapResponseSize)
	}

	got, err := DecodeMapResponse(raw)
	if err != nil {
		t.Fatalf("DecodeMapResponse() error = %v", err)
	}
	if got.Header.Result != ResultSuccess {
		t.Errorf("result = %v, want SUCCESS", got.Header.Result)
	}
	if got.Header.Lifetime != 600 || got.Header.Epoch != 17 {
		t.Errorf("lifetime/epoch = %d/%d, want 600/17", got.Header.Lifetime, got.Header.Epoch)
	}
	if got.Nonce != req.Nonce {
		t.Errorf("nonce = %v, want echoed %v", got.Nonce, req.Nonce)
	}
	if !bytes.Equal(got.Encode(), raw) {
		t.Error("re-encoded MAP response differs from original bytes")
	}
}

func TestPeerResponse_RoundTrip(t *testing.T) {
	req := &PeerRequest{
		MapRequest:     *sampleMapRequest(t),
		RemotePeerPort: 4433,
		RemotePeerIP:   mustIP(t, "2001:db8::99"),
	}
	req.Header.Opcode = OpcodePeer

	want := NewPeerResponse(req, ResultSuccess, 600, 17, 9090, mustIP(t, "203.0.113.5"))
	raw := want.Encode()

	got, err := DecodePeerResponse(raw)
	if err != nil {
		t.Fatalf("DecodePeerResponse() error = %v", err)
	}
	if got.RemotePeerPort != req.RemotePeerPort || !got.RemotePeerIP.Equal(req.RemotePeerIP) {
		t.Errorf("remote peer = [%v]:%d, want echoed [%v]:%d",
			got.RemotePeerIP, got.RemotePeerPort, req.RemotePeerIP, req.RemotePeerPort)
	}
	if !bytes.Equal(got.Encode(), raw) {
		t.Error("re-encoded PEER response differs from original bytes")
	}
}

func TestErrorResponse_SetsHeaderInPlace(t *testing.T) {
	raw := sampleMapRequest(t).Encode()
	resp := ErrorResponse(raw, ResultUnsuppVersion, 42)

	if len(resp) != MapRequestSize {
		t.Fatalf("len(resp) = %d, want %d", len(resp), MapRequestSize)
	}
	op, isResp, err := Classify(resp)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if op != OpcodeMap {
		t.Errorf("opcode = %v, want echoed MAP", op)
	}
	if !isResp {
		t.Error("response bit not set")
	}
	if ResultCode(resp[3]) != ResultUnsuppVersion {
		t.Errorf("result = %v, want UNSUPP_VERSION", ResultCode(resp[3]))
	}
	for i := 12; i < 24; i++ {
		if resp[i] != 0 {
			t.Fatalf("reserved byte %d = %#x, want 0", i, resp[i])
		}
	}
}

func TestErrorResponse_PadsShortPacket(t *testing.T) {
	resp := ErrorResponse([]byte{Version, byte(OpcodeMap)}, ResultMalformedRequest, 0)
	if len(resp) != AnnounceResponseSize {
		t.Fatalf("len(resp) = %d, want %d", len(resp), AnnounceResponseSize)
	}
	if ResultCode(resp[3]) != ResultMalformedRequest {
		t.Errorf("result = %v, want MALFORMED_REQUEST", ResultCode(resp[3]))
	}
}

func TestResultCode_String(t *testing.T) {
	if s := ResultSuccess.String(); s != "SUCCESS" {
		t.Errorf("ResultSuccess.String() = %q, want SUCCESS", s)
	}
	if s := ResultExcessiveRemotePeers.String(); s != "EXCESSIVE_REMOTE_PEERS" {
		t.Errorf("String() = %q, want EXCESSIVE_REMOTE_PEERS", s)
	}
	if s := ResultCode(200).String(); s != "result(200)" {
		t.Errorf("String() = %q, want result(200)", s)
	}
}
