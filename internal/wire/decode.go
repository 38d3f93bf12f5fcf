package wire

import (
	"encoding/binary"
	"net"
)

// decodeRequestHeader parses the fixed request header. The buffer must hold
// at least requestHeaderSize bytes; callers validate total length first.
func decodeRequestHeader(buf []byte) RequestHeader {
	return RequestHeader{
		Version:           buf[0],
		Opcode:            Opcode(buf[1] &^ responseBit),
		RequestedLifetime: binary.BigEndian.Uint32(buf[4:8]),
		ClientIP:          ipField(buf[8:24]),
	}
}

// decodeMapPayload parses the 36-byte MAP opcode payload.
func decodeMapPayload(buf []byte, req *MapRequest) {
	req.Nonce = Nonce{
		binary.BigEndian.Uint32(buf[0:4]),
		binary.BigEndian.Uint32(buf[4:8]),
		binary.BigEndian.Uint32(buf[8:12]),
	}
	req.Protocol = buf[12]
	req.InternalPort = binary.BigEndian.Uint16(buf[16:18])
	req.SuggestedExternalPort = binary.BigEndian.Uint16(buf[18:20])
	req.SuggestedExternalIP = ipField(buf[20:36])
}

// DecodeAnnounceRequest parses a raw ANNOUNCE request.
func DecodeAnnounceRequest(buf []byte) (*AnnounceRequest, error) {
	if len(buf) != AnnounceRequestSize {
		return nil, ErrMalformed
	}
	return &AnnounceRequest{Header: decodeRequestHeader(buf)}, nil
}

// DecodeMapRequest parses a raw MAP request. The total length must match the
// opcode's fixed size exactly; short or oversized packets are malformed.
func DecodeMapRequest(buf []byte) (*MapRequest, error) {
	if len(buf) != MapRequestSize {
		return nil, ErrMalformed
	}
	req := &MapRequest{Header: decodeRequestHeader(buf)}
	decodeMapPayload(buf[requestHeaderSize:], req)
	return req, nil
}

// DecodePeerRequest parses a raw PEER request.
func DecodePeerRequest(buf []byte) (*PeerRequest, error) {
	if len(buf) != PeerRequestSize {
		return nil, ErrMalformed
	}
	req := &PeerRequest{}
	req.Header = decodeRequestHeader(buf)
	decodeMapPayload(buf[requestHeaderSize:], &req.MapRequest)
	rest := buf[requestHeaderSize+mapPayloadSize:]
	req.RemotePeerPort = binary.BigEndian.Uint16(rest[0:2])
	req.RemotePeerIP = ipField(rest[4:20])
	return req, nil
}

// decodeResponseHeader parses the fixed response header.
func decodeResponseHeader(buf []byte) ResponseHeader {
	return ResponseHeader{
		Version:  buf[0],
		Opcode:   Opcode(buf[1] &^ responseBit),
		Result:   ResultCode(buf[3]),
		Lifetime: binary.BigEndian.Uint32(buf[4:8]),
		Epoch:    binary.BigEndian.Uint32(buf[8:12]),
	}
}

// DecodeAnnounceResponse parses a raw ANNOUNCE response.
func DecodeAnnounceResponse(buf []byte) (*AnnounceResponse, error) {
	if len(buf) != AnnounceResponseSize {
		return nil, ErrMalformed
	}
	return &AnnounceResponse{Header: decodeResponseHeader(buf)}, nil
}

// DecodeMapResponse parses a raw MAP response.
func DecodeMapResponse(buf []byte) (*MapResponse, error) {
	if len(buf) != MapResponseSize {
		return nil, ErrMalformed
	}
	resp := &MapResponse{Header: decodeResponseHeader(buf)}
	decodeMapResponsePayload(buf[responseHeaderSize:], resp)
	return resp, nil
}

// DecodePeerResponse parses a raw PEER response.
func DecodePeerResponse(buf []byte) (*PeerResponse, error) {
	if len(buf) != PeerResponseSize {
		return nil, ErrMalformed
	}
	resp := &PeerResponse{}
	resp.Header = decodeResponseHeader(buf)
	decodeMapResponsePayload(buf[responseHeaderSize:], &resp.MapResponse)
	rest := buf[responseHeaderSize+mapPayloadSize:]
	resp.RemotePeerPort = binary.BigEndian.Uint16(rest[0:2])
	resp.RemotePeerIP = ipField(rest[4:20])
	return resp, nil
}

func decodeMapResponsePayload(buf []byte, resp *MapResponse) {
	resp.Nonce = Nonce{
		binary.BigEndian.Uint32(buf[0:4]),
		binary.BigEndian.Uint32(buf[4:8]),
		binary.BigEndian.Uint32(buf[8:12]),
	}
	resp.Protocol = buf[12]
	resp.InternalPort = binary.BigEndian.Uint16(buf[16:18])
	resp.AssignedExternalPort = binary.BigEndian.Uint16(buf[18:20])
	resp.AssignedExternalIP = ipField(buf[20:36])
}

// ipField copies a 16-byte wire field into a fresh net.IP so decoded packets
// do not alias the receive buffer.
func ipField(b []byte) net.IP {
	ip := make(net.IP, 16)
	copy(ip, b)
	return ip
}
