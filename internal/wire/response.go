package wire

import "net"

// NewAnnounceResponse builds the response to an ANNOUNCE request.
func NewAnnounceResponse(req *AnnounceRequest, result ResultCode, epoch uint32) *AnnounceResponse {
	return &AnnounceResponse{
		Header: ResponseHeader{
			Version: Version,
			Opcode:  req.Header.Opcode,
			Result:  result,
			Epoch:   epoch,
		},
	}
}

// NewMapResponse builds a MAP response from its request. The nonce, protocol
// and internal port are echoed; lifetime and the external endpoint carry
// server-assigned values.
func NewMapResponse(req *MapRequest, result ResultCode, lifetime, epoch uint32, externalPort uint16, externalIP net.IP) *MapResponse {
	return &MapResponse{
		Header: ResponseHeader{
			Version:  Version,
			Opcode:   req.Header.Opcode,
			Result:   result,
			Lifetime: lifetime,
			Epoch:    epoch,
		},
		Nonce:                req.Nonce,
		Protocol:             req.Protocol,
		InternalPort:         req.InternalPort,
		AssignedExternalPort: externalPort,
		AssignedExternalIP:   externalIP,
	}
}

// NewPeerResponse builds a PEER response from its request, carrying the
// remote peer endpoint through unchanged.
func NewPeerResponse(req *PeerRequest, result ResultCode, lifetime, epoch uint32, externalPort uint16, externalIP net.IP) *PeerResponse {
	return &PeerResponse{
		MapResponse:    *NewMapResponse(&req.MapRequest, result, lifetime, epoch, externalPort, externalIP),
		RemotePeerPort: req.RemotePeerPort,
		RemotePeerIP:   req.RemotePeerIP,
	}
}

// ErrorResponse rewrites a raw request in place into an error response,
// reusing the inbound buffer's storage. It is used when the request cannot
// be decoded into a typed form but a wire-visible result is still owed
// (bad version, unknown opcode, short packet). The payload bytes beyond the
// header are left as the client sent them, per RFC 6887 §7.2.
func ErrorResponse(buf []byte, result ResultCode, epoch uint32) []byte {
	if len(buf) < responseHeaderSize {
		padded := make([]byte, responseHeaderSize)
		copy(padded, buf)
		buf = padded
	}
	if len(buf) > MaxMessageSize {
		buf = buf[:MaxMessageSize]
	}
	hdr := ResponseHeader{
		Version: Version,
		Opcode:  Opcode(buf[1] &^ responseBit),
		Result:  result,
		Epoch:   epoch,
	}
	encodeResponseHeader(buf, hdr)
	// Clear the 96 reserved bits that overlay the request's client IP.
	for i := 12; i < responseHeaderSize; i++ {
		buf[i] = 0
	}
	return buf
}
