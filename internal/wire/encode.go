package wire

import (
	"encoding/binary"
	"net"
)

// encodeRequestHeader writes the fixed request header into buf.
func encodeRequestHeader(buf []byte, h RequestHeader) {
	buf[0] = h.Version
	buf[1] = uint8(h.Opcode) &^ responseBit
	binary.BigEndian.PutUint32(buf[4:8], h.RequestedLifetime)
	putIPField(buf[8:24], h.ClientIP)
}

// encodeResponseHeader writes the fixed response header into buf. The
// response bit is set on the opcode byte; the trailing 96 bits stay zero.
func encodeResponseHeader(buf []byte, h ResponseHeader) {
	buf[0] = h.Version
	buf[1] = uint8(h.Opcode) | responseBit
	buf[2] = 0
	buf[3] = uint8(h.Result)
	binary.BigEndian.PutUint32(buf[4:8], h.Lifetime)
	binary.BigEndian.PutUint32(buf[8:12], h.Epoch)
}

func encodeMapPayload(buf []byte, nonce Nonce, protocol uint8, internalPort, externalPort uint16, externalIP net.IP) {
	binary.BigEndian.PutUint32(buf[0:4], nonce[0])
	binary.BigEndian.PutUint32(buf[4:8], nonce[1])
	binary.BigEndian.PutUint32(buf[8:12], nonce[2])
	buf[12] = protocol
	binary.BigEndian.PutUint16(buf[16:18], internalPort)
	binary.BigEndian.PutUint16(buf[18:20], externalPort)
	putIPField(buf[20:36], externalIP)
}

// Encode serializes the request to its fixed wire form.
func (r *AnnounceRequest) Encode() []byte {
	buf := make([]byte, AnnounceRequestSize)
	encodeRequestHeader(buf, r.Header)
	return buf
}

// Encode serializes the request to its fixed wire form.
func (r *MapRequest) Encode() []byte {
	buf := make([]byte, MapRequestSize)
	encodeRequestHeader(buf, r.Header)
	encodeMapPayload(buf[requestHeaderSize:], r.Nonce, r.Protocol, r.InternalPort, r.SuggestedExternalPort, r.SuggestedExternalIP)
	return buf
}

// Encode serializes the request to its fixed wire form.
func (r *PeerRequest) Encode() []byte {
	buf := make([]byte, PeerRequestSize)
	encodeRequestHeader(buf, r.Header)
	encodeMapPayload(buf[requestHeaderSize:], r.Nonce, r.Protocol, r.InternalPort, r.SuggestedExternalPort, r.SuggestedExternalIP)
	rest := buf[requestHeaderSize+mapPayloadSize:]
	binary.BigEndian.PutUint16(rest[0:2], r.RemotePeerPort)
	putIPField(rest[4:20], r.RemotePeerIP)
	return buf
}

// Encode serializes the response to its fixed wire form.
func (r *AnnounceResponse) Encode() []byte {
	buf := make([]byte, AnnounceResponseSize)
	encodeResponseHeader(buf, r.Header)
	return buf
}

// Encode serializes the response to its fixed wire form.
func (r *MapResponse) Encode() []byte {
	buf := make([]byte, MapResponseSize)
	encodeResponseHeader(buf, r.Header)
	encodeMapPayload(buf[responseHeaderSize:], r.Nonce, r.Protocol, r.InternalPort, r.AssignedExternalPort, r.AssignedExternalIP)
	return buf
}

// Encode serializes the response to its fixed wire form.
func (r *PeerResponse) Encode() []byte {
	buf := make([]byte, PeerResponseSize)
	encodeResponseHeader(buf, r.Header)
	encodeMapPayload(buf[responseHeaderSize:], r.Nonce, r.Protocol, r.InternalPort, r.AssignedExternalPort, r.AssignedExternalIP)
	rest := buf[responseHeaderSize+mapPayloadSize:]
	binary.BigEndian.PutUint16(rest[0:2], r.RemotePeerPort)
	putIPField(rest[4:20], r.RemotePeerIP)
	return buf
}

// putIPField writes ip into a 16-byte wire field. IPv4 addresses are written
// in IPv4-mapped IPv6 form; a nil ip leaves the field zero.
func putIPField(buf []byte, ip net.IP) {
	if ip == nil {
		return
	}
	if v16 := ip.To16(); v16 != nil {
		copy(buf, v16)
	}
}
