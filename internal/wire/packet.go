// Package wire implements the Port Control Protocol wire format (RFC 6887):
// packet classification, request decoding, and response encoding. The codec
// is stateless; policy decisions (unsupported protocols, disabled opcodes)
// belong to the caller and are expressed as result codes on responses.
package wire

import (
	"errors"
	"fmt"
	"net"
)

// Version is the PCP protocol version this daemon speaks.
const Version = 2

// ServerPort is the well-known PCP server UDP port.
const ServerPort = 5351

// MaxMessageSize is the largest PCP message accepted on the wire (RFC 6887 §7).
const MaxMessageSize = 1100

// Fixed packet sizes in bytes. PCP structures are fully packed with all
// multi-byte integers big-endian.
const (
	requestHeaderSize  = 24
	responseHeaderSize = 24
	mapPayloadSize     = 36
	peerPayloadSize    = 56

	// AnnounceRequestSize is the on-wire size of an ANNOUNCE request.
	AnnounceRequestSize = requestHeaderSize
	// MapRequestSize is the on-wire size of a MAP request.
	MapRequestSize = requestHeaderSize + mapPayloadSize
	// PeerRequestSize is the on-wire size of a PEER request.
	PeerRequestSize = requestHeaderSize + peerPayloadSize

	// AnnounceResponseSize is the on-wire size of an ANNOUNCE response.
	AnnounceResponseSize = responseHeaderSize
	// MapResponseSize is the on-wire size of a MAP response.
	MapResponseSize = responseHeaderSize + mapPayloadSize
	// PeerResponseSize is the on-wire size of a PEER response.
	PeerResponseSize = responseHeaderSize + peerPayloadSize
)

// responseBit is the high bit of the r_opcode byte: 0 = request, 1 = response.
const responseBit = 0x80

// Codec errors. These are syntactic only; they map onto the
// MALFORMED_REQUEST / UNSUPP_VERSION / UNSUPP_OPCODE result codes.
var (
	ErrMalformed          = errors.New("wire: malformed packet")
	ErrUnsupportedVersion = errors.New("wire: unsupported version")
	ErrUnsupportedOpcode  = errors.New("wire: unsupported opcode")
)

// Opcode identifies a PCP request kind.
type Opcode uint8

const (
	OpcodeAnnounce Opcode = 0
	OpcodeMap      Opcode = 1
	OpcodePeer     Opcode = 2
)

// String returns the opcode name.
func (o Opcode) String() string {
	switch o {
	case OpcodeAnnounce:
		return "ANNOUNCE"
	case OpcodeMap:
		return "MAP"
	case OpcodePeer:
		return "PEER"
	default:
		return fmt.Sprintf("opcode(%d)", uint8(o))
	}
}

// ResultCode is the outcome carried in a PCP response header.
type ResultCode uint8

const (
	ResultSuccess ResultCode = iota
	ResultUnsuppVersion
	ResultNotAuthorized
	ResultMalformedRequest
	ResultUnsuppOpcode
	ResultUnsuppOption
	ResultMalformedOption
	ResultNetworkFailure
	ResultNoResources
	ResultUnsuppProtocol
	ResultUserExQuota
	ResultCannotProvideExternal
	ResultAddressMismatch
	ResultExcessiveRemotePeers
)

// String returns the result code name.
func (r ResultCode) String() string {
	names := [...]string{
		"SUCCESS",
		"UNSUPP_VERSION",
		"NOT_AUTHORIZED",
		"MALFORMED_REQUEST",
		"UNSUPP_OPCODE",
		"UNSUPP_OPTION",
		"MALFORMED_OPTION",
		"NETWORK_FAILURE",
		"NO_RESOURCES",
		"UNSUPP_PROTOCOL",
		"USER_EX_QUOTA",
		"CANNOT_PROVIDE_EXTERNAL",
		"ADDRESS_MISMATCH",
		"EXCESSIVE_REMOTE_PEERS",
	}
	if int(r) < len(names) {
		return names[r]
	}
	return fmt.Sprintf("result(%d)", uint8(r))
}

// Nonce is the client-chosen 96-bit mapping nonce, kept as three 32-bit
// words to match the persisted representation.
type Nonce [3]uint32

// RequestHeader is the fixed 24-byte header of every PCP request.
type RequestHeader struct {
	Version           uint8
	Opcode            Opcode
	RequestedLifetime uint32
	ClientIP          net.IP // always 16 bytes; IPv4 carried as IPv4-mapped IPv6
}

// ResponseHeader is the fixed 24-byte header of every PCP response.
type ResponseHeader struct {
	Version  uint8
	Opcode   Opcode
	Result   ResultCode
	Lifetime uint32
	Epoch    uint32 // seconds since the server's own start
}

// AnnounceRequest is a bare ANNOUNCE request (header only).
type AnnounceRequest struct {
	Header RequestHeader
}

// MapRequest is a decoded MAP request.
type MapRequest struct {
	Header                RequestHeader
	Nonce                 Nonce
	Protocol              uint8
	InternalPort          uint16
	SuggestedExternalPort uint16
	SuggestedExternalIP   net.IP
}

// PeerRequest is a decoded PEER request: a MAP payload followed by the
// remote peer endpoint.
type PeerRequest struct {
	MapRequest
	RemotePeerPort uint16
	RemotePeerIP   net.IP
}

// AnnounceResponse is a bare ANNOUNCE response (header only).
type AnnounceResponse struct {
	Header ResponseHeader
}

// MapResponse is a MAP response. The nonce, protocol and internal port echo
// the request; the external endpoint carries server-assigned values.
type MapResponse struct {
	Header               ResponseHeader
	Nonce                Nonce
	Protocol             uint8
	InternalPort         uint16
	AssignedExternalPort uint16
	AssignedExternalIP   net.IP
}

// PeerResponse is a PEER response: a MAP response payload followed by the
// echoed remote peer endpoint.
type PeerResponse struct {
	MapResponse
	RemotePeerPort uint16
	RemotePeerIP   net.IP
}

// Classify reads the version and r_opcode bytes of a raw packet and reports
// the opcode and whether the response bit is set. The opcode is returned even
// when an error is reported so callers can echo it in an error response.
func Classify(buf []byte) (op Opcode, isResponse bool, err error) {
	if len(buf) < 2 {
		return 0, false, ErrMalformed
	}
	op = Opcode(buf[1] &^ responseBit)
	isResponse = buf[1]&responseBit != 0
	if buf[0] != Version {
		return op, isResponse, ErrUnsupportedVersion
	}
	switch op {
	case OpcodeAnnounce, OpcodeMap, OpcodePeer:
		return op, isResponse, nil
	default:
		return op, isResponse, ErrUnsupportedOpcode
	}
}
