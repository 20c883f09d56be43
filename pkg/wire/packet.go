// Package wire implements BitChat's versioned binary packet framing:
// header encode/decode, optional zlib compression, and padding to a
// fixed cell-size ladder for traffic-analysis resistance.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// Packet types.
const (
	TypeAnnounce       uint8 = 0x01
	TypeMessage        uint8 = 0x02
	TypeLeave          uint8 = 0x03
	TypeNoiseHandshake uint8 = 0x10
	TypeNoiseEncrypted uint8 = 0x11
	TypeFragment       uint8 = 0x20
	TypeRequestSync    uint8 = 0x21
	TypeFileTransfer   uint8 = 0x22
)

// NOISE_ENCRYPTED inner sub-types.
const (
	SubtypePrivateMessage uint8 = 0x01
	SubtypeReadReceipt    uint8 = 0x02
	SubtypeDelivered      uint8 = 0x03
	SubtypeVerifyChallenge uint8 = 0x10
	SubtypeVerifyResponse  uint8 = 0x11
)

// Flag bits.
const (
	FlagHasRecipient uint8 = 0x01
	FlagHasSignature uint8 = 0x02
	FlagIsCompressed uint8 = 0x04
	FlagHasRoute     uint8 = 0x08
	FlagIsRSR        uint8 = 0x10
)

const (
	v1HeaderSize = 14
	v2HeaderSize = 16

	maxPayloadLen = 10 * 1024 * 1024 // 10 MiB size bound
	compressMinLen = 256
	bombRatio      = 50000

	maxRouteHops = 255 // wire-format limit (1-byte hop count)

	// RouteHopCap is the router-enforced relay hop cap: a relayed packet
	// appends itself to the route trace and is dropped once the trace
	// would exceed this many hops. Exported so pkg/router can apply the
	// same limit without duplicating the constant.
	RouteHopCap = 10
)

var (
	ErrDecodeFailed    = errors.New("wire: decode failed")
	ErrPayloadTooLarge = errors.New("wire: payload length out of bounds")
	ErrDecompressBomb  = errors.New("wire: compression ratio exceeds bomb threshold")
	ErrUnsupportedVer  = errors.New("wire: unsupported packet version")
	ErrRouteNotV2      = errors.New("wire: route present requires version >= 2")
	ErrTooManyHops     = errors.New("wire: route hop count exceeds wire limit")
)

// Packet is the unit of mesh transmission.
type Packet struct {
	Version     uint8
	Type        uint8
	TTL         uint8
	Timestamp   uint64 // ms since epoch
	SenderID    [8]byte
	RecipientID *[8]byte // nil => broadcast
	Payload     []byte
	Signature   *[64]byte
	Route       [][8]byte // v2 only; nil/empty => HAS_ROUTE unset
	IsRSR       bool
}

func (p *Packet) flags() uint8 {
	var f uint8
	if p.RecipientID != nil {
		f |= FlagHasRecipient
	}
	if p.Signature != nil {
		f |= FlagHasSignature
	}
	if len(p.Route) > 0 {
		f |= FlagHasRoute
	}
	if p.IsRSR {
		f |= FlagIsRSR
	}
	return f
}

// SignaturePayload returns the bytes that should be Ed25519-signed: the
// frame encodeCore produces for p with its Signature cleared, so both
// the trailing signature field and the HAS_SIGNATURE flag bit are
// absent. Callers compute and attach p.Signature themselves; the codec
// never signs or verifies.
func SignaturePayload(p *Packet) ([]byte, error) {
	withoutSig := *p
	withoutSig.Signature = nil
	return encodeCore(&withoutSig)
}

// Encode frames p. When pad is true the frame is rounded up to the next
// cell in {256,512,1024,2048} using PKCS#7-style padding, reserving 16
// bytes for a cipher tag; frames that don't fit under a cell after that
// reservation, or whose required pad length exceeds 255, are left
// unpadded (the decoder doesn't need a padding flag: the frame is
// self-describing and trailing bytes are simply never consumed).
func Encode(p *Packet, pad bool) ([]byte, error) {
	core, err := encodeCore(p)
	if err != nil {
		return nil, err
	}
	if !pad {
		return core, nil
	}
	return applyPadding(core), nil
}

func encodeCore(p *Packet) ([]byte, error) {
	if p.Version != 1 && p.Version != 2 {
		return nil, ErrUnsupportedVer
	}
	if len(p.Route) > 0 && p.Version < 2 {
		return nil, ErrRouteNotV2
	}
	if len(p.Route) > maxRouteHops {
		return nil, ErrTooManyHops
	}

	payloadSection, compressed, err := encodePayloadSection(p.Payload, p.Version)
	if err != nil {
		return nil, err
	}
	if len(payloadSection) > maxPayloadLen {
		return nil, ErrPayloadTooLarge
	}

	flags := p.flags()
	if compressed {
		flags |= FlagIsCompressed
	}

	var buf bytes.Buffer
	if p.Version == 1 {
		buf.Grow(v1HeaderSize + len(payloadSection) + 8 + 64)
		writeHeaderV1(&buf, p, flags, uint16(len(payloadSection)))
	} else {
		buf.Grow(v2HeaderSize + len(payloadSection) + 8 + 64)
		writeHeaderV2(&buf, p, flags, uint32(len(payloadSection)))
	}

	buf.Write(p.SenderID[:])
	if p.RecipientID != nil {
		buf.Write(p.RecipientID[:])
	}
	if p.Version >= 2 && len(p.Route) > 0 {
		buf.WriteByte(uint8(len(p.Route)))
		for _, hop := range p.Route {
			buf.Write(hop[:])
		}
	}
	buf.Write(payloadSection)
	if p.Signature != nil {
		buf.Write(p.Signature[:])
	}

	return buf.Bytes(), nil
}

func writeHeaderV1(buf *bytes.Buffer, p *Packet, flags uint8, payloadLen uint16) {
	var hdr [v1HeaderSize]byte
	hdr[0] = p.Version
	hdr[1] = p.Type
	hdr[2] = p.TTL
	binary.BigEndian.PutUint64(hdr[3:11], p.Timestamp)
	hdr[11] = flags
	binary.BigEndian.PutUint16(hdr[12:14], payloadLen)
	buf.Write(hdr[:])
}

func writeHeaderV2(buf *bytes.Buffer, p *Packet, flags uint8, payloadLen uint32) {
	var hdr [v2HeaderSize]byte
	hdr[0] = p.Version
	hdr[1] = p.Type
	hdr[2] = p.TTL
	binary.BigEndian.PutUint64(hdr[3:11], p.Timestamp)
	hdr[11] = flags
	binary.BigEndian.PutUint32(hdr[12:16], payloadLen)
	buf.Write(hdr[:])
}

// Decode parses a framed packet. It first tries a lenient, self-describing
// parse that never looks past the lengths embedded in the frame (so
// trailing padding is simply ignored); only if that fails does it strip
// PKCS#7-style padding and retry, and only when stripping actually
// changed the bytes.
func Decode(data []byte) (*Packet, error) {
	p, err := decodeCore(data)
	if err == nil {
		return p, nil
	}

	stripped := stripPadding(data)
	if bytes.Equal(stripped, data) {
		return nil, ErrDecodeFailed
	}
	if p2, err2 := decodeCore(stripped); err2 == nil {
		return p2, nil
	}
	return nil, ErrDecodeFailed
}

func decodeCore(data []byte) (*Packet, error) {
	if len(data) < 1 {
		return nil, ErrDecodeFailed
	}
	version := data[0]

	var headerSize int
	switch version {
	case 1:
		headerSize = v1HeaderSize
	case 2:
		headerSize = v2HeaderSize
	default:
		return nil, ErrDecodeFailed
	}
	if len(data) < headerSize {
		return nil, ErrDecodeFailed
	}

	p := &Packet{Version: version, Type: data[1], TTL: data[2]}
	p.Timestamp = binary.BigEndian.Uint64(data[3:11])
	flags := data[11]
	p.IsRSR = flags&FlagIsRSR != 0

	var payloadLen int
	var off int
	if version == 1 {
		payloadLen = int(binary.BigEndian.Uint16(data[12:14]))
		off = v1HeaderSize
	} else {
		payloadLen = int(binary.BigEndian.Uint32(data[12:16]))
		off = v2HeaderSize
	}
	if payloadLen < 0 || payloadLen > maxPayloadLen {
		return nil, ErrPayloadTooLarge
	}

	if len(data) < off+8 {
		return nil, ErrDecodeFailed
	}
	copy(p.SenderID[:], data[off:off+8])
	off += 8

	if flags&FlagHasRecipient != 0 {
		if len(data) < off+8 {
			return nil, ErrDecodeFailed
		}
		var rid [8]byte
		copy(rid[:], data[off:off+8])
		p.RecipientID = &rid
		off += 8
	}

	if flags&FlagHasRoute != 0 {
		if version < 2 {
			return nil, ErrDecodeFailed
		}
		if len(data) < off+1 {
			return nil, ErrDecodeFailed
		}
		hopCount := int(data[off])
		off++
		if len(data) < off+hopCount*8 {
			return nil, ErrDecodeFailed
		}
		route := make([][8]byte, hopCount)
		for i := 0; i < hopCount; i++ {
			copy(route[i][:], data[off:off+8])
			off += 8
		}
		p.Route = route
	}

	if len(data) < off+payloadLen {
		return nil, ErrDecodeFailed
	}
	payloadSection := data[off : off+payloadLen]
	off += payloadLen

	payload, err := decodePayloadSection(payloadSection, flags&FlagIsCompressed != 0, version)
	if err != nil {
		return nil, err
	}
	p.Payload = payload

	if flags&FlagHasSignature != 0 {
		if len(data) < off+64 {
			return nil, ErrDecodeFailed
		}
		var sig [64]byte
		copy(sig[:], data[off:off+64])
		p.Signature = &sig
		off += 64
	}

	return p, nil
}
