package rendezvous

import (
	"encoding/binary"
	"errors"

	"github.com/klauspost/reedsolomon"
)

// L2 fragmentation constants.
const (
	markerSingle uint8 = 0x00
	markerFrag   uint8 = 0x01
	// markerParity adds a third frame kind carrying a forward-error-
	// correction parity shard alongside the plain data fragments: a
	// device that doesn't recognize it simply drops it, degrading
	// gracefully to plain fragmentation.
	markerParity uint8 = 0x02

	fragHeaderSize = 6 // msg_id:2, frag_idx:2, total_frags:2
	maxFragPayload = 248
	maxDatagram    = 255

	// parityFragIdx marks the trailing FEC datagram: its header reuses
	// the data-fragment layout with frag_idx pinned to this sentinel so
	// a receiver that doesn't special-case it still parses the header.
	parityFragIdx = 0xFFFF
)

var (
	ErrPacketTooLargeToFragment = errors.New("rendezvous: packet exceeds fragmentable size")
	ErrInvalidFragment          = errors.New("rendezvous: invalid fragment header")
)

// fragmentSet is one encoded packet's outbound datagrams: the data
// fragments plus one trailing FEC parity datagram.
type fragmentSet struct {
	datagrams [][]byte
}

// fragmentPacket splits an encoded wire packet into on-air datagrams. A
// packet that already fits in a single 255-byte datagram (after the
// 1-byte marker) is sent unfragmented; larger packets are split into
// up to maxFragPayload-byte pieces, each carrying a 6-byte header, plus
// one Reed-Solomon parity datagram covering all of them.
func fragmentPacket(msgID uint16, encoded []byte) (*fragmentSet, error) {
	if len(encoded) <= maxDatagram-1 {
		return &fragmentSet{datagrams: [][]byte{append([]byte{markerSingle}, encoded...)}}, nil
	}

	var dataFrags [][]byte
	total := (len(encoded) + maxFragPayload - 1) / maxFragPayload
	if total > 0xFFFF {
		return nil, ErrPacketTooLargeToFragment
	}
	for i := 0; i < total; i++ {
		start := i * maxFragPayload
		end := start + maxFragPayload
		if end > len(encoded) {
			end = len(encoded)
		}
		frame := make([]byte, 1+fragHeaderSize+(end-start))
		frame[0] = markerFrag
		binary.BigEndian.PutUint16(frame[1:3], msgID)
		binary.BigEndian.PutUint16(frame[3:5], uint16(i))
		binary.BigEndian.PutUint16(frame[5:7], uint16(total))
		copy(frame[7:], encoded[start:end])
		dataFrags = append(dataFrags, frame)
	}

	parity, err := buildParityDatagram(msgID, dataFrags, uint32(len(encoded)))
	if err != nil {
		return nil, err
	}

	return &fragmentSet{datagrams: append(dataFrags, parity)}, nil
}

// buildParityDatagram computes one Reed-Solomon parity shard over all
// of a message's data fragment datagrams, padded to equal length,
// so that any single dropped datagram (data or parity) is recoverable.
// originalLen is the pre-fragmentation payload length, carried so a
// receiver that reconstructs a missing fragment from padded shards can
// trim the trailing padding back off.
func buildParityDatagram(msgID uint16, dataFrags [][]byte, originalLen uint32) ([]byte, error) {
	shardLen := 0
	for _, f := range dataFrags {
		if len(f) > shardLen {
			shardLen = len(f)
		}
	}
	shards := make([][]byte, len(dataFrags)+1)
	for i, f := range dataFrags {
		padded := make([]byte, shardLen)
		copy(padded, f)
		shards[i] = padded
	}
	shards[len(dataFrags)] = make([]byte, shardLen)

	enc, err := reedsolomon.New(len(dataFrags), 1)
	if err != nil {
		return nil, err
	}
	if err := enc.Encode(shards); err != nil {
		return nil, err
	}

	frame := make([]byte, 1+fragHeaderSize+2+4+shardLen)
	frame[0] = markerParity
	binary.BigEndian.PutUint16(frame[1:3], msgID)
	binary.BigEndian.PutUint16(frame[3:5], parityFragIdx)
	binary.BigEndian.PutUint16(frame[5:7], uint16(len(dataFrags)))
	binary.BigEndian.PutUint16(frame[7:9], uint16(shardLen))
	binary.BigEndian.PutUint32(frame[9:13], originalLen)
	copy(frame[13:], shards[len(dataFrags)])
	return frame, nil
}
