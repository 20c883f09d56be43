package rendezvous

import (
	"encoding/binary"
	"time"

	"github.com/klauspost/reedsolomon"
)

const reassemblyTimeout = 30 * time.Second

// reassemblyKey identifies one in-flight multi-fragment message by the
// peer handle it arrived on and the sender-chosen message id.
type reassemblyKey struct {
	peerHandle string
	msgID      uint16
}

type partialMessage struct {
	msgID       uint16
	total       uint16
	shardLen    int
	originalLen uint32
	dataFrags   map[uint16][]byte // frag_idx -> payload, first-wins on duplicates
	parity      []byte
	started     time.Time
}

// reassembler tracks in-flight fragmented messages per peer handle and
// recovers a message as soon as enough shards (data or FEC parity) have
// arrived, discarding anything that sits unfinished past reassemblyTimeout.
type reassembler struct {
	pending map[reassemblyKey]*partialMessage
}

func newReassembler() *reassembler {
	return &reassembler{pending: make(map[reassemblyKey]*partialMessage)}
}

// feed processes one received on-air datagram. It returns the decoded
// wire-packet bytes once a message completes, or nil while more
// fragments are still needed.
func (re *reassembler) feed(peerHandle string, datagram []byte) ([]byte, error) {
	if len(datagram) < 1 {
		return nil, ErrInvalidFragment
	}
	marker := datagram[0]
	body := datagram[1:]

	if marker == markerSingle {
		return body, nil
	}
	if marker != markerFrag && marker != markerParity {
		return nil, ErrInvalidFragment
	}
	if len(body) < fragHeaderSize {
		return nil, ErrInvalidFragment
	}

	msgID := binary.BigEndian.Uint16(body[0:2])
	fragIdx := binary.BigEndian.Uint16(body[2:4])
	total := binary.BigEndian.Uint16(body[4:6])
	payload := body[fragHeaderSize:]

	if total == 0 {
		return nil, ErrInvalidFragment
	}
	if marker == markerFrag && fragIdx >= total {
		return nil, ErrInvalidFragment
	}

	key := reassemblyKey{peerHandle: peerHandle, msgID: msgID}
	pm, ok := re.pending[key]
	if !ok {
		pm = &partialMessage{msgID: msgID, total: total, dataFrags: make(map[uint16][]byte), started: timeNow()}
		re.pending[key] = pm
	}
	re.evictExpired()

	if marker == markerParity {
		if len(payload) < 6 {
			return nil, ErrInvalidFragment
		}
		shardLen := int(binary.BigEndian.Uint16(payload[0:2]))
		originalLen := binary.BigEndian.Uint32(payload[2:6])
		if pm.parity == nil {
			pm.shardLen = shardLen
			pm.originalLen = originalLen
			pm.parity = append([]byte{}, payload[6:]...)
		}
	} else {
		if _, dup := pm.dataFrags[fragIdx]; !dup {
			pm.dataFrags[fragIdx] = append([]byte{}, payload...)
		}
	}

	if uint16(len(pm.dataFrags)) == pm.total {
		delete(re.pending, key)
		return assembleComplete(pm)
	}

	if pm.parity != nil && uint16(len(pm.dataFrags)) == pm.total-1 {
		delete(re.pending, key)
		return recoverWithParity(pm)
	}

	return nil, nil
}

// assembleComplete concatenates every data fragment's original packet
// payload, stripping the per-fragment marker/header each carried.
func assembleComplete(pm *partialMessage) ([]byte, error) {
	var out []byte
	for i := uint16(0); i < pm.total; i++ {
		out = append(out, pm.dataFrags[i]...)
	}
	return out, nil
}

// recoverWithParity reconstructs exactly one missing data fragment from
// the Reed-Solomon parity shard when every other data fragment and the
// parity datagram are present.
func recoverWithParity(pm *partialMessage) ([]byte, error) {
	shards := make([][]byte, int(pm.total)+1)
	for i := uint16(0); i < pm.total; i++ {
		if f, ok := pm.dataFrags[i]; ok {
			padded := make([]byte, pm.shardLen)
			copy(padded, encodeDataFrameForShard(pm.msgID, i, pm.total, f))
			shards[i] = padded
		}
	}
	shards[pm.total] = pm.parity

	enc, err := reedsolomon.New(int(pm.total), 1)
	if err != nil {
		return nil, err
	}
	if err := enc.ReconstructData(shards); err != nil {
		return nil, err
	}

	var out []byte
	for i := uint16(0); i < pm.total; i++ {
		frame := shards[i]
		payload := frame[1+fragHeaderSize:]
		out = append(out, payload...)
	}
	if uint32(len(out)) > pm.originalLen {
		out = out[:pm.originalLen]
	}
	return out, nil
}

// encodeDataFrameForShard rebuilds the exact on-air datagram bytes a
// data fragment was sent as, so the Reed-Solomon shard layout here
// matches the one used to compute the parity at send time.
func encodeDataFrameForShard(msgID, idx, total uint16, payload []byte) []byte {
	frame := make([]byte, 1+fragHeaderSize+len(payload))
	frame[0] = markerFrag
	binary.BigEndian.PutUint16(frame[1:3], msgID)
	binary.BigEndian.PutUint16(frame[3:5], idx)
	binary.BigEndian.PutUint16(frame[5:7], total)
	copy(frame[7:], payload)
	return frame
}

func (re *reassembler) evictExpired() {
	cutoff := timeNow().Add(-reassemblyTimeout)
	for k, pm := range re.pending {
		if pm.started.Before(cutoff) {
			delete(re.pending, k)
		}
	}
}
