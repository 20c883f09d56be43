package wire

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
)

// encodePayloadSection builds the on-wire payload section for the given
// header version: either the raw payload, or, when compression helps,
// a length-prefixed zlib-compressed payload (prefix width: 2 bytes for
// v1 headers, 4 bytes for v2) with IS_COMPRESSED reported back to the
// caller.
func encodePayloadSection(payload []byte, version uint8) (section []byte, compressed bool, err error) {
	if len(payload) <= compressMinLen {
		return payload, false, nil
	}

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, werr := zw.Write(payload); werr != nil {
		return nil, false, werr
	}
	if cerr := zw.Close(); cerr != nil {
		return nil, false, cerr
	}

	if buf.Len() >= len(payload) {
		return payload, false, nil
	}

	lenWidth := 2
	if version >= 2 {
		lenWidth = 4
	}
	out := make([]byte, lenWidth+buf.Len())
	if lenWidth == 2 {
		binary.BigEndian.PutUint16(out[:2], uint16(len(payload)))
	} else {
		binary.BigEndian.PutUint32(out[:4], uint32(len(payload)))
	}
	copy(out[lenWidth:], buf.Bytes())
	return out, true, nil
}

func decodePayloadSection(section []byte, compressed bool, version uint8) ([]byte, error) {
	if !compressed {
		out := make([]byte, len(section))
		copy(out, section)
		return out, nil
	}

	lenWidth := 2
	if version >= 2 {
		lenWidth = 4
	}
	if len(section) < lenWidth {
		return nil, ErrDecodeFailed
	}

	var originalLen uint64
	if lenWidth == 2 {
		originalLen = uint64(binary.BigEndian.Uint16(section[:2]))
	} else {
		originalLen = uint64(binary.BigEndian.Uint32(section[:4]))
	}

	compressedBytes := section[lenWidth:]
	if originalLen > 0 && len(compressedBytes) > 0 {
		ratio := float64(originalLen) / float64(len(compressedBytes))
		if ratio > bombRatio {
			return nil, ErrDecompressBomb
		}
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressedBytes))
	if err != nil {
		return nil, ErrDecodeFailed
	}
	defer zr.Close()

	buf := bytes.NewBuffer(make([]byte, 0, originalLen))
	if _, err := io.CopyN(buf, zr, int64(originalLen)); err != nil && err != io.EOF {
		return nil, ErrDecodeFailed
	}
	return buf.Bytes(), nil
}
