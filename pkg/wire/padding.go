package wire

// cellSizes is the padding ladder: a padded payload rounds up to the
// smallest cell size that fits it.
var cellSizes = [...]int{256, 512, 1024, 2048}

const cipherTagReservation = 16

// applyPadding rounds frame up to the next cell size after reserving
// room for a cipher tag, using PKCS#7-style padding (every added byte
// equals the pad length). If the frame already exceeds the largest
// cell after the reservation, or the needed pad length doesn't fit a
// single byte (1-255), the frame is returned unpadded; it will be
// fragmented at the transport layer instead.
func applyPadding(frame []byte) []byte {
	target := -1
	needed := len(frame) + cipherTagReservation
	for _, cell := range cellSizes {
		if needed <= cell {
			target = cell
			break
		}
	}
	if target < 0 {
		return frame
	}

	padLen := target - len(frame)
	if padLen <= 0 || padLen > 255 {
		return frame
	}

	out := make([]byte, len(frame)+padLen)
	copy(out, frame)
	for i := len(frame); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}

// stripPadding removes trailing PKCS#7-style padding if the last byte
// plausibly describes it. It never errors: implausible padding is
// silently left as data (returns the input unchanged) so non-padded
// senders remain forward-compatible.
func stripPadding(data []byte) []byte {
	if len(data) == 0 {
		return data
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return data
	}
	return data[:len(data)-padLen]
}
