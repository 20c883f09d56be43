package message

import (
	"encoding/binary"
	"errors"
	"time"
	"unicode/utf8"
)

var (
	ErrContentTooLong = errors.New("message: content exceeds 2000 characters")
	ErrDecodeFailed   = errors.New("message: decode failed")
)

// Encode serializes m as a BitchatMessage binary payload:
// flags byte, 8-byte big-endian timestamp-ms, 1-byte-length-prefixed id
// and sender, 2-byte-length-prefixed content, then the optional fields
// in declaration order (original_sender, recipient_nickname,
// sender_peer_id), each 1-byte-length-prefixed, and finally mentions as
// a 1-byte count followed by that many 1-byte-length-prefixed strings.
func Encode(m *Message) ([]byte, error) {
	if utf8.RuneCountInString(m.Content) > MaxContentLength {
		return nil, ErrContentTooLong
	}

	var flags uint8
	if m.IsRelay {
		flags |= flagIsRelay
	}
	if m.IsPrivate {
		flags |= flagIsPrivate
	}
	if m.OriginalSender != nil {
		flags |= flagHasOriginalSender
	}
	if m.RecipientNickname != nil {
		flags |= flagHasRecipientNickname
	}
	if m.SenderPeerID != nil {
		flags |= flagHasSenderPeerID
	}
	if len(m.Mentions) > 0 {
		flags |= flagHasMentions
	}

	buf := make([]byte, 0, 64+len(m.Content))
	buf = append(buf, flags)

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(m.Timestamp.UnixMilli()))
	buf = append(buf, ts[:]...)

	var err error
	if buf, err = appendLen8String(buf, m.ID); err != nil {
		return nil, err
	}
	if buf, err = appendLen8String(buf, m.SenderNickname); err != nil {
		return nil, err
	}
	buf, err = appendLen16String(buf, m.Content)
	if err != nil {
		return nil, err
	}

	if m.OriginalSender != nil {
		if buf, err = appendLen8String(buf, *m.OriginalSender); err != nil {
			return nil, err
		}
	}
	if m.RecipientNickname != nil {
		if buf, err = appendLen8String(buf, *m.RecipientNickname); err != nil {
			return nil, err
		}
	}
	if m.SenderPeerID != nil {
		if buf, err = appendLen8String(buf, *m.SenderPeerID); err != nil {
			return nil, err
		}
	}
	if len(m.Mentions) > 0 {
		if len(m.Mentions) > 255 {
			return nil, ErrDecodeFailed
		}
		buf = append(buf, uint8(len(m.Mentions)))
		for _, mention := range m.Mentions {
			if buf, err = appendLen8String(buf, mention); err != nil {
				return nil, err
			}
		}
	}

	return buf, nil
}

func appendLen8String(buf []byte, s string) ([]byte, error) {
	if len(s) > 255 {
		return nil, ErrDecodeFailed
	}
	buf = append(buf, uint8(len(s)))
	return append(buf, s...), nil
}

func appendLen16String(buf []byte, s string) ([]byte, error) {
	if len(s) > 0xFFFF {
		return nil, ErrDecodeFailed
	}
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(s)))
	buf = append(buf, l[:]...)
	return append(buf, s...), nil
}

// Decode parses a BitchatMessage binary payload produced by Encode.
func Decode(data []byte) (*Message, error) {
	if len(data) < 1+8 {
		return nil, ErrDecodeFailed
	}
	flags := data[0]
	off := 1

	tsMs := binary.BigEndian.Uint64(data[off : off+8])
	off += 8

	m := &Message{
		Timestamp: time.UnixMilli(int64(tsMs)),
		IsRelay:   flags&flagIsRelay != 0,
		IsPrivate: flags&flagIsPrivate != 0,
	}

	var err error
	if m.ID, off, err = readLen8String(data, off); err != nil {
		return nil, err
	}
	if m.SenderNickname, off, err = readLen8String(data, off); err != nil {
		return nil, err
	}
	if m.Content, off, err = readLen16String(data, off); err != nil {
		return nil, err
	}

	if flags&flagHasOriginalSender != 0 {
		var s string
		if s, off, err = readLen8String(data, off); err != nil {
			return nil, err
		}
		m.OriginalSender = &s
	}
	if flags&flagHasRecipientNickname != 0 {
		var s string
		if s, off, err = readLen8String(data, off); err != nil {
			return nil, err
		}
		m.RecipientNickname = &s
	}
	if flags&flagHasSenderPeerID != 0 {
		var s string
		if s, off, err = readLen8String(data, off); err != nil {
			return nil, err
		}
		m.SenderPeerID = &s
	}
	if flags&flagHasMentions != 0 {
		if off >= len(data) {
			return nil, ErrDecodeFailed
		}
		count := int(data[off])
		off++
		mentions := make([]string, 0, count)
		for i := 0; i < count; i++ {
			var s string
			if s, off, err = readLen8String(data, off); err != nil {
				return nil, err
			}
			mentions = append(mentions, s)
		}
		m.Mentions = mentions
	}

	return m, nil
}

func readLen8String(data []byte, off int) (string, int, error) {
	if off >= len(data) {
		return "", off, ErrDecodeFailed
	}
	l := int(data[off])
	off++
	if off+l > len(data) {
		return "", off, ErrDecodeFailed
	}
	return string(data[off : off+l]), off + l, nil
}

func readLen16String(data []byte, off int) (string, int, error) {
	if off+2 > len(data) {
		return "", off, ErrDecodeFailed
	}
	l := int(binary.BigEndian.Uint16(data[off : off+2]))
	off += 2
	if off+l > len(data) {
		return "", off, ErrDecodeFailed
	}
	return string(data[off : off+l]), off + l, nil
}
