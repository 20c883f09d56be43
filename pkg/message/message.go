// Package message implements BitChat's application message model: the
// Message value carried inside MESSAGE and PRIVATE_MESSAGE packets, its
// delivery-status lifecycle, and the BitchatMessage binary codec.
package message

import (
	"time"

	"github.com/google/uuid"
)

// Flag bits within BitchatMessage's flags byte.
const (
	flagIsRelay               uint8 = 1 << 0
	flagIsPrivate             uint8 = 1 << 1
	flagHasOriginalSender     uint8 = 1 << 2
	flagHasRecipientNickname  uint8 = 1 << 3
	flagHasSenderPeerID       uint8 = 1 << 4
	flagHasMentions           uint8 = 1 << 5
)

// MaxContentLength is the policy limit: a message over this length is
// rejected locally before framing.
const MaxContentLength = 2000

// DeliveryStatusKind enumerates Message.DeliveryStatus's variant tag.
type DeliveryStatusKind int

const (
	Sending DeliveryStatusKind = iota
	Sent
	Delivered
	Read
	Failed
	PartiallyDelivered
)

// DeliveryStatus is Message's delivery-status variant.
type DeliveryStatus struct {
	Kind DeliveryStatusKind

	// Delivered
	DeliveredTo string
	DeliveredAt time.Time

	// Read
	ReadBy string
	ReadAt time.Time

	// Failed
	Reason string

	// PartiallyDelivered
	Reached int
	Total   int
}

// Message is BitChat's application-level chat message.
type Message struct {
	ID                 string
	SenderNickname     string
	Content            string
	Timestamp          time.Time
	IsRelay            bool
	IsPrivate          bool
	OriginalSender     *string
	RecipientNickname  *string
	SenderPeerID       *string
	Mentions           []string
	DeliveryStatus     DeliveryStatus
}

// New constructs a Message with a fresh UUID id and, if private,
// initializes DeliveryStatus to Sending.
func New(nickname, content string, isPrivate bool) *Message {
	m := &Message{
		ID:             uuid.NewString(),
		SenderNickname: nickname,
		Content:        content,
		Timestamp:      time.Now(),
		IsPrivate:      isPrivate,
	}
	if isPrivate {
		m.DeliveryStatus = DeliveryStatus{Kind: Sending}
	}
	return m
}
