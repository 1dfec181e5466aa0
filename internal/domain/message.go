package domain

import "time"

// MessageType is the inbound message variant.
type MessageType string

const (
	MessageText        MessageType = "text"
	MessageInteractive MessageType = "interactive"
	MessageButton      MessageType = "button"
	MessageMedia       MessageType = "media"
	MessageReaction    MessageType = "reaction"
	MessageUnsupported MessageType = "unsupported"
)

// InboundMessageEvent is one user-originated message extracted from a webhook
// delivery. MessageID is the idempotency key.
type InboundMessageEvent struct {
	ChannelID    string
	TenantID     string
	ChatID       string
	SenderID     string
	SenderName   string
	MessageID    string
	Timestamp    time.Time
	Type         MessageType
	RawType      string
	Text         string
	ReplyID      string
	ReplyTitle   string
	MediaID      string
	MediaMime    string
	MediaCaption string
}

// DeliveryStatus is the provider-reported state of an outbound message.
type DeliveryStatus string

const (
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusRead      DeliveryStatus = "read"
	StatusFailed    DeliveryStatus = "failed"
)

// Rank orders statuses so updates can be applied monotonically. Failed ranks
// above read: once failed, nothing lowers it.
func (s DeliveryStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	case StatusFailed:
		return 4
	default:
		return 0
	}
}

// Valid reports whether s is one of the known statuses.
func (s DeliveryStatus) Valid() bool {
	return s.Rank() > 0
}

// DeliveryStatusEvent is a status callback for a previously sent message.
type DeliveryStatusEvent struct {
	MessageID   string
	RecipientID string
	Status      DeliveryStatus
	Timestamp   time.Time
	ErrorCode   string
}

// Direction of a stored message record.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageRecord is the persisted form of an inbound or outbound message.
type MessageRecord struct {
	MessageID   string
	TenantID    string
	ChatID      string
	Direction   Direction
	Type        string
	Content     string
	Status      DeliveryStatus
	SentAt      *time.Time
	DeliveredAt *time.Time
	ReadAt      *time.Time
	FailedAt    *time.Time
	ErrorCode   string
	CreatedAt   time.Time
}
