package types

import "time"

// InboundKind classifies an inbound channel event. Only Text, Reaction, Edit,
// and Attachment are dispatched to the router; Typing and Receipt are
// observed silently (§4.3).
type InboundKind string

const (
	InboundText       InboundKind = "text"
	InboundReaction   InboundKind = "reaction"
	InboundTyping     InboundKind = "typing"
	InboundReceipt    InboundKind = "receipt"
	InboundEdit       InboundKind = "edit"
	InboundAttachment InboundKind = "attachment"
)

// Inbound is a channel-agnostic record of an incoming event.
type Inbound struct {
	Channel          string
	Sender           string
	Content          string
	ChatID           string
	IsGroup          bool
	Timestamp        time.Time
	ReplyTo          string
	Kind             InboundKind
	MessageTimestamp *time.Time
}

// Outbound is a channel-agnostic record of a reply to send. Empty/whitespace
// Content must be dropped by the caller before dispatch.
type Outbound struct {
	Channel string
	Target  string
	Content string
}

// RateLimitInfo is the credential pool's per-key state, mutated only from
// provider response headers.
type RateLimitInfo struct {
	Allowed            bool
	Utilization        *float64
	RepresentativeClaim string
	ResetEpoch         *int64
	CooldownUntil      *time.Time
}

// Reminder is a persisted one-shot or user-scheduled follow-up.
type Reminder struct {
	ID            string             `json:"id"`
	FireAt        time.Time          `json:"fire_at"`
	Message       string             `json:"message"`
	User          string             `json:"user,omitempty"`
	Delivery      []ReminderDelivery `json:"delivery"`
	SourceSession SessionKey         `json:"source_session"`
	CreatedAt     time.Time          `json:"created_at"`
}

type ReminderDelivery struct {
	Channel string `json:"channel"`
	Target  string `json:"target"`
}
