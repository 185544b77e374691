package model

import (
	"fmt"
	"time"
)

// MessageStatus tracks delivery of an outbound message.
type MessageStatus string

const (
	MessageStatusUnsent    MessageStatus = "unsent"
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusFailed    MessageStatus = "failed"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
)

// SystemKind enumerates the system messages synthesized by group changes.
type SystemKind string

const (
	SystemCreateGroup   SystemKind = "create_group"
	SystemAdd           SystemKind = "add"
	SystemRemove        SystemKind = "remove"
	SystemChangeTitle   SystemKind = "change_title"
	SystemChangePicture SystemKind = "change_picture"
)

// SystemMessage records a group event in the chat history.
type SystemMessage struct {
	Kind     SystemKind `json:"kind"`
	Actor    UserID     `json:"actor"`
	Target   UserID     `json:"target,omitempty"`
	OldTitle string     `json:"old_title,omitempty"`
	NewTitle string     `json:"new_title,omitempty"`
}

func (m SystemMessage) String() string {
	switch m.Kind {
	case SystemCreateGroup:
		return fmt.Sprintf("%s created the conversation", m.Actor)
	case SystemAdd:
		return fmt.Sprintf("%s added %s to the conversation", m.Actor, m.Target)
	case SystemRemove:
		if m.Actor == m.Target {
			return fmt.Sprintf("%s left the conversation", m.Actor)
		}
		return fmt.Sprintf("%s removed %s from the conversation", m.Actor, m.Target)
	case SystemChangeTitle:
		return fmt.Sprintf("%s changed the title from %q to %q", m.Actor, m.OldTitle, m.NewTitle)
	case SystemChangePicture:
		return fmt.Sprintf("%s changed the picture", m.Actor)
	default:
		return string(m.Kind)
	}
}

// Message is a chat message. Exactly one of Body or System is meaningful.
type Message struct {
	ID        MessageID
	ChatID    ChatID
	MimiID    MimiID
	Sender    UserID
	Body      string
	System    *SystemMessage
	Status    MessageStatus
	Timestamp time.Time
	EditedAt  *time.Time
}

// NewSystemMessage builds a sent system message stamped at ts.
func NewSystemMessage(chatID ChatID, ts time.Time, sm SystemMessage) Message {
	return Message{
		ID:        NewMessageID(),
		ChatID:    chatID,
		Sender:    sm.Actor,
		System:    &sm,
		Status:    MessageStatusSent,
		Timestamp: ts,
	}
}

// ReceiptStatus is the delivery state reported back to the sender.
type ReceiptStatus string

const (
	ReceiptDelivered ReceiptStatus = "delivered"
	ReceiptRead      ReceiptStatus = "read"
)
