package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ChatID identifies a conversation. Immutable once created.
type ChatID uuid.UUID

// NewChatID returns a time-sortable UUIDv7 chat id.
func NewChatID() ChatID {
	return ChatID(uuid.Must(uuid.NewV7()))
}

// ParseChatID parses the hyphenated form produced by String.
func ParseChatID(s string) (ChatID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ChatID{}, fmt.Errorf("parse chat id: %w", err)
	}
	return ChatID(u), nil
}

func (id ChatID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether id is the zero value.
func (id ChatID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }

// MessageID identifies a message within a chat.
type MessageID uuid.UUID

// NewMessageID returns a time-sortable UUIDv7 message id.
func NewMessageID() MessageID {
	return MessageID(uuid.Must(uuid.NewV7()))
}

// ParseMessageID parses the hyphenated form produced by String.
func ParseMessageID(s string) (MessageID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return MessageID{}, fmt.Errorf("parse message id: %w", err)
	}
	return MessageID(u), nil
}

func (id MessageID) String() string { return uuid.UUID(id).String() }

// IsZero reports whether id is the zero value.
func (id MessageID) IsZero() bool { return uuid.UUID(id) == uuid.Nil }

// GroupID is the opaque group identifier minted by the remote service,
// qualified by the domain that owns the group ("id@domain").
type GroupID string

// Domain returns the owning domain, or "" for an unqualified id.
func (g GroupID) Domain() string { return domainOf(string(g)) }

// UserID is a qualified user name of the form "name@domain".
type UserID string

// Domain returns the part after the last '@', or "" if there is none.
func (u UserID) Domain() string { return domainOf(string(u)) }

func domainOf(s string) string {
	i := strings.LastIndexByte(s, '@')
	if i < 0 {
		return ""
	}
	return s[i+1:]
}

// MimiID is the protocol-level identifier of a message used in receipts.
type MimiID string

func (id ChatID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *ChatID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }

func (id MessageID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *MessageID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
