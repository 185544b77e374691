package model

import (
	"bytes"
	"time"

	"golang.org/x/text/unicode/norm"
)

// ChatStatus is the lifecycle state of a chat.
type ChatStatus string

const (
	ChatStatusActive   ChatStatus = "active"
	ChatStatusInactive ChatStatus = "inactive"
	ChatStatusBlocked  ChatStatus = "blocked"
)

// ChatAttributes are the user-visible attributes carried in the group data.
type ChatAttributes struct {
	Title   string `json:"title"`
	Picture []byte `json:"picture,omitempty"`
}

// Equal compares titles in NFC form so that canonically equivalent titles
// do not produce spurious change messages.
func (a ChatAttributes) Equal(b ChatAttributes) bool {
	return a.TitleEqual(b) && bytes.Equal(a.Picture, b.Picture)
}

// TitleEqual reports whether the titles are canonically equivalent.
func (a ChatAttributes) TitleEqual(b ChatAttributes) bool {
	return norm.NFC.String(a.Title) == norm.NFC.String(b.Title)
}

// Chat is a conversation backed by exactly one group.
type Chat struct {
	ID          ChatID
	GroupID     GroupID
	Status      ChatStatus
	Attributes  ChatAttributes
	PastMembers []UserID // set when the chat became inactive
	CreatedAt   time.Time
	LastReadAt  time.Time
}

// IsBlocked reports whether outbound traffic to the chat is suppressed.
func (c *Chat) IsBlocked() bool { return c.Status == ChatStatusBlocked }
