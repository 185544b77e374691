package store

import (
	"log/slog"
	"sync"

	"github.com/roach88/courier/internal/model"
)

// ChangeKind describes what happened to an entity within one transaction.
type ChangeKind int

const (
	Added ChangeKind = iota + 1
	Updated
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// merge folds a later change into an earlier one for the same entity.
func merge(prev, next ChangeKind) ChangeKind {
	switch {
	case prev == 0:
		return next
	case next == Removed:
		return Removed
	case prev == Added:
		return Added
	default:
		return next
	}
}

// Changes collects the entities touched by one transaction.
// Not safe for concurrent use; a Changes belongs to a single WithTx call.
type Changes struct {
	Chats    map[model.ChatID]ChangeKind
	Messages map[model.MessageID]ChangeKind
}

// NewChanges returns an empty change set.
func NewChanges() *Changes {
	return &Changes{
		Chats:    make(map[model.ChatID]ChangeKind),
		Messages: make(map[model.MessageID]ChangeKind),
	}
}

// Chat records a change to a chat.
func (c *Changes) Chat(id model.ChatID, kind ChangeKind) {
	c.Chats[id] = merge(c.Chats[id], kind)
}

// Message records a change to a message.
func (c *Changes) Message(id model.MessageID, kind ChangeKind) {
	c.Messages[id] = merge(c.Messages[id], kind)
}

// IsEmpty reports whether nothing was recorded.
func (c *Changes) IsEmpty() bool {
	return len(c.Chats) == 0 && len(c.Messages) == 0
}

// Notifier fans committed change sets out to subscribers (UI bridges,
// other subsystems). Publishing never blocks: a subscriber whose buffer is
// full misses that notification.
type Notifier struct {
	mu   sync.Mutex
	next int
	subs map[int]chan *Changes
}

// NewNotifier creates a notifier with no subscribers.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan *Changes)}
}

// Subscribe registers a subscriber with the given buffer size.
// The returned cancel func unregisters it and closes the channel.
func (n *Notifier) Subscribe(buffer int) (<-chan *Changes, func()) {
	ch := make(chan *Changes, buffer)

	n.mu.Lock()
	id := n.next
	n.next++
	n.subs[id] = ch
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers c to every subscriber. Empty change sets are dropped.
func (n *Notifier) Publish(c *Changes) {
	if c == nil || c.IsEmpty() {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for id, ch := range n.subs {
		select {
		case ch <- c:
		default:
			slog.Warn("notification dropped: subscriber buffer full", "subscriber", id)
		}
	}
}
