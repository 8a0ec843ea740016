package chat

import (
	"slices"
	"sync"

	"eventconsole/console/internal/push"
)

// Push event types. The legacy names are still sent by older backends.
const (
	EventMessageCreated = "message_created"
	EventMessageDeleted = "message_deleted"

	legacyNewMessage    = "new_message"
	legacyDeleteMessage = "delete_message"
)

// Cache is the message list of one channel, patched in place by push events.
// Applying the same event twice has no further effect.
type Cache struct {
	mu       sync.RWMutex
	messages []Message
	onChange func([]Message)
}

func NewCache(onChange func([]Message)) *Cache {
	return &Cache{onChange: onChange}
}

// Load replaces the list with history, dropping duplicate ids.
func (c *Cache) Load(history []Message) {
	c.mu.Lock()
	c.messages = c.messages[:0]
	for _, msg := range history {
		if !c.containsLocked(msg.ID) {
			c.messages = append(c.messages, msg)
		}
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snapshot)
}

func (c *Cache) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshotLocked()
}

// Add appends msg unless a message with its id is already present.
func (c *Cache) Add(msg Message) bool {
	c.mu.Lock()
	if msg.ID == "" || c.containsLocked(msg.ID) {
		c.mu.Unlock()
		return false
	}
	c.messages = append(c.messages, msg)
	snapshot := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snapshot)
	return true
}

func (c *Cache) Remove(id string) bool {
	c.mu.Lock()
	before := len(c.messages)
	c.messages = slices.DeleteFunc(c.messages, func(m Message) bool { return m.ID == id })
	changed := len(c.messages) != before
	snapshot := c.snapshotLocked()
	c.mu.Unlock()
	if changed {
		c.notify(snapshot)
	}
	return changed
}

// Apply patches the list from a push event and reports whether it changed.
// Unknown types and events without the expected payload are ignored.
func (c *Cache) Apply(event push.Event) (bool, error) {
	switch event.Type {
	case EventMessageCreated, legacyNewMessage:
		var payload struct {
			Message *Message `json:"message"`
		}
		if err := event.Decode(&payload); err != nil {
			return false, err
		}
		if payload.Message == nil {
			return false, nil
		}
		return c.Add(*payload.Message), nil
	case EventMessageDeleted, legacyDeleteMessage:
		var payload struct {
			ID string `json:"id"`
		}
		if err := event.Decode(&payload); err != nil {
			return false, err
		}
		if payload.ID == "" {
			return false, nil
		}
		return c.Remove(payload.ID), nil
	default:
		return false, nil
	}
}

func (c *Cache) containsLocked(id string) bool {
	return slices.ContainsFunc(c.messages, func(m Message) bool { return m.ID == id })
}

func (c *Cache) snapshotLocked() []Message {
	return slices.Clone(c.messages)
}

func (c *Cache) notify(snapshot []Message) {
	if c.onChange != nil {
		c.onChange(snapshot)
	}
}
