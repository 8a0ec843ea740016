package devserver

import (
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"eventconsole/console/internal/chat"
	"eventconsole/console/internal/util"
)

const defaultMessagePage = 50

type chatStore struct {
	mu       sync.Mutex
	channels []*chat.Channel
	members  map[string]map[string]bool
	// oldest first
	messages map[string][]chat.Message
}

func newChatStore() *chatStore {
	now := time.Now().UTC()
	return &chatStore{
		channels: []*chat.Channel{{
			ID:        "general",
			Name:      "general",
			Type:      "public",
			CreatedBy: "system",
			IsActive:  true,
			IsPublic:  true,
			CreatedAt: now,
			UpdatedAt: now,
		}},
		members:  make(map[string]map[string]bool),
		messages: make(map[string][]chat.Message),
	}
}

func (c *chatStore) channelLocked(id string) *chat.Channel {
	for _, ch := range c.channels {
		if ch.ID == id {
			return ch
		}
	}
	return nil
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	if !allowed(w, r, "chat", "read") {
		return
	}
	s.chat.mu.Lock()
	out := make([]chat.Channel, 0, len(s.chat.channels))
	for _, ch := range s.chat.channels {
		out = append(out, *ch)
	}
	s.chat.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	if !allowed(w, r, "chat", "create") {
		return
	}
	var body chat.CreateChannelRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required")
		return
	}
	p := principalFrom(r.Context())
	now := time.Now().UTC()
	kind := "private"
	if body.IsPublic {
		kind = "public"
	}
	ch := &chat.Channel{
		ID:          util.NewID("chn"),
		Name:        name,
		Description: body.Description,
		Type:        kind,
		CreatedBy:   p.user.ID,
		IsActive:    true,
		IsPublic:    body.IsPublic,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.chat.mu.Lock()
	s.chat.channels = append(s.chat.channels, ch)
	s.chat.members[ch.ID] = map[string]bool{p.user.ID: true}
	out := *ch
	s.chat.mu.Unlock()
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleJoinChannel(w http.ResponseWriter, r *http.Request) {
	s.setMembership(w, r, true)
}

func (s *Server) handleLeaveChannel(w http.ResponseWriter, r *http.Request) {
	s.setMembership(w, r, false)
}

func (s *Server) setMembership(w http.ResponseWriter, r *http.Request, join bool) {
	if !allowed(w, r, "chat", "read") {
		return
	}
	id := chi.URLParam(r, "channelId")
	p := principalFrom(r.Context())
	s.chat.mu.Lock()
	defer s.chat.mu.Unlock()
	if s.chat.channelLocked(id) == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "channel not found")
		return
	}
	members, ok := s.chat.members[id]
	if !ok {
		members = make(map[string]bool)
		s.chat.members[id] = members
	}
	if join {
		members[p.user.ID] = true
	} else {
		delete(members, p.user.ID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	if !allowed(w, r, "chat", "read") {
		return
	}
	id := chi.URLParam(r, "channelId")
	s.chat.mu.Lock()
	if s.chat.channelLocked(id) == nil {
		s.chat.mu.Unlock()
		writeError(w, http.StatusNotFound, "NOT_FOUND", "channel not found")
		return
	}
	newest := slices.Clone(s.chat.messages[id])
	s.chat.mu.Unlock()

	slices.Reverse(newest)
	writeJSON(w, http.StatusOK, page(newest, queryInt(r, "offset", 0), queryInt(r, "limit", defaultMessagePage)))
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if !allowed(w, r, "chat", "create") {
		return
	}
	var body struct {
		Content string `json:"content"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if strings.TrimSpace(body.Content) == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content is required")
		return
	}
	id := chi.URLParam(r, "channelId")
	p := principalFrom(r.Context())
	now := time.Now().UTC()
	msg := chat.Message{
		ID:          util.NewID("msg"),
		ChannelID:   id,
		UserID:      p.user.ID,
		UserName:    p.user.Name,
		Content:     body.Content,
		MessageType: "text",
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.chat.mu.Lock()
	ch := s.chat.channelLocked(id)
	if ch == nil {
		s.chat.mu.Unlock()
		writeError(w, http.StatusNotFound, "NOT_FOUND", "channel not found")
		return
	}
	ch.LastMessageAt = &now
	s.chat.messages[id] = append(s.chat.messages[id], msg)
	s.chat.mu.Unlock()

	s.hub.publish(topicChat+id, map[string]any{
		"type":      chat.EventMessageCreated,
		"message":   msg,
		"timestamp": now.Format(time.RFC3339Nano),
	})
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "messageId")
	p := principalFrom(r.Context())

	s.chat.mu.Lock()
	var channelID string
	index := -1
	for cid, msgs := range s.chat.messages {
		if i := slices.IndexFunc(msgs, func(m chat.Message) bool { return m.ID == id }); i >= 0 {
			channelID, index = cid, i
			break
		}
	}
	if index < 0 {
		s.chat.mu.Unlock()
		writeError(w, http.StatusNotFound, "NOT_FOUND", "message not found")
		return
	}
	if s.chat.messages[channelID][index].UserID != p.user.ID && !allowed(w, r, "chat", "delete") {
		s.chat.mu.Unlock()
		return
	}
	s.chat.messages[channelID] = slices.Delete(s.chat.messages[channelID], index, index+1)
	s.chat.mu.Unlock()

	s.hub.publish(topicChat+channelID, map[string]any{
		"type":      chat.EventMessageDeleted,
		"id":        id,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
