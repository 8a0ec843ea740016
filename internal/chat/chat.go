// Package chat reads and writes chat channels and keeps a live, de-duplicated
// message list per channel from its push channel.
package chat

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"time"

	"eventconsole/console/internal/httpclient"
	"eventconsole/console/internal/resource"
)

type Channel struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	Type          string     `json:"type"`
	CreatedBy     string     `json:"created_by"`
	IsActive      bool       `json:"is_active"`
	IsPublic      bool       `json:"is_public"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
}

type Message struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channel_id"`
	UserID      string    `json:"user_id"`
	Content     string    `json:"content"`
	MessageType string    `json:"message_type"`
	FileURL     string    `json:"file_url,omitempty"`
	FileName    string    `json:"file_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	UserName    string    `json:"user_name,omitempty"`
}

type CreateChannelRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsPublic    bool   `json:"is_public"`
}

type sendRequest struct {
	Content string `json:"content"`
}

// WatchPath is the push channel path for channelID.
func WatchPath(channelID string) string {
	return "/chat/ws/" + url.PathEscape(channelID)
}

type Service struct {
	client   *httpclient.Client
	channels *resource.Service[Channel]
}

func NewService(client *httpclient.Client) *Service {
	return &Service{
		client:   client,
		channels: resource.NewService[Channel](client, "/chat/channels"),
	}
}

func (s *Service) Client() *httpclient.Client { return s.client }

func (s *Service) Channels(ctx context.Context) ([]Channel, error) {
	return s.channels.List(ctx, resource.ListOptions{})
}

func (s *Service) CreateChannel(ctx context.Context, req CreateChannelRequest) (*Channel, error) {
	return s.channels.Create(ctx, req)
}

func (s *Service) Join(ctx context.Context, channelID string) error {
	if err := s.client.Post(ctx, s.channels.Path(channelID, "join"), nil, nil); err != nil {
		return fmt.Errorf("join channel %s: %w", channelID, err)
	}
	return nil
}

func (s *Service) Leave(ctx context.Context, channelID string) error {
	if err := s.client.Post(ctx, s.channels.Path(channelID, "leave"), nil, nil); err != nil {
		return fmt.Errorf("leave channel %s: %w", channelID, err)
	}
	return nil
}

// Messages returns a page of history, oldest first. The backend pages newest first.
func (s *Service) Messages(ctx context.Context, channelID string, limit, offset int) ([]Message, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		query.Set("offset", strconv.Itoa(offset))
	}
	var messages []Message
	if err := s.client.Get(ctx, s.channels.Path(channelID, "messages"), query, &messages); err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", channelID, err)
	}
	slices.Reverse(messages)
	return messages, nil
}

func (s *Service) Send(ctx context.Context, channelID, content string) (*Message, error) {
	var msg Message
	if err := s.client.Post(ctx, s.channels.Path(channelID, "messages"), sendRequest{Content: content}, &msg); err != nil {
		return nil, fmt.Errorf("send message to %s: %w", channelID, err)
	}
	return &msg, nil
}

func (s *Service) DeleteMessage(ctx context.Context, messageID string) error {
	if err := s.client.Delete(ctx, "/chat/messages/"+url.PathEscape(messageID), nil); err != nil {
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	return nil
}
