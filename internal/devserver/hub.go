package devserver

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const writeTimeout = 5 * time.Second

type subscriber struct {
	conn net.Conn
	mu   sync.Mutex
}

func (s *subscriber) write(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return wsutil.WriteServerMessage(s.conn, ws.OpText, frame)
}

// hub fans events out to the websocket subscribers of a topic.
type hub struct {
	logger *slog.Logger

	mu     sync.Mutex
	topics map[string]map[*subscriber]struct{}
}

func newHub(logger *slog.Logger) *hub {
	return &hub{logger: logger, topics: make(map[string]map[*subscriber]struct{})}
}

// serve upgrades the request and keeps the subscriber until the client goes away.
func (h *hub) serve(w http.ResponseWriter, r *http.Request, topic string) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "topic", topic, "error", err)
		return
	}
	sub := &subscriber{conn: conn}
	h.add(topic, sub)
	h.logger.Debug("subscriber joined", "topic", topic)

	go func() {
		defer func() {
			h.remove(topic, sub)
			_ = conn.Close()
			h.logger.Debug("subscriber left", "topic", topic)
		}()
		for {
			if _, _, err := wsutil.ReadClientData(conn); err != nil {
				return
			}
		}
	}()
}

func (h *hub) add(topic string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.topics[topic] = subs
	}
	subs[sub] = struct{}{}
}

func (h *hub) remove(topic string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.topics[topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
}

func (h *hub) snapshot(topic string) []*subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*subscriber, 0, len(h.topics[topic]))
	for sub := range h.topics[topic] {
		out = append(out, sub)
	}
	return out
}

func (h *hub) count(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

// publish sends payload to every subscriber of topic. Failed subscribers are dropped.
func (h *hub) publish(topic string, payload any) {
	frame, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("encode event", "topic", topic, "error", err)
		return
	}
	h.publishRaw(topic, frame)
}

func (h *hub) publishRaw(topic string, frame []byte) {
	for _, sub := range h.snapshot(topic) {
		if err := sub.write(frame); err != nil {
			h.logger.Debug("dropping subscriber", "topic", topic, "error", err)
			h.remove(topic, sub)
			_ = sub.conn.Close()
		}
	}
}

// dropAll closes every subscriber connection.
func (h *hub) dropAll() {
	h.mu.Lock()
	var subs []*subscriber
	for topic, set := range h.topics {
		for sub := range set {
			subs = append(subs, sub)
		}
		delete(h.topics, topic)
	}
	h.mu.Unlock()
	for _, sub := range subs {
		_ = sub.conn.Close()
	}
}
