// Package ws streams hub envelopes to websocket clients.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"conduit/domain/event"
	"conduit/infra/logger"
	"conduit/service"
)

// Message is the JSON form of an envelope. Payload is base64 encoded.
type Message struct {
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Topic   string    `json:"topic"`
	Payload []byte    `json:"payload"`
}

func newMessage(env event.Envelope) Message {
	return Message{
		Seq:     env.Seq,
		Time:    env.Timestamp().UTC(),
		Topic:   env.Topic,
		Payload: env.Payload,
	}
}

// Handler serves GET /ws?topic=a&topic=b. Without a topic parameter the
// client receives every topic.
type Handler struct {
	hub          *service.Hub
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	log          *zap.Logger
}

type Option func(*Handler)

func WithWriteTimeout(d time.Duration) Option {
	return func(h *Handler) { h.writeTimeout = d }
}

func WithOriginCheck(fn func(r *http.Request) bool) Option {
	return func(h *Handler) { h.upgrader.CheckOrigin = fn }
}

func WithAllowAnyOrigin() Option {
	return WithOriginCheck(func(*http.Request) bool { return true })
}

func NewHandler(hub *service.Hub, log *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		writeTimeout: 10 * time.Second,
		log:          logger.OrNop(log).Named("ws"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topics := r.URL.Query()["topic"]

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		h.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	feed := h.hub.Subscribe(topics...)
	defer feed.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// clients only listen; reading surfaces their close frame
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.log.Debug("read failed", zap.Stringer("feed", feed.ID), zap.Error(err))
				}
				return
			}
		}
	}()

	h.log.Debug("client connected",
		zap.Stringer("feed", feed.ID),
		zap.String("remote", r.RemoteAddr),
		zap.Strings("topics", topics),
	)

	for {
		env, err := feed.Next(ctx)
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(time.Second))
			h.log.Debug("client gone", zap.Stringer("feed", feed.ID))
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := conn.WriteJSON(newMessage(env)); err != nil {
			h.log.Debug("write failed", zap.Stringer("feed", feed.ID), zap.Error(err))
			return
		}
	}
}
