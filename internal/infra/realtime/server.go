package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"chatbot-ai-pipeline/internal/config"
	"chatbot-ai-pipeline/internal/domain"
	"chatbot-ai-pipeline/internal/domain/model"
	"chatbot-ai-pipeline/internal/domain/ports/adapter"
	"chatbot-ai-pipeline/internal/infra/logging"
	"chatbot-ai-pipeline/internal/infra/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// SendThrottle bounds message:send per visitor session. The store owns
// the key layout.
type SendThrottle interface {
	AllowSend(ctx context.Context, sessionID string, limit int, window time.Duration) (bool, error)
}

type Server struct {
	cfg      config.GatewayConfig
	hub      *Hub
	auth     JoinAuthorizer
	bus      adapter.Broadcaster
	throttle SendThrottle
	upgrader websocket.Upgrader
	log      *zerolog.Logger
	now      func() time.Time
}

// NewServer builds the websocket endpoint. throttle may be nil.
func NewServer(cfg config.GatewayConfig, hub *Hub, auth JoinAuthorizer, bus adapter.Broadcaster, throttle SendThrottle, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "realtime").Logger()
	s := &Server{
		cfg:      cfg,
		hub:      hub,
		auth:     auth,
		bus:      bus,
		throttle: throttle,
		log:      &l,
		now:      time.Now,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Routes mounts the websocket endpoint and a liveness check.
func (s *Server) Routes(r chi.Router) {
	r.Get("/ws", s.ServeWS)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := NewClient(uuid.NewString(), s.cfg.SendBuffer)
	s.hub.Register(c)

	ctx := logging.WithTraceID(context.WithoutCancel(r.Context()), c.ID)
	go s.writeLoop(conn, c)
	s.readLoop(ctx, conn, c)

	s.hub.Unregister(c)
	_ = conn.Close()
}

func (s *Server) pongWait() time.Duration { return s.cfg.PingInterval * 2 }

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, c *Client) {
	conn.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = conn.SetReadDeadline(s.now().Add(s.pongWait()))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(s.now().Add(s.pongWait()))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug().Err(err).Str("client_id", c.ID).Msg("connection closed")
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			s.replyError(c, "", domain.ErrInvalidArgument)
			continue
		}
		s.dispatch(ctx, c, env)
	}
}

func (s *Server) writeLoop(conn *websocket.Conn, c *Client) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case f := <-c.Send():
			_ = conn.SetWriteDeadline(s.now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, f.Body); err != nil {
				s.hub.Unregister(c)
				return
			}
			metrics.IncDelivered(f.Event)
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, s.now().Add(s.cfg.WriteTimeout)); err != nil {
				s.hub.Unregister(c)
				return
			}
		case <-c.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "closing"),
				s.now().Add(time.Second))
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, c *Client, env Envelope) {
	var err error
	switch env.Event {
	case EvJoin:
		err = s.handleJoin(c, env.Data)
	case EvLeave:
		err = s.handleLeave(c, env.Data)
	case EvSend:
		err = s.handleSend(ctx, c, env.Data)
	case EvTypingStart, EvTypingStop:
		err = s.handleTyping(c, env.Event, env.Data)
	default:
		err = domain.ErrInvalidArgument
	}
	if err != nil {
		s.replyError(c, env.Event, err)
	}
}

func (s *Server) handleJoin(c *Client, data json.RawMessage) error {
	var req joinRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ConversationID == "" {
		return domain.ErrInvalidArgument
	}
	grant, err := s.auth.Authorize(req.Token)
	if err != nil {
		s.log.Info().Err(err).Str("client_id", c.ID).Str("conversation_id", req.ConversationID).Msg("join rejected")
		return domain.ErrUnauthorized
	}
	if grant.ConversationID != req.ConversationID {
		return domain.ErrUnauthorized
	}
	s.hub.Join(c, *grant)
	s.reply(c, EvJoined, conversationAck{ConversationID: req.ConversationID})
	return nil
}

func (s *Server) handleLeave(c *Client, data json.RawMessage) error {
	var req conversationRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ConversationID == "" {
		return domain.ErrInvalidArgument
	}
	s.hub.Leave(c, req.ConversationID)
	s.reply(c, EvLeft, conversationAck{ConversationID: req.ConversationID})
	return nil
}

func (s *Server) handleSend(ctx context.Context, c *Client, data json.RawMessage) error {
	var req sendRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ConversationID == "" {
		return domain.ErrInvalidArgument
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		return domain.ErrInvalidArgument
	}
	grant, ok := c.Grant(req.ConversationID)
	if !ok || !s.hub.IsMember(c, req.ConversationID) {
		return domain.ErrNotJoined
	}

	if s.throttle != nil {
		session := grant.SessionID
		if session == "" {
			session = c.ID
		}
		allowed, err := s.throttle.AllowSend(ctx, session, s.cfg.SendRatePerMinute, time.Minute)
		if err != nil {
			// fail open: the worker still enforces tenant limits
			s.log.Warn().Err(err).Msg("send throttle unavailable")
		} else if !allowed {
			return &domain.RateLimitError{Kind: domain.RateLimitRequests, WaitTime: time.Minute}
		}
	}

	now := s.now().UTC()
	s.broadcast(req.ConversationID, EvReceived, receivedPayload{
		ID:             ulid.Make().String(),
		ConversationID: req.ConversationID,
		Message:        req.Message,
		Timestamp:      now,
	}, nil)

	ev := model.BroadcastEvent{
		Type:           model.EventMessage,
		ConversationID: req.ConversationID,
		TenantID:       grant.TenantID,
		ChatbotID:      grant.ChatbotID,
		SessionID:      grant.SessionID,
		Message:        req.Message,
		Timestamp:      now,
	}
	if err := s.bus.Publish(ctx, ev); err != nil {
		logging.With(ctx, s.log).Error().Err(err).Str("conversation_id", req.ConversationID).Msg("publish message failed")
		return err
	}
	return nil
}

func (s *Server) handleTyping(c *Client, event string, data json.RawMessage) error {
	var req conversationRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ConversationID == "" {
		return domain.ErrInvalidArgument
	}
	grant, ok := c.Grant(req.ConversationID)
	if !ok {
		return domain.ErrNotJoined
	}
	s.broadcast(req.ConversationID, event, typingPayload{ConversationID: req.ConversationID, SessionID: grant.SessionID}, c)
	return nil
}

func (s *Server) broadcast(conversationID, event string, data any, skip *Client) {
	f, err := NewFrame(event, data)
	if err != nil {
		s.log.Error().Err(err).Str("event", event).Msg("encode frame")
		return
	}
	s.hub.Broadcast(conversationID, f, skip)
}

func (s *Server) reply(c *Client, event string, data any) {
	f, err := NewFrame(event, data)
	if err != nil {
		s.log.Error().Err(err).Str("event", event).Msg("encode frame")
		return
	}
	s.hub.SendTo(c, f)
}

func (s *Server) replyError(c *Client, event string, err error) {
	s.reply(c, EvError, errorPayload{Event: event, Error: clientMessage(err)})
}

func clientMessage(err error) string {
	var rl *domain.RateLimitError
	switch {
	case errors.As(err, &rl):
		return "Too many messages. Please slow down."
	case errors.Is(err, domain.ErrUnauthorized):
		return "Not authorized to join this conversation."
	case errors.Is(err, domain.ErrNotJoined):
		return "Join the conversation before sending."
	case errors.Is(err, domain.ErrInvalidArgument):
		return "Invalid request."
	default:
		return "Something went wrong. Please try again."
	}
}
