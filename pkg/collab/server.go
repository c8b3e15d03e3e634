package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dukex/processflow/pkg/auth"
	"github.com/dukex/processflow/pkg/models"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/xeipuuv/gojsonschema"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	maxFrameSize    = 1024 * 1024
	shutdownTimeout = 5 * time.Second
)

// frameSchema is the shape every inbound frame must have. Fields beyond these are ignored
// so that newer clients can add to the envelope.
const frameSchema = `{
	"type": "object",
	"required": ["type"],
	"properties": {
		"type": {"type": "string", "minLength": 1},
		"nodes": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id"],
				"properties": {"id": {"type": "string", "minLength": 1}}
			}
		},
		"edges": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "source", "target"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"source": {"type": "string"},
					"target": {"type": "string"}
				}
			}
		},
		"removed": {"type": "array", "items": {"type": "string"}}
	}
}`

// Server accepts editor WebSocket connections on /flows/{id}/ws, subscribes them to the
// flow's room and forwards their mutation frames to the publisher.
type Server struct {
	hub       *Hub
	publisher Publisher
	logger    *slog.Logger
	upgrader  websocket.Upgrader
	schema    *gojsonschema.Schema

	mu     sync.Mutex
	server *http.Server
}

// NewServer creates a collaboration server. Frames are published through publisher,
// which is the Relay in a multi-instance deployment or the Hub itself otherwise.
func NewServer(logger *slog.Logger, hub *Hub, publisher Publisher) (*Server, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(frameSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile frame schema: %w", err)
	}

	return &Server{
		hub:       hub,
		publisher: publisher,
		logger:    logger.With("module", "collab_server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Sessions authenticate with a bearer token, not cookies.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		schema: schema,
	}, nil
}

// Handler returns the HTTP handler serving the collaboration endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /flows/{id}/ws", s.ServeWS)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "healthy", "rooms": s.hub.Rooms()})
	})

	return mux
}

// Start listens on port in the background until ctx is done or Stop is called.
func (s *Server) Start(ctx context.Context, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return nil
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: writeWait,
	}

	s.logger.InfoContext(ctx, "Starting collaboration server", "addr", s.server.Addr)

	go func(server *http.Server) {
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Collaboration server error", "error", err)
		}
	}(s.server)

	go func() {
		<-ctx.Done()

		err := s.Stop(context.WithoutCancel(ctx))
		if err != nil {
			s.logger.Error("Error during collaboration server shutdown", "error", err)
		}
	}()

	return nil
}

// Stop shuts the listener down and evicts every connected session.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by Shutdown; closing the hub ends them.
	s.hub.Close()

	err := s.server.Shutdown(shutdownCtx)
	s.server = nil

	return err
}

// ServeWS upgrades the request and runs the connection until either side goes away.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	flowID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || flowID <= 0 {
		http.Error(w, "invalid flow id", http.StatusBadRequest)

		return
	}

	principal, err := authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)

		return
	}

	origin := r.URL.Query().Get("origin")
	if origin == "" {
		origin = uuid.NewString()
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "flow_id", flowID, "error", err)

		return
	}

	sub := s.hub.Subscribe(flowID, origin)
	logger := s.logger.With("flow_id", flowID, "origin", origin, "subject", principal.Subject)
	logger.Info("Editor connected")

	go s.writePump(conn, sub, logger)
	s.readPump(r.Context(), conn, sub, principal, logger)

	s.hub.Unsubscribe(sub)
	logger.Info("Editor disconnected")
}

func authenticate(r *http.Request) (auth.Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		header = r.URL.Query().Get("token")
	}

	principal, err := auth.ParseBearer(header)
	if err != nil {
		return auth.Principal{}, err
	}

	if !principal.Role.AtLeast(auth.RoleViewer) {
		return auth.Principal{}, auth.ErrInvalidToken
	}

	return principal, nil
}

func (s *Server) readPump(
	ctx context.Context,
	conn *websocket.Conn,
	sub *Subscription,
	principal auth.Principal,
	logger *slog.Logger,
) {
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("Unexpected close", "error", err)
			}

			return
		}

		event, ok := s.decodeFrame(data, logger)
		if !ok {
			continue
		}

		if !principal.Role.AtLeast(auth.RoleEditor) {
			logger.Debug("Ignoring mutation from read-only session", "type", event.Type)

			continue
		}

		event.FlowID = sub.FlowID()
		event.Origin = sub.Origin()
		event.Version = 0

		err = s.publisher.Publish(ctx, event)
		if err != nil {
			logger.Error("Failed to publish mutation event", "error", err)
		}
	}
}

// decodeFrame checks a frame against the schema and keeps only mutation types that
// clients may send. Anything else is ignored, never fatal.
func (s *Server) decodeFrame(data []byte, logger *slog.Logger) (models.MutationEvent, bool) {
	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		logger.Debug("Ignoring non-JSON frame", "error", err)

		return models.MutationEvent{}, false
	}

	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		logger.Debug("Ignoring invalid frame", "errors", strings.Join(details, "; "))

		return models.MutationEvent{}, false
	}

	var event models.MutationEvent

	err = json.Unmarshal(data, &event)
	if err != nil {
		logger.Debug("Ignoring undecodable frame", "error", err)

		return models.MutationEvent{}, false
	}

	switch event.Type {
	case models.MutationNodesChange, models.MutationEdgesChange:
		return event, true
	default:
		logger.Debug("Ignoring frame of unknown type", "type", event.Type)

		return models.MutationEvent{}, false
	}
}

func (s *Server) writePump(conn *websocket.Conn, sub *Subscription, logger *slog.Logger) {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case event, ok := <-sub.Events():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))

			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "resync required"))

				return
			}

			err := conn.WriteJSON(event)
			if err != nil {
				logger.Debug("Write failed", "error", err)

				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))

			err := conn.WriteMessage(websocket.PingMessage, nil)
			if err != nil {
				return
			}
		}
	}
}
