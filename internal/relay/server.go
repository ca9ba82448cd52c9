// ABOUTME: HTTP server exposing the WebSocket relay endpoints and health check
// ABOUTME: Authenticates upgrades, adapts connections to room sockets, runs read loops

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/spawnhq/spawn-relay/internal/auth"
	"github.com/spawnhq/spawn-relay/internal/envelope"
	"github.com/spawnhq/spawn-relay/internal/room"
	"github.com/spawnhq/spawn-relay/internal/store"
)

// Options configures a relay server.
type Options struct {
	Verifier     auth.TokenVerifier
	TokenIssuer  *auth.JWTVerifier
	Registry     *room.Registry
	Store        store.Store
	Logger       *slog.Logger
	AdminToken   string
	TokenTTL     time.Duration
	WriteTimeout time.Duration
}

// Server routes WebSocket upgrades into relay rooms and serves the
// administrative REST surface.
type Server struct {
	verifier     auth.TokenVerifier
	issuer       *auth.JWTVerifier
	registry     *room.Registry
	store        store.Store
	logger       *slog.Logger
	adminToken   string
	tokenTTL     time.Duration
	writeTimeout time.Duration
}

// NewServer creates a relay server from its dependencies.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 90 * 24 * time.Hour
	}
	return &Server{
		verifier:     opts.Verifier,
		issuer:       opts.TokenIssuer,
		registry:     opts.Registry,
		store:        opts.Store,
		logger:       opts.Logger,
		adminToken:   opts.AdminToken,
		tokenTTL:     opts.TokenTTL,
		writeTimeout: opts.WriteTimeout,
	}
}

// Handler returns the full route table for the relay.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/agent", s.handleAgentWS)
	mux.HandleFunc("GET /v1/app", s.handleAppWS)

	adminOnly := auth.AdminMiddleware(s.adminToken)
	mux.Handle("POST /admin/identities", adminOnly(http.HandlerFunc(s.handleCreateIdentity)))
	mux.Handle("GET /admin/identities", adminOnly(http.HandlerFunc(s.handleListIdentities)))
	mux.Handle("GET /admin/identities/{id}", adminOnly(http.HandlerFunc(s.handleIdentityStatus)))
	mux.Handle("PUT /admin/identities/{id}/policy", adminOnly(http.HandlerFunc(s.handleSetPolicy)))
	mux.Handle("POST /admin/identities/{id}/tokens", adminOnly(http.HandlerFunc(s.handleRotateTokens)))
	mux.Handle("DELETE /admin/identities/{id}", adminOnly(http.HandlerFunc(s.handleDeleteIdentity)))

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleAgentWS admits the single agent-host connection for an identity.
func (s *Server) handleAgentWS(w http.ResponseWriter, r *http.Request) {
	s.handleWS(w, r, store.RoleAgent)
}

// handleAppWS admits a companion-app connection for an identity.
func (s *Server) handleAppWS(w http.ResponseWriter, r *http.Request) {
	s.handleWS(w, r, store.RoleApp)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, role string) {
	claims := auth.Authenticate(w, r, s.verifier, role)
	if claims == nil {
		return
	}

	rm, err := s.registry.Get(r.Context(), claims.IdentityID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, `{"error":"unknown identity"}`, http.StatusNotFound)
			return
		}
		s.logger.Error("room lookup failed", "identity", claims.IdentityID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket accept failed", "error", err)
		return
	}

	sock := &wsSocket{conn: conn, writeTimeout: s.writeTimeout}

	switch role {
	case store.RoleAgent:
		err = rm.AcceptAgent(sock)
	default:
		err = rm.AcceptApp(sock)
	}
	if err != nil {
		conn.Close(websocket.StatusGoingAway, "room closed")
		return
	}

	s.logger.Info("connection established",
		"identity", claims.IdentityID, "role", role)

	s.readLoop(r.Context(), rm, conn, sock, role)

	rm.Disconnect(sock)
	conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("connection closed",
		"identity", claims.IdentityID, "role", role)
}

// readLoop pumps inbound frames into the room until the connection dies.
// Malformed frames are dropped without disturbing the connection.
func (s *Server) readLoop(ctx context.Context, rm *room.Room, conn *websocket.Conn, sock room.Socket, role string) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		env, err := envelope.Normalize(data)
		if err != nil {
			s.logger.Debug("dropping malformed frame", "role", role, "error", err)
			continue
		}

		if env.Type == envelope.TypePing {
			pong := envelope.New(envelope.TypePong, map[string]string{
				"request_id": env.RequestID(),
			})
			if err := sock.Send(pong); err != nil {
				return
			}
			continue
		}

		rm.Route(env, role, sock)
	}
}

// wsSocket adapts a websocket connection to the room.Socket interface.
// Sends are serialized and bounded so one stalled peer cannot wedge a room.
type wsSocket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

func (s *wsSocket) Send(env *envelope.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, s.conn, env)
}

func (s *wsSocket) Close(reason string) error {
	return s.conn.Close(closeStatus(reason), reason)
}

// closeStatus maps room close reasons onto WebSocket status codes.
func closeStatus(reason string) websocket.StatusCode {
	switch reason {
	case room.ReasonSuperseded:
		return websocket.StatusGoingAway
	default:
		return websocket.StatusNormalClosure
	}
}
