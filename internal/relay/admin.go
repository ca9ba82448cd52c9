// ABOUTME: Administrative REST surface for provisioning identities and tokens
// ABOUTME: Handlers for create, list, status, policy pushes, rotation, deletion

package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spawnhq/spawn-relay/internal/room"
	"github.com/spawnhq/spawn-relay/internal/store"
	"github.com/spawnhq/spawn-relay/pkg/policy"
)

// newIdentityID mints an identity ID in the wire format ("agt_" + 12 hex chars).
func newIdentityID() string {
	return "agt_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

type createIdentityRequest struct {
	DisplayName string `json:"display_name"`
	OwnerID     string `json:"owner_id"`
}

type identityResponse struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type tokenPairResponse struct {
	AgentToken string `json:"agent_token"`
	AppToken   string `json:"app_token"`
}

type createIdentityResponse struct {
	Identity identityResponse  `json:"identity"`
	Tokens   tokenPairResponse `json:"tokens"`
}

func toIdentityResponse(id *store.Identity) identityResponse {
	return identityResponse{
		ID:          id.ID,
		DisplayName: id.DisplayName,
		OwnerID:     id.OwnerID,
		CreatedAt:   id.CreatedAt,
	}
}

// handleCreateIdentity provisions an identity and issues its first token pair.
func (s *Server) handleCreateIdentity(w http.ResponseWriter, r *http.Request) {
	var req createIdentityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.DisplayName == "" {
		s.sendJSONError(w, http.StatusBadRequest, "display_name is required")
		return
	}

	identity := &store.Identity{
		ID:          newIdentityID(),
		DisplayName: req.DisplayName,
		OwnerID:     req.OwnerID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateIdentity(r.Context(), identity); err != nil {
		s.logger.Error("creating identity failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "creating identity failed")
		return
	}

	tokens, err := s.issueTokenPair(identity, 1, 1)
	if err != nil {
		s.logger.Error("issuing tokens failed", "identity", identity.ID, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "issuing tokens failed")
		return
	}

	s.logger.Info("identity created", "identity", identity.ID, "display_name", identity.DisplayName)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(createIdentityResponse{
		Identity: toIdentityResponse(identity),
		Tokens:   *tokens,
	})
}

func (s *Server) handleListIdentities(w http.ResponseWriter, r *http.Request) {
	identities, err := s.store.ListIdentities(r.Context())
	if err != nil {
		s.logger.Error("listing identities failed", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "listing identities failed")
		return
	}

	out := make([]identityResponse, 0, len(identities))
	for _, id := range identities {
		out = append(out, toIdentityResponse(id))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"identities": out})
}

// handleIdentityStatus reports the identity record plus live room topology.
func (s *Server) handleIdentityStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	identity, err := s.store.GetIdentity(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.sendJSONError(w, http.StatusNotFound, "unknown identity")
			return
		}
		s.logger.Error("identity lookup failed", "identity", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "identity lookup failed")
		return
	}

	resp := map[string]any{"identity": toIdentityResponse(identity)}
	if rm := s.registry.Peek(id); rm != nil {
		resp["room"] = rm.Status()
	} else {
		resp["room"] = room.Status{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleSetPolicy replaces an identity's policy document and pushes it to the
// connected agent, if any.
func (s *Server) handleSetPolicy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var doc policy.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid policy document")
		return
	}

	rm, err := s.registry.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.sendJSONError(w, http.StatusNotFound, "unknown identity")
			return
		}
		s.logger.Error("room lookup failed", "identity", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "room lookup failed")
		return
	}

	if err := rm.SetPolicy(&doc); err != nil {
		s.logger.Error("setting policy failed", "identity", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "setting policy failed")
		return
	}

	s.logger.Info("policy replaced", "identity", id)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"policy": rm.Policy()})
}

// handleRotateTokens bumps both token generations, disconnects every live
// socket, and returns a fresh token pair. Previously issued tokens stop
// verifying immediately.
func (s *Server) handleRotateTokens(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	identity, err := s.store.GetIdentity(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.sendJSONError(w, http.StatusNotFound, "unknown identity")
			return
		}
		s.logger.Error("identity lookup failed", "identity", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "identity lookup failed")
		return
	}

	agentGen, err := s.store.BumpTokenGeneration(r.Context(), id, store.RoleAgent)
	if err != nil {
		s.logger.Error("bumping agent generation failed", "identity", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "rotating tokens failed")
		return
	}
	appGen, err := s.store.BumpTokenGeneration(r.Context(), id, store.RoleApp)
	if err != nil {
		s.logger.Error("bumping app generation failed", "identity", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "rotating tokens failed")
		return
	}

	if rm := s.registry.Peek(id); rm != nil {
		rm.DisconnectAll(room.ReasonTokensRevoked)
	}

	tokens, err := s.issueTokenPair(identity, agentGen, appGen)
	if err != nil {
		s.logger.Error("issuing tokens failed", "identity", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "issuing tokens failed")
		return
	}

	s.logger.Info("tokens rotated", "identity", id, "agent_generation", agentGen, "app_generation", appGen)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"tokens": tokens})
}

// handleDeleteIdentity removes an identity and tears down its room.
func (s *Server) handleDeleteIdentity(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.store.DeleteIdentity(r.Context(), id); err != nil {
		s.logger.Error("deleting identity failed", "identity", id, "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "deleting identity failed")
		return
	}

	s.registry.Delete(id)

	s.logger.Info("identity deleted", "identity", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) issueTokenPair(identity *store.Identity, agentGen, appGen int64) (*tokenPairResponse, error) {
	agentToken, err := s.issuer.Generate(identity.ID, store.RoleAgent, identity.OwnerID, agentGen, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	appToken, err := s.issuer.Generate(identity.ID, store.RoleApp, identity.OwnerID, appGen, s.tokenTTL)
	if err != nil {
		return nil, err
	}
	return &tokenPairResponse{AgentToken: agentToken, AppToken: appToken}, nil
}

// sendJSONError writes a JSON error response.
func (s *Server) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
