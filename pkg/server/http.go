package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mthangit/Multi-Agents-sub000/pkg/a2a"
	"github.com/mthangit/Multi-Agents-sub000/pkg/broker"
	"github.com/mthangit/Multi-Agents-sub000/pkg/observability"
	"github.com/mthangit/Multi-Agents-sub000/pkg/orchestrator"
	"github.com/mthangit/Multi-Agents-sub000/pkg/registry"
	"github.com/mthangit/Multi-Agents-sub000/pkg/transport"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already out; nothing left to do.
		return
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{"error": message})
}

type chatResponse struct {
	Status              string           `json:"status"`
	SessionID           string           `json:"session_id"`
	Response            string           `json:"response"`
	Agent               string           `json:"agent,omitempty"`
	ClarifiedMessage    string           `json:"clarified_message,omitempty"`
	Analysis            string           `json:"analysis,omitempty"`
	Data                map[string]any   `json:"data,omitempty"`
	UserInfo            map[string]any   `json:"user_info,omitempty"`
	Orders              any              `json:"orders,omitempty"`
	Products            []map[string]any `json:"products,omitempty"`
	ExtractedProductIDs []string         `json:"extracted_product_ids,omitempty"`
	NewOrder            bool             `json:"is_new_order,omitempty"`
	EditOrder           bool             `json:"is_edit_order,omitempty"`
	Timestamp           time.Time        `json:"timestamp"`
}

const chatApology = "Xin lỗi, hiện tại hệ thống đang gặp sự cố. Bạn vui lòng thử lại sau nhé."

// handleChat accepts the customer's message as multipart form data:
// message, optional user_id and session_id, and optional image files.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		// Plain form bodies are accepted too.
		if err := r.ParseForm(); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	req := orchestrator.TurnRequest{
		Message:   r.FormValue("message"),
		UserID:    r.FormValue("user_id"),
		SessionID: r.FormValue("session_id"),
	}

	if r.MultipartForm != nil {
		for _, header := range r.MultipartForm.File["files"] {
			file, err := header.Open()
			if err != nil {
				respondError(w, http.StatusBadRequest, "unreadable upload: "+header.Filename)
				return
			}
			data, err := io.ReadAll(file)
			file.Close()
			if err != nil {
				respondError(w, http.StatusBadRequest, "unreadable upload: "+header.Filename)
				return
			}
			req.Files = append(req.Files, orchestrator.FileAttachment{
				Name:        header.Filename,
				ContentType: header.Header.Get("Content-Type"),
				Data:        data,
			})
		}
	}

	result, err := s.orchestrator.HandleTurn(r.Context(), req)
	if err != nil {
		s.logger.Error("chat turn failed", "session", req.SessionID, "error", err)
		respondJSON(w, http.StatusOK, chatResponse{
			Status:    "error",
			SessionID: req.SessionID,
			Response:  chatApology,
			Timestamp: time.Now().UTC(),
		})
		return
	}

	respondJSON(w, http.StatusOK, chatResponse{
		Status:              "success",
		SessionID:           result.SessionID,
		Response:            result.Reply,
		Agent:               result.Agent,
		ClarifiedMessage:    result.ClarifiedMessage,
		Analysis:            result.Analysis,
		Data:                result.Data,
		UserInfo:            result.UserInfo,
		Orders:              result.Orders,
		Products:            result.Products,
		ExtractedProductIDs: result.ExtractedProductIDs,
		NewOrder:            result.NewOrder,
		EditOrder:           result.EditOrder,
		Timestamp:           result.Timestamp,
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sessionID := uuid.NewString()
	if err := s.memory.Durable().EnsureSession(r.Context(), sessionID, body.UserID); err != nil {
		s.logger.Error("failed to create session", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	resp := map[string]any{"session_id": sessionID}
	if body.UserID != "" {
		resp["user_id"] = body.UserID
	}
	respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	sessions, err := s.memory.Durable().Sessions(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("failed to list sessions", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	messages, err := s.memory.Durable().SessionMessages(r.Context(), sessionID, limit, offset)
	if err != nil {
		s.logger.Error("failed to load session messages", "session", sessionID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load session history")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   messages,
		"count":      len(messages),
	})
}

func (s *Server) handleUserSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	sessions, err := s.memory.Durable().UserSessions(r.Context(), userID)
	if err != nil {
		s.logger.Error("failed to load user sessions", "user", userID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to load sessions")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleDeleteSessionHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	owner, err := s.memory.Durable().SessionOwner(r.Context(), sessionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to resolve session")
		return
	}
	deleted, err := s.memory.ClearSession(r.Context(), owner, sessionID)
	if err != nil {
		s.logger.Error("failed to delete session", "session", sessionID, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id":       sessionID,
		"deleted_messages": deleted,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var info a2a.AgentInfo
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		respondError(w, http.StatusBadRequest, "invalid agent descriptor")
		return
	}
	if err := s.registry.Register(r.Context(), &info); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "registered",
		"agent_id": info.ID,
	})
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if err := s.registry.Unregister(r.Context(), agentID); err != nil {
		if errors.Is(err, registry.ErrAgentNotFound) {
			respondError(w, http.StatusNotFound, "agent not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "unregistered",
		"agent_id": agentID,
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	filter := registry.Filter{
		Type:       a2a.AgentType(r.URL.Query().Get("type")),
		Capability: r.URL.Query().Get("capability"),
		Status:     a2a.AgentStatus(r.URL.Query().Get("status")),
	}
	agents, err := s.registry.Discover(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"agents": agents,
		"count":  len(agents),
	})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	info, err := s.registry.Lookup(r.Context(), agentID)
	if err != nil {
		if errors.Is(err, registry.ErrAgentNotFound) {
			respondError(w, http.StatusNotFound, "agent not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentType  string `json:"agent_type,omitempty"`
		Capability string `json:"capability,omitempty"`
		Status     string `json:"status,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid discovery request")
		return
	}
	agents, err := s.registry.Discover(r.Context(), registry.Filter{
		Type:       a2a.AgentType(body.AgentType),
		Capability: body.Capability,
		Status:     a2a.AgentStatus(body.Status),
	})
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"agents": agents,
		"count":  len(agents),
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var msg a2a.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid message")
		return
	}
	resp, err := s.broker.SendMessage(r.Context(), &msg)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if resp == nil {
		respondJSON(w, http.StatusAccepted, map[string]any{"status": "delivered"})
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message     a2a.Message `json:"message"`
		TargetTypes []string    `json:"target_types,omitempty"`
		Exclude     []string    `json:"exclude,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid broadcast request")
		return
	}

	opts := broker.BroadcastOptions{Exclude: body.Exclude}
	for _, t := range body.TargetTypes {
		opts.TargetTypes = append(opts.TargetTypes, a2a.AgentType(t))
	}
	resp, err := s.broker.Broadcast(r.Context(), &body.Message, opts)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AgentID string `json:"agent_id"`
		registry.Heartbeat
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid heartbeat")
		return
	}
	if err := s.registry.UpdateHeartbeat(r.Context(), body.AgentID, body.Heartbeat); err != nil {
		if errors.Is(err, registry.ErrAgentNotFound) {
			respondError(w, http.StatusNotFound, "agent not found")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReceive(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if err := s.broker.ProcessReceived(r.Context(), raw); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	health := map[string]any{"status": "healthy"}

	if err := s.store.Ping(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		health["status"] = "degraded"
		health["store"] = err.Error()
	} else {
		health["store"] = "ok"
	}

	if count, err := s.registry.Count(r.Context()); err == nil {
		health["registered_agents"] = count
	}

	if s.clients != nil {
		downstream := map[string]string{}
		for name, err := range s.clients.Health(r.Context()) {
			if err != nil {
				downstream[name] = err.Error()
				continue
			}
			downstream[name] = "ok"
		}
		health["remote_agents"] = downstream
	}

	respondJSON(w, status, health)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"pending_requests": s.broker.PendingCount(),
	}

	if count, err := s.registry.Count(r.Context()); err == nil {
		stats["registered_agents"] = count
	}

	depths, err := transport.QueueDepths(r.Context(), s.store, a2a.QueueKey("*"))
	if err == nil {
		byAgent := make(map[string]int64, len(depths))
		for key, depth := range depths {
			agent := strings.TrimPrefix(key, a2a.QueueKey(""))
			byAgent[agent] = depth
			observability.QueueDepth.WithLabelValues(agent).Set(float64(depth))
		}
		stats["queue_depths"] = byAgent
	}

	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	card := s.hostCard
	for _, name := range s.broker.Capabilities() {
		card.Capabilities = append(card.Capabilities, a2a.Capability{Name: name})
	}
	respondJSON(w, http.StatusOK, card)
}
