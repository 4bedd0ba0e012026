package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"niabot/pkg/agent"
	"niabot/pkg/bus"
	"niabot/pkg/config"
	"niabot/pkg/logger"
	"niabot/pkg/personality"
	"niabot/pkg/store"
)

// NotifyInstruction wraps an external notification into a system turn.
// The agent relays it only when it matters; silence is the default.
const NotifyInstruction = "SYSTEM NOTIFICATION: %s\n" +
	"Pass this on to the user only if it is worth their attention. " +
	"If it is not, do not respond."

// Store is the read side the gateway needs: history for /api/history and
// profile fields for /api/profile.
type Store interface {
	GetHistory(ctx context.Context, uid string) ([]store.Turn, error)
	GetField(ctx context.Context, uid string, field store.ProfileField) (map[string]string, error)
}

// Server is the local HTTP surface: health probes, history reads, and
// synchronous ask/notify turns that run the same cycle as channel
// messages.
type Server struct {
	cfg   *config.Config
	orch  *agent.Orchestrator
	store Store
	bus   *bus.MessageBus
	srv   *http.Server
}

func NewServer(cfg *config.Config, orch *agent.Orchestrator, st Store, msgBus *bus.MessageBus) *Server {
	s := &Server{
		cfg:   cfg,
		orch:  orch,
		store: st,
		bus:   msgBus,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/api/history", s.handleHistory)
	mux.HandleFunc("/api/profile", s.handleProfile)
	mux.HandleFunc("/api/ask", s.handleAsk)
	mux.HandleFunc("/api/notify", s.handleNotify)

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run blocks serving HTTP until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			logger.WarnCF("gateway", "Shutdown error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	logger.InfoCF("gateway", "HTTP gateway listening", map[string]interface{}{
		"addr": s.srv.Addr,
	})
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.orch == nil || s.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	uid := s.resolveUID(r.URL.Query().Get("uid"))
	history, err := s.store.GetHistory(r.Context(), uid)
	if err != nil {
		logger.ErrorCF("gateway", "History read failed", map[string]interface{}{
			"uid":   uid,
			"error": err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"messageHistory": history})
}

// handleProfile reads one profile field. Field names are matched
// case-insensitively against the closed field set.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	field, ok := store.ParseField(r.URL.Query().Get("field"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown profile field")
		return
	}

	uid := s.resolveUID(r.URL.Query().Get("uid"))
	values, err := s.store.GetField(r.Context(), uid, field)
	if err != nil {
		logger.ErrorCF("gateway", "Profile read failed", map[string]interface{}{
			"uid":   uid,
			"field": string(field),
			"error": err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"field":  personality.DisplayName(field),
		"values": values,
	})
}

type askRequest struct {
	UID     string `json:"uid"`
	Message string `json:"message"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	result := s.orch.Process(r.Context(), bus.InboundMessage{
		Channel:  "http",
		SenderID: s.resolveUID(req.UID),
		Content:  req.Message,
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"response": result.Response,
		"emotion":  result.Emotion,
		"updated":  result.Updated,
	})
}

type notifyRequest struct {
	UID  string `json:"uid"`
	Text string `json:"text"`
}

// handleNotify feeds an external event through the agent as a system
// turn. If the agent decides to speak, the reply goes out proactively on
// the Discord channel; the HTTP response only acknowledges receipt.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req notifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	result := s.orch.Process(r.Context(), bus.InboundMessage{
		Channel:  "http",
		SenderID: s.resolveUID(req.UID),
		Content:  fmt.Sprintf(NotifyInstruction, req.Text),
		System:   true,
	})

	if result.Response != "" && s.bus != nil {
		s.bus.PublishOutbound(bus.OutboundMessage{
			Channel: "discord",
			Content: result.Response,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"delivered": result.Response != "",
		"response":  result.Response,
	})
}

// resolveUID falls back to the configured owner so the single-user
// deployment can omit uid everywhere.
func (s *Server) resolveUID(uid string) string {
	if uid != "" {
		return uid
	}
	if owner := s.cfg.Channels.Discord.OwnerID; owner != "" {
		return owner
	}
	return "default"
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.DebugCF("gateway", "Response encode failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
