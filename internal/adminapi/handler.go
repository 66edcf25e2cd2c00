// Package adminapi exposes the operator-facing HTTP surface: reading and
// forcing the system health status, and managing user tier assignments
// and API key mappings. Every route requires the X-Admin-Key header to
// match the configured admin key.
package adminapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"distributed-ratelimiter/internal/config"
	"distributed-ratelimiter/internal/health"
	"distributed-ratelimiter/internal/stats"
)

// ConfigWriter is the subset of *config.Loader the admin surface needs.
type ConfigWriter interface {
	Snapshot() *config.Snapshot
	WriteBackUser(userID, tier string) error
	WriteBackCredential(credential, userID string) error
}

// Handler wires the admin routes onto a *http.ServeMux.
type Handler struct {
	health *health.Service
	cfg    ConfigWriter
	stats  *stats.MemoryStore
	log    *zap.Logger
}

// New builds an admin Handler. stats may be nil if the demo gateway was
// started without in-memory stats tracking.
func New(healthSvc *health.Service, cfg ConfigWriter, statsStore *stats.MemoryStore, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{health: healthSvc, cfg: cfg, stats: statsStore, log: log}
}

// Register mounts the admin routes on mux, guarded by adminKey.
func (h *Handler) Register(mux *http.ServeMux, adminKey string) {
	mux.Handle("/admin/health", requireAdminKey(adminKey, http.HandlerFunc(h.handleHealth)))
	mux.Handle("/admin/users/", requireAdminKey(adminKey, http.HandlerFunc(h.handleUser)))
	mux.Handle("/admin/credentials/", requireAdminKey(adminKey, http.HandlerFunc(h.handleCredential)))
	mux.Handle("/admin/stats", requireAdminKey(adminKey, http.HandlerFunc(h.handleStats)))
}

func requireAdminKey(adminKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if adminKey == "" || r.Header.Get("X-Admin-Key") != adminKey {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type healthResponse struct {
	Status string `json:"status"`
}

type healthRequest struct {
	Status     string `json:"status"`
	UpdatedBy  string `json:"updated_by"`
	Reason     string `json:"reason"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		status := h.health.Get(r.Context())
		writeJSON(w, http.StatusOK, healthResponse{Status: string(status)})
	case http.MethodPost, http.MethodPut:
		var req healthRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		var ttl time.Duration
		if req.TTLSeconds > 0 {
			ttl = time.Duration(req.TTLSeconds) * time.Second
		}
		if err := h.health.Set(r.Context(), health.Status(req.Status), req.UpdatedBy, req.Reason, ttl); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: req.Status})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type userResponse struct {
	UserID string `json:"user_id"`
	Tier   string `json:"tier"`
}

type userRequest struct {
	Tier string `json:"tier"`
}

func (h *Handler) handleUser(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimPrefix(r.URL.Path, "/admin/users/")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing user id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		u, ok := h.cfg.Snapshot().Users[userID]
		if !ok {
			writeError(w, http.StatusNotFound, "unknown user")
			return
		}
		writeJSON(w, http.StatusOK, userResponse{UserID: userID, Tier: u.Tier})
	case http.MethodPut:
		var req userRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := h.cfg.WriteBackUser(userID, req.Tier); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, userResponse{UserID: userID, Tier: req.Tier})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type credentialResponse struct {
	Credential string `json:"credential"`
	UserID     string `json:"user_id"`
}

type credentialRequest struct {
	UserID string `json:"user_id"`
}

func (h *Handler) handleCredential(w http.ResponseWriter, r *http.Request) {
	credential := strings.TrimPrefix(r.URL.Path, "/admin/credentials/")
	if credential == "" {
		writeError(w, http.StatusBadRequest, "missing credential")
		return
	}

	switch r.Method {
	case http.MethodGet:
		userID, ok := h.cfg.Snapshot().Credentials[credential]
		if !ok {
			writeError(w, http.StatusNotFound, "unknown credential")
			return
		}
		writeJSON(w, http.StatusOK, credentialResponse{Credential: credential, UserID: userID})
	case http.MethodPut:
		var req credentialRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := h.cfg.WriteBackCredential(credential, req.UserID); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, credentialResponse{Credential: credential, UserID: req.UserID})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type statsResponse struct {
	Total   stats.Counters            `json:"total"`
	ByRoute map[string]stats.Counters `json:"by_route"`
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.stats == nil {
		writeJSON(w, http.StatusOK, statsResponse{ByRoute: map[string]stats.Counters{}})
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Total: h.stats.Total(), ByRoute: h.stats.ByRoute()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
