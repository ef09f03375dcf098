package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/drug-speak/internal/auth"
	"github.com/drug-speak/internal/catalog"
	"github.com/drug-speak/internal/domain"
	"github.com/drug-speak/internal/websocket"
)

// StudyRecords is the study-record and leaderboard service
type StudyRecords interface {
	SubmitStudyRecord(ctx context.Context, userID string, summary domain.StudyRecordSummary, source string) (*domain.UserStudyRecord, error)
	GetStudyRecord(ctx context.Context, userID string) (*domain.UserStudyRecord, error)
	ListStudyRecords(ctx context.Context) ([]domain.UserStudyRecord, error)
	Leaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
	Rank(ctx context.Context, userID string) (*domain.LeaderboardEntry, error)
	Stats(ctx context.Context) (*domain.LeaderboardStats, error)
}

// Users is the account service
type Users interface {
	SignUp(ctx context.Context, req domain.SignUpRequest) (*domain.AuthResponse, error)
	SignIn(ctx context.Context, creds domain.Credentials) (*domain.AuthResponse, error)
	UpdateProfile(ctx context.Context, userID string, update domain.ProfileUpdate) (*domain.User, error)
	Authenticate(token string) (string, error)
}

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler provides the HTTP API
type Handler struct {
	records StudyRecords
	users   Users
	catalog *catalog.Catalog
	hub     *websocket.Hub
	checks  map[string]Pinger
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler. hub may be nil; checks are probed
// by the readiness endpoint.
func NewHandler(
	records StudyRecords,
	users Users,
	cat *catalog.Catalog,
	hub *websocket.Hub,
	checks map[string]Pinger,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		records: records,
		users:   users,
		catalog: cat,
		hub:     hub,
		checks:  checks,
		logger:  logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	r.Get("/ws", h.HandleWebSocket)
	r.Get("/ws/stats", h.GetWebSocketStats)

	requireAuth := auth.Middleware(auth.ParserFunc(h.users.Authenticate), h.writeErrorMessage)

	r.Post("/users", h.SignUp)
	r.Post("/auth/login", h.SignIn)
	r.With(requireAuth).Patch("/users/update", h.UpdateProfile)

	r.Route("/study-record", func(r chi.Router) {
		r.With(requireAuth).Post("/", h.SubmitStudyRecord)
		r.Get("/", h.ListStudyRecords)
		r.Get("/{userID}", h.GetStudyRecord)
	})

	r.Route("/leaderboard", func(r chi.Router) {
		r.Get("/", h.GetLeaderboard)
		r.Get("/stats", h.GetStats)
		r.Get("/rank/{userID}", h.GetRank)
	})

	r.Get("/drugs", h.ListDrugs)
	r.Get("/drugs/{drugID}", h.GetDrug)
	r.Get("/categories", h.ListCategories)

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, status int, data any) {
	h.writeJSON(w, status, APIResponse{Success: true, Data: data})
}

// writeErrorMessage writes an error JSON response
func (h *Handler) writeErrorMessage(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, APIResponse{Success: false, Error: message})
}

// writeError maps a service error onto a status code. Unexpected errors are
// logged and hidden from the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		err = domain.ErrInternalError
	}
	h.writeErrorMessage(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidCredentials), errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrEmailTaken):
		return http.StatusConflict
	case domain.IsNotFoundError(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrInvalidRequest
	}
	return nil
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		h.writeErrorMessage(w, http.StatusServiceUnavailable, "live updates disabled")
		return
	}
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		h.writeSuccess(w, http.StatusOK, websocket.Stats{})
		return
	}
	h.writeSuccess(w, http.StatusOK, h.hub.Stats())
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ReadyCheck probes every dependency
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := make(map[string]string, len(h.checks)+1)
	ready := true
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", "dependency", name, "error", err)
			status[name] = "unavailable"
			ready = false
			continue
		}
		status[name] = "ok"
	}

	if !ready {
		status["status"] = "not ready"
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{Success: false, Data: status, Error: "not ready"})
		return
	}
	status["status"] = "ready"
	h.writeSuccess(w, http.StatusOK, status)
}
