package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/manpreetbhatti/synclink/internal/accounts"
	"github.com/manpreetbhatti/synclink/internal/judge"
	"github.com/manpreetbhatti/synclink/internal/room"
	"github.com/manpreetbhatti/synclink/internal/store"
	"github.com/manpreetbhatti/synclink/internal/ws"
)

const maxBodyBytes = 1 << 20

// Backlog reports saves accepted but not yet written
type Backlog interface {
	Pending() int
}

// Judge runs code submissions
type Judge interface {
	Submit(ctx context.Context, body []byte) judge.Result
	Status(ctx context.Context, statusURL string) judge.Result
}

type Options struct {
	Hub   *ws.Hub
	Store store.DocumentStore
	// Optional; nil disables the matching endpoints
	Backlog Backlog
	Users   accounts.UserStore
	Judge   Judge

	ICEServers []webrtc.ICEServer
	Logger     *zap.Logger
}

type API struct {
	hub        *ws.Hub
	store      store.DocumentStore
	backlog    Backlog
	users      accounts.UserStore
	judge      Judge
	iceServers []webrtc.ICEServer
	logger     *zap.Logger
}

func New(opts Options) *API {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		hub:        opts.Hub,
		store:      opts.Store,
		backlog:    opts.Backlog,
		users:      opts.Users,
		judge:      opts.Judge,
		iceServers: opts.ICEServers,
		logger:     logger.Named("api"),
	}
}

// ICEServers builds the ICE configuration handed to call clients.
func ICEServers(stunURLs []string, turnURL, turnUsername, turnPassword string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	for _, stun := range stunURLs {
		if stun == "" {
			continue
		}
		servers = append(servers, webrtc.ICEServer{URLs: []string{stun}})
	}
	if turnURL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:           []string{turnURL},
			Username:       turnUsername,
			Credential:     turnPassword,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return servers
}

func (a *API) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Warn("error encoding JSON response", zap.Error(err))
	}
}

func (a *API) errorResponse(w http.ResponseWriter, status int, message string) {
	a.jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) RootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("Synclink Backend!"))
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	hubStats := a.hub.Stats()

	families := map[string]int{room.Document.String(): 0, room.Call.String(): 0}
	for _, rs := range hubStats.Rooms {
		families[rs.Family]++
	}

	stats := map[string]interface{}{
		"active_clients": hubStats.Clients,
		"active_rooms":   families,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.store != nil {
		count, err := a.store.Count(r.Context())
		if err != nil {
			a.logger.Warn("failed to count documents", zap.Error(err))
		} else {
			stats["total_documents"] = count
		}
	}
	if a.backlog != nil {
		stats["pending_saves"] = a.backlog.Pending()
	}

	a.jsonResponse(w, http.StatusOK, stats)
}

// Active rooms, optionally filtered with ?family=document|call
func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	filter := r.URL.Query().Get("family")
	if filter != "" {
		if _, ok := room.ParseFamily(filter); !ok {
			a.errorResponse(w, http.StatusBadRequest, "Unknown room family")
			return
		}
	}

	rooms := make([]ws.RoomStat, 0)
	for _, rs := range a.hub.Stats().Rooms {
		if filter == "" || rs.Family == filter {
			rooms = append(rooms, rs)
		}
	}

	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms": rooms,
		"count": len(rooms),
	})
}

func (a *API) ICEServersHandler(w http.ResponseWriter, r *http.Request) {
	servers := a.iceServers
	if servers == nil {
		servers = []webrtc.ICEServer{}
	}
	a.jsonResponse(w, http.StatusOK, map[string]interface{}{"iceServers": servers})
}

// Account handlers

type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	UserType string `json:"userType"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Email    string `json:"email"`
	UserType string `json:"userType"`
}

func (a *API) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	if a.users == nil {
		a.errorResponse(w, http.StatusServiceUnavailable, "Accounts are not enabled")
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		a.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		a.errorResponse(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	_, err := accounts.Register(r.Context(), a.users, req.Email, req.Username, req.Password, req.UserType)
	switch {
	case errors.Is(err, accounts.ErrDuplicateUser):
		a.errorResponse(w, http.StatusConflict, "User already exists")
		return
	case err != nil:
		a.logger.Error("failed to register user", zap.Error(err))
		a.errorResponse(w, http.StatusInternalServerError, "Error creating user")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusCreated)
	w.Write([]byte("User created successfully"))
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if a.users == nil {
		a.errorResponse(w, http.StatusServiceUnavailable, "Accounts are not enabled")
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		a.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := accounts.Login(r.Context(), a.users, req.Email, req.Password)
	switch {
	case errors.Is(err, accounts.ErrUserNotFound):
		a.errorResponse(w, http.StatusNotFound, "User not found")
		return
	case errors.Is(err, accounts.ErrBadPassword):
		a.errorResponse(w, http.StatusUnauthorized, "Invalid credentials")
		return
	case err != nil:
		a.logger.Error("failed to log in", zap.Error(err))
		a.errorResponse(w, http.StatusInternalServerError, "Error logging in")
		return
	}

	a.jsonResponse(w, http.StatusOK, LoginResponse{Email: user.Email, UserType: user.UserType})
}

// Code execution handlers

func (a *API) SubmitCodeHandler(w http.ResponseWriter, r *http.Request) {
	if a.judge == nil {
		a.errorResponse(w, http.StatusServiceUnavailable, "Code execution is not enabled")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		a.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	a.judgeResponse(w, a.judge.Submit(r.Context(), body))
}

func (a *API) CodeStatusHandler(w http.ResponseWriter, r *http.Request) {
	if a.judge == nil {
		a.errorResponse(w, http.StatusServiceUnavailable, "Code execution is not enabled")
		return
	}
	a.judgeResponse(w, a.judge.Status(r.Context(), r.URL.Query().Get("url")))
}

func (a *API) judgeResponse(w http.ResponseWriter, res judge.Result) {
	status := http.StatusOK
	if !res.OK {
		switch res.Error.Kind {
		case judge.KindBadRequest:
			status = http.StatusBadRequest
		case judge.KindForbidden:
			status = http.StatusForbidden
		default:
			status = http.StatusBadGateway
		}
	}
	a.jsonResponse(w, status, res)
}
