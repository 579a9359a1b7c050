package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/credoservice/advisor/internal/auth"
	"github.com/credoservice/advisor/internal/chat"
	"github.com/credoservice/advisor/internal/fsm"
	"github.com/credoservice/advisor/internal/remote"
	"github.com/credoservice/advisor/internal/store"
)

// GuestUserID is the fixed anonymous identity used when no bearer token is
// presented. Guest data lives only in the ephemeral store.
const GuestUserID = "guest_user"

type contextKey int

const identityKey contextKey = iota

type APIHandler struct {
	chatService *chat.Service
	users       *store.SQLiteStore
	orchestra   *remote.Client
}

func NewAPIHandler(cs *chat.Service, users *store.SQLiteStore, orchestra *remote.Client) *APIHandler {
	return &APIHandler{chatService: cs, users: users, orchestra: orchestra}
}

// IdentityMiddleware resolves the caller: a valid bearer token yields an
// authenticated identity, anything else falls back to the fixed guest
// identity. Individual handlers reject guests where login is required.
func (h *APIHandler) IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chat.Identity{UserID: GuestUserID, Guest: true}

		authHeader := r.Header.Get("Authorization")
		if authHeader != "" {
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			externalUserID, err := auth.ValidateJWT(tokenString)
			if err != nil {
				writeError(w, "Invalid token", "UNAUTHORIZED", http.StatusUnauthorized)
				return
			}
			user, err := h.users.GetUserByExternalID(externalUserID)
			if err != nil {
				log.Printf("Error resolving user %s: %v", externalUserID, err)
				writeError(w, "Failed to process user identity", "INTERNAL_ERROR", http.StatusInternalServerError)
				return
			}
			if user == nil {
				writeError(w, "User not found", "UNAUTHORIZED", http.StatusUnauthorized)
				return
			}
			id = chat.Identity{UserID: user.ExternalUserID}
		}

		ctx := context.WithValue(r.Context(), identityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func identityFrom(r *http.Request) chat.Identity {
	if id, ok := r.Context().Value(identityKey).(chat.Identity); ok {
		return id
	}
	return chat.Identity{UserID: GuestUserID, Guest: true}
}

type SignupRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

func (h *APIHandler) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest)
		return
	}

	if req.UserID == "" || req.Password == "" {
		writeError(w, "User ID and password are required", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Printf("Error hashing password for user %s: %v", req.UserID, err)
		writeError(w, "Failed to process password", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	user, err := h.users.CreateUser(req.UserID, hashedPassword)
	if err != nil {
		log.Printf("Error creating user %s: %v", req.UserID, err)
		writeError(w, "Failed to create user", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user)
}

type LoginRequest struct {
	UserID   string `json:"user_id"`
	Password string `json:"password"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest)
		return
	}

	if req.UserID == "" || req.Password == "" {
		writeError(w, "User ID and password are required", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}

	user, err := h.users.GetUserByExternalID(req.UserID)
	if err != nil {
		log.Printf("Error getting user %s: %v", req.UserID, err)
		writeError(w, "Invalid credentials", "UNAUTHORIZED", http.StatusUnauthorized)
		return
	}

	if user == nil || !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		writeError(w, "Invalid credentials", "UNAUTHORIZED", http.StatusUnauthorized)
		return
	}

	token, err := auth.GenerateJWT(req.UserID)
	if err != nil {
		log.Printf("Error generating JWT for user %s: %v", req.UserID, err)
		writeError(w, "Failed to generate token", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	// Explicit login discards any guest conversation; guest history is never
	// merged into the durable store.
	h.chatService.ClearGuest(GuestUserID)

	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"mode":   h.chatService.ExecutorMode().String(),
	})
}

func (h *APIHandler) InitChatHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)

	view, err := h.chatService.InitSession(r.Context(), id)
	if err != nil {
		log.Printf("Error initializing session for %s: %v", id.UserID, err)
		writeError(w, "Failed to initialize session", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(view)
}

func (h *APIHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)

	sessions, err := h.chatService.Sessions(id)
	if err != nil {
		log.Printf("Error listing sessions for %s: %v", id.UserID, err)
		writeError(w, "Failed to list sessions", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []store.Session{}
	}
	json.NewEncoder(w).Encode(sessions)
}

type PostMessageRequest struct {
	Content  string `json:"content"`
	Language string `json:"language"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)
	sessionID := chi.URLParam(r, "chatID")

	var req PostMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		writeError(w, "Message content cannot be empty", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}
	if req.Language == "" {
		req.Language = "ru"
	}

	result, err := h.chatService.SendMessage(r.Context(), id, sessionID, req.Content, req.Language)
	if err != nil {
		h.writeSendError(w, id, sessionID, err)
		return
	}
	json.NewEncoder(w).Encode(result)
}

func (h *APIHandler) writeSendError(w http.ResponseWriter, id chat.Identity, sessionID string, err error) {
	switch {
	case errors.Is(err, chat.ErrPIIBlocked):
		writeError(w, err.Error(), "PII_BLOCKED", http.StatusBadRequest)
	case errors.Is(err, chat.ErrInsufficientCredits):
		writeError(w, "Insufficient credits. Please upgrade your plan.", "INSUFFICIENT_CREDITS", http.StatusPaymentRequired)
	case errors.Is(err, chat.ErrSessionNotFound):
		writeError(w, "Session not found", "NOT_FOUND", http.StatusNotFound)
	default:
		log.Printf("Error posting message for user %s, session %s: %v", id.UserID, sessionID, err)
		writeError(w, "Failed to post message", "INTERNAL_ERROR", http.StatusInternalServerError)
	}
}

func (h *APIHandler) GetProfileHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)
	json.NewEncoder(w).Encode(h.chatService.Profile(id))
}

type UpdateProfileRequest struct {
	Jurisdiction *string `json:"jurisdiction,omitempty"`
	HasConsent   *bool   `json:"has_consent,omitempty"`
}

func (h *APIHandler) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest)
		return
	}

	profile, err := h.chatService.UpdateProfile(id, req.Jurisdiction, req.HasConsent)
	if err != nil {
		log.Printf("Error updating profile for %s: %v", id.UserID, err)
		writeError(w, "Failed to update profile", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(profile)
}

func (h *APIHandler) GetCreditsHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)

	balance, err := h.chatService.CreditBalance(id)
	if err != nil {
		log.Printf("Error fetching credits for %s: %v", id.UserID, err)
		writeError(w, "Failed to fetch credits", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(store.Credits{UserID: id.UserID, Balance: balance})
}

type GrantCreditsRequest struct {
	Amount int `json:"amount"`
}

func (h *APIHandler) GrantCreditsHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)

	var req GrantCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		writeError(w, "Amount must be positive", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}

	balance, err := h.chatService.GrantCredits(id, req.Amount)
	if err != nil {
		if errors.Is(err, chat.ErrLoginRequired) {
			writeError(w, "Login required", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}
		log.Printf("Error granting credits for %s: %v", id.UserID, err)
		writeError(w, "Failed to grant credits", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(store.Credits{UserID: id.UserID, Balance: balance})
}

type AnalyzeDocumentRequest struct {
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
}

func (h *APIHandler) AnalyzeDocumentHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)

	var req AnalyzeDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" || req.Name == "" || req.URL == "" {
		writeError(w, "session_id, name and url are required", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}

	doc, ack, err := h.chatService.AnalyzeDocument(r.Context(), id, req.SessionID, req.Name, req.URL)
	if err != nil {
		if errors.Is(err, chat.ErrSessionNotFound) {
			writeError(w, "Session not found", "NOT_FOUND", http.StatusNotFound)
			return
		}
		log.Printf("Error analyzing document for %s: %v", id.UserID, err)
		writeError(w, "Failed to process document", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"document": doc,
		"message":  ack,
	})
}

func (h *APIHandler) ListDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)

	docs, err := h.chatService.Documents(id)
	if err != nil {
		if errors.Is(err, chat.ErrLoginRequired) {
			writeError(w, "Login required", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}
		log.Printf("Error listing documents for %s: %v", id.UserID, err)
		writeError(w, "Failed to list documents", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}
	json.NewEncoder(w).Encode(docs)
}

func (h *APIHandler) ListScenariosHandler(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(fsm.Scenarios())
}

type RunScenarioRequest struct {
	Answers map[string]string `json:"answers"`
}

func (h *APIHandler) RunScenarioHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)
	scenarioType := fsm.ScenarioType(chi.URLParam(r, "scenarioType"))

	var req RunScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request body: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest)
		return
	}
	if len(req.Answers) == 0 {
		writeError(w, "Answers are required", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}

	result, err := h.chatService.RunScenario(r.Context(), id, scenarioType, req.Answers)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrLoginRequired):
			writeError(w, "Login required", "UNAUTHORIZED", http.StatusUnauthorized)
		case errors.Is(err, chat.ErrInsufficientCredits):
			writeError(w, "Insufficient credits. Please upgrade your plan.", "INSUFFICIENT_CREDITS", http.StatusPaymentRequired)
		default:
			log.Printf("Error running scenario %s for %s: %v", scenarioType, id.UserID, err)
			writeError(w, "Failed to run scenario", "INTERNAL_ERROR", http.StatusInternalServerError)
		}
		return
	}
	json.NewEncoder(w).Encode(result)
}

func writeError(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}
