package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/credoservice/advisor/internal/auth"
	"github.com/credoservice/advisor/internal/remote"
)

// ProxyRequest is the edge contract body: one endpoint discriminator plus the
// fields that endpoint requires.
type ProxyRequest struct {
	Endpoint    string                 `json:"endpoint"`
	SessionID   string                 `json:"sessionId"`
	Content     string                 `json:"content"`
	Language    string                 `json:"language"`
	Action      string                 `json:"action"`
	Payload     map[string]interface{} `json:"payload"`
	Attachments []map[string]string    `json:"attachments"`
}

// ChatProxyHandler serves POST /chat-proxy: the gateway that authenticates
// the caller, injects the orchestrator secret server-side and forwards to the
// configured endpoint. With no orchestrator configured it synthesizes a
// fallback-flagged response so clients demote silently instead of erroring.
func (h *APIHandler) ChatProxyHandler(w http.ResponseWriter, r *http.Request) {
	var req ProxyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req = ProxyRequest{}
	}
	if req.Endpoint == "" {
		req.Endpoint = r.URL.Query().Get("endpoint")
	}
	if req.Endpoint == "" {
		writeError(w, "Missing endpoint", "MISSING_ENDPOINT", http.StatusBadRequest)
		return
	}
	if req.Language == "" {
		req.Language = "ru"
	}

	// Health is answered locally, without auth and without touching n8n.
	if req.Endpoint == "health" {
		mode := "fallback"
		if h.orchestra.Configured() {
			mode = "n8n"
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":       "ok",
			"mode":         mode,
			"timestamp":    time.Now().UTC().Format(time.RFC3339),
			"authRequired": false,
		})
		return
	}

	// Verified identity, or the fixed anonymous identity for guests.
	userID := GuestUserID
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		externalUserID, err := auth.ValidateJWT(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			writeError(w, "Unauthorized", "UNAUTHORIZED", http.StatusUnauthorized)
			return
		}
		userID = externalUserID
	}

	if !h.orchestra.Configured() {
		log.Printf("[chat-proxy] Fallback mode for endpoint: %s", req.Endpoint)
		writeFallback(w, req.SessionID)
		return
	}

	var (
		reply *remote.Reply
		err   error
	)

	switch req.Endpoint {
	case "start":
		reply, err = h.orchestra.Start(r.Context(), userID, req.Language)
		if err == nil {
			logEvent(userID, "chat_started", map[string]interface{}{
				"sessionId": reply.SessionID,
				"language":  req.Language,
			})
		}

	case "message":
		if req.SessionID == "" || req.Content == "" {
			writeError(w, "Missing sessionId or content", "INVALID_REQUEST", http.StatusBadRequest)
			return
		}
		reply, err = h.orchestra.Message(r.Context(), userID, req.SessionID, req.Content, req.Language, req.Attachments)
		if err == nil {
			logEvent(userID, "ai_call", map[string]interface{}{
				"sessionId": req.SessionID,
				"state":     reply.State,
			})
		}

	case "action":
		if req.SessionID == "" || req.Action == "" {
			writeError(w, "Missing sessionId or action", "INVALID_REQUEST", http.StatusBadRequest)
			return
		}
		reply, err = h.orchestra.Do(r.Context(), userID, req.SessionID, remote.Action(req.Action), req.Language, req.Payload)
		if err == nil {
			if eventType, ok := actionEvents[req.Action]; ok {
				logEvent(userID, eventType, map[string]interface{}{
					"sessionId": req.SessionID,
					"action":    req.Action,
					"payload":   req.Payload,
				})
			}
			if reply.State == "SUMMARY" {
				logEvent(userID, "diagnostic_completed", map[string]interface{}{
					"sessionId": req.SessionID,
				})
			}
		}

	case "session":
		if req.SessionID == "" {
			writeError(w, "Missing sessionId", "INVALID_REQUEST", http.StatusBadRequest)
			return
		}
		reply, err = h.orchestra.Session(r.Context(), userID, req.SessionID)

	default:
		writeError(w, fmt.Sprintf("Unknown endpoint: %s", req.Endpoint), "UNKNOWN_ENDPOINT", http.StatusBadRequest)
		return
	}

	if err != nil {
		// A fallback signal from a configured orchestrator is not an error:
		// the client gets a fallback-flagged 200 and demotes silently.
		if errors.Is(err, remote.ErrFallback) {
			log.Printf("[chat-proxy] Orchestrator signalled fallback on %s", req.Endpoint)
			writeFallback(w, req.SessionID)
			return
		}
		log.Printf("[chat-proxy] Error on %s: %v", req.Endpoint, err)
		writeError(w, err.Error(), "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(reply.Response)
}

// writeFallback emits the fallback-flagged response clients demote on. A
// missing session id is synthesized so the client always has one to carry.
func writeFallback(w http.ResponseWriter, sessionID string) {
	if sessionID == "" {
		sessionID = fmt.Sprintf("fallback_%d", time.Now().UnixMilli())
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"text":      "",
		"state":     "INTRO",
		"sessionId": sessionID,
		"fallback":  true,
		"meta": map[string]interface{}{
			"event": map[string]string{"type": "fallback_mode"},
		},
	})
}

var actionEvents = map[string]string{
	"consent_given":     "consent_given",
	"jurisdiction_set":  "jurisdiction_set",
	"diagnostic_answer": "diagnostic_step",
	"scenario_select":   "scenario_started",
	"scenario_step":     "scenario_step",
}

// logEvent records a funnel event. For now events only go to the log; a
// durable events table can replace this without changing call sites.
func logEvent(userID, eventType string, data map[string]interface{}) {
	payload, _ := json.Marshal(data)
	log.Printf("[event] %s user=%s %s", eventType, userID, payload)
}
