package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/credoservice/advisor/internal/chat"
)

// streamRequest is the single client frame that starts a streamed exchange.
type streamRequest struct {
	Content  string `json:"content"`
	Language string `json:"language"`
}

// streamFrame is one server-to-client frame. Type is "token" for incremental
// chunks, "done" for the finalized result and "error" for a terminal failure.
type streamFrame struct {
	Type    string           `json:"type"`
	Token   string           `json:"token,omitempty"`
	Result  *chat.SendResult `json:"result,omitempty"`
	Message string           `json:"message,omitempty"`
	Code    string           `json:"code,omitempty"`
}

// StreamMessageHandler upgrades GET /api/chats/{chatID}/stream to a websocket,
// reads one message request and streams the assistant reply token by token.
// One exchange per connection keeps backpressure and error handling trivial;
// the client reconnects for the next message.
func (h *APIHandler) StreamMessageHandler(w http.ResponseWriter, r *http.Request) {
	id := identityFrom(r)
	sessionID := chi.URLParam(r, "chatID")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		log.Printf("Websocket accept failed for session %s: %v", sessionID, err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req streamRequest
	if err := wsjson.Read(ctx, conn, &req); err != nil {
		conn.Close(websocket.StatusPolicyViolation, "expected a message request frame")
		return
	}
	if req.Content == "" {
		wsjson.Write(ctx, conn, streamFrame{Type: "error", Message: "Message content cannot be empty", Code: "INVALID_REQUEST"})
		conn.Close(websocket.StatusPolicyViolation, "empty content")
		return
	}
	if req.Language == "" {
		req.Language = "ru"
	}

	onToken := func(token string) {
		if err := wsjson.Write(ctx, conn, streamFrame{Type: "token", Token: token}); err != nil {
			cancel()
		}
	}

	result, err := h.chatService.StreamMessage(ctx, id, sessionID, req.Content, req.Language, onToken)
	if err != nil {
		frame := streamFrame{Type: "error", Message: "Failed to post message", Code: "INTERNAL_ERROR"}
		switch {
		case errors.Is(err, chat.ErrPIIBlocked):
			frame.Message = err.Error()
			frame.Code = "PII_BLOCKED"
		case errors.Is(err, chat.ErrInsufficientCredits):
			frame.Message = "Insufficient credits. Please upgrade your plan."
			frame.Code = "INSUFFICIENT_CREDITS"
		case errors.Is(err, chat.ErrSessionNotFound):
			frame.Message = "Session not found"
			frame.Code = "NOT_FOUND"
		default:
			log.Printf("Error streaming message for user %s, session %s: %v", id.UserID, sessionID, err)
		}
		wsjson.Write(ctx, conn, frame)
		conn.Close(websocket.StatusNormalClosure, frame.Code)
		return
	}

	if err := wsjson.Write(ctx, conn, streamFrame{Type: "done", Result: result}); err != nil {
		log.Printf("Failed to deliver final stream frame for session %s: %v", sessionID, err)
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}
