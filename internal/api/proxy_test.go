package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/credoservice/advisor/internal/auth"
	"github.com/credoservice/advisor/internal/config"
	"github.com/credoservice/advisor/internal/remote"
)

func proxyHandler(orchestraURL string) *APIHandler {
	return NewAPIHandler(nil, nil, remote.NewClient(orchestraURL, "secret"))
}

func postProxy(t *testing.T, h *APIHandler, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/chat-proxy", strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ChatProxyHandler(w, req)

	var decoded map[string]interface{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("response is not JSON: %v: %s", err, w.Body.String())
		}
	}
	return w, decoded
}

func TestProxyMissingEndpoint(t *testing.T) {
	w, body := postProxy(t, proxyHandler(""), `{}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", w.Code)
	}
	if body["code"] != "MISSING_ENDPOINT" {
		t.Errorf("code: %v", body["code"])
	}
	if _, ok := body["error"]; !ok {
		t.Error("error shape must carry an error message")
	}
}

func TestProxyEndpointFromQuery(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/chat-proxy?endpoint=health", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	proxyHandler("").ChatProxyHandler(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestProxyHealthWithoutOrchestrator(t *testing.T) {
	w, body := postProxy(t, proxyHandler(""), `{"endpoint":"health"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	if body["status"] != "ok" || body["mode"] != "fallback" {
		t.Errorf("body: %v", body)
	}
	if body["authRequired"] != false {
		t.Errorf("health must be unauthenticated: %v", body)
	}
}

func TestProxyHealthWithOrchestrator(t *testing.T) {
	_, body := postProxy(t, proxyHandler("https://n8n.example/webhook"), `{"endpoint":"health"}`, nil)
	if body["mode"] != "n8n" {
		t.Errorf("mode: %v", body["mode"])
	}
}

func TestProxyFallbackSynthesis(t *testing.T) {
	w, body := postProxy(t, proxyHandler(""), `{"endpoint":"start"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("fallback must not be an error, status: %d", w.Code)
	}
	if body["fallback"] != true {
		t.Errorf("fallback flag missing: %v", body)
	}
	if body["state"] != "INTRO" {
		t.Errorf("state: %v", body["state"])
	}
	sessionID, _ := body["sessionId"].(string)
	if !strings.HasPrefix(sessionID, "fallback_") {
		t.Errorf("synthesized session id: %q", sessionID)
	}

	// A provided session id is echoed back instead of synthesized.
	_, body = postProxy(t, proxyHandler(""), `{"endpoint":"message","sessionId":"s1","content":"hi"}`, nil)
	if body["sessionId"] != "s1" {
		t.Errorf("session id not preserved: %v", body["sessionId"])
	}
}

func TestProxyConfiguredUpstreamFallbackIsNotAnError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(remote.Response{Fallback: true})
	}))
	defer upstream.Close()

	w, body := postProxy(t, proxyHandler(upstream.URL), `{"endpoint":"message","sessionId":"s1","content":"привет"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("upstream fallback must be a 200, status: %d, body: %s", w.Code, w.Body.String())
	}
	if body["fallback"] != true {
		t.Errorf("fallback flag missing: %v", body)
	}
	if body["sessionId"] != "s1" {
		t.Errorf("session id not preserved: %v", body["sessionId"])
	}
	if _, hasCode := body["code"]; hasCode {
		t.Errorf("fallback must not carry the error shape: %v", body)
	}

	// Without a session id one is synthesized, same as the unconfigured path.
	_, body = postProxy(t, proxyHandler(upstream.URL), `{"endpoint":"start"}`, nil)
	sessionID, _ := body["sessionId"].(string)
	if !strings.HasPrefix(sessionID, "fallback_") {
		t.Errorf("synthesized session id: %q", sessionID)
	}
}

func TestProxyRejectsInvalidToken(t *testing.T) {
	config.AppConfig.JWTSecret = "test-secret"
	w, body := postProxy(t, proxyHandler(""), `{"endpoint":"start"}`, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status: %d", w.Code)
	}
	if body["code"] != "UNAUTHORIZED" {
		t.Errorf("code: %v", body["code"])
	}
}

func TestProxyForwardsIdentity(t *testing.T) {
	config.AppConfig.JWTSecret = "test-secret"

	var gotUser string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get("X-User-Id")
		json.NewEncoder(w).Encode(remote.Response{Text: "x", State: "INTRO", SessionID: "s1"})
	}))
	defer upstream.Close()

	h := proxyHandler(upstream.URL)

	// No token: the fixed guest identity.
	postProxy(t, h, `{"endpoint":"start"}`, nil)
	if gotUser != GuestUserID {
		t.Errorf("expected guest identity, got %q", gotUser)
	}

	// Valid token: the verified subject.
	token, err := auth.GenerateJWT("alice")
	if err != nil {
		t.Fatal(err)
	}
	postProxy(t, h, `{"endpoint":"start"}`, map[string]string{"Authorization": "Bearer " + token})
	if gotUser != "alice" {
		t.Errorf("expected verified identity, got %q", gotUser)
	}
}

func TestProxyValidatesRequiredFields(t *testing.T) {
	h := proxyHandler("https://n8n.example/webhook")
	cases := []string{
		`{"endpoint":"message"}`,
		`{"endpoint":"message","sessionId":"s1"}`,
		`{"endpoint":"message","content":"hi"}`,
		`{"endpoint":"action","sessionId":"s1"}`,
		`{"endpoint":"action","action":"free_chat"}`,
		`{"endpoint":"session"}`,
	}
	for _, body := range cases {
		w, decoded := postProxy(t, h, body, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d", body, w.Code)
		}
		if decoded["code"] != "INVALID_REQUEST" {
			t.Errorf("%s: code %v", body, decoded["code"])
		}
	}
}

func TestProxyUnknownEndpoint(t *testing.T) {
	w, body := postProxy(t, proxyHandler("https://n8n.example/webhook"), `{"endpoint":"teleport"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", w.Code)
	}
	if body["code"] != "UNKNOWN_ENDPOINT" {
		t.Errorf("code: %v", body["code"])
	}
}

func TestProxyUpstreamErrorShape(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "workflow exploded", http.StatusInternalServerError)
	}))
	defer upstream.Close()

	w, body := postProxy(t, proxyHandler(upstream.URL), `{"endpoint":"message","sessionId":"s1","content":"hi"}`, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status: %d", w.Code)
	}
	if body["code"] != "INTERNAL_ERROR" {
		t.Errorf("code: %v", body["code"])
	}
}

func TestProxyPassesThroughReply(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		json.NewDecoder(r.Body).Decode(&req)
		if req["content"] != "привет" {
			t.Errorf("content not forwarded: %v", req)
		}
		json.NewEncoder(w).Encode(remote.Response{
			Text: "Здравствуйте!", State: "CONSENT", SessionID: "s1",
		})
	}))
	defer upstream.Close()

	w, body := postProxy(t, proxyHandler(upstream.URL), `{"endpoint":"message","sessionId":"s1","content":"привет"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	if body["text"] != "Здравствуйте!" || body["state"] != "CONSENT" {
		t.Errorf("reply not passed through: %v", body)
	}
}
