// Package remote is the typed client for the n8n workflow orchestrator. The
// shared webhook secret is attached here, server-side only; it never reaches
// a browser. Responses are validated at this boundary so callers never guess
// at payload shapes.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrFallback signals that the orchestrator is not configured or explicitly
// asked the caller to fall back to local execution. The executor demotes on
// it; the user never sees it as an error.
var ErrFallback = errors.New("orchestrator in fallback mode")

// ErrUnavailable wraps transport-level failures (timeouts, 5xx, malformed
// payloads). Like ErrFallback it triggers demotion rather than a user error.
var ErrUnavailable = errors.New("orchestrator unavailable")

// Action is the action vocabulary of the orchestrator contract.
type Action string

const (
	ActionStartSession     Action = "start_session"
	ActionConsentGiven     Action = "consent_given"
	ActionConsentDeclined  Action = "consent_declined"
	ActionJurisdictionSet  Action = "jurisdiction_set"
	ActionDiagnosticAnswer Action = "diagnostic_answer"
	ActionScenarioSelect   Action = "scenario_select"
	ActionScenarioStep     Action = "scenario_step"
	ActionFreeChat         Action = "free_chat"
)

// UIComponent is a rendering directive attached to a response.
type UIComponent struct {
	Type     string                 `json:"type"`
	Text     string                 `json:"text,omitempty"`
	Options  []string               `json:"options,omitempty"`
	Progress int                    `json:"progress,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// Meta carries state the frontend needs to restore a session.
type Meta struct {
	DiagnosticData map[string]string      `json:"diagnosticData,omitempty"`
	ProfileData    map[string]interface{} `json:"profileData,omitempty"`
	Event          *Event                 `json:"event,omitempty"`
}

type Event struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// Response is the orchestrator's reply for every endpoint.
type Response struct {
	Text      string        `json:"text"`
	State     string        `json:"state"`
	SessionID string        `json:"sessionId"`
	Fallback  bool          `json:"fallback,omitempty"`
	UI        []UIComponent `json:"ui,omitempty"`
	Meta      *Meta         `json:"meta,omitempty"`
	Streaming bool          `json:"streaming,omitempty"`
}

// Reply is a validated response. SessionCorrected reports that the
// orchestrator echoed a sentinel placeholder instead of the real session id
// and the locally known id was substituted.
type Reply struct {
	Response
	SessionCorrected bool
}

// Known sentinel placeholders some orchestrator workflows echo back when a
// template variable fails to resolve.
var sessionSentinels = map[string]bool{
	"":              true,
	"unknown":       true,
	"{{sessionId}}": true,
}

type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// NewClient builds an orchestrator client. An empty baseURL is valid and
// means every call returns ErrFallback.
func NewClient(baseURL, secret string) *Client {
	return &Client{
		baseURL: baseURL,
		secret:  secret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Configured reports whether an orchestrator endpoint is set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

// Health probes reachability with a short deadline.
func (c *Client) Health(ctx context.Context) error {
	if !c.Configured() {
		return ErrFallback
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.call(ctx, "health", "system", map[string]interface{}{})
	return err
}

// Start opens a new orchestrator session.
func (c *Client) Start(ctx context.Context, userID, language string) (*Reply, error) {
	resp, err := c.call(ctx, "start", userID, map[string]interface{}{
		"language": language,
	})
	if err != nil {
		return nil, err
	}
	return c.validate(resp, ""), nil
}

// Message forwards a user chat message.
func (c *Client) Message(ctx context.Context, userID, sessionID, content, language string, attachments []map[string]string) (*Reply, error) {
	body := map[string]interface{}{
		"sessionId": sessionID,
		"content":   content,
		"language":  language,
	}
	if len(attachments) > 0 {
		body["attachments"] = attachments
	}
	resp, err := c.call(ctx, "message", userID, body)
	if err != nil {
		return nil, err
	}
	return c.validate(resp, sessionID), nil
}

// Do executes a structured action (consent, diagnostic answer, scenario step).
func (c *Client) Do(ctx context.Context, userID, sessionID string, action Action, language string, payload map[string]interface{}) (*Reply, error) {
	body := map[string]interface{}{
		"sessionId": sessionID,
		"action":    string(action),
		"language":  language,
	}
	if payload != nil {
		body["payload"] = payload
	}
	resp, err := c.call(ctx, "action", userID, body)
	if err != nil {
		return nil, err
	}
	return c.validate(resp, sessionID), nil
}

// Session fetches the remote state snapshot for restoration.
func (c *Client) Session(ctx context.Context, userID, sessionID string) (*Reply, error) {
	resp, err := c.call(ctx, "session", userID, map[string]interface{}{
		"sessionId": sessionID,
	})
	if err != nil {
		return nil, err
	}
	return c.validate(resp, sessionID), nil
}

func (c *Client) call(ctx context.Context, endpoint, userID string, body map[string]interface{}) (*Response, error) {
	if !c.Configured() {
		return nil, ErrFallback
	}

	body["userId"] = userID
	body["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode orchestrator request: %w", err)
	}

	url := fmt.Sprintf("%s/%s", c.baseURL, endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build orchestrator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Secret", c.secret)
	req.Header.Set("X-User-Id", userID)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrUnavailable, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrUnavailable, endpoint, httpResp.StatusCode, truncate(raw))
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: malformed payload: %v", ErrUnavailable, err)
	}

	if resp.Fallback {
		return nil, ErrFallback
	}
	return &resp, nil
}

// validate normalizes the response at the boundary. The known upstream quirk
// of echoing a sentinel session id is corrected here, once, instead of by
// string comparisons scattered across call sites.
func (c *Client) validate(resp *Response, localSessionID string) *Reply {
	reply := &Reply{Response: *resp}
	if sessionSentinels[resp.SessionID] && localSessionID != "" {
		reply.SessionID = localSessionID
		reply.SessionCorrected = true
	}
	return reply
}

func truncate(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
