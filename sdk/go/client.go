package designgatesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Designgate HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Phase is a design phase as sent to the gate.
type Phase struct {
	ID             string `json:"id"`
	Name           string `json:"name,omitempty"`
	Status         string `json:"status"`
	Progress       int    `json:"progress"`
	TotalSteps     int    `json:"total_steps,omitempty"`
	CompletedSteps int    `json:"completed_steps,omitempty"`
}

// GuidanceSource represents a reference document (partial).
type GuidanceSource struct {
	SourceID       string     `json:"source_id"`
	Content        string     `json:"content,omitempty"`
	Filename       string     `json:"filename,omitempty"`
	SourceLocation string     `json:"source_location,omitempty"`
	Updated        *time.Time `json:"updated,omitempty"`
	GuidanceArea   string     `json:"guidance_area,omitempty"`
	DomainContext  string     `json:"domain_context,omitempty"`
}

// Flag is a question flag.
type Flag struct {
	QuestionKey string `json:"question_key,omitempty"`
	Issue       string `json:"issue"`
	Severity    string `json:"severity"`
}

// Policy overrides the server's scoring policy for one request.
type Policy struct {
	Weights       map[string]float64 `json:"weights"`
	PassThreshold float64            `json:"pass_threshold"`
}

// Assessment is the scored result of a set of flags.
type Assessment struct {
	EthicalScore              float64  `json:"ethical_score"`
	ProceedRecommendation     bool     `json:"proceed_recommendation"`
	Summary                   string   `json:"summary"`
	ActionableRecommendations []string `json:"actionable_recommendations"`
	QuestionFlags             []Flag   `json:"question_flags"`
	ThresholdMet              bool     `json:"threshold_met"`
	CanProceed                bool     `json:"can_proceed"`
}

// Acknowledgement records who acknowledged a consideration.
type Acknowledgement struct {
	ID              string `json:"id"`
	ConsiderationID string `json:"consideration_id"`
	ActorID         string `json:"actor_id"`
	Note            string `json:"note,omitempty"`
	AcknowledgedAt  string `json:"acknowledged_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
}

// Unlocked reports whether phases[index] is accessible.
func (c *Client) Unlocked(ctx context.Context, phases []Phase, index int) (bool, error) {
	body := map[string]any{
		"phases": phases,
		"index":  index,
	}
	var resp struct {
		Unlocked bool `json:"unlocked"`
	}
	err := c.do(ctx, http.MethodPost, "phases/unlocked", body, &resp)
	return resp.Unlocked, err
}

// Resolve returns guidance for a question key. A nil pool uses the server pool.
func (c *Client) Resolve(ctx context.Context, questionKey, domainContext string, pool []GuidanceSource) ([]GuidanceSource, error) {
	body := map[string]any{
		"question_key":   questionKey,
		"domain_context": domainContext,
	}
	if pool != nil {
		body["pool"] = pool
	}
	var resp struct {
		Sources []GuidanceSource `json:"sources"`
	}
	err := c.do(ctx, http.MethodPost, "guidance/resolve", body, &resp)
	return resp.Sources, err
}

// Assess scores flags. A nil policy uses the server policy.
func (c *Client) Assess(ctx context.Context, flags []Flag, policy *Policy) (Assessment, error) {
	if flags == nil {
		flags = []Flag{}
	}
	body := map[string]any{"flags": flags}
	if policy != nil {
		body["policy"] = policy
	}
	var resp Assessment
	err := c.do(ctx, http.MethodPost, "assessments", body, &resp)
	return resp, err
}

// Acknowledge marks a consideration acknowledged by the token's subject.
func (c *Client) Acknowledge(ctx context.Context, considerationID, note string) (Acknowledgement, error) {
	var resp Acknowledgement
	endpoint := fmt.Sprintf("considerations/%s/ack", url.PathEscape(considerationID))
	err := c.do(ctx, http.MethodPut, endpoint, map[string]any{"note": note}, &resp)
	return resp, err
}

// Unacknowledge withdraws an acknowledgement.
func (c *Client) Unacknowledge(ctx context.Context, considerationID string) error {
	endpoint := fmt.Sprintf("considerations/%s/ack", url.PathEscape(considerationID))
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// ListAcknowledgements lists every acknowledgement.
func (c *Client) ListAcknowledgements(ctx context.Context) ([]Acknowledgement, error) {
	var resp struct {
		Items []Acknowledgement `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "considerations/acks", nil, &resp)
	return resp.Items, err
}

// Events returns the newest events first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
