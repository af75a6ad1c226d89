package streetrunsdk

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

// Client is a minimal Streetrun mission API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

type Rewards struct {
	Credits    int64        `json:"credits"`
	StreetCred int64        `json:"street_cred"`
	Items      []RewardItem `json:"items,omitempty"`
}

type RewardItem struct {
	Kind     string `json:"kind"`
	ID       string `json:"id"`
	Quantity int64  `json:"quantity"`
}

type Mission struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	Description     string  `json:"description,omitempty"`
	DurationSeconds int64   `json:"durationSeconds"`
	Rewards         Rewards `json:"rewards"`
}

// StartResult is returned by StartMission.
type StartResult struct {
	Message   string    `json:"message"`
	MissionID int64     `json:"missionId"`
	EndsAt    time.Time `json:"endsAt"`
}

// SettleResult carries the rewards and the balances after crediting them.
type SettleResult struct {
	Message     string    `json:"message"`
	MissionID   int64     `json:"missionId"`
	MissionName string    `json:"missionName"`
	Rewards     Rewards   `json:"rewards"`
	Currency    int64     `json:"currency"`
	Reputation  int64     `json:"reputation"`
	SettledAt   time.Time `json:"settledAt"`
}

type ActiveMission struct {
	MissionID        int64     `json:"missionId"`
	MissionName      string    `json:"missionName,omitempty"`
	StartedAt        time.Time `json:"startedAt"`
	EndsAt           time.Time `json:"endsAt"`
	RemainingSeconds int64     `json:"remainingSeconds"`
}

type Me struct {
	CharacterID          string         `json:"characterId"`
	Name                 string         `json:"name"`
	Currency             int64          `json:"currency"`
	Reputation           int64          `json:"reputation"`
	LastMissionStartedAt *time.Time     `json:"lastMissionStartedAt,omitempty"`
	ActiveMission        *ActiveMission `json:"activeMission,omitempty"`
}

type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts"`
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

// APIError wraps non-2xx responses. Message and Code are decoded from the
// error envelope when the body carries one.
type APIError struct {
	StatusCode        int
	Code              string
	Message           string
	RetryAfterSeconds int64
	RemainingSeconds  int64
	Body              string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Missions lists the missions the caller may start.
func (c *Client) Missions(ctx context.Context) ([]Mission, error) {
	var resp struct {
		Missions []Mission `json:"missions"`
	}
	err := c.do(ctx, http.MethodGet, "missions", nil, &resp)
	return resp.Missions, err
}

// StartMission starts missionID for the authenticated character.
func (c *Client) StartMission(ctx context.Context, missionID int64) (StartResult, error) {
	var resp StartResult
	err := c.do(ctx, http.MethodPost, "start-mission", map[string]any{"missionId": missionID}, &resp)
	return resp, err
}

// SettleMission collects the rewards of a finished mission.
func (c *Client) SettleMission(ctx context.Context) (SettleResult, error) {
	var resp SettleResult
	err := c.do(ctx, http.MethodPost, "settle-mission", nil, &resp)
	return resp, err
}

func (c *Client) Me(ctx context.Context) (Me, error) {
	var resp Me
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := "me/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Events []Event `json:"events"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Events, err
}

// DevLogin mints a token on servers running with dev login enabled and
// stores it on the client.
func (c *Client) DevLogin(ctx context.Context, subject string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "auth/dev/login", map[string]any{"subject": subject}, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var reader io.Reader = http.NoBody
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var env struct {
		Error             string `json:"error"`
		Code              string `json:"code"`
		RetryAfterSeconds int64  `json:"retry_after_seconds"`
		RemainingSeconds  int64  `json:"remaining_seconds"`
	}
	if json.Unmarshal(b, &env) == nil {
		apiErr.Message = env.Error
		apiErr.Code = env.Code
		apiErr.RetryAfterSeconds = env.RetryAfterSeconds
		apiErr.RemainingSeconds = env.RemainingSeconds
	}
	if apiErr.RetryAfterSeconds == 0 {
		if v, err := strconv.ParseInt(resp.Header.Get("Retry-After"), 10, 64); err == nil {
			apiErr.RetryAfterSeconds = v
		}
	}
	return apiErr
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
