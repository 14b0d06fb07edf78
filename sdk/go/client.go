package draftclinicsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Draftclinic HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	// Language is sent as Accept-Language and selects the label locale.
	Language   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client for a server root such as http://localhost:8080/v1.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Request is the API request model (partial).
type Request struct {
	ID                 string   `json:"id"`
	ClientID           string   `json:"client_id"`
	ServiceType        string   `json:"service_type"`
	Title              string   `json:"title"`
	Status             string   `json:"status"`
	StatusLabel        string   `json:"status_label"`
	ProgressPercentage int      `json:"progress_percentage"`
	QuoteAmount        *float64 `json:"quote_amount,omitempty"`
	DepositPaid        bool     `json:"deposit_paid"`
	Deadline           *string  `json:"deadline,omitempty"`
	Version            int      `json:"version"`
	CreatedAt          string   `json:"created_at"`
}

// RequestPage wraps request listings with a cursor.
type RequestPage struct {
	Requests   []Request `json:"requests"`
	NextCursor string    `json:"next_cursor"`
}

type Payment struct {
	ID          string  `json:"id"`
	RequestID   string  `json:"request_id"`
	Amount      float64 `json:"amount"`
	Type        string  `json:"payment_type"`
	Status      string  `json:"status"`
	StatusLabel string  `json:"status_label"`
}

// Activity is a timeline entry.
type Activity struct {
	ID          int64          `json:"id"`
	RequestID   string         `json:"request_id"`
	ActorID     string         `json:"actor_id"`
	Action      string         `json:"action_type"`
	ActionLabel string         `json:"action_label"`
	Title       string         `json:"title"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   string         `json:"created_at"`
}

type Token struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// File is an inline attachment; Content is sent base64 encoded.
type File struct {
	Name        string `json:"name"`
	Content     []byte `json:"content"`
	Description string `json:"description,omitempty"`
}

// SubmitInput describes a new request.
type SubmitInput struct {
	ServiceType  string `json:"service_type"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	Deadline     string `json:"deadline,omitempty"`
	UrgencyLevel string `json:"urgency_level,omitempty"`
	Attachments  []File `json:"attachments,omitempty"`
}

// APIError wraps non-2xx responses. Code is taken from the error envelope when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login exchanges credentials for tokens and keeps the access token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (Token, error) {
	var resp Token
	err := c.do(ctx, http.MethodPost, "auth/login", map[string]any{"email": email, "password": password}, &resp)
	if err == nil {
		c.BearerToken = resp.AccessToken
	}
	return resp, err
}

// Submit creates a request.
func (c *Client) Submit(ctx context.Context, in SubmitInput) (Request, error) {
	var resp struct {
		Request Request `json:"request"`
	}
	err := c.do(ctx, http.MethodPost, "requests", in, &resp)
	return resp.Request, err
}

// Requests lists requests visible to the caller, newest first.
func (c *Client) Requests(ctx context.Context, statuses []string, limit int, cursor string) (RequestPage, error) {
	q := url.Values{}
	if len(statuses) > 0 {
		q.Set("status", strings.Join(statuses, ","))
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "requests"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp RequestPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) SendQuote(ctx context.Context, requestID string, amount float64, deposit *float64, message string) (Request, error) {
	body := map[string]any{"quote_amount": amount, "message": message}
	if deposit != nil {
		body["deposit_required"] = *deposit
	}
	var resp Request
	err := c.do(ctx, http.MethodPost, requestPath(requestID, "quote"), body, &resp)
	return resp, err
}

func (c *Client) AcceptQuote(ctx context.Context, requestID string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodPost, requestPath(requestID, "accept-quote"), nil, &resp)
	return resp, err
}

// UpdateStatus moves a request; expectedVersion of 0 skips the version check.
func (c *Client) UpdateStatus(ctx context.Context, requestID, status string, expectedVersion int) (Request, error) {
	body := map[string]any{"status": status}
	if expectedVersion > 0 {
		body["expected_version"] = expectedVersion
	}
	var resp Request
	err := c.do(ctx, http.MethodPatch, requestPath(requestID, "status"), body, &resp)
	return resp, err
}

func (c *Client) SubmitPayment(ctx context.Context, requestID string, amount float64, paymentType, method string) (Payment, error) {
	body := map[string]any{"amount": amount, "payment_type": paymentType, "payment_method": method}
	var resp Payment
	err := c.do(ctx, http.MethodPost, requestPath(requestID, "payments"), body, &resp)
	return resp, err
}

// VerifyPayment approves or rejects a pending payment.
func (c *Client) VerifyPayment(ctx context.Context, paymentID string, approve bool, message string) (Payment, error) {
	action := "reject"
	if approve {
		action = "approve"
	}
	var resp struct {
		Payment Payment `json:"payment"`
	}
	err := c.do(ctx, http.MethodPost, "payments/"+url.PathEscape(paymentID)+"/verify", map[string]any{"action": action, "message": message}, &resp)
	return resp.Payment, err
}

// Activity returns a request's timeline, newest first.
func (c *Client) Activity(ctx context.Context, requestID string, limit int) ([]Activity, error) {
	endpoint := requestPath(requestID, "activity")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Activity
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Language != "" {
		req.Header.Set("Accept-Language", c.Language)
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
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func requestPath(id, p string) string {
	return fmt.Sprintf("requests/%s/%s", url.PathEscape(id), p)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
