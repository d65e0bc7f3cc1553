// Package gatherly provides the Go client SDK for the Gatherly events API.
//
// It covers the REST gateway (events, membership, auth), an offline-tolerant
// synchronization core with a durable action outbox, and per-room live chat.
//
// Example:
//
//	store := gatherly.NewMemoryStore()
//	client := gatherly.NewClient(store, gatherly.WithBaseURL("https://api.example.com/api/v1"))
//	_ = client.Login(ctx, "me@example.com", "secret")
//
//	core := gatherly.NewSyncCore(store, gatherly.NewStaticProbe(true), client)
//	defer core.Close()
//	_ = core.FetchEvents(ctx)
//
//	chat := client.NewChatManager()
//	defer chat.Close()
//	token, _ := gatherly.LoadCredential(ctx, store)
//	_ = chat.Connect(ctx, 42, token)
package gatherly

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "http://localhost:8000/api/v1"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

// Client is the typed REST gateway. The bearer token is read from the store
// on every request, so a Login or a purge takes effect immediately.
type Client struct {
	baseURL    string
	store      SecureStore
	httpClient *http.Client
	logger     *slog.Logger
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a gateway that reads and purges credentials in store.
func NewClient(store SecureStore, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		store:   store,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: discardLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the REST base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// Internal request helper
// ============================================================================

type requestBody struct {
	contentType string
	reader      io.Reader
}

func jsonBody(v any) (*requestBody, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return &requestBody{contentType: "application/json", reader: bytes.NewReader(b)}, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body *requestBody) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = body.reader
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", body.contentType)
	}
	req.Header.Set("Accept", "application/json")
	if token, err := c.store.Get(ctx, KeyAccessToken); err == nil && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Detail json.RawMessage `json:"detail"`
		}
		if json.Unmarshal(data, &envelope) == nil && len(envelope.Detail) > 0 {
			apiErr.Detail = envelope.Detail
		}
		c.logger.Debug("request rejected", "method", method, "path", path, "status", resp.StatusCode)

		if resp.StatusCode == http.StatusUnauthorized {
			c.purgeSession(ctx)
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, apiErr)
		}
		return nil, apiErr
	}
	return data, nil
}

// purgeSession drops the credential and cached profile after a 401.
func (c *Client) purgeSession(ctx context.Context) {
	for _, key := range []string{KeyAccessToken, KeyUser} {
		if err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn("failed to purge session key", "key", key, "err", err)
		}
	}
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

// ============================================================================
// Events API
// ============================================================================

// ListEvents returns GET /events/ in server order.
func (c *Client) ListEvents(ctx context.Context) ([]Event, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/events/", nil)
	if err != nil {
		return nil, err
	}
	events, err := decodeJSON[[]Event](data)
	if err != nil {
		return nil, err
	}
	return *events, nil
}

// CreateEvent posts a draft and returns the created event.
func (c *Client) CreateEvent(ctx context.Context, draft EventDraft) (*Event, error) {
	body, err := jsonBody(draft)
	if err != nil {
		return nil, err
	}
	data, err := c.doRequest(ctx, http.MethodPost, "/events/", body)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Event](data)
}

func (c *Client) JoinEvent(ctx context.Context, eventID int64) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/events/"+strconv.FormatInt(eventID, 10)+"/join", nil)
	return err
}

func (c *Client) LeaveEvent(ctx context.Context, eventID int64) error {
	_, err := c.doRequest(ctx, http.MethodPost, "/events/"+strconv.FormatInt(eventID, 10)+"/leave", nil)
	return err
}

// ============================================================================
// Auth API
// ============================================================================

// Login exchanges credentials for an access token, then stores the token and
// the user's profile.
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("username", email)
	_ = w.WriteField("password", password)
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to build login form: %w", err)
	}

	data, err := c.doRequest(ctx, http.MethodPost, "/login/access-token", &requestBody{
		contentType: w.FormDataContentType(),
		reader:      &buf,
	})
	if err != nil {
		return nil, err
	}
	tok, err := decodeJSON[TokenResponse](data)
	if err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, errors.New("login response carried no access token")
	}
	if err := c.store.Set(ctx, KeyAccessToken, tok.AccessToken); err != nil {
		return nil, fmt.Errorf("failed to store access token: %w", err)
	}

	user, err := c.Me(ctx)
	if err != nil {
		return nil, err
	}
	profile, err := json.Marshal(user)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal profile: %w", err)
	}
	if err := c.store.Set(ctx, KeyUser, string(profile)); err != nil {
		return nil, fmt.Errorf("failed to store profile: %w", err)
	}
	return user, nil
}

// Register creates an account and signs in with it.
func (c *Client) Register(ctx context.Context, opts RegisterOptions) (*User, error) {
	body, err := jsonBody(opts)
	if err != nil {
		return nil, err
	}
	if _, err := c.doRequest(ctx, http.MethodPost, "/users/", body); err != nil {
		return nil, err
	}
	return c.Login(ctx, opts.Email, opts.Password)
}

// Me returns GET /users/me.
func (c *Client) Me(ctx context.Context) (*User, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/users/me", nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[User](data)
}

// Logout forgets the stored credential and profile.
func (c *Client) Logout(ctx context.Context) error {
	for _, key := range []string{KeyAccessToken, KeyUser} {
		if err := c.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to delete %s: %w", key, err)
		}
	}
	return nil
}

// LoadCredential returns the stored access token, or "" when there is none.
func LoadCredential(ctx context.Context, store SecureStore) (string, error) {
	token, err := store.Get(ctx, KeyAccessToken)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return token, err
}

// LoadSession returns the stored token and profile. A missing or unreadable
// profile yields a nil user.
func LoadSession(ctx context.Context, store SecureStore) (string, *User, error) {
	token, err := LoadCredential(ctx, store)
	if err != nil || token == "" {
		return "", nil, err
	}
	raw, err := store.Get(ctx, KeyUser)
	if err != nil {
		return token, nil, nil
	}
	var user User
	if json.Unmarshal([]byte(raw), &user) != nil {
		return token, nil, nil
	}
	return token, &user, nil
}

// ============================================================================
// Realtime
// ============================================================================

// ChatURL returns the websocket URL for a room.
func (c *Client) ChatURL(roomID int64, token string) string {
	return chatURL(c.baseURL, roomID, token)
}

// NewChatManager creates a chat manager sharing this client's base URL and
// HTTP client. Call Connect to open a room.
func (c *Client) NewChatManager(opts ...ChatOption) *ChatManager {
	// The websocket dialer rejects clients with a Timeout; dials are bounded
	// by WithDialTimeout instead.
	hc := *c.httpClient
	hc.Timeout = 0
	all := append([]ChatOption{WithChatHTTPClient(&hc), WithChatLogger(c.logger)}, opts...)
	return NewChatManager(c.baseURL, all...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
