package portal

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

	"github.com/google/uuid"
)

const maxErrorBody = 4 << 10

// BridgeClient reaches the portal through a bridge service that hosts the
// school-portal client library and exposes login, timetable and logout over
// HTTP.
type BridgeClient struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ Client = (*BridgeClient)(nil)

func NewBridgeClient(baseURL, token string, timeout time.Duration) (*BridgeClient, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, fmt.Errorf("portal bridge url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("portal bridge url: unsupported scheme %q", parsed.Scheme)
	}
	return &BridgeClient{
		baseURL: strings.TrimRight(parsed.String(), "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

type bridgeLoginRequest struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
	CAS      string `json:"cas"`
}

type bridgeLoginResponse struct {
	Session string `json:"session"`
}

type bridgeTimetableRequest struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type bridgeError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *BridgeClient) Login(ctx context.Context, creds Credentials) (Session, error) {
	var resp bridgeLoginResponse
	err := c.do(ctx, http.MethodPost, "/login", bridgeLoginRequest{
		URL:      creds.URL,
		Username: creds.Username,
		Password: creds.Password,
		CAS:      creds.AuthMethod,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	if resp.Session == "" {
		return nil, fmt.Errorf("%w: bridge returned no session", ErrAuthentication)
	}
	return &bridgeSession{client: c, id: resp.Session}, nil
}

type bridgeSession struct {
	client *BridgeClient
	id     string
}

func (s *bridgeSession) Timetable(ctx context.Context, from, to time.Time) ([]Lesson, error) {
	var lessons []Lesson
	err := s.client.do(ctx, http.MethodPost, s.path("/timetable"), bridgeTimetableRequest{
		From: from.UTC(),
		To:   to.UTC(),
	}, &lessons)
	if err != nil {
		return nil, fmt.Errorf("%w: timetable: %w", ErrRemote, err)
	}
	return lessons, nil
}

func (s *bridgeSession) Logout(ctx context.Context) error {
	if err := s.client.do(ctx, http.MethodDelete, s.path(""), nil, nil); err != nil {
		return fmt.Errorf("%w: logout: %w", ErrRemote, err)
	}
	return nil
}

func (s *bridgeSession) path(suffix string) string {
	return "/sessions/" + url.PathEscape(s.id) + suffix
}

func (c *BridgeClient) do(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload bridgeError
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Message != "" {
			return fmt.Errorf("bridge status %d: %s", resp.StatusCode, payload.Message)
		}
		if payload.Error != "" {
			return fmt.Errorf("bridge status %d: %s", resp.StatusCode, payload.Error)
		}
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return fmt.Errorf("bridge status %d", resp.StatusCode)
	}
	return fmt.Errorf("bridge status %d: %s", resp.StatusCode, text)
}
