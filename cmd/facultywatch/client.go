package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"faculty-status-backend/internal/board"
	"faculty-status-backend/internal/model"
)

// apiError is a non-2xx answer from facultyd.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server answered %d", e.StatusCode)
	}
	return fmt.Sprintf("server answered %d: %s", e.StatusCode, e.Message)
}

// apiClient talks to the facultyd HTTP and WebSocket endpoints.
type apiClient struct {
	baseURL string
	http    *http.Client
	dialer  *websocket.Dialer
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    http.DefaultClient,
		dialer:  websocket.DefaultDialer,
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return &apiError{StatusCode: resp.StatusCode, Message: payload.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

func (c *apiClient) faculty(ctx context.Context, query url.Values) (board.Page, error) {
	var page board.Page
	err := c.do(ctx, http.MethodGet, "/api/faculty?"+query.Encode(), nil, &page)
	return page, err
}

func (c *apiClient) createSession(ctx context.Context) (string, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/sessions", nil, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

func (c *apiClient) deleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(id), nil, nil)
}

func (c *apiClient) putFaculty(ctx context.Context, id string, faculty []model.Faculty) error {
	body := map[string]any{"faculty": faculty}
	return c.do(ctx, http.MethodPut, "/api/sessions/"+url.PathEscape(id)+"/faculty", body, nil)
}

func (c *apiClient) subscribe(ctx context.Context, id, cabinID string) error {
	body := map[string]string{"cabinId": cabinID}
	return c.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(id)+"/subscriptions", body, nil)
}

func (c *apiClient) stream(ctx context.Context, id string) (*websocket.Conn, error) {
	u, err := url.Parse(c.baseURL + "/ws/sessions/" + url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	return conn, nil
}
