package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"faculty-status-backend/internal/model"
)

// RemoteClient forwards logins to another deployment's /api/vtop-login.
type RemoteClient struct {
	endpoint string
	client   *http.Client
}

// NewRemoteClient creates a client for baseURL. proxy and timeout are
// optional; a zero timeout means none.
func NewRemoteClient(baseURL, proxy string, timeout time.Duration) *RemoteClient {
	var transport http.RoundTripper = &http.Transport{}
	if proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			log.Printf("Warning: Invalid proxy URL %q: %v. Portal requests will not use a proxy.", proxy, err)
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	return &RemoteClient{
		endpoint: strings.TrimRight(baseURL, "/") + "/api/vtop-login",
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// Login implements Client.
func (c *RemoteClient) Login(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal login request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Message: "Failed to reach VTOP API", Details: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Message: "Failed to read VTOP API response", Details: err.Error(), Err: err}
	}
	if !json.Valid(respBody) {
		return nil, &TransportError{Message: "Invalid response from VTOP API", Details: string(respBody)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: respBody}
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &TransportError{Message: "Invalid response from VTOP API", Details: string(respBody), Err: err}
	}
	if result.Faculty == nil {
		result.Faculty = []model.Faculty{}
	}
	if result.Semesters == nil {
		result.Semesters = []model.Semester{}
	}
	return &result, nil
}
