package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// apiClient is a thin HTTP client against the siteslot API.
type apiClient struct {
	baseURL     string
	actorID     string
	writeToken  string
	correlation string
	httpClient  *http.Client
}

func newAPIClient(baseURL, actorID, writeToken string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		actorID: actorID,
		// One correlation token per invocation, so a retried command is
		// deduplicated server-side.
		correlation: uuid.NewString(),
		writeToken:  writeToken,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

type apiError struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// do sends a request and decodes the JSON response into out when non-nil.
func (c *apiClient) do(method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.actorID != "" {
		req.Header.Set("X-Siteslot-Actor", c.actorID)
	}
	if c.writeToken != "" {
		req.Header.Set("X-Siteslot-Write-Token", c.writeToken)
	}
	if method != http.MethodGet {
		req.Header.Set("X-Siteslot-Correlation", c.correlation)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Message == "" {
			return fmt.Errorf("server returned %s", resp.Status)
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
