package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// envelope mirrors the API response body (platform net/http Envelope)
type envelope struct {
	StatusCode int             `json:"status_code"`
	Status     string          `json:"status"`
	Code       string          `json:"code,omitempty"`
	Error      string          `json:"error,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// postJSON posts in to path under the API base and returns the envelope data
func postJSON(ctx context.Context, path string, in any) (json.RawMessage, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(apiBase, "/") + "/api/v1" + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("bad response from %s (%s): %w", url, resp.Status, err)
	}
	if resp.StatusCode >= 400 || env.Error != "" {
		if env.Error != "" {
			return nil, fmt.Errorf("%s: %s", env.Code, env.Error)
		}
		return nil, fmt.Errorf("%s returned %s", url, resp.Status)
	}
	return env.Data, nil
}

// printData pretty prints envelope data to stdout
func printData(data json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return err
	}
	fmt.Println(buf.String())
	return nil
}
