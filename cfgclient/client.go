// Package cfgclient is the typed HTTP client for the configuration service.
// Every request carries the validator's bearer token and hotkey; versioned
// endpoints get a ?ver query parameter.
package cfgclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"github.com/asiatensor/soulx-validator/core"
)

// Client wraps the config-service REST API.
type Client struct {
	baseURL string
	token   string
	hotkey  string
	http    *http.Client
	log     log.Logger

	taskConfigs *taskConfigCache
	system      *systemCache
}

// New builds a client for the service at baseURL.
func New(baseURL, token, hotkey string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("config server URL is empty")
	}
	cache, err := newTaskConfigCache()
	if err != nil {
		return nil, fmt.Errorf("failed to build task-config cache: %w", err)
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		hotkey:      hotkey,
		http:        &http.Client{Timeout: core.ConfigCallTimeout},
		log:         log.New("module", "cfgclient"),
		taskConfigs: cache,
		system:      newSystemCache(),
	}, nil
}

// do performs one request and decodes the JSON response into out (if out is
// non-nil). Non-2xx statuses are returned as errors carrying the body.
func (c *Client) do(ctx context.Context, method, path string, versioned bool, body, out interface{}) error {
	u := c.baseURL + path
	if versioned {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		u += sep + "ver=" + url.QueryEscape(core.APIVersion)
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Hotkey", c.hotkey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("config service request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return fmt.Errorf("failed to read config service response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("config service %s %s returned %d: %s", method, path, resp.StatusCode, truncate(data, 256))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode config service response: %w", err)
		}
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
