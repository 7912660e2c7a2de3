/*
Copyright 2026 Flant JSC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/deckhouse/sds-volume-control/api/v1alpha1"
)

// httpClient talks to the engine node-gateway service over HTTP.
// Endpoints: baseURL + "/v1/apply" and baseURL + "/v1/state/<kind>/<id>".
type httpClient struct {
	httpClient *http.Client
	baseURL    string
}

var _ Engine = (*httpClient)(nil)

// NewClient creates an engine client for the given gateway base URL.
func NewClient(baseURL string, timeout time.Duration) (Engine, error) {
	if baseURL == "" {
		return nil, errors.New("engine gateway URL is not configured")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid engine gateway URL: %w", err)
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &httpClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}, nil
}

// Apply implements Engine.
func (c *httpClient) Apply(ctx context.Context, req Request) (*Fact, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling apply request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/apply", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building apply request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("engine apply %s %s: %w", req.Action, req.Key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("engine apply %s %s: %w", req.Action, req.Key, ErrTargetNotFound)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("engine apply %s %s: unexpected status %d: %s",
			req.Action, req.Key, resp.StatusCode, string(msg))
	}

	var fact Fact
	if err := json.NewDecoder(resp.Body).Decode(&fact); err != nil {
		return nil, fmt.Errorf("decoding apply response: %w", err)
	}
	return &fact, nil
}

// Inspect implements Engine.
func (c *httpClient) Inspect(ctx context.Context, key v1alpha1.ObjectKey) (*Fact, error) {
	u := fmt.Sprintf("%s/v1/state/%s/%s", c.baseURL, url.PathEscape(string(key.Kind)), url.PathEscape(key.ID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building state request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("engine inspect %s: %w", key, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return &Fact{Present: false}, nil
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("engine inspect %s: unexpected status %d: %s",
			key, resp.StatusCode, string(msg))
	}

	var fact Fact
	if err := json.NewDecoder(resp.Body).Decode(&fact); err != nil {
		return nil, fmt.Errorf("decoding state response: %w", err)
	}
	return &fact, nil
}
