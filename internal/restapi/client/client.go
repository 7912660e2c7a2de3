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

// Package client is the REST API client used by the CSI controller. It is
// constructed explicitly with the API endpoint; nothing is initialized
// lazily, so a misconfigured endpoint fails at startup rather than on the
// first volume request.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/deckhouse/sds-volume-control/api/v1alpha1"
	"github.com/deckhouse/sds-volume-control/internal/restapi"
)

// Client calls the control plane's volume endpoints.
type Client interface {
	GetVolume(ctx context.Context, id v1alpha1.VolumeID) (*v1alpha1.VolumeSpec, error)
	ListVolumes(ctx context.Context) ([]*v1alpha1.VolumeSpec, error)
	CreateVolume(ctx context.Context, req *v1alpha1.CreateVolume) (*v1alpha1.VolumeSpec, error)
	DestroyVolume(ctx context.Context, id v1alpha1.VolumeID) error
	PublishVolume(ctx context.Context, id v1alpha1.VolumeID, node v1alpha1.NodeID, protocol *v1alpha1.ShareProtocol) (*v1alpha1.VolumeSpec, error)
	UnpublishVolume(ctx context.Context, id v1alpha1.VolumeID) (*v1alpha1.VolumeSpec, error)
	SetVolumeReplicaCount(ctx context.Context, id v1alpha1.VolumeID, count uint8) (*v1alpha1.VolumeSpec, error)
}

type httpClient struct {
	httpClient *http.Client
	baseURL    string
}

var _ Client = (*httpClient)(nil)

// NewClient creates a REST API client for the given base URL.
func NewClient(baseURL string, timeout time.Duration) (Client, error) {
	if baseURL == "" {
		return nil, errors.New("REST API URL is not configured")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid REST API URL: %w", err)
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &httpClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}, nil
}

// do performs one request. A non-2xx response is decoded into the control
// plane's error taxonomy via restapi.ErrorOf.
func (c *httpClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb restapi.ErrorBody
		if decErr := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&eb); decErr != nil || eb.Message == "" {
			eb.Message = fmt.Sprintf("%s %s: status %d", method, path, resp.StatusCode)
		}
		return restapi.ErrorOf(resp.StatusCode, eb.Message)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response of %s %s: %w", method, path, err)
	}
	return nil
}

func (c *httpClient) GetVolume(ctx context.Context, id v1alpha1.VolumeID) (*v1alpha1.VolumeSpec, error) {
	out := &v1alpha1.VolumeSpec{}
	if err := c.do(ctx, http.MethodGet, "/v0/volumes/"+url.PathEscape(string(id)), nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *httpClient) ListVolumes(ctx context.Context) ([]*v1alpha1.VolumeSpec, error) {
	var out []*v1alpha1.VolumeSpec
	if err := c.do(ctx, http.MethodGet, "/v0/volumes", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *httpClient) CreateVolume(ctx context.Context, req *v1alpha1.CreateVolume) (*v1alpha1.VolumeSpec, error) {
	out := &v1alpha1.VolumeSpec{}
	if err := c.do(ctx, http.MethodPut, "/v0/volumes/"+url.PathEscape(string(req.UUID)), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *httpClient) DestroyVolume(ctx context.Context, id v1alpha1.VolumeID) error {
	return c.do(ctx, http.MethodDelete, "/v0/volumes/"+url.PathEscape(string(id)), nil, nil)
}

func (c *httpClient) PublishVolume(ctx context.Context, id v1alpha1.VolumeID, node v1alpha1.NodeID, protocol *v1alpha1.ShareProtocol) (*v1alpha1.VolumeSpec, error) {
	out := &v1alpha1.VolumeSpec{}
	body := restapi.PublishRequest{Node: node, Protocol: protocol}
	if err := c.do(ctx, http.MethodPut, "/v0/volumes/"+url.PathEscape(string(id))+"/target", body, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *httpClient) UnpublishVolume(ctx context.Context, id v1alpha1.VolumeID) (*v1alpha1.VolumeSpec, error) {
	out := &v1alpha1.VolumeSpec{}
	if err := c.do(ctx, http.MethodDelete, "/v0/volumes/"+url.PathEscape(string(id))+"/target", nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *httpClient) SetVolumeReplicaCount(ctx context.Context, id v1alpha1.VolumeID, count uint8) (*v1alpha1.VolumeSpec, error) {
	out := &v1alpha1.VolumeSpec{}
	path := "/v0/volumes/" + url.PathEscape(string(id)) + "/replica_count/" + strconv.Itoa(int(count))
	if err := c.do(ctx, http.MethodPut, path, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}
