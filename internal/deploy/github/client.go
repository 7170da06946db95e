// Copyright 2025 The LUCI Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package github implements release creation and asset upload against the
// GitHub REST API.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"go.chromium.org/luci/common/errors"
)

// DefaultAPI is the public GitHub API endpoint.
const DefaultAPI = "https://api.github.com"

// APIError is returned for non-2xx responses.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: %s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Client creates releases using a token.
type Client struct {
	api  string
	http *http.Client
}

// NewClient returns a client authenticating with the token.
//
// If base is not nil it is used as the underlying transport.
func NewClient(ctx context.Context, api, token string, base *http.Client) *Client {
	if api == "" {
		api = DefaultAPI
	}
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	return &Client{
		api:  strings.TrimRight(api, "/"),
		http: oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})),
	}
}

// Release is a created release.
type Release struct {
	ID        int64  `json:"id"`
	TagName   string `json:"tag_name"`
	HTMLURL   string `json:"html_url"`
	UploadURL string `json:"upload_url"`
}

// Asset is an uploaded release asset.
type Asset struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// CreateRelease creates a release in owner/repo. The body is sent as JSON.
func (c *Client) CreateRelease(ctx context.Context, owner, repo string, body any) (*Release, error) {
	blob, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	u := fmt.Sprintf("%s/repos/%s/%s/releases", c.api, url.PathEscape(owner), url.PathEscape(repo))
	rel := &Release{}
	if err := c.do(ctx, http.MethodPost, u, "application/json", bytes.NewReader(blob), -1, rel); err != nil {
		return nil, err
	}
	if rel.UploadURL == "" {
		return nil, errors.Reason("github: release %d has no upload URL", rel.ID).Err()
	}
	return rel, nil
}

// UploadAsset uploads a file to the upload URL template of a release.
//
// A negative size means unknown.
func (c *Client) UploadAsset(ctx context.Context, uploadURL, name string, body io.Reader, size int64) (*Asset, error) {
	u, err := ExpandUploadURL(uploadURL, name)
	if err != nil {
		return nil, err
	}
	asset := &Asset{}
	if err := c.do(ctx, http.MethodPost, u, "application/octet-stream", body, size, asset); err != nil {
		return nil, err
	}
	return asset, nil
}

// ExpandUploadURL fills the name into an upload URL template such as
// "https://uploads.github.com/repos/o/r/releases/1/assets{?name,label}".
func ExpandUploadURL(tmpl, name string) (string, error) {
	if i := strings.IndexByte(tmpl, '{'); i >= 0 {
		tmpl = tmpl[:i]
	}
	u, err := url.Parse(tmpl)
	if err != nil {
		return "", errors.Annotate(err, "github: bad upload URL %q", tmpl).Err()
	}
	q := u.Query()
	q.Set("name", name)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) do(ctx context.Context, method, u, contentType string, body io.Reader, size int64, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return errors.Annotate(err, "github: building request").Err()
	}
	if size >= 0 {
		req.ContentLength = size
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Annotate(err, "github: %s %s", method, u).Err()
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Annotate(err, "github: reading response of %s %s", method, u).Err()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Method: method, URL: u, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.Annotate(err, "github: decoding response of %s %s", method, u).Err()
	}
	return nil
}
