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

// Package redmine implements the parts of the Redmine REST API needed to
// publish files of a project.
package redmine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.chromium.org/luci/common/errors"
)

// APIError is returned for non-2xx responses.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("redmine: %s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Client talks to a Redmine server using basic authentication.
type Client struct {
	baseURL  string
	user     string
	password string
	http     *http.Client
}

// NewClient returns a client of the Redmine server at baseURL.
//
// A nil http.Client means http.DefaultClient.
func NewClient(baseURL, user, password string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		user:     user,
		password: password,
		http:     hc,
	}
}

// File is an entry of a project's files section.
type File struct {
	ID       int    `json:"id"`
	Filename string `json:"filename"`
	Filesize int64  `json:"filesize"`
}

// Version is a project version.
type Version struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// NewFile attaches an uploaded blob to a project.
type NewFile struct {
	Token       string `json:"token"`
	Filename    string `json:"filename"`
	VersionID   int    `json:"version_id,omitempty"`
	Description string `json:"description,omitempty"`
}

func projectPath(project, rest string) string {
	return "/projects/" + url.PathEscape(project) + rest
}

// Files lists files of the project.
func (c *Client) Files(ctx context.Context, project string) ([]File, error) {
	var resp struct {
		Files []File `json:"files"`
	}
	if err := c.do(ctx, http.MethodGet, projectPath(project, "/files.json"), "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// FileExists is true if the project already has a file with this name.
func (c *Client) FileExists(ctx context.Context, project, filename string) (bool, error) {
	files, err := c.Files(ctx, project)
	if err != nil {
		return false, err
	}
	for _, f := range files {
		if f.Filename == filename {
			return true, nil
		}
	}
	return false, nil
}

// Versions lists versions of the project.
func (c *Client) Versions(ctx context.Context, project string) ([]Version, error) {
	var resp struct {
		Versions []Version `json:"versions"`
	}
	if err := c.do(ctx, http.MethodGet, projectPath(project, "/versions.json"), "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Versions, nil
}

// VersionID resolves a version name.
func (c *Client) VersionID(ctx context.Context, project, name string) (int, error) {
	versions, err := c.Versions(ctx, project)
	if err != nil {
		return 0, err
	}
	for _, v := range versions {
		if v.Name == name {
			return v.ID, nil
		}
	}
	return 0, errors.Reason("redmine: project %q has no version %q", project, name).Err()
}

// Upload sends a blob and returns the token to attach it with.
func (c *Client) Upload(ctx context.Context, body io.Reader) (string, error) {
	var resp struct {
		Upload struct {
			Token string `json:"token"`
		} `json:"upload"`
	}
	if err := c.do(ctx, http.MethodPost, "/uploads.json", "application/octet-stream", body, &resp); err != nil {
		return "", err
	}
	if resp.Upload.Token == "" {
		return "", errors.Reason("redmine: upload returned no token").Err()
	}
	return resp.Upload.Token, nil
}

// AttachFile adds an uploaded blob to the project's files.
func (c *Client) AttachFile(ctx context.Context, project string, f NewFile) error {
	blob, err := json.Marshal(map[string]NewFile{"file": f})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, projectPath(project, "/files.json"), "application/json", bytes.NewReader(blob), nil)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return errors.Annotate(err, "redmine: building request").Err()
	}
	req.SetBasicAuth(c.user, c.password)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Annotate(err, "redmine: %s %s", method, u).Err()
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Annotate(err, "redmine: reading response of %s %s", method, u).Err()
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Method: method, URL: u, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.Annotate(err, "redmine: decoding response of %s %s", method, u).Err()
	}
	return nil
}
