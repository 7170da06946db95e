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

package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.chromium.org/luci/common/errors"
	"go.chromium.org/luci/common/testing/ftt"
	"go.chromium.org/luci/common/testing/truth/assert"
	"go.chromium.org/luci/common/testing/truth/should"
)

func TestClient(t *testing.T) {
	t.Parallel()

	ftt.Run("With a fake GitHub", t, func(t *ftt.Test) {
		ctx := context.Background()
		var srv *httptest.Server
		var created map[string]any
		var assets []string
		srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer t0k3n" {
				w.WriteHeader(http.StatusUnauthorized)
				io.WriteString(w, `{"message": "Bad credentials"}`)
				return
			}
			switch {
			case r.Method == "POST" && r.URL.Path == "/repos/acme/tools/releases":
				json.NewDecoder(r.Body).Decode(&created)
				w.WriteHeader(http.StatusCreated)
				fmt.Fprintf(w, `{"id": 7, "tag_name": "v1", "upload_url": "%s/uploads/7/assets{?name,label}"}`, srv.URL)
			case r.Method == "POST" && r.URL.Path == "/uploads/7/assets":
				body, _ := io.ReadAll(r.Body)
				assets = append(assets, r.URL.Query().Get("name")+"="+string(body))
				w.WriteHeader(http.StatusCreated)
				fmt.Fprintf(w, `{"id": 1, "name": %q}`, r.URL.Query().Get("name"))
			default:
				w.WriteHeader(http.StatusUnprocessableEntity)
				io.WriteString(w, `{"message": "Validation Failed"}`)
			}
		}))
		defer srv.Close()
		c := NewClient(ctx, srv.URL, "t0k3n", srv.Client())

		t.Run("Create release and upload", func(t *ftt.Test) {
			rel, err := c.CreateRelease(ctx, "acme", "tools", map[string]any{"tag_name": "v1", "draft": true})
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, rel.ID, should.Equal(int64(7)))
			assert.Loosely(t, created, should.Match(map[string]any{"tag_name": "v1", "draft": true}))

			a, err := c.UploadAsset(ctx, rel.UploadURL, "app 1.zip", strings.NewReader("data"), 4)
			assert.Loosely(t, err, should.BeNil)
			assert.Loosely(t, a.Name, should.Equal("app 1.zip"))
			assert.Loosely(t, assets, should.Match([]string{"app 1.zip=data"}))
		})

		t.Run("Failures", func(t *ftt.Test) {
			_, err := c.CreateRelease(ctx, "acme", "other", map[string]any{})
			var apiErr *APIError
			assert.Loosely(t, errors.As(err, &apiErr), should.BeTrue)
			assert.Loosely(t, apiErr.StatusCode, should.Equal(http.StatusUnprocessableEntity))

			bad := NewClient(ctx, srv.URL, "nope", srv.Client())
			_, err = bad.CreateRelease(ctx, "acme", "tools", map[string]any{})
			assert.Loosely(t, err, should.ErrLike("HTTP 401"))
		})
	})
}

func TestExpandUploadURL(t *testing.T) {
	t.Parallel()

	ftt.Run("ExpandUploadURL", t, func(t *ftt.Test) {
		u, err := ExpandUploadURL("https://uploads.github.com/repos/o/r/releases/1/assets{?name,label}", "a b.zip")
		assert.Loosely(t, err, should.BeNil)
		assert.Loosely(t, u, should.Equal("https://uploads.github.com/repos/o/r/releases/1/assets?name=a+b.zip"))
	})
}
