package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(Config{BaseURL: server.URL + "/", APIKey: "sk-test", Model: "test-model"})
	require.NoError(t, err)
	return client
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	c, err := New(Config{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "https://api.openai.com/v1", c.baseURL)
	assert.Equal(t, "m", c.Model())
}

func TestComplete(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, RoleSystem, req.Messages[0].Role)
		assert.Nil(t, req.ResponseFormat)

		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`)
	})

	out, err := client.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestCompleteJSON(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "plain", content: `{\"artist\":\"Can\",\"title\":\"Vitamin C\"}`},
		{name: "fenced", content: "```json\\n{\\\"artist\\\":\\\"Can\\\",\\\"title\\\":\\\"Vitamin C\\\"}\\n```"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				var req completionRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				require.NotNil(t, req.ResponseFormat)
				assert.Equal(t, "json_object", req.ResponseFormat.Type)
				fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":"%s"}}]}`, tt.content)
			})

			var out struct {
				Artist string `json:"artist"`
				Title  string `json:"title"`
			}
			require.NoError(t, client.CompleteJSON(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, &out))
			assert.Equal(t, "Can", out.Artist)
			assert.Equal(t, "Vitamin C", out.Title)
		})
	}
}

func TestComplete_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantIs   error
		contains string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{}`, wantIs: ErrUnauthorized},
		{name: "server error", status: http.StatusInternalServerError, body: `boom`, contains: "500"},
		{name: "no choices", status: http.StatusOK, body: `{"choices":[]}`, wantIs: ErrEmptyResponse},
		{name: "api error", status: http.StatusOK, body: `{"error":{"message":"quota","type":"insufficient_quota"}}`, contains: "quota"},
		{name: "garbage", status: http.StatusOK, body: `not json`, contains: "parse"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			_, err := client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
			require.Error(t, err)
			if tt.wantIs != nil {
				assert.True(t, errors.Is(err, tt.wantIs))
			}
			if tt.contains != "" {
				assert.Contains(t, err.Error(), tt.contains)
			}
		})
	}
}

func TestStripFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFence("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFence(` {"a":1} `))
}
