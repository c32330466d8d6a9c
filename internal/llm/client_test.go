package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGroqTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *GroqClient) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewGroqClientWithConfig(GroqConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "test-model",
		Timeout: 5 * time.Second,
	})
	return srv, client
}

func TestGroqCompleteWithSystem(t *testing.T) {
	var gotReq chatRequest
	_, client := newGroqTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": "  hello there  "}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})

	out, err := client.CompleteWithSystem(context.Background(), "be brief", "hi")
	require.NoError(t, err)
	assert.Equal(t, "hello there", out, "completion must be trimmed")

	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, "be brief", gotReq.Messages[0].Content)
	assert.Equal(t, "user", gotReq.Messages[1].Role)
}

func TestGroqCompleteMessagesOrder(t *testing.T) {
	var gotReq chatRequest
	_, client := newGroqTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "ok"}},
			},
		})
	})

	msgs := []Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "second"},
		{Role: "user", Content: "third"},
	}
	_, err := client.CompleteMessages(context.Background(), "", msgs)
	require.NoError(t, err)

	require.Len(t, gotReq.Messages, 3)
	assert.Equal(t, "first", gotReq.Messages[0].Content)
	assert.Equal(t, "third", gotReq.Messages[2].Content)
}

func TestGroqRetriesOn429(t *testing.T) {
	calls := 0
	_, client := newGroqTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "recovered"}},
			},
		})
	})

	out, err := client.Complete(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Equal(t, 2, calls)
}

func TestGroqErrorsOnBadStatus(t *testing.T) {
	_, client := newGroqTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.Complete(context.Background(), "hi")
	assert.Error(t, err)
}

func TestGroqNoAPIKey(t *testing.T) {
	client := NewGroqClient("")
	_, err := client.Complete(context.Background(), "hi")
	assert.Error(t, err)
}

func TestAnthropicCompleteWithSystem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "stay in character", req.System)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]string{
				{"type": "text", "text": "part one "},
				{"type": "text", "text": "part two"},
			},
		})
	}))
	defer srv.Close()

	client := NewAnthropicClientWithConfig(AnthropicConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "test-model",
		Timeout: 5 * time.Second,
	})

	out, err := client.CompleteWithSystem(context.Background(), "stay in character", "hello")
	require.NoError(t, err)
	assert.Equal(t, "part one part two", out)
}

func TestExtractJSON(t *testing.T) {
	type payload struct {
		Workflow string `json:"workflow"`
	}

	cases := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"raw", `{"workflow":"audio"}`, "audio", true},
		{"fenced", "```json\n{\"workflow\":\"conversation\"}\n```", "conversation", true},
		{"fenced no lang", "```\n{\"workflow\":\"audio\"}\n```", "audio", true},
		{"embedded", `Sure! Here you go: {"workflow":"info_point"} hope that helps`, "info_point", true},
		{"none", "NO_SEARCH_NEEDED", "", false},
		{"malformed", `{"workflow":`, "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var p payload
			err := ExtractJSON(tc.input, &p)
			if !tc.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, p.Workflow)
		})
	}
}

func TestNewFromConfig(t *testing.T) {
	_, err := NewFromConfig(testLLMConfig("", "groq"))
	assert.Error(t, err, "missing key must fail")

	c, err := NewFromConfig(testLLMConfig("k", "groq"))
	require.NoError(t, err)
	assert.IsType(t, &GroqClient{}, c)

	c, err = NewFromConfig(testLLMConfig("k", "anthropic"))
	require.NoError(t, err)
	assert.IsType(t, &AnthropicClient{}, c)

	_, err = NewFromConfig(testLLMConfig("k", "mystery"))
	assert.Error(t, err)
}
