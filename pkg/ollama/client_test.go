package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeModelJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"trailing comma", `{"a":[1,2,],}`, `{"a":[1,2]}`},
		{"block comment", `{/* note */"a":1}`, `{"a":1}`},
		{"prose around", `Sure! {"a":1} hope that helps`, `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeModelJSON(tt.in))
		})
	}
}

func TestParseSubjectResult(t *testing.T) {
	r := parseSubjectResult(`{"primary":{"label":"cat","confidence":0.9,"box":{"x":0.1,"y":0.2,"w":0.3,"h":0.4}},"description":"a cat"}`)
	assert.True(t, r.Found())
	assert.Equal(t, "cat", r.Primary.Label)
	assert.InDelta(t, 0.3, r.Primary.Box.W, 1e-9)

	for _, raw := range []string{"I cannot see anything", `{"primary": broken}`} {
		r := parseSubjectResult(raw)
		assert.False(t, r.Found(), raw)
		assert.Equal(t, "none", r.Primary.Label)
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	_, err := NewClient("not a url")
	assert.Error(t, err)

	_, err = NewClient("http://localhost:11434/api/chat")
	assert.NoError(t, err)
}

func TestLocateSubjectAgainstServer(t *testing.T) {
	var gotImages int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Messages []struct {
				Images []string `json:"images"`
			} `json:"messages"`
		}
		_ = json.Unmarshal(body, &req)
		if len(req.Messages) > 0 {
			gotImages = len(req.Messages[0].Images)
		}
		reply := map[string]any{
			"model": "test",
			"message": map[string]any{
				"role":    "assistant",
				"content": "```json\n{\"primary\":{\"label\":\"dog\",\"confidence\":0.8,\"box\":{\"x\":0.25,\"y\":0.25,\"w\":0.5,\"h\":0.5}},\"description\":\"a dog\",}\n```",
			},
			"done": true,
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		_ = json.NewEncoder(w).Encode(reply)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	img := base64.StdEncoding.EncodeToString([]byte("fake image bytes"))
	res, err := c.LocateSubject(context.Background(), "test", "find it", img)
	require.NoError(t, err)
	assert.Equal(t, 1, gotImages)
	assert.Equal(t, "dog", res.Primary.Label)
	assert.InDelta(t, 0.5, res.Primary.Box.H, 1e-9)

	_, err = c.LocateSubject(context.Background(), "test", "find it", "%%%")
	assert.Error(t, err)
}
