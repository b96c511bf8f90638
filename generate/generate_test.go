package generate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGenerator(t *testing.T, handler http.HandlerFunc) *OllamaGenerator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOllamaGenerator(Config{BaseURL: srv.URL}, nil)
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)

		var req struct {
			Model   string         `json:"model"`
			Prompt  string         `json:"prompt"`
			Stream  bool           `json:"stream"`
			Options map[string]any `json:"options"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "mistral", req.Model)
		assert.False(t, req.Stream)
		assert.InDelta(t, 0.1, req.Options["temperature"].(float64), 1e-9)

		// The prompt embeds both the context block and the question.
		assert.Contains(t, req.Prompt, "Шрифт должен быть Times New Roman.")
		assert.Contains(t, req.Prompt, "Какой шрифт использовать?")

		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"response": "Times New Roman, 14 пт.",
			"done":     true,
		})
	})

	answer, err := g.Generate(context.Background(), "Шрифт должен быть Times New Roman.", "Какой шрифт использовать?")
	require.NoError(t, err)
	assert.Equal(t, "Times New Roman, 14 пт.", answer)
}

func TestGenerateStream(t *testing.T) {
	t.Parallel()

	g := newTestGenerator(t, func(w http.ResponseWriter, _ *http.Request) {
		for _, fragment := range []string{"Times ", "New ", "Roman"} {
			fmt.Fprintf(w, `{"response":%q,"done":false}`+"\n", fragment)
		}
		fmt.Fprintln(w, `{"response":"","done":true}`)
	})

	var got strings.Builder
	err := g.GenerateStream(context.Background(), "контекст", "вопрос", func(fragment string) error {
		got.WriteString(fragment)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Times New Roman", got.String())
}

func TestGenerateStream_CallbackAborts(t *testing.T) {
	t.Parallel()

	g := newTestGenerator(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"response":"первый","done":false}`)
		fmt.Fprintln(w, `{"response":"второй","done":false}`)
	})

	calls := 0
	err := g.GenerateStream(context.Background(), "контекст", "вопрос", func(string) error {
		calls++
		return fmt.Errorf("stop after first fragment")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestGenerate_ServiceError(t *testing.T) {
	t.Parallel()

	g := newTestGenerator(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	})

	_, err := g.Generate(context.Background(), "контекст", "вопрос")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=404")
}
