package api

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RichardoC/forumtech/internal/db"
	apierrors "github.com/RichardoC/forumtech/internal/errors"
	"github.com/RichardoC/forumtech/internal/llm"
	"github.com/RichardoC/forumtech/internal/llm/llmtest"
	"github.com/RichardoC/forumtech/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
)

func newTestHandler(t *testing.T, model llms.Model) (*Handler, *db.Database) {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	return NewHandler(database, llm.NewWithModel(model, zap.NewNop()), zap.NewNop(), 30*time.Second), database
}

func postChat(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func readParts(t *testing.T, body io.Reader) []stream.Part {
	t.Helper()
	r := stream.NewReader(body)
	var parts []stream.Part
	for {
		p, err := r.Next()
		if errors.Is(err, io.EOF) {
			return parts
		}
		require.NoError(t, err)
		parts = append(parts, p)
	}
}

func TestHandleChat_StreamsWithSystemPrepended(t *testing.T) {
	fake := &llmtest.FakeModel{Chunks: []string{"Bon", "jour", "!"}}
	h, _ := newTestHandler(t, fake)

	rec := postChat(t, h.Routes(nil), `{"messages":[
		{"role":"user","content":"Salut"},
		{"role":"assistant","content":"Bonjour, que puis-je faire ?"},
		{"role":"user","content":"Quelle est la capitale de la France ?"}
	]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v1", rec.Header().Get("X-Vercel-AI-Data-Stream"))
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	parts := readParts(t, rec.Body)
	require.Len(t, parts, 4)
	var text strings.Builder
	for _, p := range parts[:3] {
		assert.Equal(t, stream.PartText, p.Type)
		text.WriteString(p.Text)
	}
	assert.Equal(t, "Bonjour!", text.String())
	assert.Equal(t, stream.Part{Type: stream.PartFinish, FinishReason: stream.FinishStop}, parts[3])

	sent := fake.Messages()
	require.Len(t, sent, 4)
	role, content := llmtest.Text(sent[0])
	assert.Equal(t, llms.ChatMessageTypeSystem, role)
	assert.Equal(t, llm.SystemPrompt, content)

	wantRoles := []llms.ChatMessageType{llms.ChatMessageTypeHuman, llms.ChatMessageTypeAI, llms.ChatMessageTypeHuman}
	wantContent := []string{"Salut", "Bonjour, que puis-je faire ?", "Quelle est la capitale de la France ?"}
	for i := range wantRoles {
		role, content := llmtest.Text(sent[i+1])
		assert.Equal(t, wantRoles[i], role)
		assert.Equal(t, wantContent[i], content)
	}

	opts := fake.Options()
	assert.Equal(t, llm.Temperature, opts.Temperature)
	assert.Equal(t, llm.MaxTokens, opts.MaxTokens)
}

func TestHandleChat_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ``},
		{"not json", `messages=salut`},
		{"missing field", `{"prompt":"salut"}`},
		{"string field", `{"messages":"salut"}`},
		{"object field", `{"messages":{"role":"user"}}`},
		{"null field", `{"messages":null}`},
		{"array body", `[{"role":"user","content":"salut"}]`},
		{"unknown role", `{"messages":[{"role":"tool","content":"x"}]}`},
		{"missing role", `{"messages":[{"content":"x"}]}`},
		{"element not object", `{"messages":["salut"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &llmtest.FakeModel{Chunks: []string{"never"}}
			h, _ := newTestHandler(t, fake)

			rec := postChat(t, h.Routes(nil), tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, apierrors.MsgInvalidInput, strings.TrimSpace(rec.Body.String()))
			assert.Zero(t, fake.Calls(), "provider must not be called")
		})
	}
}

func TestHandleChat_EmptyArrayIsForwarded(t *testing.T) {
	fake := &llmtest.FakeModel{Chunks: []string{"Bonjour"}}
	h, _ := newTestHandler(t, fake)

	rec := postChat(t, h.Routes(nil), `{"messages":[]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, fake.Calls())
	assert.Len(t, fake.Messages(), 1)
}

func TestHandleChat_ProviderErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"rate limit", errors.New("openai: rate limit exceeded"), http.StatusTooManyRequests, apierrors.MsgRateLimited},
		{"api key", errors.New("missing the OpenAI API key"), http.StatusInternalServerError, apierrors.MsgConfiguration},
		{"other", errors.New("model overloaded"), http.StatusInternalServerError, "Erreur: model overloaded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(t, &llmtest.FakeModel{Err: tt.err})

			rec := postChat(t, h.Routes(nil), `{"messages":[{"role":"user","content":"Salut"}]}`)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.body, strings.TrimSpace(rec.Body.String()))
		})
	}
}

func TestHandleChat_UnavailableProvider(t *testing.T) {
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer database.Close()

	svc := llm.Unavailable(errors.New("missing the OpenAI API key, set it in the OPENAI_API_KEY environment variable"), zap.NewNop())
	h := NewHandler(database, svc, zap.NewNop(), time.Second)

	rec := postChat(t, h.Routes(nil), `{"messages":[{"role":"user","content":"Salut"}]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, apierrors.MsgConfiguration, strings.TrimSpace(rec.Body.String()))
}

func TestHandleChat_ErrorAfterStreamStarted(t *testing.T) {
	fake := &llmtest.FakeModel{
		Chunks:    []string{"Par", "is", "ignored"},
		FailAfter: 2,
		Err:       errors.New("connection reset by peer"),
	}
	h, _ := newTestHandler(t, fake)

	rec := postChat(t, h.Routes(nil), `{"messages":[{"role":"user","content":"Capitale ?"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	parts := readParts(t, rec.Body)
	require.Len(t, parts, 3)
	assert.Equal(t, "Par", parts[0].Text)
	assert.Equal(t, "is", parts[1].Text)
	assert.Equal(t, stream.Part{Type: stream.PartError, Text: "Erreur: connection reset by peer"}, parts[2])
}

func TestHandleChat_NonStreamingProvider(t *testing.T) {
	h, _ := newTestHandler(t, &llmtest.FakeModel{Chunks: []string{"Paris", "."}, NoStream: true})

	rec := postChat(t, h.Routes(nil), `{"messages":[{"role":"user","content":"Capitale ?"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	parts := readParts(t, rec.Body)
	require.Len(t, parts, 2)
	assert.Equal(t, "Paris.", parts[0].Text)
	assert.Equal(t, stream.PartFinish, parts[1].Type)
}

func TestHandleChat_DurationCeiling(t *testing.T) {
	fake := &llmtest.FakeModel{Chunks: []string{"lent"}, Delay: time.Second}
	h, _ := newTestHandler(t, fake)
	h.maxDuration = 20 * time.Millisecond

	start := time.Now()
	rec := postChat(t, h.Routes(nil), `{"messages":[{"role":"user","content":"?"}]}`)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "deadline exceeded")
}

func TestHandleChat_MethodNotAllowed(t *testing.T) {
	fake := &llmtest.FakeModel{}
	h, _ := newTestHandler(t, fake)

	rec := httptest.NewRecorder()
	h.Routes(nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/chat", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Zero(t, fake.Calls())
}

func TestHandleChat_LocalRateLimit(t *testing.T) {
	fake := &llmtest.FakeModel{Chunks: []string{"ok"}}
	h, _ := newTestHandler(t, fake)
	routes := h.Routes(NewRateLimiter(1, 1))

	body := `{"messages":[{"role":"user","content":"Salut"}]}`
	assert.Equal(t, http.StatusOK, postChat(t, routes, body).Code)

	rec := postChat(t, routes, body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, apierrors.MsgRateLimited, strings.TrimSpace(rec.Body.String()))
	assert.Equal(t, 1, fake.Calls())
}
