package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/RichardoC/forumtech/internal/db"
	"github.com/RichardoC/forumtech/internal/llm/llmtest"
	"github.com/RichardoC/forumtech/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func seedContent(t *testing.T, database *db.Database) (*models.BlogPost, *models.ForumThread, *models.ForumThread) {
	t.Helper()
	post := &models.BlogPost{Slug: "concurrence-go", Title: "La concurrence en Go", Content: "...", Author: "Alice", IsFeatured: true}
	require.NoError(t, database.CreatePost(post))
	require.NoError(t, database.CreatePost(&models.BlogPost{Slug: "css-grid", Title: "CSS Grid", Content: "...", Author: "Bob"}))

	cat := &models.ForumCategory{Slug: "backend", Name: "Backend"}
	require.NoError(t, database.CreateCategory(cat))
	open := &models.ForumThread{CategoryID: cat.ID, Slug: "channels", Title: "Channels", Content: "?", AuthorName: "Léa"}
	locked := &models.ForumThread{CategoryID: cat.ID, Slug: "annonce", Title: "Annonce", Content: "!", AuthorName: "Modo", IsLocked: true, IsPinned: true}
	require.NoError(t, database.CreateThread(open))
	require.NoError(t, database.CreateThread(locked))
	return post, open, locked
}

func TestBlogEndpoints(t *testing.T) {
	h, database := newTestHandler(t, &llmtest.FakeModel{})
	post, _, _ := seedContent(t, database)
	routes := h.Routes(nil)

	rec := do(t, routes, http.MethodGet, "/api/blog/posts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.BlogPost](t, rec), 2)

	rec = do(t, routes, http.MethodGet, "/api/blog/posts?featured=1", "")
	featured := decode[[]models.BlogPost](t, rec)
	require.Len(t, featured, 1)
	assert.Equal(t, "concurrence-go", featured[0].Slug)

	rec = do(t, routes, http.MethodPost, "/api/blog/comments",
		`{"postId":`+jsonInt(post.ID)+`,"authorName":" Chloé ","content":"Super article !"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	comment := decode[models.BlogComment](t, rec)
	assert.Equal(t, "Chloé", comment.AuthorName)

	rec = do(t, routes, http.MethodGet, "/api/blog/posts/concurrence-go", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[PostResponse](t, rec)
	assert.Equal(t, post.ID, got.Post.ID)
	require.Len(t, got.Comments, 1)
	assert.Equal(t, "Super article !", got.Comments[0].Content)

	assert.Equal(t, http.StatusNotFound, do(t, routes, http.MethodGet, "/api/blog/posts/absent", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, routes, http.MethodPost, "/api/blog/comments", `{"postId":1,"authorName":"","content":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, routes, http.MethodPost, "/api/blog/comments", `{`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, routes, http.MethodPost, "/api/blog/comments", `{"postId":999,"authorName":"a","content":"x"}`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, routes, http.MethodDelete, "/api/blog/posts", "").Code)
}

func TestForumEndpoints(t *testing.T) {
	h, database := newTestHandler(t, &llmtest.FakeModel{})
	_, open, locked := seedContent(t, database)
	routes := h.Routes(nil)

	rec := do(t, routes, http.MethodPost, "/api/forum/replies",
		`{"threadId":`+jsonInt(open.ID)+`,"authorName":"Paul","content":"Regarde select."}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, routes, http.MethodGet, "/api/forum/categories", "")
	require.Equal(t, http.StatusOK, rec.Code)
	categories := decode[[]CategoryWithThreads](t, rec)
	require.Len(t, categories, 1)
	require.Len(t, categories[0].Threads, 2)
	assert.Equal(t, "channels", categories[0].Threads[0].Slug)

	rec = do(t, routes, http.MethodGet, "/api/forum/categories/backend", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Backend", decode[CategoryWithThreads](t, rec).Name)

	rec = do(t, routes, http.MethodGet, "/api/forum/threads/channels", "")
	require.Equal(t, http.StatusOK, rec.Code)
	thread := decode[ThreadResponse](t, rec)
	assert.Equal(t, 1, thread.Thread.ReplyCount)
	require.Len(t, thread.Replies, 1)
	assert.Equal(t, "Paul", thread.Replies[0].AuthorName)

	assert.Equal(t, http.StatusForbidden, do(t, routes, http.MethodPost, "/api/forum/replies",
		`{"threadId":`+jsonInt(locked.ID)+`,"authorName":"Paul","content":"x"}`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, routes, http.MethodPost, "/api/forum/replies",
		`{"threadId":999,"authorName":"Paul","content":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, routes, http.MethodPost, "/api/forum/replies",
		`{"threadId":1,"authorName":"Paul","content":"   "}`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, routes, http.MethodGet, "/api/forum/threads/absent", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, routes, http.MethodGet, "/api/forum/categories/absent", "").Code)
}

func TestSubscribeEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, &llmtest.FakeModel{})
	routes := h.Routes(nil)

	rec := do(t, routes, http.MethodPost, "/api/newsletter", `{"email":"Lecteur@Example.fr"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	sub := decode[models.Subscriber](t, rec)
	assert.Equal(t, "lecteur@example.fr", sub.Email)
	assert.True(t, sub.IsActive)

	assert.Equal(t, http.StatusOK, do(t, routes, http.MethodPost, "/api/newsletter", `{"email":"lecteur@example.fr"}`).Code)

	for _, body := range []string{`{"email":"pas-un-email"}`, `{"email":"Jean <jean@example.fr>"}`, `{"email":""}`, `nope`} {
		assert.Equal(t, http.StatusBadRequest, do(t, routes, http.MethodPost, "/api/newsletter", body).Code, body)
	}
}

func TestHealth(t *testing.T) {
	h, database := newTestHandler(t, &llmtest.FakeModel{})
	routes := h.Routes(nil)

	assert.Equal(t, http.StatusOK, do(t, routes, http.MethodGet, "/healthz", "").Code)

	require.NoError(t, database.Close())
	assert.Equal(t, http.StatusServiceUnavailable, do(t, routes, http.MethodGet, "/healthz", "").Code)
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
