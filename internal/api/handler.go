package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/RichardoC/forumtech/internal/db"
	"github.com/RichardoC/forumtech/internal/llm"
	"github.com/RichardoC/forumtech/internal/models"
	"go.uber.org/zap"
)

// categoryPreviewThreads is how many threads the forum index shows per
// category.
const categoryPreviewThreads = 5

type Handler struct {
	db          *db.Database
	llm         *llm.Service
	logger      *zap.Logger
	maxDuration time.Duration
}

func NewHandler(database *db.Database, llmService *llm.Service, logger *zap.Logger, maxDuration time.Duration) *Handler {
	return &Handler{
		db:          database,
		llm:         llmService,
		logger:      logger,
		maxDuration: maxDuration,
	}
}

// Routes wires every endpoint behind the common middleware. limiter only
// applies to the chat endpoint and may be nil.
func (h *Handler) Routes(limiter *RateLimiter) http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/api/chat", RateLimitMiddleware(limiter, h.logger)(http.HandlerFunc(h.HandleChat)))

	mux.HandleFunc("GET /api/blog/posts", h.ListPosts)
	mux.HandleFunc("GET /api/blog/posts/{slug}", h.GetPost)
	mux.HandleFunc("POST /api/blog/comments", h.CreateComment)

	mux.HandleFunc("GET /api/forum/categories", h.ListCategories)
	mux.HandleFunc("GET /api/forum/categories/{slug}", h.GetCategory)
	mux.HandleFunc("GET /api/forum/threads/{slug}", h.GetThread)
	mux.HandleFunc("POST /api/forum/replies", h.CreateReply)

	mux.HandleFunc("POST /api/newsletter", h.Subscribe)

	mux.HandleFunc("GET /healthz", h.Health)

	return RecoveryMiddleware(h.logger)(LoggingMiddleware(h.logger)(mux))
}

type PostResponse struct {
	Post     *models.BlogPost     `json:"post"`
	Comments []models.BlogComment `json:"comments"`
}

type CategoryWithThreads struct {
	models.ForumCategory
	Threads []models.ForumThread `json:"threads"`
}

type ThreadResponse struct {
	Thread  *models.ForumThread `json:"thread"`
	Replies []models.ForumReply `json:"replies"`
}

type CreateCommentRequest struct {
	PostID      int64  `json:"postId"`
	AuthorName  string `json:"authorName"`
	AuthorEmail string `json:"authorEmail"`
	Content     string `json:"content"`
}

type CreateReplyRequest struct {
	ThreadID   int64  `json:"threadId"`
	AuthorName string `json:"authorName"`
	Content    string `json:"content"`
}

type SubscribeRequest struct {
	Email string `json:"email"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg,
		zap.Error(err),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path))
	http.Error(w, "Erreur interne du serveur", http.StatusInternalServerError)
}

func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	featured := r.URL.Query().Get("featured")
	posts, err := h.db.ListPosts(featured == "1" || featured == "true")
	if err != nil {
		h.internalError(w, r, "Failed to list posts", err)
		return
	}
	h.writeJSON(w, http.StatusOK, posts)
}

func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.db.GetPostBySlug(r.PathValue("slug"))
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "Article non trouvé", http.StatusNotFound)
		return
	}
	if err != nil {
		h.internalError(w, r, "Failed to get post", err)
		return
	}

	comments, err := h.db.ListComments(post.ID)
	if err != nil {
		h.internalError(w, r, "Failed to list comments", err)
		return
	}
	h.writeJSON(w, http.StatusOK, PostResponse{Post: post, Comments: comments})
}

func (h *Handler) CreateComment(w http.ResponseWriter, r *http.Request) {
	var req CreateCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Corps de requête invalide", http.StatusBadRequest)
		return
	}
	req.AuthorName = strings.TrimSpace(req.AuthorName)
	req.Content = strings.TrimSpace(req.Content)
	if req.PostID <= 0 || req.AuthorName == "" || req.Content == "" {
		http.Error(w, "Nom et commentaire requis", http.StatusBadRequest)
		return
	}

	comment := &models.BlogComment{
		PostID:      req.PostID,
		AuthorName:  req.AuthorName,
		AuthorEmail: strings.TrimSpace(req.AuthorEmail),
		Content:     req.Content,
	}
	err := h.db.AddComment(comment)
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "Article non trouvé", http.StatusNotFound)
		return
	}
	if err != nil {
		h.internalError(w, r, "Failed to save comment", err)
		return
	}
	h.writeJSON(w, http.StatusCreated, comment)
}

func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.db.ListCategories()
	if err != nil {
		h.internalError(w, r, "Failed to list categories", err)
		return
	}

	out := make([]CategoryWithThreads, 0, len(categories))
	for _, c := range categories {
		threads, err := h.db.ListThreads(c.ID, categoryPreviewThreads)
		if err != nil {
			h.internalError(w, r, "Failed to list threads", err)
			return
		}
		out = append(out, CategoryWithThreads{ForumCategory: c, Threads: threads})
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetCategory(w http.ResponseWriter, r *http.Request) {
	category, err := h.db.GetCategoryBySlug(r.PathValue("slug"))
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "Catégorie non trouvée", http.StatusNotFound)
		return
	}
	if err != nil {
		h.internalError(w, r, "Failed to get category", err)
		return
	}

	threads, err := h.db.ListThreads(category.ID, 0)
	if err != nil {
		h.internalError(w, r, "Failed to list threads", err)
		return
	}
	h.writeJSON(w, http.StatusOK, CategoryWithThreads{ForumCategory: *category, Threads: threads})
}

func (h *Handler) GetThread(w http.ResponseWriter, r *http.Request) {
	thread, err := h.db.GetThreadBySlug(r.PathValue("slug"))
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "Discussion non trouvée", http.StatusNotFound)
		return
	}
	if err != nil {
		h.internalError(w, r, "Failed to get thread", err)
		return
	}

	replies, err := h.db.ListReplies(thread.ID)
	if err != nil {
		h.internalError(w, r, "Failed to list replies", err)
		return
	}
	h.writeJSON(w, http.StatusOK, ThreadResponse{Thread: thread, Replies: replies})
}

func (h *Handler) CreateReply(w http.ResponseWriter, r *http.Request) {
	var req CreateReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Corps de requête invalide", http.StatusBadRequest)
		return
	}
	req.AuthorName = strings.TrimSpace(req.AuthorName)
	req.Content = strings.TrimSpace(req.Content)
	if req.ThreadID <= 0 || req.AuthorName == "" || req.Content == "" {
		http.Error(w, "Nom et réponse requis", http.StatusBadRequest)
		return
	}

	reply := &models.ForumReply{ThreadID: req.ThreadID, AuthorName: req.AuthorName, Content: req.Content}
	switch err := h.db.AddReply(reply); {
	case errors.Is(err, db.ErrNotFound):
		http.Error(w, "Discussion non trouvée", http.StatusNotFound)
	case errors.Is(err, db.ErrLocked):
		http.Error(w, "Cette discussion est verrouillée", http.StatusForbidden)
	case err != nil:
		h.internalError(w, r, "Failed to save reply", err)
	default:
		h.writeJSON(w, http.StatusCreated, reply)
	}
}

func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Corps de requête invalide", http.StatusBadRequest)
		return
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil || addr.Name != "" {
		http.Error(w, "Adresse e-mail invalide", http.StatusBadRequest)
		return
	}

	sub, created, err := h.db.Subscribe(strings.ToLower(addr.Address))
	if err != nil {
		h.internalError(w, r, "Failed to subscribe", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.writeJSON(w, status, sub)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(); err != nil {
		h.logger.Error("Health check failed", zap.Error(err))
		http.Error(w, "Base de données indisponible", http.StatusServiceUnavailable)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
