package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/RichardoC/forumtech/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrNotFound = errors.New("not found")
	ErrLocked   = errors.New("thread is locked")
)

const schema = `
CREATE TABLE IF NOT EXISTS blog_posts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    slug TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL,
    excerpt TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL,
    author TEXT NOT NULL,
    cover_image TEXT NOT NULL DEFAULT '',
    is_featured BOOLEAN NOT NULL DEFAULT 0,
    published_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS blog_comments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    post_id INTEGER NOT NULL,
    author_name TEXT NOT NULL,
    author_email TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (post_id) REFERENCES blog_posts(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_blog_comments_post ON blog_comments(post_id);

CREATE TABLE IF NOT EXISTS forum_categories (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    slug TEXT NOT NULL UNIQUE,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS forum_threads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    category_id INTEGER NOT NULL,
    slug TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL,
    content TEXT NOT NULL,
    author_name TEXT NOT NULL,
    is_pinned BOOLEAN NOT NULL DEFAULT 0,
    is_locked BOOLEAN NOT NULL DEFAULT 0,
    reply_count INTEGER NOT NULL DEFAULT 0,
    last_reply_at TIMESTAMP,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (category_id) REFERENCES forum_categories(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_forum_threads_category ON forum_threads(category_id);

CREATE TABLE IF NOT EXISTS forum_replies (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    thread_id INTEGER NOT NULL,
    author_name TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (thread_id) REFERENCES forum_threads(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_forum_replies_thread ON forum_replies(thread_id);

CREATE TABLE IF NOT EXISTS newsletter_subscribers (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    email TEXT NOT NULL UNIQUE,
    subscribed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    is_active BOOLEAN NOT NULL DEFAULT 1
);`

type Database struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and applies the schema.
func New(dbPath string) (*Database, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", dbPath, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db at %s: %w", dbPath, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Database{db: db}, nil
}

func (db *Database) Close() error {
	return db.db.Close()
}

// Ping is used by the health endpoint.
func (db *Database) Ping() error {
	return db.db.Ping()
}

type scanner interface {
	Scan(dest ...any) error
}

const postColumns = `id, slug, title, excerpt, content, author, cover_image, is_featured, published_at, created_at`

func scanPost(s scanner) (models.BlogPost, error) {
	var p models.BlogPost
	err := s.Scan(&p.ID, &p.Slug, &p.Title, &p.Excerpt, &p.Content, &p.Author,
		&p.CoverImage, &p.IsFeatured, &p.PublishedAt, &p.CreatedAt)
	return p, err
}

func (db *Database) CreatePost(p *models.BlogPost) error {
	query := `
        INSERT INTO blog_posts (slug, title, excerpt, content, author, cover_image, is_featured)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        RETURNING id, published_at, created_at`

	return db.db.QueryRow(query, p.Slug, p.Title, p.Excerpt, p.Content, p.Author, p.CoverImage, p.IsFeatured).
		Scan(&p.ID, &p.PublishedAt, &p.CreatedAt)
}

// ListPosts returns posts newest first.
func (db *Database) ListPosts(featuredOnly bool) ([]models.BlogPost, error) {
	query := `SELECT ` + postColumns + ` FROM blog_posts`
	if featuredOnly {
		query += ` WHERE is_featured = 1`
	}
	query += ` ORDER BY published_at DESC, id DESC`

	rows, err := db.db.Query(query)
	if err != nil {
		return []models.BlogPost{}, err
	}
	defer rows.Close()

	posts := make([]models.BlogPost, 0)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return []models.BlogPost{}, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

func (db *Database) GetPostBySlug(slug string) (*models.BlogPost, error) {
	row := db.db.QueryRow(`SELECT `+postColumns+` FROM blog_posts WHERE slug = ? LIMIT 1`, slug)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListComments returns the comments of a post newest first.
func (db *Database) ListComments(postID int64) ([]models.BlogComment, error) {
	rows, err := db.db.Query(`
        SELECT id, post_id, author_name, author_email, content, created_at
        FROM blog_comments
        WHERE post_id = ?
        ORDER BY created_at DESC, id DESC`, postID)
	if err != nil {
		return []models.BlogComment{}, err
	}
	defer rows.Close()

	comments := make([]models.BlogComment, 0)
	for rows.Next() {
		var c models.BlogComment
		if err := rows.Scan(&c.ID, &c.PostID, &c.AuthorName, &c.AuthorEmail, &c.Content, &c.CreatedAt); err != nil {
			return []models.BlogComment{}, err
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func (db *Database) AddComment(c *models.BlogComment) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRow(`SELECT 1 FROM blog_posts WHERE id = ?`, c.PostID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	err = tx.QueryRow(`
        INSERT INTO blog_comments (post_id, author_name, author_email, content)
        VALUES (?, ?, ?, ?)
        RETURNING id, created_at`, c.PostID, c.AuthorName, c.AuthorEmail, c.Content).
		Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (db *Database) CreateCategory(c *models.ForumCategory) error {
	return db.db.QueryRow(`
        INSERT INTO forum_categories (slug, name, description)
        VALUES (?, ?, ?)
        RETURNING id, created_at`, c.Slug, c.Name, c.Description).
		Scan(&c.ID, &c.CreatedAt)
}

func (db *Database) ListCategories() ([]models.ForumCategory, error) {
	rows, err := db.db.Query(`SELECT id, slug, name, description, created_at FROM forum_categories ORDER BY id`)
	if err != nil {
		return []models.ForumCategory{}, err
	}
	defer rows.Close()

	categories := make([]models.ForumCategory, 0)
	for rows.Next() {
		var c models.ForumCategory
		if err := rows.Scan(&c.ID, &c.Slug, &c.Name, &c.Description, &c.CreatedAt); err != nil {
			return []models.ForumCategory{}, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (db *Database) GetCategoryBySlug(slug string) (*models.ForumCategory, error) {
	var c models.ForumCategory
	err := db.db.QueryRow(`SELECT id, slug, name, description, created_at FROM forum_categories WHERE slug = ? LIMIT 1`, slug).
		Scan(&c.ID, &c.Slug, &c.Name, &c.Description, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

const threadColumns = `id, category_id, slug, title, content, author_name, is_pinned, is_locked, reply_count, last_reply_at, created_at`

func scanThread(s scanner) (models.ForumThread, error) {
	var t models.ForumThread
	var lastReply sql.NullTime
	err := s.Scan(&t.ID, &t.CategoryID, &t.Slug, &t.Title, &t.Content, &t.AuthorName,
		&t.IsPinned, &t.IsLocked, &t.ReplyCount, &lastReply, &t.CreatedAt)
	if lastReply.Valid {
		at := lastReply.Time
		t.LastReplyAt = &at
	}
	return t, err
}

func (db *Database) CreateThread(t *models.ForumThread) error {
	return db.db.QueryRow(`
        INSERT INTO forum_threads (category_id, slug, title, content, author_name, is_pinned, is_locked)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        RETURNING id, created_at`, t.CategoryID, t.Slug, t.Title, t.Content, t.AuthorName, t.IsPinned, t.IsLocked).
		Scan(&t.ID, &t.CreatedAt)
}

// ListThreads returns the threads of a category, most recently active first.
// Threads without replies sort after those with replies. limit <= 0 means no
// limit.
func (db *Database) ListThreads(categoryID int64, limit int) ([]models.ForumThread, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.db.Query(`SELECT `+threadColumns+`
        FROM forum_threads
        WHERE category_id = ?
        ORDER BY last_reply_at IS NULL, last_reply_at DESC, created_at DESC, id DESC
        LIMIT ?`, categoryID, limit)
	if err != nil {
		return []models.ForumThread{}, err
	}
	defer rows.Close()

	threads := make([]models.ForumThread, 0)
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return []models.ForumThread{}, err
		}
		threads = append(threads, t)
	}
	return threads, rows.Err()
}

func (db *Database) GetThreadBySlug(slug string) (*models.ForumThread, error) {
	t, err := scanThread(db.db.QueryRow(`SELECT `+threadColumns+` FROM forum_threads WHERE slug = ? LIMIT 1`, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListReplies returns the replies of a thread in posting order.
func (db *Database) ListReplies(threadID int64) ([]models.ForumReply, error) {
	rows, err := db.db.Query(`
        SELECT id, thread_id, author_name, content, created_at
        FROM forum_replies
        WHERE thread_id = ?
        ORDER BY created_at ASC, id ASC`, threadID)
	if err != nil {
		return []models.ForumReply{}, err
	}
	defer rows.Close()

	replies := make([]models.ForumReply, 0)
	for rows.Next() {
		var r models.ForumReply
		if err := rows.Scan(&r.ID, &r.ThreadID, &r.AuthorName, &r.Content, &r.CreatedAt); err != nil {
			return []models.ForumReply{}, err
		}
		replies = append(replies, r)
	}
	return replies, rows.Err()
}

// AddReply stores a reply and updates the thread counters in one
// transaction.
func (db *Database) AddReply(r *models.ForumReply) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var locked bool
	if err := tx.QueryRow(`SELECT is_locked FROM forum_threads WHERE id = ?`, r.ThreadID).Scan(&locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if locked {
		return ErrLocked
	}

	err = tx.QueryRow(`
        INSERT INTO forum_replies (thread_id, author_name, content)
        VALUES (?, ?, ?)
        RETURNING id, created_at`, r.ThreadID, r.AuthorName, r.Content).
		Scan(&r.ID, &r.CreatedAt)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(`
        UPDATE forum_threads
        SET reply_count = reply_count + 1, last_reply_at = ?
        WHERE id = ?`, r.CreatedAt, r.ThreadID); err != nil {
		return err
	}

	return tx.Commit()
}

// Subscribe adds email to the newsletter list. An existing subscriber is
// reactivated and created is false.
func (db *Database) Subscribe(email string) (sub *models.Subscriber, created bool, err error) {
	tx, err := db.db.Begin()
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	s := &models.Subscriber{Email: email}
	err = tx.QueryRow(`SELECT id, subscribed_at FROM newsletter_subscribers WHERE email = ?`, email).
		Scan(&s.ID, &s.SubscribedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		err = tx.QueryRow(`
            INSERT INTO newsletter_subscribers (email)
            VALUES (?)
            RETURNING id, subscribed_at`, email).
			Scan(&s.ID, &s.SubscribedAt)
		if err != nil {
			return nil, false, err
		}
		created = true
	case err != nil:
		return nil, false, err
	default:
		if _, err := tx.Exec(`UPDATE newsletter_subscribers SET is_active = 1 WHERE id = ?`, s.ID); err != nil {
			return nil, false, err
		}
	}
	s.IsActive = true

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return s, created, nil
}
