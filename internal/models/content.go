package models

import "time"

type BlogPost struct {
	ID          int64     `json:"id"`
	Slug        string    `json:"slug"`
	Title       string    `json:"title"`
	Excerpt     string    `json:"excerpt"`
	Content     string    `json:"content"`
	Author      string    `json:"author"`
	CoverImage  string    `json:"coverImage,omitempty"`
	IsFeatured  bool      `json:"isFeatured"`
	PublishedAt time.Time `json:"publishedAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

type BlogComment struct {
	ID          int64     `json:"id"`
	PostID      int64     `json:"postId"`
	AuthorName  string    `json:"authorName"`
	AuthorEmail string    `json:"authorEmail,omitempty"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
}

type ForumCategory struct {
	ID          int64     `json:"id"`
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

type ForumThread struct {
	ID          int64      `json:"id"`
	CategoryID  int64      `json:"categoryId"`
	Slug        string     `json:"slug"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	AuthorName  string     `json:"authorName"`
	IsPinned    bool       `json:"isPinned"`
	IsLocked    bool       `json:"isLocked"`
	ReplyCount  int        `json:"replyCount"`
	LastReplyAt *time.Time `json:"lastReplyAt"`
	CreatedAt   time.Time  `json:"createdAt"`
}

type ForumReply struct {
	ID         int64     `json:"id"`
	ThreadID   int64     `json:"threadId"`
	AuthorName string    `json:"authorName"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Subscriber is a newsletter sign-up. Unsubscribing flips IsActive rather
// than deleting the row.
type Subscriber struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	SubscribedAt time.Time `json:"subscribedAt"`
	IsActive     bool      `json:"isActive"`
}
